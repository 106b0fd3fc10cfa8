// Package tokencount provides token counting for the Agent Turn Loop's
// optional token-aware history trimming. The Beholder Overseer does not use
// it; it sums the usage figures its caller reports. Grounded on Hector's
// pkg/utils/tokens.go.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	cacheMu       sync.RWMutex
	encodingCache = make(map[string]*tiktoken.Tiktoken)
)

// Counter counts tokens for a specific model's tokenizer, falling back to
// cl100k_base when the model has no registered encoding.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// ForModel returns a cached Counter for model.
func ForModel(model string) (*Counter, error) {
	cacheMu.RLock()
	enc, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: enc, model: model}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("tokencount: no encoding available: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = enc
	cacheMu.Unlock()

	return &Counter{encoding: enc, model: model}, nil
}

// Count returns the token count for text. If no encoder could be built at
// all (ForModel errored, or the caller has no Counter), callers should fall
// back to EstimateFromLength.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return EstimateFromLength(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateFromLength is the heuristic fallback (~4 bytes/token) used when no
// tiktoken encoding could be resolved for a model.
func EstimateFromLength(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
