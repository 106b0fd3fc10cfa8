// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/llm"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tokencount"
)

// trimHistory drops the oldest messages after the first (the original goal)
// once the conversation's token count exceeds budget, so a long-running turn
// loop degrades gracefully instead of hitting the provider's context limit
// outright. budget <= 0 disables trimming. A nil counter counts with
// tokencount's length heuristic. Only plain text and text blocks are
// counted (see messageText).
func trimHistory(history []llm.Message, counter *tokencount.Counter, budget int) []llm.Message {
	if budget <= 0 || len(history) <= 2 {
		return history
	}

	total := 0
	for _, m := range history {
		total += counter.Count(messageText(m))
	}
	if total <= budget {
		return history
	}

	// Keep the first message (the goal) and drop from the oldest retained
	// message onward until the budget is met or only the goal and the most
	// recent message remain.
	kept := append([]llm.Message(nil), history...)
	for total > budget && len(kept) > 2 {
		dropped := kept[1]
		kept = append(kept[:1], kept[2:]...)
		total -= counter.Count(messageText(dropped))
	}
	return kept
}

func messageText(m llm.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return llm.TextOf(m.Blocks)
}
