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

// Package fallback implements the bounded retry planner from spec.md §4.6:
// after a tool call fails, ask a cheap model for an alternative invocation,
// up to maxRetries times.
package fallback

import (
	"context"
	"fmt"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/intent"
)

// FailedCall describes the call that failed.
type FailedCall struct {
	ToolName string
	Input    map[string]any
	Error    string
}

// Attempt records one fallback try.
type Attempt struct {
	Suggested *Suggestion
	Error     string
}

// Suggestion is what the cheap model proposes: a tool name+input. An empty
// ToolName (or a nil *Suggestion) means "give up".
type Suggestion struct {
	ToolName string
	Input    map[string]any
}

// Planner is the cheap-model contract the Fallback Planner drives. It
// mirrors the LLM Provider contract (spec.md §6) but is scoped to a single
// structured suggestion rather than a full chat turn.
type Planner interface {
	Suggest(ctx context.Context, decl *intent.Declaration, failed FailedCall, priorAttempts []Attempt) (*Suggestion, error)
}

// ToolExecutor executes a named tool, matching the Tool contract (spec.md
// §6): returns a string result, or an error.
type ToolExecutor func(ctx context.Context, toolName string, input map[string]any) (string, error)

// Resolution is the outcome of a fallback run.
type Resolution struct {
	Resolved bool
	Result   string
	Attempts []Attempt
	Summary  string
}

// Config bounds a fallback run.
type Config struct {
	MaxRetries int
	Planner    Planner
	Execute    ToolExecutor
	// KnownTools restricts which tool names the planner may suggest.
	KnownTools map[string]bool
}

// Run iterates up to cfg.MaxRetries times per spec.md §4.6: ask the planner
// for a suggestion given the intent, the failed call, and prior attempts
// (prompt assembly is the Planner's job), execute it if the tool is known,
// and stop on success, on a give-up suggestion, or once retries are
// exhausted.
func Run(ctx context.Context, cfg Config, decl *intent.Declaration, failed FailedCall) Resolution {
	var attempts []Attempt

	for i := 0; i < cfg.MaxRetries; i++ {
		suggestion, err := cfg.Planner.Suggest(ctx, decl, failed, attempts)
		if err != nil {
			attempts = append(attempts, Attempt{Error: err.Error()})
			continue
		}
		if suggestion == nil || suggestion.ToolName == "" {
			return Resolution{
				Resolved: false,
				Attempts: attempts,
				Summary:  "planner suggested no further alternative",
			}
		}
		if cfg.KnownTools != nil && !cfg.KnownTools[suggestion.ToolName] {
			attempts = append(attempts, Attempt{
				Suggested: suggestion,
				Error:     fmt.Sprintf("unknown tool %q suggested", suggestion.ToolName),
			})
			continue
		}

		result, execErr := cfg.Execute(ctx, suggestion.ToolName, suggestion.Input)
		if execErr != nil {
			attempts = append(attempts, Attempt{Suggested: suggestion, Error: execErr.Error()})
			continue
		}

		attempts = append(attempts, Attempt{Suggested: suggestion})
		return Resolution{
			Resolved: true,
			Result:   result,
			Attempts: attempts,
			Summary:  fmt.Sprintf("recovered via %s after %d attempt(s)", suggestion.ToolName, len(attempts)),
		}
	}

	return Resolution{
		Resolved: false,
		Attempts: attempts,
		Summary:  fmt.Sprintf("exhausted %d retries without recovery", cfg.MaxRetries),
	}
}
