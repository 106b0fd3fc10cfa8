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

// Package intent parses and validates declared tool-call intents from
// assistant text, per spec.md §4.4.
package intent

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/policy"
)

// blockPattern matches "<intent>...</intent>" blocks in assistant text.
var blockPattern = regexp.MustCompile(`(?s)<intent>(.*?)</intent>`)

// Declaration is a declared purpose attached to a tool call, parsed from
// inline "<intent>{...}</intent>" markup (spec.md §3).
type Declaration struct {
	ToolName        string      `json:"toolName"`
	Purpose         string      `json:"purpose"`
	ExpectedOutcome string      `json:"expectedOutcome"`
	RiskLevel       policy.Risk `json:"riskLevel"`
	Timestamp       time.Time   `json:"timestamp"`
}

type rawDeclaration struct {
	ToolName        string `json:"toolName"`
	Purpose         string `json:"purpose"`
	ExpectedOutcome string `json:"expectedOutcome"`
	RiskLevel       string `json:"riskLevel"`
}

func validRisk(r string) bool {
	switch policy.Risk(r) {
	case policy.RiskRead, policy.RiskWrite, policy.RiskExec, policy.RiskDestructive:
		return true
	}
	return false
}

// Parse scans text for "<intent>...</intent>" blocks. Each body is decoded
// as JSON; only payloads with string toolName, purpose, expectedOutcome,
// and a recognized riskLevel are accepted. Malformed blocks are silently
// skipped. Timestamp defaults to now when the assistant didn't provide one
// (the wire schema has no timestamp field, so this is always "now").
func Parse(text string) []Declaration {
	var out []Declaration
	now := time.Now()

	for _, m := range blockPattern.FindAllStringSubmatch(text, -1) {
		var raw rawDeclaration
		if err := json.Unmarshal([]byte(m[1]), &raw); err != nil {
			continue
		}
		if raw.ToolName == "" || raw.Purpose == "" || raw.ExpectedOutcome == "" {
			continue
		}
		if !validRisk(raw.RiskLevel) {
			continue
		}
		out = append(out, Declaration{
			ToolName:        raw.ToolName,
			Purpose:         raw.Purpose,
			ExpectedOutcome: raw.ExpectedOutcome,
			RiskLevel:       policy.Risk(raw.RiskLevel),
			Timestamp:       now,
		})
	}
	return out
}

// ToolCall is the minimal shape Validate needs from an LLM tool-use block.
type ToolCall struct {
	ID   string
	Name string
}

// Result is the outcome of matching declared intents against tool calls.
type Result struct {
	// Matched pairs each tool call with the declaration that covers it, in
	// call order.
	Matched []MatchedCall

	// Unmatched holds tool calls with no corresponding intent declaration.
	Unmatched []ToolCall
}

// MatchedCall pairs a tool call with its declared intent.
type MatchedCall struct {
	Call   ToolCall
	Intent Declaration
}

// Valid reports whether every tool call found a matching declared intent.
func (r Result) Valid() bool {
	return len(r.Unmatched) == 0
}

// Validate builds a multiset of declarations keyed by toolName and consumes
// one per tool call, in order, per spec.md §4.4.
func Validate(declarations []Declaration, calls []ToolCall) Result {
	pool := make(map[string][]Declaration, len(declarations))
	for _, d := range declarations {
		pool[d.ToolName] = append(pool[d.ToolName], d)
	}

	var result Result
	for _, call := range calls {
		bucket := pool[call.Name]
		if len(bucket) == 0 {
			result.Unmatched = append(result.Unmatched, call)
			continue
		}
		result.Matched = append(result.Matched, MatchedCall{Call: call, Intent: bucket[0]})
		pool[call.Name] = bucket[1:]
	}
	return result
}
