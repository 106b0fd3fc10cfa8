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

// Package tool defines the Tool Definition and Tool Registry from
// spec.md §3: a named, pure capability with a JSON Schema, and a
// name-to-pack registry resolved into a flat deduplicated list at agent
// construction.
package tool

import (
	"context"
	"strings"
)

// Definition is the Tool Definition from spec.md §3: {name, description,
// input schema, run(input)->text|failure}. Identity is by Name.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Run         func(ctx context.Context, input map[string]any) (string, error)
}

// IsErrorResult reports whether a tool's string result signals a tool-level
// failure without throwing: "a result string starting with the token
// 'Error'" (spec.md §4.7 step 8, §6).
func IsErrorResult(result string) bool {
	return strings.HasPrefix(strings.TrimSpace(result), "Error")
}

// Pack is a named, ordered sequence of tool definitions.
type Pack struct {
	Name  string
	Tools []Definition
}

// Registry maps pack name to its tool definitions (spec.md §3).
type Registry struct {
	packs map[string][]Definition
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{packs: map[string][]Definition{}}
}

// Register adds or replaces a named pack.
func (r *Registry) Register(packName string, tools []Definition) {
	if _, exists := r.packs[packName]; !exists {
		r.order = append(r.order, packName)
	}
	r.packs[packName] = tools
}

// PackNames returns every registered pack name, in registration order.
func (r *Registry) PackNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve flattens the named packs in order; on a duplicate tool name, the
// last registration wins (spec.md §3).
func (r *Registry) Resolve(packNames []string) []Definition {
	byName := map[string]Definition{}
	var order []string

	for _, pack := range packNames {
		for _, t := range r.packs[pack] {
			if _, exists := byName[t.Name]; !exists {
				order = append(order, t.Name)
			}
			byName[t.Name] = t
		}
	}

	out := make([]Definition, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out
}

// Dedupe flattens an arbitrary ordered list of definitions, keeping the
// last occurrence of each name but the first-seen position, matching the
// dedup-by-name rule the Agent Turn Loop applies when merging explicit
// tools, resolved packs, and defaults (spec.md §4.7).
func Dedupe(defs []Definition) []Definition {
	byName := map[string]Definition{}
	var order []string
	for _, d := range defs {
		if _, exists := byName[d.Name]; !exists {
			order = append(order, d.Name)
		}
		byName[d.Name] = d
	}
	out := make([]Definition, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out
}
