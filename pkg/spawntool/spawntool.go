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

// Package spawntool implements the Spawn-Agent Tool from spec.md §4.13: a
// tool, exposed inside a tool pack, that recursively constructs and runs a
// child Agent Turn Loop under depth and policy constraints.
package spawntool

import (
	"context"
	"fmt"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/agent"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/policy"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/session"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tool"
)

// Isolation bounds how deep a given agent type may recurse.
type Isolation struct {
	// MaxDepth overrides the parent's max depth for this type; 0 means "use
	// the default of 1" per spec.md §4.13.
	MaxDepth int
}

// TypeDef describes one entry in the spawn type registry.
type TypeDef struct {
	Model     string
	Policy    policy.Profile
	ToolPacks []string // may include "spawn" to let the child spawn further
	Isolation Isolation
}

// Registry maps agentType name to its TypeDef.
type Registry map[string]TypeDef

// Args is the Spawn-Agent Tool's input shape (spec.md §4.13).
type Args struct {
	AgentType string `json:"agentType" jsonschema:"required"`
	Prompt    string `json:"prompt" jsonschema:"required"`
	Context   string `json:"context,omitempty"`
}

// Dependencies are the parent-scoped values a spawned child inherits.
type Dependencies struct {
	Provider     func(model string) (agent.Config, error) // builds a base Config for model; caller fills Tools/Policy/etc.
	Registry     Registry
	ToolRegistry *tool.Registry

	CurrentDepth  int
	MaxDepth      int
	ParentPolicy  policy.Profile
	ParentSession string
}

const (
	spawnPackName      = "spawn"
	defaultDepthBudget = 1
)

// New builds the spawn tool Definition bound to deps. The returned
// Definition's Name is always "spawn".
func New(deps Dependencies) tool.Definition {
	return tool.Definition{
		Name:        spawnPackName,
		Description: "Spawn a child agent of a registered type to carry out a sub-task.",
		InputSchema: spawnSchema(),
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			var args Args
			if v, ok := input["agentType"].(string); ok {
				args.AgentType = v
			}
			if v, ok := input["prompt"].(string); ok {
				args.Prompt = v
			}
			if v, ok := input["context"].(string); ok {
				args.Context = v
			}
			return run(ctx, deps, args)
		},
	}
}

func spawnSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agentType": map[string]any{"type": "string"},
			"prompt":    map[string]any{"type": "string"},
			"context":   map[string]any{"type": "string"},
		},
		"required": []string{"agentType", "prompt"},
	}
}

func run(ctx context.Context, deps Dependencies, args Args) (string, error) {
	// 1. Look up the type.
	typeDef, ok := deps.Registry[args.AgentType]
	if !ok {
		return fmt.Sprintf("Error: unknown agent type %q", args.AgentType), nil
	}

	// 2. Check depth: currentDepth >= min(maxDepth, type.isolation.maxDepth
	// or 1) is a tool error (spec.md §4.13).
	typeDepth := typeDef.Isolation.MaxDepth
	if typeDepth == 0 {
		typeDepth = defaultDepthBudget
	}
	depthBudget := deps.MaxDepth
	if typeDepth < depthBudget {
		depthBudget = typeDepth
	}
	if deps.CurrentDepth >= depthBudget {
		return fmt.Sprintf("Error: max spawn depth reached (depth=%d, budget=%d)", deps.CurrentDepth, depthBudget), nil
	}

	// 3. Resolve effective policy as the stricter of parent and type.
	effectivePolicy := policy.Stricter(deps.ParentPolicy, typeDef.Policy)

	// 4. Resolve tool packs for the child, excluding spawn; re-add a fresh
	// spawn tool if the type lists it.
	childPacks := make([]string, 0, len(typeDef.ToolPacks))
	includesSpawn := false
	for _, pack := range typeDef.ToolPacks {
		if pack == spawnPackName {
			includesSpawn = true
			continue
		}
		childPacks = append(childPacks, pack)
	}
	var childTools []tool.Definition
	if includesSpawn {
		childTools = append(childTools, New(Dependencies{
			Provider:      deps.Provider,
			Registry:      deps.Registry,
			ToolRegistry:  deps.ToolRegistry,
			CurrentDepth:  deps.CurrentDepth + 1,
			MaxDepth:      deps.MaxDepth,
			ParentPolicy:  effectivePolicy,
			ParentSession: deps.ParentSession,
		}))
	}

	// 5. Construct a child agent.
	baseCfg, err := deps.Provider(typeDef.Model)
	if err != nil {
		return "", fmt.Errorf("spawntool: build child config: %w", err)
	}
	baseCfg.Model = typeDef.Model
	baseCfg.Policy = policy.New(effectivePolicy)
	baseCfg.ToolPacks = childPacks
	baseCfg.Registry = deps.ToolRegistry
	baseCfg.Tools = append(baseCfg.Tools, childTools...)
	baseCfg.SessionID = childSessionID(deps.ParentSession)

	child, err := agent.New(baseCfg)
	if err != nil {
		return "", fmt.Errorf("spawntool: construct child agent: %w", err)
	}
	defer child.Close()

	// 6. Run the child with the concatenated prompt.
	prompt := args.Prompt
	if args.Context != "" {
		prompt = args.Prompt + "\n\nContext:\n" + args.Context
	}
	result, err := child.Run(ctx, prompt)
	if err != nil {
		return fmt.Sprintf("Error: child agent run failed: %v", err), nil
	}
	return result.Response, nil
}

func childSessionID(parentSessionID string) string {
	if parentSessionID == "" {
		return session.NewID()
	}
	return parentSessionID + "-child-" + session.NewID()
}
