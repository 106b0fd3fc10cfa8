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

package spawntool

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/agent"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/llm"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/policy"
)

type constProvider struct {
	text string
}

func (p *constProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{TextBlocks: []llm.Block{llm.TextBlock(p.text)}, StopReason: llm.StopEndTurn}, nil
}

func baseDeps(t *testing.T, reg Registry) Dependencies {
	t.Helper()
	dir := t.TempDir()
	return Dependencies{
		Provider: func(model string) (agent.Config, error) {
			return agent.Config{
				Provider: &constProvider{text: "child response for " + model},
				BaseDir:  dir,
			}, nil
		},
		Registry:      reg,
		CurrentDepth:  0,
		MaxDepth:      2,
		ParentPolicy:  policy.ProfileStrict,
		ParentSession: "parent-session",
	}
}

func TestRunUnknownAgentType(t *testing.T) {
	deps := baseDeps(t, Registry{})
	out, err := run(context.Background(), deps, Args{AgentType: "ghost", Prompt: "do it"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error:"))
}

func TestRunDepthExceeded(t *testing.T) {
	reg := Registry{"helper": {Model: "cheap", Policy: policy.ProfileStrict}}
	deps := baseDeps(t, reg)
	deps.CurrentDepth = 2
	deps.MaxDepth = 2

	out, err := run(context.Background(), deps, Args{AgentType: "helper", Prompt: "do it"})
	require.NoError(t, err)
	assert.Contains(t, out, "max spawn depth reached")
}

func TestRunSucceedsAndReturnsChildResponse(t *testing.T) {
	reg := Registry{"helper": {Model: "cheap-model", Policy: policy.ProfileStrict}}
	deps := baseDeps(t, reg)

	out, err := run(context.Background(), deps, Args{AgentType: "helper", Prompt: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, "child response for cheap-model", out)
}

func TestNewBuildsSpawnDefinition(t *testing.T) {
	reg := Registry{"helper": {Model: "cheap", Policy: policy.ProfileStrict}}
	deps := baseDeps(t, reg)
	def := New(deps)
	assert.Equal(t, "spawn", def.Name)

	out, err := def.Run(context.Background(), map[string]any{"agentType": "helper", "prompt": "go"})
	require.NoError(t, err)
	assert.Equal(t, "child response for cheap", out)
}
