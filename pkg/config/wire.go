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

package config

import (
	"fmt"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/agent"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/checkpoint"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/policy"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/team"
)

// NewPolicyEngine builds a Policy Engine for the configured profile.
func (c *Config) NewPolicyEngine() *policy.Engine {
	return policy.New(c.Policy.Profile)
}

// AgentDefaults builds the portion of an agent.Config this document
// controls: the Policy Engine. Callers still set Provider, Model, and any
// per-call fields before calling agent.New.
func (c *Config) AgentDefaults() agent.Config {
	return agent.Config{
		Policy: c.NewPolicyEngine(),
	}
}

// NewCheckpointer builds the checkpoint.Checkpointer named by
// checkpoint.backend: "file" roots a file-backed Store at checkpoint.path
// (or baseDir if path is unset), "sqlite" opens a SQLiteStore at
// checkpoint.path.
func (c *CheckpointConfig) NewCheckpointer(baseDir string) (checkpoint.Checkpointer, error) {
	switch c.Backend {
	case "sqlite":
		if c.Path == "" {
			return nil, fmt.Errorf("config: checkpoint.path is required for the sqlite backend")
		}
		return checkpoint.NewSQLiteStore(c.Path)
	case "file", "":
		dir := c.Path
		if dir == "" {
			dir = baseDir
		}
		return checkpoint.NewStore(dir), nil
	default:
		return nil, fmt.Errorf("config: checkpoint.backend %q must be \"file\" or \"sqlite\"", c.Backend)
	}
}

// TeamDefaults builds the portion of a team.Config this document controls:
// the runtime feature flags and resolved safety caps. Callers still set
// Planner, Worker, and Orchestrator before calling team.New.
func (c *Config) TeamDefaults() team.Config {
	return team.Config{
		Flags: c.Runtime.Flags,
		Caps:  c.Runtime.ResolveCaps(),
	}
}
