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

// Package config loads the runtime's policy/runtime-policy/checkpoint
// settings from YAML into strongly-typed structs, each with its own
// SetDefaults/Validate pair.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/policy"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/runtimepolicy"
)

// PolicyConfig configures the Policy Engine.
type PolicyConfig struct {
	Profile policy.Profile `yaml:"profile"`
}

// SetDefaults applies the local-permissive profile when unset.
func (c *PolicyConfig) SetDefaults() {
	if c.Profile == "" {
		c.Profile = policy.ProfileLocalPermissive
	}
}

// Validate rejects unknown profile names.
func (c *PolicyConfig) Validate() error {
	switch c.Profile {
	case policy.ProfileLocalPermissive, policy.ProfileStrict, policy.ProfileManaged:
		return nil
	default:
		return fmt.Errorf("config: policy.profile %q is not a known profile", c.Profile)
	}
}

// RuntimeConfig configures Runtime Policy feature flags and safety caps.
type RuntimeConfig struct {
	Flags runtimepolicy.Flags `yaml:"flags"`
	Caps  CapsConfig          `yaml:"caps"`
}

// CapsConfig is the YAML-friendly mirror of runtimepolicy.Caps, with
// duration fields expressed as strings (e.g. "10m", "30s").
type CapsConfig struct {
	MaxTasks             int    `yaml:"max_tasks"`
	MaxWorkers           int    `yaml:"max_workers"`
	MaxDepth             int    `yaml:"max_depth"`
	MaxRetries           int    `yaml:"max_retries"`
	MaxCompensatingTasks int    `yaml:"max_compensating_tasks"`
	MaxRuntime           string `yaml:"max_runtime"`
	ReconcileCooldown    string `yaml:"reconcile_cooldown"`
	HeartbeatStaleness   string `yaml:"heartbeat_staleness"`
	WorkerTimeout        string `yaml:"worker_timeout"`
}

// SetDefaults fills every unset cap field from runtimepolicy.DefaultCaps.
func (c *RuntimeConfig) SetDefaults() {
	defaults := runtimepolicy.DefaultCaps()
	if c.Caps.MaxTasks == 0 {
		c.Caps.MaxTasks = defaults.MaxTasks
	}
	if c.Caps.MaxWorkers == 0 {
		c.Caps.MaxWorkers = defaults.MaxWorkers
	}
	if c.Caps.MaxRetries == 0 {
		c.Caps.MaxRetries = defaults.MaxRetries
	}
	if c.Caps.MaxCompensatingTasks == 0 {
		c.Caps.MaxCompensatingTasks = defaults.MaxCompensatingTasks
	}
	if c.Caps.MaxRuntime == "" {
		c.Caps.MaxRuntime = defaults.MaxRuntime.String()
	}
	if c.Caps.ReconcileCooldown == "" {
		c.Caps.ReconcileCooldown = defaults.ReconcileCooldown.String()
	}
	if c.Caps.HeartbeatStaleness == "" {
		c.Caps.HeartbeatStaleness = defaults.HeartbeatStaleness.String()
	}
	if c.Caps.WorkerTimeout == "" {
		c.Caps.WorkerTimeout = defaults.WorkerTimeout.String()
	}
}

// Validate checks that every duration field parses.
func (c *RuntimeConfig) Validate() error {
	for name, value := range map[string]string{
		"max_runtime":         c.Caps.MaxRuntime,
		"reconcile_cooldown":  c.Caps.ReconcileCooldown,
		"heartbeat_staleness": c.Caps.HeartbeatStaleness,
		"worker_timeout":      c.Caps.WorkerTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("config: caps.%s: %w", name, err)
		}
	}
	if c.Caps.MaxTasks < 0 || c.Caps.MaxWorkers < 0 {
		return fmt.Errorf("config: caps.max_tasks and caps.max_workers must be >= 0")
	}
	return nil
}

// ResolveCaps parses the string duration fields into a runtimepolicy.Caps,
// falling back to runtimepolicy.DefaultCaps for anything unparsable or zero.
func (c *RuntimeConfig) ResolveCaps() runtimepolicy.Caps {
	defaults := runtimepolicy.DefaultCaps()
	caps := runtimepolicy.Caps{
		MaxTasks:             c.Caps.MaxTasks,
		MaxWorkers:           c.Caps.MaxWorkers,
		MaxDepth:             c.Caps.MaxDepth,
		MaxRetries:           c.Caps.MaxRetries,
		MaxCompensatingTasks: c.Caps.MaxCompensatingTasks,
		MaxRuntime:           parseDurationOr(c.Caps.MaxRuntime, defaults.MaxRuntime),
		ReconcileCooldown:    parseDurationOr(c.Caps.ReconcileCooldown, defaults.ReconcileCooldown),
		HeartbeatStaleness:   parseDurationOr(c.Caps.HeartbeatStaleness, defaults.HeartbeatStaleness),
		WorkerTimeout:        parseDurationOr(c.Caps.WorkerTimeout, defaults.WorkerTimeout),
	}
	if caps.MaxTasks == 0 {
		caps.MaxTasks = defaults.MaxTasks
	}
	if caps.MaxWorkers == 0 {
		caps.MaxWorkers = defaults.MaxWorkers
	}
	if caps.MaxRetries == 0 {
		caps.MaxRetries = defaults.MaxRetries
	}
	if caps.MaxCompensatingTasks == 0 {
		caps.MaxCompensatingTasks = defaults.MaxCompensatingTasks
	}
	return caps
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// CheckpointConfig configures the Checkpoint Store.
type CheckpointConfig struct {
	Backend string `yaml:"backend"` // "file" or "sqlite"
	Path    string `yaml:"path"`
}

// SetDefaults applies the file backend when unset.
func (c *CheckpointConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "file"
	}
}

// Validate rejects unknown backends.
func (c *CheckpointConfig) Validate() error {
	switch c.Backend {
	case "file", "sqlite":
		return nil
	default:
		return fmt.Errorf("config: checkpoint.backend %q must be \"file\" or \"sqlite\"", c.Backend)
	}
}

// Config is the top-level runtime configuration document.
type Config struct {
	Policy     PolicyConfig     `yaml:"policy"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

// SetDefaults applies every section's defaults.
func (c *Config) SetDefaults() {
	c.Policy.SetDefaults()
	c.Runtime.SetDefaults()
	c.Checkpoint.SetDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.Runtime.Validate(); err != nil {
		return err
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return err
	}
	return nil
}

// Parse decodes YAML bytes into a Config, applying defaults and validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
