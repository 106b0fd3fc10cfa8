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

// Package logger wraps log/slog with the conventions every ssenrah
// component logs through: a level parser, a simple/verbose text format,
// and a named sub-logger per component.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error. Unknown strings default to warn.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

var base = New(Config{Level: "info"})

// Config configures the root logger.
type Config struct {
	// Level is one of debug|info|warn|error. An empty or unknown value
	// gives warn (see ParseLevel); the package's own root logger uses info.
	Level string

	// Format is "simple" (level + message) or "verbose" (time + level + message).
	Format string

	// Output defaults to os.Stderr.
	Output *os.File
}

// New builds a root *slog.Logger from Config.
func New(cfg Config) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "verbose" {
		return slog.New(slog.NewTextHandler(out, opts))
	}

	// Simple format drops timestamps; most component logs are already
	// correlated by session_id/task_id, not wall-clock time.
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey && len(groups) == 0 {
			return slog.Attr{}
		}
		return a
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// SetDefault replaces the package-level root logger used by Named.
func SetDefault(l *slog.Logger) {
	if l != nil {
		base = l
	}
}

// Named returns a logger scoped to a component, e.g. Named("policy"),
// Named("graph"). Packages in this module that log (pkg/config's Loader)
// use a Named logger rather than slog.Default(), so a host embedding this
// runtime can filter or redirect ssenrah's own logs independently of its own.
func Named(component string) *slog.Logger {
	return base.With("component", component)
}
