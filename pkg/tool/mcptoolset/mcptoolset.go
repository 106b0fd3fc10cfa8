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

// Package mcptoolset resolves an MCP (Model Context Protocol) server's
// tools into the Tool Registry's Definition shape, lazily: the subprocess
// is only started the first time Pack() is called. This is the one "real"
// external tool pack this module ships, alongside the in-memory default
// pack in pkg/defaulttools.
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tool"
)

// Config configures a stdio-transport MCP toolset.
type Config struct {
	// Name identifies this pack within the Tool Registry.
	Name string

	// Command is the subprocess to launch.
	Command string

	// Args are passed to Command.
	Args []string

	// Env is appended to the subprocess environment as KEY=VALUE pairs.
	Env map[string]string

	// Filter, if non-empty, restricts exposed tools to these names.
	Filter []string
}

// Toolset lazily connects to an MCP server over stdio and exposes its tools
// as Tool Registry Definitions.
type Toolset struct {
	cfg       Config
	filterSet map[string]bool

	mu        sync.Mutex
	client    *client.Client
	connected bool
	tools     []tool.Definition
}

// New validates cfg and returns an unconnected Toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcptoolset: command is required")
	}
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}
	return &Toolset{cfg: cfg, filterSet: filterSet}, nil
}

// Name returns the pack name.
func (t *Toolset) Name() string { return t.cfg.Name }

// Pack connects (if not already connected) and returns the resolved tool
// definitions, ready to Registry.Register(t.Name(), t.Pack(ctx)).
func (t *Toolset) Pack(ctx context.Context) ([]tool.Definition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("mcptoolset: connect: %w", err)
		}
	}
	return t.tools, nil
}

func (t *Toolset) connect(ctx context.Context) error {
	env := make([]string, 0, len(t.cfg.Env))
	for k, v := range t.cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "ssenrah", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	defs := make([]tool.Definition, 0, len(listResp.Tools))
	for _, mcpTool := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[mcpTool.Name] {
			continue
		}
		defs = append(defs, t.toDefinition(c, mcpTool))
	}

	t.client = c
	t.tools = defs
	t.connected = true
	return nil
}

func (t *Toolset) toDefinition(c *client.Client, mt mcp.Tool) tool.Definition {
	schema := map[string]any{}
	if raw, err := json.Marshal(mt.InputSchema); err == nil {
		_ = json.Unmarshal(raw, &schema)
	}

	name := mt.Name
	return tool.Definition{
		Name:        name,
		Description: mt.Description,
		InputSchema: schema,
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			req := mcp.CallToolRequest{}
			req.Params.Name = name
			req.Params.Arguments = input

			resp, err := c.CallTool(ctx, req)
			if err != nil {
				return "", fmt.Errorf("mcp tool %s: %w", name, err)
			}

			var out string
			for _, content := range resp.Content {
				if tc, ok := content.(mcp.TextContent); ok {
					out += tc.Text
				}
			}
			if resp.IsError {
				return "Error: " + out, nil
			}
			return out, nil
		},
	}
}

// Close releases the underlying subprocess, if connected.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}
