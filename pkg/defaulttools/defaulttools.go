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

// Package defaulttools provides the small built-in tool pack every Agent
// Turn Loop includes; explicit tools and tool packs with the same name
// replace its entries (spec.md §4.7 "defaults").
package defaulttools

import (
	"context"
	"fmt"
	"os"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tool"
)

// PackName is the registry name of this pack.
const PackName = "default"

// ReadFileArgs is the input schema for the read_file tool.
type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Absolute or relative path to read"`
}

// Pack returns the default tool pack: read_file (read-only) and noop
// (always succeeds, used for smoke-testing the turn loop).
func Pack() []tool.Definition {
	readFile, err := tool.FromFunc("read_file", "Read the contents of a file from disk.",
		func(ctx context.Context, args ReadFileArgs) (string, error) {
			data, err := os.ReadFile(args.Path)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			return string(data), nil
		})
	if err != nil {
		// SchemaOf only fails on an unreflectable type; ReadFileArgs is a
		// plain struct, so this is unreachable in practice.
		panic(fmt.Sprintf("defaulttools: %v", err))
	}

	noop := tool.Definition{
		Name:        "noop",
		Description: "Does nothing and returns a constant acknowledgement.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			return "ok", nil
		},
	}

	return []tool.Definition{readFile, noop}
}
