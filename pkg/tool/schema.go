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

package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// SchemaOf reflects a Go type into the JSON Schema map a Definition's
// InputSchema expects, using struct tags the same way ADK-style function
// tools do: `json:"name"`, `jsonschema:"required,description=..."`.
func SchemaOf[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("tool: unmarshal schema: %w", err)
	}
	return out, nil
}

// FromFunc builds a Definition whose InputSchema is derived from T and
// whose Run decodes the raw input map into a T before calling fn.
func FromFunc[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) (Definition, error) {
	schema, err := SchemaOf[T]()
	if err != nil {
		return Definition{}, err
	}
	return Definition{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			var args T
			if err := mapstructure.Decode(input, &args); err != nil {
				return "", fmt.Errorf("tool %s: decode args: %w", name, err)
			}
			return fn(ctx, args)
		},
	}, nil
}
