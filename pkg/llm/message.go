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

// Package llm is the single source of truth for the unified conversation
// message model and the LLM Provider contract (spec.md §3, §6). Concrete
// provider adapters (Anthropic/Gemini/OpenAI HTTP clients) are out of scope
// here; this package only defines the shapes adapters translate in and out
// of at the boundary.
package llm

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of typed content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// Block is one typed content block within a Message. Exactly the fields
// relevant to its Type are populated.
type Block struct {
	Type BlockType

	// Text is set for BlockText.
	Text string

	// ToolUse fields, set for BlockToolUse.
	ToolUseID    string
	ToolUseName  string
	ToolUseInput map[string]any

	// ToolResult fields, set for BlockToolResult.
	ToolResultToolUseID string
	ToolResultName      string
	ToolResultContent   string
	ToolResultIsError   bool

	// Image fields, set for BlockImage.
	ImageMimeType string
	ImageBase64   string
}

// TextBlock is a convenience constructor.
func TextBlock(text string) Block { return Block{Type: BlockText, Text: text} }

// ToolUseBlock is a convenience constructor.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: BlockToolUse, ToolUseID: id, ToolUseName: name, ToolUseInput: input}
}

// ToolResultBlock is a convenience constructor.
func ToolResultBlock(toolUseID, name, content string, isError bool) Block {
	return Block{
		Type:                BlockToolResult,
		ToolResultToolUseID: toolUseID,
		ToolResultName:      name,
		ToolResultContent:   content,
		ToolResultIsError:   isError,
	}
}

// Message is either role=user or role=assistant, with content that is
// either a single text string or an ordered sequence of typed content
// blocks (spec.md §3).
type Message struct {
	Role    Role
	Text    string  // set when Blocks is empty: plain-text shorthand
	Blocks  []Block // set for structured content
}

// ContentBlocks returns the message's content as a block sequence,
// wrapping a plain Text message in a single text block.
func (m Message) ContentBlocks() []Block {
	if len(m.Blocks) > 0 {
		return m.Blocks
	}
	if m.Text != "" {
		return []Block{TextBlock(m.Text)}
	}
	return nil
}

// UserText builds a plain-text user Message.
func UserText(text string) Message { return Message{Role: RoleUser, Text: text} }

// AssistantBlocks builds an assistant Message from blocks.
func AssistantBlocks(blocks ...Block) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// UserBlocks builds a user Message from blocks (e.g. synthetic tool_result
// blocks fed back after tool execution, spec.md §4.7 step 9).
func UserBlocks(blocks ...Block) Message {
	return Message{Role: RoleUser, Blocks: blocks}
}

// ToolCall is extracted from an assistant Message's tool_use blocks, for
// callers (Intent Validator, Policy Engine) that only need id/name/input.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolCalls extracts every tool_use block from blocks, in order.
func ToolCalls(blocks []Block) []ToolCall {
	var calls []ToolCall
	for _, b := range blocks {
		if b.Type == BlockToolUse {
			calls = append(calls, ToolCall{ID: b.ToolUseID, Name: b.ToolUseName, Input: b.ToolUseInput})
		}
	}
	return calls
}

// TextOf concatenates every text block's text, in order.
func TextOf(blocks []Block) string {
	var out string
	for _, b := range blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}
