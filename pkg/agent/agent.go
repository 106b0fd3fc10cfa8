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

// Package agent implements the Agent Turn Loop from spec.md §4.7: the
// single-threaded, cooperative state machine that drives one provider-and-
// tools conversation to a terminal status, composing the Policy Engine,
// Intent Parser, Beholder Overseer, Fallback Planner, Event Log, and
// Checkpoint Store.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/beholder"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/checkpoint"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/defaulttools"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/eventlog"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/fallback"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/intent"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/llm"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/metrics"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/policy"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/session"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tokencount"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tool"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tracing"
)

// Status is a turn loop's terminal (or in the case of max_turns/max_tokens,
// also terminal) outcome (spec.md §4.7).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAwaitUser Status = "await_user"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusMaxTurns  Status = "max_turns"
	StatusMaxTokens Status = "max_tokens"
)

const defaultMaxTurns = 20

const intentInstructionBlock = `Before calling any tool, declare your intent with a block of the form:
<intent>{"toolName":"<name>","purpose":"<why>","expectedOutcome":"<what you expect>","riskLevel":"read|write|exec|destructive"}</intent>
One declaration per tool call you are about to make.`

// Settings is the mutable bundle pre-run hooks may rewrite (spec.md §4.7
// "Hooks").
type Settings struct {
	Model        string
	SystemPrompt string
	Tools        []tool.Definition
}

// Hook runs once, in order, before the first provider call.
type Hook func(ctx context.Context, settings *Settings, history []llm.Message, registry *tool.Registry) error

// Config configures a single Agent Turn Loop run (spec.md §4.7 "Inputs").
type Config struct {
	Provider     llm.Provider
	Model        string
	SystemPrompt string

	// Tools are explicit definitions; they win over ToolPacks, which win
	// over the built-in default pack.
	Tools     []tool.Definition
	ToolPacks []string
	Registry  *tool.Registry

	MaxTokens int
	MaxTurns  int // 0 means defaultMaxTurns

	// MaxHistoryTokens, when > 0, trims the oldest history messages (after
	// the original goal) before each provider call once the conversation
	// exceeds this many tokens, counted against Model's tokenizer. Only
	// plain text and text blocks are counted; tool_use inputs and
	// tool_result content are not. 0 disables trimming.
	MaxHistoryTokens int

	SessionID string
	BaseDir   string // "" means session.DefaultBaseDir()

	Policy          *policy.Engine
	RequireIntent   *bool // nil means true
	Beholder        *beholder.Overseer
	Fallback        *fallback.Config
	PreRunHooks     []Hook
	Stream          bool
	StreamCallbacks llm.StreamCallbacks

	// EventLog overrides the session-derived file-backed log when set.
	EventLog *eventlog.Log
	// Checkpoints, when set, persists terminal checkpoints. Both
	// checkpoint.Store (file-backed) and checkpoint.SQLiteStore satisfy
	// checkpoint.Checkpointer.
	Checkpoints checkpoint.Checkpointer

	// Metrics, when set, records turn and tool-call observations. A nil
	// Collector (the zero value) is safe to use: every method no-ops.
	Metrics *metrics.Collector
	// Tracer, when set, opens a span per turn and per tool call.
	Tracer *tracing.Tracer
}

func (c *Config) requireIntent() bool {
	if c.RequireIntent == nil {
		return true
	}
	return *c.RequireIntent
}

func (c *Config) maxTurns() int {
	if c.MaxTurns <= 0 {
		return defaultMaxTurns
	}
	return c.MaxTurns
}

// Result is the Agent Turn Loop's return value (spec.md §4.7 "Return").
type Result struct {
	Status    Status
	Response  string
	ToolsUsed []string
	Usage     llm.Usage
	Phase     checkpoint.Phase
	Reason    string
}

// Agent runs one turn-loop invocation end to end.
type Agent struct {
	cfg       Config
	sessionID string
	log       *eventlog.Log
	ownsLog   bool
}

// New validates cfg, resolves the session id and event log, and returns a
// ready-to-Run Agent.
func New(cfg Config) (*Agent, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = session.NewID()
	} else if err := session.ValidateID(sessionID); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	a := &Agent{cfg: cfg, sessionID: sessionID}

	if cfg.EventLog != nil {
		a.log = cfg.EventLog
		return a, nil
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = session.DefaultBaseDir()
	}
	path, err := session.EventsPath(baseDir, sessionID)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	logFile, err := eventlog.NewFileBacked(path)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	a.log = logFile
	a.ownsLog = true
	return a, nil
}

// Close releases a file-backed event log this Agent created itself.
func (a *Agent) Close() error {
	if a.ownsLog {
		return a.log.Close()
	}
	return nil
}

// SessionID returns the resolved session id.
func (a *Agent) SessionID() string { return a.sessionID }

// resolveTools merges explicit tools, resolved tool packs, and the default
// pack, deduplicating by name so that explicit wins over packs wins over
// defaults (spec.md §4.7 "Setup").
func (a *Agent) resolveTools() []tool.Definition {
	var merged []tool.Definition
	merged = append(merged, defaulttools.Pack()...)
	if a.cfg.Registry != nil && len(a.cfg.ToolPacks) > 0 {
		merged = append(merged, a.cfg.Registry.Resolve(a.cfg.ToolPacks)...)
	}
	merged = append(merged, a.cfg.Tools...)
	return tool.Dedupe(merged)
}

// Run drives the turn cycle to a terminal status for a single goal message.
func (a *Agent) Run(ctx context.Context, goal string) (*Result, error) {
	settings := &Settings{
		Model:        a.cfg.Model,
		SystemPrompt: a.cfg.SystemPrompt,
		Tools:        a.resolveTools(),
	}
	if a.cfg.requireIntent() {
		settings.SystemPrompt = strings.TrimSpace(settings.SystemPrompt + "\n\n" + intentInstructionBlock)
	}

	history := []llm.Message{llm.UserText(goal)}

	for _, hook := range a.cfg.PreRunHooks {
		if err := hook(ctx, settings, append([]llm.Message(nil), history...), a.cfg.Registry); err != nil {
			return nil, fmt.Errorf("agent: pre-run hook: %w", err)
		}
	}
	if settings.Model == "" {
		return nil, fmt.Errorf("agent: effective model is empty after pre-run hooks")
	}
	settings.Tools = tool.Dedupe(settings.Tools)

	toolsByName := make(map[string]tool.Definition, len(settings.Tools))
	knownTools := make(map[string]bool, len(settings.Tools))
	for _, t := range settings.Tools {
		toolsByName[t.Name] = t
		knownTools[t.Name] = true
	}
	providerTools := make([]llm.ToolDefinition, 0, len(settings.Tools))
	for _, t := range settings.Tools {
		providerTools = append(providerTools, llm.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	var historyCounter *tokencount.Counter
	if a.cfg.MaxHistoryTokens > 0 {
		historyCounter, _ = tokencount.ForModel(settings.Model)
	}

	r := &run{
		agent:          a,
		settings:       settings,
		history:        history,
		toolsByName:    toolsByName,
		knownTools:     knownTools,
		providerTools:  providerTools,
		started:        time.Now(),
		historyCounter: historyCounter,
	}
	return r.loop(ctx)
}

type run struct {
	agent         *Agent
	settings      *Settings
	history       []llm.Message
	toolsByName   map[string]tool.Definition
	knownTools    map[string]bool
	providerTools []llm.ToolDefinition

	toolCallCount int
	toolsUsed     []string
	usage         llm.Usage
	reportedUsage int // part of usage already passed to the Beholder
	responseText  strings.Builder
	started       time.Time

	historyCounter *tokencount.Counter
}

func (r *run) loop(ctx context.Context) (*Result, error) {
	cfg := r.agent.cfg
	maxTurns := cfg.maxTurns()

	for turn := 1; turn <= maxTurns; turn++ {
		// Step 1.
		if ctx.Err() != nil {
			return r.finalize(StatusCancelled, "context cancelled"), nil
		}

		r.history = trimHistory(r.history, r.historyCounter, cfg.MaxHistoryTokens)

		turnCtx := ctx
		var turnSpan trace.Span
		if cfg.Tracer != nil {
			turnCtx, turnSpan = cfg.Tracer.StartTurn(ctx, r.agent.sessionID, turn)
		}

		// Step 2-3: provider call and usage accounting.
		resp, err := r.callProvider(turnCtx)
		if turnSpan != nil {
			turnSpan.End()
		}
		if err != nil {
			return r.finalize(StatusFailed, fmt.Sprintf("provider error: %v", err)), nil
		}
		r.usage.Add(resp.Usage)

		// Step 4: append the assistant turn to history.
		assistantBlocks := append([]llm.Block(nil), resp.TextBlocks...)
		for _, call := range resp.ToolCalls {
			assistantBlocks = append(assistantBlocks, llm.ToolUseBlock(call.ID, call.Name, call.Input))
		}
		r.history = append(r.history, llm.AssistantBlocks(assistantBlocks...))
		r.responseText.Reset()
		r.responseText.WriteString(llm.TextOf(assistantBlocks))

		// Step 5.
		if resp.StopReason == llm.StopMaxToken {
			return r.finalize(StatusMaxTokens, "provider stopped at max_tokens"), nil
		}

		// Step 6.
		if len(resp.ToolCalls) == 0 {
			return r.finalize(StatusCompleted, ""), nil
		}

		// Step 7: intent gate.
		assistantText := llm.TextOf(resp.TextBlocks)
		matchByCallID := map[string]intent.Declaration{}
		if cfg.requireIntent() {
			declarations := intent.Parse(assistantText)
			calls := make([]intent.ToolCall, len(resp.ToolCalls))
			for i, c := range resp.ToolCalls {
				calls[i] = intent.ToolCall{ID: c.ID, Name: c.Name}
			}
			validated := intent.Validate(declarations, calls)
			if !validated.Valid() {
				r.blockUnmatched(validated.Unmatched)
				continue // do not advance the turn counter's worth of work further
			}
			for _, m := range validated.Matched {
				matchByCallID[m.Call.ID] = m.Intent
			}
			for _, d := range declarations {
				r.agent.log.Log(eventlog.Event{Type: eventlog.TypeIntent, AgentID: r.agent.sessionID, Data: d})
			}
		}

		// Step 8: execute tool calls in order.
		var toolResults []llm.Block
		status, reason, halted := r.executeToolCalls(ctx, resp.ToolCalls, matchByCallID, &toolResults)
		if halted {
			return r.finalize(status, reason), nil
		}

		// Step 9.
		r.history = append(r.history, llm.UserBlocks(toolResults...))
	}

	return r.finalize(StatusMaxTurns, fmt.Sprintf("exceeded %d turns", maxTurns)), nil
}

func (r *run) callProvider(ctx context.Context) (*llm.Response, error) {
	cfg := r.agent.cfg
	req := llm.Request{
		Model:        r.settings.Model,
		SystemPrompt: r.settings.SystemPrompt,
		Messages:     r.history,
		Tools:        r.providerTools,
		MaxTokens:    cfg.MaxTokens,
	}

	if cfg.Stream {
		if streaming, ok := cfg.Provider.(llm.StreamingProvider); ok {
			resp, err := streaming.ChatStream(ctx, req, cfg.StreamCallbacks)
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
	}

	resp, err := cfg.Provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if cfg.Stream && cfg.StreamCallbacks.OnTextDelta != nil {
		// Provider doesn't support streaming: emit each text block once so
		// delta-only callers still observe output (spec.md §4.7 step 2).
		for _, b := range resp.TextBlocks {
			if b.Type == llm.BlockText {
				cfg.StreamCallbacks.OnTextDelta(b.Text)
			}
		}
	}
	return resp, nil
}

// blockUnmatched implements spec.md §4.7 step 7's failure path: synthesize
// tool_result error blocks for every unmatched call, append as a user turn,
// log the gate block, and let the caller `continue` to the next iteration
// without advancing.
func (r *run) blockUnmatched(unmatched []intent.ToolCall) {
	blocks := make([]llm.Block, 0, len(unmatched))
	for _, call := range unmatched {
		blocks = append(blocks, llm.ToolResultBlock(call.ID, call.Name,
			"Error: no matching <intent> declaration for this tool call", true))
	}
	r.history = append(r.history, llm.UserBlocks(blocks...))
	r.agent.log.Log(eventlog.Event{
		Type:    eventlog.TypeError,
		AgentID: r.agent.sessionID,
		Data:    map[string]any{"reason": "intent_gate_blocked"},
	})
}

// executeToolCalls runs calls.(c) in order per spec.md §4.7 step 8,
// appending a synthetic tool_result block for each onto *results. It
// returns (status, reason, true) when the batch must halt the turn loop
// entirely (cancellation, await_user, deny, or a Beholder kill).
func (r *run) executeToolCalls(ctx context.Context, calls []llm.ToolCall, matchByCallID map[string]intent.Declaration, results *[]llm.Block) (Status, string, bool) {
	cfg := r.agent.cfg

	for _, call := range calls {
		// 8a.
		if ctx.Err() != nil {
			return StatusCancelled, "context cancelled mid-batch", true
		}

		// 8b.
		risk := policy.RiskExec
		if decl, ok := matchByCallID[call.ID]; ok {
			risk = decl.RiskLevel
		}

		// 8c.
		r.toolCallCount++
		decision := cfg.Policy.Evaluate(ctx, call.Name, risk, r.toolCallCount)
		r.agent.log.Log(eventlog.Event{Type: eventlog.TypePolicy, AgentID: r.agent.sessionID, Data: decision})
		cfg.Metrics.ObservePolicyDecision(string(decision.Action))
		if decision.Action == policy.ActionAwaitUser {
			return StatusAwaitUser, decision.Reason, true
		}
		if decision.Action == policy.ActionDeny {
			r.agent.log.Log(eventlog.Event{Type: eventlog.TypeError, AgentID: r.agent.sessionID, Data: map[string]any{"reason": "policy_denied"}})
			return StatusFailed, decision.Reason, true
		}

		// 8d.
		if cfg.Beholder != nil {
			decl := declPtr(matchByCallID, call.ID)
			usageDelta := r.usage.Total() - r.reportedUsage
			r.reportedUsage = r.usage.Total()
			beholderResult := cfg.Beholder.Evaluate(ctx, decl, beholder.ToolCall{Name: call.Name, Input: call.Input}, usageDelta)
			r.agent.log.Log(eventlog.Event{Type: eventlog.TypeBeholderAction, AgentID: r.agent.sessionID, Data: beholderResult})
			cfg.Metrics.ObserveBeholderAction(string(beholderResult.Verdict))
			if beholderResult.Verdict == beholder.VerdictKill {
				return StatusFailed, beholderResult.Reason, true
			}
		}

		// 8e.
		r.agent.log.Log(eventlog.Event{Type: eventlog.TypeToolCall, AgentID: r.agent.sessionID, Data: map[string]any{"name": call.Name, "input": call.Input}})
		r.toolsUsed = append(r.toolsUsed, call.Name)

		toolCtx := ctx
		var toolSpan trace.Span
		if cfg.Tracer != nil {
			toolCtx, toolSpan = cfg.Tracer.StartToolCall(ctx, call.Name)
		}
		toolStart := time.Now()
		content, isError := r.runTool(toolCtx, call)
		if toolSpan != nil {
			toolSpan.End()
		}
		cfg.Metrics.ObserveToolCall(call.Name, time.Since(toolStart).Seconds(), isError)

		// 8f.
		if isError && cfg.Fallback != nil {
			r.agent.log.Log(eventlog.Event{Type: eventlog.TypeFallback, AgentID: r.agent.sessionID, Data: map[string]any{"tool": call.Name}})
			decl := declPtr(matchByCallID, call.ID)
			resolution := fallback.Run(ctx, *withExecutor(cfg.Fallback, r), decl, fallback.FailedCall{
				ToolName: call.Name,
				Input:    call.Input,
				Error:    content,
			})
			if resolution.Resolved {
				content = resolution.Result
				isError = false
			}
		}

		// 8g.
		r.agent.log.Log(eventlog.Event{Type: eventlog.TypeToolResult, AgentID: r.agent.sessionID, Data: map[string]any{"name": call.Name, "length": len(content)}})

		// 8h.
		*results = append(*results, llm.ToolResultBlock(call.ID, call.Name, content, isError))
	}

	return "", "", false
}

func declPtr(m map[string]intent.Declaration, id string) *intent.Declaration {
	if d, ok := m[id]; ok {
		return &d
	}
	return nil
}

// withExecutor returns a copy of base with Execute and KnownTools wired to
// r's resolved tool set, so the Fallback Planner can actually run whatever
// it suggests.
func withExecutor(base *fallback.Config, r *run) *fallback.Config {
	cfg := *base
	cfg.KnownTools = r.knownTools
	cfg.Execute = func(ctx context.Context, toolName string, input map[string]any) (string, error) {
		call := llm.ToolCall{Name: toolName, Input: input}
		content, isError := r.runTool(ctx, call)
		if isError {
			return "", fmt.Errorf("%s", content)
		}
		return content, nil
	}
	return &cfg
}

// runTool executes the named tool, catching panics and the "Error"-prefixed
// result convention into a uniform (content, isError) pair (spec.md §4.7
// step 8e).
func (r *run) runTool(ctx context.Context, call llm.ToolCall) (content string, isError bool) {
	def, ok := r.toolsByName[call.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name), true
	}

	defer func() {
		if rec := recover(); rec != nil {
			content = fmt.Sprintf("Error: tool %s panicked: %v", call.Name, rec)
			isError = true
		}
	}()

	out, err := def.Run(ctx, call.Input)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), true
	}
	if tool.IsErrorResult(out) {
		return out, true
	}
	return out, false
}

// finalize builds the Result, logs the terminal turn_result event, and
// persists a checkpoint when a Checkpoints store is configured (spec.md
// §4.7 "Termination").
func (r *run) finalize(status Status, reason string) *Result {
	result := &Result{
		Status:    status,
		Response:  r.responseText.String(),
		ToolsUsed: r.toolsUsed,
		Usage:     r.usage,
		Phase:     phaseFor(status),
		Reason:    reason,
	}

	r.agent.log.Log(eventlog.Event{
		Type:    eventlog.TypeTurnResult,
		AgentID: r.agent.sessionID,
		Data:    result,
	})
	r.agent.cfg.Metrics.ObserveTurn(string(status), time.Since(r.started).Seconds())

	if r.agent.cfg.Checkpoints != nil {
		now := time.Now()
		cp := &checkpoint.Checkpoint{
			SchemaVersion: checkpoint.SchemaVersion,
			CheckpointID:  session.NewID(),
			CreatedAt:     now,
			UpdatedAt:     now,
			Phase:         result.Phase,
			Goal:          firstUserText(r.history),
			Summary:       result.Response,
		}
		// A checkpoint failure is logged but never changes the returned
		// status (spec.md §4.7 "Termination").
		if err := r.agent.cfg.Checkpoints.Save(r.agent.sessionID, cp); err != nil {
			r.agent.log.Log(eventlog.Event{
				Type:    eventlog.TypeError,
				AgentID: r.agent.sessionID,
				Data:    map[string]any{"reason": "checkpoint_save_failed", "error": err.Error()},
			})
		}
	}

	return result
}

func phaseFor(status Status) checkpoint.Phase {
	switch status {
	case StatusCompleted:
		return checkpoint.PhaseCompleted
	case StatusAwaitUser:
		return checkpoint.PhaseAwaitUser
	default:
		return checkpoint.PhaseFailed
	}
}

func firstUserText(history []llm.Message) string {
	for _, m := range history {
		if m.Role == llm.RoleUser && m.Text != "" {
			return m.Text
		}
	}
	return ""
}
