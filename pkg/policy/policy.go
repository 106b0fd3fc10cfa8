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

// Package policy implements the Policy Engine from spec.md §4.3: a pure
// decision function mapping (profile, tool, risk, call-count) to
// {allow, await_user, deny}, optionally consulting an external approval
// handler.
package policy

import (
	"context"
	"fmt"
)

// Profile is a preset decision regime for tool execution.
type Profile string

const (
	ProfileLocalPermissive Profile = "local-permissive"
	ProfileStrict          Profile = "strict"
	ProfileManaged         Profile = "managed"
)

// Rank orders profiles from least to most restrictive, used by the
// Spawn-Agent Tool (spec.md §4.13) to pick "the stricter of two profiles".
func (p Profile) Rank() int {
	switch p {
	case ProfileLocalPermissive:
		return 0
	case ProfileStrict:
		return 1
	case ProfileManaged:
		return 2
	default:
		return 1 // unknown profiles default to strict's rank
	}
}

// Stricter returns whichever of a, b ranks higher.
func Stricter(a, b Profile) Profile {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// defaultMaxToolCalls are the per-profile tool-call caps from spec.md §4.3.
var defaultMaxToolCalls = map[Profile]int{
	ProfileLocalPermissive: 250,
	ProfileStrict:          120,
	ProfileManaged:         80,
}

// DefaultMaxToolCalls returns the default cap for profile.
func DefaultMaxToolCalls(p Profile) int {
	if n, ok := defaultMaxToolCalls[p]; ok {
		return n
	}
	return defaultMaxToolCalls[ProfileStrict]
}

// Risk is the declared risk level of a tool call.
type Risk string

const (
	RiskRead        Risk = "read"
	RiskWrite       Risk = "write"
	RiskExec        Risk = "exec"
	RiskDestructive Risk = "destructive"
)

// Action is the Policy Engine's decision.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionAwaitUser Action = "await_user"
	ActionDeny      Action = "deny"
)

// Decision is the result of evaluating a tool call.
type Decision struct {
	Action Action
	Reason string
}

// Approval is the answer an ApprovalHandler gives for an await_user decision.
type Approval string

const (
	Approve Approval = "approve"
	Reject  Approval = "reject"
)

// ApprovalRequest is passed to an ApprovalHandler (spec.md §6).
type ApprovalRequest struct {
	Profile  Profile
	ToolName string
	Risk     Risk
	Reason   string
}

// ApprovalHandler synchronously or asynchronously resolves an await_user
// decision into approve/reject.
type ApprovalHandler func(ctx context.Context, req ApprovalRequest) (Approval, error)

// Engine is the pure decision function described in spec.md §4.3. It holds
// no mutable state that a decision could leak into: Evaluate never mutates
// the Engine or any argument.
type Engine struct {
	Profile         Profile
	MaxToolCalls    int
	DenyList        map[string]bool
	AllowList       map[string]bool
	ApprovalHandler ApprovalHandler
}

// New creates an Engine for profile with the profile's default tool-call cap.
func New(profile Profile) *Engine {
	return &Engine{
		Profile:      profile,
		MaxToolCalls: DefaultMaxToolCalls(profile),
		DenyList:     map[string]bool{},
		AllowList:    map[string]bool{},
	}
}

// Evaluate implements the deterministic decision order from spec.md §4.3:
//
//  1. toolCallCount > MaxToolCalls -> await_user(tool_call_cap_reached)
//  2. tool in deny list -> deny
//  3. tool in allow list -> allow
//  4. otherwise, by profile's default regime for risk
//
// If the result is await_user and an ApprovalHandler is configured, it is
// invoked and may upgrade to allow or downgrade to deny.
func (e *Engine) Evaluate(ctx context.Context, toolName string, risk Risk, toolCallCount int) Decision {
	if e.MaxToolCalls > 0 && toolCallCount > e.MaxToolCalls {
		return e.maybeApprove(ctx, toolName, risk, Decision{
			Action: ActionAwaitUser,
			Reason: "tool_call_cap_reached",
		})
	}

	if e.DenyList[toolName] {
		return Decision{Action: ActionDeny, Reason: fmt.Sprintf("tool %q is explicitly denied", toolName)}
	}
	if e.AllowList[toolName] {
		return Decision{Action: ActionAllow, Reason: fmt.Sprintf("tool %q is explicitly allowed", toolName)}
	}

	decision := e.byProfile(risk)
	if decision.Action == ActionAwaitUser {
		return e.maybeApprove(ctx, toolName, risk, decision)
	}
	return decision
}

func (e *Engine) byProfile(risk Risk) Decision {
	switch e.Profile {
	case ProfileLocalPermissive:
		if risk == RiskDestructive {
			return Decision{Action: ActionAwaitUser, Reason: "destructive risk requires approval under local-permissive"}
		}
		return Decision{Action: ActionAllow, Reason: "allowed under local-permissive"}

	case ProfileManaged:
		switch risk {
		case RiskRead:
			return Decision{Action: ActionAllow, Reason: "read allowed under managed"}
		case RiskWrite:
			return Decision{Action: ActionAwaitUser, Reason: "write requires approval under managed"}
		default:
			return Decision{Action: ActionDeny, Reason: fmt.Sprintf("%s denied under managed", risk)}
		}

	case ProfileStrict:
		fallthrough
	default:
		if risk == RiskRead {
			return Decision{Action: ActionAllow, Reason: "read allowed under strict"}
		}
		return Decision{Action: ActionAwaitUser, Reason: fmt.Sprintf("%s requires approval under strict", risk)}
	}
}

func (e *Engine) maybeApprove(ctx context.Context, toolName string, risk Risk, decision Decision) Decision {
	if e.ApprovalHandler == nil {
		return decision
	}
	approval, err := e.ApprovalHandler(ctx, ApprovalRequest{
		Profile:  e.Profile,
		ToolName: toolName,
		Risk:     risk,
		Reason:   decision.Reason,
	})
	if err != nil {
		// A failing handler leaves the original decision in place rather than
		// silently allowing execution.
		return decision
	}
	switch approval {
	case Approve:
		return Decision{Action: ActionAllow, Reason: fmt.Sprintf("approved_by_handler:%s (%s)", toolName, risk)}
	case Reject:
		return Decision{Action: ActionDeny, Reason: fmt.Sprintf("approval_rejected:%s (%s)", toolName, risk)}
	default:
		return decision
	}
}
