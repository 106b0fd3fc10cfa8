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

// Package runtimepolicy implements the Runtime Policy from spec.md §4.11:
// feature flags, safety caps, the Team Coordinator phase state machine,
// and trust gating, grounded on the capability/trust tier idiom of
// Hector's extension trust manifests.
package runtimepolicy

import (
	"fmt"
	"time"
)

// Flags are the feature flags gating optional subsystems. All default off
// (spec.md §4.11).
type Flags struct {
	Reconcile       bool
	MutableGraph    bool
	PriorityMailbox bool
	TraceReplay     bool
	RegressionGates bool
	TrustGating     bool
	Hierarchy       bool
}

// Caps are the safety caps bounding a Team Coordinator run, with the
// spec.md §4.11 defaults.
type Caps struct {
	MaxTasks             int
	MaxWorkers           int
	MaxDepth             int
	MaxRetries           int
	MaxCompensatingTasks int
	MaxRuntime           time.Duration
	ReconcileCooldown    time.Duration
	HeartbeatStaleness   time.Duration
	WorkerTimeout        time.Duration
}

// DefaultCaps returns the spec.md §4.11 default safety caps.
func DefaultCaps() Caps {
	return Caps{
		MaxTasks:             20,
		MaxWorkers:           5,
		MaxDepth:             0,
		MaxRetries:           2,
		MaxCompensatingTasks: 3,
		MaxRuntime:           10 * time.Minute,
		ReconcileCooldown:    5 * time.Second,
		HeartbeatStaleness:   30 * time.Second,
		WorkerTimeout:        120 * time.Second,
	}
}

// Phase is a Team Coordinator run's lifecycle phase (spec.md §4.11).
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePlanning     Phase = "planning"
	PhaseAwaitApprove Phase = "await_approval"
	PhaseExecuting    Phase = "executing"
	PhaseReconciling  Phase = "reconciling"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseAwaitUser    Phase = "await_user"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// transitions is the exact legal-transition table from spec.md §4.11.
var transitions = map[Phase]map[Phase]bool{
	PhaseIdle: {
		PhasePlanning: true,
	},
	PhasePlanning: {
		PhaseAwaitApprove: true,
		PhaseExecuting:    true,
		PhaseFailed:       true,
	},
	PhaseAwaitApprove: {
		PhaseExecuting: true,
		PhaseFailed:    true,
		PhaseIdle:      true,
	},
	PhaseExecuting: {
		PhaseReconciling:  true,
		PhaseSynthesizing: true,
		PhaseFailed:       true,
		PhaseAwaitUser:    true,
	},
	PhaseReconciling: {
		PhaseExecuting:    true,
		PhaseSynthesizing: true,
		PhaseFailed:       true,
		PhaseAwaitUser:    true,
	},
	PhaseSynthesizing: {
		PhaseCompleted: true,
		PhaseFailed:    true,
	},
	PhaseAwaitUser: {
		PhaseExecuting:   true,
		PhaseReconciling: true,
		PhaseFailed:      true,
		PhaseIdle:        true,
	},
	PhaseCompleted: {
		PhaseIdle: true,
	},
	PhaseFailed: {
		PhaseIdle: true,
	},
}

// ViolationError reports an illegal phase transition (spec.md §4.11
// "illegal transitions raise a policy violation").
type ViolationError struct {
	From Phase
	To   Phase
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("runtimepolicy: illegal phase transition %s -> %s", e.From, e.To)
}

// PhaseMachine tracks a single run's current phase and enforces the
// transition table.
type PhaseMachine struct {
	current Phase
}

// NewPhaseMachine starts a machine in idle.
func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{current: PhaseIdle}
}

// Current returns the current phase.
func (m *PhaseMachine) Current() Phase { return m.current }

// Transition moves to `to`, or returns a *ViolationError if the move is
// not in the legal transition table.
func (m *PhaseMachine) Transition(to Phase) error {
	if allowed, ok := transitions[m.current]; !ok || !allowed[to] {
		return &ViolationError{From: m.current, To: to}
	}
	m.current = to
	return nil
}

// TrustTier ranks how much an extension manifest is trusted: untrusted <
// workspace < user < managed (spec.md §4.11).
type TrustTier string

const (
	TrustUntrusted TrustTier = "untrusted"
	TrustWorkspace TrustTier = "workspace"
	TrustUser      TrustTier = "user"
	TrustManaged   TrustTier = "managed"
)

var trustRank = map[TrustTier]int{
	TrustUntrusted: 0,
	TrustWorkspace: 1,
	TrustUser:      2,
	TrustManaged:   3,
}

// Capability is a single gated action class.
type Capability string

const (
	CapRead    Capability = "read"
	CapWrite   Capability = "write"
	CapExec    Capability = "exec"
	CapNetwork Capability = "network"
	CapHook    Capability = "hook"
	CapPlugin  Capability = "plugin"
	CapTrace   Capability = "trace"
)

// untrustedBlocked is the capability set blocked outright for untrusted
// manifests, regardless of the required tier comparison (spec.md §4.11).
var untrustedBlocked = map[Capability]bool{
	CapWrite:   true,
	CapExec:    true,
	CapNetwork: true,
	CapHook:    true,
	CapPlugin:  true,
}

// RiskProfile names a tool pack's capability profile.
type RiskProfile string

const (
	RiskReadOnly   RiskProfile = "read-only"
	RiskStandard   RiskProfile = "standard"
	RiskPrivileged RiskProfile = "privileged"
)

// capabilitiesByProfile maps a tool-pack risk profile to its capability
// set (spec.md §4.11).
var capabilitiesByProfile = map[RiskProfile]map[Capability]bool{
	RiskReadOnly:   {CapRead: true, CapTrace: true},
	RiskStandard:   {CapRead: true, CapWrite: true, CapTrace: true},
	RiskPrivileged: {CapRead: true, CapWrite: true, CapExec: true, CapNetwork: true, CapTrace: true},
}

// CapabilitiesFor returns the capability set for a risk profile.
func CapabilitiesFor(profile RiskProfile) map[Capability]bool {
	return capabilitiesByProfile[profile]
}

// TrustGate evaluates whether an extension manifest requiring
// requiredTier may exercise capability cap, given the current trust tier.
func TrustGate(currentTier, requiredTier TrustTier, cap Capability) (allowed bool, reason string) {
	if currentTier == TrustUntrusted && untrustedBlocked[cap] {
		return false, fmt.Sprintf("untrusted tier blocks capability %q", cap)
	}
	if trustRank[currentTier] < trustRank[requiredTier] {
		return false, fmt.Sprintf("current trust tier %q is below required tier %q", currentTier, requiredTier)
	}
	return true, ""
}
