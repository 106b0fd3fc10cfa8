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

// Package reconcile implements the Reconcile Loop from spec.md §4.10: an
// event-triggered pass that enforces caps, requests missing context, and
// escalates stale workers, notifying the orchestrator mailbox.
package reconcile

import (
	"time"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/mailbox"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/runtimepolicy"
)

// Trigger names the event that woke the reconcile loop (spec.md §4.10).
type Trigger string

const (
	TriggerInitialPlan       Trigger = "initial_plan"
	TriggerBatchClaimed      Trigger = "batch_claimed"
	TriggerTaskResolved      Trigger = "task_resolved"
	TriggerDependencyFailure Trigger = "dependency_failure"
	TriggerWorkerRestarted   Trigger = "worker_restarted"
	TriggerWorkerFailed      Trigger = "worker_failed"
	TriggerWorkerCompleted   Trigger = "worker_completed"
	TriggerHeartbeatStale    Trigger = "heartbeat_stale"
	TriggerRunCompleted      Trigger = "run_completed"
	TriggerRunFailed         Trigger = "run_failed"
)

// ActionKind names a remedial action appended to a Decision.
type ActionKind string

const (
	ActionNoop            ActionKind = "noop"
	ActionPolicyViolation ActionKind = "policy_violation"
	ActionEscalateUser    ActionKind = "escalate_user"
	ActionRequestContext  ActionKind = "request_context"
)

// Action is one ordered remedial step the caller should take.
type Action struct {
	Kind   ActionKind
	Detail string
}

// Input is the Reconcile Loop's per-invocation input (spec.md §4.10).
type Input struct {
	Trigger          Trigger
	PendingTaskCount int
	NeedsContext     []string
	Now              time.Time
}

// Decision is the Reconcile Loop's output: the ordered actions to take.
type Decision struct {
	Actions []Action
}

// Config bundles the dependencies and thresholds a reconcile pass needs.
type Config struct {
	Flags              runtimepolicy.Flags
	MaxTasks           int
	HeartbeatStaleness time.Duration
	StaleHeartbeats    []StaleHeartbeat
	Orchestrator       string // mailbox recipient id
}

// StaleHeartbeat is a worker heartbeat the caller has already determined
// exceeds the configured staleness.
type StaleHeartbeat struct {
	WorkerID string
	Age      time.Duration
}

// Run executes one reconcile pass against phases, sending alerts to mb and
// returning the ordered actions. If cfg.Flags.Reconcile is off, it returns
// a single noop action and leaves phases untouched (spec.md §4.10).
func Run(phases *runtimepolicy.PhaseMachine, mb *mailbox.Mailbox, cfg Config, in Input) (Decision, error) {
	if !cfg.Flags.Reconcile {
		return Decision{Actions: []Action{{Kind: ActionNoop}}}, nil
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	if err := phases.Transition(runtimepolicy.PhaseReconciling); err != nil {
		return Decision{}, err
	}

	var actions []Action

	if cfg.MaxTasks > 0 && in.PendingTaskCount > cfg.MaxTasks {
		_ = mb.Send(mailbox.Message{
			ID:        eventID("cap", now),
			Recipient: cfg.Orchestrator,
			Type:      "alert",
			Priority:  mailbox.PriorityCritical,
			Body:      "pending task count exceeds maxTasks",
			CreatedAt: now,
		})
		actions = append(actions,
			Action{Kind: ActionPolicyViolation, Detail: "pending task count exceeds maxTasks"},
			Action{Kind: ActionEscalateUser, Detail: "task cap violation"},
		)
	}

	for _, need := range in.NeedsContext {
		_ = mb.Send(mailbox.Message{
			ID:        eventID("ctx-"+need, now),
			Recipient: cfg.Orchestrator,
			Type:      "needs_context",
			Priority:  mailbox.PriorityHigh,
			Body:      need,
			CreatedAt: now,
		})
		actions = append(actions, Action{Kind: ActionRequestContext, Detail: need})
	}

	for _, hb := range cfg.StaleHeartbeats {
		if hb.Age <= cfg.HeartbeatStaleness {
			continue
		}
		_ = mb.Send(mailbox.Message{
			ID:        eventID("hb-"+hb.WorkerID, now),
			Recipient: cfg.Orchestrator,
			Type:      "heartbeat",
			Priority:  mailbox.PriorityCritical,
			Body:      hb.WorkerID,
			CreatedAt: now,
		})
		actions = append(actions, Action{Kind: ActionEscalateUser, Detail: "stale heartbeat: " + hb.WorkerID})
	}

	if err := phases.Transition(runtimepolicy.PhaseExecuting); err != nil {
		return Decision{}, err
	}

	if len(actions) == 0 {
		actions = []Action{{Kind: ActionNoop}}
	}
	return Decision{Actions: actions}, nil
}

func eventID(prefix string, now time.Time) string {
	return prefix + "-" + now.Format("20060102T150405.000000000")
}
