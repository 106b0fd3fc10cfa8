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

package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/mailbox"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/runtimepolicy"
)

func executingMachine(t *testing.T) *runtimepolicy.PhaseMachine {
	t.Helper()
	m := runtimepolicy.NewPhaseMachine()
	require.NoError(t, m.Transition(runtimepolicy.PhasePlanning))
	require.NoError(t, m.Transition(runtimepolicy.PhaseExecuting))
	return m
}

func TestRunNoopWhenFlagOff(t *testing.T) {
	m := executingMachine(t)
	mb := mailbox.New()

	decision, err := Run(m, mb, Config{}, Input{Trigger: TriggerBatchClaimed})
	require.NoError(t, err)
	require.Len(t, decision.Actions, 1)
	assert.Equal(t, ActionNoop, decision.Actions[0].Kind)
	assert.Equal(t, runtimepolicy.PhaseExecuting, m.Current(), "phase unchanged when reconcile is off")
}

func TestRunEnforcesTaskCap(t *testing.T) {
	m := executingMachine(t)
	mb := mailbox.New()
	cfg := Config{
		Flags:        runtimepolicy.Flags{Reconcile: true},
		MaxTasks:     5,
		Orchestrator: "orchestrator",
	}

	decision, err := Run(m, mb, cfg, Input{Trigger: TriggerBatchClaimed, PendingTaskCount: 9, Now: time.Now()})
	require.NoError(t, err)
	require.Len(t, decision.Actions, 2)
	assert.Equal(t, ActionPolicyViolation, decision.Actions[0].Kind)
	assert.Equal(t, ActionEscalateUser, decision.Actions[1].Kind)
	assert.Equal(t, runtimepolicy.PhaseExecuting, m.Current(), "phase restored to executing")

	msgs := mb.List("orchestrator", mailbox.ListOptions{})
	require.Len(t, msgs, 1)
	assert.Equal(t, mailbox.PriorityCritical, msgs[0].Priority)
}

func TestRunRequestsContext(t *testing.T) {
	m := executingMachine(t)
	mb := mailbox.New()
	cfg := Config{Flags: runtimepolicy.Flags{Reconcile: true}, Orchestrator: "orchestrator"}

	decision, err := Run(m, mb, cfg, Input{Trigger: TriggerTaskResolved, NeedsContext: []string{"missing file"}, Now: time.Now()})
	require.NoError(t, err)
	require.Len(t, decision.Actions, 1)
	assert.Equal(t, ActionRequestContext, decision.Actions[0].Kind)

	msgs := mb.List("orchestrator", mailbox.ListOptions{Type: "needs_context"})
	require.Len(t, msgs, 1)
	assert.Equal(t, mailbox.PriorityHigh, msgs[0].Priority)
}

func TestRunEscalatesStaleHeartbeats(t *testing.T) {
	m := executingMachine(t)
	mb := mailbox.New()
	cfg := Config{
		Flags:              runtimepolicy.Flags{Reconcile: true},
		HeartbeatStaleness: 30 * time.Second,
		StaleHeartbeats:    []StaleHeartbeat{{WorkerID: "w1", Age: time.Minute}},
		Orchestrator:       "orchestrator",
	}

	decision, err := Run(m, mb, cfg, Input{Trigger: TriggerHeartbeatStale, Now: time.Now()})
	require.NoError(t, err)
	require.Len(t, decision.Actions, 1)
	assert.Equal(t, ActionEscalateUser, decision.Actions[0].Kind)
}
