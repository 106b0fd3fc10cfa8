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

package teamstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatUpsert(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New("run-1", "do the thing", base)

	tr.Heartbeat("w1", HeartbeatBusy, "t1", base)
	tr.Heartbeat("w1", HeartbeatIdle, "", base.Add(time.Minute))

	hbs := tr.Heartbeats()
	require.Len(t, hbs, 1)
	assert.Equal(t, HeartbeatIdle, hbs[0].Status)
}

func TestGetStaleHeartbeats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New("run-1", "goal", base)

	tr.Heartbeat("fresh", HeartbeatBusy, "t1", base)
	tr.Heartbeat("stale", HeartbeatBusy, "t2", base.Add(-time.Hour))
	tr.Heartbeat("idle-old", HeartbeatIdle, "", base.Add(-time.Hour))

	stale := tr.GetStaleHeartbeats(30000, base)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].WorkerID)
}

func TestFinalizeFreezesPhase(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New("run-1", "goal", base)
	tr.Phase = "synthesizing"

	tr.Finalize("completed", base.Add(time.Minute))
	assert.Equal(t, "completed", tr.Phase)
	assert.True(t, tr.Finalized())

	tr.Finalize("failed", base.Add(time.Hour))
	assert.Equal(t, "completed", tr.Phase, "finalize is one-way")
}

func TestRecordEventTracksLastTrigger(t *testing.T) {
	tr := New("run-1", "goal", time.Now())
	tr.RecordEvent("batch_claimed")
	tr.RecordEvent("task_resolved")

	assert.Equal(t, "task_resolved", tr.LastTrigger)
	assert.Equal(t, []string{"batch_claimed", "task_resolved"}, tr.Events)
}
