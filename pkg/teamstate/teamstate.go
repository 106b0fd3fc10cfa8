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

// Package teamstate implements the Team State Tracker from spec.md §4.9:
// the Team Coordinator's run-scoped shared state, keyed by run id, with
// per-worker heartbeats and a one-way finalize transition.
package teamstate

import "time"

// HeartbeatStatus is a worker's last reported liveness state.
type HeartbeatStatus string

const (
	HeartbeatBusy HeartbeatStatus = "busy"
	HeartbeatIdle HeartbeatStatus = "idle"
	HeartbeatDone HeartbeatStatus = "done"
)

// Heartbeat is the last-known status of one worker.
type Heartbeat struct {
	WorkerID  string
	Status    HeartbeatStatus
	TaskID    string
	UpdatedAt time.Time
}

// Tracker is the Team State Tracker: {runId, goal, phase, iteration,
// graphVersion, timestamps, heartbeats, events, lastTrigger} (spec.md
// §4.9). Tasks are not tracked here; they live in the Task Graph.
type Tracker struct {
	RunID        string
	Goal         string
	Phase        string
	Iteration    int
	GraphVersion int64
	StartedAt    time.Time
	CompletedAt  *time.Time
	LastTrigger  string
	Events       []string

	heartbeats map[string]Heartbeat
}

// New constructs a Tracker for a fresh run.
func New(runID, goal string, now time.Time) *Tracker {
	return &Tracker{
		RunID:      runID,
		Goal:       goal,
		Phase:      "idle",
		StartedAt:  now,
		heartbeats: map[string]Heartbeat{},
	}
}

// Heartbeat upserts the heartbeat for workerID in place.
func (t *Tracker) Heartbeat(workerID string, status HeartbeatStatus, taskID string, now time.Time) {
	t.heartbeats[workerID] = Heartbeat{
		WorkerID:  workerID,
		Status:    status,
		TaskID:    taskID,
		UpdatedAt: now,
	}
}

// Heartbeats returns every tracked heartbeat.
func (t *Tracker) Heartbeats() []Heartbeat {
	out := make([]Heartbeat, 0, len(t.heartbeats))
	for _, hb := range t.heartbeats {
		out = append(out, hb)
	}
	return out
}

// GetStaleHeartbeats returns heartbeats in status busy whose UpdatedAt is
// older than maxAgeMs relative to now (spec.md §4.9).
func (t *Tracker) GetStaleHeartbeats(maxAgeMs int64, now time.Time) []Heartbeat {
	threshold := time.Duration(maxAgeMs) * time.Millisecond
	var stale []Heartbeat
	for _, hb := range t.heartbeats {
		if hb.Status != HeartbeatBusy {
			continue
		}
		if now.Sub(hb.UpdatedAt) > threshold {
			stale = append(stale, hb)
		}
	}
	return stale
}

// RecordEvent appends a named event to the tracker's event history and
// updates LastTrigger.
func (t *Tracker) RecordEvent(trigger string) {
	t.LastTrigger = trigger
	t.Events = append(t.Events, trigger)
}

// Finalize stamps CompletedAt and freezes Phase at a terminal value.
// Subsequent calls are no-ops: once finalized, a Tracker never reopens.
func (t *Tracker) Finalize(phase string, now time.Time) {
	if t.CompletedAt != nil {
		return
	}
	t.Phase = phase
	completed := now
	t.CompletedAt = &completed
}

// Finalized reports whether Finalize has already run.
func (t *Tracker) Finalized() bool {
	return t.CompletedAt != nil
}
