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

// Package graph implements the dependency-aware, versioned, patchable,
// replayable Task Graph from spec.md §4.8, grounded on the Task state
// machine idiom of Hector's pkg/task/task.go.
package graph

import (
	"fmt"
	"regexp"
	"time"
)

// Status is a Task's lifecycle state (spec.md §3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusDeferred   Status = "deferred"
)

// IsTerminal reports whether the status is done or failed: no further
// transitions are permitted (spec.md §3, §8).
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidID reports whether id is a non-empty id in the safe charset.
func ValidID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

// Task is the unit of scheduled work in the Task Graph (spec.md §3).
type Task struct {
	ID          string
	Description string
	Status      Status
	BlockedBy   []string // set semantics; deduplicated on construction
	Priority    float64
	AssignedTo  string
	Result      string
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Metadata    map[string]any
}

// Clone returns a deep-enough copy of t: slices and the metadata map are
// copied so that mutating the clone never affects t.
func (t Task) Clone() Task {
	clone := t
	if t.BlockedBy != nil {
		clone.BlockedBy = append([]string(nil), t.BlockedBy...)
	}
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		st := *t.StartedAt
		clone.StartedAt = &st
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		clone.CompletedAt = &ct
	}
	return clone
}

// normalize trims Description, dedupes BlockedBy, and validates ID/Status.
func (t *Task) normalize() error {
	if !ValidID(t.ID) {
		return fmt.Errorf("graph: task id %q is empty or outside the safe charset", t.ID)
	}
	t.Description = trimSpace(t.Description)
	if t.Description == "" {
		return fmt.Errorf("graph: task %q has an empty description", t.ID)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	switch t.Status {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed, StatusDeferred:
	default:
		return fmt.Errorf("graph: task %q has unknown status %q", t.ID, t.Status)
	}

	seen := map[string]bool{}
	deduped := make([]string, 0, len(t.BlockedBy))
	for _, dep := range t.BlockedBy {
		if dep == t.ID {
			return fmt.Errorf("graph: task %q cannot depend on itself", t.ID)
		}
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deduped = append(deduped, dep)
	}
	t.BlockedBy = deduped
	return nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
