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

package graph

import (
	"fmt"
	"sort"
	"time"
)

// Graph is the dependency-aware, versioned Task Graph (spec.md §4.8). Every
// mutation goes through ApplyPatch, which bumps graphVersion and appends a
// MutationEvent; Replay reconstructs state from a base set of tasks plus an
// event log, independent of wall-clock time.
type Graph struct {
	version int64
	tasks   map[string]*Task
	order   []string // insertion order, for stable claim tiebreaking
	events  []MutationEvent
}

// New returns an empty Graph at version 0.
func New() *Graph {
	return &Graph{tasks: map[string]*Task{}}
}

// Version returns the current graphVersion.
func (g *Graph) Version() int64 { return g.version }

// Task returns a copy of the task with id, if present.
func (g *Graph) Task(id string) (Task, bool) {
	t, ok := g.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every task, in insertion order.
func (g *Graph) Tasks() []Task {
	out := make([]Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id].Clone())
	}
	return out
}

// Events returns the full mutation event log, in application order.
func (g *Graph) Events() []MutationEvent {
	out := make([]MutationEvent, len(g.events))
	copy(out, g.events)
	return out
}

// OpKind names a Patch operation.
type OpKind string

const (
	OpAddTask    OpKind = "add_task"
	OpUpdateTask OpKind = "update_task"
	OpRemoveTask OpKind = "remove_task"
)

// Operation is a single step of a Patch.
type Operation struct {
	Kind   OpKind
	Task   Task           // used by add_task
	TaskID string         // used by update_task, remove_task
	Fields map[string]any // used by update_task: field name -> new value
}

// Patch is an ordered batch of operations applied atomically: either every
// operation in the patch succeeds, or none are applied and ApplyPatch
// returns an error (spec.md §4.8 "patches are atomic").
type Patch struct {
	Operations []Operation
	Actor      string
	Reason     string
}

// MutationEvent records one successfully applied Patch, enough to replay
// graph state deterministically (spec.md §4.8).
type MutationEvent struct {
	SchemaVersion   int
	Actor           string
	Reason          string
	ExpectedVersion int64
	GraphVersion    int64 // version AFTER this event was applied
	Patch           Patch
}

const mutationEventSchemaVersion = 1

// ConflictError is returned by ApplyPatch when expectedVersion does not
// match the graph's current version: optimistic-concurrency conflict
// (spec.md §4.8, §8).
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("graph: version conflict: expected %d, got %d", e.Expected, e.Actual)
}

// ApplyPatch validates expectedVersion against g.version, then applies every
// operation in patch in order. On any validation failure the graph is left
// unmodified and the zero MutationEvent is returned alongside the error.
func (g *Graph) ApplyPatch(patch Patch, expectedVersion int64) (MutationEvent, error) {
	if expectedVersion != g.version {
		return MutationEvent{}, &ConflictError{Expected: expectedVersion, Actual: g.version}
	}

	// Validate against a scratch copy first so a mid-patch failure never
	// leaves the graph partially mutated.
	scratch := g.clone()
	for _, op := range patch.Operations {
		if err := scratch.apply(op); err != nil {
			return MutationEvent{}, err
		}
	}
	if cyclePath, ok := detectCycle(scratch.tasks); ok {
		return MutationEvent{}, fmt.Errorf("graph: patch introduces a dependency cycle: %v", cyclePath)
	}

	for _, op := range patch.Operations {
		if err := g.apply(op); err != nil {
			// Unreachable: scratch already validated the identical sequence.
			return MutationEvent{}, err
		}
	}

	g.version++
	event := MutationEvent{
		SchemaVersion:   mutationEventSchemaVersion,
		Actor:           patch.Actor,
		Reason:          patch.Reason,
		ExpectedVersion: expectedVersion,
		GraphVersion:    g.version,
		Patch:           patch,
	}
	g.events = append(g.events, event)
	return event, nil
}

func (g *Graph) apply(op Operation) error {
	switch op.Kind {
	case OpAddTask:
		return g.addTask(op.Task)
	case OpUpdateTask:
		return g.updateTask(op.TaskID, op.Fields)
	case OpRemoveTask:
		return g.removeTask(op.TaskID)
	default:
		return fmt.Errorf("graph: unknown operation kind %q", op.Kind)
	}
}

func (g *Graph) addTask(t Task) error {
	if err := t.normalize(); err != nil {
		return err
	}
	if _, exists := g.tasks[t.ID]; exists {
		return fmt.Errorf("graph: task %q already exists", t.ID)
	}
	for _, dep := range t.BlockedBy {
		if _, exists := g.tasks[dep]; !exists {
			return fmt.Errorf("graph: task %q depends on unknown task %q", t.ID, dep)
		}
	}
	stored := t.Clone()
	g.tasks[t.ID] = &stored
	g.order = append(g.order, t.ID)
	return nil
}

// updateTask applies a partial field update. Transitioning a terminal task
// (done/failed) to any other status is rejected: terminal states are
// immutable (spec.md §3, §8); re-setting the same terminal status is
// accepted. deferred is not terminal, so deferred->pending re-queues are
// ordinary updates.
func (g *Graph) updateTask(id string, fields map[string]any) error {
	existing, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("graph: task %q does not exist", id)
	}
	next := existing.Clone()

	for field, value := range fields {
		switch field {
		case "status":
			s, ok := value.(Status)
			if !ok {
				if str, ok := value.(string); ok {
					s = Status(str)
				} else {
					return fmt.Errorf("graph: task %q: status must be a Status", id)
				}
			}
			if existing.Status.IsTerminal() && s != existing.Status {
				return fmt.Errorf("graph: task %q: status %q is terminal and immutable", id, existing.Status)
			}
			next.Status = s
		case "assignedTo":
			next.AssignedTo, _ = value.(string)
		case "result":
			next.Result, _ = value.(string)
		case "error":
			next.Error, _ = value.(string)
		case "priority":
			p, ok := value.(float64)
			if !ok {
				return fmt.Errorf("graph: task %q: priority must be a float64", id)
			}
			next.Priority = p
		case "blockedBy":
			deps, ok := value.([]string)
			if !ok {
				return fmt.Errorf("graph: task %q: blockedBy must be []string", id)
			}
			next.BlockedBy = deps
		case "metadata":
			m, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("graph: task %q: metadata must be map[string]any", id)
			}
			next.Metadata = m
		case "startedAt":
			ts, ok := value.(*time.Time)
			if !ok {
				return fmt.Errorf("graph: task %q: startedAt must be *time.Time", id)
			}
			next.StartedAt = ts
		case "completedAt":
			ts, ok := value.(*time.Time)
			if !ok {
				return fmt.Errorf("graph: task %q: completedAt must be *time.Time", id)
			}
			next.CompletedAt = ts
		default:
			return fmt.Errorf("graph: task %q: unknown update field %q", id, field)
		}
	}

	if err := next.normalize(); err != nil {
		return err
	}
	for _, dep := range next.BlockedBy {
		if _, exists := g.tasks[dep]; !exists {
			return fmt.Errorf("graph: task %q depends on unknown task %q", id, dep)
		}
	}

	stored := next
	g.tasks[id] = &stored
	return nil
}

func (g *Graph) removeTask(id string) error {
	if _, ok := g.tasks[id]; !ok {
		return fmt.Errorf("graph: task %q does not exist", id)
	}
	for _, other := range g.tasks {
		for _, dep := range other.BlockedBy {
			if dep == id {
				return fmt.Errorf("graph: cannot remove task %q: task %q depends on it", id, other.ID)
			}
		}
	}
	delete(g.tasks, id)
	for i, existingID := range g.order {
		if existingID == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

func (g *Graph) clone() *Graph {
	clone := &Graph{
		version: g.version,
		tasks:   make(map[string]*Task, len(g.tasks)),
		order:   append([]string(nil), g.order...),
	}
	for id, t := range g.tasks {
		copied := t.Clone()
		clone.tasks[id] = &copied
	}
	return clone
}

// detectCycle runs a DFS over BlockedBy edges (dependent -> dependency) and
// reports the first cycle found, if any.
func detectCycle(tasks map[string]*Task) ([]string, bool) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		switch state[id] {
		case visiting:
			return append(append([]string(nil), path...), id), true
		case done:
			return nil, false
		}
		state[id] = visiting
		path = append(path, id)
		if t, ok := tasks[id]; ok {
			for _, dep := range t.BlockedBy {
				if cycle, found := visit(dep); found {
					return cycle, true
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil, false
	}

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			if cycle, found := visit(id); found {
				return cycle, true
			}
		}
	}
	return nil, false
}

// ClaimReadyTasks selects up to limit pending tasks whose dependencies are
// all done, ordered by Priority descending then insertion order, marks them
// in_progress with a startedAt timestamp, and records the claim as a
// mutation event with reason "claim_ready_tasks" (spec.md §4.8). limit must
// be > 0 (spec.md §4.8 "rejects limit==0").
func (g *Graph) ClaimReadyTasks(limit int, now time.Time) ([]Task, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("graph: claim limit must be > 0, got %d", limit)
	}

	var ready []string
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status != StatusPending {
			continue
		}
		if g.allDependenciesDone(t) {
			ready = append(ready, id)
		}
	}

	insertionIndex := make(map[string]int, len(g.order))
	for i, id := range g.order {
		insertionIndex[id] = i
	}
	sort.SliceStable(ready, func(i, j int) bool {
		ti, tj := g.tasks[ready[i]], g.tasks[ready[j]]
		if ti.Priority != tj.Priority {
			return ti.Priority > tj.Priority
		}
		return insertionIndex[ready[i]] < insertionIndex[ready[j]]
	})

	if len(ready) > limit {
		ready = ready[:limit]
	}
	if len(ready) == 0 {
		return nil, nil
	}

	startedAt := now
	ops := make([]Operation, 0, len(ready))
	for _, id := range ready {
		ops = append(ops, Operation{
			Kind:   OpUpdateTask,
			TaskID: id,
			Fields: map[string]any{"status": StatusInProgress, "startedAt": &startedAt},
		})
	}
	patch := Patch{Operations: ops, Actor: "scheduler", Reason: "claim_ready_tasks"}
	if _, err := g.ApplyPatch(patch, g.version); err != nil {
		return nil, fmt.Errorf("graph: claim_ready_tasks: %w", err)
	}

	claimed := make([]Task, 0, len(ready))
	for _, id := range ready {
		claimed = append(claimed, g.tasks[id].Clone())
	}
	return claimed, nil
}

func (g *Graph) allDependenciesDone(t *Task) bool {
	for _, dep := range t.BlockedBy {
		d, ok := g.tasks[dep]
		if !ok || d.Status != StatusDone {
			return false
		}
	}
	return true
}

// MarkBlockedTasksAsFailed cascades failure: any non-terminal task that
// (transitively) depends on a failed task is marked failed, to a fixed
// point, matching the dependency-failure-cascade testable property
// (spec.md §8). Each task is failed through ApplyPatch, so every change is
// versioned and recorded for Replay. It returns the ids newly marked
// failed, in a deterministic order.
func (g *Graph) MarkBlockedTasksAsFailed() []string {
	var newlyFailed []string
	for {
		progressed := false
		for _, id := range g.order {
			t := g.tasks[id]
			if t.Status.IsTerminal() {
				continue
			}
			for _, dep := range t.BlockedBy {
				if d, ok := g.tasks[dep]; ok && d.Status == StatusFailed {
					patch := Patch{
						Operations: []Operation{{Kind: OpUpdateTask, TaskID: id, Fields: map[string]any{
							"status": StatusFailed,
							"error":  fmt.Sprintf("Blocked by failed dependency %q", dep),
						}}},
						Actor:  "scheduler",
						Reason: "mark_blocked_tasks_as_failed",
					}
					if _, err := g.ApplyPatch(patch, g.version); err != nil {
						break
					}
					newlyFailed = append(newlyFailed, id)
					progressed = true
					break
				}
			}
		}
		if !progressed {
			break
		}
	}
	return newlyFailed
}

// Replay reconstructs a Graph by starting from initialTasks (at version 0)
// and applying each event's Patch in order, checking that the resulting
// version matches event.GraphVersion at every step (spec.md §4.8
// "deterministic replay").
func Replay(initialTasks []Task, events []MutationEvent) (*Graph, error) {
	g := New()
	for _, t := range initialTasks {
		if err := g.addTask(t); err != nil {
			return nil, fmt.Errorf("graph: replay: seeding initial tasks: %w", err)
		}
	}

	for i, event := range events {
		applied, err := g.ApplyPatch(event.Patch, event.ExpectedVersion)
		if err != nil {
			return nil, fmt.Errorf("graph: replay: event %d: %w", i, err)
		}
		if applied.GraphVersion != event.GraphVersion {
			return nil, fmt.Errorf("graph: replay: event %d: graphVersion mismatch: recorded %d, replayed %d",
				i, event.GraphVersion, applied.GraphVersion)
		}
	}
	return g, nil
}
