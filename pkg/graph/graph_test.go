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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addPatch(t Task) Patch {
	return Patch{Operations: []Operation{{Kind: OpAddTask, Task: t}}, Actor: "test", Reason: "seed"}
}

func TestApplyPatchAddTask(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "t1", Description: "first"}), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, g.Version())

	got, ok := g.Task("t1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
}

func TestApplyPatchVersionConflict(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "t1", Description: "first"}), 0)
	require.NoError(t, err)

	_, err = g.ApplyPatch(addPatch(Task{ID: "t2", Description: "second"}), 0)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.EqualValues(t, 0, conflict.Expected)
	assert.EqualValues(t, 1, conflict.Actual)
}

func TestAddTaskRejectsSelfDependency(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "t1", Description: "x", BlockedBy: []string{"t1"}}), 0)
	assert.Error(t, err)
	assert.EqualValues(t, 0, g.Version(), "rejected patch must not bump version")
}

func TestAddTaskRejectsUnknownDependency(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "t1", Description: "x", BlockedBy: []string{"ghost"}}), 0)
	assert.Error(t, err)
}

func TestApplyPatchRejectsCycle(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "a", Description: "a"}), 0)
	require.NoError(t, err)
	_, err = g.ApplyPatch(addPatch(Task{ID: "b", Description: "b", BlockedBy: []string{"a"}}), 1)
	require.NoError(t, err)

	cyclePatch := Patch{Operations: []Operation{
		{Kind: OpUpdateTask, TaskID: "a", Fields: map[string]any{"blockedBy": []string{"b"}}},
	}}
	_, err = g.ApplyPatch(cyclePatch, 2)
	assert.Error(t, err)
}

func TestUpdateTaskRejectsTerminalMutation(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "t1", Description: "x"}), 0)
	require.NoError(t, err)

	_, err = g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpUpdateTask, TaskID: "t1", Fields: map[string]any{"status": StatusDone}},
	}}, 1)
	require.NoError(t, err)

	_, err = g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpUpdateTask, TaskID: "t1", Fields: map[string]any{"status": StatusPending}},
	}}, 2)
	assert.Error(t, err)
}

func TestClaimReadyTasksOrdering(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpAddTask, Task: Task{ID: "low", Description: "low", Priority: 1}},
		{Kind: OpAddTask, Task: Task{ID: "high", Description: "high", Priority: 5}},
		{Kind: OpAddTask, Task: Task{ID: "mid", Description: "mid", Priority: 3}},
	}}, 0)
	require.NoError(t, err)

	claimed, err := g.ClaimReadyTasks(2, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "high", claimed[0].ID)
	assert.Equal(t, "mid", claimed[1].ID)

	low, ok := g.Task("low")
	require.True(t, ok)
	assert.Equal(t, StatusPending, low.Status, "unclaimed task stays pending")
}

func TestClaimReadyTasksRejectsZeroLimit(t *testing.T) {
	g := New()
	_, err := g.ClaimReadyTasks(0, time.Now())
	assert.Error(t, err)
}

func TestClaimReadyTasksSkipsUnmetDependencies(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpAddTask, Task: Task{ID: "base", Description: "base"}},
		{Kind: OpAddTask, Task: Task{ID: "dependent", Description: "dependent", BlockedBy: []string{"base"}}},
	}}, 0)
	require.NoError(t, err)

	claimed, err := g.ClaimReadyTasks(5, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "base", claimed[0].ID)
}

func TestMarkBlockedTasksAsFailedCascades(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpAddTask, Task: Task{ID: "root", Description: "root"}},
		{Kind: OpAddTask, Task: Task{ID: "mid", Description: "mid", BlockedBy: []string{"root"}}},
		{Kind: OpAddTask, Task: Task{ID: "leaf", Description: "leaf", BlockedBy: []string{"mid"}}},
	}}, 0)
	require.NoError(t, err)

	_, err = g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpUpdateTask, TaskID: "root", Fields: map[string]any{"status": StatusFailed}},
	}}, 1)
	require.NoError(t, err)

	failed := g.MarkBlockedTasksAsFailed()
	assert.ElementsMatch(t, []string{"mid", "leaf"}, failed)

	leaf, _ := g.Task("leaf")
	assert.Equal(t, StatusFailed, leaf.Status)
}

func TestReplayReproducesState(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "t1", Description: "first", Priority: 2}), 0)
	require.NoError(t, err)
	_, err = g.ApplyPatch(addPatch(Task{ID: "t2", Description: "second", BlockedBy: []string{"t1"}}), 1)
	require.NoError(t, err)
	_, err = g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpUpdateTask, TaskID: "t1", Fields: map[string]any{"status": StatusDone}},
	}}, 2)
	require.NoError(t, err)

	replayed, err := Replay(nil, g.Events())
	require.NoError(t, err)
	assert.Equal(t, g.Version(), replayed.Version())

	original := g.Tasks()
	reconstructed := replayed.Tasks()
	require.Equal(t, len(original), len(reconstructed))
	for i := range original {
		assert.Equal(t, original[i].ID, reconstructed[i].ID)
		assert.Equal(t, original[i].Status, reconstructed[i].Status)
	}
}

func TestReplayDetectsGraphVersionMismatch(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(addPatch(Task{ID: "t1", Description: "first"}), 0)
	require.NoError(t, err)

	events := g.Events()
	events[0].GraphVersion = 99

	_, err = Replay(nil, events)
	assert.Error(t, err)
}

func TestRemoveTaskRejectsWhenDependedOn(t *testing.T) {
	g := New()
	_, err := g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpAddTask, Task: Task{ID: "base", Description: "base"}},
		{Kind: OpAddTask, Task: Task{ID: "dependent", Description: "dependent", BlockedBy: []string{"base"}}},
	}}, 0)
	require.NoError(t, err)

	_, err = g.ApplyPatch(Patch{Operations: []Operation{
		{Kind: OpRemoveTask, TaskID: "base"},
	}}, 1)
	assert.Error(t, err)
}
