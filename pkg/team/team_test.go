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

package team

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/graph"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/mailbox"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/metrics"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/runtimepolicy"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tracing"
)

type fakePlanner struct {
	tasks         []PlannedTask
	planErr       error
	summary       string
	synthesizeErr error
}

func (p *fakePlanner) Plan(ctx context.Context, goal string) ([]PlannedTask, error) {
	if p.planErr != nil {
		return nil, p.planErr
	}
	return p.tasks, nil
}

func (p *fakePlanner) Synthesize(ctx context.Context, goal string, tasks []graph.Task) (string, error) {
	if p.synthesizeErr != nil {
		return "", p.synthesizeErr
	}
	if p.summary != "" {
		return p.summary, nil
	}
	return fmt.Sprintf("synthesized %d tasks for %s", len(tasks), goal), nil
}

func baseConfig(planner Planner, worker WorkerFunc) Config {
	caps := runtimepolicy.DefaultCaps()
	caps.MaxRuntime = 10 * time.Second
	caps.WorkerTimeout = 2 * time.Second
	return Config{
		Planner:      planner,
		Worker:       worker,
		Orchestrator: "orchestrator",
		Caps:         caps,
	}
}

func TestRunSingleTaskSucceeds(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{{ID: "t1", Description: "do the thing"}}}
	worker := func(ctx context.Context, task graph.Task) (string, error) {
		return "done: " + task.ID, nil
	}

	c := New(baseConfig(planner, worker), "run-1", time.Now())
	outcome, err := c.Run(context.Background(), "ship it")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Tasks, 1)
	assert.Equal(t, graph.StatusDone, outcome.Tasks[0].Status)
	assert.Equal(t, "done: t1", outcome.Tasks[0].Result)
}

func TestRunDependencyCascadeFailsDependents(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{
		{ID: "a", Description: "first"},
		{ID: "b", Description: "second", BlockedBy: []string{"a"}},
	}}
	worker := func(ctx context.Context, task graph.Task) (string, error) {
		if task.ID == "a" {
			return "", fmt.Errorf("boom")
		}
		return "ok", nil
	}

	c := New(baseConfig(planner, worker), "run-2", time.Now())
	outcome, err := c.Run(context.Background(), "do two things")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)

	byID := map[string]graph.Task{}
	for _, task := range outcome.Tasks {
		byID[task.ID] = task
	}
	assert.Equal(t, graph.StatusFailed, byID["a"].Status)
	assert.Equal(t, graph.StatusFailed, byID["b"].Status)
	assert.Contains(t, byID["b"].Error, "Blocked by failed dependency")
}

func TestRunWorkerTimeoutIsRestartedThenFails(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{{ID: "slow", Description: "never returns"}}}
	worker := func(ctx context.Context, task graph.Task) (string, error) {
		// Ignores ctx deliberately so the hard deadline in runOneAttempt is
		// always what fires, not a race with this worker noticing cancellation.
		time.Sleep(2 * time.Second)
		return "too late", nil
	}

	cfg := baseConfig(planner, worker)
	cfg.Caps.WorkerTimeout = 20 * time.Millisecond
	cfg.WorkerRestartLimit = 1

	c := New(cfg, "run-3", time.Now())
	outcome, err := c.Run(context.Background(), "wait forever")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)
	require.Len(t, outcome.Tasks, 1)
	assert.Equal(t, graph.StatusFailed, outcome.Tasks[0].Status)
	assert.Contains(t, outcome.Tasks[0].Error, "timed out")
}

func TestRunRejectsPlanExceedingTaskCap(t *testing.T) {
	tasks := make([]PlannedTask, 6)
	for i := range tasks {
		tasks[i] = PlannedTask{ID: fmt.Sprintf("t%d", i), Description: "work"}
	}
	planner := &fakePlanner{tasks: tasks}
	worker := func(ctx context.Context, task graph.Task) (string, error) { return "ok", nil }

	c := New(baseConfig(planner, worker), "run-4", time.Now())
	_, err := c.Run(context.Background(), "too much")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeding the cap of 5")
}

func TestRunRejectsDuplicatePlannedIDs(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{
		{ID: "dup", Description: "one"},
		{ID: "dup", Description: "two"},
	}}
	worker := func(ctx context.Context, task graph.Task) (string, error) { return "ok", nil }

	c := New(baseConfig(planner, worker), "run-5", time.Now())
	_, err := c.Run(context.Background(), "dup ids")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate planned task id")
}

func TestRunBroadcastsLifecycleEvents(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{{ID: "t1", Description: "do it"}}}
	worker := func(ctx context.Context, task graph.Task) (string, error) { return "ok", nil }

	c := New(baseConfig(planner, worker), "run-6", time.Now())
	_, err := c.Run(context.Background(), "broadcast check")
	require.NoError(t, err)

	msgs := c.Mailbox().List("orchestrator", mailbox.ListOptions{IncludeDelivered: true})
	var types []string
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	assert.Contains(t, types, "plan_created")
	assert.Contains(t, types, "batch_claimed")
	assert.Contains(t, types, "run_completed")
}

func TestRunWithVerificationRequeuesRejectedTaskOnce(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{{ID: "t1", Description: "needs review"}}}
	attempts := 0
	worker := func(ctx context.Context, task graph.Task) (string, error) {
		attempts++
		return fmt.Sprintf("attempt-%d", attempts), nil
	}
	verifyCalls := 0
	verifier := verifierFunc(func(ctx context.Context, task graph.Task, result string) (bool, string, error) {
		verifyCalls++
		return verifyCalls > 1, "needs another pass", nil
	})

	cfg := baseConfig(planner, worker)
	cfg.Verifier = verifier
	cfg.VerifyBeforeComplete = true

	c := New(cfg, "run-7", time.Now())
	outcome, err := c.Run(context.Background(), "review loop")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Tasks, 1)
	assert.Equal(t, graph.StatusDone, outcome.Tasks[0].Status)
	assert.Equal(t, 2, attempts)
}

func TestRunWithMetricsAndTracerDoesNotChangeOutcome(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{{ID: "t1", Description: "do the thing"}}}
	worker := func(ctx context.Context, task graph.Task) (string, error) {
		return "done: " + task.ID, nil
	}

	cfg := baseConfig(planner, worker)
	cfg.Metrics = metrics.New(prometheus.NewRegistry())
	cfg.Tracer = tracing.New()

	c := New(cfg, "run-9", time.Now())
	outcome, err := c.Run(context.Background(), "ship it")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
}

func TestRunWithRegressionGatesReportsReplayMatch(t *testing.T) {
	planner := &fakePlanner{tasks: []PlannedTask{{ID: "t1", Description: "do it"}}}
	worker := func(ctx context.Context, task graph.Task) (string, error) { return "ok", nil }

	cfg := baseConfig(planner, worker)
	cfg.Flags.RegressionGates = true

	c := New(cfg, "run-8", time.Now())
	outcome, err := c.Run(context.Background(), "regression check")
	require.NoError(t, err)
	require.NotNil(t, outcome.Regression)
	assert.True(t, outcome.Regression.ReplayMatches)
	assert.True(t, outcome.Regression.CapsRespected)
	assert.Empty(t, outcome.Regression.Violations)
}

type verifierFunc func(ctx context.Context, task graph.Task, result string) (bool, string, error)

func (f verifierFunc) Verify(ctx context.Context, task graph.Task, result string) (bool, string, error) {
	return f(ctx, task, result)
}
