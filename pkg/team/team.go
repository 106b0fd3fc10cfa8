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

// Package team implements the Team Coordinator from spec.md §4.12: given a
// high-level goal, plan a Task Graph, run a bounded worker pool against it
// to completion, and synthesize a final summary. Parallel worker attempts
// are grounded on the errgroup-based fan-out idiom of Hector's
// workflowagent.NewParallel.
package team

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/graph"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/mailbox"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/metrics"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/reconcile"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/runtimepolicy"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/teamstate"
	"github.com/HyperBlaze456/ssenrah-sub000/pkg/tracing"
)

// Planner is the LLM-backed contract the Team Coordinator drives for
// planning and synthesis (spec.md §4.12).
type Planner interface {
	// Plan asks for a JSON array of up to 5 tasks for goal.
	Plan(ctx context.Context, goal string) ([]PlannedTask, error)
	// Synthesize summarizes the finished run.
	Synthesize(ctx context.Context, goal string, tasks []graph.Task) (string, error)
}

// PlannedTask is one task as proposed by the planner, before graph
// construction.
type PlannedTask struct {
	ID          string
	Description string
	BlockedBy   []string
	Priority    float64
}

// Verifier optionally reviews a successful worker outcome before the task
// is marked done (spec.md §4.12 "verify-before-complete").
type Verifier interface {
	Verify(ctx context.Context, task graph.Task, result string) (approved bool, reason string, err error)
}

// WorkerFunc executes one task attempt; ctx is cancelled when the
// per-attempt deadline (Caps.WorkerTimeout) passes or the run's own context
// is cancelled.
type WorkerFunc func(ctx context.Context, task graph.Task) (result string, err error)

// Config configures a Team Coordinator run.
type Config struct {
	Planner      Planner
	Worker       WorkerFunc
	Verifier     Verifier // optional
	Orchestrator string   // mailbox recipient id

	Flags runtimepolicy.Flags
	Caps  runtimepolicy.Caps

	// VerifyBeforeComplete, when true, defers successful outcomes to
	// "deferred" pending Verifier approval instead of "done" directly.
	VerifyBeforeComplete bool

	// WorkerRestartLimit bounds restarts for workers that fail with
	// "killed by Beholder" or "timed out" reasons (spec.md §4.12).
	WorkerRestartLimit int

	// Metrics, when set, records worker-pool occupancy and restarts. A nil
	// Collector is safe to use.
	Metrics *metrics.Collector
	// Tracer, when set, opens a span per run and per worker attempt.
	Tracer *tracing.Tracer
}

// Status is the Team Coordinator run's terminal outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome is the Team Coordinator's return value.
type Outcome struct {
	Status     Status
	Tasks      []graph.Task
	Summary    string
	Regression *RegressionReport
}

// Coordinator runs a single high-level goal to completion.
type Coordinator struct {
	cfg     Config
	mailbox *mailbox.Mailbox
	phases  *runtimepolicy.PhaseMachine
	state   *teamstate.Tracker
	graph   *graph.Graph
}

// New constructs a Coordinator for a fresh run.
func New(cfg Config, runID string, now time.Time) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		mailbox: mailbox.New(),
		phases:  runtimepolicy.NewPhaseMachine(),
		state:   teamstate.New(runID, "", now),
		graph:   graph.New(),
	}
}

// Mailbox exposes the coordinator's mailbox, mainly for test inspection.
func (c *Coordinator) Mailbox() *mailbox.Mailbox { return c.mailbox }

// Graph exposes the coordinator's task graph, mainly for test inspection.
func (c *Coordinator) Graph() *graph.Graph { return c.graph }

// Run executes the full Team Coordinator cycle for goal (spec.md §4.12).
func (c *Coordinator) Run(ctx context.Context, goal string) (*Outcome, error) {
	c.state.Goal = goal
	deadline := time.Now().Add(c.cfg.Caps.MaxRuntime)

	if c.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = c.cfg.Tracer.StartTeamRun(ctx, c.state.RunID, goal)
		defer span.End()
	}

	// Step 1: plan.
	if err := c.phases.Transition(runtimepolicy.PhasePlanning); err != nil {
		return nil, err
	}
	planned, err := c.cfg.Planner.Plan(ctx, goal)
	if err != nil {
		_ = c.phases.Transition(runtimepolicy.PhaseFailed)
		return nil, fmt.Errorf("team: plan: %w", err)
	}
	if err := validatePlan(planned); err != nil {
		_ = c.phases.Transition(runtimepolicy.PhaseFailed)
		return nil, fmt.Errorf("team: %w", err)
	}
	if err := c.buildGraph(planned); err != nil {
		_ = c.phases.Transition(runtimepolicy.PhaseFailed)
		return nil, fmt.Errorf("team: %w", err)
	}
	c.broadcast("plan_created", mailbox.PriorityNormal, goal)

	// Step 2: execute.
	if err := c.phases.Transition(runtimepolicy.PhaseExecuting); err != nil {
		return nil, err
	}
	if err := c.executeLoop(ctx, deadline); err != nil {
		_ = c.phases.Transition(runtimepolicy.PhaseFailed)
		c.broadcast("run_failed", mailbox.PriorityHigh, err.Error())
		c.state.Finalize("failed", time.Now())
		return &Outcome{Status: StatusFailed, Tasks: c.graph.Tasks(), Summary: err.Error()}, nil
	}

	// Step 3: synthesize.
	if err := c.phases.Transition(runtimepolicy.PhaseSynthesizing); err != nil {
		return nil, err
	}
	tasks := c.graph.Tasks()
	summary, err := c.cfg.Planner.Synthesize(ctx, goal, tasks)
	if err != nil {
		summary = fmt.Sprintf("synthesis failed: %v", err)
	}

	status := StatusCompleted
	failed := countFailed(tasks)
	if failed > 0 {
		status = StatusFailed
	}
	if status == StatusCompleted {
		c.broadcast("run_completed", mailbox.PriorityNormal, summary)
		_ = c.phases.Transition(runtimepolicy.PhaseCompleted)
	} else {
		c.broadcast("run_failed", mailbox.PriorityHigh, summary)
		_ = c.phases.Transition(runtimepolicy.PhaseFailed)
	}
	c.state.Finalize(string(status), time.Now())

	outcome := &Outcome{Status: status, Tasks: tasks, Summary: summary}

	// Step 4: regression gates.
	if c.cfg.Flags.RegressionGates {
		outcome.Regression = c.evaluateRegression()
	}

	return outcome, nil
}

// RegressionReport records whether a finished run's Task Graph survives the
// checks spec.md §4.12 calls "regression gates": the event log replays to
// the same terminal state, and the task count stayed inside MaxTasks. No
// trust-tier check is made.
type RegressionReport struct {
	ReplayMatches bool
	CapsRespected bool
	Violations    []string
}

// evaluateRegression replays the graph's own mutation log from scratch and
// compares it against the live graph, then checks the run's task count
// against Caps.MaxTasks. It never fails the run
// itself; violations are reported for the caller to act on.
func (c *Coordinator) evaluateRegression() *RegressionReport {
	report := &RegressionReport{ReplayMatches: true, CapsRespected: true}

	replayed, err := graph.Replay(nil, c.graph.Events())
	if err != nil {
		report.ReplayMatches = false
		report.Violations = append(report.Violations, fmt.Sprintf("replay failed: %v", err))
	} else if !tasksEqual(replayed.Tasks(), c.graph.Tasks()) {
		report.ReplayMatches = false
		report.Violations = append(report.Violations, "replayed graph diverges from live graph")
	}

	if live := len(c.graph.Tasks()); live > c.cfg.Caps.MaxTasks {
		report.CapsRespected = false
		report.Violations = append(report.Violations, fmt.Sprintf("task count %d exceeds max_tasks %d", live, c.cfg.Caps.MaxTasks))
	}

	return report
}

func tasksEqual(a, b []graph.Task) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]graph.Task, len(a))
	for _, t := range a {
		byID[t.ID] = t
	}
	for _, t := range b {
		other, ok := byID[t.ID]
		if !ok || other.Status != t.Status || other.Result != t.Result {
			return false
		}
	}
	return true
}

func validatePlan(planned []PlannedTask) error {
	if len(planned) == 0 {
		return fmt.Errorf("planner returned no tasks")
	}
	if len(planned) > 5 {
		return fmt.Errorf("planner returned %d tasks, exceeding the cap of 5", len(planned))
	}
	seen := map[string]bool{}
	for _, t := range planned {
		if t.ID == "" {
			return fmt.Errorf("planned task has an empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate planned task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range planned {
		for _, dep := range t.BlockedBy {
			if !seen[dep] {
				return fmt.Errorf("planned task %q references unknown dependency %q", t.ID, dep)
			}
		}
	}
	return nil
}

func (c *Coordinator) buildGraph(planned []PlannedTask) error {
	ops := make([]graph.Operation, 0, len(planned))
	for _, p := range planned {
		ops = append(ops, graph.Operation{
			Kind: graph.OpAddTask,
			Task: graph.Task{
				ID:          p.ID,
				Description: p.Description,
				BlockedBy:   p.BlockedBy,
				Priority:    p.Priority,
			},
		})
	}
	_, err := c.graph.ApplyPatch(graph.Patch{Operations: ops, Actor: "planner", Reason: "plan_created"}, c.graph.Version())
	return err
}

func (c *Coordinator) executeLoop(ctx context.Context, deadline time.Time) error {
	for !c.graphComplete() {
		if time.Now().After(deadline) {
			return fmt.Errorf("runtime budget exceeded")
		}

		batch, err := c.graph.ClaimReadyTasks(c.cfg.Caps.MaxWorkers, time.Now())
		if err != nil {
			return fmt.Errorf("claim ready tasks: %w", err)
		}
		if len(batch) == 0 {
			newlyFailed := c.graph.MarkBlockedTasksAsFailed()
			c.broadcast("tasks_dependency_failed", mailbox.PriorityHigh, newlyFailed)
			if _, err := reconcile.Run(c.phases, c.mailbox, c.reconcileConfig(time.Now()), reconcile.Input{
				Trigger:          reconcile.TriggerDependencyFailure,
				PendingTaskCount: c.pendingCount(),
				Now:              time.Now(),
			}); err != nil {
				return err
			}
			if len(newlyFailed) == 0 && c.pendingCount() > 0 {
				return fmt.Errorf("no progress possible: pending tasks remain with no newly failed dependents")
			}
			continue
		}
		c.broadcast("batch_claimed", mailbox.PriorityNormal, len(batch))

		outcomes := c.runBatch(ctx, batch)
		c.resolveOutcomes(outcomes)

		if c.cfg.VerifyBeforeComplete && c.cfg.Verifier != nil {
			c.runVerification(ctx)
		}

		c.graph.MarkBlockedTasksAsFailed()
		if _, err := reconcile.Run(c.phases, c.mailbox, c.reconcileConfig(time.Now()), reconcile.Input{
			Trigger:          reconcile.TriggerTaskResolved,
			PendingTaskCount: c.pendingCount(),
			Now:              time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) reconcileConfig(now time.Time) reconcile.Config {
	var stale []reconcile.StaleHeartbeat
	for _, hb := range c.state.GetStaleHeartbeats(c.cfg.Caps.HeartbeatStaleness.Milliseconds(), now) {
		stale = append(stale, reconcile.StaleHeartbeat{WorkerID: hb.WorkerID, Age: now.Sub(hb.UpdatedAt)})
	}
	return reconcile.Config{
		Flags:              c.cfg.Flags,
		MaxTasks:           c.cfg.Caps.MaxTasks,
		HeartbeatStaleness: c.cfg.Caps.HeartbeatStaleness,
		StaleHeartbeats:    stale,
		Orchestrator:       c.cfg.Orchestrator,
	}
}

type workerOutcome struct {
	task   graph.Task
	result string
	err    error
}

// runBatch runs one worker attempt per claimed task concurrently under a
// per-task hard deadline, restarting on Beholder-kill or timeout failures
// up to WorkerRestartLimit times (spec.md §4.12).
func (c *Coordinator) runBatch(ctx context.Context, batch []graph.Task) []workerOutcome {
	outcomes := make([]workerOutcome, len(batch))
	var mu sync.Mutex
	var busy int
	group, groupCtx := errgroup.WithContext(ctx)

	c.cfg.Metrics.SetWorkerGauges(0, c.cfg.Caps.MaxWorkers)
	for i, task := range batch {
		i, task := i, task
		group.Go(func() error {
			mu.Lock()
			busy++
			c.cfg.Metrics.SetWorkerGauges(busy, c.cfg.Caps.MaxWorkers-busy)
			mu.Unlock()

			result, err := c.runWithRestarts(groupCtx, task)

			mu.Lock()
			outcomes[i] = workerOutcome{task: task, result: result, err: err}
			busy--
			c.cfg.Metrics.SetWorkerGauges(busy, c.cfg.Caps.MaxWorkers-busy)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

func (c *Coordinator) runWithRestarts(ctx context.Context, task graph.Task) (string, error) {
	var lastErr error
	attempts := c.cfg.WorkerRestartLimit + 1
	for attempt := 0; attempt < attempts; attempt++ {
		attemptCtx := ctx
		var span trace.Span
		if c.cfg.Tracer != nil {
			attemptCtx, span = c.cfg.Tracer.StartWorkerAttempt(ctx, task.ID, attempt)
		}
		result, err := c.runOneAttempt(attemptCtx, task)
		if span != nil {
			span.End()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !restartable(err) {
			return "", err
		}
		c.cfg.Metrics.ObserveWorkerRestart(restartReason(err))
	}
	return "", lastErr
}

func restartReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "killed by Beholder"):
		return "killed_by_beholder"
	case strings.Contains(msg, "timed out"):
		return "timed_out"
	default:
		return "unknown"
	}
}

func restartable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "killed by Beholder") || strings.Contains(msg, "timed out")
}

func (c *Coordinator) runOneAttempt(ctx context.Context, task graph.Task) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Caps.WorkerTimeout)
	defer cancel()

	c.state.Heartbeat(task.ID, teamstate.HeartbeatBusy, task.ID, time.Now())
	c.state.RecordEvent("worker_attempt_started")

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.cfg.Worker(attemptCtx, task)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		c.state.Heartbeat(task.ID, teamstate.HeartbeatDone, task.ID, time.Now())
		return r.out, r.err
	case <-attemptCtx.Done():
		c.state.Heartbeat(task.ID, teamstate.HeartbeatIdle, task.ID, time.Now())
		return "", fmt.Errorf("Worker timed out after %dms", c.cfg.Caps.WorkerTimeout.Milliseconds())
	}
}

func (c *Coordinator) resolveOutcomes(outcomes []workerOutcome) {
	for _, o := range outcomes {
		c.state.RecordEvent("worker_attempt_finished")

		status := graph.StatusDone
		errMsg := ""
		if o.err != nil {
			status = graph.StatusFailed
			errMsg = o.err.Error()
		} else if c.cfg.VerifyBeforeComplete {
			status = graph.StatusDeferred
		}

		fields := map[string]any{"status": status, "result": o.result}
		if errMsg != "" {
			fields["error"] = errMsg
		}
		_, _ = c.graph.ApplyPatch(graph.Patch{
			Operations: []graph.Operation{{Kind: graph.OpUpdateTask, TaskID: o.task.ID, Fields: fields}},
			Actor:      "coordinator",
			Reason:     "task_resolved",
		}, c.graph.Version())
		c.state.RecordEvent("task_resolved")
	}
}

func (c *Coordinator) runVerification(ctx context.Context) {
	for _, task := range c.graph.Tasks() {
		if task.Status != graph.StatusDeferred {
			continue
		}
		approved, reason, err := c.cfg.Verifier.Verify(ctx, task, task.Result)
		if err != nil {
			approved = false
			reason = err.Error()
		}
		if approved {
			_, _ = c.graph.ApplyPatch(graph.Patch{
				Operations: []graph.Operation{{Kind: graph.OpUpdateTask, TaskID: task.ID, Fields: map[string]any{"status": graph.StatusDone}}},
				Actor:      "verifier",
				Reason:     "verification_approved",
			}, c.graph.Version())
			continue
		}
		// Re-queue rejected tasks once: mark pending again unless already
		// retried (tracked via metadata).
		if task.Metadata != nil && task.Metadata["verification_retried"] == true {
			_, _ = c.graph.ApplyPatch(graph.Patch{
				Operations: []graph.Operation{{Kind: graph.OpUpdateTask, TaskID: task.ID, Fields: map[string]any{"status": graph.StatusFailed, "error": "verification rejected: " + reason}}},
				Actor:      "verifier",
				Reason:     "verification_rejected",
			}, c.graph.Version())
			continue
		}
		meta := map[string]any{"verification_retried": true}
		_, _ = c.graph.ApplyPatch(graph.Patch{
			Operations: []graph.Operation{{Kind: graph.OpUpdateTask, TaskID: task.ID, Fields: map[string]any{"status": graph.StatusPending, "metadata": meta}}},
			Actor:      "verifier",
			Reason:     "verification_requeue",
		}, c.graph.Version())
	}
}

func (c *Coordinator) graphComplete() bool {
	for _, t := range c.graph.Tasks() {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (c *Coordinator) pendingCount() int {
	n := 0
	for _, t := range c.graph.Tasks() {
		if t.Status == graph.StatusPending {
			n++
		}
	}
	return n
}

func countFailed(tasks []graph.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == graph.StatusFailed {
			n++
		}
	}
	return n
}

func (c *Coordinator) broadcast(kind string, priority mailbox.Priority, body any) {
	_ = c.mailbox.Send(mailbox.Message{
		ID:        fmt.Sprintf("%s-%d", kind, time.Now().UnixNano()),
		Recipient: c.cfg.Orchestrator,
		Type:      kind,
		Priority:  priority,
		Body:      body,
		CreatedAt: time.Now(),
	})
}
