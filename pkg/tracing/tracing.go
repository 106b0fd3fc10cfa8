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

// Package tracing wraps the Agent Turn Loop and Team Coordinator with
// OpenTelemetry spans. It never configures an exporter or global
// TracerProvider itself — the host process does that; this package only
// calls otel.Tracer(name), so a host with no provider configured gets the
// OTel API's default no-op tracer for free.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/HyperBlaze456/ssenrah-sub000"

// Tracer names the spans this module knows how to produce.
type Tracer struct {
	tracer trace.Tracer
}

// New returns a Tracer backed by otel.Tracer(instrumentationName).
func New() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartTurn opens a span around one Agent Turn Loop iteration.
func (t *Tracer) StartTurn(ctx context.Context, sessionID string, turn int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("turn", turn),
	))
}

// StartToolCall opens a span around one tool execution.
func (t *Tracer) StartToolCall(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool_call", trace.WithAttributes(
		attribute.String("tool", toolName),
	))
}

// StartTeamRun opens a span around one Team Coordinator run.
func (t *Tracer) StartTeamRun(ctx context.Context, runID, goal string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "team_run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("goal", goal),
	))
}

// StartWorkerAttempt opens a span around one worker's task attempt.
func (t *Tracer) StartWorkerAttempt(ctx context.Context, taskID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "worker_attempt", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.Int("attempt", attempt),
	))
}
