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

// Package metrics is an optional Prometheus collector for the Agent Turn
// Loop and Team Coordinator. A nil *Collector is safe to call methods on:
// every method no-ops unless the Collector was built with New.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector records turn, tool-call, policy, Beholder, and worker-pool
// metrics under a caller-supplied Prometheus registry.
type Collector struct {
	turns           *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	toolErrors      *prometheus.CounterVec
	policyDecisions *prometheus.CounterVec
	beholderActions *prometheus.CounterVec
	workersBusy     prometheus.Gauge
	workersIdle     prometheus.Gauge
	workersRestart  *prometheus.CounterVec
}

// New registers every metric under reg and returns a Collector. Passing a
// fresh prometheus.NewRegistry() is typical in tests; production code
// usually passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_turns_total",
			Help: "Agent Turn Loop runs, by terminal status.",
		}, []string{"status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agent_turn_duration_seconds",
			Help: "Agent Turn Loop run duration, by terminal status.",
		}, []string{"status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tool_calls_total",
			Help: "Tool calls executed, by tool name.",
		}, []string{"tool"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agent_tool_call_duration_seconds",
			Help: "Tool call duration, by tool name.",
		}, []string{"tool"}),
		toolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tool_call_errors_total",
			Help: "Tool calls that returned an error result, by tool name.",
		}, []string{"tool"}),
		policyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_policy_decisions_total",
			Help: "Policy Engine decisions, by action.",
		}, []string{"action"}),
		beholderActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_beholder_actions_total",
			Help: "Beholder Overseer actions, by action.",
		}, []string{"action"}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "team_workers_busy",
			Help: "Team Coordinator worker-pool slots currently busy.",
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "team_workers_idle",
			Help: "Team Coordinator worker-pool slots currently idle.",
		}),
		workersRestart: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "team_worker_restarts_total",
			Help: "Team Coordinator worker attempts restarted, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		c.turns, c.turnDuration, c.toolCalls, c.toolDuration, c.toolErrors,
		c.policyDecisions, c.beholderActions, c.workersBusy, c.workersIdle, c.workersRestart,
	)
	return c
}

func (c *Collector) ObserveTurn(status string, seconds float64) {
	if c == nil {
		return
	}
	c.turns.WithLabelValues(status).Inc()
	c.turnDuration.WithLabelValues(status).Observe(seconds)
}

func (c *Collector) ObserveToolCall(tool string, seconds float64, isError bool) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(seconds)
	if isError {
		c.toolErrors.WithLabelValues(tool).Inc()
	}
}

func (c *Collector) ObservePolicyDecision(action string) {
	if c == nil {
		return
	}
	c.policyDecisions.WithLabelValues(action).Inc()
}

func (c *Collector) ObserveBeholderAction(action string) {
	if c == nil {
		return
	}
	c.beholderActions.WithLabelValues(action).Inc()
}

func (c *Collector) SetWorkerGauges(busy, idle int) {
	if c == nil {
		return
	}
	c.workersBusy.Set(float64(busy))
	c.workersIdle.Set(float64(idle))
}

func (c *Collector) ObserveWorkerRestart(reason string) {
	if c == nil {
		return
	}
	c.workersRestart.WithLabelValues(reason).Inc()
}
