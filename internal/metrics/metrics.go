// Package metrics defines the Prometheus counters, histograms and gauges for
// LLM requests, tool executions, loop outcomes, sub-agents, rate-limiter
// delays and supervised processes, with helpers that record into them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized collection of the counters, histograms and gauges
// that its Record*, *Started and *Ended helpers update.
type Metrics struct {
	// LLMRequestDuration measures streaming chat-completion latency.
	// Labels: model, status (success|error)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks estimated token consumption.
	// Labels: model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by name and outcome.
	// Labels: tool_name, status (success|error|denied|hook_blocked|cancelled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LoopIterations counts AgentLoopRunner iterations by terminal outcome.
	// Labels: outcome (terminal|max_iterations|cancelled|error)
	LoopIterations *prometheus.CounterVec

	// ActiveSubAgents is a gauge of currently running sub-agent spawns.
	ActiveSubAgents prometheus.Gauge

	// RateLimitDelay measures the sleep the rate limiter imposed, in seconds.
	// Labels: host
	RateLimitDelay *prometheus.HistogramVec

	// ActiveProcesses is a gauge of currently running supervised child
	// processes.
	ActiveProcesses prometheus.Gauge

	// ContextWindowUsed tracks the estimated token usage of a conversation at
	// the point a turn completes.
	ContextWindowUsed prometheus.Histogram
}

// New creates and registers every metric against reg. Pass
// prometheus.DefaultRegisterer in production; tests should pass a fresh
// prometheus.NewRegistry() to avoid collisions across parallel test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orca_llm_request_duration_seconds",
				Help:    "Duration of streaming chat-completion requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orca_llm_tokens_total",
				Help: "Total estimated tokens used by model and type",
			},
			[]string{"model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orca_tool_executions_total",
				Help: "Total tool executions by tool name and outcome",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orca_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		LoopIterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orca_loop_iterations_total",
				Help: "Total agent loop completions by terminal outcome",
			},
			[]string{"outcome"},
		),
		ActiveSubAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orca_active_subagents",
				Help: "Current number of running sub-agent spawns",
			},
		),
		RateLimitDelay: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orca_rate_limit_delay_seconds",
				Help:    "Sleep imposed by the per-host rate limiter",
				Buckets: []float64{0, 0.1, 0.5, 1, 1.5, 3, 5},
			},
			[]string{"host"},
		),
		ActiveProcesses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orca_active_processes",
				Help: "Current number of supervised background child processes",
			},
		),
		ContextWindowUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orca_context_window_tokens",
				Help:    "Estimated conversation token usage observed at turn completion",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
		),
	}
}

// RecordLLMRequest records one streaming chat-completion round-trip.
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestDuration.WithLabelValues(model, status).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation's outcome and duration.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordLoopIteration records one AgentLoopRunner.Run outcome.
func (m *Metrics) RecordLoopIteration(outcome string) {
	m.LoopIterations.WithLabelValues(outcome).Inc()
}

// SubAgentStarted increments the active sub-agent gauge.
func (m *Metrics) SubAgentStarted() {
	m.ActiveSubAgents.Inc()
}

// SubAgentEnded decrements the active sub-agent gauge.
func (m *Metrics) SubAgentEnded() {
	m.ActiveSubAgents.Dec()
}

// RecordRateLimitDelay records the sleep the rate limiter imposed for host.
func (m *Metrics) RecordRateLimitDelay(host string, delaySeconds float64) {
	m.RateLimitDelay.WithLabelValues(host).Observe(delaySeconds)
}

// ProcessStarted increments the active supervised-process gauge.
func (m *Metrics) ProcessStarted() {
	m.ActiveProcesses.Inc()
}

// ProcessEnded decrements the active supervised-process gauge.
func (m *Metrics) ProcessEnded() {
	m.ActiveProcesses.Dec()
}

// RecordContextWindowUsage records a conversation's estimated token usage.
func (m *Metrics) RecordContextWindowUsage(tokens float64) {
	m.ContextWindowUsed.Observe(tokens)
}
