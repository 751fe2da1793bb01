package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting engine metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, token consumption, and estimated cost
//   - Tool dispatch patterns and latencies (§4.2)
//   - Executor loop iteration counts and outcomes (§4.1)
//   - Stuck-detector interventions (§4.4)
//   - Checkpoint persistence activity (§4.5)
//   - Sub-agent spawn/completion activity (§4.6)
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider (anthropic|openai), model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization per LLM call.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000
	ContextWindowUsed *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations dispatched by the executor.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (executor|dispatcher|checkpoint|subagent), error_type
	ErrorCounter *prometheus.CounterVec

	// IterationCounter counts executor loop iterations.
	// Labels: outcome (tool_calls|completed|max_iterations|interrupted|failed)
	IterationCounter *prometheus.CounterVec

	// RunAttempts counts LLM call attempts within an iteration, including retries.
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec

	// StuckDetectorActions counts stuck-detector interventions by configured action.
	// Labels: action (nudge|stop)
	StuckDetectorActions *prometheus.CounterVec

	// CheckpointOperations counts checkpoint store activity.
	// Labels: operation (save|resume|sweep), status (success|error)
	CheckpointOperations *prometheus.CounterVec

	// ActiveCheckpoints is a gauge tracking unresumed checkpoints awaiting
	// a decision (approve/reject/timeout).
	ActiveCheckpoints prometheus.Gauge

	// SubagentSpawned counts sub-agent spawn attempts.
	// Labels: agent_def_id, status (accepted|rejected)
	SubagentSpawned *prometheus.CounterVec

	// SubagentCompleted counts sub-agent completions by terminal status.
	// Labels: agent_def_id, status (completed|failed|timed_out|cancelled)
	SubagentCompleted *prometheus.CounterVec

	// ActiveSubagents is a gauge tracking currently running sub-agents.
	ActiveSubagents prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restflow_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restflow_context_window_tokens",
				Help:    "Context window tokens used per LLM call",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restflow_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		IterationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_executor_iterations_total",
				Help: "Total number of executor loop iterations by outcome",
			},
			[]string{"outcome"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_llm_call_attempts_total",
				Help: "Total number of LLM call attempts within an iteration by status",
			},
			[]string{"status"},
		),

		StuckDetectorActions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_stuck_detector_actions_total",
				Help: "Total number of stuck-detector interventions by action",
			},
			[]string{"action"},
		),

		CheckpointOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_checkpoint_operations_total",
				Help: "Total number of checkpoint store operations by kind and status",
			},
			[]string{"operation", "status"},
		),

		ActiveCheckpoints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "restflow_active_checkpoints",
				Help: "Current number of unresumed checkpoints",
			},
		),

		SubagentSpawned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_subagent_spawns_total",
				Help: "Total number of sub-agent spawn attempts by definition and outcome",
			},
			[]string{"agent_def_id", "status"},
		),

		SubagentCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restflow_subagent_completions_total",
				Help: "Total number of sub-agent completions by definition and terminal status",
			},
			[]string{"agent_def_id", "status"},
		),

		ActiveSubagents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "restflow_active_subagents",
				Help: "Current number of running sub-agents",
			},
		),
	}
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if promptTokens+completionTokens > 0 {
		m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(promptTokens + completionTokens))
	}
}

// RecordLLMCost records estimated API cost.
//
// Example:
//
//	metrics.RecordLLMCost("anthropic", "claude-3-opus", 0.015)
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records metrics for a tool dispatch (§4.2).
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("executor", "llm_unavailable")
//	metrics.RecordError("dispatcher", "tool_panic")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordIteration records one completed executor loop iteration (§4.1).
//
// Example:
//
//	metrics.RecordIteration("tool_calls")
//	metrics.RecordIteration("completed")
func (m *Metrics) RecordIteration(outcome string) {
	m.IterationCounter.WithLabelValues(outcome).Inc()
}

// RecordRunAttempt records an LLM call attempt within an iteration.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// RecordStuckDetectorAction records a stuck-detector intervention (§4.4).
//
// Example:
//
//	metrics.RecordStuckDetectorAction("nudge")
//	metrics.RecordStuckDetectorAction("stop")
func (m *Metrics) RecordStuckDetectorAction(action string) {
	m.StuckDetectorActions.WithLabelValues(action).Inc()
}

// RecordCheckpointOperation records a checkpoint store operation (§4.5).
//
// Example:
//
//	metrics.RecordCheckpointOperation("save", "success")
//	metrics.RecordCheckpointOperation("resume", "error")
func (m *Metrics) RecordCheckpointOperation(operation, status string) {
	m.CheckpointOperations.WithLabelValues(operation, status).Inc()
}

// SetActiveCheckpoints sets the current count of unresumed checkpoints.
func (m *Metrics) SetActiveCheckpoints(count int) {
	m.ActiveCheckpoints.Set(float64(count))
}

// RecordSubagentSpawn records a sub-agent spawn attempt (§4.6).
//
// Example:
//
//	metrics.RecordSubagentSpawn("researcher", "accepted")
//	metrics.RecordSubagentSpawn("researcher", "rejected")
func (m *Metrics) RecordSubagentSpawn(agentDefID, status string) {
	m.SubagentSpawned.WithLabelValues(agentDefID, status).Inc()
	if status == "accepted" {
		m.ActiveSubagents.Inc()
	}
}

// RecordSubagentCompletion records a sub-agent reaching a terminal status.
//
// Example:
//
//	metrics.RecordSubagentCompletion("researcher", "completed")
//	metrics.RecordSubagentCompletion("researcher", "timed_out")
func (m *Metrics) RecordSubagentCompletion(agentDefID, status string) {
	m.SubagentCompleted.WithLabelValues(agentDefID, status).Inc()
	m.ActiveSubagents.Dec()
}
