package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting engine metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Session Actor request volume by org and delivery mode (unary|stream)
//   - LM Transport request performance and token usage
//   - Tool/code execution patterns and latencies
//   - Error rates categorized by type and component
//   - Active session counts for capacity planning
//   - Progress webhook delivery to client callback URLs
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RequestReceived("acme", "unary")
//	defer metrics.LLMRequestDuration("anthropic", "claude-sonnet-4-20250514").Observe(time.Since(start).Seconds())
type Metrics struct {
	// RequestCounter tracks inbound requests by org and delivery mode.
	// Labels: org, mode (unary|stream)
	RequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LM Transport call latency in seconds.
	// Labels: provider (anthropic|bedrock), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LM Transport requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations routed through the sandbox.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (orchestrator|sandbox|toolserver|session), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	// Labels: org
	ActiveSessions *prometheus.GaugeVec

	// SessionDuration measures session lifetime in seconds.
	// Labels: org
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures the Session Actor's HTTP request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures storage backend query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts storage backend queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// ProgressWebhookSent counts progress webhook deliveries.
	// Labels: mode (complete|iteration|periodic|sentence)
	ProgressWebhookSent *prometheus.CounterVec

	// ProgressWebhookDuration measures progress webhook POST latency.
	// Labels: mode
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 2s, 5s, 10s
	ProgressWebhookDuration *prometheus.HistogramVec

	// ProgressWebhookErrors counts progress webhook delivery failures.
	// Labels: mode
	ProgressWebhookErrors *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization per LM Transport call.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000
	ContextWindowUsed *prometheus.HistogramVec

	// IterationsExhausted counts orchestration runs that hit MaxIterations
	// without producing a final response.
	// Labels: org
	IterationsExhausted *prometheus.CounterVec

	// RunAttempts counts orchestration run attempts (for retry tracking).
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_requests_total",
				Help: "Total number of requests processed by org and delivery mode",
			},
			[]string{"org", "mode"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferry_llm_request_duration_seconds",
				Help:    "Duration of LM Transport requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_llm_requests_total",
				Help: "Total number of LM Transport requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferry_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ferry_active_sessions",
				Help: "Current number of active sessions by org",
			},
			[]string{"org"},
		),

		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferry_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
			[]string{"org"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferry_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferry_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		ProgressWebhookSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_progress_webhook_sent_total",
				Help: "Total number of progress webhook deliveries attempted",
			},
			[]string{"mode"},
		),

		ProgressWebhookDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferry_progress_webhook_duration_seconds",
				Help:    "Duration of progress webhook POSTs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"mode"},
		),

		ProgressWebhookErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_progress_webhook_errors_total",
				Help: "Total number of progress webhook delivery failures",
			},
			[]string{"mode"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_llm_cost_usd_total",
				Help: "Estimated LM Transport cost in USD",
			},
			[]string{"provider", "model"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferry_context_window_tokens",
				Help:    "Context window tokens used per LM Transport call",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),

		IterationsExhausted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_iterations_exhausted_total",
				Help: "Number of orchestration runs that hit max_iterations without a final response",
			},
			[]string{"org"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferry_run_attempts_total",
				Help: "Total number of orchestration run attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RequestReceived increments the request counter for a given org and delivery mode.
//
// Example:
//
//	metrics.RequestReceived("acme", "stream")
func (m *Metrics) RequestReceived(org, mode string) {
	m.RequestCounter.WithLabelValues(org, mode).Inc()
}

// RecordLLMRequest records metrics for an LM Transport request.
//
// Example:
//
//	start := time.Now()
//	// ... make LM Transport request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-20250514", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("fetch_url", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("orchestrator", "iteration_limit")
//	metrics.RecordError("toolserver", "invocation_timeout")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge.
//
// Example:
//
//	metrics.SessionStarted("acme")
func (m *Metrics) SessionStarted(org string) {
	m.ActiveSessions.WithLabelValues(org).Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
//
// Example:
//
//	start := time.Now()
//	// ... session lifecycle ...
//	metrics.SessionEnded("acme", time.Since(start).Seconds())
func (m *Metrics) SessionEnded(org string, durationSeconds float64) {
	m.ActiveSessions.WithLabelValues(org).Dec()
	m.SessionDuration.WithLabelValues(org).Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("POST", "/v1/messages", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "sessions", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordProgressWebhook records a progress webhook delivery attempt.
//
// Example:
//
//	start := time.Now()
//	// ... POST progress event ...
//	metrics.RecordProgressWebhook("periodic", time.Since(start).Seconds(), nil)
func (m *Metrics) RecordProgressWebhook(mode string, durationSeconds float64, err error) {
	m.ProgressWebhookSent.WithLabelValues(mode).Inc()
	m.ProgressWebhookDuration.WithLabelValues(mode).Observe(durationSeconds)
	if err != nil {
		m.ProgressWebhookErrors.WithLabelValues(mode).Inc()
	}
}

// RecordLLMCost records estimated API cost.
//
// Example:
//
//	metrics.RecordLLMCost("anthropic", "claude-sonnet-4-20250514", 0.015)
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
//
// Example:
//
//	metrics.RecordContextWindow("anthropic", "claude-sonnet-4-20250514", 45000)
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordIterationsExhausted records a run that hit max_iterations.
//
// Example:
//
//	metrics.RecordIterationsExhausted("acme")
func (m *Metrics) RecordIterationsExhausted(org string) {
	m.IterationsExhausted.WithLabelValues(org).Inc()
}

// RecordRunAttempt records an orchestration run attempt.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
