package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Tool invocation outcomes and latencies through the pipeline
//   - LLM request performance, token usage, and planner loop shape
//   - Dataset store and analytics result cache effectiveness
//   - Error rates categorized by component and reason code
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolInvocation("analytics.run", "ok", "", 0.042)
type Metrics struct {
	// ToolInvocationCounter counts tool invocations through the pipeline.
	// Labels: tool, status (ok|error), reason_code (empty on success)
	ToolInvocationCounter *prometheus.CounterVec

	// ToolInvocationDuration measures tool pipeline latency in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolInvocationDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// PlannerSteps measures how many planner iterations each turn took.
	// Buckets: 1..8
	PlannerSteps prometheus.Histogram

	// PlannerBreakerTrips counts circuit breaker activations.
	// Labels: tool
	PlannerBreakerTrips *prometheus.CounterVec

	// DatasetCacheCounter counts dataset store lookups.
	// Labels: backend (memory|redis|failover), outcome (hit|miss)
	DatasetCacheCounter *prometheus.CounterVec

	// ResultCacheCounter counts analytics result cache lookups.
	// Labels: outcome (hit|miss)
	ResultCacheCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and reason code.
	// Labels: component (planner|invoker|dispatch|engine|source), reason_code
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation, source
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	// Labels: operation, source, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics register with Prometheus's default registry and surface at
// the /metrics endpoint.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolInvocationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_tool_invocations_total",
				Help: "Total number of tool invocations by tool, status, and reason code",
			},
			[]string{"tool", "status", "reason_code"},
		),

		ToolInvocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_tool_invocation_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		PlannerSteps: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assistant_planner_steps",
				Help:    "Planner iterations per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
			},
		),

		PlannerBreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_planner_breaker_trips_total",
				Help: "Total number of repeated-call circuit breaker activations",
			},
			[]string{"tool"},
		),

		DatasetCacheCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_dataset_cache_lookups_total",
				Help: "Total number of dataset store lookups by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),

		ResultCacheCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_result_cache_lookups_total",
				Help: "Total number of analytics result cache lookups",
			},
			[]string{"outcome"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_errors_total",
				Help: "Total number of errors by component and reason code",
			},
			[]string{"component", "reason_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "source"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "source", "status"},
		),
	}
}

// RecordToolInvocation records a completed pass through the invocation
// pipeline. reasonCode is empty on success.
func (m *Metrics) RecordToolInvocation(tool, status, reasonCode string, durationSeconds float64) {
	m.ToolInvocationCounter.WithLabelValues(tool, status, reasonCode).Inc()
	m.ToolInvocationDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
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

// RecordPlannerTurn records how many iterations a planner turn used.
func (m *Metrics) RecordPlannerTurn(steps int) {
	m.PlannerSteps.Observe(float64(steps))
}

// RecordBreakerTrip counts a circuit breaker activation for a tool.
func (m *Metrics) RecordBreakerTrip(tool string) {
	m.PlannerBreakerTrips.WithLabelValues(tool).Inc()
}

// RecordDatasetLookup records a dataset store lookup outcome.
func (m *Metrics) RecordDatasetLookup(backend string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.DatasetCacheCounter.WithLabelValues(backend, outcome).Inc()
}

// RecordResultCacheLookup records an analytics result cache outcome.
func (m *Metrics) RecordResultCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.ResultCacheCounter.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a component and reason code.
//
// Example:
//
//	metrics.RecordError("invoker", "VALIDATION_ERROR")
func (m *Metrics) RecordError(component, reasonCode string) {
	m.ErrorCounter.WithLabelValues(component, reasonCode).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
func (m *Metrics) RecordDatabaseQuery(operation, source, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, source, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, source).Observe(durationSeconds)
}
