// Package observability provides monitoring and debugging capabilities for
// the assistant through metrics, structured logging, and distributed tracing.
//
// The three pillars:
//
//  1. Metrics - Prometheus counters and histograms for the tool pipeline,
//     LLM calls, planner loop shape, and cache effectiveness
//  2. Logging - slog-based structured logs with sensitive data redaction
//     and automatic correlation fields pulled from context
//  3. Tracing - OpenTelemetry spans for chat turns, tool invocations,
//     LLM requests, and SQL materialization
//
// All components read correlation identifiers (request, correlation,
// tenant, conversation) from context values set by the HTTP layer, so a
// single turn is traceable end to end without threading IDs by hand.
package observability
