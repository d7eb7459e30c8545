package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "assistant"})
	defer shutdown(context.Background())

	ctx, span := tracer.Start(context.Background(), "chat_turn")
	defer span.End()

	if ctx == nil {
		t.Fatal("Start should return a context")
	}
	// A no-op tracer yields an invalid span context and no trace ID.
	if id := GetTraceID(ctx); id != "" {
		t.Fatalf("trace id = %q, want empty for no-op tracer", id)
	}
}

func TestRecordErrorOnNoopSpanIsSafe(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer shutdown(context.Background())

	_, span := tracer.TraceToolExecution(context.Background(), "analytics.run")
	defer span.End()

	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(span, nil)
	tracer.SetAttributes(span, "tool.name", "analytics.run", "rows", 10)
}

func TestWithSpanPropagatesError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer shutdown(context.Background())

	want := errors.New("query failed")
	err := WithSpan(context.Background(), tracer, "db.select", func(ctx context.Context, span trace.Span) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestMapCarrierRoundTrip(t *testing.T) {
	carrier := MapCarrier{}
	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("Get = %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("Keys = %v", keys)
	}
}
