package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func captureLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: level, Format: "json", Output: &buf})
	return logger, &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	return record
}

func TestLoggerEmitsStructuredJSON(t *testing.T) {
	logger, buf := captureLogger(t, "info")
	logger.Info(context.Background(), "tool dispatched", "tool", "analytics.run")

	record := lastRecord(t, buf)
	if record["msg"] != "tool dispatched" {
		t.Fatalf("msg = %v", record["msg"])
	}
	if record["tool"] != "analytics.run" {
		t.Fatalf("tool = %v", record["tool"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := captureLogger(t, "warn")
	ctx := context.Background()
	logger.Debug(ctx, "debug line")
	logger.Info(ctx, "info line")
	logger.Warn(ctx, "warn line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Fatalf("lines below warn should be dropped:\n%s", out)
	}
	if !strings.Contains(out, "warn line") {
		t.Fatalf("warn line missing:\n%s", out)
	}
}

func TestLoggerExtractsContextFields(t *testing.T) {
	logger, buf := captureLogger(t, "info")
	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithCorrelationID(ctx, "corr-456")
	ctx = WithTenantID(ctx, "t1")
	ctx = WithConversationID(ctx, "conv-789")

	logger.Info(ctx, "turn started")

	record := lastRecord(t, buf)
	want := map[string]string{
		"request_id":      "req-123",
		"correlation_id":  "corr-456",
		"tenant_id":       "t1",
		"conversation_id": "conv-789",
	}
	for k, v := range want {
		if record[k] != v {
			t.Errorf("%s = %v, want %q", k, record[k], v)
		}
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	logger, buf := captureLogger(t, "info")
	ctx := context.Background()

	cases := []struct {
		name string
		args []any
	}{
		{"api key in value", []any{"detail", "api_key=abcdef0123456789abcdef"}},
		{"jwt token", []any{"auth", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig-part"}},
		{"sensitive map key", []any{"headers", map[string]string{"Authorization": "Bearer whatever"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			logger.Info(ctx, "request", tc.args...)
			out := buf.String()
			if !strings.Contains(out, "REDACTED") {
				t.Fatalf("expected redaction in:\n%s", out)
			}
		})
	}
}

func TestWithFields(t *testing.T) {
	logger, buf := captureLogger(t, "info")
	component := logger.WithFields("component", "invoker")
	component.Info(context.Background(), "pipeline started")

	record := lastRecord(t, buf)
	if record["component"] != "invoker" {
		t.Fatalf("component = %v", record["component"])
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNopLogger()
	// Must not panic or write anywhere.
	logger.Info(context.Background(), "ignored")
	logger.Warn(context.Background(), "ignored")
}
