package invoker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bindevz/tilsoftai/internal/compaction"
	"github.com/bindevz/tilsoftai/internal/contracts"
	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

const testDatasetID = "7b9e1f7e-27a5-4d4e-9f3e-60a4f9f0c111"

func testExecCtx() models.ExecutionContext {
	return models.ExecutionContext{
		TenantID:  "t1",
		UserID:    "u1",
		Roles:     []string{"analyst"},
		RequestID: "req-1",
	}
}

type fixture struct {
	registry   *tools.Registry
	dispatcher *dispatch.Dispatcher
	invoker    *Invoker
}

func newFixture(t *testing.T, handler dispatch.Handler) *fixture {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Registration{
		Name: "analytics.run",
		Args: []tools.ArgSpec{
			{Name: "datasetId", Type: tools.ArgGUID, Required: true},
			{Name: "pipeline", Type: tools.ArgJSON},
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register(tools.Registration{
		Name:          "order.update.commit",
		RequiresWrite: true,
		WriteRoles:    []string{"sales.write"},
		Args: []tools.ArgSpec{
			{Name: "planId", Type: tools.ArgString, Required: true},
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	dispatcher := dispatch.NewDispatcher()
	if handler != nil {
		dispatcher.MustRegister(handler)
	}

	validator, err := contracts.NewValidator([]string{"analytics.run.v2"})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	iv := New(registry, dispatcher, validator,
		compaction.NewCompactor(compaction.DefaultMaxToolResultBytes),
		observability.NewNopLogger(), nil, nil)
	return &fixture{registry: registry, dispatcher: dispatcher, invoker: iv}
}

func runHandler(outcome *dispatch.Outcome, err error) dispatch.Handler {
	return dispatch.HandlerFunc{
		ToolName: "analytics.run",
		Fn: func(context.Context, *tools.Intent, models.ExecutionContext) (*dispatch.Outcome, error) {
			return outcome, err
		},
	}
}

func exposure(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func runArgs() json.RawMessage {
	return json.RawMessage(`{"datasetId":"` + testDatasetID + `"}`)
}

func checkInvariants(t *testing.T, env *models.Envelope) {
	t.Helper()
	if env.Kind != models.EnvelopeKind {
		t.Errorf("kind = %q", env.Kind)
	}
	if env.OK {
		if env.Error != nil {
			t.Error("ok envelope must not carry an error")
		}
		if env.Policy.Decision != models.PolicyAllow || env.Policy.ReasonCode != models.CodeOK {
			t.Errorf("policy = %+v", env.Policy)
		}
	} else {
		if env.Error == nil {
			t.Fatal("failure envelope must carry an error")
		}
		if env.Data != nil {
			t.Error("failure envelope must not carry data")
		}
		if env.Policy.Decision != models.PolicyDeny {
			t.Errorf("policy decision = %q", env.Policy.Decision)
		}
		if env.Policy.ReasonCode != env.Error.Code {
			t.Errorf("reasonCode %q != error code %q", env.Policy.ReasonCode, env.Error.Code)
		}
	}
	if env.Telemetry.DurationMs < 0 {
		t.Errorf("durationMs = %d", env.Telemetry.DurationMs)
	}
}

func TestInvokeSuccess(t *testing.T) {
	fx := newFixture(t, runHandler(&dispatch.Outcome{
		Success: true,
		Message: "2 rows",
		Kind:    "analytics.run.v2",
		Data: map[string]any{
			"kind":          "analytics.run.v2",
			"schemaVersion": 2,
			"columns":       []any{map[string]any{"name": "category", "type": "string"}},
			"rows":          []any{[]any{"A"}},
			"rowCount":      1,
		},
	}, nil))

	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: runArgs(), Exposed: exposure("analytics.run")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if !inv.Envelope.OK {
		t.Fatalf("envelope = %+v", inv.Envelope)
	}
	if len(inv.Envelope.Evidence) == 0 {
		t.Fatal("evidence fallback should synthesize an item")
	}
	if inv.Envelope.Meta.TenantID != "t1" || inv.Envelope.Tool.Name != "analytics.run" {
		t.Fatalf("identity = %+v", inv.Envelope)
	}
}

func TestInvokeNotExposed(t *testing.T) {
	fx := newFixture(t, nil)
	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: runArgs(), Exposed: exposure("data.query")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeToolNotAllowed {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}
}

func TestInvokeValidationError(t *testing.T) {
	fx := newFixture(t, nil)
	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: json.RawMessage(`{"datasetId":"not-a-guid"}`), Exposed: exposure("analytics.run")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeValidationError {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}
	if len(inv.Envelope.Error.Details) == 0 {
		t.Fatal("validation failure should carry field details")
	}
}

func TestInvokeForbiddenWrite(t *testing.T) {
	fx := newFixture(t, nil)
	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "order.update.commit", RawArgs: json.RawMessage(`{"planId":"p1"}`), Exposed: exposure("order.update.commit")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeForbidden {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}
}

func TestInvokeWriteAllowedByRole(t *testing.T) {
	fx := newFixture(t, dispatch.HandlerFunc{
		ToolName: "order.update.commit",
		Fn: func(context.Context, *tools.Intent, models.ExecutionContext) (*dispatch.Outcome, error) {
			return &dispatch.Outcome{Success: true, Message: "committed"}, nil
		},
	})
	execCtx := testExecCtx()
	execCtx.Roles = []string{"Sales.Write"}

	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "order.update.commit", RawArgs: json.RawMessage(`{"planId":"p1"}`), Exposed: exposure("order.update.commit")},
		execCtx)

	checkInvariants(t, inv.Envelope)
	if !inv.Envelope.OK {
		t.Fatalf("role match is case-insensitive, got %+v", inv.Envelope.Error)
	}
}

func TestInvokeHandlerError(t *testing.T) {
	fx := newFixture(t, runHandler(&dispatch.Outcome{
		Success: false,
		Message: "dataset not found or expired",
	}, nil))

	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: runArgs(), Exposed: exposure("analytics.run")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeToolExecutionError {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}
	if inv.Envelope.Message != "dataset not found or expired" {
		t.Fatalf("message = %q", inv.Envelope.Message)
	}
}

func TestInvokeContractError(t *testing.T) {
	// Payload declares the governed kind but omits required fields.
	fx := newFixture(t, runHandler(&dispatch.Outcome{
		Success: true,
		Kind:    "analytics.run.v2",
		Data: map[string]any{
			"kind":          "analytics.run.v2",
			"schemaVersion": 2,
		},
	}, nil))

	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: runArgs(), Exposed: exposure("analytics.run")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeContractError {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}

	// The chat-history copy must carry no data payload.
	var history map[string]any
	if err := json.Unmarshal(inv.History, &history); err != nil {
		t.Fatalf("history unmarshal: %v", err)
	}
	if _, hasData := history["data"]; hasData {
		t.Fatal("history copy must not carry data")
	}
	if history["compacted"] != true {
		t.Fatal("history copy must be marked compacted")
	}
}

func TestInvokeHandlerPanicIsCaptured(t *testing.T) {
	fx := newFixture(t, dispatch.HandlerFunc{
		ToolName: "analytics.run",
		Fn: func(context.Context, *tools.Intent, models.ExecutionContext) (*dispatch.Outcome, error) {
			panic("boom")
		},
	})

	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: runArgs(), Exposed: exposure("analytics.run")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeInternalError {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}
}

func TestInvokeNoHandler(t *testing.T) {
	fx := newFixture(t, nil)
	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: runArgs(), Exposed: exposure("analytics.run")},
		testExecCtx())

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeInternalError {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}
}

func TestInvokeNoRolesDeniesReads(t *testing.T) {
	fx := newFixture(t, runHandler(&dispatch.Outcome{Success: true}, nil))
	execCtx := testExecCtx()
	execCtx.Roles = nil

	inv := fx.invoker.Invoke(context.Background(),
		Call{Tool: "analytics.run", RawArgs: runArgs(), Exposed: exposure("analytics.run")},
		execCtx)

	checkInvariants(t, inv.Envelope)
	if inv.Envelope.Error.Code != models.CodeForbidden {
		t.Fatalf("code = %q", inv.Envelope.Error.Code)
	}
}
