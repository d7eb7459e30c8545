package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

func TestDispatchRoutesToHandler(t *testing.T) {
	d := NewDispatcher()
	var gotTenant string
	d.MustRegister(HandlerFunc{
		ToolName: "analytics.describe",
		Fn: func(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*Outcome, error) {
			gotTenant = execCtx.TenantID
			return &Outcome{Success: true, Kind: "analytics.describe.v2"}, nil
		},
	})

	out, err := d.Dispatch(context.Background(),
		&tools.Intent{Tool: "analytics.describe"},
		models.ExecutionContext{TenantID: "t1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.Success || out.Kind != "analytics.describe.v2" {
		t.Fatalf("outcome = %+v", out)
	}
	if gotTenant != "t1" {
		t.Fatalf("handler saw tenant %q", gotTenant)
	}
}

func TestDispatchMissingHandler(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Dispatch(context.Background(),
		&tools.Intent{Tool: "ghost.tool"}, models.ExecutionContext{})

	var noHandler *NoHandlerError
	if !errors.As(err, &noHandler) {
		t.Fatalf("err = %v, want NoHandlerError", err)
	}
	if noHandler.Tool != "ghost.tool" {
		t.Fatalf("tool = %q", noHandler.Tool)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	d := NewDispatcher()
	h := HandlerFunc{ToolName: "data.query", Fn: func(context.Context, *tools.Intent, models.ExecutionContext) (*Outcome, error) {
		return &Outcome{Success: true}, nil
	}}
	if err := d.Register(h); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := d.Register(h); err == nil {
		t.Fatal("duplicate Register should fail")
	}
}

func TestNamesSorted(t *testing.T) {
	d := NewDispatcher()
	for _, name := range []string{"data.query", "analytics.run", "dataset.preview"} {
		d.MustRegister(HandlerFunc{ToolName: name, Fn: func(context.Context, *tools.Intent, models.ExecutionContext) (*Outcome, error) {
			return &Outcome{Success: true}, nil
		}})
	}
	names := d.Names()
	want := []string{"analytics.run", "data.query", "dataset.preview"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v", names)
		}
	}
}
