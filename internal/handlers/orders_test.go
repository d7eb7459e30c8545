package handlers

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/bindevz/tilsoftai/internal/plans"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

const testOrderID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

func prepareIntent(changes map[string]string) *tools.Intent {
	return &tools.Intent{Tool: "order.update.prepare", Page: 1, Args: map[string]any{
		"orderId": testOrderID,
		"changes": changes,
	}}
}

func commitIntent(planID string) *tools.Intent {
	args := map[string]any{}
	if planID != "" {
		args["planId"] = planID
	}
	return &tools.Intent{Tool: "order.update.commit", Page: 1, Args: args}
}

func TestOrderPrepareCreatesPlan(t *testing.T) {
	store := plans.NewMemoryStore()
	h := NewOrderPrepare(Deps{Plans: store})

	out, err := h.Handle(context.Background(),
		prepareIntent(map[string]string{"status": "shipped"}), execCtx())
	if err != nil || !out.Success {
		t.Fatalf("Handle: %v %+v", err, out)
	}

	data := out.Data
	planID := data["planId"].(string)
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(planID) {
		t.Fatalf("plan id %q is not 32 hex chars", planID)
	}
	if !strings.Contains(out.Message, "CONFIRM "+planID) {
		t.Fatalf("message %q must carry the confirm phrase", out.Message)
	}

	plan, ok, err := store.Consume(context.Background(), planID, testTenant, testUser)
	if err != nil || !ok {
		t.Fatalf("plan not stored: %v", err)
	}
	if plan.Tool != "order.update.commit" || plan.Data["orderId"] != testOrderID {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.Data["change:status"] != "shipped" {
		t.Fatalf("plan data = %v", plan.Data)
	}
}

func TestOrderPrepareRejectsEmptyChanges(t *testing.T) {
	h := NewOrderPrepare(Deps{Plans: plans.NewMemoryStore()})

	out, err := h.Handle(context.Background(),
		prepareIntent(map[string]string{}), execCtx())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Success {
		t.Fatal("empty changes must fail")
	}
}

func TestOrderCommitConsumesOnce(t *testing.T) {
	store := plans.NewMemoryStore()
	prep := NewOrderPrepare(Deps{Plans: store})
	commit := NewOrderCommit(Deps{Plans: store})

	out, err := prep.Handle(context.Background(),
		prepareIntent(map[string]string{"status": "shipped", "carrier": "DHL"}), execCtx())
	if err != nil || !out.Success {
		t.Fatalf("prepare: %v %+v", err, out)
	}
	planID := out.Data["planId"].(string)

	// Commit resolves the plan id from the confirm token.
	ctx := execCtx()
	ctx.ConfirmToken = planID
	first, err := commit.Handle(context.Background(), commitIntent(""), ctx)
	if err != nil || !first.Success {
		t.Fatalf("commit: %v %+v", err, first)
	}
	applied := first.Data["applied"].(map[string]string)
	if applied["status"] != "shipped" || applied["carrier"] != "DHL" {
		t.Fatalf("applied = %v", applied)
	}

	second, err := commit.Handle(context.Background(), commitIntent(planID), ctx)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if second.Success {
		t.Fatal("plan must be consumable exactly once")
	}
}

func TestOrderCommitOwnershipEnforced(t *testing.T) {
	store := plans.NewMemoryStore()
	prep := NewOrderPrepare(Deps{Plans: store})
	commit := NewOrderCommit(Deps{Plans: store})

	out, err := prep.Handle(context.Background(),
		prepareIntent(map[string]string{"status": "held"}), execCtx())
	if err != nil || !out.Success {
		t.Fatalf("prepare: %v", err)
	}
	planID := out.Data["planId"].(string)

	foreign := models.ExecutionContext{TenantID: "t2", UserID: testUser, Roles: []string{"sales.write"}}
	stolen, err := commit.Handle(context.Background(), commitIntent(planID), foreign)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if stolen.Success {
		t.Fatal("foreign tenant must not consume the plan")
	}

	// The rightful owner still can.
	own, err := commit.Handle(context.Background(), commitIntent(planID), execCtx())
	if err != nil || !own.Success {
		t.Fatalf("owner commit: %v %+v", err, own)
	}
}

func TestOrderCommitWithoutConfirmation(t *testing.T) {
	commit := NewOrderCommit(Deps{Plans: plans.NewMemoryStore()})

	out, err := commit.Handle(context.Background(), commitIntent(""), execCtx())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Success || !strings.Contains(out.Message, "CONFIRM") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestOrderPrepareExpiredPlanUnreachable(t *testing.T) {
	store := plans.NewMemoryStore()
	prep := NewOrderPrepare(Deps{Plans: store})
	prep.ttl = -time.Minute

	out, err := prep.Handle(context.Background(),
		prepareIntent(map[string]string{"status": "late"}), execCtx())
	if err != nil || !out.Success {
		t.Fatalf("prepare: %v", err)
	}
	planID := out.Data["planId"].(string)

	if _, ok, _ := store.Consume(context.Background(), planID, testTenant, testUser); ok {
		t.Fatal("expired plan must be unreachable")
	}
}
