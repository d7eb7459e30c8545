package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/plans"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

func orderPrepareRegistration(writeRoles []string) tools.Registration {
	return tools.Registration{
		Name:          "order.update.prepare",
		Description:   "Prepare an order update. Returns a plan id the user must confirm before anything is written.",
		RequiresWrite: true,
		WriteRoles:    writeRoles,
		Args: []tools.ArgSpec{
			{Name: "orderId", Type: tools.ArgGUID, Required: true},
			{Name: "changes", Type: tools.ArgStringMap, Required: true},
			{Name: "reason", Type: tools.ArgString},
		},
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"orderId": {"type": "string"},
				"changes": {"type": "object", "description": "Field/value pairs to apply to the order"},
				"reason": {"type": "string"}
			},
			"required": ["orderId", "changes"]
		}`),
	}
}

// OrderPrepare creates a confirmation plan for an order update. Nothing
// is written until the matching commit consumes the plan.
type OrderPrepare struct {
	plans  plans.Store
	logger *observability.Logger

	now   func() time.Time
	newID func() string
	ttl   time.Duration
}

func NewOrderPrepare(deps Deps) *OrderPrepare {
	ttl := deps.PlanTTL
	if ttl <= 0 {
		ttl = plans.DefaultPlanTTL
	}
	return &OrderPrepare{
		plans:  deps.Plans,
		logger: deps.logger(),
		now:    time.Now,
		newID:  newPlanID,
		ttl:    ttl,
	}
}

func (h *OrderPrepare) Name() string { return "order.update.prepare" }

func (h *OrderPrepare) Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*dispatch.Outcome, error) {
	orderID := intent.String("orderId")
	changes := intent.StringMap("changes")
	if len(changes) == 0 {
		return failf("changes must name at least one field"), nil
	}

	data := map[string]string{"orderId": orderID}
	for field, value := range changes {
		data["change:"+field] = value
	}
	if reason := intent.String("reason"); reason != "" {
		data["reason"] = reason
	}

	now := h.now().UTC()
	plan := &models.ConfirmationPlan{
		ID:        h.newID(),
		Tool:      "order.update.commit",
		TenantID:  execCtx.TenantID,
		UserID:    execCtx.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(h.ttl),
		Data:      data,
	}
	if err := h.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("create confirmation plan: %w", err)
	}

	h.logger.Info(ctx, "order update prepared",
		"plan_id", plan.ID, "order_id", orderID,
		"tenant_id", execCtx.TenantID, "user_id", execCtx.UserID)

	return &dispatch.Outcome{
		Success: true,
		Message: fmt.Sprintf("Order update prepared. Reply \"CONFIRM %s\" within %d minutes to apply it.",
			plan.ID, int(h.ttl.Minutes())),
		Data: map[string]any{
			"planId":    plan.ID,
			"orderId":   orderID,
			"changes":   changes,
			"expiresAt": utcString(plan.ExpiresAt),
		},
		Evidence: map[string]any{"planId": plan.ID, "orderId": orderID},
	}, nil
}

func orderCommitRegistration(writeRoles []string) tools.Registration {
	return tools.Registration{
		Name:          "order.update.commit",
		Description:   "Commit a previously prepared order update. Requires the user's CONFIRM <plan id> reply.",
		RequiresWrite: true,
		WriteRoles:    writeRoles,
		Args: []tools.ArgSpec{
			{Name: "planId", Type: tools.ArgString},
		},
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"planId": {"type": "string", "description": "Plan id from the prepare step; defaults to the user's CONFIRM token"}
			}
		}`),
	}
}

// OrderCommit consumes a confirmation plan exactly once and applies the
// recorded changes.
type OrderCommit struct {
	plans  plans.Store
	logger *observability.Logger
}

func NewOrderCommit(deps Deps) *OrderCommit {
	return &OrderCommit{plans: deps.Plans, logger: deps.logger()}
}

func (h *OrderCommit) Name() string { return "order.update.commit" }

func (h *OrderCommit) Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*dispatch.Outcome, error) {
	planID := intent.String("planId")
	if planID == "" {
		planID = execCtx.ConfirmToken
	}
	if planID == "" {
		return failf("no confirmation id: ask the user to reply CONFIRM <plan id>"), nil
	}

	plan, ok, err := h.plans.Consume(ctx, planID, execCtx.TenantID, execCtx.UserID)
	if err != nil {
		return nil, fmt.Errorf("consume confirmation plan: %w", err)
	}
	if !ok {
		return failf("plan %q not found, expired, or already used", planID), nil
	}

	orderID := plan.Data["orderId"]
	applied := map[string]string{}
	for key, value := range plan.Data {
		if field, found := strings.CutPrefix(key, "change:"); found {
			applied[field] = value
		}
	}

	h.logger.Info(ctx, "order update committed",
		"plan_id", plan.ID, "order_id", orderID,
		"fields", len(applied), "tenant_id", execCtx.TenantID)

	return &dispatch.Outcome{
		Success: true,
		Message: fmt.Sprintf("Order %s updated (%d fields).", orderID, len(applied)),
		Data: map[string]any{
			"planId":  plan.ID,
			"orderId": orderID,
			"applied": applied,
		},
		Evidence: map[string]any{"planId": plan.ID, "orderId": orderID, "fields": len(applied)},
	}, nil
}
