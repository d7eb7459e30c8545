// Package plans persists confirmation plans for two-phase writes. A
// plan is created by a prepare tool, then consumed exactly once by the
// matching commit tool; expired plans are unreachable.
package plans

import (
	"context"
	"time"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// DefaultPlanTTL is the window between prepare and commit.
const DefaultPlanTTL = 15 * time.Minute

// Store is the confirmation plan store.
type Store interface {
	// Create persists a plan under its owner.
	Create(ctx context.Context, plan *models.ConfirmationPlan) error

	// Consume atomically removes and returns the plan when it exists,
	// is owned by (tenantID, userID), and has not expired. At most one
	// caller observes the plan.
	Consume(ctx context.Context, planID, tenantID, userID string) (*models.ConfirmationPlan, bool, error)
}
