package plans

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// MemoryStore is the in-process plan store.
type MemoryStore struct {
	mu    sync.Mutex
	plans map[string]*models.ConfirmationPlan

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans: make(map[string]*models.ConfirmationPlan),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, plan *models.ConfirmationPlan) error {
	if plan == nil || plan.ID == "" {
		return errors.New("plan with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, p := range s.plans {
		if now.After(p.ExpiresAt) {
			delete(s.plans, id)
		}
	}
	copied := *plan
	s.plans[plan.ID] = &copied
	return nil
}

// Consume removes the plan under the lock, so concurrent consumers
// observe at most one success.
func (s *MemoryStore) Consume(ctx context.Context, planID, tenantID, userID string) (*models.ConfirmationPlan, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(plan.ExpiresAt) {
		delete(s.plans, planID)
		return nil, false, nil
	}
	if plan.TenantID != tenantID || plan.UserID != userID {
		return nil, false, nil
	}
	delete(s.plans, planID)
	return plan, true, nil
}
