package datasets

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// MemoryStore is the in-process dataset store. It is the fallback behind
// remote backends and the default for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// now is swappable for tests.
	now func() time.Time
}

type memoryEntry struct {
	ds        *models.Dataset
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory dataset store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put publishes the dataset. The TTL clamps into the allowed window;
// expired entries are pruned opportunistically.
func (s *MemoryStore) Put(ctx context.Context, ds *models.Dataset) error {
	if ds == nil || ds.ID == "" {
		return errors.New("dataset with id is required")
	}
	now := s.now()
	ttl := ClampTTL(ds.TTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
		}
	}
	createdAt := ds.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	s.entries[ds.ID] = memoryEntry{ds: ds, expiresAt: createdAt.Add(ttl)}
	return nil
}

// Get returns the dataset when it is live and owned by the caller.
// Ownership mismatches are indistinguishable from absence.
func (s *MemoryStore) Get(ctx context.Context, datasetID, tenantID, userID string) (*models.Dataset, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[datasetID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, datasetID)
		s.mu.Unlock()
		return nil, false, nil
	}
	if e.ds.TenantID != tenantID || e.ds.UserID != userID {
		return nil, false, nil
	}
	return e.ds, true, nil
}

// Delete removes a dataset.
func (s *MemoryStore) Delete(ctx context.Context, datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, datasetID)
	return nil
}
