package datasets

import (
	"context"

	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// FailoverStore serves from a remote primary and falls back to an
// in-process store when the primary errors. Callers never see a backend
// failure; writes land in both stores so a flaky primary still leaves
// the dataset reachable for the rest of its TTL.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *observability.Logger
}

// NewFailoverStore wraps primary with fallback.
func NewFailoverStore(primary, fallback Store, logger *observability.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

func (s *FailoverStore) Put(ctx context.Context, ds *models.Dataset) error {
	if err := s.primary.Put(ctx, ds); err != nil {
		s.logger.Warn(ctx, "dataset store primary put failed, using fallback",
			"dataset_id", ds.ID, "error", err)
	}
	return s.fallback.Put(ctx, ds)
}

func (s *FailoverStore) Get(ctx context.Context, datasetID, tenantID, userID string) (*models.Dataset, bool, error) {
	ds, ok, err := s.primary.Get(ctx, datasetID, tenantID, userID)
	if err == nil {
		if ok {
			return ds, true, nil
		}
		return s.fallback.Get(ctx, datasetID, tenantID, userID)
	}
	s.logger.Warn(ctx, "dataset store primary get failed, using fallback",
		"dataset_id", datasetID, "error", err)
	return s.fallback.Get(ctx, datasetID, tenantID, userID)
}

func (s *FailoverStore) Delete(ctx context.Context, datasetID string) error {
	if err := s.primary.Delete(ctx, datasetID); err != nil {
		s.logger.Warn(ctx, "dataset store primary delete failed",
			"dataset_id", datasetID, "error", err)
	}
	return s.fallback.Delete(ctx, datasetID)
}
