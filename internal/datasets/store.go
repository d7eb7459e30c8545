// Package datasets holds the TTL-bounded, tenant/user-scoped stores that
// stitch the SQL layer to the analytics engine across turns: the dataset
// store and the analytics result cache. Remote (Redis) backends degrade
// to the in-process backend; no request fails because a cache does.
package datasets

import (
	"context"
	"time"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// Dataset TTL policy. The default applies when a dataset declares none;
// declared TTLs clamp into the allowed window.
const (
	DefaultDatasetTTL = 10 * time.Minute
	MinDatasetTTL     = time.Minute
	MaxDatasetTTL     = time.Hour
)

// Result cache TTL window.
const (
	MinResultTTL = 5 * time.Minute
	MaxResultTTL = 10 * time.Minute
)

// Store is the dataset store. Lookups require the caller's tenant and
// user; a dataset stored under a different owner is reported not-found,
// never leaked.
type Store interface {
	// Put publishes a dataset under its declared owner and TTL.
	Put(ctx context.Context, ds *models.Dataset) error

	// Get returns the dataset when it exists, is owned by
	// (tenantID, userID), and has not expired.
	Get(ctx context.Context, datasetID, tenantID, userID string) (*models.Dataset, bool, error)

	// Delete removes a dataset regardless of remaining TTL.
	Delete(ctx context.Context, datasetID string) error
}

// ClampTTL forces a dataset TTL into the allowed window, substituting
// the default for zero.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultDatasetTTL
	}
	if ttl < MinDatasetTTL {
		return MinDatasetTTL
	}
	if ttl > MaxDatasetTTL {
		return MaxDatasetTTL
	}
	return ttl
}

// ClampResultTTL forces a result-cache TTL into its window.
func ClampResultTTL(ttl time.Duration) time.Duration {
	if ttl < MinResultTTL {
		return MinResultTTL
	}
	if ttl > MaxResultTTL {
		return MaxResultTTL
	}
	return ttl
}
