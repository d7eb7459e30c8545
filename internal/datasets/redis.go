package datasets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// RedisStore is a durable dataset store backend. Datasets serialize in
// columnar form carrying the declared per-column type tag; values coerce
// back by tag on read so aggregate numeric semantics stay identical to
// the in-process path. A secondary index maps datasetId to the canonical
// key so lookups by id stay O(1).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a Redis client as a dataset store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func canonicalKey(tenantID, userID, datasetID string) string {
	return fmt.Sprintf("dataset:%s:%s:%s", tenantID, userID, datasetID)
}

func indexKey(datasetID string) string {
	return fmt.Sprintf("dataset:id:%s", datasetID)
}

// redisDataset is the columnar wire form. TTL travels in seconds; cell
// typing is reconstructed from the schema on read.
type redisDataset struct {
	ID           string          `json:"datasetId"`
	Source       string          `json:"source"`
	TenantID     string          `json:"tenantId"`
	UserID       string          `json:"userId"`
	CreatedAt    time.Time       `json:"createdAtUtc"`
	TTLSeconds   int64           `json:"ttlSeconds"`
	Columns      []models.Column `json:"schema"`
	SchemaDigest string          `json:"schemaDigest,omitempty"`
	Data         [][]any         `json:"data"`
}

// Put serializes the dataset and writes both the canonical entry and the
// id index under the same TTL.
func (s *RedisStore) Put(ctx context.Context, ds *models.Dataset) error {
	if ds == nil || ds.ID == "" {
		return errors.New("dataset with id is required")
	}
	ttl := ClampTTL(ds.TTL)
	payload, err := json.Marshal(redisDataset{
		ID:           ds.ID,
		Source:       ds.Source,
		TenantID:     ds.TenantID,
		UserID:       ds.UserID,
		CreatedAt:    ds.CreatedAt,
		TTLSeconds:   int64(ttl.Seconds()),
		Columns:      ds.Columns,
		SchemaDigest: ds.SchemaDigest,
		Data:         ds.Data,
	})
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	key := canonicalKey(ds.TenantID, ds.UserID, ds.ID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.Set(ctx, indexKey(ds.ID), key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Get resolves the canonical key through the id index, loads the entry,
// and rejects ownership mismatches as not-found.
func (s *RedisStore) Get(ctx context.Context, datasetID, tenantID, userID string) (*models.Dataset, bool, error) {
	key, err := s.client.Get(ctx, indexKey(datasetID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	ds, err := decodeRedisDataset(payload)
	if err != nil {
		return nil, false, err
	}
	if ds.TenantID != tenantID || ds.UserID != userID {
		return nil, false, nil
	}
	return ds, true, nil
}

// Delete drops both the canonical entry and the index.
func (s *RedisStore) Delete(ctx context.Context, datasetID string) error {
	key, err := s.client.Get(ctx, indexKey(datasetID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, indexKey(datasetID))
	_, err = pipe.Exec(ctx)
	return err
}

func decodeRedisDataset(payload []byte) (*models.Dataset, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var wire redisDataset
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	ds := &models.Dataset{
		ID:           wire.ID,
		Source:       wire.Source,
		TenantID:     wire.TenantID,
		UserID:       wire.UserID,
		CreatedAt:    wire.CreatedAt,
		TTL:          time.Duration(wire.TTLSeconds) * time.Second,
		Columns:      wire.Columns,
		SchemaDigest: wire.SchemaDigest,
		Data:         wire.Data,
	}
	for c := range ds.Data {
		var tag models.ColumnType = models.ColumnString
		if c < len(ds.Columns) {
			tag = ds.Columns[c].Type
		}
		for r := range ds.Data[c] {
			ds.Data[c][r] = coerceCell(ds.Data[c][r], tag)
		}
	}
	return ds, nil
}

// coerceCell restores a decoded JSON value to its declared column type.
// Coercion is by tag, never by inference, so a decimal column round-trips
// as exact strings while double columns come back as float64.
func coerceCell(v any, tag models.ColumnType) any {
	if v == nil {
		return nil
	}
	switch tag {
	case models.ColumnInt32, models.ColumnInt64:
		switch val := v.(type) {
		case json.Number:
			if n, err := val.Int64(); err == nil {
				return n
			}
			if f, err := val.Float64(); err == nil {
				return int64(f)
			}
		case string:
			return val
		}
		return v
	case models.ColumnDouble, models.ColumnSingle:
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
		return v
	case models.ColumnDecimal:
		if n, ok := v.(json.Number); ok {
			return n.String()
		}
		return v
	case models.ColumnBool:
		return v
	case models.ColumnDateTime:
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
		return v
	default:
		if n, ok := v.(json.Number); ok {
			return n.String()
		}
		return v
	}
}
