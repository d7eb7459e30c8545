package datasets

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bindevz/tilsoftai/internal/observability"
)

// RedisResultCache keeps memoized analytics results in Redis.
type RedisResultCache struct {
	client *redis.Client
	logger *observability.Logger
}

// NewRedisResultCache wraps a Redis client as a result cache. Backend
// failures degrade to cache misses; they never surface to callers.
func NewRedisResultCache(client *redis.Client, logger *observability.Logger) *RedisResultCache {
	return &RedisResultCache{client: client, logger: logger}
}

func resultCacheKey(key string) string {
	return "analytics:result:" + key
}

func (c *RedisResultCache) Get(ctx context.Context, key string) (*CachedResult, bool) {
	payload, err := c.client.Get(ctx, resultCacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn(ctx, "result cache get failed, treating as miss", "error", err)
		return nil, false
	}
	var cached CachedResult
	if err := json.Unmarshal(payload, &cached); err != nil {
		c.logger.Warn(ctx, "result cache entry corrupt, treating as miss", "error", err)
		return nil, false
	}
	return &cached, true
}

func (c *RedisResultCache) Set(ctx context.Context, key string, result *CachedResult, ttl time.Duration) {
	if result == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, resultCacheKey(key), payload, ClampResultTTL(ttl)).Err(); err != nil {
		c.logger.Warn(ctx, "result cache set failed", "error", err)
	}
}

// TieredResultCache reads through a remote cache into an in-process one.
// A failing remote backend leaves the local cache serving alone.
type TieredResultCache struct {
	remote ResultCache
	local  ResultCache
}

// NewTieredResultCache layers remote over local.
func NewTieredResultCache(remote, local ResultCache) *TieredResultCache {
	return &TieredResultCache{remote: remote, local: local}
}

func (c *TieredResultCache) Get(ctx context.Context, key string) (*CachedResult, bool) {
	if cached, ok := c.local.Get(ctx, key); ok {
		return cached, true
	}
	if cached, ok := c.remote.Get(ctx, key); ok {
		c.local.Set(ctx, key, cached, MinResultTTL)
		return cached, true
	}
	return nil, false
}

func (c *TieredResultCache) Set(ctx context.Context, key string, result *CachedResult, ttl time.Duration) {
	c.local.Set(ctx, key, result, ttl)
	c.remote.Set(ctx, key, result, ttl)
}
