package datasets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bindevz/tilsoftai/internal/engine"
)

// CachedResult is a memoized analytics.run payload. The result travels
// as serialized bytes so a cache hit returns byte-identical rows.
type CachedResult struct {
	Payload  []byte
	Warnings []string
}

// ResultCache memoizes analytics results keyed by the run signature.
type ResultCache interface {
	Get(ctx context.Context, key string) (*CachedResult, bool)
	Set(ctx context.Context, key string, result *CachedResult, ttl time.Duration)
}

// ResultKey derives the memoization key: a SHA-256 over the dataset id,
// every bound in declaration order, and the canonical pipeline JSON.
func ResultKey(datasetID string, bounds engine.Bounds, pipelineJSON []byte) string {
	parts := []string{
		datasetID,
		fmt.Sprint(bounds.TopN),
		fmt.Sprint(bounds.MaxGroups),
		fmt.Sprint(bounds.MaxResultRows),
		fmt.Sprint(bounds.MaxJoinRows),
		fmt.Sprint(bounds.MaxJoinMatchesPerLeft),
		fmt.Sprint(bounds.MaxColumns),
		string(pipelineJSON),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// MemoryResultCache is the in-process result cache.
type MemoryResultCache struct {
	mu      sync.Mutex
	entries map[string]resultEntry
	now     func() time.Time
}

type resultEntry struct {
	result    *CachedResult
	expiresAt time.Time
}

// NewMemoryResultCache creates an empty in-memory result cache.
func NewMemoryResultCache() *MemoryResultCache {
	return &MemoryResultCache{
		entries: make(map[string]resultEntry),
		now:     time.Now,
	}
}

func (c *MemoryResultCache) Get(ctx context.Context, key string) (*CachedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.result, true
}

func (c *MemoryResultCache) Set(ctx context.Context, key string, result *CachedResult, ttl time.Duration) {
	if result == nil {
		return
	}
	ttl = ClampResultTTL(ttl)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = resultEntry{result: result, expiresAt: now.Add(ttl)}
}
