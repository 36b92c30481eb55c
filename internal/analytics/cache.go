package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/metrics"
)

// SummaryCache caches per-owner summaries. Implementations must be safe for
// concurrent use.
type SummaryCache interface {
	Get(ctx context.Context, ownerID string) (*Summary, bool)
	Set(ctx context.Context, ownerID string, s *Summary)
	Invalidate(ctx context.Context, ownerID string)
}

// RedisCache backs the summary cache with Redis, so invalidation reaches
// every instance.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed summary cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func summaryKey(ownerID string) string {
	return "keymint:summary:" + ownerID
}

func (c *RedisCache) Get(ctx context.Context, ownerID string) (*Summary, bool) {
	raw, err := c.client.Get(ctx, summaryKey(ownerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.L(ctx).Warn("summary cache read failed", "error", err)
		}
		return nil, false
	}

	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (c *RedisCache) Set(ctx context.Context, ownerID string, s *Summary) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, summaryKey(ownerID), raw, c.ttl).Err(); err != nil {
		logging.L(ctx).Warn("summary cache write failed", "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, ownerID string) {
	if err := c.client.Del(ctx, summaryKey(ownerID)).Err(); err != nil {
		logging.L(ctx).Warn("summary cache invalidation failed", "error", err)
	}
}

// memoryCache is the in-process fallback when no Redis URL is configured.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	summary Summary
	expires time.Time
}

// NewMemoryCache creates an in-process summary cache.
func NewMemoryCache(ttl time.Duration) SummaryCache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *memoryCache) Get(ctx context.Context, ownerID string) (*Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[ownerID]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	s := e.summary
	return &s, true
}

func (c *memoryCache) Set(ctx context.Context, ownerID string, s *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ownerID] = memoryEntry{summary: *s, expires: c.now().Add(c.ttl)}
}

func (c *memoryCache) Invalidate(ctx context.Context, ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ownerID)
}

// recordLookup feeds the cache hit ratio metric.
func recordLookup(hit bool) {
	if hit {
		metrics.AnalyticsCacheHits.WithLabelValues("hit").Inc()
	} else {
		metrics.AnalyticsCacheHits.WithLabelValues("miss").Inc()
	}
}
