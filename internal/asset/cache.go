package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/detailhub/zoneconfigurator/internal/observability"
)

// Cache stores resolved records by lookup key.
type Cache interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Set(ctx context.Context, key string, rec *Record) error
}

// --- in-memory ---

type memEntry struct {
	rec     *Record
	expires time.Time
}

// MemoryCache is a process-local Cache with TTL and a size bound.
type MemoryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryCache creates a memory cache. maxEntries <= 0 means unbounded.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]memEntry),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (*Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.rec.clone(), true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictLocked()
		}
	}
	c.entries[key] = memEntry{rec: rec.clone(), expires: c.now().Add(c.ttl)}
	return nil
}

// evictLocked removes expired entries, then the entry closest to expiry.
func (c *MemoryCache) evictLocked() {
	now := c.now()
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HealthCheck implements observability.HealthChecker.
func (c *MemoryCache) HealthCheck(context.Context) error { return nil }

// --- redis ---

// RedisCache stores resolved records as JSON strings with a per-key TTL.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Record, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("asset cache get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("asset cache decode: %w", err)
	}
	return &rec, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("asset cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("asset cache set: %w", err)
	}
	return nil
}

// HealthCheck implements observability.HealthChecker.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// --- read-through repository ---

// CachedRepository is a read-through Repository. Cache failures are logged
// and the underlying repository is queried directly.
type CachedRepository struct {
	repo    Repository
	cache   Cache
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCachedRepository wraps repo with cache. logger and metrics may be nil.
func NewCachedRepository(repo Repository, cache Cache, logger *zap.Logger, metrics *observability.Metrics) *CachedRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRepository{repo: repo, cache: cache, logger: logger, metrics: metrics}
}

// Resolve implements Repository.
func (r *CachedRepository) Resolve(ctx context.Context, vehicleMake, vehicleModel string) (*Record, error) {
	key := Key(vehicleMake, vehicleModel)

	rec, ok, err := r.cache.Get(ctx, key)
	trace.SpanFromContext(ctx).SetAttributes(observability.AttrCacheHit.Bool(ok && err == nil))
	switch {
	case err != nil:
		r.logger.Warn("asset cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		r.metrics.RecordAssetCacheHit("record")
		return rec, nil
	}
	r.metrics.RecordAssetCacheMiss("record")

	rec, err = r.repo.Resolve(ctx, vehicleMake, vehicleModel)
	if err != nil || rec == nil {
		return rec, err
	}

	if err := r.cache.Set(ctx, key, rec); err != nil {
		r.logger.Warn("asset cache write failed", zap.String("key", key), zap.Error(err))
	}
	return rec, nil
}

// HealthCheck delegates to the underlying repository.
func (r *CachedRepository) HealthCheck(ctx context.Context) error {
	if hc, ok := r.repo.(observability.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
