package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// LookupCacheConfig holds configuration for the fee lookup cache.
type LookupCacheConfig struct {
	Prefix string
	TTL    time.Duration
}

// DefaultLookupCacheConfig returns the stock configuration.
func DefaultLookupCacheConfig() LookupCacheConfig {
	return LookupCacheConfig{Prefix: "rdn:lookup", TTL: 10 * time.Minute}
}

// CacheMetrics tracks cache hit/miss statistics.
type CacheMetrics struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// LookupCache keeps fee lookup results in Redis. It degrades to a
// pass-through when Redis is unavailable; cache failures never fail a lookup.
// Placeholder results are never cached.
type LookupCache struct {
	client  RedisClient
	config  LookupCacheConfig
	logger  *logger.Logger
	metrics CacheMetrics
	healthy atomic.Bool
}

// NewLookupCache creates a lookup cache. A nil client yields a disabled cache.
func NewLookupCache(client RedisClient, config LookupCacheConfig, log *logger.Logger) *LookupCache {
	if log == nil {
		log = logger.Nop()
	}
	if config.TTL <= 0 {
		config.TTL = DefaultLookupCacheConfig().TTL
	}
	if config.Prefix == "" {
		config.Prefix = DefaultLookupCacheConfig().Prefix
	}

	c := &LookupCache{client: client, config: config, logger: log.WithComponent("lookup_cache")}
	if client == nil {
		return c
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		c.logger.WithError(err).Warn("Redis connection failed, lookup cache will be disabled")
		return c
	}
	c.healthy.Store(true)
	return c
}

// IsHealthy returns whether the cache is operational.
func (c *LookupCache) IsHealthy() bool {
	return c.client != nil && c.healthy.Load()
}

// Metrics returns the current counters.
func (c *LookupCache) Metrics() CacheMetrics {
	return CacheMetrics{
		Hits:   atomic.LoadUint64(&c.metrics.Hits),
		Misses: atomic.LoadUint64(&c.metrics.Misses),
		Errors: atomic.LoadUint64(&c.metrics.Errors),
	}
}

// Get returns a cached lookup result.
func (c *LookupCache) Get(ctx context.Context, client, lienholder, feeType string) (models.FeeLookupResult, bool) {
	if !c.IsHealthy() {
		return models.FeeLookupResult{}, false
	}

	data, err := c.client.Get(ctx, c.key(client, lienholder, feeType))
	if err != nil {
		atomic.AddUint64(&c.metrics.Misses, 1)
		if !errors.Is(err, ErrCacheMiss) {
			atomic.AddUint64(&c.metrics.Errors, 1)
			c.logger.WithError(err).Warn("lookup cache read failed")
		}
		return models.FeeLookupResult{}, false
	}

	var res models.FeeLookupResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		atomic.AddUint64(&c.metrics.Errors, 1)
		c.logger.WithError(err).Warn("failed to decode cached lookup")
		return models.FeeLookupResult{}, false
	}

	atomic.AddUint64(&c.metrics.Hits, 1)
	return res, true
}

// Set caches a lookup result.
func (c *LookupCache) Set(ctx context.Context, client, lienholder, feeType string, res models.FeeLookupResult) {
	if !c.IsHealthy() || res.Placeholder {
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		c.logger.WithError(err).Warn("failed to encode lookup for cache")
		return
	}

	if err := c.client.Set(ctx, c.key(client, lienholder, feeType), data, c.config.TTL); err != nil {
		atomic.AddUint64(&c.metrics.Errors, 1)
		c.logger.WithError(err).Warn("failed to cache lookup")
	}
}

// InvalidateAll drops every cached lookup, e.g. after rates change.
func (c *LookupCache) InvalidateAll(ctx context.Context) (int, error) {
	if !c.IsHealthy() {
		return 0, nil
	}

	keys, err := c.client.Keys(ctx, c.config.Prefix+":*")
	if err != nil {
		return 0, fmt.Errorf("failed to list lookup cache keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.client.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to invalidate lookup cache: %w", err)
	}

	c.logger.Info("invalidated lookup cache", "keys_deleted", len(keys))
	return len(keys), nil
}

func (c *LookupCache) key(client, lienholder, feeType string) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return fmt.Sprintf("%s:%s", c.config.Prefix, hashKey(norm(client)+"|"+norm(lienholder)+"|"+norm(feeType)))
}

func hashKey(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:16])
}
