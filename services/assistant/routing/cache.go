// Copyright (C) 2025 Arcadian AI (engineering@arcadian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

// =============================================================================
// Response Cache
// =============================================================================
//
// Exact-match response caching keyed by a digest of the normalized query.
// Only context-free exchanges are cached: the router checks that the
// session carries no history before consulting or populating the cache,
// since a follow-up's correct answer depends on prior turns.
//
// Two backends. MemoryCache is process-local and the default. RedisCache
// shares hits across replicas; values are JSON so other services (and
// redis-cli) can inspect entries.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "concierge",
	Subsystem: "routing",
	Name:      "cache_requests_total",
	Help:      "Response cache lookups by outcome.",
}, []string{"outcome"})

// DefaultCacheTTL is used when a cache is constructed with a zero TTL.
const DefaultCacheTTL = 5 * time.Minute

// cacheKeyPrefix namespaces Redis keys. Versioned (v1) to allow future
// format changes without collision.
const cacheKeyPrefix = "concierge/cache/v1/"

// CachedResponse is the stored answer for a context-free query.
type CachedResponse struct {
	Response     string    `json:"response"`
	Route        string    `json:"route"`
	Tool         string    `json:"tool,omitempty"`
	QualityScore float64   `json:"quality_score,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CacheStats summarizes cache activity since process start.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// ResponseCache is the exact-match response cache.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ResponseCache interface {
	// Get retrieves the cached response for key. Returns (nil, nil) on
	// miss; error only on backend failure.
	Get(ctx context.Context, key string) (*CachedResponse, error)

	// Set stores the response under key with the cache TTL.
	Set(ctx context.Context, key string, resp *CachedResponse) error

	// Clear drops all entries.
	Clear(ctx context.Context) error

	// Stats reports hit/miss counters and the live entry count.
	Stats(ctx context.Context) CacheStats
}

// MakeKey derives the cache key for a query: the first 16 hex characters
// of SHA256 over the trimmed, lowercased text. Collisions at 64 bits are
// negligible for a cache that tolerates a wrong-but-expirable entry.
func MakeKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])[:16]
}

// =============================================================================
// MemoryCache
// =============================================================================

// MemoryCache is a process-local ResponseCache.
type MemoryCache struct {
	store  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a memory cache. ttl <= 0 uses DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{store: gocache.New(ttl, 2*ttl)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		cacheRequests.WithLabelValues("miss").Inc()
		return nil, nil
	}
	c.hits.Add(1)
	cacheRequests.WithLabelValues("hit").Inc()
	resp := v.(CachedResponse)
	return &resp, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, resp *CachedResponse) error {
	c.store.SetDefault(key, *resp)
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.store.Flush()
	return nil
}

func (c *MemoryCache) Stats(ctx context.Context) CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.store.ItemCount(),
	}
}

// =============================================================================
// RedisCache
// =============================================================================

// RedisCache shares the response cache across replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache creates a Redis-backed cache. ttl <= 0 uses
// DefaultCacheTTL. The connection is verified with a ping so a
// misconfigured address fails at startup, not on the first query.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("routing: redis ping %s: %w", addr, err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		cacheRequests.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("routing: redis get: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("routing: redis decode: %w", err)
	}
	c.hits.Add(1)
	cacheRequests.WithLabelValues("hit").Inc()
	return &resp, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, resp *CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("routing: redis encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("routing: redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("routing: redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("routing: redis del: %w", err)
	}
	return nil
}

func (c *RedisCache) Stats(ctx context.Context) CacheStats {
	entries := 0
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		entries++
	}
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }
