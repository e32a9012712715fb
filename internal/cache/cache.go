// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package cache is the store-backed TTL cache in front of the provider
// adapters. Entries live in cache_entries rows scoped by provider, so
// they survive restarts and can be dropped per provider when a session
// or setting changes. Values are JSON; the hourly sweep job removes
// expired rows.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
)

// Config KV keys for the runtime-tunable TTLs. Values are Go duration
// strings ("30m", "6h"); unparsable or absent values fall back to the
// static config.
const (
	TTLKeySearch   = "cache.search_ttl"
	TTLKeyEpisodes = "cache.episodes_ttl"
	TTLKeyBaseInfo = "cache.base_info_ttl"
)

// Store is the persistence the cache needs. Implemented by database.DB.
type Store interface {
	CacheGet(ctx context.Context, provider, key string) ([]byte, bool, error)
	CacheSet(ctx context.Context, provider, key string, value []byte, ttl time.Duration) error
	CacheDelete(ctx context.Context, provider, key string) error
	CacheDeleteProvider(ctx context.Context, provider string) (int64, error)
	SweepExpiredCache(ctx context.Context) (int64, error)
	GetConfigValueDefault(ctx context.Context, key, def string) (string, error)
}

// Stats is a hit/miss snapshot.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Cache wraps the cache_entries table with JSON marshalling, a default
// TTL and hit/miss accounting. Safe for concurrent use.
type Cache struct {
	store      Store
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache. A non-positive defaultTTL selects 30 minutes.
func New(store Store, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &Cache{store: store, defaultTTL: defaultTTL}
}

// Get reads a cached value into out. Returns false on a miss; expired
// entries count as misses and are left for the sweeper. A row that no
// longer decodes into out is dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, provider, key string, out any) (bool, error) {
	raw, ok, err := c.store.CacheGet(ctx, provider, key)
	if err != nil {
		return false, err
	}
	if !ok {
		c.misses.Add(1)
		metrics.RecordCacheMiss(keyKind(key))
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logging.Warn().
			Err(err).
			Str("provider", provider).
			Str("cache_key", key).
			Msg("Dropping undecodable cache entry")
		if derr := c.store.CacheDelete(ctx, provider, key); derr != nil {
			return false, derr
		}
		c.misses.Add(1)
		metrics.RecordCacheMiss(keyKind(key))
		return false, nil
	}
	c.hits.Add(1)
	metrics.RecordCacheHit(keyKind(key))
	return true, nil
}

// Set stores a value under the default TTL.
func (c *Cache) Set(ctx context.Context, provider, key string, value any) error {
	return c.SetWithTTL(ctx, provider, key, value, c.defaultTTL)
}

// SetWithTTL stores a value with an explicit TTL, replacing any
// previous entry under the same key.
func (c *Cache) SetWithTTL(ctx context.Context, provider, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.store.CacheSet(ctx, provider, key, raw, ttl)
}

// Delete removes one entry. Absent entries are not an error.
func (c *Cache) Delete(ctx context.Context, provider, key string) error {
	return c.store.CacheDelete(ctx, provider, key)
}

// DeleteProvider drops every entry of one provider. Called when a
// provider's settings or session change so stale responses cannot
// outlive the state that produced them.
func (c *Cache) DeleteProvider(ctx context.Context, provider string) error {
	removed, err := c.store.CacheDeleteProvider(ctx, provider)
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.Info().
			Str("provider", provider).
			Int64("removed", removed).
			Msg("Provider cache cleared")
	}
	return nil
}

// Stats returns the process-lifetime hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// HitRate returns the fraction of lookups served from cache, 0 when
// nothing has been looked up yet.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// EffectiveTTL resolves a TTL that operators may override at runtime
// through the config KV. The stored value must be a Go duration string;
// anything else falls back to def.
func (c *Cache) EffectiveTTL(ctx context.Context, kvKey string, def time.Duration) time.Duration {
	raw, err := c.store.GetConfigValueDefault(ctx, kvKey, "")
	if err != nil || raw == "" {
		return def
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		logging.Warn().
			Str("config_key", kvKey).
			Str("value", raw).
			Msg("Ignoring invalid cache TTL override")
		return def
	}
	return ttl
}

// Sweep removes expired rows. Registered as the hourly cache_sweep
// scheduler job.
func (c *Cache) Sweep(ctx context.Context) error {
	removed, err := c.store.SweepExpiredCache(ctx)
	if err != nil {
		return fmt.Errorf("cache sweep failed: %w", err)
	}
	if removed > 0 {
		logging.Info().Int64("removed", removed).Msg("Swept expired cache entries")
	} else {
		logging.Debug().Msg("Cache sweep found nothing to remove")
	}
	return nil
}

// GenerateKey builds a cache key from a method name and its parameters.
// Parameters are JSON-hashed so the key stays short whatever the
// inputs; the method prefix doubles as the metric label for hit/miss
// accounting.
func GenerateKey(method string, params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", method, params)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", method, hash[:16])
}

func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
