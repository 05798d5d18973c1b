// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package cache provides the engine's caching layers: a TTL feed cache
// with stale-read fallback and explicit per-viewer invalidation, and a
// lock-free versioned snapshot store for trending scores.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/metrics"
)

// feedCacheName labels this cache's metrics.
const feedCacheName = "feed"

// FeedCacheConfig tunes the feed cache.
type FeedCacheConfig struct {
	// MaxStale bounds how old an expired entry may be and still serve as
	// a degraded fallback. Default: 24h.
	MaxStale time.Duration `json:"max_stale" koanf:"max_stale"`

	// JanitorInterval is how often expired entries are swept. Default: 5m.
	JanitorInterval time.Duration `json:"janitor_interval" koanf:"janitor_interval"`
}

// DefaultFeedCacheConfig returns production defaults.
func DefaultFeedCacheConfig() FeedCacheConfig {
	return FeedCacheConfig{
		MaxStale:        24 * time.Hour,
		JanitorInterval: 5 * time.Minute,
	}
}

// feedEntry wraps a cached feed with its expiry.
type feedEntry struct {
	value     *feed.FeedCacheEntry
	expiresAt time.Time
}

// FeedCache is an in-process TTL cache of assembled feeds, keyed by viewer
// and composition version. Expired entries stay readable through GetStale
// until the janitor removes them past MaxStale. Safe for concurrent use.
type FeedCache struct {
	cfg    FeedCacheConfig
	logger zerolog.Logger
	clock  func() time.Time

	mu sync.RWMutex
	// entries[viewerID][compositionVersion]
	entries map[string]map[int]*feedEntry
}

// NewFeedCache creates a feed cache. Call RunJanitor to enable sweeping.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewFeedCache(cfg FeedCacheConfig, logger zerolog.Logger) *FeedCache {
	def := DefaultFeedCacheConfig()
	if cfg.MaxStale <= 0 {
		cfg.MaxStale = def.MaxStale
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = def.JanitorInterval
	}
	return &FeedCache{
		cfg:     cfg,
		logger:  logger.With().Str("component", "feed_cache").Logger(),
		clock:   time.Now,
		entries: make(map[string]map[int]*feedEntry),
	}
}

// Get returns a live entry, or ok=false on miss or expiry.
func (c *FeedCache) Get(viewerID string, compositionVersion int) (*feed.FeedCacheEntry, bool) {
	c.mu.RLock()
	entry := c.lookup(viewerID, compositionVersion)
	c.mu.RUnlock()

	if entry == nil || c.clock().After(entry.expiresAt) {
		metrics.CacheMisses.WithLabelValues(feedCacheName).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(feedCacheName).Inc()
	return entry.value, true
}

// GetStale returns an entry even past its TTL, as long as it is younger
// than MaxStale. Used as the fallback when regeneration fails.
func (c *FeedCache) GetStale(viewerID string, compositionVersion int) (*feed.FeedCacheEntry, bool) {
	c.mu.RLock()
	entry := c.lookup(viewerID, compositionVersion)
	c.mu.RUnlock()

	if entry == nil {
		return nil, false
	}
	if c.clock().Sub(entry.value.GeneratedAt) > c.cfg.MaxStale {
		return nil, false
	}
	metrics.CacheStaleServed.WithLabelValues(feedCacheName).Inc()
	return entry.value, true
}

// Put stores an entry with the given TTL, replacing any entry for the same
// viewer and composition version.
func (c *FeedCache) Put(entry *feed.FeedCacheEntry, ttl time.Duration) {
	if entry == nil || ttl <= 0 {
		return
	}

	c.mu.Lock()
	versions, ok := c.entries[entry.ViewerID]
	if !ok {
		versions = make(map[int]*feedEntry, 1)
		c.entries[entry.ViewerID] = versions
	}
	versions[entry.CompositionVersion] = &feedEntry{
		value:     entry,
		expiresAt: c.clock().Add(ttl),
	}
	c.mu.Unlock()

	c.updateSizeMetric()
}

// Invalidate drops every cached feed for the viewer, across all
// composition versions. Idempotent: invalidating an absent viewer is a
// no-op and still counts as a successful invalidation.
func (c *FeedCache) Invalidate(viewerID string) {
	c.mu.Lock()
	delete(c.entries, viewerID)
	c.mu.Unlock()

	metrics.CacheInvalidations.WithLabelValues(feedCacheName).Inc()
	c.updateSizeMetric()
}

// Len returns the total number of cached entries.
func (c *FeedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, versions := range c.entries {
		n += len(versions)
	}
	return n
}

// RunJanitor sweeps entries older than MaxStale until ctx is canceled.
// Expired-but-fresh entries are kept for GetStale.
func (c *FeedCache) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.sweep(); removed > 0 {
				c.logger.Debug().Int("removed", removed).Msg("swept stale feed entries")
			}
		}
	}
}

// sweep removes entries past the stale window and returns the count.
func (c *FeedCache) sweep() int {
	cutoff := c.clock().Add(-c.cfg.MaxStale)

	c.mu.Lock()
	removed := 0
	for viewerID, versions := range c.entries {
		for version, entry := range versions {
			if entry.value.GeneratedAt.Before(cutoff) {
				delete(versions, version)
				removed++
			}
		}
		if len(versions) == 0 {
			delete(c.entries, viewerID)
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.updateSizeMetric()
	}
	return removed
}

// SetClock overrides the cache's time source. Test hook.
func (c *FeedCache) SetClock(clock func() time.Time) {
	c.clock = clock
}

func (c *FeedCache) lookup(viewerID string, compositionVersion int) *feedEntry {
	versions, ok := c.entries[viewerID]
	if !ok {
		return nil
	}
	return versions[compositionVersion]
}

func (c *FeedCache) updateSizeMetric() {
	metrics.CacheEntries.WithLabelValues(feedCacheName).Set(float64(c.Len()))
}
