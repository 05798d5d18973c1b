// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package cache

import (
	"sync/atomic"
	"time"

	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/metrics"
)

// trendingSnapshot is one immutable generation of trending scores.
type trendingSnapshot struct {
	version     int64
	entries     []feed.TrendingCacheEntry
	scores      map[string]float64
	generatedAt time.Time
}

// TrendingStore holds the current trending snapshot behind an atomic
// pointer. The aggregator publishes whole generations; readers always see
// a complete, consistent snapshot and never block a publish. Safe for
// concurrent use.
type TrendingStore struct {
	current atomic.Pointer[trendingSnapshot]
}

// NewTrendingStore creates a store with an empty snapshot, so reads are
// valid before the first aggregation pass completes.
func NewTrendingStore() *TrendingStore {
	s := &TrendingStore{}
	s.current.Store(&trendingSnapshot{
		entries: []feed.TrendingCacheEntry{},
		scores:  map[string]float64{},
	})
	return s
}

// Publish atomically replaces the snapshot with a new generation. The
// entries must already be sorted by score descending; the store takes
// ownership of the slice.
func (s *TrendingStore) Publish(entries []feed.TrendingCacheEntry, generatedAt time.Time) {
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		scores[e.ContentID] = e.Score
	}

	prev := s.current.Load()
	s.current.Store(&trendingSnapshot{
		version:     prev.version + 1,
		entries:     entries,
		scores:      scores,
		generatedAt: generatedAt,
	})
	metrics.TrendingSnapshotSize.Set(float64(len(entries)))
}

// Top returns the n highest-scored entries. The returned slice is a copy.
func (s *TrendingStore) Top(n int) []feed.TrendingCacheEntry {
	snap := s.current.Load()
	if n > len(snap.entries) {
		n = len(snap.entries)
	}
	if n <= 0 {
		return nil
	}
	out := make([]feed.TrendingCacheEntry, n)
	copy(out, snap.entries[:n])
	return out
}

// Score returns the trending score for one content item.
func (s *TrendingStore) Score(contentID string) (float64, bool) {
	score, ok := s.current.Load().scores[contentID]
	return score, ok
}

// Version returns the snapshot generation counter, starting at zero for
// the empty snapshot.
func (s *TrendingStore) Version() int64 {
	return s.current.Load().version
}

// GeneratedAt returns when the current snapshot was published.
func (s *TrendingStore) GeneratedAt() time.Time {
	return s.current.Load().generatedAt
}

// Size returns the entry count of the current snapshot.
func (s *TrendingStore) Size() int {
	return len(s.current.Load().entries)
}
