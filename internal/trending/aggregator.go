// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package trending

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencircle/feedengine/internal/cache"
	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/metrics"
)

// AggregatorConfig tunes the background aggregation loop.
type AggregatorConfig struct {
	// Interval between aggregation passes. Default: 1m.
	Interval time.Duration `json:"interval" koanf:"interval"`

	// TopN caps the published snapshot size. Default: 200.
	TopN int `json:"top_n" koanf:"top_n"`
}

// DefaultAggregatorConfig returns production defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Interval: time.Minute,
		TopN:     200,
	}
}

// Aggregator periodically folds the engagement window into a normalized,
// sorted snapshot and publishes it to the trending store. Request-serving
// code only ever reads the store, so a slow or failed pass leaves the
// previous snapshot serving.
type Aggregator struct {
	cfg    AggregatorConfig
	window *Window
	store  *cache.TrendingStore
	logger zerolog.Logger
	clock  func() time.Time
}

// NewAggregator creates an aggregator publishing into store.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewAggregator(cfg AggregatorConfig, window *Window, store *cache.TrendingStore, logger zerolog.Logger) *Aggregator {
	def := DefaultAggregatorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	return &Aggregator{
		cfg:    cfg,
		window: window,
		store:  store,
		logger: logger.With().Str("component", "trending").Logger(),
		clock:  time.Now,
	}
}

// SetClock overrides the aggregator's time source. Test hook.
func (a *Aggregator) SetClock(clock func() time.Time) {
	a.clock = clock
}

// Serve runs the aggregation loop until ctx is canceled. One pass runs
// immediately so the snapshot is warm before the first tick. Implements
// suture.Service.
func (a *Aggregator) Serve(ctx context.Context) error {
	a.RunOnce()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.RunOnce()
		}
	}
}

// RunOnce executes a single aggregation pass.
func (a *Aggregator) RunOnce() {
	start := a.clock()
	scores := a.window.Scores(start)

	entries := make([]feed.TrendingCacheEntry, 0, len(scores))
	maxScore := 0.0
	for _, score := range scores {
		if score > maxScore {
			maxScore = score
		}
	}
	for contentID, score := range scores {
		normalized := 0.0
		if maxScore > 0 {
			normalized = score / maxScore
		}
		entries = append(entries, feed.TrendingCacheEntry{
			ContentID: contentID,
			Score:     normalized,
			WindowEnd: start,
		})
	}

	// Score descending, content id ascending for a stable snapshot.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ContentID < entries[j].ContentID
	})
	if len(entries) > a.cfg.TopN {
		entries = entries[:a.cfg.TopN]
	}

	a.store.Publish(entries, start)

	elapsed := a.clock().Sub(start)
	metrics.TrendingAggregationDuration.Observe(elapsed.Seconds())
	a.logger.Debug().
		Int("entries", len(entries)).
		Int64("version", a.store.Version()).
		Dur("elapsed", elapsed).
		Msg("trending snapshot published")
}
