// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package trending aggregates engagement events into trending scores. A
// bucketed sliding window accumulates weighted engagement per content
// item; a background aggregator periodically folds the window into a
// normalized, sorted snapshot published to the trending store.
package trending

import (
	"math"
	"sync"
	"time"
)

// EngagementType classifies one engagement event.
type EngagementType string

const (
	// EngagementView is a content impression.
	EngagementView EngagementType = "view"
	// EngagementLike is an explicit like/reaction.
	EngagementLike EngagementType = "like"
	// EngagementComment is a comment or reply.
	EngagementComment EngagementType = "comment"
	// EngagementShare is a reshare/repost.
	EngagementShare EngagementType = "share"
)

// DefaultEngagementWeights returns the shipped per-type weights. Shares
// carry the strongest trending signal, raw views the weakest.
func DefaultEngagementWeights() map[EngagementType]float64 {
	return map[EngagementType]float64{
		EngagementView:    1,
		EngagementLike:    4,
		EngagementComment: 8,
		EngagementShare:   16,
	}
}

// WindowConfig tunes the engagement window.
type WindowConfig struct {
	// Span is how far back engagement counts. Default: 24h.
	Span time.Duration `json:"span" koanf:"span"`

	// BucketSize is the accumulation granularity. Default: 10m.
	BucketSize time.Duration `json:"bucket_size" koanf:"bucket_size"`

	// HalfLife controls how quickly old buckets lose influence inside
	// the window. Default: 6h.
	HalfLife time.Duration `json:"half_life" koanf:"half_life"`

	// Weights maps engagement types to their contribution. Unknown types
	// count with weight 1.
	Weights map[EngagementType]float64 `json:"weights" koanf:"weights"`
}

// DefaultWindowConfig returns production defaults.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Span:       24 * time.Hour,
		BucketSize: 10 * time.Minute,
		HalfLife:   6 * time.Hour,
		Weights:    DefaultEngagementWeights(),
	}
}

// Window accumulates weighted engagement per content item in fixed time
// buckets. Recording is O(1); scoring walks live buckets only. Safe for
// concurrent use.
type Window struct {
	cfg WindowConfig

	mu sync.Mutex
	// buckets[bucketStartUnix][contentID] = accumulated weight
	buckets map[int64]map[string]float64
}

// NewWindow creates an engagement window.
func NewWindow(cfg WindowConfig) *Window {
	def := DefaultWindowConfig()
	if cfg.Span <= 0 {
		cfg.Span = def.Span
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = def.BucketSize
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.Weights == nil {
		cfg.Weights = def.Weights
	}
	return &Window{
		cfg:     cfg,
		buckets: make(map[int64]map[string]float64),
	}
}

// Record adds one engagement event. Events older than the window span are
// dropped; late events inside the span land in their original bucket.
func (w *Window) Record(contentID string, typ EngagementType, at time.Time) {
	if contentID == "" {
		return
	}

	weight, ok := w.cfg.Weights[typ]
	if !ok {
		weight = 1
	}
	bucket := at.Truncate(w.cfg.BucketSize).Unix()

	w.mu.Lock()
	defer w.mu.Unlock()

	counts, ok := w.buckets[bucket]
	if !ok {
		counts = make(map[string]float64)
		w.buckets[bucket] = counts
	}
	counts[contentID] += weight
}

// Scores folds the window into per-content scores as of now, applying
// exponential decay by bucket age, and prunes buckets that fell out of the
// span.
func (w *Window) Scores(now time.Time) map[string]float64 {
	cutoff := now.Add(-w.cfg.Span).Unix()
	halfLife := w.cfg.HalfLife.Seconds()

	w.mu.Lock()
	defer w.mu.Unlock()

	scores := make(map[string]float64)
	for bucketStart, counts := range w.buckets {
		if bucketStart < cutoff {
			delete(w.buckets, bucketStart)
			continue
		}
		age := float64(now.Unix() - bucketStart)
		if age < 0 {
			age = 0
		}
		decay := halfLifeDecay(age, halfLife)
		for contentID, weight := range counts {
			scores[contentID] += weight * decay
		}
	}
	return scores
}

// BucketCount returns the number of live buckets.
func (w *Window) BucketCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buckets)
}

// halfLifeDecay is 0.5^(age/halfLife).
func halfLifeDecay(ageSeconds, halfLifeSeconds float64) float64 {
	return math.Exp2(-ageSeconds / halfLifeSeconds)
}
