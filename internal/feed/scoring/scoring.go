// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package scoring implements the weighted factor model that converts a
// candidate's raw signals into a ranking score. The engine is pure: given
// the same candidate, viewer, weights, and clock, it always produces the
// same score, and it never mutates its inputs.
package scoring

import (
	"math"
	"time"

	"github.com/opencircle/feedengine/internal/feed"
)

// Config holds the scoring engine tunables.
type Config struct {
	// Weights are the default factor coefficients, overridable per call.
	Weights feed.FactorWeights `json:"weights" koanf:"weights"`

	// HalfLives maps each category to its freshness half-life. Shorter
	// half-lives make a category's content age out faster.
	HalfLives map[feed.Category]time.Duration `json:"half_lives" koanf:"half_lives"`
}

// DefaultConfig returns the shipped scoring configuration. Trending content
// ages out in hours; community and product content stays relevant for days.
func DefaultConfig() Config {
	return Config{
		Weights: feed.DefaultFactorWeights(),
		HalfLives: map[feed.Category]time.Duration{
			feed.CategoryConnection: 24 * time.Hour,
			feed.CategoryInterest:   48 * time.Hour,
			feed.CategoryTrending:   6 * time.Hour,
			feed.CategoryDiscovery:  48 * time.Hour,
			feed.CategoryCommunity:  72 * time.Hour,
			feed.CategoryProduct:    96 * time.Hour,
		},
	}
}

// Engine computes candidate scores. Safe for concurrent use.
type Engine struct {
	weights feed.FactorWeights

	// lambdas are precomputed decay rates (ln2 / half-life) per category.
	lambdas map[feed.Category]float64

	// fallbackLambda applies to categories without a configured half-life.
	fallbackLambda float64

	clock func() time.Time
}

// defaultHalfLife covers categories missing from config.
const defaultHalfLife = 48 * time.Hour

// NewEngine creates a scoring engine from config. Zero-value weights and
// missing half-lives fall back to defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Weights == (feed.FactorWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.HalfLives == nil {
		cfg.HalfLives = def.HalfLives
	}

	lambdas := make(map[feed.Category]float64, len(cfg.HalfLives))
	for cat, hl := range cfg.HalfLives {
		if hl > 0 {
			lambdas[cat] = math.Ln2 / hl.Seconds()
		}
	}

	return &Engine{
		weights:        cfg.Weights,
		lambdas:        lambdas,
		fallbackLambda: math.Ln2 / defaultHalfLife.Seconds(),
		clock:          time.Now,
	}
}

// SetClock overrides the engine's time source. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Score computes the candidate's ranking score as the weighted sum of the
// factor values. A non-nil override replaces the default weights for this
// call. Signals absent from the candidate contribute zero.
func (e *Engine) Score(c *feed.ContentCandidate, v *feed.Viewer, override *feed.FactorWeights) float64 {
	w := e.weights
	if override != nil {
		w = *override
	}

	score := w.Connection * connectionFactor(c, v)
	score += w.Interest * interestFactor(c, v)
	score += w.Interaction * clamp01(c.Signal(feed.SignalInteraction))
	score += w.ContentType * clamp01(c.Signal(feed.SignalContentTypePreference))
	score += w.Trending * clamp01(c.Signal(feed.SignalTrending))
	score += w.TimeDecay * e.decayFactor(c)
	score -= w.DiversityPenalty * clamp01(c.Signal(feed.SignalDiversityPenalty))

	return score
}

// connectionFactor maps the author's circle to the viewer's configured
// circle weight. Candidates without a graph relationship score zero.
func connectionFactor(c *feed.ContentCandidate, v *feed.Viewer) float64 {
	if c.AuthorCircle == "" || v == nil || v.CircleWeights == nil {
		return 0
	}
	return clamp01(v.CircleWeights[c.AuthorCircle])
}

// interestFactor is the Jaccard overlap between the candidate's tags and
// the viewer's interest tags.
func interestFactor(c *feed.ContentCandidate, v *feed.Viewer) float64 {
	if v == nil {
		return 0
	}
	return jaccard(c.Tags, v.InterestTags)
}

// decayFactor is exp(-lambda * age) with the category's decay rate. Future
// timestamps clamp to zero age instead of boosting.
func (e *Engine) decayFactor(c *feed.ContentCandidate) float64 {
	if c.CreatedAt.IsZero() {
		return 0
	}

	age := e.clock().Sub(c.CreatedAt).Seconds()
	if age < 0 {
		age = 0
	}

	lambda, ok := e.lambdas[c.Category]
	if !ok {
		lambda = e.fallbackLambda
	}
	return math.Exp(-lambda * age)
}

// jaccard computes |a ∩ b| / |a ∪ b| over tag sets. Empty sets yield zero.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[tag] = struct{}{}
	}

	intersection := 0
	seen := make(map[string]struct{}, len(b))
	for _, tag := range b {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		if _, ok := set[tag]; ok {
			intersection++
		}
	}

	union := len(set) + len(seen) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
