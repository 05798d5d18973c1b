// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package feed

import (
	"sort"
	"time"
)

// Category classifies a content candidate by the pipeline that produced it.
type Category string

const (
	// CategoryConnection is content posted by the viewer's connections.
	CategoryConnection Category = "connection"
	// CategoryInterest is content matched against the viewer's interest tags.
	CategoryInterest Category = "interest"
	// CategoryTrending is content ranked by the trending aggregator.
	CategoryTrending Category = "trending"
	// CategoryDiscovery is content from the recommendation collaborator.
	CategoryDiscovery Category = "discovery"
	// CategoryCommunity is content from communities the viewer belongs to.
	CategoryCommunity Category = "community"
	// CategoryProduct is catalog/product content.
	CategoryProduct Category = "product"
)

// categories is the declared category order. It drives the stable tie-break
// in slot allocation and the deterministic ordering of degraded-category
// lists, so the order must not change between releases.
var categories = []Category{
	CategoryConnection,
	CategoryInterest,
	CategoryTrending,
	CategoryDiscovery,
	CategoryCommunity,
	CategoryProduct,
}

// Categories returns all categories in declared order.
// The returned slice is a copy and safe to modify.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// CategoryIndex returns the declared-order index of c, or len(categories)
// for unknown categories so they sort after all known ones.
func CategoryIndex(c Category) int {
	for i, cat := range categories {
		if cat == c {
			return i
		}
	}
	return len(categories)
}

// ValidCategory reports whether c is one of the declared categories.
func ValidCategory(c Category) bool {
	return CategoryIndex(c) < len(categories)
}

// CircleType is a tier of social closeness used to weight connection scoring.
type CircleType string

const (
	// CircleInner is the viewer's closest tier.
	CircleInner CircleType = "inner"
	// CircleOuter is the broader acquaintance tier.
	CircleOuter CircleType = "outer"
	// CircleUniversal is the public/follow tier.
	CircleUniversal CircleType = "universal"
)

// Viewer is the read-only profile input to feed generation.
// It is owned by the external profile/graph collaborator.
type Viewer struct {
	// ID is the viewer's identifier.
	ID string `json:"id"`

	// CircleWeights maps each circle tier to its connection-score weight.
	CircleWeights map[CircleType]float64 `json:"circle_weights"`

	// InterestTags are the viewer's declared or inferred interest tags.
	InterestTags []string `json:"interest_tags"`
}

// Connection is one edge in the viewer's social graph.
type Connection struct {
	PeerID string     `json:"peer_id"`
	Circle CircleType `json:"circle"`
}

// Raw signal keys populated by candidate sources and read by the scorer.
// A key absent from RawSignals is treated as zero, never as missing data.
const (
	// SignalInteraction is the viewer-author historic interaction strength.
	SignalInteraction = "interaction"
	// SignalContentTypePreference is the viewer's affinity for the
	// candidate's content type (video, text, listing, ...).
	SignalContentTypePreference = "content_type_preference"
	// SignalTrending is the aggregator-computed trending score.
	SignalTrending = "trending"
	// SignalDiversityPenalty is a placeholder penalty slot reserved for
	// upstream dedupe heuristics; normally zero.
	SignalDiversityPenalty = "diversity_penalty"
)

// ContentCandidate is one item under consideration for a feed, created per
// request by a candidate source and never persisted by this engine.
type ContentCandidate struct {
	// ID is the content identifier.
	ID string `json:"id"`

	// Category is the pipeline that produced this candidate.
	Category Category `json:"category"`

	// AuthorID is the content author.
	AuthorID string `json:"author_id"`

	// AuthorCircle is the viewer's circle containing the author.
	// Empty for categories without a graph relationship; the connection
	// factor then scores zero.
	AuthorCircle CircleType `json:"author_circle,omitempty"`

	// CommunityID is set for community content.
	CommunityID string `json:"community_id,omitempty"`

	// Tags are the content's topic tags, matched against the viewer's
	// interest tags.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is the content creation time, used for time decay.
	CreatedAt time.Time `json:"created_at"`

	// RawSignals holds the per-candidate scoring inputs keyed by the
	// Signal* constants.
	RawSignals map[string]float64 `json:"raw_signals,omitempty"`
}

// Signal returns the named raw signal, or zero when absent.
func (c *ContentCandidate) Signal(key string) float64 {
	if c.RawSignals == nil {
		return 0
	}
	return c.RawSignals[key]
}

// FactorWeights are the coefficients of the scoring formula. They are
// configuration, not code, and may be overridden per composition config by
// a running experiment.
type FactorWeights struct {
	// Connection weights the circle-derived connection factor.
	Connection float64 `json:"connection" koanf:"connection"`

	// Interest weights tag-overlap relevance.
	Interest float64 `json:"interest" koanf:"interest"`

	// Interaction weights the historic viewer-author interaction signal.
	Interaction float64 `json:"interaction" koanf:"interaction"`

	// ContentType weights the viewer's content-type preference signal.
	ContentType float64 `json:"content_type" koanf:"content_type"`

	// Trending weights the aggregator trending signal.
	Trending float64 `json:"trending" koanf:"trending"`

	// TimeDecay weights the exponential freshness factor.
	TimeDecay float64 `json:"time_decay" koanf:"time_decay"`

	// DiversityPenalty weights the (subtracted) diversity penalty slot.
	DiversityPenalty float64 `json:"diversity_penalty" koanf:"diversity_penalty"`
}

// DefaultFactorWeights returns the shipped scoring coefficients.
func DefaultFactorWeights() FactorWeights {
	return FactorWeights{
		Connection:       0.25,
		Interest:         0.20,
		Interaction:      0.15,
		ContentType:      0.10,
		Trending:         0.15,
		TimeDecay:        0.10,
		DiversityPenalty: 0.05,
	}
}

// CompositionConfig describes how a feed is assembled: the slot ratio per
// category and the default length. Configs are immutable once referenced by
// a cached feed; Version participates in the cache key so publishing a new
// version implicitly invalidates entries built from the old one.
type CompositionConfig struct {
	// ID identifies the config (e.g. "default", "exp-42-treatment").
	ID string `json:"id"`

	// Version increments whenever ratios or weights change.
	Version int `json:"version"`

	// Ratios maps categories to their share of feed slots. Must sum to
	// 1.0 within a small tolerance; missing categories get no slots.
	Ratios map[Category]float64 `json:"ratios"`

	// FeedLengthDefault is the feed length used when the caller requests
	// zero items.
	FeedLengthDefault int `json:"feed_length_default"`

	// ScoringWeights optionally overrides the engine's default factor
	// weights (experiment treatments use this).
	ScoringWeights *FactorWeights `json:"scoring_weights,omitempty"`
}

// Clone returns a deep copy of the config.
func (c *CompositionConfig) Clone() *CompositionConfig {
	out := &CompositionConfig{
		ID:                c.ID,
		Version:           c.Version,
		FeedLengthDefault: c.FeedLengthDefault,
	}
	if c.Ratios != nil {
		out.Ratios = make(map[Category]float64, len(c.Ratios))
		for k, v := range c.Ratios {
			out.Ratios[k] = v
		}
	}
	if c.ScoringWeights != nil {
		w := *c.ScoringWeights
		out.ScoringWeights = &w
	}
	return out
}

// ScoredItem pairs a candidate with its ranking score.
type ScoredItem struct {
	Candidate ContentCandidate `json:"candidate"`
	Score     float64          `json:"score"`
}

// SortScored sorts items into the canonical total order: score descending,
// created_at descending, then id ascending. The order is deterministic for
// any input, which the composer relies on for reproducible feeds.
func SortScored(items []ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].Candidate.CreatedAt.Equal(items[j].Candidate.CreatedAt) {
			return items[i].Candidate.CreatedAt.After(items[j].Candidate.CreatedAt)
		}
		return items[i].Candidate.ID < items[j].Candidate.ID
	})
}

// Metadata carries per-request facts for the analytics collaborator.
// Degraded paths are flagged here, never hidden.
type Metadata struct {
	// RequestID is the unique request identifier for tracing.
	RequestID string `json:"request_id"`

	// ViewerID is the viewer the feed was generated for.
	ViewerID string `json:"viewer_id"`

	// CompositionID and CompositionVersion identify the config used.
	CompositionID      string `json:"composition_id"`
	CompositionVersion int    `json:"composition_version"`

	// ExperimentID and Variant are set when a running experiment decided
	// the composition.
	ExperimentID string `json:"experiment_id,omitempty"`
	Variant      string `json:"variant,omitempty"`

	// GenerationMS is the total compose latency in milliseconds.
	GenerationMS int64 `json:"generation_ms"`

	// CacheHit indicates the feed was served from cache.
	CacheHit bool `json:"cache_hit"`

	// Stale indicates an expired cache entry was served because
	// regeneration failed.
	Stale bool `json:"stale"`

	// Degraded indicates at least one category was excluded, or the whole
	// pipeline fell back.
	Degraded bool `json:"degraded"`

	// DegradedCategories lists excluded categories in declared order.
	DegradedCategories []Category `json:"degraded_categories,omitempty"`

	// CandidateCounts is the number of candidates fetched per category
	// before selection.
	CandidateCounts map[Category]int `json:"candidate_counts,omitempty"`

	// SlotCounts is the final per-category slot allocation.
	SlotCounts map[Category]int `json:"slot_counts,omitempty"`

	// GeneratedAt is when the feed was generated (not served).
	GeneratedAt time.Time `json:"generated_at"`
}

// Response is the result of one compose call.
type Response struct {
	Items    []ScoredItem `json:"items"`
	Metadata Metadata     `json:"metadata"`
}

// FeedCacheEntry is an assembled, already-diversified feed stored by the
// cache manager.
type FeedCacheEntry struct {
	ViewerID           string       `json:"viewer_id"`
	CompositionVersion int          `json:"composition_version"`
	Items              []ScoredItem `json:"items"`
	Metadata           Metadata     `json:"metadata"`
	GeneratedAt        time.Time    `json:"generated_at"`
}

// TrendingCacheEntry is one content item's aggregator-computed trending
// score. Written only by the trending aggregator; read-only elsewhere.
type TrendingCacheEntry struct {
	ContentID string    `json:"content_id"`
	Score     float64   `json:"trending_score"`
	WindowEnd time.Time `json:"window_end"`
}
