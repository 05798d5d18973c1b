// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scorer converts a candidate's raw signals into a single ranking score.
// Implementations must be pure: no side effects, no candidate mutation.
// A non-nil override replaces the engine's default factor weights for this
// call (experiment treatments use this).
type Scorer interface {
	Score(c *ContentCandidate, v *Viewer, override *FactorWeights) float64
}

// CandidateSource fetches a bounded candidate pool for one category.
// Implementations must respect the context deadline and return a partial or
// empty result plus an error rather than blocking past it. Errors are
// category-scoped and non-fatal to the pipeline.
type CandidateSource interface {
	// Category returns the category this source serves.
	Category() Category

	// Fetch returns at most bound candidates for the viewer, with enough
	// raw signal fields populated for the paired scorer.
	Fetch(ctx context.Context, viewer *Viewer, bound int) ([]ContentCandidate, error)
}

// Diversifier reorders a merged, scored feed to enforce spacing
// constraints. Must be deterministic given the same input order.
type Diversifier interface {
	Apply(items []ScoredItem) []ScoredItem
}

// VariantDecision is the outcome of experiment resolution for one viewer.
type VariantDecision struct {
	// Config is the composition to use. Never nil on success.
	Config *CompositionConfig

	// ExperimentID and Variant are empty when no running experiment
	// applied to the viewer.
	ExperimentID string
	Variant      string
}

// VariantResolver resolves the composition config for a viewer, assigning
// the viewer to an experiment variant when one is running.
type VariantResolver interface {
	Resolve(ctx context.Context, viewerID string) (VariantDecision, error)
}

// FeedCache stores assembled, already-diversified feeds.
type FeedCache interface {
	// Get returns a live (unexpired) entry.
	Get(viewerID string, compositionVersion int) (*FeedCacheEntry, bool)

	// GetStale returns an entry even when its TTL has expired, for the
	// stale-while-revalidate fallback.
	GetStale(viewerID string, compositionVersion int) (*FeedCacheEntry, bool)

	// Put stores an entry with the given TTL.
	Put(entry *FeedCacheEntry, ttl time.Duration)

	// Invalidate drops all entries for the viewer. Idempotent.
	Invalidate(viewerID string)
}

// TrendingReader exposes the aggregator's current trending scores.
type TrendingReader interface {
	Score(contentID string) (float64, bool)
}

// ProfileStore is the external profile/graph collaborator boundary used to
// load the viewer.
type ProfileStore interface {
	GetViewer(ctx context.Context, viewerID string) (*Viewer, error)
}

// ComposerConfig holds the composer's operational tunables.
type ComposerConfig struct {
	// FetchTimeout is the shared deadline for all category fetches in one
	// request. Default: 300ms.
	FetchTimeout time.Duration

	// CandidateMultiplier oversizes the fetch bound relative to the slot
	// count so scoring has a real pool to select from. Default: 3.
	CandidateMultiplier int

	// MinFetchBound is the floor for any category's fetch bound.
	// Default: 10.
	MinFetchBound int

	// DefaultFeedLength is used when neither the caller nor the
	// composition config specifies a length. Default: 20.
	DefaultFeedLength int

	// MaxFeedLength caps the requested length. Default: 100.
	MaxFeedLength int

	// MaxConcurrentRequests bounds parallel compose executions.
	// Default: 64.
	MaxConcurrentRequests int

	// FeedTTL is the cache TTL for assembled feeds. Default: 1h.
	FeedTTL time.Duration
}

// DefaultComposerConfig returns production defaults.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		FetchTimeout:          300 * time.Millisecond,
		CandidateMultiplier:   3,
		MinFetchBound:         10,
		DefaultFeedLength:     20,
		MaxFeedLength:         100,
		MaxConcurrentRequests: 64,
		FeedTTL:               time.Hour,
	}
}

// DefaultComposition returns the built-in safe composition used when no
// config is resolvable.
func DefaultComposition() CompositionConfig {
	return CompositionConfig{
		ID:      "default",
		Version: 1,
		Ratios: map[Category]float64{
			CategoryConnection: 0.40,
			CategoryInterest:   0.25,
			CategoryTrending:   0.15,
			CategoryDiscovery:  0.10,
			CategoryCommunity:  0.05,
			CategoryProduct:    0.05,
		},
		FeedLengthDefault: 20,
	}
}

// Composer is the sole entry point of the feed engine. It wires experiment
// resolution, slot allocation, concurrent candidate collection, scoring,
// interleaving, diversity filtering, and caching into one pipeline.
// It is safe for concurrent use.
type Composer struct {
	cfg                ComposerConfig
	defaultComposition CompositionConfig
	logger             zerolog.Logger

	profiles    ProfileStore
	resolver    VariantResolver
	scorer      Scorer
	diversifier Diversifier
	cache       FeedCache
	trending    TrendingReader

	sourceMu sync.RWMutex
	sources  map[Category]CandidateSource

	// sem bounds parallel compose executions across requests.
	sem chan struct{}

	clock func() time.Time
}

// NewComposer creates a composer with the given config.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewComposer(cfg ComposerConfig, logger zerolog.Logger) (*Composer, error) {
	def := DefaultComposerConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = def.CandidateMultiplier
	}
	if cfg.MinFetchBound <= 0 {
		cfg.MinFetchBound = def.MinFetchBound
	}
	if cfg.DefaultFeedLength <= 0 {
		cfg.DefaultFeedLength = def.DefaultFeedLength
	}
	if cfg.MaxFeedLength <= 0 {
		cfg.MaxFeedLength = def.MaxFeedLength
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if cfg.FeedTTL <= 0 {
		cfg.FeedTTL = def.FeedTTL
	}

	comp := DefaultComposition()
	if err := ValidateRatios(comp.Ratios); err != nil {
		return nil, fmt.Errorf("default composition: %w", err)
	}

	return &Composer{
		cfg:                cfg,
		defaultComposition: comp,
		logger:             logger.With().Str("component", "composer").Logger(),
		sources:            make(map[Category]CandidateSource),
		sem:                make(chan struct{}, cfg.MaxConcurrentRequests),
		clock:              time.Now,
	}, nil
}

// SetDefaultComposition replaces the built-in fallback composition.
func (c *Composer) SetDefaultComposition(comp CompositionConfig) error {
	if err := ValidateRatios(comp.Ratios); err != nil {
		return err
	}
	c.defaultComposition = comp
	return nil
}

// SetProfileStore sets the profile/graph collaborator.
func (c *Composer) SetProfileStore(ps ProfileStore) { c.profiles = ps }

// SetVariantResolver sets the experiment resolver.
func (c *Composer) SetVariantResolver(vr VariantResolver) { c.resolver = vr }

// SetScorer sets the scoring engine.
func (c *Composer) SetScorer(s Scorer) { c.scorer = s }

// SetDiversifier sets the diversity filter.
func (c *Composer) SetDiversifier(d Diversifier) { c.diversifier = d }

// SetCache sets the feed cache. A nil cache disables caching; the pipeline
// computes feeds directly and flags the degraded cache path in metadata.
func (c *Composer) SetCache(fc FeedCache) { c.cache = fc }

// SetTrendingReader sets the trending score reader used to enrich
// candidates before scoring.
func (c *Composer) SetTrendingReader(tr TrendingReader) { c.trending = tr }

// RegisterSource adds a candidate source for its category, replacing any
// existing source for that category.
func (c *Composer) RegisterSource(src CandidateSource) {
	c.sourceMu.Lock()
	defer c.sourceMu.Unlock()

	c.sources[src.Category()] = src
	c.logger.Info().Str("category", string(src.Category())).Msg("registered candidate source")
}

// categoryResult is one category's fetch-and-score outcome.
type categoryResult struct {
	category Category
	items    []ScoredItem
	fetched  int
	err      error
}

// Compose assembles a ranked feed for the viewer. requestedLength zero
// means "use the composition default". Only caller contract violations
// (empty viewer id, negative length) return an error; every other failure
// degrades and is flagged in the response metadata.
func (c *Composer) Compose(ctx context.Context, viewerID string, requestedLength int) (*Response, error) {
	if viewerID == "" {
		return nil, ErrViewerRequired
	}
	if requestedLength < 0 {
		return nil, ErrNegativeLength
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := c.clock()
	meta := Metadata{
		RequestID: uuid.New().String(),
		ViewerID:  viewerID,
	}
	logger := c.logger.With().
		Str("request_id", meta.RequestID).
		Str("viewer_id", viewerID).
		Logger()

	comp := c.resolveComposition(ctx, viewerID, &meta, logger)
	length := c.effectiveLength(requestedLength, comp)

	meta.CompositionID = comp.ID
	meta.CompositionVersion = comp.Version

	// Cache first: on hit the pipeline short-circuits to the cached,
	// already-diversified list.
	if resp := c.tryCached(viewerID, comp.Version, length, start, &meta); resp != nil {
		logger.Debug().Msg("feed cache hit")
		return resp, nil
	}

	slots, err := ResolveSlots(comp.Ratios, length)
	if err != nil {
		// The resolved composition was invalid; retry on the built-in
		// default before giving up.
		logger.Warn().Err(err).Msg("composition invalid, falling back to default")
		comp = c.defaultComposition.Clone()
		meta.CompositionID = comp.ID
		meta.CompositionVersion = comp.Version
		meta.Degraded = true
		slots, err = ResolveSlots(comp.Ratios, length)
		if err != nil {
			return nil, err
		}
	}
	meta.SlotCounts = slots

	viewer, verr := c.loadViewer(ctx, viewerID)
	var results []categoryResult
	if verr != nil {
		logger.Warn().Err(verr).Msg("viewer load failed")
	} else {
		results = c.fetchAndScore(ctx, viewer, comp, slots)
	}

	items, degraded := c.assemble(comp, slots, length, results, &meta)

	// Compare against the categories actually fetched, not the slot map:
	// zero-slot categories never run and must not mask a total failure.
	if verr != nil || (len(results) > 0 && len(degraded) == len(results)) {
		// Every active category failed: serve a stale entry if one
		// exists, otherwise an empty degraded feed. Never an error.
		return c.fallbackResponse(viewerID, comp.Version, start, &meta, logger), nil
	}

	if c.diversifier != nil {
		items = c.diversifier.Apply(items)
	}

	meta.GeneratedAt = c.clock()
	meta.GenerationMS = c.clock().Sub(start).Milliseconds()

	// An empty result never overwrites a usable cached feed.
	if c.cache != nil && len(items) > 0 {
		c.cache.Put(&FeedCacheEntry{
			ViewerID:           viewerID,
			CompositionVersion: comp.Version,
			Items:              items,
			Metadata:           meta,
			GeneratedAt:        meta.GeneratedAt,
		}, c.cfg.FeedTTL)
	}

	logger.Debug().
		Int("items", len(items)).
		Int("degraded_categories", len(meta.DegradedCategories)).
		Int64("generation_ms", meta.GenerationMS).
		Msg("feed composed")

	return &Response{Items: items, Metadata: meta}, nil
}

// Invalidate drops all cached feeds for the viewer. Safe to call
// redundantly; a nil cache makes it a no-op.
func (c *Composer) Invalidate(viewerID string) {
	if c.cache != nil {
		c.cache.Invalidate(viewerID)
	}
}

// resolveComposition asks the experiment resolver for the viewer's
// composition, falling back to the built-in default on any failure.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func (c *Composer) resolveComposition(ctx context.Context, viewerID string, meta *Metadata, logger zerolog.Logger) *CompositionConfig {
	if c.resolver == nil {
		return c.defaultComposition.Clone()
	}

	decision, err := c.resolver.Resolve(ctx, viewerID)
	if err != nil || decision.Config == nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			logger.Warn().Err(err).Msg("experiment config invalid, using default composition")
		} else if err != nil {
			logger.Warn().Err(err).Msg("experiment resolution failed, using default composition")
		}
		meta.Degraded = true
		return c.defaultComposition.Clone()
	}

	meta.ExperimentID = decision.ExperimentID
	meta.Variant = decision.Variant
	return decision.Config
}

// effectiveLength applies the length defaulting and capping rules.
func (c *Composer) effectiveLength(requested int, comp *CompositionConfig) int {
	length := requested
	if length == 0 {
		length = comp.FeedLengthDefault
	}
	if length == 0 {
		length = c.cfg.DefaultFeedLength
	}
	if length > c.cfg.MaxFeedLength {
		length = c.cfg.MaxFeedLength
	}
	return length
}

// tryCached serves a live cache entry when present.
func (c *Composer) tryCached(viewerID string, version, length int, start time.Time, meta *Metadata) *Response {
	if c.cache == nil {
		return nil
	}

	entry, ok := c.cache.Get(viewerID, version)
	if !ok {
		return nil
	}

	cached := entry.Metadata
	cached.RequestID = meta.RequestID
	cached.CacheHit = true
	cached.GenerationMS = c.clock().Sub(start).Milliseconds()

	items := entry.Items
	if len(items) > length {
		items = items[:length]
	}
	return &Response{Items: items, Metadata: cached}
}

// loadViewer fetches the viewer profile from the external collaborator.
func (c *Composer) loadViewer(ctx context.Context, viewerID string) (*Viewer, error) {
	if c.profiles == nil {
		return nil, errors.New("feed: profile store not set")
	}
	viewer, err := c.profiles.GetViewer(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("get viewer: %w", err)
	}
	return viewer, nil
}

// fetchAndScore runs all configured category fetches concurrently under a
// single shared deadline. Each category is scored synchronously in its own
// goroutine as soon as its fetch completes, so slow categories never stall
// fast ones.
func (c *Composer) fetchAndScore(ctx context.Context, viewer *Viewer, comp *CompositionConfig, slots map[Category]int) []categoryResult {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	c.sourceMu.RLock()
	sources := make(map[Category]CandidateSource, len(c.sources))
	for cat, src := range c.sources {
		sources[cat] = src
	}
	c.sourceMu.RUnlock()

	active := make([]Category, 0, len(slots))
	for _, cat := range categories {
		if n, ok := slots[cat]; ok && n > 0 {
			active = append(active, cat)
		}
	}

	results := make([]categoryResult, len(active))
	var wg sync.WaitGroup
	for i, cat := range active {
		wg.Add(1)
		go func(idx int, category Category) {
			defer wg.Done()
			results[idx] = c.runCategory(fetchCtx, sources[category], category, viewer, comp, slots[category])
		}(i, cat)
	}
	wg.Wait()

	return results
}

// runCategory fetches and scores a single category.
func (c *Composer) runCategory(ctx context.Context, src CandidateSource, category Category, viewer *Viewer, comp *CompositionConfig, slotCount int) categoryResult {
	result := categoryResult{category: category}

	if src == nil {
		result.err = &SourceFailure{Category: category, Err: errors.New("no source registered")}
		return result
	}

	bound := slotCount * c.cfg.CandidateMultiplier
	if bound < c.cfg.MinFetchBound {
		bound = c.cfg.MinFetchBound
	}

	candidates, err := src.Fetch(ctx, viewer, bound)
	if err != nil {
		result.err = &SourceFailure{
			Category: category,
			TimedOut: errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
		return result
	}
	result.fetched = len(candidates)

	items := make([]ScoredItem, 0, len(candidates))
	for i := range candidates {
		cand := candidates[i]
		c.enrichTrending(&cand)
		score := 0.0
		if c.scorer != nil {
			score = c.scorer.Score(&cand, viewer, comp.ScoringWeights)
		}
		items = append(items, ScoredItem{Candidate: cand, Score: score})
	}
	SortScored(items)
	result.items = items

	return result
}

// enrichTrending copies the aggregator's current trending score into the
// candidate's raw signals so the trending factor applies uniformly across
// categories.
func (c *Composer) enrichTrending(cand *ContentCandidate) {
	if c.trending == nil {
		return
	}
	if _, present := cand.RawSignals[SignalTrending]; present {
		return
	}
	score, ok := c.trending.Score(cand.ID)
	if !ok {
		return
	}
	if cand.RawSignals == nil {
		cand.RawSignals = make(map[string]float64, 1)
	}
	cand.RawSignals[SignalTrending] = score
}

// assemble slices each category to its slot count and interleaves the
// survivors. When categories failed, their slots are redistributed by
// renormalizing the surviving ratios and re-running slot allocation, so the
// exact-sum invariant holds for the degraded feed too.
func (c *Composer) assemble(comp *CompositionConfig, slots map[Category]int, length int, results []categoryResult, meta *Metadata) ([]ScoredItem, []Category) {
	byCategory := make(map[Category][]ScoredItem, len(results))
	counts := make(map[Category]int, len(results))
	var survivors []Category
	var degraded []Category

	for i := range results {
		r := &results[i]
		if r.err != nil {
			degraded = append(degraded, r.category)
			c.logger.Warn().
				Str("category", string(r.category)).
				Err(r.err).
				Msg("category source failed")
			continue
		}
		survivors = append(survivors, r.category)
		byCategory[r.category] = r.items
		counts[r.category] = r.fetched
	}

	// Declared-order sort keeps degraded lists deterministic.
	sortByDeclaredOrder(degraded)
	meta.CandidateCounts = counts
	if len(degraded) > 0 {
		meta.Degraded = true
		meta.DegradedCategories = degraded
	}

	activeRatios := comp.Ratios
	if len(degraded) > 0 && len(survivors) > 0 {
		if renorm := RenormalizeRatios(comp.Ratios, survivors); renorm != nil {
			if reslots, err := ResolveSlots(renorm, length); err == nil {
				activeRatios = renorm
				slots = reslots
				meta.SlotCounts = reslots
			}
		}
	}

	for cat, items := range byCategory {
		if n := slots[cat]; len(items) > n {
			byCategory[cat] = items[:n]
		}
	}

	return interleave(categoriesByRatio(activeRatios), byCategory), degraded
}

// fallbackResponse implements the all-sources-failed path: stale cache
// entry when available, otherwise an empty degraded feed. The caller always
// gets a response.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func (c *Composer) fallbackResponse(viewerID string, version int, start time.Time, meta *Metadata, logger zerolog.Logger) *Response {
	meta.Degraded = true

	if c.cache != nil {
		if entry, ok := c.cache.GetStale(viewerID, version); ok {
			logger.Warn().Msg("all sources failed, serving stale feed")
			stale := entry.Metadata
			stale.RequestID = meta.RequestID
			stale.Stale = true
			stale.Degraded = true
			stale.DegradedCategories = meta.DegradedCategories
			stale.GenerationMS = c.clock().Sub(start).Milliseconds()
			return &Response{Items: entry.Items, Metadata: stale}
		}
	}

	logger.Warn().Msg("all sources failed, serving empty feed")
	meta.GeneratedAt = c.clock()
	meta.GenerationMS = c.clock().Sub(start).Milliseconds()
	return &Response{Items: []ScoredItem{}, Metadata: *meta}
}

// interleave merges per-category lists round-robin following order, which
// is sorted by descending ratio. Exhausted categories are skipped.
func interleave(order []Category, byCategory map[Category][]ScoredItem) []ScoredItem {
	total := 0
	for _, items := range byCategory {
		total += len(items)
	}

	out := make([]ScoredItem, 0, total)
	offsets := make(map[Category]int, len(order))
	for len(out) < total {
		progressed := false
		for _, cat := range order {
			idx := offsets[cat]
			items := byCategory[cat]
			if idx >= len(items) {
				continue
			}
			out = append(out, items[idx])
			offsets[cat] = idx + 1
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// sortByDeclaredOrder sorts categories in place by declared order.
func sortByDeclaredOrder(cats []Category) {
	for i := 1; i < len(cats); i++ {
		for j := i; j > 0 && CategoryIndex(cats[j]) < CategoryIndex(cats[j-1]); j-- {
			cats[j], cats[j-1] = cats[j-1], cats[j]
		}
	}
}
