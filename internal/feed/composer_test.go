// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var composerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubProfiles struct {
	viewer *Viewer
	err    error
}

func (s *stubProfiles) GetViewer(_ context.Context, _ string) (*Viewer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.viewer, nil
}

// stubSource serves generated candidates for one category, or fails.
type stubSource struct {
	category Category
	count    int
	err      error
	delay    time.Duration

	mu      sync.Mutex
	fetches int
}

func (s *stubSource) Category() Category { return s.category }

func (s *stubSource) Fetch(ctx context.Context, _ *Viewer, bound int) ([]ContentCandidate, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}

	n := s.count
	if n > bound {
		n = bound
	}
	out := make([]ContentCandidate, n)
	for i := 0; i < n; i++ {
		out[i] = ContentCandidate{
			ID:        fmt.Sprintf("%s-%d", s.category, i),
			Category:  s.category,
			AuthorID:  fmt.Sprintf("author-%s-%d", s.category, i%3),
			CreatedAt: composerNow.Add(-time.Duration(i) * time.Minute),
		}
	}
	return out, nil
}

func (s *stubSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// positionScorer ranks earlier-created candidates higher, deterministically.
type positionScorer struct{}

func (positionScorer) Score(c *ContentCandidate, _ *Viewer, _ *FactorWeights) float64 {
	return float64(c.CreatedAt.Unix())
}

// mapCache is a minimal FeedCache for tests.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]*FeedCacheEntry
	expired map[string]bool
}

func newMapCache() *mapCache {
	return &mapCache{
		entries: make(map[string]*FeedCacheEntry),
		expired: make(map[string]bool),
	}
}

func cacheKey(viewerID string, version int) string {
	return fmt.Sprintf("%s:%d", viewerID, version)
}

func (c *mapCache) Get(viewerID string, version int) (*FeedCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(viewerID, version)
	if c.expired[key] {
		return nil, false
	}
	e, ok := c.entries[key]
	return e, ok
}

func (c *mapCache) GetStale(viewerID string, version int) (*FeedCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(viewerID, version)]
	return e, ok
}

func (c *mapCache) Put(entry *FeedCacheEntry, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(entry.ViewerID, entry.CompositionVersion)] = entry
}

func (c *mapCache) Invalidate(viewerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, viewerID+":") {
			delete(c.entries, key)
		}
	}
}

// expire marks a key as past TTL while keeping it for stale reads.
func (c *mapCache) expire(viewerID string, version int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired[cacheKey(viewerID, version)] = true
}

func testComposerViewer() *Viewer {
	return &Viewer{
		ID:            "viewer-1",
		CircleWeights: map[CircleType]float64{CircleInner: 1},
	}
}

// newTestComposer wires a composer with sources for every category.
func newTestComposer(t *testing.T, sources ...*stubSource) *Composer {
	t.Helper()

	c, err := NewComposer(DefaultComposerConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	c.SetProfileStore(&stubProfiles{viewer: testComposerViewer()})
	c.SetScorer(positionScorer{})
	for _, src := range sources {
		c.RegisterSource(src)
	}
	return c
}

func allSources() []*stubSource {
	out := make([]*stubSource, 0, len(categories))
	for _, cat := range categories {
		out = append(out, &stubSource{category: cat, count: 50})
	}
	return out
}

func TestComposeDefaultSlotAllocation(t *testing.T) {
	c := newTestComposer(t, allSources()...)

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	want := map[Category]int{
		CategoryConnection: 8,
		CategoryInterest:   5,
		CategoryTrending:   3,
		CategoryDiscovery:  2,
		CategoryCommunity:  1,
		CategoryProduct:    1,
	}
	for cat, n := range want {
		if resp.Metadata.SlotCounts[cat] != n {
			t.Fatalf("slots[%s] = %d, want %d", cat, resp.Metadata.SlotCounts[cat], n)
		}
	}
	if len(resp.Items) != 20 {
		t.Fatalf("feed length = %d, want 20", len(resp.Items))
	}
	if resp.Metadata.Degraded {
		t.Fatalf("unexpected degraded metadata: %+v", resp.Metadata)
	}

	// Every slot is honored in the item mix.
	perCategory := make(map[Category]int)
	for _, item := range resp.Items {
		perCategory[item.Candidate.Category]++
	}
	for cat, n := range want {
		if perCategory[cat] != n {
			t.Fatalf("items[%s] = %d, want %d", cat, perCategory[cat], n)
		}
	}
}

func TestComposeDeterministic(t *testing.T) {
	c := newTestComposer(t, allSources()...)

	first, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := c.Compose(context.Background(), "viewer-1", 20)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		for i := range first.Items {
			if again.Items[i].Candidate.ID != first.Items[i].Candidate.ID {
				t.Fatalf("run %d: order diverged at %d", run, i)
			}
		}
	}
}

func TestComposeSourceFailureDegrades(t *testing.T) {
	srcs := allSources()
	srcs[2].err = errors.New("trending backend down") // CategoryTrending

	c := newTestComposer(t, srcs...)
	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose must not fail on a single source: %v", err)
	}

	if !resp.Metadata.Degraded {
		t.Fatal("metadata not flagged degraded")
	}
	if len(resp.Metadata.DegradedCategories) != 1 || resp.Metadata.DegradedCategories[0] != CategoryTrending {
		t.Fatalf("degraded categories = %v", resp.Metadata.DegradedCategories)
	}
	// Slots were renormalized over the survivors and still fill the feed.
	if len(resp.Items) != 20 {
		t.Fatalf("degraded feed length = %d, want 20", len(resp.Items))
	}
	for _, item := range resp.Items {
		if item.Candidate.Category == CategoryTrending {
			t.Fatal("failed category leaked into the feed")
		}
	}
}

func TestComposeSourceTimeoutFlagged(t *testing.T) {
	cfg := DefaultComposerConfig()
	cfg.FetchTimeout = 20 * time.Millisecond

	c, err := NewComposer(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	c.SetProfileStore(&stubProfiles{viewer: testComposerViewer()})
	c.SetScorer(positionScorer{})
	for _, src := range allSources() {
		if src.category == CategoryDiscovery {
			src.delay = 500 * time.Millisecond
		}
		c.RegisterSource(src)
	}

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !resp.Metadata.Degraded {
		t.Fatal("slow source did not degrade the response")
	}
	found := false
	for _, cat := range resp.Metadata.DegradedCategories {
		if cat == CategoryDiscovery {
			found = true
		}
	}
	if !found {
		t.Fatalf("degraded categories = %v, want discovery", resp.Metadata.DegradedCategories)
	}
}

func TestComposeAllSourcesFailedServesEmpty(t *testing.T) {
	srcs := allSources()
	for _, src := range srcs {
		src.err = errors.New("down")
	}

	c := newTestComposer(t, srcs...)
	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("total failure must degrade, not error: %v", err)
	}
	if len(resp.Items) != 0 || !resp.Metadata.Degraded {
		t.Fatalf("response = %+v, want empty degraded feed", resp.Metadata)
	}
}

func TestComposeAllSourcesFailedServesStale(t *testing.T) {
	cacheImpl := newMapCache()

	srcs := allSources()
	c := newTestComposer(t, srcs...)
	c.SetCache(cacheImpl)

	// Warm the cache, then break every source and expire the entry.
	if _, err := c.Compose(context.Background(), "viewer-1", 20); err != nil {
		t.Fatalf("warm compose: %v", err)
	}
	for _, src := range srcs {
		src.err = errors.New("down")
	}
	cacheImpl.expire("viewer-1", 1)

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !resp.Metadata.Stale || !resp.Metadata.Degraded {
		t.Fatalf("metadata = %+v, want stale degraded", resp.Metadata)
	}
	if len(resp.Items) != 20 {
		t.Fatalf("stale feed length = %d, want 20", len(resp.Items))
	}
}

func TestComposeZeroSlotCategoriesServeStale(t *testing.T) {
	// At length 10 the default ratios floor community and product to zero
	// slots, so only four categories fetch. The stale fallback must key
	// off the fetched categories, not the full slot map.
	cacheImpl := newMapCache()

	srcs := allSources()
	c := newTestComposer(t, srcs...)
	c.SetCache(cacheImpl)

	if _, err := c.Compose(context.Background(), "viewer-1", 10); err != nil {
		t.Fatalf("warm compose: %v", err)
	}
	for _, src := range srcs {
		src.err = errors.New("down")
	}
	cacheImpl.expire("viewer-1", 1)

	resp, err := c.Compose(context.Background(), "viewer-1", 10)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !resp.Metadata.Stale || !resp.Metadata.Degraded {
		t.Fatalf("metadata = %+v, want stale degraded", resp.Metadata)
	}
	if len(resp.Items) != 10 {
		t.Fatalf("stale feed length = %d, want 10", len(resp.Items))
	}

	// The failed pass must not have clobbered the cached entry.
	entry, ok := cacheImpl.GetStale("viewer-1", 1)
	if !ok || len(entry.Items) != 10 {
		t.Fatalf("cached entry after failure = %v items, want 10 intact", len(entry.Items))
	}
}

func TestComposeEmptyFeedNotCached(t *testing.T) {
	cacheImpl := newMapCache()

	srcs := allSources()
	for _, src := range srcs {
		src.err = errors.New("down")
	}
	c := newTestComposer(t, srcs...)
	c.SetCache(cacheImpl)

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(resp.Items) != 0 || !resp.Metadata.Degraded {
		t.Fatalf("metadata = %+v, want empty degraded", resp.Metadata)
	}

	// Once the sources recover, the next request must regenerate instead
	// of serving a cached empty feed.
	for _, src := range srcs {
		src.err = nil
	}
	recovered, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose after recovery: %v", err)
	}
	if recovered.Metadata.CacheHit {
		t.Fatal("empty degraded feed was cached")
	}
	if len(recovered.Items) != 20 {
		t.Fatalf("recovered feed length = %d, want 20", len(recovered.Items))
	}
}

func TestComposeCacheHitSkipsSources(t *testing.T) {
	cacheImpl := newMapCache()
	srcs := allSources()
	c := newTestComposer(t, srcs...)
	c.SetCache(cacheImpl)

	if _, err := c.Compose(context.Background(), "viewer-1", 20); err != nil {
		t.Fatalf("first compose: %v", err)
	}
	before := srcs[0].fetchCount()

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("second compose: %v", err)
	}
	if !resp.Metadata.CacheHit {
		t.Fatal("second compose missed the cache")
	}
	if srcs[0].fetchCount() != before {
		t.Fatal("cache hit still fetched candidates")
	}
}

func TestComposeInvalidateForcesRegeneration(t *testing.T) {
	cacheImpl := newMapCache()
	srcs := allSources()
	c := newTestComposer(t, srcs...)
	c.SetCache(cacheImpl)

	if _, err := c.Compose(context.Background(), "viewer-1", 20); err != nil {
		t.Fatalf("first compose: %v", err)
	}
	c.Invalidate("viewer-1")

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose after invalidate: %v", err)
	}
	if resp.Metadata.CacheHit {
		t.Fatal("invalidated entry served as cache hit")
	}
}

func TestComposeValidation(t *testing.T) {
	c := newTestComposer(t, allSources()...)

	if _, err := c.Compose(context.Background(), "", 20); !errors.Is(err, ErrViewerRequired) {
		t.Fatalf("empty viewer err = %v", err)
	}
	if _, err := c.Compose(context.Background(), "viewer-1", -1); !errors.Is(err, ErrNegativeLength) {
		t.Fatalf("negative length err = %v", err)
	}
}

func TestComposeZeroLengthUsesDefault(t *testing.T) {
	c := newTestComposer(t, allSources()...)

	resp, err := c.Compose(context.Background(), "viewer-1", 0)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(resp.Items) != 20 {
		t.Fatalf("feed length = %d, want composition default 20", len(resp.Items))
	}
}

func TestComposeLengthCapped(t *testing.T) {
	cfg := DefaultComposerConfig()
	cfg.MaxFeedLength = 25

	c, err := NewComposer(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	c.SetProfileStore(&stubProfiles{viewer: testComposerViewer()})
	c.SetScorer(positionScorer{})
	for _, src := range allSources() {
		c.RegisterSource(src)
	}

	resp, err := c.Compose(context.Background(), "viewer-1", 500)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(resp.Items) != 25 {
		t.Fatalf("feed length = %d, want cap 25", len(resp.Items))
	}
}

type stubResolver struct {
	decision VariantDecision
	err      error
}

func (s *stubResolver) Resolve(_ context.Context, _ string) (VariantDecision, error) {
	return s.decision, s.err
}

func TestComposeExperimentConfigApplied(t *testing.T) {
	treatment := &CompositionConfig{
		ID:      "exp-7-treatment",
		Version: 4,
		Ratios: map[Category]float64{
			CategoryConnection: 0.5,
			CategoryTrending:   0.5,
		},
		FeedLengthDefault: 10,
	}

	c := newTestComposer(t, allSources()...)
	c.SetVariantResolver(&stubResolver{decision: VariantDecision{
		Config:       treatment,
		ExperimentID: "exp-7",
		Variant:      "treatment",
	}})

	resp, err := c.Compose(context.Background(), "viewer-1", 0)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if resp.Metadata.ExperimentID != "exp-7" || resp.Metadata.Variant != "treatment" {
		t.Fatalf("experiment metadata = %+v", resp.Metadata)
	}
	if resp.Metadata.CompositionVersion != 4 {
		t.Fatalf("composition version = %d, want treatment's 4", resp.Metadata.CompositionVersion)
	}
	if len(resp.Items) != 10 {
		t.Fatalf("feed length = %d, want treatment default 10", len(resp.Items))
	}
	for _, item := range resp.Items {
		cat := item.Candidate.Category
		if cat != CategoryConnection && cat != CategoryTrending {
			t.Fatalf("category %s outside treatment composition", cat)
		}
	}
}

func TestComposeResolverFailureFallsBack(t *testing.T) {
	c := newTestComposer(t, allSources()...)
	c.SetVariantResolver(&stubResolver{err: errors.New("store down")})

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("resolver failure must not fail the request: %v", err)
	}
	if resp.Metadata.CompositionID != "default" {
		t.Fatalf("composition = %s, want default fallback", resp.Metadata.CompositionID)
	}
	if !resp.Metadata.Degraded {
		t.Fatal("fallback not flagged degraded")
	}
}

func TestComposeInvalidResolvedRatiosFallsBack(t *testing.T) {
	bad := &CompositionConfig{
		ID:      "broken",
		Version: 9,
		Ratios:  map[Category]float64{CategoryConnection: 0.4},
	}

	c := newTestComposer(t, allSources()...)
	c.SetVariantResolver(&stubResolver{decision: VariantDecision{Config: bad}})

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if resp.Metadata.CompositionID != "default" || !resp.Metadata.Degraded {
		t.Fatalf("metadata = %+v, want degraded default fallback", resp.Metadata)
	}
	if len(resp.Items) != 20 {
		t.Fatalf("feed length = %d", len(resp.Items))
	}
}

func TestComposeViewerLoadFailureServesEmpty(t *testing.T) {
	c := newTestComposer(t, allSources()...)
	c.SetProfileStore(&stubProfiles{err: errors.New("profiles down")})

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(resp.Items) != 0 || !resp.Metadata.Degraded {
		t.Fatalf("metadata = %+v, want empty degraded", resp.Metadata)
	}
}

func TestInterleaveFollowsRatioOrder(t *testing.T) {
	c := newTestComposer(t, allSources()...)

	resp, err := c.Compose(context.Background(), "viewer-1", 20)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	// The first round of the interleave touches each category once,
	// highest ratio first.
	if resp.Items[0].Candidate.Category != CategoryConnection {
		t.Fatalf("first item category = %s, want connection", resp.Items[0].Candidate.Category)
	}
	if resp.Items[1].Candidate.Category != CategoryInterest {
		t.Fatalf("second item category = %s, want interest", resp.Items[1].Candidate.Category)
	}
}
