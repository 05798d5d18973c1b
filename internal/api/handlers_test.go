// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/opencircle/feedengine/internal/cache"
	"github.com/opencircle/feedengine/internal/experiment"
	"github.com/opencircle/feedengine/internal/feed"
)

type fakeProfiles struct{}

func (fakeProfiles) GetViewer(_ context.Context, viewerID string) (*feed.Viewer, error) {
	return &feed.Viewer{
		ID:            viewerID,
		CircleWeights: map[feed.CircleType]float64{feed.CircleInner: 1},
	}, nil
}

type fakeSource struct {
	category feed.Category
}

func (s fakeSource) Category() feed.Category { return s.category }

func (s fakeSource) Fetch(_ context.Context, _ *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	out := make([]feed.ContentCandidate, bound)
	for i := range out {
		out[i] = feed.ContentCandidate{
			ID:        fmt.Sprintf("%s-%d", s.category, i),
			Category:  s.category,
			AuthorID:  fmt.Sprintf("author-%d", i%4),
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}
	}
	return out, nil
}

type recencyScorer struct{}

func (recencyScorer) Score(c *feed.ContentCandidate, _ *feed.Viewer, _ *feed.FactorWeights) float64 {
	return float64(c.CreatedAt.Unix())
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := zerolog.Nop()

	composer, err := feed.NewComposer(feed.DefaultComposerConfig(), logger)
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	composer.SetProfileStore(fakeProfiles{})
	composer.SetScorer(recencyScorer{})
	composer.SetCache(cache.NewFeedCache(cache.DefaultFeedCacheConfig(), logger))
	for _, cat := range feed.Categories() {
		composer.RegisterSource(fakeSource{category: cat})
	}

	resolver := experiment.NewResolver(feed.DefaultComposition(), experiment.NewMemoryAssignmentStore(), logger)
	if err := resolver.Register(&experiment.Experiment{
		ID:     "exp-api",
		Name:   "api test experiment",
		Status: experiment.StatusRunning,
		Variants: []experiment.Variant{
			{Name: "treatment", Percent: 100},
		},
	}); err != nil {
		t.Fatalf("register experiment: %v", err)
	}

	trending := cache.NewTrendingStore()
	trending.Publish([]feed.TrendingCacheEntry{
		{ContentID: "hot-1", Score: 1.0},
		{ContentID: "hot-2", Score: 0.5},
		{ContentID: "hot-3", Score: 0.25},
	}, time.Now())

	h := NewHandler(composer, resolver, trending, logger)
	return NewRouter(RouterConfig{}, h, logger)
}

func doRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetFeed(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/feed/viewer-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp feed.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 20 {
		t.Fatalf("items = %d, want 20", len(resp.Items))
	}
	if resp.Metadata.ViewerID != "viewer-1" {
		t.Fatalf("viewer id = %s", resp.Metadata.ViewerID)
	}
	if resp.Metadata.RequestID == "" {
		t.Fatal("request id missing from metadata")
	}
}

func TestGetFeedLengthParam(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/feed/viewer-2?length=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp feed.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 5 {
		t.Fatalf("items = %d, want 5", len(resp.Items))
	}
}

func TestGetFeedInvalidLength(t *testing.T) {
	router := newTestServer(t)

	for _, raw := range []string{"abc", "-3", "1.5"} {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/feed/viewer-1?length="+raw)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("length %q: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestGetFeedUnknownRoute(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/feed/")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestInvalidate(t *testing.T) {
	router := newTestServer(t)

	// Warm the cache, confirm the second request hits it.
	doRequest(t, router, http.MethodGet, "/api/v1/feed/viewer-1")
	rec := doRequest(t, router, http.MethodGet, "/api/v1/feed/viewer-1")
	var warm feed.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &warm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !warm.Metadata.CacheHit {
		t.Fatal("second request did not hit the cache")
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/invalidate/viewer-1")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("invalidate status = %d, want 204", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/feed/viewer-1")
	var fresh feed.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &fresh); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fresh.Metadata.CacheHit {
		t.Fatal("invalidated feed served from cache")
	}
}

func TestGetAssignment(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/experiments/exp-api/assignment/viewer-9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp assignmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ExperimentID != "exp-api" || resp.ViewerID != "viewer-9" {
		t.Fatalf("assignment = %+v", resp)
	}
	if resp.Variant != "treatment" {
		t.Fatalf("variant = %s, want treatment at 100%%", resp.Variant)
	}
}

func TestGetAssignmentUnknownExperiment(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/experiments/nope/assignment/viewer-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetTrending(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/trending?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp trendingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp.Entries))
	}
	if resp.Entries[0].ContentID != "hot-1" {
		t.Fatalf("top entry = %s, want hot-1", resp.Entries[0].ContentID)
	}
	if resp.Version != 1 {
		t.Fatalf("version = %d, want 1 after first publish", resp.Version)
	}
}

func TestGetTrendingInvalidLimit(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/trending?limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrendingDisabled(t *testing.T) {
	logger := zerolog.Nop()
	composer, err := feed.NewComposer(feed.DefaultComposerConfig(), logger)
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	router := NewRouter(RouterConfig{}, NewHandler(composer, nil, nil, logger), logger)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/trending")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("trending status = %d, want 404", rec.Code)
	}
	rec = doRequest(t, router, http.MethodGet, "/api/v1/experiments/x/assignment/y")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("assignment status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
