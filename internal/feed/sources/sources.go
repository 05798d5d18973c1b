// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package sources implements the per-category candidate pipelines. Each
// source queries one external collaborator boundary (social graph, content
// store, recommender, membership service, trending snapshot), shapes the
// result into content candidates, and populates the raw signals its
// category contributes. Sources are stateless between calls and honor the
// caller's context deadline.
package sources

import (
	"context"
	"errors"

	"github.com/opencircle/feedengine/internal/feed"
)

// ErrNotConfigured is returned by a source whose collaborator was not set.
var ErrNotConfigured = errors.New("sources: collaborator not configured")

// GraphStore is the social graph collaborator boundary.
type GraphStore interface {
	// Connections returns the viewer's graph edges with circle tiers.
	Connections(ctx context.Context, viewerID string) ([]feed.Connection, error)
}

// ContentStore is the content catalog collaborator boundary. All queries
// return candidates newest-first, capped at limit.
type ContentStore interface {
	RecentByAuthors(ctx context.Context, authorIDs []string, limit int) ([]feed.ContentCandidate, error)
	RecentByTags(ctx context.Context, tags []string, limit int) ([]feed.ContentCandidate, error)
	RecentByCommunities(ctx context.Context, communityIDs []string, limit int) ([]feed.ContentCandidate, error)
	ByIDs(ctx context.Context, contentIDs []string) ([]feed.ContentCandidate, error)
	RecentProducts(ctx context.Context, limit int) ([]feed.ContentCandidate, error)
}

// MembershipStore is the community membership collaborator boundary.
type MembershipStore interface {
	Communities(ctx context.Context, viewerID string) ([]string, error)
}

// Recommender is the external recommendation collaborator boundary backing
// the discovery category.
type Recommender interface {
	Recommend(ctx context.Context, viewerID string, limit int) ([]feed.ContentCandidate, error)
}

// TrendingSnapshot is the read side of the trending aggregator.
type TrendingSnapshot interface {
	Top(n int) []feed.TrendingCacheEntry
}

// truncate caps candidates to the fetch bound.
func truncate(candidates []feed.ContentCandidate, bound int) []feed.ContentCandidate {
	if len(candidates) > bound {
		return candidates[:bound]
	}
	return candidates
}

// stamp sets the category on every candidate, so downstream stages never
// depend on collaborators labeling their results.
func stamp(candidates []feed.ContentCandidate, cat feed.Category) []feed.ContentCandidate {
	for i := range candidates {
		candidates[i].Category = cat
	}
	return candidates
}
