// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package sources

import (
	"context"
	"fmt"

	"github.com/opencircle/feedengine/internal/feed"
)

// ConnectionSource produces content posted by the viewer's connections,
// tagging each candidate with the author's circle tier so the scorer can
// apply the viewer's circle weights.
type ConnectionSource struct {
	graph   GraphStore
	content ContentStore
}

// NewConnectionSource creates the connection-category source.
func NewConnectionSource(graph GraphStore, content ContentStore) *ConnectionSource {
	return &ConnectionSource{graph: graph, content: content}
}

// Category implements feed.CandidateSource.
func (s *ConnectionSource) Category() feed.Category { return feed.CategoryConnection }

// Fetch implements feed.CandidateSource.
func (s *ConnectionSource) Fetch(ctx context.Context, viewer *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	if s.graph == nil || s.content == nil {
		return nil, ErrNotConfigured
	}

	conns, err := s.graph.Connections(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("connections for %s: %w", viewer.ID, err)
	}
	if len(conns) == 0 {
		return nil, nil
	}

	circles := make(map[string]feed.CircleType, len(conns))
	authors := make([]string, 0, len(conns))
	for _, conn := range conns {
		circles[conn.PeerID] = conn.Circle
		authors = append(authors, conn.PeerID)
	}

	candidates, err := s.content.RecentByAuthors(ctx, authors, bound)
	if err != nil {
		return nil, fmt.Errorf("recent by authors: %w", err)
	}

	candidates = stamp(truncate(candidates, bound), feed.CategoryConnection)
	for i := range candidates {
		candidates[i].AuthorCircle = circles[candidates[i].AuthorID]
	}
	return candidates, nil
}

// InterestSource produces content matching the viewer's interest tags.
type InterestSource struct {
	content ContentStore
}

// NewInterestSource creates the interest-category source.
func NewInterestSource(content ContentStore) *InterestSource {
	return &InterestSource{content: content}
}

// Category implements feed.CandidateSource.
func (s *InterestSource) Category() feed.Category { return feed.CategoryInterest }

// Fetch implements feed.CandidateSource.
func (s *InterestSource) Fetch(ctx context.Context, viewer *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	if s.content == nil {
		return nil, ErrNotConfigured
	}
	if len(viewer.InterestTags) == 0 {
		return nil, nil
	}

	candidates, err := s.content.RecentByTags(ctx, viewer.InterestTags, bound)
	if err != nil {
		return nil, fmt.Errorf("recent by tags: %w", err)
	}
	return stamp(truncate(candidates, bound), feed.CategoryInterest), nil
}

// TrendingSource produces the top entries of the trending snapshot,
// hydrated from the content store. The snapshot score is carried into the
// candidate's raw signals.
type TrendingSource struct {
	snapshot TrendingSnapshot
	content  ContentStore
}

// NewTrendingSource creates the trending-category source.
func NewTrendingSource(snapshot TrendingSnapshot, content ContentStore) *TrendingSource {
	return &TrendingSource{snapshot: snapshot, content: content}
}

// Category implements feed.CandidateSource.
func (s *TrendingSource) Category() feed.Category { return feed.CategoryTrending }

// Fetch implements feed.CandidateSource.
func (s *TrendingSource) Fetch(ctx context.Context, _ *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	if s.snapshot == nil || s.content == nil {
		return nil, ErrNotConfigured
	}

	entries := s.snapshot.Top(bound)
	if len(entries) == 0 {
		return nil, nil
	}

	scores := make(map[string]float64, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		scores[e.ContentID] = e.Score
		ids = append(ids, e.ContentID)
	}

	candidates, err := s.content.ByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate trending: %w", err)
	}

	candidates = stamp(truncate(candidates, bound), feed.CategoryTrending)
	for i := range candidates {
		if candidates[i].RawSignals == nil {
			candidates[i].RawSignals = make(map[string]float64, 1)
		}
		candidates[i].RawSignals[feed.SignalTrending] = scores[candidates[i].ID]
	}
	return candidates, nil
}

// DiscoverySource proxies the external recommendation collaborator.
type DiscoverySource struct {
	recommender Recommender
}

// NewDiscoverySource creates the discovery-category source.
func NewDiscoverySource(r Recommender) *DiscoverySource {
	return &DiscoverySource{recommender: r}
}

// Category implements feed.CandidateSource.
func (s *DiscoverySource) Category() feed.Category { return feed.CategoryDiscovery }

// Fetch implements feed.CandidateSource.
func (s *DiscoverySource) Fetch(ctx context.Context, viewer *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	if s.recommender == nil {
		return nil, ErrNotConfigured
	}

	candidates, err := s.recommender.Recommend(ctx, viewer.ID, bound)
	if err != nil {
		return nil, fmt.Errorf("recommend for %s: %w", viewer.ID, err)
	}
	return stamp(truncate(candidates, bound), feed.CategoryDiscovery), nil
}

// CommunitySource produces content from communities the viewer belongs to.
type CommunitySource struct {
	membership MembershipStore
	content    ContentStore
}

// NewCommunitySource creates the community-category source.
func NewCommunitySource(membership MembershipStore, content ContentStore) *CommunitySource {
	return &CommunitySource{membership: membership, content: content}
}

// Category implements feed.CandidateSource.
func (s *CommunitySource) Category() feed.Category { return feed.CategoryCommunity }

// Fetch implements feed.CandidateSource.
func (s *CommunitySource) Fetch(ctx context.Context, viewer *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	if s.membership == nil || s.content == nil {
		return nil, ErrNotConfigured
	}

	communities, err := s.membership.Communities(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("communities for %s: %w", viewer.ID, err)
	}
	if len(communities) == 0 {
		return nil, nil
	}

	candidates, err := s.content.RecentByCommunities(ctx, communities, bound)
	if err != nil {
		return nil, fmt.Errorf("recent by communities: %w", err)
	}
	return stamp(truncate(candidates, bound), feed.CategoryCommunity), nil
}

// ProductSource produces catalog/product content. It is viewer-independent
// today; personalization belongs to the content store query.
type ProductSource struct {
	content ContentStore
}

// NewProductSource creates the product-category source.
func NewProductSource(content ContentStore) *ProductSource {
	return &ProductSource{content: content}
}

// Category implements feed.CandidateSource.
func (s *ProductSource) Category() feed.Category { return feed.CategoryProduct }

// Fetch implements feed.CandidateSource.
func (s *ProductSource) Fetch(ctx context.Context, _ *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	if s.content == nil {
		return nil, ErrNotConfigured
	}

	candidates, err := s.content.RecentProducts(ctx, bound)
	if err != nil {
		return nil, fmt.Errorf("recent products: %w", err)
	}
	return stamp(truncate(candidates, bound), feed.CategoryProduct), nil
}
