// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package store provides in-memory implementations of the engine's
// collaborator boundaries (profiles, social graph, content catalog,
// memberships, recommendations). Production deployments replace these with
// clients for the owning services; the in-memory forms back development,
// demos, and tests.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opencircle/feedengine/internal/feed"
)

// ErrViewerNotFound is returned for unknown viewer ids.
var ErrViewerNotFound = fmt.Errorf("store: viewer not found")

// Memory implements the profile, graph, content, membership, and
// recommender boundaries over in-process maps. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	viewers     map[string]*feed.Viewer
	connections map[string][]feed.Connection
	memberships map[string][]string
	content     []feed.ContentCandidate
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		viewers:     make(map[string]*feed.Viewer),
		connections: make(map[string][]feed.Connection),
		memberships: make(map[string][]string),
	}
}

// AddViewer registers a viewer profile.
func (m *Memory) AddViewer(v *feed.Viewer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewers[v.ID] = v
}

// AddConnection adds a graph edge for the viewer.
func (m *Memory) AddConnection(viewerID string, conn feed.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[viewerID] = append(m.connections[viewerID], conn)
}

// AddMembership adds a community membership for the viewer.
func (m *Memory) AddMembership(viewerID, communityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[viewerID] = append(m.memberships[viewerID], communityID)
}

// AddContent adds a content item to the catalog.
func (m *Memory) AddContent(c feed.ContentCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = append(m.content, c)
}

// GetViewer implements feed.ProfileStore.
func (m *Memory) GetViewer(_ context.Context, viewerID string) (*feed.Viewer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.viewers[viewerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewerNotFound, viewerID)
	}
	return v, nil
}

// Connections implements sources.GraphStore.
func (m *Memory) Connections(_ context.Context, viewerID string) ([]feed.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]feed.Connection(nil), m.connections[viewerID]...), nil
}

// Communities implements sources.MembershipStore.
func (m *Memory) Communities(_ context.Context, viewerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.memberships[viewerID]...), nil
}

// RecentByAuthors implements sources.ContentStore.
func (m *Memory) RecentByAuthors(_ context.Context, authorIDs []string, limit int) ([]feed.ContentCandidate, error) {
	authors := make(map[string]struct{}, len(authorIDs))
	for _, id := range authorIDs {
		authors[id] = struct{}{}
	}
	return m.query(limit, func(c *feed.ContentCandidate) bool {
		_, ok := authors[c.AuthorID]
		return ok
	}), nil
}

// RecentByTags implements sources.ContentStore.
func (m *Memory) RecentByTags(_ context.Context, tags []string, limit int) ([]feed.ContentCandidate, error) {
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		wanted[t] = struct{}{}
	}
	return m.query(limit, func(c *feed.ContentCandidate) bool {
		for _, t := range c.Tags {
			if _, ok := wanted[t]; ok {
				return true
			}
		}
		return false
	}), nil
}

// RecentByCommunities implements sources.ContentStore.
func (m *Memory) RecentByCommunities(_ context.Context, communityIDs []string, limit int) ([]feed.ContentCandidate, error) {
	wanted := make(map[string]struct{}, len(communityIDs))
	for _, id := range communityIDs {
		wanted[id] = struct{}{}
	}
	return m.query(limit, func(c *feed.ContentCandidate) bool {
		_, ok := wanted[c.CommunityID]
		return ok
	}), nil
}

// ByIDs implements sources.ContentStore. Results keep the requested order.
func (m *Memory) ByIDs(_ context.Context, contentIDs []string) ([]feed.ContentCandidate, error) {
	m.mu.RLock()
	byID := make(map[string]feed.ContentCandidate, len(m.content))
	for _, c := range m.content {
		byID[c.ID] = c
	}
	m.mu.RUnlock()

	out := make([]feed.ContentCandidate, 0, len(contentIDs))
	for _, id := range contentIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// RecentProducts implements sources.ContentStore.
func (m *Memory) RecentProducts(_ context.Context, limit int) ([]feed.ContentCandidate, error) {
	return m.query(limit, func(c *feed.ContentCandidate) bool {
		return c.Category == feed.CategoryProduct
	}), nil
}

// Recommend implements sources.Recommender with a naive popularity-free
// heuristic: recent content from authors the viewer is not connected to.
func (m *Memory) Recommend(_ context.Context, viewerID string, limit int) ([]feed.ContentCandidate, error) {
	m.mu.RLock()
	known := make(map[string]struct{})
	for _, conn := range m.connections[viewerID] {
		known[conn.PeerID] = struct{}{}
	}
	m.mu.RUnlock()

	return m.query(limit, func(c *feed.ContentCandidate) bool {
		if c.AuthorID == "" || c.Category == feed.CategoryProduct {
			return false
		}
		_, connected := known[c.AuthorID]
		return !connected
	}), nil
}

// query returns matching content newest-first, capped at limit.
func (m *Memory) query(limit int, match func(*feed.ContentCandidate) bool) []feed.ContentCandidate {
	m.mu.RLock()
	var out []feed.ContentCandidate
	for i := range m.content {
		if match(&m.content[i]) {
			out = append(out, m.content[i])
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SeedFixtures loads a small demo dataset: three viewers, a graph, a
// community, and content across every category.
func (m *Memory) SeedFixtures(now time.Time) {
	weights := map[feed.CircleType]float64{
		feed.CircleInner:     1.0,
		feed.CircleOuter:     0.6,
		feed.CircleUniversal: 0.3,
	}

	m.AddViewer(&feed.Viewer{ID: "viewer-1", CircleWeights: weights, InterestTags: []string{"golang", "music", "cycling"}})
	m.AddViewer(&feed.Viewer{ID: "viewer-2", CircleWeights: weights, InterestTags: []string{"photography"}})
	m.AddViewer(&feed.Viewer{ID: "viewer-3", CircleWeights: weights})

	m.AddConnection("viewer-1", feed.Connection{PeerID: "author-close", Circle: feed.CircleInner})
	m.AddConnection("viewer-1", feed.Connection{PeerID: "author-far", Circle: feed.CircleOuter})
	m.AddConnection("viewer-2", feed.Connection{PeerID: "author-close", Circle: feed.CircleUniversal})

	m.AddMembership("viewer-1", "go-devs")
	m.AddMembership("viewer-2", "shutterbugs")

	for i := 0; i < 10; i++ {
		age := time.Duration(i) * time.Hour
		m.AddContent(feed.ContentCandidate{
			ID:        fmt.Sprintf("post-close-%d", i),
			AuthorID:  "author-close",
			Tags:      []string{"golang"},
			CreatedAt: now.Add(-age),
		})
		m.AddContent(feed.ContentCandidate{
			ID:        fmt.Sprintf("post-far-%d", i),
			AuthorID:  "author-far",
			Tags:      []string{"music"},
			CreatedAt: now.Add(-age - 30*time.Minute),
		})
		m.AddContent(feed.ContentCandidate{
			ID:        fmt.Sprintf("post-stranger-%d", i),
			AuthorID:  fmt.Sprintf("author-stranger-%d", i%3),
			Tags:      []string{"cycling", "travel"},
			CreatedAt: now.Add(-age - time.Hour),
		})
		m.AddContent(feed.ContentCandidate{
			ID:          fmt.Sprintf("community-post-%d", i),
			AuthorID:    fmt.Sprintf("member-%d", i%4),
			CommunityID: "go-devs",
			Tags:        []string{"golang"},
			CreatedAt:   now.Add(-age - 2*time.Hour),
		})
		m.AddContent(feed.ContentCandidate{
			ID:        fmt.Sprintf("listing-%d", i),
			Category:  feed.CategoryProduct,
			Tags:      []string{"cycling"},
			CreatedAt: now.Add(-age - 3*time.Hour),
		})
	}
}
