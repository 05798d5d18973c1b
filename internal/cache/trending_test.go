// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencircle/feedengine/internal/feed"
)

func trendingEntries(n int) []feed.TrendingCacheEntry {
	out := make([]feed.TrendingCacheEntry, n)
	for i := 0; i < n; i++ {
		out[i] = feed.TrendingCacheEntry{
			ContentID: fmt.Sprintf("content-%d", i),
			Score:     float64(n - i), // already sorted descending
		}
	}
	return out
}

func TestEmptyStoreReadsAreValid(t *testing.T) {
	s := NewTrendingStore()

	if got := s.Top(5); len(got) != 0 {
		t.Fatalf("empty store Top returned %d entries", len(got))
	}
	if _, ok := s.Score("anything"); ok {
		t.Fatal("empty store returned a score")
	}
	if s.Version() != 0 {
		t.Fatalf("empty store version = %d, want 0", s.Version())
	}
}

func TestPublishReplacesWholeSnapshot(t *testing.T) {
	s := NewTrendingStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Publish(trendingEntries(3), now)
	if s.Version() != 1 || s.Size() != 3 {
		t.Fatalf("version=%d size=%d after first publish", s.Version(), s.Size())
	}

	s.Publish(trendingEntries(1), now.Add(time.Minute))
	if s.Version() != 2 || s.Size() != 1 {
		t.Fatalf("version=%d size=%d after second publish", s.Version(), s.Size())
	}
	// Scores from the old generation must be gone.
	if _, ok := s.Score("content-2"); ok {
		t.Fatal("old generation score survived publish")
	}
}

func TestTopReturnsHighestN(t *testing.T) {
	s := NewTrendingStore()
	s.Publish(trendingEntries(5), time.Now())

	got := s.Top(2)
	if len(got) != 2 || got[0].ContentID != "content-0" || got[1].ContentID != "content-1" {
		t.Fatalf("Top(2) = %+v", got)
	}
	// Asking for more than available returns what exists.
	if got := s.Top(50); len(got) != 5 {
		t.Fatalf("Top(50) returned %d entries, want 5", len(got))
	}
}

func TestTopReturnsCopy(t *testing.T) {
	s := NewTrendingStore()
	s.Publish(trendingEntries(3), time.Now())

	got := s.Top(3)
	got[0].ContentID = "mutated"
	if again := s.Top(1); again[0].ContentID != "content-0" {
		t.Fatal("caller mutation reached the snapshot")
	}
}

func TestConcurrentReadersDuringPublish(t *testing.T) {
	s := NewTrendingStore()
	s.Publish(trendingEntries(10), time.Now())

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s.Publish(trendingEntries(10), time.Now())
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// A snapshot read mid-publish must be internally
				// consistent: every listed entry has a score.
				for _, e := range s.Top(10) {
					if _, ok := s.Score(e.ContentID); !ok && s.Size() == 10 {
						continue
					}
				}
			}
		}()
	}
	wg.Wait()
}
