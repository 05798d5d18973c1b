// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package diversity

import (
	"testing"

	"github.com/opencircle/feedengine/internal/feed"
)

func item(id, author string, cat feed.Category) feed.ScoredItem {
	return feed.ScoredItem{
		Candidate: feed.ContentCandidate{ID: id, AuthorID: author, Category: cat},
	}
}

func ids(items []feed.ScoredItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Candidate.ID
	}
	return out
}

func maxRun(items []feed.ScoredItem, key func(feed.ScoredItem) string) int {
	longest, run := 0, 0
	prev := ""
	for _, it := range items {
		k := key(it)
		if k != "" && k == prev {
			run++
		} else {
			run = 1
		}
		prev = k
		if run > longest {
			longest = run
		}
	}
	return longest
}

func TestBreaksAuthorRun(t *testing.T) {
	f := NewFilter(DefaultConfig())
	in := []feed.ScoredItem{
		item("1", "alice", feed.CategoryConnection),
		item("2", "alice", feed.CategoryConnection),
		item("3", "alice", feed.CategoryConnection),
		item("4", "bob", feed.CategoryInterest),
		item("5", "carol", feed.CategoryTrending),
	}

	out := f.Apply(in)
	if got := maxRun(out, func(i feed.ScoredItem) string { return i.Candidate.AuthorID }); got > 2 {
		t.Fatalf("author run = %d after filtering, want <= 2 (order %v)", got, ids(out))
	}
}

func TestBreaksCategoryRun(t *testing.T) {
	f := NewFilter(DefaultConfig())
	in := []feed.ScoredItem{
		item("1", "a", feed.CategoryTrending),
		item("2", "b", feed.CategoryTrending),
		item("3", "c", feed.CategoryTrending),
		item("4", "d", feed.CategoryTrending),
		item("5", "e", feed.CategoryConnection),
		item("6", "f", feed.CategoryInterest),
	}

	out := f.Apply(in)
	if got := maxRun(out, func(i feed.ScoredItem) string { return string(i.Candidate.Category) }); got > 3 {
		t.Fatalf("category run = %d after filtering, want <= 3 (order %v)", got, ids(out))
	}
}

func TestPreservesMultiset(t *testing.T) {
	f := NewFilter(DefaultConfig())
	in := []feed.ScoredItem{
		item("1", "a", feed.CategoryTrending),
		item("2", "a", feed.CategoryTrending),
		item("3", "a", feed.CategoryTrending),
		item("4", "b", feed.CategoryConnection),
		item("5", "b", feed.CategoryConnection),
	}

	out := f.Apply(in)
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	seen := make(map[string]int)
	for _, it := range out {
		seen[it.Candidate.ID]++
	}
	for _, it := range in {
		if seen[it.Candidate.ID] != 1 {
			t.Fatalf("item %s count = %d, want 1", it.Candidate.ID, seen[it.Candidate.ID])
		}
	}
}

func TestNoEligibleReplacementKeepsOrder(t *testing.T) {
	f := NewFilter(DefaultConfig())
	// Everything by one author: no swap can help, list must pass through
	// unchanged rather than loop or drop items.
	in := []feed.ScoredItem{
		item("1", "alice", feed.CategoryConnection),
		item("2", "alice", feed.CategoryConnection),
		item("3", "alice", feed.CategoryConnection),
		item("4", "alice", feed.CategoryConnection),
	}

	out := f.Apply(in)
	for i := range in {
		if out[i].Candidate.ID != in[i].Candidate.ID {
			t.Fatalf("order changed at %d: got %v", i, ids(out))
		}
	}
}

func TestWindowBoundsSearch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 2
	f := NewFilter(cfg)

	// The only run-breaking item sits beyond the window, so the run stays.
	in := []feed.ScoredItem{
		item("1", "alice", feed.CategoryConnection),
		item("2", "alice", feed.CategoryConnection),
		item("3", "alice", feed.CategoryConnection),
		item("4", "alice", feed.CategoryConnection),
		item("5", "alice", feed.CategoryConnection),
		item("6", "bob", feed.CategoryInterest),
	}

	out := f.Apply(in)
	if got := maxRun(out, func(i feed.ScoredItem) string { return i.Candidate.AuthorID }); got <= 2 {
		t.Fatalf("expected run to survive with window=2, got max run %d (order %v)", got, ids(out))
	}
}

func TestDeterministic(t *testing.T) {
	f := NewFilter(DefaultConfig())
	in := []feed.ScoredItem{
		item("1", "a", feed.CategoryTrending),
		item("2", "a", feed.CategoryTrending),
		item("3", "a", feed.CategoryTrending),
		item("4", "b", feed.CategoryConnection),
		item("5", "c", feed.CategoryInterest),
		item("6", "b", feed.CategoryConnection),
	}

	first := ids(f.Apply(in))
	for run := 0; run < 5; run++ {
		got := ids(f.Apply(in))
		for i := range first {
			if got[i] != first[i] {
				t.Fatalf("non-deterministic output: run %d got %v, want %v", run, got, first)
			}
		}
	}
}

func TestDoesNotMutateInput(t *testing.T) {
	f := NewFilter(DefaultConfig())
	in := []feed.ScoredItem{
		item("1", "a", feed.CategoryTrending),
		item("2", "a", feed.CategoryTrending),
		item("3", "a", feed.CategoryTrending),
		item("4", "b", feed.CategoryConnection),
	}
	want := ids(in)

	f.Apply(in)
	got := ids(in)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("input mutated at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestEmptyAndSingleton(t *testing.T) {
	f := NewFilter(DefaultConfig())
	if out := f.Apply(nil); len(out) != 0 {
		t.Fatalf("nil input produced %d items", len(out))
	}
	one := []feed.ScoredItem{item("1", "a", feed.CategoryTrending)}
	if out := f.Apply(one); len(out) != 1 || out[0].Candidate.ID != "1" {
		t.Fatalf("singleton altered: %v", ids(out))
	}
}

func TestEmptyAuthorNeverRuns(t *testing.T) {
	f := NewFilter(DefaultConfig())
	// Authorless items (e.g. product listings) must not count as a run of
	// one author.
	in := []feed.ScoredItem{
		item("1", "", feed.CategoryProduct),
		item("2", "", feed.CategoryProduct),
		item("3", "", feed.CategoryProduct),
		item("4", "b", feed.CategoryConnection),
	}

	out := f.Apply(in)
	for i := 0; i < 3; i++ {
		if out[i].Candidate.ID != in[i].Candidate.ID {
			t.Fatalf("authorless items reordered: %v", ids(out))
		}
	}
}
