// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package diversity implements the run-length reranker applied after
// interleaving. It breaks up monotonous stretches of one author or one
// category by pulling the nearest eligible item forward from a bounded
// lookahead window, so the cost stays linear in feed length and the
// reordering is strictly local.
package diversity

import (
	"github.com/opencircle/feedengine/internal/feed"
)

// Config holds the diversity constraints.
type Config struct {
	// MaxAuthorRun is the maximum number of consecutive items by the same
	// author. Default: 2.
	MaxAuthorRun int `json:"max_author_run" koanf:"max_author_run"`

	// MaxCategoryRun is the maximum number of consecutive items from the
	// same category. Default: 3.
	MaxCategoryRun int `json:"max_category_run" koanf:"max_category_run"`

	// Window is how far ahead the filter searches for a replacement when a
	// run constraint would be violated. Default: 10.
	Window int `json:"window" koanf:"window"`
}

// DefaultConfig returns the shipped diversity constraints.
func DefaultConfig() Config {
	return Config{
		MaxAuthorRun:   2,
		MaxCategoryRun: 3,
		Window:         10,
	}
}

// Filter enforces the run constraints. Safe for concurrent use.
type Filter struct {
	cfg Config
}

// NewFilter creates a filter, defaulting any non-positive config fields.
func NewFilter(cfg Config) *Filter {
	def := DefaultConfig()
	if cfg.MaxAuthorRun <= 0 {
		cfg.MaxAuthorRun = def.MaxAuthorRun
	}
	if cfg.MaxCategoryRun <= 0 {
		cfg.MaxCategoryRun = def.MaxCategoryRun
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Filter{cfg: cfg}
}

// Apply returns a reordered copy of items with author and category runs
// bounded. When no eligible replacement exists within the lookahead window,
// the violating item stays in place: a too-long run is better than dropping
// content. Deterministic for a given input order, and never changes the
// multiset of items.
func (f *Filter) Apply(items []feed.ScoredItem) []feed.ScoredItem {
	if len(items) <= 1 {
		return items
	}

	out := make([]feed.ScoredItem, len(items))
	copy(out, items)

	for i := 1; i < len(out); i++ {
		if !f.violates(out, i) {
			continue
		}

		end := i + f.cfg.Window
		if end > len(out) {
			end = len(out)
		}

		// Nearest eligible item wins, so higher-ranked items move least.
		for j := i + 1; j < end; j++ {
			if f.eligible(out, i, j) {
				pullForward(out, i, j)
				break
			}
		}
	}

	return out
}

// violates reports whether the item at position i extends an author or
// category run past its limit.
func (f *Filter) violates(items []feed.ScoredItem, i int) bool {
	return runLength(items, i, sameAuthor) > f.cfg.MaxAuthorRun ||
		runLength(items, i, sameCategory) > f.cfg.MaxCategoryRun
}

// eligible reports whether moving items[j] into position i would satisfy
// both run constraints at i.
func (f *Filter) eligible(items []feed.ScoredItem, i, j int) bool {
	candidate := items[j]

	authorRun := 1
	for k := i - 1; k >= 0 && sameAuthor(items[k], candidate); k-- {
		authorRun++
	}
	if authorRun > f.cfg.MaxAuthorRun {
		return false
	}

	categoryRun := 1
	for k := i - 1; k >= 0 && sameCategory(items[k], candidate); k-- {
		categoryRun++
	}
	return categoryRun <= f.cfg.MaxCategoryRun
}

// runLength counts the run of matching items ending at position i.
func runLength(items []feed.ScoredItem, i int, match func(a, b feed.ScoredItem) bool) int {
	n := 1
	for k := i - 1; k >= 0 && match(items[k], items[i]); k-- {
		n++
	}
	return n
}

// pullForward moves items[j] to position i, shifting the displaced items
// right one slot. Relative order of everything else is preserved.
func pullForward(items []feed.ScoredItem, i, j int) {
	moved := items[j]
	copy(items[i+1:j+1], items[i:j])
	items[i] = moved
}

func sameAuthor(a, b feed.ScoredItem) bool {
	return a.Candidate.AuthorID != "" && a.Candidate.AuthorID == b.Candidate.AuthorID
}

func sameCategory(a, b feed.ScoredItem) bool {
	return a.Candidate.Category == b.Candidate.Category
}
