// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package experiment implements deterministic experiment resolution:
// stable hash bucketing of viewers into variants, sticky persisted
// assignments, and composition-config selection for the feed composer.
package experiment

import (
	"errors"
	"time"

	"github.com/opencircle/feedengine/internal/feed"
)

// Status is an experiment's lifecycle state. Only running experiments
// participate in feed resolution and assign new viewers. Assignments made
// while running stay stored and remain visible through the assignment
// lookup, so a paused experiment can resume without reshuffling anyone.
type Status string

const (
	// StatusDraft experiments are invisible to resolution.
	StatusDraft Status = "draft"
	// StatusRunning experiments bucket and assign viewers.
	StatusRunning Status = "running"
	// StatusPaused experiments stop resolving; assignments are retained.
	StatusPaused Status = "paused"
	// StatusCompleted experiments stop new assignments permanently.
	StatusCompleted Status = "completed"
)

// Variant is one arm of an experiment.
type Variant struct {
	// Name identifies the arm ("treatment", "treatment_b", ...).
	Name string `json:"name"`

	// Percent is this arm's share of total traffic, in whole percent.
	// The sum over all variants must not exceed 100; the remainder is
	// the implicit control arm served the default composition.
	Percent int `json:"percent"`

	// Composition is the config served to this arm. Nil means the arm
	// observes default behavior (an A/A arm).
	Composition *feed.CompositionConfig `json:"composition,omitempty"`
}

// Experiment is a composition experiment definition.
type Experiment struct {
	// ID is the stable identifier hashed with the viewer id for
	// bucketing. Changing it reshuffles every bucket, so it is immutable
	// once the experiment starts.
	ID string `json:"id"`

	// Name is the human-readable label.
	Name string `json:"name"`

	// Status gates new assignments.
	Status Status `json:"status"`

	// Variants are the treatment arms. Bucket ranges are allocated in
	// slice order starting at bucket 0.
	Variants []Variant `json:"variants"`

	// StartAt and EndAt bound when the experiment applies; a zero value
	// leaves that side open. Past EndAt the experiment behaves as
	// completed: it stops resolving and assigning, while stored
	// assignments stay visible through the assignment lookup.
	StartAt time.Time `json:"start_at,omitempty"`
	EndAt   time.Time `json:"end_at,omitempty"`
}

// ActiveAt reports whether the experiment resolves viewers at the given
// instant: running status and inside the scheduling window.
func (e *Experiment) ActiveAt(now time.Time) bool {
	if e.Status != StatusRunning {
		return false
	}
	if !e.StartAt.IsZero() && now.Before(e.StartAt) {
		return false
	}
	if !e.EndAt.IsZero() && !now.Before(e.EndAt) {
		return false
	}
	return true
}

// Validate checks the experiment definition.
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return errors.New("experiment: id required")
	}
	if len(e.Variants) == 0 {
		return errors.New("experiment: at least one variant required")
	}

	total := 0
	seen := make(map[string]struct{}, len(e.Variants))
	for _, v := range e.Variants {
		if v.Name == "" {
			return errors.New("experiment: variant name required")
		}
		if _, dup := seen[v.Name]; dup {
			return errors.New("experiment: duplicate variant name " + v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Percent < 0 || v.Percent > 100 {
			return errors.New("experiment: variant percent out of range for " + v.Name)
		}
		if v.Composition != nil {
			if err := feed.ValidateRatios(v.Composition.Ratios); err != nil {
				return err
			}
		}
		total += v.Percent
	}
	if total > 100 {
		return errors.New("experiment: variant percents exceed 100")
	}
	if !e.StartAt.IsZero() && !e.EndAt.IsZero() && !e.EndAt.After(e.StartAt) {
		return errors.New("experiment: end_at must be after start_at")
	}
	return nil
}

// variantForBucket maps a bucket in [0,100) to a variant by cumulative
// percent allocation, or nil for the control remainder.
func (e *Experiment) variantForBucket(bucket int) *Variant {
	cumulative := 0
	for i := range e.Variants {
		cumulative += e.Variants[i].Percent
		if bucket < cumulative {
			return &e.Variants[i]
		}
	}
	return nil
}

// ControlVariant is the variant name recorded for viewers outside every
// treatment arm.
const ControlVariant = "control"

// Assignment is a persisted viewer-to-variant record. Assignments are
// sticky: once written they never change, even if the experiment's
// allocation is later reconfigured.
type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	ViewerID     string    `json:"viewer_id"`
	Variant      string    `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
}
