// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package experiment

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/metrics"
)

// AssignmentStore persists sticky viewer-to-variant assignments.
type AssignmentStore interface {
	// Get returns the existing assignment, or ok=false when none exists.
	Get(ctx context.Context, experimentID, viewerID string) (*Assignment, bool, error)

	// PutIfAbsent writes the assignment unless one already exists, and
	// returns the winning record either way: a itself when the write won,
	// the stored record when it lost. Concurrent callers for the same key
	// all observe the same winner.
	PutIfAbsent(ctx context.Context, a *Assignment) (*Assignment, error)
}

// Resolver buckets viewers into experiment variants and selects the
// composition config for each request. It implements feed.VariantResolver.
// Safe for concurrent use.
type Resolver struct {
	defaultComposition feed.CompositionConfig
	store              AssignmentStore
	logger             zerolog.Logger
	clock              func() time.Time

	mu          sync.RWMutex
	experiments map[string]*Experiment
}

// NewResolver creates a resolver serving defaultComposition to viewers
// outside every treatment arm. The store may be nil, in which case
// assignments are computed per request but not persisted.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewResolver(defaultComposition feed.CompositionConfig, store AssignmentStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		defaultComposition: defaultComposition,
		store:              store,
		logger:             logger.With().Str("component", "experiment").Logger(),
		clock:              time.Now,
		experiments:        make(map[string]*Experiment),
	}
}

// SetClock overrides the resolver's time source. Test hook.
func (r *Resolver) SetClock(clock func() time.Time) {
	r.clock = clock
}

// Register adds or replaces an experiment definition.
func (r *Resolver) Register(e *Experiment) error {
	if err := e.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.experiments[e.ID] = e
	r.logger.Info().
		Str("experiment_id", e.ID).
		Str("status", string(e.Status)).
		Int("variants", len(e.Variants)).
		Msg("experiment registered")
	return nil
}

// Get returns a registered experiment.
func (r *Resolver) Get(id string) (*Experiment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.experiments[id]
	return e, ok
}

// Resolve implements feed.VariantResolver. The first running experiment in
// ID order applies; overlapping experiments are an operational error this
// engine resolves deterministically rather than rejecting.
func (r *Resolver) Resolve(ctx context.Context, viewerID string) (feed.VariantDecision, error) {
	exp := r.activeExperiment()
	if exp == nil {
		return r.defaultDecision(), nil
	}
	return r.resolveIn(ctx, exp, viewerID)
}

// Assignment returns the viewer's variant in the given experiment,
// computing and persisting it when absent. Used by the assignment lookup
// endpoint and by Resolve.
func (r *Resolver) Assignment(ctx context.Context, experimentID, viewerID string) (*Assignment, error) {
	r.mu.RLock()
	exp, ok := r.experiments[experimentID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("experiment: unknown experiment %q", experimentID)
	}

	if r.store != nil {
		if existing, found, err := r.store.Get(ctx, experimentID, viewerID); err != nil {
			return nil, err
		} else if found {
			return existing, nil
		}
	}

	if !exp.ActiveAt(r.clock()) {
		return nil, fmt.Errorf("experiment: %q is not accepting assignments", experimentID)
	}

	assignment := &Assignment{
		ExperimentID: experimentID,
		ViewerID:     viewerID,
		Variant:      r.bucketVariant(exp, viewerID),
		AssignedAt:   r.clock(),
	}

	if r.store == nil {
		return assignment, nil
	}

	winner, err := r.store.PutIfAbsent(ctx, assignment)
	if err != nil {
		return nil, err
	}
	if winner == assignment {
		metrics.ExperimentAssignments.WithLabelValues(experimentID, assignment.Variant).Inc()
	}
	return winner, nil
}

// resolveIn maps the viewer's assignment in exp to a composition decision.
func (r *Resolver) resolveIn(ctx context.Context, exp *Experiment, viewerID string) (feed.VariantDecision, error) {
	assignment, err := r.Assignment(ctx, exp.ID, viewerID)
	if err != nil {
		// Resolution failures must not break feed generation; the
		// composer falls back to the default composition.
		return feed.VariantDecision{}, fmt.Errorf("resolve %s: %w", exp.ID, err)
	}

	if assignment.Variant == ControlVariant {
		d := r.defaultDecision()
		d.ExperimentID = exp.ID
		d.Variant = ControlVariant
		return d, nil
	}

	for i := range exp.Variants {
		v := &exp.Variants[i]
		if v.Name != assignment.Variant {
			continue
		}
		cfg := v.Composition
		if cfg == nil {
			cfg = &r.defaultComposition
		}
		return feed.VariantDecision{
			Config:       cfg.Clone(),
			ExperimentID: exp.ID,
			Variant:      v.Name,
		}, nil
	}

	// Assignment references a variant that was since removed; honor
	// stickiness by serving the default rather than re-bucketing.
	r.logger.Warn().
		Str("experiment_id", exp.ID).
		Str("variant", assignment.Variant).
		Msg("assignment references unknown variant")
	d := r.defaultDecision()
	d.ExperimentID = exp.ID
	d.Variant = assignment.Variant
	return d, nil
}

// bucketVariant computes the viewer's deterministic bucket and maps it to
// a variant name.
func (r *Resolver) bucketVariant(exp *Experiment, viewerID string) string {
	if v := exp.variantForBucket(Bucket(viewerID, exp.ID)); v != nil {
		return v.Name
	}
	return ControlVariant
}

// activeExperiment returns the experiment with the smallest ID that is
// running and inside its scheduling window.
func (r *Resolver) activeExperiment() *Experiment {
	now := r.clock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.experiments))
	for id, e := range r.experiments {
		if e.ActiveAt(now) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return r.experiments[ids[0]]
}

func (r *Resolver) defaultDecision() feed.VariantDecision {
	return feed.VariantDecision{Config: r.defaultComposition.Clone()}
}

// Bucket maps a viewer into [0,100) for an experiment. The hash is stable
// across processes and releases: the same viewer and experiment always land
// in the same bucket, with no stored state required.
func Bucket(viewerID, experimentID string) int {
	sum := sha256.Sum256([]byte(viewerID + ":" + experimentID))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}
