// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package experiment

import (
	"context"
	"sync"
)

// MemoryAssignmentStore is an in-process AssignmentStore. Suitable for
// tests and single-node deployments without persistence.
type MemoryAssignmentStore struct {
	mu          sync.RWMutex
	assignments map[string]*Assignment
}

// NewMemoryAssignmentStore creates an empty in-memory store.
func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{assignments: make(map[string]*Assignment)}
}

// Get implements AssignmentStore.
func (s *MemoryAssignmentStore) Get(_ context.Context, experimentID, viewerID string) (*Assignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentKey(experimentID, viewerID)]
	return a, ok, nil
}

// PutIfAbsent implements AssignmentStore. The check and insert happen
// under one lock, so concurrent callers for the same viewer always agree
// on the winner.
func (s *MemoryAssignmentStore) PutIfAbsent(_ context.Context, a *Assignment) (*Assignment, error) {
	key := assignmentKey(a.ExperimentID, a.ViewerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.assignments[key]; ok {
		return existing, nil
	}
	s.assignments[key] = a
	return a, nil
}

// Len returns the number of stored assignments.
func (s *MemoryAssignmentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assignments)
}

func assignmentKey(experimentID, viewerID string) string {
	return experimentID + ":" + viewerID
}
