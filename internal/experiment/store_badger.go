// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// assignmentKeyPrefix namespaces assignment records in the shared database.
const assignmentKeyPrefix = "assignment:"

// BadgerAssignmentStore implements AssignmentStore on BadgerDB, giving
// assignments durability across restarts.
type BadgerAssignmentStore struct {
	db *badger.DB
}

// NewBadgerAssignmentStore creates a BadgerDB-backed assignment store.
func NewBadgerAssignmentStore(db *badger.DB) *BadgerAssignmentStore {
	return &BadgerAssignmentStore{db: db}
}

// Get implements AssignmentStore.
func (s *BadgerAssignmentStore) Get(_ context.Context, experimentID, viewerID string) (*Assignment, bool, error) {
	var assignment Assignment
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerAssignmentKey(experimentID, viewerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get assignment: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &assignment)
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &assignment, true, nil
}

// PutIfAbsent implements AssignmentStore. The read and write share one
// transaction; Badger's conflict detection aborts the loser of a race,
// which then re-reads the winner's record.
func (s *BadgerAssignmentStore) PutIfAbsent(ctx context.Context, a *Assignment) (*Assignment, error) {
	key := badgerAssignmentKey(a.ExperimentID, a.ViewerID)

	for {
		var existing *Assignment
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == nil {
				var stored Assignment
				if verr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &stored)
				}); verr != nil {
					return verr
				}
				existing = &stored
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("get assignment: %w", err)
			}

			data, merr := json.Marshal(a)
			if merr != nil {
				return fmt.Errorf("marshal assignment: %w", merr)
			}
			return txn.Set(key, data)
		})

		if errors.Is(err, badger.ErrConflict) {
			// Lost the race; retry to read the winner.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return a, nil
	}
}

func badgerAssignmentKey(experimentID, viewerID string) []byte {
	return []byte(assignmentKeyPrefix + experimentID + ":" + viewerID)
}
