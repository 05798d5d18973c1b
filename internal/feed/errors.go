// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package feed

import (
	"errors"
	"fmt"
)

// Request-level errors. Only caller contract violations surface to the
// caller; everything else degrades and is flagged in Metadata.
var (
	// ErrViewerRequired is returned when the viewer id is empty.
	ErrViewerRequired = errors.New("feed: viewer id required")

	// ErrNegativeLength is returned for a negative requested length.
	ErrNegativeLength = errors.New("feed: requested length must be non-negative")
)

// ConfigError reports an invalid composition configuration (ratios not
// summing to 1.0, negative ratios, missing config). The composer falls back
// to the built-in default composition rather than failing the request.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "feed: invalid composition config: " + e.Reason
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// SourceFailure reports a category-scoped candidate source failure. It is
// non-fatal to the pipeline: the category is excluded and remaining ratios
// renormalized.
type SourceFailure struct {
	Category Category
	TimedOut bool
	Err      error
}

func (e *SourceFailure) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("feed: source %s timed out: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("feed: source %s failed: %v", e.Category, e.Err)
}

func (e *SourceFailure) Unwrap() error {
	return e.Err
}
