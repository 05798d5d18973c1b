// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package feed implements the feed generation and scoring pipeline.
//
// The package defines the shared data model (viewers, content candidates,
// composition configs, scored items) and the Composer orchestrator that
// assembles a ranked feed for one viewer: experiment-resolved composition,
// largest-remainder slot allocation, concurrent candidate collection,
// per-category scoring, deterministic interleaving, diversity filtering,
// and cache read/write.
//
// Subpackages provide the pluggable pieces: scoring (weighted factor
// model), sources (per-category candidate collection), and diversity
// (run-length reranking). The package has no dependencies on other
// internal packages; integration points are expressed as interfaces so
// the cache, experiment, and trending packages can plug in without
// circular imports.
package feed
