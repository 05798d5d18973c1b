// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package metrics defines the Prometheus instrumentation surface. All
// collectors register on the default registry via promauto so importing a
// package that records a metric is enough to expose it on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedengine"

// Feed composition pipeline.
var (
	// ComposeDuration tracks end-to-end feed generation latency, labeled
	// by how the request was served (generated, cache_hit, stale, empty).
	ComposeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "compose_duration_seconds",
		Help:      "End-to-end feed composition latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"result"})

	// ComposeRequests counts compose calls by outcome.
	ComposeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compose_requests_total",
		Help:      "Feed composition requests by outcome.",
	}, []string{"result"})

	// DegradedResponses counts responses with at least one excluded
	// category or a pipeline-level fallback.
	DegradedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degraded_responses_total",
		Help:      "Feed responses served in a degraded state.",
	})
)

// Candidate sources.
var (
	// SourceFetchDuration tracks per-category candidate fetch latency.
	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "source_fetch_duration_seconds",
		Help:      "Candidate source fetch latency by category.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5},
	}, []string{"category"})

	// SourceFailures counts per-category fetch failures by reason.
	SourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_failures_total",
		Help:      "Candidate source failures by category and reason.",
	}, []string{"category", "reason"})

	// SourceFetchRejected counts fetches rejected before reaching the
	// collaborator (open breaker, rate limit).
	SourceFetchRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetch_rejected_total",
		Help:      "Source fetches rejected by the resilience wrapper.",
	}, []string{"category", "reason"})

	// SourceBreakerState exposes each source breaker's state
	// (0=closed, 1=half-open, 2=open).
	SourceBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_breaker_state",
		Help:      "Circuit breaker state per candidate source.",
	}, []string{"source"})

	// SourceBreakerTransitions counts breaker state transitions.
	SourceBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_breaker_transitions_total",
		Help:      "Circuit breaker state transitions per candidate source.",
	}, []string{"source", "from", "to"})
)

// Feed cache.
var (
	// CacheHits counts live cache hits per cache.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Cache hits by cache name.",
	}, []string{"cache"})

	// CacheMisses counts cache misses per cache.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Cache misses by cache name.",
	}, []string{"cache"})

	// CacheStaleServed counts expired entries served as fallback.
	CacheStaleServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_stale_served_total",
		Help:      "Expired cache entries served as degraded fallback.",
	}, []string{"cache"})

	// CacheInvalidations counts explicit invalidation calls.
	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_invalidations_total",
		Help:      "Explicit cache invalidations by cache name.",
	}, []string{"cache"})

	// CacheEntries exposes the current entry count per cache.
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Current number of cache entries by cache name.",
	}, []string{"cache"})
)

// Experiments.
var (
	// ExperimentAssignments counts first-time variant assignments.
	ExperimentAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "experiment_assignments_total",
		Help:      "First-time experiment variant assignments.",
	}, []string{"experiment", "variant"})
)

// Trending aggregation.
var (
	// TrendingAggregationDuration tracks one aggregation pass.
	TrendingAggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trending_aggregation_duration_seconds",
		Help:      "Duration of one trending aggregation pass.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
	})

	// TrendingSnapshotSize exposes the entry count of the live snapshot.
	TrendingSnapshotSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "trending_snapshot_size",
		Help:      "Entries in the current trending snapshot.",
	})

	// EngagementEvents counts ingested engagement events by type.
	EngagementEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engagement_events_total",
		Help:      "Ingested engagement events by type.",
	}, []string{"type"})
)

// HTTP surface.
var (
	// HTTPRequestDuration tracks handler latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route, method, and status.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"route", "method", "status"})
)
