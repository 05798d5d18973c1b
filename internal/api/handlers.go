// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/opencircle/feedengine/internal/cache"
	"github.com/opencircle/feedengine/internal/experiment"
	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/metrics"
)

// Handler serves the engine's HTTP endpoints.
type Handler struct {
	composer *feed.Composer
	resolver *experiment.Resolver
	trending *cache.TrendingStore
	logger   zerolog.Logger
}

// NewHandler creates the endpoint handler. resolver and trending may be
// nil; their endpoints then return 404s.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(composer *feed.Composer, resolver *experiment.Resolver, trending *cache.TrendingStore, logger zerolog.Logger) *Handler {
	return &Handler{
		composer: composer,
		resolver: resolver,
		trending: trending,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// GetFeed serves GET /api/v1/feed/{viewerID}. The optional length query
// parameter overrides the composition default.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")

	length := 0
	if raw := r.URL.Query().Get("length"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, h.logger, http.StatusBadRequest, "invalid_length", "length must be a non-negative integer")
			return
		}
		length = parsed
	}

	resp, err := h.composer.Compose(r.Context(), viewerID, length)
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrViewerRequired):
			writeError(w, r, h.logger, http.StatusBadRequest, "viewer_required", err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, r, h.logger, http.StatusServiceUnavailable, "request_canceled", "request canceled or timed out")
		default:
			h.logger.Error().Err(err).Str("viewer_id", viewerID).Msg("compose failed")
			writeError(w, r, h.logger, http.StatusInternalServerError, "internal", "feed generation failed")
		}
		metrics.ComposeRequests.WithLabelValues("error").Inc()
		return
	}

	metrics.ComposeRequests.WithLabelValues(composeResult(&resp.Metadata)).Inc()
	metrics.ComposeDuration.WithLabelValues(composeResult(&resp.Metadata)).
		Observe(float64(resp.Metadata.GenerationMS) / 1000)
	if resp.Metadata.Degraded {
		metrics.DegradedResponses.Inc()
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Invalidate serves POST /api/v1/invalidate/{viewerID}. Idempotent: the
// response is 204 whether or not entries existed.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if viewerID == "" {
		writeError(w, r, h.logger, http.StatusBadRequest, "viewer_required", "viewer id required")
		return
	}

	h.composer.Invalidate(viewerID)
	h.logger.Debug().Str("viewer_id", viewerID).Msg("cache invalidated via api")
	w.WriteHeader(http.StatusNoContent)
}

// assignmentResponse is the assignment lookup body.
type assignmentResponse struct {
	ExperimentID string    `json:"experiment_id"`
	ViewerID     string    `json:"viewer_id"`
	Variant      string    `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// GetAssignment serves GET /api/v1/experiments/{experimentID}/assignment/{viewerID}.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		writeError(w, r, h.logger, http.StatusNotFound, "experiments_disabled", "experiments are not configured")
		return
	}

	experimentID := chi.URLParam(r, "experimentID")
	viewerID := chi.URLParam(r, "viewerID")

	assignment, err := h.resolver.Assignment(r.Context(), experimentID, viewerID)
	if err != nil {
		writeError(w, r, h.logger, http.StatusNotFound, "assignment_unavailable", err.Error())
		return
	}

	writeJSON(w, h.logger, http.StatusOK, assignmentResponse{
		ExperimentID: assignment.ExperimentID,
		ViewerID:     assignment.ViewerID,
		Variant:      assignment.Variant,
		AssignedAt:   assignment.AssignedAt,
	})
}

// trendingResponse is the trending inspection body.
type trendingResponse struct {
	Version     int64                     `json:"version"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Entries     []feed.TrendingCacheEntry `json:"entries"`
}

// GetTrending serves GET /api/v1/trending. The optional limit parameter
// defaults to 20.
func (h *Handler) GetTrending(w http.ResponseWriter, r *http.Request) {
	if h.trending == nil {
		writeError(w, r, h.logger, http.StatusNotFound, "trending_disabled", "trending is not configured")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, h.logger, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	writeJSON(w, h.logger, http.StatusOK, trendingResponse{
		Version:     h.trending.Version(),
		GeneratedAt: h.trending.GeneratedAt(),
		Entries:     h.trending.Top(limit),
	})
}

// Healthz serves GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// composeResult labels a compose outcome for metrics.
func composeResult(meta *feed.Metadata) string {
	switch {
	case meta.CacheHit:
		return "cache_hit"
	case meta.Stale:
		return "stale"
	case meta.Degraded:
		return "degraded"
	default:
		return "generated"
	}
}
