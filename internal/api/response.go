// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package api exposes the engine over HTTP: the feed endpoint, explicit
// cache invalidation, experiment assignment lookup, trending inspection,
// health, and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// APIError is the machine-readable error body.
type APIError struct {
	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable explanation.
	Message string `json:"message"`

	// RequestID traces the failed request.
	RequestID string `json:"request_id,omitempty"`
}

// errorBody wraps APIError for the wire.
type errorBody struct {
	Error APIError `json:"error"`
}

// writeJSON renders v with the standard headers. Encoding failures are
// logged, not surfaced: headers are already out.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("encode response")
	}
}

// writeError renders a standard error body.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, status int, code, message string) {
	writeJSON(w, logger, status, errorBody{Error: APIError{
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	}})
}
