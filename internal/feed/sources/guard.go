// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package sources

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/metrics"
)

// ErrRateLimited is returned when a source's local rate limiter rejects
// the fetch. The composer treats it like any other source failure.
var ErrRateLimited = errors.New("sources: rate limit exceeded")

// GuardConfig tunes the resilience wrapper around a source.
type GuardConfig struct {
	// MaxRequests allowed through in half-open state. Default: 3.
	MaxRequests uint32 `json:"max_requests" koanf:"max_requests"`

	// Interval resets failure counts in closed state. Default: 1m.
	Interval time.Duration `json:"interval" koanf:"interval"`

	// Timeout before an open circuit probes again. Default: 30s.
	Timeout time.Duration `json:"timeout" koanf:"timeout"`

	// MinRequests before the failure ratio is considered. Default: 10.
	MinRequests uint32 `json:"min_requests" koanf:"min_requests"`

	// FailureRatio at which the circuit opens. Default: 0.6.
	FailureRatio float64 `json:"failure_ratio" koanf:"failure_ratio"`

	// RatePerSecond caps fetches per second per source; zero disables
	// rate limiting. Default: 0.
	RatePerSecond float64 `json:"rate_per_second" koanf:"rate_per_second"`

	// Burst for the rate limiter. Default: max(1, RatePerSecond).
	Burst int `json:"burst" koanf:"burst"`
}

// DefaultGuardConfig returns the shipped guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Guarded wraps a candidate source with a circuit breaker and an optional
// rate limiter. A tripped breaker fails fast so one flapping collaborator
// cannot stall every compose request for its full fetch timeout.
type Guarded struct {
	inner   feed.CandidateSource
	cb      *gobreaker.CircuitBreaker[[]feed.ContentCandidate]
	limiter *rate.Limiter
}

// Guard wraps src with the configured breaker and limiter.
func Guard(src feed.CandidateSource, cfg GuardConfig) *Guarded {
	def := DefaultGuardConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = def.FailureRatio
	}

	name := string(src.Category())
	metrics.SourceBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]feed.ContentCandidate](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SourceBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.SourceBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RatePerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Guarded{inner: src, cb: cb, limiter: limiter}
}

// Category implements feed.CandidateSource.
func (g *Guarded) Category() feed.Category { return g.inner.Category() }

// Fetch implements feed.CandidateSource.
func (g *Guarded) Fetch(ctx context.Context, viewer *feed.Viewer, bound int) ([]feed.ContentCandidate, error) {
	name := string(g.inner.Category())

	if g.limiter != nil && !g.limiter.Allow() {
		metrics.SourceFetchRejected.WithLabelValues(name, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	start := time.Now()
	candidates, err := g.cb.Execute(func() ([]feed.ContentCandidate, error) {
		return g.inner.Fetch(ctx, viewer, bound)
	})
	metrics.SourceFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.SourceFetchRejected.WithLabelValues(name, "breaker_open").Inc()
		case errors.Is(err, context.DeadlineExceeded):
			metrics.SourceFailures.WithLabelValues(name, "timeout").Inc()
		default:
			metrics.SourceFailures.WithLabelValues(name, "error").Inc()
		}
		return nil, err
	}
	return candidates, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
