// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package main is the entry point for the feedengine server.
//
// Feedengine assembles personalized, ranked content feeds for a social
// platform: multi-category candidate collection, signal-based scoring with
// recency decay, ratio-driven interleaving, diversity filtering, experiment
// bucketing, and cached delivery over a REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, FEEDENGINE_* env vars (Koanf v2)
//  2. Stores: in-memory collaborator stores and BadgerDB experiment assignments
//  3. Trending: engagement window plus the periodic aggregator snapshot
//  4. Composer: scoring engine, diversity filter, guarded category sources
//  5. Events (optional): NATS JetStream engagement and invalidation intake
//  6. HTTP server: feed, invalidation, experiment, and trending endpoints
//
// Everything long-running goes under a suture supervisor tree with separate
// background and api layers, so a crashing consumer restarts on its own
// without taking the HTTP listener down.
//
// # Configuration
//
// Configuration is layered (highest priority wins):
//   - Environment variables (FEEDENGINE_SERVER__PORT, ...)
//   - Config file (-config path/to/config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the listener
// stops accepting connections, in-flight requests get the configured
// shutdown timeout, and background services wind down with the tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/opencircle/feedengine/internal/api"
	"github.com/opencircle/feedengine/internal/cache"
	"github.com/opencircle/feedengine/internal/config"
	"github.com/opencircle/feedengine/internal/events"
	"github.com/opencircle/feedengine/internal/experiment"
	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/feed/diversity"
	"github.com/opencircle/feedengine/internal/feed/scoring"
	"github.com/opencircle/feedengine/internal/feed/sources"
	"github.com/opencircle/feedengine/internal/logging"
	"github.com/opencircle/feedengine/internal/store"
	"github.com/opencircle/feedengine/internal/supervisor"
	"github.com/opencircle/feedengine/internal/trending"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()
	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Default logger: logging config is not available yet.
		fallback := logging.Logger()
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging)
	logger := logging.Logger()
	logger.Info().
		Str("composition_id", cfg.Composition.ID).
		Int("composition_version", cfg.Composition.Version).
		Bool("events_enabled", cfg.Events.Enabled).
		Msg("Starting feedengine")

	// Collaborator stores. The in-memory store backs every boundary the
	// category sources need; production deployments swap in real clients.
	memory := store.NewMemory()
	if cfg.Store.SeedFixtures {
		memory.SeedFixtures(time.Now())
		logger.Info().Msg("Seeded demo fixtures (FEEDENGINE_STORE__SEED_FIXTURES=true)")
	}

	// Experiment assignments persist in Badger so bucketing survives
	// restarts. An empty path runs in memory for development.
	badgerOpts := badger.DefaultOptions(cfg.Store.BadgerPath).WithLogger(nil)
	if cfg.Store.BadgerPath == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open assignment database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing assignment database")
		}
	}()

	defaultComposition := cfg.BuildComposition()
	resolver := experiment.NewResolver(defaultComposition, experiment.NewBadgerAssignmentStore(db), logger)

	// Trending pipeline: engagement window feeding the snapshot store
	// through the periodic aggregator.
	trendingStore := cache.NewTrendingStore()
	window := trending.NewWindow(cfg.Window)
	aggregator := trending.NewAggregator(cfg.Aggregator, window, trendingStore, logger)

	feedCache := cache.NewFeedCache(cfg.FeedCache, logger)

	composer, err := feed.NewComposer(cfg.Composer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create composer")
	}
	if err := composer.SetDefaultComposition(defaultComposition); err != nil {
		logger.Fatal().Err(err).Msg("Invalid default composition")
	}
	composer.SetProfileStore(memory)
	composer.SetVariantResolver(resolver)
	composer.SetScorer(scoring.NewEngine(cfg.Scoring))
	composer.SetDiversifier(diversity.NewFilter(cfg.Diversity))
	composer.SetCache(feedCache)
	composer.SetTrendingReader(trendingStore)

	for _, src := range []feed.CandidateSource{
		sources.NewConnectionSource(memory, memory),
		sources.NewInterestSource(memory),
		sources.NewTrendingSource(trendingStore, memory),
		sources.NewDiscoverySource(memory),
		sources.NewCommunitySource(memory, memory),
		sources.NewProductSource(memory),
	} {
		composer.RegisterSource(sources.Guard(src, cfg.SourceGuard))
	}

	handler := api.NewHandler(composer, resolver, trendingStore, logger)
	router := api.NewRouter(api.RouterConfig{
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		CORSOrigins:       cfg.Server.CORSOrigins,
	}, handler, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddBackground(aggregator)
	tree.AddBackground(supervisor.NewFuncService("cache-janitor", func(ctx context.Context) error {
		feedCache.RunJanitor(ctx)
		return ctx.Err()
	}))

	if cfg.Events.Enabled {
		subscriber, err := events.NewSubscriber(cfg.Events.Subscriber, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect event subscriber")
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing event subscriber")
			}
		}()
		tree.AddBackground(events.NewConsumer(subscriber, window, composer, logger))
	}

	tree.AddAPI(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("addr", server.Addr).Msg("Serving")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("Supervisor tree failed")
	}
	logger.Info().Msg("Shutdown complete")
}
