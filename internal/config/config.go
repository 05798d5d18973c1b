// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package config loads the engine's configuration in three layers:
// compiled-in defaults, an optional YAML file, and FEEDENGINE_*
// environment variables, each overriding the last.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opencircle/feedengine/internal/cache"
	"github.com/opencircle/feedengine/internal/events"
	"github.com/opencircle/feedengine/internal/feed"
	"github.com/opencircle/feedengine/internal/feed/diversity"
	"github.com/opencircle/feedengine/internal/feed/scoring"
	"github.com/opencircle/feedengine/internal/feed/sources"
	"github.com/opencircle/feedengine/internal/logging"
	"github.com/opencircle/feedengine/internal/trending"
)

// envPrefix selects the environment variables this package reads.
// Nesting uses double underscores: FEEDENGINE_SERVER__PORT -> server.port.
const envPrefix = "FEEDENGINE_"

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `json:"host" koanf:"host"`
	Port            int           `json:"port" koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout"`

	// RequestsPerMinute caps per-client request rate; zero disables.
	RequestsPerMinute int `json:"requests_per_minute" koanf:"requests_per_minute"`

	// CORSOrigins lists allowed origins; empty allows none.
	CORSOrigins []string `json:"cors_origins" koanf:"cors_origins"`
}

// CompositionSettings is the YAML-facing shape of the default composition.
type CompositionSettings struct {
	ID                string                    `json:"id" koanf:"id"`
	Version           int                       `json:"version" koanf:"version" validate:"gte=1"`
	Ratios            map[feed.Category]float64 `json:"ratios" koanf:"ratios"`
	FeedLengthDefault int                       `json:"feed_length_default" koanf:"feed_length_default" validate:"gte=1"`
}

// StoreConfig selects collaborator backends.
type StoreConfig struct {
	// BadgerPath is the assignment database directory. Empty runs Badger
	// in memory.
	BadgerPath string `json:"badger_path" koanf:"badger_path"`

	// SeedFixtures loads the built-in demo viewers, graph, and content
	// into the in-memory collaborator stores. Development only.
	SeedFixtures bool `json:"seed_fixtures" koanf:"seed_fixtures"`
}

// EventsConfig gates and tunes event intake.
type EventsConfig struct {
	Enabled    bool                    `json:"enabled" koanf:"enabled"`
	Subscriber events.SubscriberConfig `json:"subscriber" koanf:"subscriber"`
}

// Config is the full engine configuration.
type Config struct {
	Server      ServerConfig               `json:"server" koanf:"server"`
	Logging     logging.Config             `json:"logging" koanf:"logging"`
	Composer    feed.ComposerConfig        `json:"composer" koanf:"composer"`
	Composition CompositionSettings        `json:"composition" koanf:"composition"`
	Scoring     scoring.Config             `json:"scoring" koanf:"scoring"`
	Diversity   diversity.Config           `json:"diversity" koanf:"diversity"`
	FeedCache   cache.FeedCacheConfig      `json:"feed_cache" koanf:"feed_cache"`
	Window      trending.WindowConfig      `json:"trending_window" koanf:"trending_window"`
	Aggregator  trending.AggregatorConfig  `json:"trending_aggregator" koanf:"trending_aggregator"`
	SourceGuard sources.GuardConfig        `json:"source_guard" koanf:"source_guard"`
	Events      EventsConfig               `json:"events" koanf:"events"`
	Store       StoreConfig                `json:"store" koanf:"store"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	comp := feed.DefaultComposition()
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			RequestsPerMinute: 600,
		},
		Logging:  logging.DefaultConfig(),
		Composer: feed.DefaultComposerConfig(),
		Composition: CompositionSettings{
			ID:                comp.ID,
			Version:           comp.Version,
			Ratios:            comp.Ratios,
			FeedLengthDefault: comp.FeedLengthDefault,
		},
		Scoring:     scoring.DefaultConfig(),
		Diversity:   diversity.DefaultConfig(),
		FeedCache:   cache.DefaultFeedCacheConfig(),
		Window:      trending.DefaultWindowConfig(),
		Aggregator:  trending.DefaultAggregatorConfig(),
		SourceGuard: sources.DefaultGuardConfig(),
		Events: EventsConfig{
			Enabled:    false,
			Subscriber: events.DefaultSubscriberConfig(),
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// the environment. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Ratios are kept out of the defaults layer: koanf deep-merges maps,
	// and a partial ratio override merged into the defaults would no
	// longer sum to 1.0. A file or env ratio map replaces the default
	// wholesale instead.
	defaults := Default()
	defaults.Composition.Ratios = nil

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Composition.Ratios) == 0 {
		cfg.Composition.Ratios = feed.DefaultComposition().Ratios
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the composition ratios.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := feed.ValidateRatios(c.Composition.Ratios); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// BuildComposition converts the settings into the composer's config type.
func (c *Config) BuildComposition() feed.CompositionConfig {
	return feed.CompositionConfig{
		ID:                c.Composition.ID,
		Version:           c.Composition.Version,
		Ratios:            c.Composition.Ratios,
		FeedLengthDefault: c.Composition.FeedLengthDefault,
		ScoringWeights:    nil, // default weights come from the scoring config
	}
}

// envTransform maps FEEDENGINE_SERVER__PORT to server.port.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
