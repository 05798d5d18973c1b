// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubscriberConfig holds NATS JetStream subscription settings.
type SubscriberConfig struct {
	// URL of the NATS server.
	URL string `json:"url" koanf:"url"`

	// QueueGroup load-balances consumption across engine instances.
	QueueGroup string `json:"queue_group" koanf:"queue_group"`

	// DurableName prefixes durable consumer names so redelivery survives
	// restarts.
	DurableName string `json:"durable_name" koanf:"durable_name"`

	// SubscribersCount is the number of concurrent pullers per topic.
	SubscribersCount int `json:"subscribers_count" koanf:"subscribers_count"`

	// AckWaitTimeout before an unacked message is redelivered.
	AckWaitTimeout time.Duration `json:"ack_wait_timeout" koanf:"ack_wait_timeout"`

	// CloseTimeout bounds graceful shutdown.
	CloseTimeout time.Duration `json:"close_timeout" koanf:"close_timeout"`

	// MaxReconnects and ReconnectWait tune the underlying NATS client.
	MaxReconnects int           `json:"max_reconnects" koanf:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" koanf:"reconnect_wait"`
}

// DefaultSubscriberConfig returns production defaults.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		URL:              "nats://localhost:4222",
		QueueGroup:       "feedengine",
		DurableName:      "feedengine",
		SubscribersCount: 4,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}

// Subscriber wraps a durable JetStream subscriber.
type Subscriber struct {
	subscriber message.Subscriber
	logger     zerolog.Logger
}

// NewSubscriber connects a durable JetStream subscriber. Streams are
// auto-provisioned per topic.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewSubscriber(cfg SubscriberConfig, logger zerolog.Logger) (*Subscriber, error) {
	logger = logger.With().Str("component", "events").Logger()
	wmLogger := newWatermillAdapter(logger)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: cfg.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxAckPending(256),
				natsgo.AckWait(cfg.AckWaitTimeout),
				natsgo.DeliverNew(),
			},
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	return &Subscriber{subscriber: sub, logger: logger}, nil
}

// Subscribe returns the message channel for a topic. The channel closes
// when ctx is canceled or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Close shuts the subscriber down gracefully.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}

// watermillAdapter bridges watermill's logging interface onto zerolog.
type watermillAdapter struct {
	logger zerolog.Logger
}

//nolint:gocritic // logger passed by value is acceptable for zerolog
func newWatermillAdapter(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillAdapter{logger: logger}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.logger.Error().Err(err), fields).Msg(msg)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.logger.Info(), fields).Msg(msg)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.logger.Debug(), fields).Msg(msg)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.logger.Trace(), fields).Msg(msg)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillAdapter{logger: ctx.Logger()}
}

func (a *watermillAdapter) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
