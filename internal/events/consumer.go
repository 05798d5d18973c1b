// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/opencircle/feedengine/internal/metrics"
	"github.com/opencircle/feedengine/internal/trending"
)

// EngagementRecorder receives validated engagement events.
type EngagementRecorder interface {
	Record(contentID string, typ trending.EngagementType, at time.Time)
}

// FeedInvalidator drops a viewer's cached feeds.
type FeedInvalidator interface {
	Invalidate(viewerID string)
}

// MessageSource is the subscription boundary the consumer runs against.
// Satisfied by *Subscriber and by channel-backed fakes in tests.
type MessageSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Consumer pumps engagement and invalidation topics into the engine.
// Malformed messages are acked and dropped: redelivery cannot fix a bad
// payload and would wedge the consumer. Handler panics are not recovered;
// the supervisor restarts the service.
type Consumer struct {
	source      MessageSource
	recorder    EngagementRecorder
	invalidator FeedInvalidator
	logger      zerolog.Logger
}

// NewConsumer creates a consumer. recorder and invalidator may be nil to
// disable the corresponding topic.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewConsumer(source MessageSource, recorder EngagementRecorder, invalidator FeedInvalidator, logger zerolog.Logger) *Consumer {
	return &Consumer{
		source:      source,
		recorder:    recorder,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "events_consumer").Logger(),
	}
}

// Serve consumes both topics until ctx is canceled. Implements
// suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	var engagement, invalidation <-chan *message.Message
	var err error

	if c.recorder != nil {
		engagement, err = c.source.Subscribe(ctx, TopicEngagement)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", TopicEngagement, err)
		}
	}
	if c.invalidator != nil {
		invalidation, err = c.source.Subscribe(ctx, TopicInvalidation)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", TopicInvalidation, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-engagement:
			if !ok {
				engagement = nil
				continue
			}
			c.handleEngagement(msg)
		case msg, ok := <-invalidation:
			if !ok {
				invalidation = nil
				continue
			}
			c.handleInvalidation(msg)
		}
		if engagement == nil && invalidation == nil {
			return nil
		}
	}
}

func (c *Consumer) handleEngagement(msg *message.Message) {
	var event EngagementEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed engagement event")
		metrics.EngagementEvents.WithLabelValues("malformed").Inc()
		msg.Ack()
		return
	}
	if event.ContentID == "" || event.Type == "" {
		c.logger.Warn().Str("message_id", msg.UUID).Msg("dropping incomplete engagement event")
		metrics.EngagementEvents.WithLabelValues("malformed").Inc()
		msg.Ack()
		return
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	c.recorder.Record(event.ContentID, trending.EngagementType(event.Type), at)
	metrics.EngagementEvents.WithLabelValues(event.Type).Inc()
	msg.Ack()
}

func (c *Consumer) handleInvalidation(msg *message.Message) {
	var event InvalidationEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed invalidation event")
		msg.Ack()
		return
	}
	if event.ViewerID == "" {
		c.logger.Warn().Str("message_id", msg.UUID).Msg("dropping invalidation without viewer id")
		msg.Ack()
		return
	}

	c.invalidator.Invalidate(event.ViewerID)
	c.logger.Debug().
		Str("viewer_id", event.ViewerID).
		Str("reason", event.Reason).
		Msg("feed cache invalidated")
	msg.Ack()
}
