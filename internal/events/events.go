// Feedengine - Feed Generation and Scoring Engine
// Copyright 2026 The Feedengine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opencircle/feedengine

// Package events defines the engine's event intake: the wire types and
// topics published by upstream services, a durable NATS JetStream
// subscriber, and the consumer that feeds events into the engagement
// window and the cache invalidation path.
package events

import (
	"time"
)

// Topics consumed by the engine.
const (
	// TopicEngagement carries EngagementEvent messages.
	TopicEngagement = "engagement.recorded"

	// TopicInvalidation carries InvalidationEvent messages.
	TopicInvalidation = "feed.invalidated"
)

// EngagementEvent is one viewer interaction with a content item, published
// by the interaction service.
type EngagementEvent struct {
	// ContentID is the engaged content item.
	ContentID string `json:"content_id" validate:"required"`

	// ViewerID is the engaging viewer.
	ViewerID string `json:"viewer_id" validate:"required"`

	// Type is the engagement kind (view, like, comment, share).
	Type string `json:"type" validate:"required"`

	// OccurredAt is when the engagement happened.
	OccurredAt time.Time `json:"occurred_at" validate:"required"`
}

// InvalidationEvent asks the engine to drop a viewer's cached feeds,
// published when upstream state changes (new connection, changed
// interests, community join).
type InvalidationEvent struct {
	// ViewerID is the viewer whose cached feeds are stale.
	ViewerID string `json:"viewer_id" validate:"required"`

	// Reason is informational (logged, never branched on).
	Reason string `json:"reason,omitempty"`

	// OccurredAt is when the upstream change happened.
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}
