// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events defines the live event stream the viewer consumes and
// the Publisher that feeds it from the session pipelines.
//
// Every payload here is the exact JSON frame sent over the websocket;
// the handlers forward broker payloads verbatim.
package events

import (
	"time"

	"github.com/engramlabs/engram/pkg/pubsub"
	"github.com/engramlabs/engram/services/worker/metrics"
	"github.com/engramlabs/engram/services/worker/store"
)

// Live event types, mirrored in each payload's "type" field.
const (
	TypeInitialLoad      pubsub.EventType = "initial_load"
	TypeNewObservation   pubsub.EventType = "new_observation"
	TypeNewSummary       pubsub.EventType = "new_summary"
	TypeNewPrompt        pubsub.EventType = "new_prompt"
	TypeProcessingStatus pubsub.EventType = "processing_status"
	TypeTokenUpdate      pubsub.EventType = "token_update"
)

// ObservationEvent announces one freshly persisted observation.
type ObservationEvent struct {
	Type        string             `json:"type"`
	Observation *store.Observation `json:"observation"`
}

// SummaryEvent announces one freshly persisted session summary.
type SummaryEvent struct {
	Type    string         `json:"type"`
	Summary *store.Summary `json:"summary"`
}

// PromptEvent announces one recorded user prompt.
type PromptEvent struct {
	Type   string            `json:"type"`
	Prompt *store.UserPrompt `json:"prompt"`
}

// ProcessingInfo is the shared isProcessing/queueDepth pair.
type ProcessingInfo struct {
	IsProcessing bool `json:"isProcessing"`
	QueueDepth   int  `json:"queueDepth"`
}

// ProcessingStatusEvent announces a change in outstanding work.
type ProcessingStatusEvent struct {
	Type         string `json:"type"`
	IsProcessing bool   `json:"isProcessing"`
	QueueDepth   int    `json:"queueDepth"`
}

// TokenUpdateEvent carries the throttled token-economics refresh.
type TokenUpdateEvent struct {
	Type      string               `json:"type"`
	Tokens    metrics.TokenSummary `json:"tokens"`
	Timestamp int64                `json:"timestamp"`
}

// InitialLoadEvent is the snapshot a subscriber receives on connect.
type InitialLoadEvent struct {
	Type         string               `json:"type"`
	Observations []store.Observation  `json:"observations"`
	Summaries    []store.Summary      `json:"summaries"`
	Prompts      []store.UserPrompt   `json:"prompts"`
	Processing   ProcessingInfo       `json:"processing"`
	Tokens       metrics.TokenSummary `json:"tokens"`
}

// NewTokenUpdate shapes a token_update frame for the given summary.
func NewTokenUpdate(s metrics.TokenSummary) TokenUpdateEvent {
	return TokenUpdateEvent{
		Type:      string(TypeTokenUpdate),
		Tokens:    s,
		Timestamp: time.Now().UnixMilli(),
	}
}
