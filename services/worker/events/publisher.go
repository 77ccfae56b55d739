// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"

	"github.com/engramlabs/engram/pkg/pubsub"
	"github.com/engramlabs/engram/services/worker/metrics"
	"github.com/engramlabs/engram/services/worker/observability"
	"github.com/engramlabs/engram/services/worker/store"
)

// StatusSource answers the work-in-progress questions behind
// processing_status frames. The session manager implements it.
type StatusSource interface {
	IsProcessing() bool
	TotalActiveWork() int
	ActiveCount() int
}

// Publisher receives records and status changes from the session
// pipelines and fans them out: live frames to the broker, cache
// invalidation and throttled pushes to the metrics engine, counters to
// Prometheus.
//
// # Description
//
// The publisher is handed to the session manager at construction, but
// the manager is also the publisher's status source. BindStatus breaks
// that cycle: the daemon constructs the publisher first, the manager
// second, then binds. Until a source is bound, processing_status frames
// report no work.
//
// Thread Safety: safe for concurrent use.
type Publisher struct {
	broker *pubsub.Broker[any]
	engine *metrics.Engine

	mu     sync.RWMutex
	source StatusSource
}

// NewPublisher wires a publisher to the broker and metrics engine.
// engine may be nil, which disables invalidation and token pushes.
func NewPublisher(broker *pubsub.Broker[any], engine *metrics.Engine) *Publisher {
	return &Publisher{broker: broker, engine: engine}
}

// BindStatus installs the status source consulted for
// processing_status frames.
func (p *Publisher) BindStatus(src StatusSource) {
	p.mu.Lock()
	p.source = src
	p.mu.Unlock()
}

// Status returns the current work snapshot, or all-idle when no source
// is bound yet.
func (p *Publisher) Status() ProcessingInfo {
	p.mu.RLock()
	src := p.source
	p.mu.RUnlock()
	if src == nil {
		return ProcessingInfo{}
	}
	depth := src.TotalActiveWork()
	return ProcessingInfo{IsProcessing: depth > 0, QueueDepth: depth}
}

// ObservationCreated publishes one persisted observation and refreshes
// everything it made stale.
func (p *Publisher) ObservationCreated(o *store.Observation) {
	observability.RecordObservationPersisted()
	observability.AddDiscoveryTokens(o.DiscoveryTokens)

	p.broker.Publish(TypeNewObservation, ObservationEvent{
		Type:        string(TypeNewObservation),
		Observation: o,
	})

	if p.engine != nil {
		p.engine.InvalidateProject(o.Project)
		p.engine.BroadcastTokenUpdate()
	}
}

// SummaryCreated publishes one persisted session summary.
func (p *Publisher) SummaryCreated(s *store.Summary) {
	observability.RecordSummaryPersisted()

	p.broker.Publish(TypeNewSummary, SummaryEvent{
		Type:    string(TypeNewSummary),
		Summary: s,
	})

	if p.engine != nil {
		p.engine.InvalidateProject(s.Project)
	}
}

// PromptCreated publishes one recorded user prompt.
func (p *Publisher) PromptCreated(pr *store.UserPrompt) {
	p.broker.Publish(TypeNewPrompt, PromptEvent{
		Type:   string(TypeNewPrompt),
		Prompt: pr,
	})
}

// ProcessingStatusChanged publishes a fresh work snapshot and updates
// the corresponding gauges.
func (p *Publisher) ProcessingStatusChanged() {
	p.mu.RLock()
	src := p.source
	p.mu.RUnlock()

	info := ProcessingInfo{}
	if src != nil {
		depth := src.TotalActiveWork()
		info = ProcessingInfo{IsProcessing: depth > 0, QueueDepth: depth}
		observability.SetQueueDepth(depth)
		observability.SetActiveSessions(src.ActiveCount())
	}

	p.broker.Publish(TypeProcessingStatus, ProcessingStatusEvent{
		Type:         string(TypeProcessingStatus),
		IsProcessing: info.IsProcessing,
		QueueDepth:   info.QueueDepth,
	})
}

// PublishTokenUpdate pushes one token_update frame. The metrics engine
// calls this through its own throttle.
func (p *Publisher) PublishTokenUpdate(s metrics.TokenSummary) {
	p.broker.Publish(TypeTokenUpdate, NewTokenUpdate(s))
}
