// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the worker's Prometheus metrics. Everything
// registers against the default registry at import time and is served by
// the /metrics endpoint.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Worker Pipeline
// =============================================================================

var (
	// eventsIngested counts accepted ingestion events.
	// Labels: kind (observation, summarize)
	eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "events_ingested_total",
		Help:      "Total ingestion events accepted",
	}, []string{"kind"})

	// observationsPersisted counts observation rows written to the store.
	observationsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "observations_persisted_total",
		Help:      "Total observations persisted",
	})

	// summariesPersisted counts summary rows written to the store.
	summariesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "summaries_persisted_total",
		Help:      "Total session summaries persisted",
	})

	// replyProcessing measures end-to-end analyzer reply processing time.
	// Replies involve a model round trip, so buckets run into minutes.
	replyProcessing = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "reply_processing_seconds",
		Help:      "Analyzer reply processing time in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// activeSessions tracks sessions with a live pipeline.
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "active_sessions",
		Help:      "Sessions with a running analyzer pipeline",
	})

	// queueDepth tracks the total pending message backlog across sessions.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "pending_queue_depth",
		Help:      "Pending messages across all active sessions",
	})

	// vectorSyncFailures counts failed fire-and-forget index writes.
	// Labels: class (EngramObservation, EngramSummary)
	vectorSyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "vector_sync_failures_total",
		Help:      "Failed vector index sync attempts",
	}, []string{"class"})

	// discoveryTokens accumulates analyzer tokens attributed to observations.
	discoveryTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "engram",
		Subsystem: "worker",
		Name:      "discovery_tokens_total",
		Help:      "Analyzer tokens spent producing observations",
	})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordEventIngested counts one accepted ingestion event.
//
// Inputs:
//
//	kind - The event kind ("observation" or "summarize").
func RecordEventIngested(kind string) {
	eventsIngested.WithLabelValues(kind).Inc()
}

// RecordObservationPersisted counts one stored observation.
func RecordObservationPersisted() {
	observationsPersisted.Inc()
}

// RecordSummaryPersisted counts one stored summary.
func RecordSummaryPersisted() {
	summariesPersisted.Inc()
}

// ObserveReplyProcessing records how long one analyzer reply took to
// process, from send to persistence.
func ObserveReplyProcessing(d time.Duration) {
	replyProcessing.Observe(d.Seconds())
}

// SetActiveSessions sets the live pipeline gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// SetQueueDepth sets the pending backlog gauge.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordVectorSyncFailure counts one failed index write.
//
// Inputs:
//
//	class - The index class the write targeted.
func RecordVectorSyncFailure(class string) {
	vectorSyncFailures.WithLabelValues(class).Inc()
}

// AddDiscoveryTokens accumulates tokens attributed to new observations.
func AddDiscoveryTokens(n int64) {
	if n > 0 {
		discoveryTokens.Add(float64(n))
	}
}
