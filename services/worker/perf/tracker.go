// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package perf keeps lightweight in-memory pipeline statistics for the
// viewer's performance panel: a queue-depth history and per-reply
// processing records, both in bounded rings.
package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/engramlabs/engram/pkg/ring"
	"github.com/engramlabs/engram/services/worker/metrics"
)

const (
	queueHistoryCap = 1000
	processingCap   = 500

	// queueSampleEvery throttles depth sampling; enqueues are far more
	// frequent than the panel refreshes.
	queueSampleEvery = 5 * time.Second
)

// QueueSample is one point of the queue-depth history.
type QueueSample struct {
	Timestamp      int64 `json:"timestamp"`
	QueueDepth     int   `json:"queueDepth"`
	ActiveSessions int   `json:"activeSessions"`
}

// ProcessingRecord captures one analyzer reply's processing cost.
type ProcessingRecord struct {
	Timestamp        int64 `json:"timestamp"`
	DurationMs       int64 `json:"durationMs"`
	ObservationCount int   `json:"observationCount"`
	DiscoveryTokens  int64 `json:"discoveryTokens"`
}

// QueueHistory is the depth history plus its fold.
type QueueHistory struct {
	History        []QueueSample `json:"history"`
	AvgQueueDepth  float64       `json:"avgQueueDepth"`
	PeakQueueDepth int           `json:"peakQueueDepth"`
}

// ProcessingStats summarizes a set of processing records.
type ProcessingStats struct {
	AvgMs                 float64 `json:"avgMs"`
	P50Ms                 int64   `json:"p50Ms"`
	P95Ms                 int64   `json:"p95Ms"`
	ObservationsPerMinute float64 `json:"observationsPerMinute"`
	AvgQueueDepth         float64 `json:"avgQueueDepth"`
	PeakQueueDepth        int     `json:"peakQueueDepth"`
}

// ProcessingTimes is the records-plus-stats answer for the panel.
type ProcessingTimes struct {
	Records []ProcessingRecord `json:"records"`
	Stats   ProcessingStats    `json:"stats"`
}

// Tracker records pipeline samples in memory. Nothing here persists;
// a restart starts the history over.
//
// Thread Safety: safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	queue      *ring.Buffer[QueueSample]
	processing *ring.Buffer[ProcessingRecord]
	sampler    *rate.Limiter
}

// NewTracker builds a tracker with the standard ring capacities.
func NewTracker() *Tracker {
	return &Tracker{
		queue:      ring.New[QueueSample](queueHistoryCap),
		processing: ring.New[ProcessingRecord](processingCap),
		sampler:    rate.NewLimiter(rate.Every(queueSampleEvery), 1),
	}
}

// RecordQueueDepth samples the current total queue depth and active
// session count, at most once per sampling interval.
func (t *Tracker) RecordQueueDepth(depth, activeSessions int) {
	if !t.sampler.Allow() {
		return
	}
	t.mu.Lock()
	t.queue.Push(QueueSample{
		Timestamp:      time.Now().UnixMilli(),
		QueueDepth:     depth,
		ActiveSessions: activeSessions,
	})
	t.mu.Unlock()
}

// RecordProcessing records one reply's processing sample. Unlike depth
// sampling this is never throttled; replies are the unit of interest.
func (t *Tracker) RecordProcessing(d time.Duration, observations int, discoveryTokens int64) {
	t.mu.Lock()
	t.processing.Push(ProcessingRecord{
		Timestamp:        time.Now().UnixMilli(),
		DurationMs:       d.Milliseconds(),
		ObservationCount: observations,
		DiscoveryTokens:  discoveryTokens,
	})
	t.mu.Unlock()
}

// GetQueueHistory returns depth samples at or after the since filter,
// oldest first, with their average and peak.
func (t *Tracker) GetQueueHistory(since string) QueueHistory {
	cutoff := metrics.SinceEpoch(since, time.Now())

	t.mu.Lock()
	samples := t.queue.Slice()
	t.mu.Unlock()

	out := QueueHistory{History: make([]QueueSample, 0, len(samples))}
	var sum int64
	for _, s := range samples {
		if cutoff > 0 && s.Timestamp < cutoff {
			continue
		}
		out.History = append(out.History, s)
		sum += int64(s.QueueDepth)
		if s.QueueDepth > out.PeakQueueDepth {
			out.PeakQueueDepth = s.QueueDepth
		}
	}
	if n := len(out.History); n > 0 {
		out.AvgQueueDepth = float64(sum) / float64(n)
	}
	return out
}

// GetProcessingTimes returns processing records at or after the since
// filter, oldest first, capped to the newest limit entries, plus
// duration stats over that set. Percentiles use the nearest-rank
// method. An empty set yields all zeros.
func (t *Tracker) GetProcessingTimes(since string, limit int) ProcessingTimes {
	cutoff := metrics.SinceEpoch(since, time.Now())

	t.mu.Lock()
	records := t.processing.Slice()
	t.mu.Unlock()

	kept := make([]ProcessingRecord, 0, len(records))
	for _, r := range records {
		if cutoff > 0 && r.Timestamp < cutoff {
			continue
		}
		kept = append(kept, r)
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}

	out := ProcessingTimes{Records: kept}
	if len(kept) == 0 {
		return out
	}

	durations := make([]int64, len(kept))
	var durSum, obsSum int64
	for i, r := range kept {
		durations[i] = r.DurationMs
		durSum += r.DurationMs
		obsSum += int64(r.ObservationCount)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	out.Stats.AvgMs = float64(durSum) / float64(len(kept))
	out.Stats.P50Ms = percentile(durations, 50)
	out.Stats.P95Ms = percentile(durations, 95)

	// A single record has no span; read it as one minute of activity
	// rather than dividing by zero. Real sub-minute spans keep their
	// actual length.
	spanMinutes := float64(kept[len(kept)-1].Timestamp-kept[0].Timestamp) / 60000
	if spanMinutes <= 0 {
		spanMinutes = 1
	}
	out.Stats.ObservationsPerMinute = float64(obsSum) / spanMinutes

	qh := t.GetQueueHistory(since)
	out.Stats.AvgQueueDepth = qh.AvgQueueDepth
	out.Stats.PeakQueueDepth = qh.PeakQueueDepth
	return out
}

// percentile picks the nearest-rank element of an ascending-sorted set:
// index = ceil(p/100 * n) - 1.
func percentile(sorted []int64, p int) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(p)/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
