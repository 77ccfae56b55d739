// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs the per-session analysis pipelines.
//
// The Manager guarantees at most one live pipeline per assistant
// session. Each pipeline (Orchestrator) feeds a session's pending
// messages to its analyzer subprocess, parses the replies, persists the
// extracted records, and accounts for the tokens the analysis consumed.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/engramlabs/engram/services/worker/analyzer"
	"github.com/engramlabs/engram/services/worker/store"
)

// State is the lifecycle of an active session pipeline.
type State int

const (
	// StateInitializing covers analyzer spawn up to its first reply.
	StateInitializing State = iota

	// StateRunning is normal operation.
	StateRunning

	// StateDraining means input has stopped and remaining replies are
	// being consumed.
	StateDraining

	// StateCompleted means the reply stream ended cleanly and the
	// session row was marked completed.
	StateCompleted

	// StateAborted means the pipeline was cancelled or failed.
	StateAborted
)

var stateNames = []string{"initializing", "running", "draining", "completed", "aborted"}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ActiveSession is the in-memory half of a session: live counters and
// control state layered over the persisted session row.
//
// Thread Safety: all methods are safe for concurrent use. The exported
// identity fields are written once at construction and never change.
type ActiveSession struct {
	// ID is the session's store row id.
	ID int64

	// SessionID is the assistant-side id events arrive under.
	SessionID string

	// Project the session belongs to.
	Project string

	mu                sync.Mutex
	state             State
	analyzerSessionID string
	userPrompt        string
	lastPromptNumber  int
	cumInput          int64
	cumOutput         int64
	queued            int
	inFlight          []int64
	startedAt         time.Time
	cancel            context.CancelFunc
}

func newActiveSession(row *store.Session) *ActiveSession {
	return &ActiveSession{
		ID:                row.ID,
		SessionID:         row.SessionID,
		Project:           row.Project,
		analyzerSessionID: row.AnalyzerSessionID,
		userPrompt:        row.UserPrompt,
		lastPromptNumber:  row.LastPromptNumber,
		startedAt:         time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *ActiveSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ActiveSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// AnalyzerSessionID returns the analyzer-side conversation id, which is
// empty until the analyzer announces itself.
func (s *ActiveSession) AnalyzerSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzerSessionID
}

func (s *ActiveSession) setAnalyzerSessionID(id string) {
	s.mu.Lock()
	s.analyzerSessionID = id
	s.mu.Unlock()
}

// UserPrompt returns the latest prompt text.
func (s *ActiveSession) UserPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userPrompt
}

// LastPromptNumber returns the current prompt cycle counter.
func (s *ActiveSession) LastPromptNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPromptNumber
}

// AdvancePrompt starts a new prompt cycle and returns its number.
func (s *ActiveSession) AdvancePrompt(userPrompt string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPromptNumber++
	if userPrompt != "" {
		s.userPrompt = userPrompt
	}
	return s.lastPromptNumber
}

// ObservePromptNumber folds a queued message's stamped prompt number
// into the counter. Monotonic: earlier numbers never wind it back.
func (s *ActiveSession) ObservePromptNumber(n int) {
	s.mu.Lock()
	if n > s.lastPromptNumber {
		s.lastPromptNumber = n
	}
	s.mu.Unlock()
}

// AddUsage folds one reply's token usage into the session counters and
// returns the discovery delta: how much the cumulative total grew.
//
// Cache creation counts toward input; cache reads are excluded
// entirely, so the delta reflects tokens actually spent rather than
// context replayed from cache.
func (s *ActiveSession) AddUsage(u analyzer.Usage) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.cumInput + s.cumOutput
	s.cumInput += u.InputTokens + u.CacheCreationInputTokens
	s.cumOutput += u.OutputTokens
	return (s.cumInput + s.cumOutput) - before
}

// CumulativeTokens returns the session's input and output totals.
func (s *ActiveSession) CumulativeTokens() (input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumInput, s.cumOutput
}

// AddQueued adjusts the count of enqueued-but-unsent messages.
func (s *ActiveSession) AddQueued(delta int) {
	s.mu.Lock()
	s.queued += delta
	if s.queued < 0 {
		s.queued = 0
	}
	s.mu.Unlock()
}

func (s *ActiveSession) setQueued(n int) {
	s.mu.Lock()
	s.queued = n
	s.mu.Unlock()
}

// MarkInFlight moves one message from the queued count into the
// in-flight set awaiting its reply.
func (s *ActiveSession) MarkInFlight(id int64) {
	s.mu.Lock()
	if s.queued > 0 {
		s.queued--
	}
	s.inFlight = append(s.inFlight, id)
	s.mu.Unlock()
}

// TakeInFlight empties and returns the in-flight set.
func (s *ActiveSession) TakeInFlight() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inFlight
	s.inFlight = nil
	return out
}

// ActiveWork counts messages that are enqueued or awaiting a reply.
func (s *ActiveSession) ActiveWork() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued + len(s.inFlight)
}

func (s *ActiveSession) bindCancel(fn context.CancelFunc) {
	s.mu.Lock()
	s.cancel = fn
	s.mu.Unlock()
}

// Cancel aborts the session's pipeline, if one is running.
func (s *ActiveSession) Cancel() {
	s.mu.Lock()
	fn := s.cancel
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Snapshot is the JSON view of an active session served to clients.
type Snapshot struct {
	SessionID              string `json:"sessionId"`
	AnalyzerSessionID      string `json:"analyzerSessionId,omitempty"`
	Project                string `json:"project"`
	State                  string `json:"state"`
	LastPromptNumber       int    `json:"lastPromptNumber"`
	QueuedMessages         int    `json:"queuedMessages"`
	InFlightMessages       int    `json:"inFlightMessages"`
	CumulativeInputTokens  int64  `json:"cumulativeInputTokens"`
	CumulativeOutputTokens int64  `json:"cumulativeOutputTokens"`
	StartedAtEpoch         int64  `json:"startedAtEpoch"`
}

// Snapshot captures the session's current counters.
func (s *ActiveSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:              s.SessionID,
		AnalyzerSessionID:      s.analyzerSessionID,
		Project:                s.Project,
		State:                  s.state.String(),
		LastPromptNumber:       s.lastPromptNumber,
		QueuedMessages:         s.queued,
		InFlightMessages:       len(s.inFlight),
		CumulativeInputTokens:  s.cumInput,
		CumulativeOutputTokens: s.cumOutput,
		StartedAtEpoch:         s.startedAt.UnixMilli(),
	}
}
