// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/engramlabs/engram/services/worker/analyzer"
	"github.com/engramlabs/engram/services/worker/store"
)

// RunnerFactory builds the analyzer runner for a session. The daemon
// installs a factory that spawns the real subprocess; tests install
// scripted fakes.
type RunnerFactory func(s *ActiveSession) analyzer.Runner

// ManagerConfig tunes every pipeline the manager spawns.
type ManagerConfig struct {
	KeepProcessed int
	ReadyTimeout  time.Duration
	DrainGrace    time.Duration
}

// Manager owns the set of active sessions.
//
// # Description
//
// The manager upholds the core structural invariant of the worker: at
// most one pipeline per assistant session id. InitializeSession is
// idempotent; repeated calls for a live session return the existing
// entry, advancing the prompt cycle when the event carried a fresh user
// prompt. When a pipeline ends for any reason its entry is removed, so
// the next event for that session resurrects it from the store with its
// prompt counter intact.
type Manager struct {
	cfg     ManagerConfig
	st      *store.Store
	factory RunnerFactory
	events  ObservationEvents
	sink    MetricsSink
	vector  Vector

	mu       sync.Mutex
	sessions map[string]*ActiveSession
	wg       sync.WaitGroup
	stopped  bool
}

// NewManager creates a Manager. All arguments are required.
func NewManager(cfg ManagerConfig, st *store.Store, factory RunnerFactory, events ObservationEvents, sink MetricsSink, vector Vector) *Manager {
	return &Manager{
		cfg:      cfg,
		st:       st,
		factory:  factory,
		events:   events,
		sink:     sink,
		vector:   vector,
		sessions: make(map[string]*ActiveSession),
	}
}

// InitializeSession returns the active session for an assistant-side
// id, creating or resurrecting it as needed and spawning its pipeline.
//
// A non-empty userPrompt on an already-known session starts a new
// prompt cycle: the counter advances, the session row is touched, and a
// prompt record is persisted and broadcast.
func (m *Manager) InitializeSession(ctx context.Context, sessionID, project, userPrompt string) (*ActiveSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, errors.New("session manager is shut down")
	}

	if s, ok := m.sessions[sessionID]; ok {
		if userPrompt != "" {
			n := s.AdvancePrompt(userPrompt)
			if err := m.st.TouchSessionPrompt(ctx, s.ID, n, userPrompt); err != nil {
				return nil, err
			}
			m.recordPrompt(ctx, s, n, userPrompt)
		}
		return s, nil
	}

	row, err := m.st.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	isNew := row == nil
	if isNew {
		row, err = m.st.CreateSession(ctx, sessionID, project, userPrompt)
		if err != nil {
			return nil, err
		}
	}

	s := newActiveSession(row)

	switch {
	case isNew:
		if userPrompt != "" {
			m.recordPrompt(ctx, s, 1, userPrompt)
		}
	case userPrompt != "":
		// Resurrection with a fresh prompt: new cycle.
		n := s.AdvancePrompt(userPrompt)
		if err := m.st.TouchSessionPrompt(ctx, s.ID, n, userPrompt); err != nil {
			return nil, err
		}
		m.recordPrompt(ctx, s, n, userPrompt)
	}

	// Pre-crash leftovers count as queued work from the start.
	if n, err := m.st.CountPending(ctx, s.ID); err == nil {
		s.setQueued(int(n))
	} else {
		slog.Warn("count pending on session init", "session", sessionID, "error", err)
	}

	m.sessions[sessionID] = s
	m.spawn(s)

	slog.Info("session initialized",
		"session", sessionID,
		"project", project,
		"prompt_number", s.LastPromptNumber(),
		"resurrected", !isNew)

	return s, nil
}

func (m *Manager) recordPrompt(ctx context.Context, s *ActiveSession, number int, text string) {
	p := &store.UserPrompt{
		SessionID:    s.SessionID,
		Project:      s.Project,
		PromptNumber: number,
		Text:         text,
	}
	if err := m.st.InsertPrompt(ctx, p); err != nil {
		slog.Warn("persist user prompt", "session", s.SessionID, "error", err)
		return
	}
	m.events.PromptCreated(p)
}

// spawn starts the session's pipeline goroutine. Caller holds m.mu.
func (m *Manager) spawn(s *ActiveSession) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.bindCancel(cancel)

	orc := NewOrchestrator(s, m.factory(s), Deps{
		Queue:   m.st,
		Records: m.st,
		Events:  m.events,
		Sink:    m.sink,
		Vector:  m.vector,
	}, Config{
		KeepProcessed: m.cfg.KeepProcessed,
		ReadyTimeout:  m.cfg.ReadyTimeout,
		DrainGrace:    m.cfg.DrainGrace,
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		err := orc.Run(runCtx)
		switch {
		case err == nil:
			slog.Info("session completed", "session", s.SessionID)
		case errors.Is(err, context.Canceled):
			slog.Info("session aborted", "session", s.SessionID)
		default:
			slog.Error("session pipeline failed", "session", s.SessionID, "error", err)
		}

		m.remove(s.SessionID)
	}()
}

// remove drops the session entry and rebroadcasts activity, since the
// session's queued and in-flight work just left the totals.
func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.events.ProcessingStatusChanged()
}

// Enqueue appends one message to a session's durable queue. The session
// must have been initialized first. Returns the assigned message id.
func (m *Manager) Enqueue(ctx context.Context, sessionID string, msg *store.PendingMessage) (int64, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no active session %q", sessionID)
	}

	msg.SessionID = s.ID
	msg.PromptNumber = s.LastPromptNumber()
	if err := m.st.Enqueue(ctx, msg); err != nil {
		return 0, err
	}
	s.AddQueued(1)

	depth, active := m.workTotals()
	m.sink.RecordQueueDepth(depth, active)
	m.events.ProcessingStatusChanged()

	return msg.ID, nil
}

// Delete aborts a session's pipeline. Reports whether one was live.
// Removal from the table happens when the pipeline goroutine winds up.
func (m *Manager) Delete(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.setState(StateDraining)
	s.Cancel()
	slog.Info("session cancellation requested", "session", sessionID)
	return true
}

// Get returns the active session for an id, if any.
func (m *Manager) Get(sessionID string) (*ActiveSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// ActiveCount returns how many sessions have live pipelines.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// TotalActiveWork sums queued and in-flight messages over all sessions.
func (m *Manager) TotalActiveWork() int {
	depth, _ := m.workTotals()
	return depth
}

// IsProcessing reports whether any session has outstanding work.
func (m *Manager) IsProcessing() bool {
	return m.TotalActiveWork() > 0
}

func (m *Manager) workTotals() (depth, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		depth += s.ActiveWork()
	}
	return depth, len(m.sessions)
}

// Snapshots returns the JSON views of all active sessions, ordered by
// session id for stable output.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Shutdown aborts every pipeline and waits for them to drain, up to
// ctx's deadline. New sessions are rejected once shutdown has begun.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	for _, s := range m.sessions {
		s.setState(StateDraining)
		s.Cancel()
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if n > 0 {
		slog.Info("draining sessions", "count", n)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still draining: %w", ctx.Err())
	}
}
