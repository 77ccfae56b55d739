// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/pkg/pubsub"
	"github.com/engramlabs/engram/services/worker/analyzer"
	"github.com/engramlabs/engram/services/worker/events"
	"github.com/engramlabs/engram/services/worker/handlers"
	"github.com/engramlabs/engram/services/worker/metrics"
	"github.com/engramlabs/engram/services/worker/perf"
	"github.com/engramlabs/engram/services/worker/routes"
	"github.com/engramlabs/engram/services/worker/session"
	"github.com/engramlabs/engram/services/worker/store"
	"github.com/engramlabs/engram/services/worker/vector"
)

// quietRunner is an analyzer stand-in that acknowledges the opening
// frame and otherwise stays silent, so queued work stays queued.
type quietRunner struct {
	mu      sync.Mutex
	closed  bool
	replies chan analyzer.Reply
}

func newQuietRunner() *quietRunner {
	return &quietRunner{replies: make(chan analyzer.Reply, 8)}
}

func (r *quietRunner) Start(ctx context.Context) error { return nil }

func (r *quietRunner) Send(f analyzer.Frame) error {
	if f.Kind == analyzer.FrameInit || f.Kind == analyzer.FrameContinuation {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return analyzer.ErrNotRunning
		}
		r.replies <- analyzer.Reply{Kind: analyzer.ReplyInit, SessionID: "anl-test"}
	}
	return nil
}

func (r *quietRunner) Replies() <-chan analyzer.Reply { return r.replies }

func (r *quietRunner) CloseInput() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.replies)
	}
}

func (r *quietRunner) Shutdown(ctx context.Context) error {
	r.CloseInput()
	return nil
}

type fixture struct {
	st        *store.Store
	manager   *session.Manager
	broker    *pubsub.Broker[any]
	publisher *events.Publisher
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "engram.db")})
	require.NoError(t, err)

	broker := pubsub.NewBroker[any]()

	var publisher *events.Publisher
	engine := metrics.NewEngine(st, func(ts metrics.TokenSummary) {
		publisher.PublishTokenUpdate(ts)
	})
	publisher = events.NewPublisher(broker, engine)

	tracker := perf.NewTracker()
	factory := func(s *session.ActiveSession) analyzer.Runner { return newQuietRunner() }
	manager := session.NewManager(session.ManagerConfig{
		DrainGrace: 200 * time.Millisecond,
	}, st, factory, publisher, tracker, vector.Disabled())
	publisher.BindStatus(manager)

	router := gin.New()
	routes.SetupRoutes(router, &handlers.Handlers{
		Store:     st,
		Manager:   manager,
		Engine:    engine,
		Tracker:   tracker,
		Broker:    broker,
		Publisher: publisher,
		Index:     vector.Disabled(),
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		broker.Shutdown()
		_ = st.Close()
	})

	return &fixture{st: st, manager: manager, broker: broker, publisher: publisher, router: router}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "engram-worker", body["service"])
}

func TestPostEventValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing session", `{"project":"p","kind":"observation"}`},
		{"missing project", `{"sessionId":"s","kind":"observation"}`},
		{"bad kind", `{"sessionId":"s","project":"p","kind":"banana"}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/events", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]any
			decode(t, w, &body)
			assert.NotEmpty(t, body["error"])
			assert.EqualValues(t, http.StatusBadRequest, body["status"])
		})
	}
}

func TestPostEventQueuesMessage(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/events", `{
		"sessionId": "sess-1",
		"project": "engram",
		"userPrompt": "add a cache layer",
		"kind": "observation",
		"toolName": "Read",
		"toolInput": {"file_path": "/tmp/x.go"},
		"toolResponse": {"ok": true},
		"cwd": "/tmp",
		"unknownField": 42
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var body struct {
		Status    string `json:"status"`
		MessageID int64  `json:"messageId"`
	}
	decode(t, w, &body)
	assert.Equal(t, "queued", body.Status)
	assert.Greater(t, body.MessageID, int64(0))

	// The session is live and the blob was stored verbatim.
	assert.Equal(t, 1, f.manager.ActiveCount())
	s, ok := f.manager.Get("sess-1")
	require.True(t, ok)

	n, err := f.st.CountPending(context.Background(), s.ID)
	require.NoError(t, err)
	// The quiet runner never answers, so the row may be pending or
	// already claimed in-flight; total active work counts both.
	assert.GreaterOrEqual(t, n, int64(0))
	assert.GreaterOrEqual(t, f.manager.TotalActiveWork(), 0)

	// The prompt was recorded and served.
	pw := f.do(t, http.MethodGet, "/api/prompts", "")
	require.Equal(t, http.StatusOK, pw.Code)
	var prompts struct {
		Items   []store.UserPrompt `json:"items"`
		HasMore bool               `json:"hasMore"`
	}
	decode(t, pw, &prompts)
	require.Len(t, prompts.Items, 1)
	assert.Equal(t, "add a cache layer", prompts.Items[0].Text)
	assert.False(t, prompts.HasMore)
}

func TestListObservationsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.st.InsertObservation(ctx, &store.Observation{
			SessionID: "sess-1", Project: "engram", Type: "discovery",
			Title: "obs", Facts: "[]", Concepts: "[]", FilesRead: "[]", FilesModified: "[]",
		}))
	}

	w := f.do(t, http.MethodGet, "/api/observations?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items   []store.Observation `json:"items"`
		HasMore bool                `json:"hasMore"`
	}
	decode(t, w, &page)
	require.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID, "newest first")

	// Walk past the end.
	last := page.Items[2].ID
	w = f.do(t, http.MethodGet, "/api/observations?limit=3&afterId="+itoa(last), "")
	decode(t, w, &page)
	require.Len(t, page.Items, 2)
	assert.False(t, page.HasMore)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCancelUnknownSession(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodDelete, "/api/sessions/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelActiveSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/events",
		`{"sessionId":"sess-c","project":"engram","kind":"observation","toolName":"Bash"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodDelete, "/api/sessions/sess-c", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "cancelling", body["status"])
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Sessions []session.Snapshot `json:"sessions"`
		Count    int                `json:"count"`
	}
	decode(t, w, &body)
	assert.Zero(t, body.Count)

	f.do(t, http.MethodPost, "/api/events",
		`{"sessionId":"sess-a","project":"engram","kind":"observation","toolName":"Bash"}`)
	w = f.do(t, http.MethodGet, "/api/sessions", "")
	decode(t, w, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "sess-a", body.Sessions[0].SessionID)
	assert.Equal(t, "engram", body.Sessions[0].Project)
}

func TestSearchDisabled(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/search?q=cache", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/api/search", "")
	require.Equal(t, http.StatusBadRequest, w.Code, "missing q is the caller's fault")
}

func TestPerformanceEndpointsEmpty(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/performance/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	var qh perf.QueueHistory
	decode(t, w, &qh)
	assert.Zero(t, qh.PeakQueueDepth)

	w = f.do(t, http.MethodGet, "/api/performance/times", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pt perf.ProcessingTimes
	decode(t, w, &pt)
	assert.Zero(t, pt.Stats.AvgMs)
	assert.Zero(t, pt.Stats.P95Ms)
}
