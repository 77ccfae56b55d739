// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/engramlabs/engram/services/worker/events"
	"github.com/engramlabs/engram/services/worker/metrics"
	"github.com/engramlabs/engram/services/worker/store"
)

// Snapshot sizes for the initial_load frame.
const (
	initialObservations = 50
	initialSummaries    = 10
	initialPrompts      = 10
)

const writeTimeout = 10 * time.Second

// The worker binds to loopback only, so cross-origin checks would just
// break local viewers served from file:// or another local port.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// Stream upgrades to a websocket, sends the initial snapshot, then
// forwards live broker events until the client goes away.
func (h *Handlers) Stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before composing the snapshot so nothing published in
	// between is lost.
	sub := h.Broker.Subscribe(ctx)

	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err == nil {
		err = ws.WriteJSON(h.initialLoad(ctx))
	}
	if err != nil {
		slog.Warn("websocket initial load", "error", err)
		return
	}
	slog.Info("viewer connected", "remote", ws.RemoteAddr().String())

	// Read pump: the viewer sends nothing we act on, but reading is
	// what surfaces pings and the close handshake.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for e := range sub {
		if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			break
		}
		if err := ws.WriteJSON(e.Payload); err != nil {
			slog.Info("viewer disconnected", "error", err)
			break
		}
	}
}

// initialLoad composes the catch-up snapshot for a fresh subscriber.
// Partial failures degrade to empty sections.
func (h *Handlers) initialLoad(ctx context.Context) events.InitialLoadEvent {
	out := events.InitialLoadEvent{
		Type:         string(events.TypeInitialLoad),
		Observations: []store.Observation{},
		Summaries:    []store.Summary{},
		Prompts:      []store.UserPrompt{},
		Processing:   h.Publisher.Status(),
	}

	if rows, err := h.Store.ListObservations(ctx, store.ListOptions{Limit: initialObservations}); err == nil {
		out.Observations = rows
	} else {
		slog.Warn("initial load observations", "error", err)
	}
	if rows, err := h.Store.ListSummaries(ctx, store.ListOptions{Limit: initialSummaries}); err == nil {
		out.Summaries = rows
	} else {
		slog.Warn("initial load summaries", "error", err)
	}
	if rows, err := h.Store.ListPrompts(ctx, store.ListOptions{Limit: initialPrompts}); err == nil {
		out.Prompts = rows
	} else {
		slog.Warn("initial load prompts", "error", err)
	}
	if s, err := h.Engine.Summary(ctx, "", ""); err == nil {
		out.Tokens = s
	} else {
		slog.Warn("initial load token summary", "error", err)
		out.Tokens = metrics.TokenSummary{}
	}
	return out
}
