// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the worker's HTTP surface: event
// ingestion, record and metrics reads, session administration, search,
// and the websocket live stream.
//
// Aggregation endpoints degrade rather than fail: when a query errors
// they answer the well-formed zero record, matching what the viewer
// renders for an empty store.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/engramlabs/engram/pkg/pubsub"
	"github.com/engramlabs/engram/services/worker/events"
	"github.com/engramlabs/engram/services/worker/metrics"
	"github.com/engramlabs/engram/services/worker/perf"
	"github.com/engramlabs/engram/services/worker/session"
	"github.com/engramlabs/engram/services/worker/store"
	"github.com/engramlabs/engram/services/worker/vector"
)

// Handlers bundles every collaborator the HTTP surface needs.
type Handlers struct {
	Store     *store.Store
	Manager   *session.Manager
	Engine    *metrics.Engine
	Tracker   *perf.Tracker
	Broker    *pubsub.Broker[any]
	Publisher *events.Publisher
	Index     *vector.Index
}

// fail writes the uniform error envelope with a matching HTTP status.
func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg, "status": status})
}

// Health answers the liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "engram-worker"})
}

// intQuery parses an integer query parameter, falling back to def on
// absence or garbage.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
