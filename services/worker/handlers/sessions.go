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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListSessions serves the active-session snapshots for admin tooling.
func (h *Handlers) ListSessions(c *gin.Context) {
	snaps := h.Manager.Snapshots()
	c.JSON(http.StatusOK, gin.H{"sessions": snaps, "count": len(snaps)})
}

// CancelSession aborts one session's pipeline. Already-persisted
// records stay; undelivered queue messages wait for a resurrection.
func (h *Handlers) CancelSession(c *gin.Context) {
	id := c.Param("sessionId")
	if !h.Manager.Delete(id) {
		fail(c, http.StatusNotFound, "no active session "+id)
		return
	}
	slog.Info("session cancel requested over HTTP", "session", id)
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling", "sessionId": id})
}
