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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/engramlabs/engram/services/worker/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// listOptions reads the shared project/afterId/limit paging query. The
// limit is bumped by one internally so hasMore needs no second query.
func listOptions(c *gin.Context) store.ListOptions {
	limit := intQuery(c, "limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	var afterID int64
	if raw := c.Query("afterId"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			afterID = n
		}
	}
	return store.ListOptions{
		Project: c.Query("project"),
		AfterID: afterID,
		Limit:   limit + 1,
	}
}

// ListObservations serves a newest-first observation page.
func (h *Handlers) ListObservations(c *gin.Context) {
	opts := listOptions(c)
	rows, err := h.Store.ListObservations(c.Request.Context(), opts)
	if err != nil {
		slog.Error("list observations", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list observations")
		return
	}
	hasMore := len(rows) == opts.Limit
	if hasMore {
		rows = rows[:opts.Limit-1]
	}
	if rows == nil {
		rows = []store.Observation{}
	}
	c.JSON(http.StatusOK, gin.H{"items": rows, "hasMore": hasMore})
}

// ListSummaries serves a newest-first summary page.
func (h *Handlers) ListSummaries(c *gin.Context) {
	opts := listOptions(c)
	rows, err := h.Store.ListSummaries(c.Request.Context(), opts)
	if err != nil {
		slog.Error("list summaries", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list summaries")
		return
	}
	hasMore := len(rows) == opts.Limit
	if hasMore {
		rows = rows[:opts.Limit-1]
	}
	if rows == nil {
		rows = []store.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"items": rows, "hasMore": hasMore})
}

// ListPrompts serves a newest-first user prompt page.
func (h *Handlers) ListPrompts(c *gin.Context) {
	opts := listOptions(c)
	rows, err := h.Store.ListPrompts(c.Request.Context(), opts)
	if err != nil {
		slog.Error("list prompts", "error", err)
		fail(c, http.StatusInternalServerError, "failed to list prompts")
		return
	}
	hasMore := len(rows) == opts.Limit
	if hasMore {
		rows = rows[:opts.Limit-1]
	}
	if rows == nil {
		rows = []store.UserPrompt{}
	}
	c.JSON(http.StatusOK, gin.H{"items": rows, "hasMore": hasMore})
}
