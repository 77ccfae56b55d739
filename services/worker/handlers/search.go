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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/engramlabs/engram/services/worker/vector"
)

// Search serves /api/search over the vector index.
func (h *Handlers) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		fail(c, http.StatusBadRequest, "q is required")
		return
	}

	results, err := h.Index.Search(c.Request.Context(), query,
		c.Query("project"), intQuery(c, "limit", 0))
	if err != nil {
		if errors.Is(err, vector.ErrDisabled) {
			fail(c, http.StatusServiceUnavailable, "vector index is not configured")
			return
		}
		slog.Error("search", "error", err)
		fail(c, http.StatusInternalServerError, "search failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
