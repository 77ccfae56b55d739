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

	"github.com/engramlabs/engram/services/worker/metrics"
)

// Aggregation endpoints answer the zero-valued record instead of an
// error when the query fails: the viewer treats both the same way, and
// a broken dashboard panel must never look like a broken worker.

// TokenSummary serves /api/tokens/summary.
func (h *Handlers) TokenSummary(c *gin.Context) {
	s, err := h.Engine.Summary(c.Request.Context(), c.Query("project"), c.Query("since"))
	if err != nil {
		slog.Warn("token summary aggregation", "error", err)
		s = metrics.TokenSummary{}
	}
	c.JSON(http.StatusOK, s)
}

// TokensByProject serves /api/tokens/by-project.
func (h *Handlers) TokensByProject(c *gin.Context) {
	out, err := h.Engine.ByProject(c.Request.Context(), intQuery(c, "limit", 0), c.Query("since"))
	if err != nil {
		slog.Warn("by-project aggregation", "error", err)
		out = metrics.ByProject{Projects: []metrics.ProjectTokens{}}
	}
	if out.Projects == nil {
		out.Projects = []metrics.ProjectTokens{}
	}
	c.JSON(http.StatusOK, out)
}

// TokensByType serves /api/tokens/by-type.
func (h *Handlers) TokensByType(c *gin.Context) {
	out, err := h.Engine.ByType(c.Request.Context(), c.Query("project"), c.Query("since"))
	if err != nil {
		slog.Warn("by-type aggregation", "error", err)
		out = metrics.ByType{Types: []metrics.TypeTokens{}}
	}
	if out.Types == nil {
		out.Types = []metrics.TypeTokens{}
	}
	c.JSON(http.StatusOK, out)
}

// TokenTimeSeries serves /api/tokens/time-series.
func (h *Handlers) TokenTimeSeries(c *gin.Context) {
	out, err := h.Engine.TimeSeries(c.Request.Context(),
		c.Query("project"), c.Query("since"), c.Query("granularity"))
	if err != nil {
		slog.Warn("time-series aggregation", "error", err)
		out = metrics.TimeSeries{Series: []metrics.TimePoint{}, Granularity: "day"}
	}
	if out.Series == nil {
		out.Series = []metrics.TimePoint{}
	}
	c.JSON(http.StatusOK, out)
}

// TokenCompression serves /api/tokens/compression.
func (h *Handlers) TokenCompression(c *gin.Context) {
	out, err := h.Engine.Compression(c.Request.Context(), c.Query("project"), c.Query("since"))
	if err != nil {
		slog.Warn("compression aggregation", "error", err)
		out = metrics.Compression{ByType: []metrics.TypeCompression{}}
	}
	if out.ByType == nil {
		out.ByType = []metrics.TypeCompression{}
	}
	c.JSON(http.StatusOK, out)
}

// TokenProjection serves /api/tokens/projection.
func (h *Handlers) TokenProjection(c *gin.Context) {
	out, err := h.Engine.Projection(c.Request.Context(),
		c.Query("project"), intQuery(c, "observationCount", 0))
	if err != nil {
		slog.Warn("projection aggregation", "error", err)
		out = metrics.Projection{}
	}
	c.JSON(http.StatusOK, out)
}
