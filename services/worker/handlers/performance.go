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
	"net/http"

	"github.com/gin-gonic/gin"
)

// PerformanceQueue serves /api/performance/queue.
func (h *Handlers) PerformanceQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.Tracker.GetQueueHistory(c.Query("since")))
}

// PerformanceTimes serves /api/performance/times.
func (h *Handlers) PerformanceTimes(c *gin.Context) {
	c.JSON(http.StatusOK, h.Tracker.GetProcessingTimes(c.Query("since"), intQuery(c, "limit", 0)))
}
