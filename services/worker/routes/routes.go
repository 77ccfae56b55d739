// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes binds the worker's HTTP surface onto a gin engine.
package routes

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engramlabs/engram/services/worker/handlers"
)

// SetupRoutes registers every endpoint the worker serves.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stream", h.Stream)

	api := router.Group("/api")
	{
		api.POST("/events", h.PostEvent)

		api.GET("/observations", h.ListObservations)
		api.GET("/summaries", h.ListSummaries)
		api.GET("/prompts", h.ListPrompts)

		tokens := api.Group("/tokens")
		{
			tokens.GET("/summary", h.TokenSummary)
			tokens.GET("/by-project", h.TokensByProject)
			tokens.GET("/by-type", h.TokensByType)
			tokens.GET("/time-series", h.TokenTimeSeries)
			tokens.GET("/compression", h.TokenCompression)
			tokens.GET("/projection", h.TokenProjection)
		}

		performance := api.Group("/performance")
		{
			performance.GET("/queue", h.PerformanceQueue)
			performance.GET("/times", h.PerformanceTimes)
		}

		api.GET("/search", h.Search)

		sessions := api.Group("/sessions")
		{
			sessions.GET("", h.ListSessions)
			sessions.DELETE("/:sessionId", h.CancelSession)
		}
	}
}

// RequestLogger logs one structured line per request. The live stream
// endpoint is skipped: its "requests" run for the life of a viewer tab.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/stream" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
