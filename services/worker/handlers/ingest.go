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
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/engramlabs/engram/services/worker/observability"
	"github.com/engramlabs/engram/services/worker/store"
)

// inboundEvent is the shape the tool harness posts. Unknown fields are
// ignored by the decoder; the tool blobs stay raw JSON text end to end.
type inboundEvent struct {
	SessionID            string          `json:"sessionId"`
	Project              string          `json:"project"`
	UserPrompt           string          `json:"userPrompt"`
	Kind                 string          `json:"kind"`
	ToolName             string          `json:"toolName"`
	ToolInput            json.RawMessage `json:"toolInput"`
	ToolResponse         json.RawMessage `json:"toolResponse"`
	Cwd                  string          `json:"cwd"`
	LastUserMessage      string          `json:"lastUserMessage"`
	LastAssistantMessage string          `json:"lastAssistantMessage"`
}

// PostEvent ingests one tool-activity event: it ensures the session is
// live, appends the event to the session's durable queue, and answers
// as soon as the row is safe. Analysis happens asynchronously.
func (h *Handlers) PostEvent(c *gin.Context) {
	var ev inboundEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if ev.SessionID == "" {
		fail(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	if ev.Project == "" {
		fail(c, http.StatusBadRequest, "project is required")
		return
	}
	if ev.Kind != store.KindObservation && ev.Kind != store.KindSummarize {
		fail(c, http.StatusBadRequest, "kind must be \"observation\" or \"summarize\"")
		return
	}

	ctx := c.Request.Context()

	if _, err := h.Manager.InitializeSession(ctx, ev.SessionID, ev.Project, ev.UserPrompt); err != nil {
		slog.Error("initialize session", "session", ev.SessionID, "error", err)
		fail(c, http.StatusInternalServerError, "failed to initialize session")
		return
	}

	msg := &store.PendingMessage{
		Kind:                 ev.Kind,
		ToolName:             ev.ToolName,
		ToolInput:            string(ev.ToolInput),
		ToolResponse:         string(ev.ToolResponse),
		Cwd:                  ev.Cwd,
		LastUserMessage:      ev.LastUserMessage,
		LastAssistantMessage: ev.LastAssistantMessage,
	}

	id, err := h.Manager.Enqueue(ctx, ev.SessionID, msg)
	if err != nil {
		slog.Error("enqueue event", "session", ev.SessionID, "error", err)
		fail(c, http.StatusInternalServerError, "failed to enqueue event")
		return
	}

	observability.RecordEventIngested(ev.Kind)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "messageId": id})
}
