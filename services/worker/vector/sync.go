// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/engramlabs/engram/services/worker/observability"
	"github.com/engramlabs/engram/services/worker/store"
)

// SyncObservation mirrors one observation row into the index. The write
// happens in a background goroutine; failures are logged and counted,
// never returned. Writes go through the batch API, which overwrites an
// object that already carries the same id.
func (ix *Index) SyncObservation(o *store.Observation) {
	if !ix.Enabled() {
		return
	}
	obj := &models.Object{
		Class: ObservationClassName,
		ID:    strfmt.UUID(observationID(o.ID)),
		Properties: map[string]any{
			"recordId":        fmt.Sprintf("%d", o.ID),
			"sessionId":       o.SessionID,
			"project":         o.Project,
			"kind":            o.Type,
			"title":           o.Title,
			"subtitle":        o.Subtitle,
			"narrative":       o.Narrative,
			"facts":           o.Facts,
			"concepts":        o.Concepts,
			"filesRead":       o.FilesRead,
			"filesModified":   o.FilesModified,
			"promptNumber":    o.PromptNumber,
			"createdAtEpoch":  o.CreatedAtEpoch,
			"discoveryTokens": o.DiscoveryTokens,
		},
	}
	ix.write(ObservationClassName, obj)
}

// SyncSummary mirrors one summary row into the index, with the same
// fire-and-forget contract as SyncObservation.
func (ix *Index) SyncSummary(s *store.Summary) {
	if !ix.Enabled() {
		return
	}
	obj := &models.Object{
		Class: SummaryClassName,
		ID:    strfmt.UUID(summaryID(s.ID)),
		Properties: map[string]any{
			"recordId":       fmt.Sprintf("%d", s.ID),
			"sessionId":      s.SessionID,
			"project":        s.Project,
			"request":        s.Request,
			"investigated":   s.Investigated,
			"learned":        s.Learned,
			"completed":      s.Completed,
			"nextSteps":      s.NextSteps,
			"notes":          s.Notes,
			"promptNumber":   s.PromptNumber,
			"createdAtEpoch": s.CreatedAtEpoch,
		},
	}
	ix.write(SummaryClassName, obj)
}

// write performs one batched upsert off the caller's critical path.
func (ix *Index) write(class string, obj *models.Object) {
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()

		resp, err := ix.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
		if err != nil {
			observability.RecordVectorSyncFailure(class)
			slog.Warn("vector sync failed", "class", class, "id", obj.ID, "error", err)
			return
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				observability.RecordVectorSyncFailure(class)
				slog.Warn("vector sync rejected",
					"class", class, "id", obj.ID, "error", r.Result.Errors.Error[0].Message)
				return
			}
		}
	}()
}
