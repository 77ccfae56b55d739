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
	"errors"
	"testing"

	"github.com/engramlabs/engram/services/worker/store"
)

func TestObjectIDsAreDeterministic(t *testing.T) {
	if observationID(42) != observationID(42) {
		t.Fatal("same row must map to the same object id")
	}
	if observationID(42) == observationID(43) {
		t.Fatal("different rows must map to different object ids")
	}
	if observationID(7) == summaryID(7) {
		t.Fatal("observation and summary ids must not collide on row id")
	}
}

func TestDisabledIndexIsInert(t *testing.T) {
	ix := Disabled()

	if ix.Enabled() {
		t.Fatal("disabled index reports enabled")
	}

	// Sync methods must be safe no-ops without a client.
	ix.SyncObservation(&store.Observation{ID: 1, SessionID: "s", Project: "p"})
	ix.SyncSummary(&store.Summary{ID: 1, SessionID: "s", Project: "p"})

	if _, err := ix.Search(context.Background(), "query", "", 10); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Search on disabled index: got %v, want ErrDisabled", err)
	}
	if err := ix.Close(context.Background()); err != nil {
		t.Fatalf("Close on disabled index: %v", err)
	}
}

func TestConnectWithoutHostDisables(t *testing.T) {
	ix, err := Connect(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Connect with empty host: %v", err)
	}
	if ix.Enabled() {
		t.Fatal("empty host must yield a disabled index")
	}
}

func TestParseSearchResults(t *testing.T) {
	data := map[string]any{
		"Get": map[string]any{
			ObservationClassName: []any{
				map[string]any{
					"recordId":       "12",
					"title":          "cache layer uses TTL eviction",
					"subtitle":       "metrics",
					"project":        "engram",
					"kind":           "discovery",
					"promptNumber":   float64(3),
					"createdAtEpoch": float64(1700000000000),
					"_additional":    map[string]any{"score": "2.5"},
				},
				// Malformed entry: skipped fields become zero values.
				map[string]any{"title": "bare"},
				"not an object",
			},
		},
	}

	results := parseSearchResults(data)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	first := results[0]
	if first.ID != 12 || first.Title != "cache layer uses TTL eviction" ||
		first.Type != "discovery" || first.PromptNumber != 3 || first.Score != 2.5 {
		t.Fatalf("first result parsed wrong: %+v", first)
	}
	if results[1].ID != 0 || results[1].Title != "bare" {
		t.Fatalf("partial result parsed wrong: %+v", results[1])
	}
}

func TestParseSearchResultsEmpty(t *testing.T) {
	if got := parseSearchResults(map[string]any{}); len(got) != 0 {
		t.Fatalf("empty data must parse to no results, got %d", len(got))
	}
	if got := parseSearchResults(nil); got == nil || len(got) != 0 {
		t.Fatalf("nil data must parse to an empty slice")
	}
}
