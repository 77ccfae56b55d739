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
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// DefaultSearchLimit caps search results when the caller gives no limit.
const DefaultSearchLimit = 10

// SearchResult is one observation hit.
type SearchResult struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	Project        string  `json:"project"`
	Type           string  `json:"type"`
	PromptNumber   int     `json:"promptNumber"`
	CreatedAtEpoch int64   `json:"createdAtEpoch"`
	Score          float64 `json:"score"`
}

// Search queries the observation class for the given text, optionally
// scoped to one project, ranked best first.
//
// # Description
//
// When the classes were created with a vectorizer module the query runs
// nearText semantic search; otherwise it runs BM25 keyword ranking,
// which needs no modules at all.
func (ix *Index) Search(ctx context.Context, query, project string, limit int) ([]SearchResult, error) {
	if !ix.Enabled() {
		return nil, ErrDisabled
	}
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = DefaultSearchLimit
	}

	fields := []graphql.Field{
		{Name: "recordId"},
		{Name: "title"},
		{Name: "subtitle"},
		{Name: "project"},
		{Name: "kind"},
		{Name: "promptNumber"},
		{Name: "createdAtEpoch"},
		{Name: "_additional { score distance }"},
	}

	builder := ix.client.GraphQL().Get().
		WithClassName(ObservationClassName).
		WithFields(fields...).
		WithLimit(limit)

	if ix.vectorizer != "" {
		builder = builder.WithNearText(
			ix.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query}))
	} else {
		builder = builder.WithBM25(
			ix.client.GraphQL().Bm25ArgBuilder().WithQuery(query))
	}

	if project != "" {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"project"}).
			WithOperator(filters.Equal).
			WithValueString(project))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search observations: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search observations: %s", result.Errors[0].Message)
	}

	data := make(map[string]any, len(result.Data))
	for k, v := range result.Data {
		data[k] = v
	}
	return parseSearchResults(data), nil
}

// parseSearchResults walks the loosely-typed GraphQL answer. Objects
// with missing or malformed fields contribute zero values rather than
// failing the whole page.
func parseSearchResults(data map[string]any) []SearchResult {
	out := []SearchResult{}

	get, ok := data["Get"].(map[string]any)
	if !ok {
		return out
	}
	objs, ok := get[ObservationClassName].([]any)
	if !ok {
		return out
	}

	for _, raw := range objs {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r := SearchResult{
			Title:          getString(obj, "title"),
			Subtitle:       getString(obj, "subtitle"),
			Project:        getString(obj, "project"),
			Type:           getString(obj, "kind"),
			PromptNumber:   int(getFloat64(obj, "promptNumber")),
			CreatedAtEpoch: int64(getFloat64(obj, "createdAtEpoch")),
		}
		if id, err := strconv.ParseInt(getString(obj, "recordId"), 10, 64); err == nil {
			r.ID = id
		}
		if add, ok := obj["_additional"].(map[string]any); ok {
			// BM25 reports score as a string; nearText reports a
			// numeric distance instead.
			switch v := add["score"].(type) {
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					r.Score = f
				}
			case float64:
				r.Score = v
			}
			if r.Score == 0 {
				if d, ok := add["distance"].(float64); ok && d > 0 {
					r.Score = 1 - d
				}
			}
		}
		out = append(out, r)
	}
	return out
}

func getString(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(obj map[string]any, key string) float64 {
	if v, ok := obj[key].(float64); ok {
		return v
	}
	return 0
}
