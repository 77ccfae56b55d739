// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/engramlabs/engram/services/worker/store"
)

func TestReadTokensTitleOnly(t *testing.T) {
	o := &store.Observation{
		Title:         "ok",
		Facts:         "[]",
		Concepts:      "[]",
		FilesRead:     "[]",
		FilesModified: "[]",
	}
	// 2 chars, ceil(2/4) = 1.
	assert.EqualValues(t, 1, ReadTokens(o))
}

func TestReadTokensCountsAllFields(t *testing.T) {
	// 4 + 3 + 5 title/subtitle/narrative chars, plus list elements
	// without brackets or quotes: 4 + 1 + 7 + 0. Total 24, ceil(24/4) = 6.
	o := &store.Observation{
		Title:         "abcd",
		Subtitle:      "efg",
		Narrative:     "hijkl",
		Facts:         `["ab","cd"]`,
		Concepts:      `["x"]`,
		FilesRead:     `["main.go"]`,
		FilesModified: "[]",
	}
	assert.EqualValues(t, 6, ReadTokens(o))
}

func TestReadTokensExcludesShortText(t *testing.T) {
	a := &store.Observation{Title: "same"}
	b := &store.Observation{Title: "same", Text: "lots of short text that must not count"}
	assert.Equal(t, ReadTokens(a), ReadTokens(b))
}

func TestReadTokensMalformedListFallsBack(t *testing.T) {
	o := &store.Observation{Facts: "not json"} // 8 raw chars
	assert.EqualValues(t, 2, ReadTokens(o))
}

func TestReadTokensEmpty(t *testing.T) {
	assert.Zero(t, ReadTokens(&store.Observation{}))
}

func TestReadTokensCeiling(t *testing.T) {
	tests := []struct {
		title string
		want  int64
	}{
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefgh", 2},
		{"abcdefghi", 3},
	}
	for _, tt := range tests {
		got := ReadTokens(&store.Observation{Title: tt.title})
		assert.Equal(t, tt.want, got, "title %q", tt.title)
	}
}
