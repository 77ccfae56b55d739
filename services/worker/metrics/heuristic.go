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
	"encoding/json"

	"github.com/engramlabs/engram/services/worker/store"
)

// ReadTokens estimates what injecting an observation back into the
// assistant's context costs: ceil(chars/4), over the title, subtitle,
// narrative, and the elements of the four list fields. List elements
// are counted without separators, brackets, or quotes; a list that is
// not valid JSON falls back to its raw length.
func ReadTokens(o *store.Observation) int64 {
	n := len(o.Title) + len(o.Subtitle) + len(o.Narrative)
	n += itemsLen(o.Facts)
	n += itemsLen(o.Concepts)
	n += itemsLen(o.FilesRead)
	n += itemsLen(o.FilesModified)
	return (int64(n) + 3) / 4
}

func itemsLen(raw string) int {
	if raw == "" {
		return 0
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return len(raw)
	}
	n := 0
	for _, it := range items {
		n += len(it)
	}
	return n
}
