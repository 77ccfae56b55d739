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
	"regexp"
	"strconv"
	"time"
)

var relativeSinceRe = regexp.MustCompile(`^(\d+)(h|d|w)$`)

// SinceEpoch resolves a since filter to an epoch-millisecond lower
// bound. Accepted forms are "<N>h", "<N>d", "<N>w" (now minus N units),
// RFC 3339 timestamps, and bare dates. Anything else, including the
// empty string, means no lower bound and returns 0.
func SinceEpoch(since string, now time.Time) int64 {
	if since == "" {
		return 0
	}
	if m := relativeSinceRe.FindStringSubmatch(since); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0
		}
		var unit time.Duration
		switch m[2] {
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		return now.Add(-time.Duration(n) * unit).UnixMilli()
	}
	if t, err := time.Parse(time.RFC3339, since); err == nil {
		return t.UnixMilli()
	}
	if t, err := time.Parse("2006-01-02", since); err == nil {
		return t.UnixMilli()
	}
	return 0
}
