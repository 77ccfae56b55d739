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
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultCacheCap = 256

// resultCache is a TTL cache for aggregation results, keyed by the
// query name and its filters ("summary|p=<project>|s=<since>").
//
// Thread Safety: safe for concurrent use.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxLen  int

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	value    any
	cachedAt time.Time
	ttl      time.Duration
}

func newResultCache(maxLen int) *resultCache {
	if maxLen <= 0 {
		maxLen = defaultCacheCap
	}
	return &resultCache{
		entries: make(map[string]*cacheEntry),
		maxLen:  maxLen,
	}
}

// get returns the cached value for key, honoring the entry's TTL.
func (c *resultCache) get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if time.Since(entry.cachedAt) > entry.ttl {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.value, true
}

func (c *resultCache) put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxLen {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{value: value, cachedAt: time.Now(), ttl: ttl}
}

// evictOldest removes the oldest entry. Caller holds the write lock.
// O(n) scan; fine at this capacity.
func (c *resultCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// invalidateProject drops every key whose project filter matches the
// given project or is unfiltered. With an empty project it instead
// drops the summary family, which aggregates across all projects.
func (c *resultCache) invalidateProject(project string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if project == "" {
		for key := range c.entries {
			if strings.HasPrefix(key, "summary") {
				delete(c.entries, key)
			}
		}
		return
	}

	matched := "|p=" + project + "|"
	unfiltered := "|p=|"
	for key := range c.entries {
		if strings.Contains(key, matched) || strings.Contains(key, unfiltered) {
			delete(c.entries, key)
		}
	}
}

func (c *resultCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
