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
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/engramlabs/engram/services/worker/store"
)

const (
	// DefaultSummaryTTL caches most aggregations briefly; observation
	// inserts invalidate them anyway.
	DefaultSummaryTTL = 30 * time.Second

	// DefaultProjectionTTL is longer: the projection scans a fixed
	// window and tolerates staleness.
	DefaultProjectionTTL = 300 * time.Second

	// DefaultProjectLimit caps the by-project ranking.
	DefaultProjectLimit = 10

	// DefaultProjectionCount is the recent-observation window the
	// projection simulates over.
	DefaultProjectionCount = 50

	// broadcastTimeout bounds the store scan behind a live push.
	broadcastTimeout = 5 * time.Second
)

// RowSource is the slice of the observation store the engine reads.
type RowSource interface {
	StreamObservations(ctx context.Context, project string, sinceEpoch int64, fn func(*store.Observation) error) error
	RecentObservations(ctx context.Context, project string, limit int) ([]store.Observation, error)
}

// Engine computes token-economics aggregates over stored observations.
//
// # Description
//
// Every query streams matching rows once and folds them in memory,
// so the math stays identical regardless of what the underlying query
// engine can evaluate. Results are cached with a short TTL; observation
// inserts invalidate affected keys. The live push path is throttled to
// one broadcast per second.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	rows    RowSource
	cache   *resultCache
	limiter *rate.Limiter
	publish func(TokenSummary)

	summaryTTL    time.Duration
	projectionTTL time.Duration
}

// NewEngine builds an engine over the given rows. publish receives the
// throttled token_update summaries; nil disables the live push.
func NewEngine(rows RowSource, publish func(TokenSummary)) *Engine {
	return &Engine{
		rows:          rows,
		cache:         newResultCache(defaultCacheCap),
		limiter:       rate.NewLimiter(rate.Every(time.Second), 1),
		publish:       publish,
		summaryTTL:    DefaultSummaryTTL,
		projectionTTL: DefaultProjectionTTL,
	}
}

// tokenAgg folds one group of observations.
type tokenAgg struct {
	observations int64
	readTokens   int64
	discovery    int64
}

func (a *tokenAgg) add(o *store.Observation) {
	a.observations++
	a.readTokens += ReadTokens(o)
	a.discovery += o.DiscoveryTokens
}

func summarize(a tokenAgg) TokenSummary {
	s := TokenSummary{
		TotalObservations:    a.observations,
		TotalReadTokens:      a.readTokens,
		TotalDiscoveryTokens: a.discovery,
		Savings:              a.discovery - a.readTokens,
	}
	if a.discovery > 0 {
		s.SavingsPercent = int64(math.Round(float64(s.Savings) / float64(a.discovery) * 100))
	}
	if a.readTokens > 0 {
		s.EfficiencyGain = math.Round(float64(a.discovery)/float64(a.readTokens)*10) / 10
	}
	if a.observations > 0 {
		s.AvgReadTokensPerObs = int64(math.Round(float64(a.readTokens) / float64(a.observations)))
		s.AvgDiscoveryTokensPerObs = int64(math.Round(float64(a.discovery) / float64(a.observations)))
	}
	return s
}

func cacheKey(query, project, since string) string {
	return fmt.Sprintf("%s|p=%s|s=%s", query, project, since)
}

func (e *Engine) stream(ctx context.Context, project, since string, fn func(*store.Observation)) error {
	sinceEpoch := SinceEpoch(since, time.Now())
	return e.rows.StreamObservations(ctx, project, sinceEpoch, func(o *store.Observation) error {
		fn(o)
		return nil
	})
}

// Summary returns the headline totals for a project (or all projects).
func (e *Engine) Summary(ctx context.Context, project, since string) (TokenSummary, error) {
	key := cacheKey("summary", project, since)
	if v, ok := e.cache.get(key); ok {
		if s, ok := v.(TokenSummary); ok {
			return s, nil
		}
	}

	var agg tokenAgg
	if err := e.stream(ctx, project, since, agg.add); err != nil {
		return TokenSummary{}, err
	}
	s := summarize(agg)
	e.cache.put(key, s, e.summaryTTL)
	return s, nil
}

// ByProject ranks projects by discovery spend, top limit rows.
func (e *Engine) ByProject(ctx context.Context, limit int, since string) (ByProject, error) {
	if limit <= 0 {
		limit = DefaultProjectLimit
	}
	key := fmt.Sprintf("by-project|p=|s=%s|l=%d", since, limit)
	if v, ok := e.cache.get(key); ok {
		if bp, ok := v.(ByProject); ok {
			return bp, nil
		}
	}

	groups := make(map[string]*tokenAgg)
	err := e.stream(ctx, "", since, func(o *store.Observation) {
		g := groups[o.Project]
		if g == nil {
			g = &tokenAgg{}
			groups[o.Project] = g
		}
		g.add(o)
	})
	if err != nil {
		return ByProject{}, err
	}

	rows := make([]ProjectTokens, 0, len(groups))
	for name, g := range groups {
		s := summarize(*g)
		rows = append(rows, ProjectTokens{
			Project:         name,
			Observations:    g.observations,
			ReadTokens:      g.readTokens,
			DiscoveryTokens: g.discovery,
			Savings:         s.Savings,
			SavingsPercent:  s.SavingsPercent,
			EfficiencyGain:  s.EfficiencyGain,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DiscoveryTokens != rows[j].DiscoveryTokens {
			return rows[i].DiscoveryTokens > rows[j].DiscoveryTokens
		}
		return rows[i].Project < rows[j].Project
	})

	out := ByProject{Projects: rows, TotalProjects: len(rows)}
	if len(rows) > limit {
		out.Projects = rows[:limit]
	}
	e.cache.put(key, out, e.summaryTTL)
	return out, nil
}

// ByType breaks spend down by observation type, discovery descending.
func (e *Engine) ByType(ctx context.Context, project, since string) (ByType, error) {
	key := cacheKey("by-type", project, since)
	if v, ok := e.cache.get(key); ok {
		if bt, ok := v.(ByType); ok {
			return bt, nil
		}
	}

	groups := make(map[string]*tokenAgg)
	err := e.stream(ctx, project, since, func(o *store.Observation) {
		g := groups[o.Type]
		if g == nil {
			g = &tokenAgg{}
			groups[o.Type] = g
		}
		g.add(o)
	})
	if err != nil {
		return ByType{}, err
	}

	rows := make([]TypeTokens, 0, len(groups))
	for name, g := range groups {
		s := summarize(*g)
		rows = append(rows, TypeTokens{
			Type:            name,
			Observations:    g.observations,
			ReadTokens:      g.readTokens,
			DiscoveryTokens: g.discovery,
			Savings:         s.Savings,
			SavingsPercent:  s.SavingsPercent,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DiscoveryTokens != rows[j].DiscoveryTokens {
			return rows[i].DiscoveryTokens > rows[j].DiscoveryTokens
		}
		return rows[i].Type < rows[j].Type
	})

	out := ByType{Types: rows}
	e.cache.put(key, out, e.summaryTTL)
	return out, nil
}

func normalizeGranularity(g string) string {
	switch g {
	case "hour", "day", "week":
		return g
	}
	return "day"
}

func bucketKey(epochMs int64, granularity string) string {
	t := time.UnixMilli(epochMs).UTC()
	switch granularity {
	case "hour":
		return t.Format("2006-01-02 15:00")
	case "week":
		// Buckets start on Monday.
		monday := t.AddDate(0, 0, -int((t.Weekday()+6)%7))
		return monday.Format("2006-01-02")
	default:
		return t.Format("2006-01-02")
	}
}

// TimeSeries buckets spend by hour, day, or week with running
// cumulatives in chronological order.
func (e *Engine) TimeSeries(ctx context.Context, project, since, granularity string) (TimeSeries, error) {
	gran := normalizeGranularity(granularity)
	key := fmt.Sprintf("time-series|p=%s|s=%s|g=%s", project, since, gran)
	if v, ok := e.cache.get(key); ok {
		if ts, ok := v.(TimeSeries); ok {
			return ts, nil
		}
	}

	buckets := make(map[string]*tokenAgg)
	err := e.stream(ctx, project, since, func(o *store.Observation) {
		k := bucketKey(o.CreatedAtEpoch, gran)
		g := buckets[k]
		if g == nil {
			g = &tokenAgg{}
			buckets[k] = g
		}
		g.add(o)
	})
	if err != nil {
		return TimeSeries{}, err
	}

	periods := make([]string, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	out := TimeSeries{Series: make([]TimePoint, 0, len(periods)), Granularity: gran}
	var cumRead, cumDisc int64
	for _, p := range periods {
		b := buckets[p]
		cumRead += b.readTokens
		cumDisc += b.discovery
		out.Series = append(out.Series, TimePoint{
			Period:                    p,
			Observations:              b.observations,
			ReadTokens:                b.readTokens,
			DiscoveryTokens:           b.discovery,
			CumulativeReadTokens:      cumRead,
			CumulativeDiscoveryTokens: cumDisc,
		})
	}
	e.cache.put(key, out, e.summaryTTL)
	return out, nil
}

// compressionRatio is 1 − compressed/original, rounded to two places.
func compressionRatio(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	return math.Round((1-float64(compressed)/float64(original))*100) / 100
}

// Compression reports how much the stored form shrinks the estimated
// original output (taken as twice the discovery spend).
func (e *Engine) Compression(ctx context.Context, project, since string) (Compression, error) {
	key := cacheKey("compression", project, since)
	if v, ok := e.cache.get(key); ok {
		if c, ok := v.(Compression); ok {
			return c, nil
		}
	}

	var total tokenAgg
	groups := make(map[string]*tokenAgg)
	err := e.stream(ctx, project, since, func(o *store.Observation) {
		total.add(o)
		g := groups[o.Type]
		if g == nil {
			g = &tokenAgg{}
			groups[o.Type] = g
		}
		g.add(o)
	})
	if err != nil {
		return Compression{}, err
	}

	out := Compression{
		TotalOriginalTokens:   2 * total.discovery,
		TotalCompressedTokens: total.readTokens,
		Observations:          total.observations,
		ByType:                make([]TypeCompression, 0, len(groups)),
	}
	out.AvgCompressionRatio = compressionRatio(out.TotalOriginalTokens, out.TotalCompressedTokens)
	for name, g := range groups {
		out.ByType = append(out.ByType, TypeCompression{
			Type:                name,
			Observations:        g.observations,
			AvgCompressionRatio: compressionRatio(2*g.discovery, g.readTokens),
		})
	}
	sort.Slice(out.ByType, func(i, j int) bool {
		if out.ByType[i].Observations != out.ByType[j].Observations {
			return out.ByType[i].Observations > out.ByType[j].Observations
		}
		return out.ByType[i].Type < out.ByType[j].Type
	})

	e.cache.put(key, out, e.summaryTTL)
	return out, nil
}

// Projection simulates a session continuing over the project's recent
// observations, contrasting raw tool output carried forward against
// the compressed stored form.
func (e *Engine) Projection(ctx context.Context, project string, count int) (Projection, error) {
	if count <= 0 {
		count = DefaultProjectionCount
	}
	key := fmt.Sprintf("projection|p=%s|n=%d", project, count)
	if v, ok := e.cache.get(key); ok {
		if p, ok := v.(Projection); ok {
			return p, nil
		}
	}

	rows, err := e.rows.RecentObservations(ctx, project, count)
	if err != nil {
		return Projection{}, err
	}

	var p Projection
	p.ObservationsAnalyzed = len(rows)
	var ctxWithout, ctxWith int64
	for i := range rows {
		o := &rows[i]
		p.WithoutMemory.DiscoveryTokens += o.DiscoveryTokens
		ctxWithout += 2 * o.DiscoveryTokens
		p.WithoutMemory.ContextTokens += ctxWithout

		p.WithMemory.DiscoveryTokens += o.DiscoveryTokens
		ctxWith += ReadTokens(o)
		p.WithMemory.ContextTokens += ctxWith
	}
	p.WithoutMemory.TotalTokens = p.WithoutMemory.DiscoveryTokens + p.WithoutMemory.ContextTokens
	p.WithMemory.TotalTokens = p.WithMemory.DiscoveryTokens + p.WithMemory.ContextTokens
	p.TokensSaved = p.WithoutMemory.TotalTokens - p.WithMemory.TotalTokens
	if p.WithoutMemory.TotalTokens > 0 {
		p.PercentSaved = math.Round(float64(p.TokensSaved)/float64(p.WithoutMemory.TotalTokens)*1000) / 10
	}
	if p.WithMemory.TotalTokens > 0 {
		p.EfficiencyGain = math.Round(float64(p.WithoutMemory.TotalTokens)/float64(p.WithMemory.TotalTokens)*10) / 10
	}

	// Empty results are cached too: an idle project should not trigger
	// a table scan on every poll.
	e.cache.put(key, p, e.projectionTTL)
	return p, nil
}

// QuickSummary is the uncached whole-store fold behind the live push.
func (e *Engine) QuickSummary(ctx context.Context) (TokenSummary, error) {
	var agg tokenAgg
	err := e.rows.StreamObservations(ctx, "", 0, func(o *store.Observation) error {
		agg.add(o)
		return nil
	})
	if err != nil {
		return TokenSummary{}, err
	}
	return summarize(agg), nil
}

// InvalidateProject drops cached results the given project's new
// observation just made stale.
func (e *Engine) InvalidateProject(project string) {
	e.cache.invalidateProject(project)
}

// BroadcastTokenUpdate pushes a fresh quick summary to the live
// stream, at most once per second. Calls beyond the throttle are
// dropped; the next allowed push carries the newer totals anyway.
func (e *Engine) BroadcastTokenUpdate() {
	if e.publish == nil || !e.limiter.Allow() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	s, err := e.QuickSummary(ctx)
	if err != nil {
		slog.Warn("token update aggregation", "error", err)
		return
	}
	e.publish(s)
}
