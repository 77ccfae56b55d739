// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/engramlabs/engram/services/worker/analyzer"
	"github.com/engramlabs/engram/services/worker/parse"
	"github.com/engramlabs/engram/services/worker/store"
)

// Default pipeline timings.
const (
	// DefaultReadyTimeout bounds the wait for the analyzer's first
	// reply after spawn.
	DefaultReadyTimeout = 15 * time.Second

	// DefaultDrainGrace is how long a cancelled pipeline lets the
	// analyzer flush in-flight replies before the process is killed.
	DefaultDrainGrace = 5 * time.Second

	// DefaultKeepProcessed is the global number of processed queue rows
	// retained for inspection.
	DefaultKeepProcessed = 100

	// storeOpTimeout bounds individual store writes during reply
	// handling. Draining must finish even when the parent context is
	// already cancelled, so these writes never use the pipeline context.
	storeOpTimeout = 5 * time.Second
)

// Queue is the pending-message surface the orchestrator consumes.
type Queue interface {
	Iterate(ctx context.Context, sessionID int64) <-chan store.PendingMessage
	MarkProcessed(ctx context.Context, ids []int64) error
	CleanupProcessed(ctx context.Context, keepLast int) error
}

// Records is the persistence surface for extracted memory.
type Records interface {
	InsertObservation(ctx context.Context, o *store.Observation) error
	InsertSummary(ctx context.Context, s *store.Summary) error
	SetAnalyzerSessionID(ctx context.Context, id int64, analyzerID string) error
	MarkSessionCompleted(ctx context.Context, id int64) error
}

// ObservationEvents receives every record the pipeline produces, plus
// activity changes. Implementations fan these out to live subscribers
// and token metrics; they must not block.
type ObservationEvents interface {
	ObservationCreated(o *store.Observation)
	SummaryCreated(s *store.Summary)
	PromptCreated(p *store.UserPrompt)
	ProcessingStatusChanged()
}

// MetricsSink records pipeline performance samples.
type MetricsSink interface {
	RecordProcessing(d time.Duration, observations int, discoveryTokens int64)
	RecordQueueDepth(depth, activeSessions int)
}

// Vector mirrors persisted records into the vector index.
// Implementations are fire-and-forget and must not block.
type Vector interface {
	SyncObservation(o *store.Observation)
	SyncSummary(s *store.Summary)
}

// Deps bundles the orchestrator's capability interfaces.
type Deps struct {
	Queue   Queue
	Records Records
	Events  ObservationEvents
	Sink    MetricsSink
	Vector  Vector
}

// Config tunes one pipeline. Zero values take the package defaults.
type Config struct {
	KeepProcessed int
	ReadyTimeout  time.Duration
	DrainGrace    time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeepProcessed <= 0 {
		c.KeepProcessed = DefaultKeepProcessed
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	return c
}

// Orchestrator pumps one session's pending messages through its
// analyzer and persists what comes back.
//
// # Description
//
// Two goroutines run under an errgroup: the producer iterates the
// durable queue and writes frames to the analyzer's stdin; the consumer
// reads the reply stream and, per reply, updates token accounting,
// parses, persists, and finally marks the in-flight messages processed.
// A message is marked processed only after the reply that covers it has
// been fully persisted, which is what makes redelivery after a crash
// safe.
//
// # Limitations
//
// The pipeline assumes the analyzer answers frames in order. That holds
// for the stream protocol, which is strictly sequential per process.
type Orchestrator struct {
	sess   *ActiveSession
	runner analyzer.Runner
	deps   Deps
	cfg    Config
}

// NewOrchestrator wires a pipeline for one active session.
func NewOrchestrator(sess *ActiveSession, runner analyzer.Runner, deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{
		sess:   sess,
		runner: runner,
		deps:   deps,
		cfg:    cfg.withDefaults(),
	}
}

// Run executes the pipeline until the session completes, the context is
// cancelled, or a fatal error occurs.
//
// # Outputs
//
//   - nil: the reply stream ended cleanly and the session was marked
//     completed.
//   - context.Canceled: the pipeline was aborted; undelivered messages
//     remain pending for a future resurrection.
//   - other errors: analyzer or store failure. The session row is left
//     untouched so the session can resurrect.
func (o *Orchestrator) Run(ctx context.Context) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.runner.Start(pumpCtx); err != nil {
		o.sess.setState(StateAborted)
		return fmt.Errorf("start analyzer for session %s: %w", o.sess.SessionID, err)
	}

	g, gctx := errgroup.WithContext(pumpCtx)

	// Once feeding stops for any reason, give the analyzer a bounded
	// window to flush its remaining replies, then make sure it is gone.
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		<-gctx.Done()
		grace, gcancel := context.WithTimeout(context.Background(), o.cfg.DrainGrace)
		defer gcancel()
		if err := o.runner.Shutdown(grace); err != nil {
			slog.Warn("analyzer shutdown", "session", o.sess.SessionID, "error", err)
		}
	}()

	g.Go(func() error { return o.produce(gctx) })
	g.Go(func() error {
		// A cleanly ended reply stream must also unwind the producer.
		defer cancel()
		return o.consume()
	})

	err := g.Wait()
	cancel()
	<-watcherDone

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		o.sess.setState(StateAborted)
		return err
	case ctx.Err() != nil:
		// Aborted from outside; undelivered messages stay pending for a
		// future resurrection.
		o.sess.setState(StateAborted)
		return ctx.Err()
	default:
		// The reply stream ended cleanly. That completes the session
		// whether or not the analyzer ever produced a summary.
		o.sess.setState(StateCompleted)
		opCtx, done := context.WithTimeout(context.Background(), storeOpTimeout)
		defer done()
		if mErr := o.deps.Records.MarkSessionCompleted(opCtx, o.sess.ID); mErr != nil {
			slog.Error("mark session completed",
				"session", o.sess.SessionID, "error", mErr)
		}
		return nil
	}
}

// produce feeds the analyzer: first the opening frame, then every
// pending message in queue order. It stops feeding the moment ctx is
// cancelled or a summarize frame has been sent, closing the analyzer's
// stdin either way so the reply stream can end.
func (o *Orchestrator) produce(ctx context.Context) error {
	opening := analyzer.Frame{
		Kind:         analyzer.FrameInit,
		Project:      o.sess.Project,
		UserPrompt:   o.sess.UserPrompt(),
		PromptNumber: o.sess.LastPromptNumber(),
	}
	if o.sess.LastPromptNumber() > 1 {
		opening.Kind = analyzer.FrameContinuation
	}
	if err := o.runner.Send(opening); err != nil {
		return fmt.Errorf("send opening frame: %w", err)
	}

	msgs := o.deps.Queue.Iterate(ctx, o.sess.ID)
	for {
		select {
		case <-ctx.Done():
			o.runner.CloseInput()
			return nil
		case m, ok := <-msgs:
			if !ok {
				o.runner.CloseInput()
				return nil
			}
			// A cancel that raced the message receive must win:
			// anything not yet sent stays pending for redelivery.
			if ctx.Err() != nil {
				o.runner.CloseInput()
				return nil
			}
			// Redelivered rows may carry a later cycle than the counter
			// the session resurrected with.
			o.sess.ObservePromptNumber(m.PromptNumber)
			o.sess.MarkInFlight(m.ID)
			if err := o.runner.Send(frameFor(m)); err != nil {
				return fmt.Errorf("send frame for message %d: %w", m.ID, err)
			}
			if m.Kind == store.KindSummarize {
				o.sess.setState(StateDraining)
				o.runner.CloseInput()
				return nil
			}
		}
	}
}

func frameFor(m store.PendingMessage) analyzer.Frame {
	if m.Kind == store.KindSummarize {
		return analyzer.Frame{
			Kind:                 analyzer.FrameSummarize,
			LastUserMessage:      m.LastUserMessage,
			LastAssistantMessage: m.LastAssistantMessage,
		}
	}
	return analyzer.Frame{
		Kind:         analyzer.FrameObservation,
		ToolName:     m.ToolName,
		ToolInput:    m.ToolInput,
		ToolResponse: m.ToolResponse,
		Cwd:          m.Cwd,
	}
}

// consume drains the reply stream until it closes. It deliberately does
// not watch the pipeline context: after a cancellation the replies
// already in flight are still persisted, bounded by the shutdown grace.
func (o *Orchestrator) consume() error {
	replies := o.runner.Replies()
	replyStart := time.Now()

	// Readiness gate: the analyzer must say something within the
	// ready timeout or the session is unusable.
	ready := time.NewTimer(o.cfg.ReadyTimeout)
	select {
	case r, ok := <-replies:
		ready.Stop()
		if !ok {
			return errors.New("analyzer exited before its first reply")
		}
		if err := o.handleReply(r, &replyStart); err != nil {
			return err
		}
	case <-ready.C:
		return fmt.Errorf("analyzer not ready within %s", o.cfg.ReadyTimeout)
	}

	for r := range replies {
		if err := o.handleReply(r, &replyStart); err != nil {
			return err
		}
	}
	return nil
}

// handleReply processes one inbound reply end to end.
func (o *Orchestrator) handleReply(r analyzer.Reply, replyStart *time.Time) error {
	defer func() { *replyStart = time.Now() }()

	opCtx, done := context.WithTimeout(context.Background(), storeOpTimeout)
	defer done()

	switch r.Kind {
	case analyzer.ReplyInit:
		o.sess.setAnalyzerSessionID(r.SessionID)
		o.sess.setState(StateRunning)
		if err := o.deps.Records.SetAnalyzerSessionID(opCtx, o.sess.ID, r.SessionID); err != nil {
			slog.Warn("persist analyzer session id",
				"session", o.sess.SessionID, "error", err)
		}
		slog.Info("session running",
			"session", o.sess.SessionID, "analyzer_session", r.SessionID)
		return nil

	case analyzer.ReplyResult:
		return nil
	}

	// Assistant reply. Token accounting happens even for replies with
	// no text, so the cumulative counters never miss a usage block.
	delta := o.sess.AddUsage(r.Usage)

	if strings.TrimSpace(r.Text) != "" {
		res := parse.Response(r.Text)
		if err := o.persist(opCtx, res, delta); err != nil {
			return err
		}
		// Replies that parsed into nothing leave no sample: they would
		// drag the duration percentiles toward no-op chatter.
		if !res.Empty() {
			o.deps.Sink.RecordProcessing(time.Since(*replyStart), len(res.Observations), delta)
		}
	}

	return o.finishBatch(opCtx)
}

// persist writes one reply's records. Every record from the reply
// carries the same discovery delta: the store tracks what each reply
// cost, not a per-record split it has no way to compute.
func (o *Orchestrator) persist(ctx context.Context, res parse.Result, delta int64) error {
	prompt := o.sess.LastPromptNumber()

	for _, po := range res.Observations {
		row := &store.Observation{
			SessionID:       o.sess.SessionID,
			Project:         o.sess.Project,
			Type:            po.Type,
			Title:           po.Title,
			Subtitle:        po.Subtitle,
			Narrative:       po.Narrative,
			Text:            po.Text,
			Facts:           po.Facts,
			Concepts:        po.Concepts,
			FilesRead:       po.FilesRead,
			FilesModified:   po.FilesModified,
			PromptNumber:    prompt,
			DiscoveryTokens: delta,
		}
		if err := o.deps.Records.InsertObservation(ctx, row); err != nil {
			return fmt.Errorf("persist observation for session %s: %w", o.sess.SessionID, err)
		}
		o.deps.Vector.SyncObservation(row)
		o.deps.Events.ObservationCreated(row)
	}

	if res.Summary != nil {
		row := &store.Summary{
			SessionID:    o.sess.SessionID,
			Project:      o.sess.Project,
			Request:      res.Summary.Request,
			Investigated: res.Summary.Investigated,
			Learned:      res.Summary.Learned,
			Completed:    res.Summary.Completed,
			NextSteps:    res.Summary.NextSteps,
			Notes:        res.Summary.Notes,
			PromptNumber: prompt,
		}
		if err := o.deps.Records.InsertSummary(ctx, row); err != nil {
			return fmt.Errorf("persist summary for session %s: %w", o.sess.SessionID, err)
		}
		o.deps.Vector.SyncSummary(row)
		o.deps.Events.SummaryCreated(row)
	}

	return nil
}

// finishBatch marks the reply's in-flight messages processed and prunes
// old processed rows. The activity broadcast fires unconditionally: a
// reply means the in-flight set changed even when it was empty.
func (o *Orchestrator) finishBatch(ctx context.Context) error {
	ids := o.sess.TakeInFlight()
	if len(ids) > 0 {
		if err := o.deps.Queue.MarkProcessed(ctx, ids); err != nil {
			return fmt.Errorf("mark messages processed: %w", err)
		}
		if err := o.deps.Queue.CleanupProcessed(ctx, o.cfg.KeepProcessed); err != nil {
			slog.Warn("cleanup processed queue rows", "error", err)
		}
	}
	o.deps.Events.ProcessingStatusChanged()
	return nil
}
