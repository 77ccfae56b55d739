// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"testing"
	"time"

	"github.com/engramlabs/engram/pkg/pubsub"
	"github.com/engramlabs/engram/services/worker/store"
)

type fakeStatus struct {
	work     int
	sessions int
}

func (f *fakeStatus) IsProcessing() bool   { return f.work > 0 }
func (f *fakeStatus) TotalActiveWork() int { return f.work }
func (f *fakeStatus) ActiveCount() int     { return f.sessions }

func receive(t *testing.T, ch <-chan pubsub.Event[any]) pubsub.Event[any] {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event within a second")
		return pubsub.Event[any]{}
	}
}

func TestObservationCreatedPublishesShapedFrame(t *testing.T) {
	broker := pubsub.NewBroker[any]()
	defer broker.Shutdown()
	p := NewPublisher(broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	obs := &store.Observation{ID: 5, SessionID: "s-1", Project: "engram", Title: "found it"}
	p.ObservationCreated(obs)

	e := receive(t, sub)
	if e.Type != TypeNewObservation {
		t.Fatalf("event type = %s, want %s", e.Type, TypeNewObservation)
	}
	frame, ok := e.Payload.(ObservationEvent)
	if !ok {
		t.Fatalf("payload is %T, want ObservationEvent", e.Payload)
	}
	if frame.Type != "new_observation" || frame.Observation != obs {
		t.Fatalf("frame shaped wrong: %+v", frame)
	}
}

func TestSummaryAndPromptFrames(t *testing.T) {
	broker := pubsub.NewBroker[any]()
	defer broker.Shutdown()
	p := NewPublisher(broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	p.SummaryCreated(&store.Summary{ID: 1, SessionID: "s-1", Project: "engram"})
	if e := receive(t, sub); e.Type != TypeNewSummary {
		t.Fatalf("event type = %s, want %s", e.Type, TypeNewSummary)
	}

	p.PromptCreated(&store.UserPrompt{ID: 1, SessionID: "s-1", PromptNumber: 2})
	e := receive(t, sub)
	frame, ok := e.Payload.(PromptEvent)
	if !ok || frame.Prompt.PromptNumber != 2 {
		t.Fatalf("prompt frame shaped wrong: %+v", e.Payload)
	}
}

func TestProcessingStatusReflectsSource(t *testing.T) {
	broker := pubsub.NewBroker[any]()
	defer broker.Shutdown()
	p := NewPublisher(broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	// No source bound: frame reports idle.
	p.ProcessingStatusChanged()
	e := receive(t, sub)
	frame := e.Payload.(ProcessingStatusEvent)
	if frame.IsProcessing || frame.QueueDepth != 0 {
		t.Fatalf("unbound status should be idle, got %+v", frame)
	}

	p.BindStatus(&fakeStatus{work: 3, sessions: 1})
	p.ProcessingStatusChanged()
	frame = receive(t, sub).Payload.(ProcessingStatusEvent)
	if !frame.IsProcessing || frame.QueueDepth != 3 {
		t.Fatalf("bound status wrong: %+v", frame)
	}

	if got := p.Status(); !got.IsProcessing || got.QueueDepth != 3 {
		t.Fatalf("Status() = %+v, want 3 in-flight", got)
	}
}
