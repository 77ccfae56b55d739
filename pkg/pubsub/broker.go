// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pubsub implements an in-process broadcast broker.
//
// Publishers never block: each subscriber owns a bounded buffer, and when
// a subscriber falls behind the broker evicts that subscriber's oldest
// queued event to make room for the newest one. Slow consumers therefore
// see a gap in history rather than stalling the producers.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber buffer used by NewBroker.
const DefaultBufferSize = 64

// EventType names the kind of payload carried by an Event.
type EventType string

// Event pairs a type tag with its payload.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// Broker fans events out to any number of subscribers.
//
// Thread Safety: all methods are safe for concurrent use.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan Event[T]]struct{}
	done       chan struct{}
	closed     bool
	bufferSize int
	dropped    atomic.Int64
}

// NewBroker creates a Broker with DefaultBufferSize per subscriber.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](DefaultBufferSize)
}

// NewBrokerWithBuffer creates a Broker with the given per-subscriber
// buffer size. Sizes below one are clamped to DefaultBufferSize.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size < 1 {
		size = DefaultBufferSize
	}
	return &Broker[T]{
		subs:       make(map[chan Event[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe registers a new subscriber and returns its event channel.
//
// The subscription lasts until ctx is cancelled or the broker shuts
// down, at which point the channel is closed. Subscribing to a broker
// that has already shut down returns an immediately closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan Event[T])
		close(ch)
		return ch
	}
	ch := make(chan Event[T], b.bufferSize)
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.remove(ch)
		case <-b.done:
			// Shutdown closes the channel.
		}
	}()

	return ch
}

// Publish delivers an event to every subscriber without blocking.
//
// A subscriber whose buffer is full loses its oldest queued event to
// make room; if the buffer is somehow still full after one eviction the
// new event is dropped for that subscriber.
func (b *Broker[T]) Publish(t EventType, payload T) {
	e := Event[T]{Type: t, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- e:
			continue
		default:
		}
		// Buffer full: evict the oldest queued event, then retry once.
		select {
		case <-ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of events discarded because a
// subscriber's buffer was full.
func (b *Broker[T]) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown closes every subscriber channel and rejects future publishes.
// It is safe to call more than once.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// remove unregisters and closes a single subscriber channel.
func (b *Broker[T]) remove(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}
