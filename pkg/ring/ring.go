// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ring implements a fixed-capacity generic ring buffer.
//
// The buffer keeps the most recent N values pushed into it, silently
// overwriting the oldest value once full. It backs the in-memory
// performance histories, which must hold bounded state no matter how
// long the daemon runs.
//
// The buffer is NOT safe for concurrent use. Callers must provide their
// own synchronization.
package ring

// Buffer is a fixed-capacity ring buffer over values of type T.
type Buffer[T any] struct {
	data  []T
	head  int // index of the oldest element
	count int
}

// New creates a Buffer with the given capacity. Capacities below one
// are clamped to a default of 100.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

// Push appends v, overwriting the oldest element when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.count < len(b.data) {
		b.data[(b.head+b.count)%len(b.data)] = v
		b.count++
		return
	}
	b.data[b.head] = v
	b.head = (b.head + 1) % len(b.data)
}

// Len returns the number of elements currently held.
func (b *Buffer[T]) Len() int { return b.count }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// IsEmpty reports whether the buffer holds no elements.
func (b *Buffer[T]) IsEmpty() bool { return b.count == 0 }

// IsFull reports whether the next Push will overwrite the oldest element.
func (b *Buffer[T]) IsFull() bool { return b.count == len(b.data) }

// Slice returns the contents in insertion order, oldest first. The
// returned slice is a copy and safe to retain.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

// Last returns up to n elements, newest first.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = b.data[(b.head+b.count-1-i+len(b.data)*2)%len(b.data)]
	}
	return out
}

// Newest returns the most recently pushed element, or the zero value and
// false when the buffer is empty.
func (b *Buffer[T]) Newest() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	return b.data[(b.head+b.count-1)%len(b.data)], true
}

// Clear discards all elements. Capacity is retained.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.head = 0
	b.count = 0
}
