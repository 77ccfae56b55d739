// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ring

import (
	"reflect"
	"testing"
)

func TestPushBelowCapacity(t *testing.T) {
	b := New[int](5)
	b.Push(1)
	b.Push(2)
	b.Push(3)

	if b.Len() != 3 {
		t.Errorf("Len = %d, want 3", b.Len())
	}
	if b.IsFull() {
		t.Error("buffer reported full at 3/5")
	}
	if got := b.Slice(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("Slice = %v", got)
	}
}

func TestPushOverwritesOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	if b.Len() != 3 {
		t.Errorf("Len = %d, want 3", b.Len())
	}
	if !b.IsFull() {
		t.Error("buffer should be full")
	}
	if got := b.Slice(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("Slice = %v, want oldest two evicted", got)
	}
}

func TestLastNewestFirst(t *testing.T) {
	b := New[int](4)
	for i := 1; i <= 6; i++ {
		b.Push(i)
	}
	if got := b.Last(2); !reflect.DeepEqual(got, []int{6, 5}) {
		t.Errorf("Last(2) = %v", got)
	}
	if got := b.Last(10); !reflect.DeepEqual(got, []int{6, 5, 4, 3}) {
		t.Errorf("Last(10) = %v", got)
	}
	if got := b.Last(0); got != nil {
		t.Errorf("Last(0) = %v, want nil", got)
	}
}

func TestNewest(t *testing.T) {
	b := New[string](2)
	if _, ok := b.Newest(); ok {
		t.Error("Newest on empty buffer reported ok")
	}
	b.Push("a")
	b.Push("b")
	b.Push("c")
	if v, ok := b.Newest(); !ok || v != "c" {
		t.Errorf("Newest = %q, %v", v, ok)
	}
}

func TestClear(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	b.Clear()

	if !b.IsEmpty() {
		t.Error("buffer not empty after Clear")
	}
	if b.Cap() != 3 {
		t.Errorf("Cap = %d after Clear, want 3", b.Cap())
	}
	b.Push(9)
	if got := b.Slice(); !reflect.DeepEqual(got, []int{9}) {
		t.Errorf("Slice after Clear+Push = %v", got)
	}
}

func TestZeroCapacityClamped(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 100 {
		t.Errorf("Cap = %d, want default 100", b.Cap())
	}
}

func TestWrapAroundStress(t *testing.T) {
	b := New[int](7)
	for i := 0; i < 1000; i++ {
		b.Push(i)
	}
	want := []int{993, 994, 995, 996, 997, 998, 999}
	if got := b.Slice(); !reflect.DeepEqual(got, want) {
		t.Errorf("Slice = %v, want %v", got, want)
	}
}
