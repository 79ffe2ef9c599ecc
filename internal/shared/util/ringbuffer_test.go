package util

import (
	"testing"
)

func TestRingBufferFillAndOverwrite(t *testing.T) {
	r := NewRingBuffer[int](3)

	if r.Len() != 0 || r.IsFull() {
		t.Fatal("new buffer should be empty")
	}

	r.Push(1)
	r.Push(2)
	r.Push(3)
	if !r.IsFull() || r.Len() != 3 {
		t.Fatalf("len = %d, full = %v, want 3/true", r.Len(), r.IsFull())
	}

	r.Push(4) // overwrites 1
	got := r.ToSlice()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ToSlice() = %v, want %v", got, want)
		}
	}
}

func TestRingBufferGetOrder(t *testing.T) {
	r := NewRingBuffer[string](2)
	r.Push("a")
	r.Push("b")
	r.Push("c")

	if r.Get(0) != "b" || r.Get(1) != "c" {
		t.Errorf("Get order wrong: %q, %q", r.Get(0), r.Get(1))
	}
	if r.Get(-1) != "" || r.Get(2) != "" {
		t.Error("out-of-range Get should return zero value")
	}
}

func TestRingBufferClear(t *testing.T) {
	r := NewRingBuffer[int](2)
	r.Push(1)
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("len after clear = %d, want 0", r.Len())
	}
	if r.ToSlice() != nil {
		t.Error("ToSlice after clear should be nil")
	}
}

func TestRingBufferZeroCapacity(t *testing.T) {
	r := NewRingBuffer[int](0)
	r.Push(7)
	if r.Cap() != 1 || r.Get(0) != 7 {
		t.Errorf("cap = %d, head = %d, want 1, 7", r.Cap(), r.Get(0))
	}
}
