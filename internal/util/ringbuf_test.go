package util

import "testing"

func TestRingBufferSnapshotOrderBeforeFull(t *testing.T) {
	r := NewRingBuffer[int](4)
	r.Push(1)
	r.Push(2)
	r.Push(3)

	if got := r.Snapshot(); !equalInts(got, []int{1, 2, 3}) {
		t.Fatalf("snapshot = %v, want [1 2 3]", got)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
}

func TestRingBufferOverwritesOldestWhenFull(t *testing.T) {
	r := NewRingBuffer[int](3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4) // overwrites 1
	r.Push(5) // overwrites 2

	if got := r.Snapshot(); !equalInts(got, []int{3, 4, 5}) {
		t.Fatalf("snapshot = %v, want [3 4 5]", got)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
