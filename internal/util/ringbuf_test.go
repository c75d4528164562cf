package util

import "testing"

func TestRingBufferOverwritesOldestWhenFull(t *testing.T) {
	rb := NewRingBuffer[int](3)
	rb.Push(1)
	rb.Push(2)
	rb.Push(3)
	rb.Push(4)

	got := rb.Snapshot()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot = %v, want %v", got, want)
		}
	}
	if rb.Len() != 3 {
		t.Fatalf("Len = %d, want 3", rb.Len())
	}
}

func TestRingBufferSnapshotMatchingFiltersInOrder(t *testing.T) {
	rb := NewRingBuffer[int](5)
	for _, n := range []int{1, 2, 3, 4, 5} {
		rb.Push(n)
	}

	evens := rb.SnapshotMatching(func(n int) bool { return n%2 == 0 })
	want := []int{2, 4}
	if len(evens) != len(want) {
		t.Fatalf("SnapshotMatching = %v, want %v", evens, want)
	}
	for i := range want {
		if evens[i] != want[i] {
			t.Fatalf("SnapshotMatching = %v, want %v", evens, want)
		}
	}
}

func TestRingBufferSnapshotMatchingEmptyWhenNothingMatches(t *testing.T) {
	rb := NewRingBuffer[int](4)
	rb.Push(1)
	rb.Push(3)

	got := rb.SnapshotMatching(func(n int) bool { return n%2 == 0 })
	if len(got) != 0 {
		t.Fatalf("SnapshotMatching = %v, want empty", got)
	}
}
