package engine

import (
	"sync"
	"testing"
)

func TestTryReserveRespectsLimit(t *testing.T) {
	tracker := NewConcurrencyTracker()

	for i := 0; i < 3; i++ {
		if !tracker.TryReserve(1, 3) {
			t.Fatalf("reserve %d should succeed", i+1)
		}
	}
	if tracker.TryReserve(1, 3) {
		t.Fatal("fourth reserve should fail at limit 3")
	}
	if got := tracker.CurrentCount(1); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestTryReserveConcurrentNeverExceedsLimit(t *testing.T) {
	tracker := NewConcurrencyTracker()
	const limit = 5
	const attempts = 200

	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- tracker.TryReserve(42, limit)
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	if admitted != limit {
		t.Fatalf("admitted %d concurrent reserves, want exactly %d", admitted, limit)
	}
	if got := tracker.CurrentCount(42); got != limit {
		t.Fatalf("count = %d, want %d", got, limit)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	tracker := NewConcurrencyTracker()

	tracker.TryReserve(1, 10)
	tracker.Release(1)
	tracker.Release(1)
	tracker.Release(1)

	if got := tracker.CurrentCount(1); got != 0 {
		t.Fatalf("count = %d, want 0 after over-release", got)
	}
	if !tracker.TryReserve(1, 1) {
		t.Fatal("reserve should succeed after count returned to zero")
	}
}

func TestTryReserveZeroLimitAlwaysFails(t *testing.T) {
	tracker := NewConcurrencyTracker()
	if tracker.TryReserve(1, 0) {
		t.Fatal("reserve with limit 0 must fail")
	}
}

func TestCountsSnapshot(t *testing.T) {
	tracker := NewConcurrencyTracker()
	tracker.TryReserve(1, 5)
	tracker.TryReserve(1, 5)
	tracker.TryReserve(2, 5)

	counts := tracker.Counts()
	if counts[1] != 2 || counts[2] != 1 {
		t.Fatalf("counts = %v, want map[1:2 2:1]", counts)
	}
}
