package transport

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestExtractionGateAcquireRelease(t *testing.T) {
	g := NewExtractionGate(2)

	if !g.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if !g.TryAcquire() {
		t.Fatal("second acquire should succeed")
	}
	if g.TryAcquire() {
		t.Error("third acquire should fail at capacity 2")
	}
	if g.Active() != 2 {
		t.Errorf("Active() = %d, want 2", g.Active())
	}

	g.Release()
	if g.Active() != 1 {
		t.Errorf("Active() after release = %d, want 1", g.Active())
	}
	if !g.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
}

func TestExtractionGateUnbounded(t *testing.T) {
	g := NewExtractionGate(0)

	for i := 0; i < 100; i++ {
		if !g.TryAcquire() {
			t.Fatalf("acquire %d should succeed on unbounded gate", i)
		}
	}
	if g.Active() != 100 {
		t.Errorf("Active() = %d, want 100", g.Active())
	}
}

func TestExtractionGateReleaseWithoutAcquire(t *testing.T) {
	g := NewExtractionGate(1)
	// Should not panic or go negative.
	g.Release()
	if g.Active() != 0 {
		t.Errorf("Active() = %d, want 0", g.Active())
	}
}

func TestExtractionGateConcurrentAccess(t *testing.T) {
	const capacity = 8
	g := NewExtractionGate(capacity)

	var acquired atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if acquired.Load() != capacity {
		t.Errorf("acquired %d slots, want %d", acquired.Load(), capacity)
	}
	if g.Active() != capacity {
		t.Errorf("Active() = %d, want %d", g.Active(), capacity)
	}

	for i := 0; i < capacity; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Release()
		}()
	}
	wg.Wait()

	if g.Active() != 0 {
		t.Errorf("Active() after releases = %d, want 0", g.Active())
	}
}
