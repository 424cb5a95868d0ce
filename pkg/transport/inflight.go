package transport

import "sync"

// ExtractionGate bounds the number of extractions executing at once.
// Extraction requests hold a sandbox or a Python subprocess for their
// whole lifetime, so admission is capped up front instead of queued:
// a full gate rejects immediately and the client is expected to retry.
//
// All methods are safe for concurrent access.
type ExtractionGate struct {
	mu     sync.Mutex
	active int
	max    int
}

// NewExtractionGate creates a gate admitting at most max concurrent
// extractions. A non-positive max disables the gate (unbounded).
func NewExtractionGate(max int) *ExtractionGate {
	return &ExtractionGate{max: max}
}

// TryAcquire claims an extraction slot. Returns false when the gate is
// at capacity; the caller must not call Release in that case.
func (g *ExtractionGate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.max > 0 && g.active >= g.max {
		return false
	}
	g.active++
	return true
}

// Release returns a previously acquired slot.
func (g *ExtractionGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// Active reports the number of extractions currently holding a slot.
func (g *ExtractionGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
