package sandbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/feature"
)

// stubBackend is a Backend fake that returns canned values and records
// the context it was called with.
type stubBackend struct {
	name      string
	available bool
	results   []feature.Set
	diag      *Diagnostics
	err       error

	gotPayload Payload
	gotCtx     context.Context
	calls      int
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Available(ctx context.Context) bool { return b.available }

func (b *stubBackend) Extract(ctx context.Context, p Payload) ([]feature.Set, *Diagnostics, error) {
	b.calls++
	b.gotPayload = p
	b.gotCtx = ctx
	return b.results, b.diag, b.err
}

func TestOrchestratorExtract(t *testing.T) {
	known := []feature.Set{{"t": []float64{1}, "m": []float64{2}}}
	backend := &stubBackend{
		name:      "stub",
		available: true,
		results:   []feature.Set{{"avg_m": 2.0}},
		diag:      &Diagnostics{Stdout: "hello"},
	}
	o := NewOrchestrator(backend, nil, 30*time.Second)

	results, diag, err := o.Extract(context.Background(), "def f(): pass", known)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result set, got %d", len(results))
	}
	if diag == nil || diag.Stdout != "hello" {
		t.Errorf("diagnostics not passed through: %+v", diag)
	}
	if backend.gotPayload.Script != "def f(): pass" {
		t.Errorf("payload script = %q", backend.gotPayload.Script)
	}
	if backend.gotPayload.Timeout != 30*time.Second {
		t.Errorf("payload timeout = %v, want 30s", backend.gotPayload.Timeout)
	}
	if _, ok := backend.gotCtx.Deadline(); !ok {
		t.Error("backend context carries no deadline")
	}
}

func TestOrchestratorNoBackend(t *testing.T) {
	o := NewOrchestrator(nil, nil, 0)

	if o.Available(context.Background()) {
		t.Error("orchestrator without backend reports available")
	}
	_, _, err := o.Extract(context.Background(), "pass", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestOrchestratorBackendErrorPassesThrough(t *testing.T) {
	cause := &ExecutionError{Stage: StageLaunch, Err: errors.New("image missing")}
	backend := &stubBackend{name: "stub", available: true, err: cause}
	o := NewOrchestrator(backend, nil, time.Second)

	_, _, err := o.Extract(context.Background(), "pass", nil)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Stage != StageLaunch {
		t.Errorf("stage = %q, want %q", execErr.Stage, StageLaunch)
	}
}

func TestOrchestratorMapsDeadlineToTimeout(t *testing.T) {
	backend := &stubBackend{
		name:      "stub",
		available: true,
		err:       fmt.Errorf("waiting for container: %w", context.DeadlineExceeded),
	}
	o := NewOrchestrator(backend, nil, time.Second)

	_, _, err := o.Extract(context.Background(), "pass", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestOrchestratorResultCountMismatch(t *testing.T) {
	known := []feature.Set{
		{"t": []float64{1}, "m": []float64{2}},
		{"t": []float64{3}, "m": []float64{4}},
	}
	backend := &stubBackend{
		name:      "stub",
		available: true,
		results:   []feature.Set{{"avg_m": 2.0}},
	}
	o := NewOrchestrator(backend, nil, time.Second)

	_, _, err := o.Extract(context.Background(), "pass", known)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Stage != StageDecode {
		t.Errorf("stage = %q, want %q", execErr.Stage, StageDecode)
	}
}

func TestOrchestratorDefaultTimeout(t *testing.T) {
	backend := &stubBackend{name: "stub", available: true, results: []feature.Set{}}
	o := NewOrchestrator(backend, nil, 0)

	if _, _, err := o.Extract(context.Background(), "pass", nil); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if backend.gotPayload.Timeout != DefaultTimeout {
		t.Errorf("payload timeout = %v, want %v", backend.gotPayload.Timeout, DefaultTimeout)
	}
}

func TestInSandboxMarker(t *testing.T) {
	t.Setenv(EnvMarker, "1")
	if !InSandbox() {
		t.Error("marker env var set but InSandbox() is false")
	}
}
