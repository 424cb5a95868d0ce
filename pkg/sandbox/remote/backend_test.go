package remote

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
)

// recordingAcquirer returns a fixed URL and records release calls.
type recordingAcquirer struct {
	url      string
	err      error
	released bool
}

func (a *recordingAcquirer) Acquire(_ context.Context) (string, func(), error) {
	if a.err != nil {
		return "", nil, a.err
	}
	return a.url, func() { a.released = true }, nil
}

func extractHandler(t *testing.T, resp ExtractResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExtractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Script == "" {
			t.Error("request carries no script")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func testPayload(t *testing.T) sandbox.Payload {
	t.Helper()
	return sandbox.Payload{
		Script:  "def f(): pass",
		Known:   []feature.Set{{"t": []float64{1, 2}, "m": []float64{3, 4}}},
		Timeout: time.Minute,
	}
}

func TestBackendExtractSuccess(t *testing.T) {
	results, err := sandbox.EncodeSets([]feature.Set{{"avg_m": 3.5}})
	if err != nil {
		t.Fatalf("encode results: %v", err)
	}
	srv := httptest.NewServer(extractHandler(t, ExtractResponse{
		Status:      StatusOK,
		ResultsCBOR: results,
		Stdout:      "ran",
	}))
	defer srv.Close()

	acq := &recordingAcquirer{url: srv.URL}
	b := NewBackend(acq)

	got, diag, err := b.Extract(context.Background(), testPayload(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result set, got %d", len(got))
	}
	avg, err := feature.Float(got[0]["avg_m"])
	if err != nil {
		t.Fatalf("coercing avg_m: %v", err)
	}
	if math.Abs(avg-3.5) > 1e-12 {
		t.Errorf("avg_m = %v, want 3.5", avg)
	}
	if diag.Stdout != "ran" {
		t.Errorf("stdout diagnostics = %q", diag.Stdout)
	}
	if !acq.released {
		t.Error("sandbox was not released")
	}
}

func TestBackendExtractScriptError(t *testing.T) {
	srv := httptest.NewServer(extractHandler(t, ExtractResponse{
		Status: StatusError,
		Stderr: "Traceback (most recent call last)",
		Error:  "script exited with status 1",
	}))
	defer srv.Close()

	acq := &recordingAcquirer{url: srv.URL}
	b := NewBackend(acq)

	_, diag, err := b.Extract(context.Background(), testPayload(t))
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Stage != sandbox.StageWait {
		t.Errorf("stage = %q, want %q", execErr.Stage, sandbox.StageWait)
	}
	if diag == nil || diag.Stderr == "" {
		t.Error("stderr diagnostics lost")
	}
	if !acq.released {
		t.Error("sandbox was not released after failure")
	}
}

func TestBackendExtractTimeout(t *testing.T) {
	srv := httptest.NewServer(extractHandler(t, ExtractResponse{
		Status: StatusTimeout,
		Error:  "extraction exceeded 60s",
	}))
	defer srv.Close()

	b := NewBackend(&recordingAcquirer{url: srv.URL})

	_, _, err := b.Extract(context.Background(), testPayload(t))
	if !errors.Is(err, sandbox.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestBackendExtractAtCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBackend(&recordingAcquirer{url: srv.URL})

	_, _, err := b.Extract(context.Background(), testPayload(t))
	if !errors.Is(err, sandbox.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBackendExtractAcquireFails(t *testing.T) {
	b := NewBackend(&recordingAcquirer{err: errors.New("no pods schedulable")})

	_, _, err := b.Extract(context.Background(), testPayload(t))
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Stage != sandbox.StageLaunch {
		t.Errorf("stage = %q, want %q", execErr.Stage, sandbox.StageLaunch)
	}
}

func TestBackendExtractBadResultsPayload(t *testing.T) {
	srv := httptest.NewServer(extractHandler(t, ExtractResponse{
		Status:      StatusOK,
		ResultsCBOR: []byte("not cbor"),
	}))
	defer srv.Close()

	b := NewBackend(&recordingAcquirer{url: srv.URL})

	_, _, err := b.Extract(context.Background(), testPayload(t))
	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Stage != sandbox.StageDecode {
		t.Errorf("stage = %q, want %q", execErr.Stage, sandbox.StageDecode)
	}
}

func TestBackendAvailable(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	tests := []struct {
		name string
		b    *Backend
		want bool
	}{
		{"nil acquirer", NewBackend(nil), false},
		{"healthy static url", NewBackend(&StaticAcquirer{URL: healthy.URL}), true},
		{"unreachable static url", NewBackend(&StaticAcquirer{URL: "http://localhost:1"}), false},
		{"claim acquirer assumed available", NewBackend(&recordingAcquirer{url: "http://example"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if got := tt.b.Available(ctx); got != tt.want {
				t.Errorf("Available() = %v, want %v", got, tt.want)
			}
		})
	}
}
