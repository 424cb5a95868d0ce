package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/observability"
)

// DefaultTimeout bounds one sandboxed extraction when the caller does
// not choose a budget.
const DefaultTimeout = 2 * time.Minute

// waitGrace extends the orchestrator's own deadline past the payload
// timeout so the in-sandbox runner gets to report its timeout first.
const waitGrace = 15 * time.Second

// Diagnostics carries the captured output streams of a sandbox run.
type Diagnostics struct {
	Stdout string
	Stderr string
}

// Backend launches one extraction in an isolated environment and
// returns the per-dataset feature sets.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
	Extract(ctx context.Context, p Payload) ([]feature.Set, *Diagnostics, error)
}

// Orchestrator drives a Backend through the full sandbox lifecycle and
// normalizes its failures into the sandbox error taxonomy.
type Orchestrator struct {
	backend Backend
	logger  *slog.Logger
	timeout time.Duration
}

// NewOrchestrator returns an orchestrator over the given backend. A nil
// backend is allowed; Extract then reports ErrUnavailable.
func NewOrchestrator(backend Backend, logger *slog.Logger, timeout time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{backend: backend, logger: logger, timeout: timeout}
}

// Available reports whether the backend can accept work right now.
func (o *Orchestrator) Available(ctx context.Context) bool {
	return o != nil && o.backend != nil && o.backend.Available(ctx)
}

// Extract runs script against the known feature sets inside the
// backend's sandbox. It returns one extracted set per input set, in
// order, plus whatever the sandbox wrote to its output streams.
func (o *Orchestrator) Extract(ctx context.Context, script string, known []feature.Set) ([]feature.Set, *Diagnostics, error) {
	if o == nil || o.backend == nil {
		return nil, nil, fmt.Errorf("no sandbox backend configured: %w", ErrUnavailable)
	}

	payload := Payload{Script: script, Known: known, Timeout: o.timeout}
	ctx, cancel := context.WithTimeout(ctx, o.timeout+waitGrace)
	defer cancel()

	start := time.Now()
	results, diag, err := o.backend.Extract(ctx, payload)
	elapsed := time.Since(start)

	if diag != nil && diag.Stderr != "" {
		o.logger.Warn("sandbox stderr",
			"backend", o.backend.Name(),
			"stderr", debug.Truncate(diag.Stderr, 2048))
	}

	if err != nil {
		observability.SandboxLaunchesTotal.WithLabelValues(o.backend.Name(), "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("sandbox run exceeded %s: %w", o.timeout, ErrTimeout)
		}
		return nil, diag, err
	}

	if len(results) != len(known) {
		observability.SandboxLaunchesTotal.WithLabelValues(o.backend.Name(), "error").Inc()
		return nil, diag, &ExecutionError{
			Stage: StageDecode,
			Err:   fmt.Errorf("sandbox returned %d result sets for %d datasets", len(results), len(known)),
		}
	}

	observability.SandboxLaunchesTotal.WithLabelValues(o.backend.Name(), "ok").Inc()
	observability.SandboxDuration.WithLabelValues(o.backend.Name()).Observe(elapsed.Seconds())
	debug.Log("sandbox", "extraction complete",
		"backend", o.backend.Name(),
		"datasets", len(known),
		"elapsed", elapsed)
	return results, diag, nil
}
