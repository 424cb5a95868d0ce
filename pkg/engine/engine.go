// Package engine ties the extraction pipeline together: it normalizes
// time-series inputs, decides whether a run may execute on the host or
// must be isolated, and drives the dependency scheduler.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/observability"
	"github.com/cepheid-ml/cepheid/pkg/pyexec"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
	"github.com/cepheid-ml/cepheid/pkg/schedule"
	"github.com/cepheid-ml/cepheid/pkg/script"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
)

// Execution modes reported in Outcome and metrics.
const (
	ModeLocal     = "local"
	ModeSandboxed = "sandboxed"
)

// Isolator runs a script against datasets in an isolated environment.
// *sandbox.Orchestrator satisfies it.
type Isolator interface {
	Available(ctx context.Context) bool
	Extract(ctx context.Context, scriptSrc string, known []feature.Set) ([]feature.Set, *sandbox.Diagnostics, error)
}

// Outcome is the result of one extraction run over a batch of datasets.
type Outcome struct {
	// Features holds the extracted feature sets, positionally aligned
	// with the input datasets. Reserved keys and given meta-features are
	// not echoed back.
	Features []feature.Set `json:"features"`
	// Mode records where the run executed.
	Mode string `json:"mode"`
	// Diagnostics carries the sandbox output streams when Mode is
	// sandboxed.
	Diagnostics *sandbox.Diagnostics `json:"-"`
}

// Options configures an Engine.
type Options struct {
	// Python is the interpreter used for local runs. Defaults to
	// pyexec.DefaultPython.
	Python string
	// Timeout bounds one local scheduler run per dataset.
	Timeout time.Duration
	// ForceLocal skips sandbox selection entirely. Meant for trusted
	// scripts and development.
	ForceLocal bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine runs feature extraction, sandboxed when possible.
type Engine struct {
	orch       Isolator
	python     string
	timeout    time.Duration
	forceLocal bool
	logger     *slog.Logger
}

// New creates an engine. A nil isolator means no isolation capability
// exists; runs then execute on the host with a warning.
func New(orch Isolator, opts Options) *Engine {
	if opts.Python == "" {
		opts.Python = pyexec.DefaultPython
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		orch:       orch,
		python:     opts.Python,
		timeout:    opts.Timeout,
		forceLocal: opts.ForceLocal,
		logger:     opts.Logger,
	}
}

// inSandboxFn is a seam for tests; nested sandboxing must never happen.
var inSandboxFn = sandbox.InSandbox

// newInvoker builds the function invoker for local runs. Tests swap it
// out to avoid needing a Python interpreter.
var newInvoker = func(python, scriptPath string, timeout time.Duration) schedule.Invoker {
	return &pyexec.Runner{Python: python, ScriptPath: scriptPath, Timeout: timeout}
}

// Extract normalizes the inputs and runs the script over them. The run
// is delegated to the isolator unless the process is already inside a
// sandbox, the engine is forced local, or no isolation is available;
// in the last case it warns before running untrusted code on the host.
func (e *Engine) Extract(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*Outcome, error) {
	known, err := timeseries.ResolveBatch(inputs)
	if err != nil {
		return nil, err
	}

	mode := e.selectMode(ctx)
	start := time.Now()
	out, err := e.run(ctx, mode, scriptSrc, known)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.ExtractionsTotal.WithLabelValues(mode, status).Inc()
	observability.ExtractionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	return out, err
}

func (e *Engine) selectMode(ctx context.Context) string {
	switch {
	case e.forceLocal:
		return ModeLocal
	case inSandboxFn():
		// Already isolated; never nest sandboxes.
		return ModeLocal
	case e.orch != nil && e.orch.Available(ctx):
		return ModeSandboxed
	default:
		e.logger.Warn("no isolation available, running untrusted script unsandboxed")
		return ModeLocal
	}
}

func (e *Engine) run(ctx context.Context, mode, scriptSrc string, known []feature.Set) (*Outcome, error) {
	if mode == ModeSandboxed {
		results, diag, err := e.orch.Extract(ctx, scriptSrc, known)
		if err != nil {
			return nil, err
		}
		return &Outcome{Features: results, Mode: ModeSandboxed, Diagnostics: diag}, nil
	}

	results, err := RunLocal(ctx, e.python, scriptSrc, known, e.timeout)
	if err != nil {
		return nil, err
	}
	return &Outcome{Features: results, Mode: ModeLocal}, nil
}

// RunLocal parses the script's contracts and resolves them against each
// dataset in order on the host. It is the execution path shared by
// unsandboxed runs and the in-sandbox runner.
func RunLocal(ctx context.Context, python, scriptSrc string, known []feature.Set, timeout time.Duration) ([]feature.Set, error) {
	contracts, diags := script.Parse(scriptSrc)
	for _, d := range diags {
		debug.Log("engine", "skipped annotation", "line", d.Line, "reason", d.Reason)
	}

	scriptPath, cleanup, err := pyexec.StageScript(scriptSrc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	inv := newInvoker(python, scriptPath, timeout)
	results := make([]feature.Set, 0, len(known))
	for i, k := range known {
		res, err := schedule.Run(ctx, contracts, k, inv)
		if err != nil {
			return nil, fmt.Errorf("dataset %d: %w", i, err)
		}
		observability.SchedulerRounds.Observe(float64(len(res.Rounds)))
		results = append(results, res.Extracted)
	}
	return results, nil
}

// ListFeatures parses the script and returns the feature names it
// declares, in declaration order, along with any annotations the
// parser had to skip.
func ListFeatures(scriptSrc string) ([]string, []script.Diagnostic) {
	contracts, diags := script.Parse(scriptSrc)
	return contracts.ProvidedFeatures(), diags
}
