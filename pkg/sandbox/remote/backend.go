package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
)

// Acquirer hands out sandbox server URLs. Implementations exist for
// static URL mode (development) and claim mode (one pod per run).
type Acquirer interface {
	// Acquire returns a sandbox URL to run against. The release function
	// must be called after the run to clean up.
	Acquire(ctx context.Context) (sandboxURL string, release func(), err error)
}

// StaticAcquirer returns a fixed sandbox URL (development mode).
type StaticAcquirer struct {
	URL string
}

func (a *StaticAcquirer) Acquire(_ context.Context) (string, func(), error) {
	return a.URL, func() {}, nil
}

// Backend runs extractions on sandbox servers reached over HTTP.
type Backend struct {
	acquirer Acquirer
	client   *Client
}

var _ sandbox.Backend = (*Backend)(nil)

// NewBackend wraps an acquirer in a sandbox backend.
func NewBackend(acquirer Acquirer) *Backend {
	return &Backend{acquirer: acquirer, client: NewClient()}
}

// Name identifies this backend in logs and metrics.
func (b *Backend) Name() string { return "remote" }

// Available reports whether a sandbox could be reached. Static URLs are
// probed with a health check; claim-based acquirers are assumed
// available since pods only exist once claimed.
func (b *Backend) Available(ctx context.Context) bool {
	if b.acquirer == nil {
		return false
	}
	if static, ok := b.acquirer.(*StaticAcquirer); ok {
		if err := b.client.Health(ctx, static.URL); err != nil {
			debug.Log("sandbox", "sandbox server health check failed", "url", static.URL, "error", err)
			return false
		}
	}
	return true
}

// Extract acquires a sandbox, runs the extraction there, and decodes
// the returned feature sets.
func (b *Backend) Extract(ctx context.Context, p sandbox.Payload) ([]feature.Set, *sandbox.Diagnostics, error) {
	if b.acquirer == nil {
		return nil, nil, fmt.Errorf("no sandbox acquirer configured: %w", sandbox.ErrUnavailable)
	}

	url, release, err := b.acquirer.Acquire(ctx)
	if err != nil {
		return nil, nil, &sandbox.ExecutionError{
			Stage: sandbox.StageLaunch,
			Err:   fmt.Errorf("acquire sandbox: %w", err),
		}
	}
	defer release()
	debug.Log("sandbox", "sandbox acquired", "url", url)

	known, err := sandbox.EncodeSets(p.Known)
	if err != nil {
		return nil, nil, &sandbox.ExecutionError{Stage: sandbox.StagePrepare, Err: err}
	}

	resp, err := b.client.Extract(ctx, url, &ExtractRequest{
		Script:         p.Script,
		KnownCBOR:      known,
		TimeoutSeconds: int(p.Timeout.Seconds()),
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrUnavailable) {
			return nil, nil, err
		}
		return nil, nil, &sandbox.ExecutionError{Stage: sandbox.StageWait, Err: err}
	}

	diag := &sandbox.Diagnostics{Stdout: resp.Stdout, Stderr: resp.Stderr}
	switch resp.Status {
	case StatusOK:
	case StatusTimeout:
		return nil, diag, fmt.Errorf("sandbox run exceeded %s: %w", p.Timeout, sandbox.ErrTimeout)
	default:
		return nil, diag, &sandbox.ExecutionError{
			Stage: sandbox.StageWait,
			Err:   fmt.Errorf("sandbox reported %q: %s", resp.Status, resp.Error),
		}
	}

	results, err := sandbox.DecodeSets(resp.ResultsCBOR)
	if err != nil {
		return nil, diag, &sandbox.ExecutionError{Stage: sandbox.StageDecode, Err: err}
	}
	return results, diag, nil
}
