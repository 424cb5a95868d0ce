// Package docker runs feature extraction sandboxes as one-shot Docker
// containers over the Docker Engine API. Each run stages its inputs in
// a session directory, bind-mounts it into a network-less container,
// and collects the encoded results when the container exits.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
)

// DefaultImage is the sandbox image used when none is configured.
const DefaultImage = "cepheid/sandbox:latest"

// defaultRunner is the command executed inside the container. The
// image ships the runner on its PATH.
var defaultRunner = []string{"cepheid-sandbox-runner", "-in", "/in", "-out", "/out"}

// staleSessionTTL is the age past which a leftover session directory
// from a crashed prior run is reclaimed at backend construction.
// Sessions live for one container run, so an hour is generous.
const staleSessionTTL = time.Hour

// dockerAPI is the slice of the Engine API the backend needs. The
// concrete *client.Client satisfies it; tests substitute a fake.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Options configures the Docker backend.
type Options struct {
	// Image is the sandbox image reference. Defaults to DefaultImage.
	Image string
	// BaseDir is where session directories are created. Defaults to the
	// system temp directory.
	BaseDir string
	// Runner overrides the command run inside the container.
	Runner []string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Backend launches sandbox containers against a local Docker daemon.
type Backend struct {
	api     dockerAPI
	image   string
	baseDir string
	runner  []string
	logger  *slog.Logger
}

var _ sandbox.Backend = (*Backend)(nil)

// New connects to the Docker daemon using the standard environment
// configuration (DOCKER_HOST and friends).
func New(opts Options) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return newWithAPI(cli, opts), nil
}

func newWithAPI(api dockerAPI, opts Options) *Backend {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if len(opts.Runner) == 0 {
		opts.Runner = defaultRunner
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	// Reclaim session directories a crashed prior run never cleaned up.
	if n, err := sandbox.SweepStale(opts.BaseDir, staleSessionTTL); err != nil {
		opts.Logger.Warn("stale session sweep failed", "error", err)
	} else if n > 0 {
		opts.Logger.Info("removed stale session directories", "count", n)
	}
	return &Backend{
		api:     api,
		image:   opts.Image,
		baseDir: opts.BaseDir,
		runner:  opts.Runner,
		logger:  opts.Logger,
	}
}

// Name identifies this backend in logs and metrics.
func (b *Backend) Name() string { return "docker" }

// Available reports whether the daemon answers and the sandbox image
// is present locally.
func (b *Backend) Available(ctx context.Context) bool {
	if _, err := b.api.Ping(ctx); err != nil {
		debug.Log("sandbox", "docker daemon not reachable", "error", err)
		return false
	}
	images, err := b.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		debug.Log("sandbox", "docker image list failed", "error", err)
		return false
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == b.image {
				return true
			}
		}
	}
	debug.Log("sandbox", "sandbox image not present", "image", b.image)
	return false
}

// Extract runs one extraction in a fresh container and returns the
// decoded per-dataset results.
func (b *Backend) Extract(ctx context.Context, p sandbox.Payload) ([]feature.Set, *sandbox.Diagnostics, error) {
	session, err := sandbox.NewSession(b.baseDir)
	if err != nil {
		return nil, nil, &sandbox.ExecutionError{Stage: sandbox.StagePrepare, Err: err}
	}
	defer session.Close()

	data, err := sandbox.EncodePayload(p)
	if err != nil {
		return nil, nil, &sandbox.ExecutionError{Stage: sandbox.StagePrepare, Err: err}
	}
	if err := session.Stage(p.Script, data); err != nil {
		return nil, nil, &sandbox.ExecutionError{Stage: sandbox.StagePrepare, Err: err}
	}

	cfg := &container.Config{
		Image: b.image,
		Cmd:   b.runner,
		Env:   []string{sandbox.EnvMarker + "=1"},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{
			session.InDir() + ":/in:ro",
			session.OutDir() + ":/out",
		},
		NetworkMode: "none",
	}

	created, err := b.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "cepheid-run-"+session.ID)
	if err != nil {
		return nil, nil, &sandbox.ExecutionError{Stage: sandbox.StageLaunch, Err: err}
	}
	defer b.remove(ctx, created.ID)

	if err := b.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, nil, &sandbox.ExecutionError{Stage: sandbox.StageLaunch, Err: err}
	}
	debug.Log("sandbox", "container started", "container", created.ID, "session", session.ID)

	status, err := b.wait(ctx, created.ID, p.Timeout)
	diag := b.collectLogs(ctx, created.ID)
	if err != nil {
		return nil, diag, err
	}
	if status != 0 {
		return nil, diag, &sandbox.ExecutionError{
			Stage: sandbox.StageWait,
			Err:   fmt.Errorf("sandbox exited with status %d", status),
		}
	}

	raw, err := session.Results()
	if err != nil {
		return nil, diag, &sandbox.ExecutionError{Stage: sandbox.StageCollect, Err: err}
	}
	results, err := sandbox.DecodeSets(raw)
	if err != nil {
		return nil, diag, &sandbox.ExecutionError{Stage: sandbox.StageDecode, Err: err}
	}
	return results, diag, nil
}

// wait blocks until the container stops, the per-run timeout fires, or
// the caller's context ends.
func (b *Backend) wait(ctx context.Context, id string, timeout time.Duration) (int64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	statusCh, errCh := b.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return 0, &sandbox.ExecutionError{
				Stage: sandbox.StageWait,
				Err:   fmt.Errorf("container wait: %s", status.Error.Message),
			}
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, fmt.Errorf("sandbox run exceeded %s: %w", timeout, sandbox.ErrTimeout)
		}
		return 0, &sandbox.ExecutionError{Stage: sandbox.StageWait, Err: err}
	case <-ctx.Done():
		return 0, fmt.Errorf("sandbox run exceeded %s: %w", timeout, sandbox.ErrTimeout)
	}
}

// collectLogs fetches whatever the container wrote, even when the run
// itself already failed or timed out.
func (b *Backend) collectLogs(ctx context.Context, id string) *sandbox.Diagnostics {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	rc, err := b.api.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		debug.Log("sandbox", "log collection failed", "container", id, "error", err)
		return &sandbox.Diagnostics{}
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		debug.Log("sandbox", "log demux failed", "container", id, "error", err)
	}
	return &sandbox.Diagnostics{Stdout: stdout.String(), Stderr: stderr.String()}
}

// remove force-deletes the container, surviving a cancelled caller
// context so cleanup still happens after timeouts.
func (b *Backend) remove(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := b.api.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
		b.logger.Warn("failed to remove sandbox container", "container", id, "error", err)
	}
}
