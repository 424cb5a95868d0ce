// Package pyexec invokes feature functions of a user script, one Python
// subprocess per call. The service process never imports user code.
package pyexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/schedule"
	"github.com/cepheid-ml/cepheid/pkg/script"
)

// DefaultPython is the interpreter used when the Runner does not name
// one.
const DefaultPython = "python3"

// DefaultTimeout bounds a single function invocation when the Runner
// does not set its own.
const DefaultTimeout = 60 * time.Second

// maxStderrTail bounds how much interpreter stderr is kept for error
// messages and diagnostics.
const maxStderrTail = 4096

// Runner invokes functions of one staged script. It implements
// schedule.Invoker.
type Runner struct {
	Python     string        // interpreter binary, "python3" when empty
	ScriptPath string        // staged script on disk
	Timeout    time.Duration // per-invocation budget, DefaultTimeout when zero
}

var _ schedule.Invoker = (*Runner)(nil)

// execPython runs the interpreter and returns its stdout and bounded
// stderr. Replaced in tests.
var execPython = runPython

// Invoke runs one feature function in a fresh interpreter process,
// passing args as JSON on stdin and decoding the JSON result from
// stdout.
func (r *Runner) Invoke(ctx context.Context, c script.Contract, args feature.Set) (feature.Set, error) {
	stdin, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments for %q: %w", c.Name, err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	python := r.Python
	if python == "" {
		python = DefaultPython
	}

	debug.Log("pyexec", "invoking function", "function", c.Name, "script", r.ScriptPath, "timeout", timeout)
	stdout, stderr, err := execPython(ctx, python, []string{"-c", harness, r.ScriptPath, c.Name}, stdin)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("function %q timed out after %s: %w", c.Name, timeout, context.DeadlineExceeded)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("function %q exited with code %d: %s",
				c.Name, exitErr.ExitCode(), strings.TrimSpace(string(stderr)))
		}
		return nil, fmt.Errorf("run function %q: %w", c.Name, err)
	}
	if len(stderr) > 0 {
		debug.Log("pyexec", "function stderr", "function", c.Name, "stderr", debug.Truncate(string(stderr), 512))
	}
	if debug.TraceIsEnabled("pyexec") {
		debug.Trace("pyexec", "function stdout", "function", c.Name, "stdout", string(stdout))
	}

	var out map[string]any
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("function %q produced invalid output: %w", c.Name, err)
	}
	return feature.Set(out), nil
}

// runPython executes the interpreter with argv, feeding stdin and
// capturing full stdout plus a bounded stderr tail.
func runPython(ctx context.Context, python string, argv []string, stdin []byte) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, python, argv...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout bytes.Buffer
	stderr := &tailBuffer{max: maxStderrTail}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// StageScript writes script source into a private temp directory and
// returns the file path together with a cleanup func. The cleanup must
// run on every exit path.
func StageScript(src string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "cepheid-script-")
	if err != nil {
		return "", nil, fmt.Errorf("stage script: %w", err)
	}
	path := filepath.Join(dir, "script.py")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("stage script: %w", err)
	}
	return path, func() { _ = os.RemoveAll(dir) }, nil
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

// Write implements io.Writer.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

// Bytes returns the retained tail.
func (t *tailBuffer) Bytes() []byte {
	return t.buf
}
