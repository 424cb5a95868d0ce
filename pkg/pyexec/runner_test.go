package pyexec

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/script"
)

// stubExec replaces execPython for a test and records the invocation.
type stubExec struct {
	python string
	argv   []string
	stdin  []byte

	stdout []byte
	stderr []byte
	err    error
}

func (s *stubExec) install(t *testing.T) {
	t.Helper()
	orig := execPython
	execPython = func(_ context.Context, python string, argv []string, stdin []byte) ([]byte, []byte, error) {
		s.python = python
		s.argv = argv
		s.stdin = stdin
		return s.stdout, s.stderr, s.err
	}
	t.Cleanup(func() { execPython = orig })
}

func TestRunnerInvoke(t *testing.T) {
	stub := &stubExec{stdout: []byte(`{"avg_m": 8.5}`)}
	stub.install(t)

	r := &Runner{Python: "python3", ScriptPath: "/tmp/script.py"}
	contract := script.Contract{Name: "avg_mag", Requires: []string{"m"}, Provides: []string{"avg_m"}}

	out, err := r.Invoke(context.Background(), contract, feature.Set{"m": []float64{1, 23, 2}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out["avg_m"] != 8.5 {
		t.Errorf("avg_m = %v, want 8.5", out["avg_m"])
	}

	if stub.python != "python3" {
		t.Errorf("python = %q", stub.python)
	}
	if len(stub.argv) != 4 || stub.argv[0] != "-c" {
		t.Fatalf("argv = %v, want -c harness plus script path and function name", stub.argv)
	}
	if !strings.Contains(stub.argv[1], "myFeature") {
		t.Errorf("harness source not passed via -c")
	}
	if stub.argv[2] != "/tmp/script.py" || stub.argv[3] != "avg_mag" {
		t.Errorf("argv tail = %v, want script path and function name", stub.argv[2:])
	}
}

func TestRunnerInvokePassesArgsAsJSON(t *testing.T) {
	stub := &stubExec{stdout: []byte(`{}`)}
	stub.install(t)

	r := &Runner{ScriptPath: "s.py"}
	args := feature.Set{"m": []float64{1, 2}, "coords": []float64{22, 33}}
	if _, err := r.Invoke(context.Background(), script.Contract{Name: "f"}, args); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(stub.stdin, &decoded); err != nil {
		t.Fatalf("stdin is not JSON: %v", err)
	}
	m, err := feature.Floats(decoded["m"])
	if err != nil || len(m) != 2 || m[1] != 2 {
		t.Errorf("m = %v (%v)", decoded["m"], err)
	}
}

func TestRunnerInvokeDefaultsInterpreter(t *testing.T) {
	stub := &stubExec{stdout: []byte(`{}`)}
	stub.install(t)

	r := &Runner{ScriptPath: "s.py"}
	if _, err := r.Invoke(context.Background(), script.Contract{Name: "f"}, feature.Set{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if stub.python != "python3" {
		t.Errorf("python = %q, want python3 default", stub.python)
	}
}

func TestRunnerInvokeExecErrorNamesFunction(t *testing.T) {
	cause := errors.New("interpreter missing")
	stub := &stubExec{err: cause}
	stub.install(t)

	r := &Runner{ScriptPath: "s.py"}
	_, err := r.Invoke(context.Background(), script.Contract{Name: "avg_mag"}, feature.Set{})
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
	if !strings.Contains(err.Error(), "avg_mag") {
		t.Errorf("error does not name the function: %v", err)
	}
}

func TestRunnerInvokeTimeout(t *testing.T) {
	orig := execPython
	execPython = func(ctx context.Context, _ string, _ []string, _ []byte) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	t.Cleanup(func() { execPython = orig })

	r := &Runner{ScriptPath: "s.py", Timeout: 5 * time.Millisecond}
	_, err := r.Invoke(context.Background(), script.Contract{Name: "slow"}, feature.Set{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want timeout message", err)
	}
}

func TestRunnerInvokeBadOutput(t *testing.T) {
	stub := &stubExec{stdout: []byte("not json")}
	stub.install(t)

	r := &Runner{ScriptPath: "s.py"}
	_, err := r.Invoke(context.Background(), script.Contract{Name: "f"}, feature.Set{})
	if err == nil || !strings.Contains(err.Error(), "invalid output") {
		t.Fatalf("err = %v, want invalid output error", err)
	}
}

func TestStageScript(t *testing.T) {
	path, cleanup, err := StageScript("print('hi')\n")
	if err != nil {
		t.Fatalf("StageScript: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("staged script unreadable: %v", err)
	}
	if string(data) != "print('hi')\n" {
		t.Errorf("staged content = %q", data)
	}
	if !strings.HasSuffix(path, "script.py") {
		t.Errorf("path = %q, want script.py name", path)
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("cleanup left the staged script behind")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	tb.Write([]byte("0123456789abcdef"))
	if got := string(tb.Bytes()); got != "89abcdef" {
		t.Errorf("tail = %q, want last 8 bytes", got)
	}
}
