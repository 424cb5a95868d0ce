// Package integration tests the cepheid HTTP API end to end: a real
// adapter with the production middleware stack, a real sandbox
// orchestrator speaking the remote wire protocol, and an in-memory
// script registry. The sandbox server double computes the suite's
// feature functions in Go, so the full path runs without Docker or a
// Python interpreter.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cepheid-ml/cepheid/pkg/api"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/observability"
	"github.com/cepheid-ml/cepheid/pkg/registry/memory"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
	"github.com/cepheid-ml/cepheid/pkg/sandbox/remote"
	"github.com/cepheid-ml/cepheid/pkg/schedule"
	"github.com/cepheid-ml/cepheid/pkg/script"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
	"github.com/cepheid-ml/cepheid/pkg/transport"
	transporthttp "github.com/cepheid-ml/cepheid/pkg/transport/http"
	"github.com/cepheid-ml/cepheid/pkg/verify"
)

// Scripts used across the suite. Their functions are implemented in Go
// by the sandbox double (see invokeTestFunction).
const (
	avgScript = `@myFeature(requires=['m'], provides=['avg_m'])
def avg_mag(m):
    return {'avg_m': sum(m) / len(m)}
`

	chainedScript = avgScript + `
@myFeature(requires=['avg_m'], provides=['bright'])
def is_bright(avg_m):
    return {'bright': avg_m < 12}
`

	failingScript = `@myFeature(requires=['m'], provides=['doom'])
def always_fails(m):
    raise RuntimeError('synthetic failure')
`
)

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the cepheid API server and the sandbox double.
type TestEnvironment struct {
	APIServer     *httptest.Server
	SandboxServer *httptest.Server
}

func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment wires the production layout in-process: adapter
// behind the middleware chain, metrics middleware outermost, and a
// remote sandbox backend pointed at the double.
func setupTestEnvironment() *TestEnvironment {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sandboxSrv := startSandboxServer()
	backend := remote.NewBackend(&remote.StaticAcquirer{URL: sandboxSrv.URL})
	orch := sandbox.NewOrchestrator(backend, logger, 30*time.Second)

	// Extraction always routes through the sandbox here; the host-mode
	// selection logic is covered by the engine's own tests.
	extractor := &sandboxExtractor{orch: orch}
	verifier := verify.NewVerifier(orch, logger)
	store := memory.New(100)

	cfg := transporthttp.DefaultConfig()
	cfg.MaxBodySize = 1 << 20 // keeps the oversized-body test cheap
	cfg.Sandbox = "remote"
	cfg.Version = "integration"

	adapter := transporthttp.NewAdapter(extractor, verifier, store, cfg,
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(logger),
	)

	mux := http.NewServeMux()
	mux.Handle("/", adapter.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	return &TestEnvironment{
		APIServer:     httptest.NewServer(observability.MetricsMiddleware(mux)),
		SandboxServer: sandboxSrv,
	}
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.APIServer != nil {
		env.APIServer.Close()
	}
	if env.SandboxServer != nil {
		env.SandboxServer.Close()
	}
}

// BaseURL returns the cepheid API server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.APIServer.URL
}

// sandboxExtractor normalizes inputs and runs them in the sandbox,
// unconditionally.
type sandboxExtractor struct {
	orch *sandbox.Orchestrator
}

func (e *sandboxExtractor) Extract(ctx context.Context, scriptSrc string, inputs []timeseries.Input) (*engine.Outcome, error) {
	known, err := timeseries.ResolveBatch(inputs)
	if err != nil {
		return nil, err
	}
	results, diag, err := e.orch.Extract(ctx, scriptSrc, known)
	if err != nil {
		return nil, err
	}
	return &engine.Outcome{Features: results, Mode: engine.ModeSandboxed, Diagnostics: diag}, nil
}

// --- HTTP helpers ---

// postJSON sends a POST request with JSON body and returns the response.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// getURL sends a GET request and returns the response.
func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// deleteURL sends a DELETE request and returns the response.
func deleteURL(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("creating DELETE request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", url, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// decodeError decodes the error envelope and checks the HTTP status.
func decodeError(t *testing.T, resp *http.Response, wantStatus int) *api.APIError {
	t.Helper()
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected HTTP %d, got %d: %s", wantStatus, resp.StatusCode, readBody(t, resp))
	}
	var envelope api.ErrorResponse
	decodeJSON(t, resp, &envelope)
	if envelope.Error == nil {
		t.Fatal("error response has no error object")
	}
	return envelope.Error
}

// registerScript registers a script and returns its ID.
func registerScript(t *testing.T, name, source string) string {
	t.Helper()
	resp := postJSON(t, testEnv.BaseURL()+"/v1/scripts", map[string]any{
		"name":   name,
		"source": source,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("registering %q: HTTP %d: %s", name, resp.StatusCode, readBody(t, resp))
	}
	var script struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &script)
	return script.ID
}

// --- Sandbox server double ---

// startSandboxServer creates an httptest server speaking the remote
// sandbox wire protocol. Scripts are parsed and scheduled exactly as
// the real in-sandbox runner does; only the function invocations are
// computed in Go.
func startSandboxServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract", handleSandboxExtract)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func handleSandboxExtract(w http.ResponseWriter, r *http.Request) {
	var req remote.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	known, err := sandbox.DecodeSets(req.KnownCBOR)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	contracts, _ := script.Parse(req.Script)
	results := make([]feature.Set, 0, len(known))
	for _, k := range known {
		res, err := schedule.Run(r.Context(), contracts, k, schedule.InvokerFunc(invokeTestFunction))
		if err != nil {
			writeSandboxResponse(w, remote.ExtractResponse{
				Status: remote.StatusError,
				Error:  err.Error(),
				Stderr: err.Error(),
			})
			return
		}
		results = append(results, res.Extracted)
	}

	encoded, err := sandbox.EncodeSets(results)
	if err != nil {
		writeSandboxResponse(w, remote.ExtractResponse{Status: remote.StatusError, Error: err.Error()})
		return
	}
	writeSandboxResponse(w, remote.ExtractResponse{Status: remote.StatusOK, ResultsCBOR: encoded})
}

func writeSandboxResponse(w http.ResponseWriter, resp remote.ExtractResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// invokeTestFunction computes the suite's feature functions in Go.
func invokeTestFunction(_ context.Context, c script.Contract, args feature.Set) (feature.Set, error) {
	switch c.Name {
	case "avg_mag":
		m, err := feature.Floats(args[feature.KeyMeasurement])
		if err != nil {
			return nil, err
		}
		sum := 0.0
		for _, v := range m {
			sum += v
		}
		return feature.Set{"avg_m": sum / float64(len(m))}, nil

	case "is_bright":
		avg, err := feature.Float(args["avg_m"])
		if err != nil {
			return nil, err
		}
		return feature.Set{"bright": avg < 12}, nil

	case "always_fails":
		return nil, errors.New("RuntimeError: synthetic failure")

	default:
		return nil, fmt.Errorf("function %q not implemented by the test sandbox", c.Name)
	}
}
