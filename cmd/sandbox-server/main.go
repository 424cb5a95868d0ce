// Command sandbox-server runs the extraction REST API inside sandbox
// pods and containers. It receives a script plus CBOR-encoded datasets,
// executes them on the pod's Python interpreter via the local engine
// path, and returns the extracted feature sets.
//
// Configuration:
//
//	CEPHEID_SANDBOX_PORT           - Listen port (default: 8080)
//	CEPHEID_SANDBOX_MAX_CONCURRENT - Max concurrent extractions (default: 2)
//	CEPHEID_SANDBOX_PYTHON         - Python interpreter (default: python3)
//	CEPHEID_SANDBOX_MAX_BODY_MB    - Request body cap in MiB (default: 32)
//	CEPHEID_DEBUG                  - Debug log categories (see pkg/debug)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/pyexec"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
	"github.com/cepheid-ml/cepheid/pkg/sandbox/remote"
)

func main() {
	port := envOr("CEPHEID_SANDBOX_PORT", "8080")
	maxConcurrent := envOrInt("CEPHEID_SANDBOX_MAX_CONCURRENT", 2)
	python := envOr("CEPHEID_SANDBOX_PYTHON", pyexec.DefaultPython)
	maxBodyMB := envOrInt("CEPHEID_SANDBOX_MAX_BODY_MB", 32)
	debug.Init("", "")

	// This process is the inside of the sandbox. Mark it so nothing that
	// consults sandbox.InSandbox ever tries to nest isolation.
	os.Setenv(sandbox.EnvMarker, "1")

	if _, err := exec.LookPath(python); err != nil {
		slog.Error("python interpreter not found in PATH", "python", python)
		os.Exit(1)
	}

	srv := &sandboxServer{
		python:        python,
		pythonVersion: detectPythonVersion(python),
		maxConcurrent: int32(maxConcurrent),
		maxBody:       int64(maxBodyMB) << 20,
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract", srv.handleExtract)
	mux.HandleFunc("GET /health", srv.handleHealth)

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second, // Long timeout for script execution.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox server starting",
			"port", port,
			"python", srv.pythonVersion,
			"max_concurrent", maxConcurrent,
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

// --- Server ---

type sandboxServer struct {
	python        string
	pythonVersion string // e.g. "Python 3.12.4"
	maxConcurrent int32
	currentLoad   atomic.Int32
	maxBody       int64
	startTime     time.Time
}

// --- Extract handler ---

func (s *sandboxServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	// Check capacity. The orchestrator maps 429 to ErrUnavailable and
	// reports the run as refused rather than failed.
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if current > s.maxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent extractions)", current, s.maxConcurrent))
		return
	}

	var req remote.ExtractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Script == "" {
		writeError(w, http.StatusBadRequest, "script is required")
		return
	}

	known, err := sandbox.DecodeSets(req.KnownCBOR)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = sandbox.DefaultTimeout
	}

	slog.Info("extract request",
		"script_bytes", len(req.Script),
		"datasets", len(known),
		"timeout", timeout,
	)

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()
	results, runErr := engine.RunLocal(ctx, s.python, req.Script, known, timeout)
	duration := time.Since(start)

	resp := remote.ExtractResponse{
		Status:          remote.StatusOK,
		ExecutionTimeMs: duration.Milliseconds(),
	}
	switch {
	case runErr == nil:
		encoded, err := sandbox.EncodeSets(results)
		if err != nil {
			resp.Status = remote.StatusError
			resp.Error = "encode results: " + err.Error()
			break
		}
		resp.ResultsCBOR = encoded
	case errors.Is(runErr, context.DeadlineExceeded):
		resp.Status = remote.StatusTimeout
		resp.Error = fmt.Sprintf("extraction timed out after %s", timeout)
	default:
		resp.Status = remote.StatusError
		resp.Error = runErr.Error()
	}

	slog.Info("extract complete",
		"status", resp.Status,
		"datasets", len(known),
		"duration_ms", resp.ExecutionTimeMs,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Health handler ---

type healthResponse struct {
	Status        string `json:"status"`
	PythonVersion string `json:"python_version"`
	Capacity      int    `json:"capacity"`
	CurrentLoad   int    `json:"current_load"`
	UptimeSecs    int64  `json:"uptime_seconds"`
}

func (s *sandboxServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:        "healthy",
		PythonVersion: s.pythonVersion,
		Capacity:      int(s.maxConcurrent),
		CurrentLoad:   int(s.currentLoad.Load()),
		UptimeSecs:    int64(time.Since(s.startTime).Seconds()),
	})
}

// detectPythonVersion returns the interpreter's version banner, first
// line only.
func detectPythonVersion(python string) string {
	out, err := exec.Command(python, "--version").CombinedOutput()
	if err != nil {
		return "unknown"
	}
	version := strings.TrimSpace(string(out))
	if idx := strings.Index(version, "\n"); idx > 0 {
		version = version[:idx]
	}
	return version
}

// --- Helpers ---

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
