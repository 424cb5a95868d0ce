// Command mcp-server exposes feature extraction to MCP agents over
// streamable HTTP: listing the features a script provides, extracting
// features from a dataset, and running the acceptance battery. All
// three tools go through the same engine as the REST service, so
// agents get identical semantics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/pyexec"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
	"github.com/cepheid-ml/cepheid/pkg/sandbox/docker"
	"github.com/cepheid-ml/cepheid/pkg/timeseries"
	"github.com/cepheid-ml/cepheid/pkg/verify"
)

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	image := flag.String("sandbox-image", envOrDefault("CEPHEID_SANDBOX_IMAGE", docker.DefaultImage), "sandbox container image")
	python := flag.String("python", envOrDefault("CEPHEID_PYTHON", pyexec.DefaultPython), "python interpreter for local runs")
	local := flag.Bool("local", false, "force unsandboxed execution on the host")
	timeout := flag.Duration("timeout", sandbox.DefaultTimeout, "per-extraction budget")
	flag.Parse()
	debug.Init("", "")

	var orch *sandbox.Orchestrator
	if !*local {
		backend, err := docker.New(docker.Options{Image: *image})
		if err != nil {
			slog.Warn("docker unavailable, extractions will fall back to the host", "error", err)
		} else {
			orch = sandbox.NewOrchestrator(backend, nil, *timeout)
		}
	}
	eng := engine.New(orch, engine.Options{Python: *python, Timeout: *timeout, ForceLocal: *local})
	verifier := verify.NewVerifier(orch, nil)

	server := mcp.NewServer(
		&mcp.Implementation{Name: "cepheid", Version: "v1.0.0"},
		nil,
	)

	type listFeaturesInput struct {
		Script string `json:"script" jsonschema_description:"Feature script source text"`
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_features",
		Description: "Lists the features a script declares it provides, in declaration order",
	}, func(_ context.Context, _ *mcp.CallToolRequest, input listFeaturesInput) (*mcp.CallToolResult, struct{}, error) {
		names, diags := engine.ListFeatures(input.Script)
		out := struct {
			Features []string `json:"features"`
			Skipped  []string `json:"skipped_annotations,omitempty"`
		}{Features: names}
		for _, d := range diags {
			out.Skipped = append(out.Skipped, d.Reason)
		}
		return jsonResult(out)
	})

	type extractInput struct {
		Script  string    `json:"script" jsonschema_description:"Feature script source text"`
		CSVData string    `json:"csv_data,omitempty" jsonschema_description:"CSV dataset text, one t,m[,e] row per line"`
		T       []float64 `json:"t,omitempty" jsonschema_description:"Observation times (alternative to csv_data)"`
		M       []float64 `json:"m,omitempty" jsonschema_description:"Measurements, aligned with t"`
		E       []float64 `json:"e,omitempty" jsonschema_description:"Measurement errors, aligned with t (optional)"`
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "extract_features",
		Description: "Runs a feature script against one time-series dataset and returns the extracted features",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input extractInput) (*mcp.CallToolResult, struct{}, error) {
		in := timeseries.Input{Text: input.CSVData}
		if len(input.T) > 0 || len(input.M) > 0 {
			known := feature.Set{
				feature.KeyTime:        input.T,
				feature.KeyMeasurement: input.M,
			}
			if len(input.E) > 0 {
				known[feature.KeyError] = input.E
			}
			in.Known = known
		}
		outcome, err := eng.Extract(ctx, input.Script, []timeseries.Input{in})
		if err != nil {
			return nil, struct{}{}, err
		}
		return jsonResult(struct {
			Features feature.Set `json:"features"`
			Mode     string      `json:"mode"`
		}{Features: outcome.Features[0], Mode: outcome.Mode})
	})

	type verifyInput struct {
		Script string `json:"script" jsonschema_description:"Feature script source text"`
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "verify_script",
		Description: "Runs a feature script against the acceptance battery in isolation and reports whether it is well-formed",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input verifyInput) (*mcp.CallToolResult, struct{}, error) {
		return jsonResult(verifier.Verify(ctx, input.Script))
	})

	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	httpSrv := &http.Server{Addr: *addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mcp server starting", "addr", *addr, "sandboxed", orch != nil)
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

func jsonResult(v any) (*mcp.CallToolResult, struct{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, struct{}{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, struct{}{}, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
