// Command cepheid runs feature extraction from the command line: point
// it at a feature script and a dataset and it prints the extracted
// features. It can also list the features a script provides and run
// the acceptance battery against it.
//
// Examples:
//
//	cepheid -script features.py -csv lightcurve.csv
//	cepheid -script features.py -data $'1,10.2\n2,10.9' -meta coords=-11,-55
//	cepheid -script features.py -list
//	cepheid -script features.py -verify
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

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
	scriptPath := flag.String("script", "", "path to the feature script (required)")
	csvPath := flag.String("csv", "", "CSV dataset file")
	data := flag.String("data", "", "inline CSV dataset text")
	list := flag.Bool("list", false, "print the features the script provides and exit")
	runVerify := flag.Bool("verify", false, "run the acceptance battery and exit")
	local := flag.Bool("local", false, "force unsandboxed execution on the host")
	image := flag.String("sandbox-image", envOrDefault("CEPHEID_SANDBOX_IMAGE", docker.DefaultImage), "sandbox container image")
	python := flag.String("python", envOrDefault("CEPHEID_PYTHON", pyexec.DefaultPython), "python interpreter for local runs")
	timeout := flag.Duration("timeout", sandbox.DefaultTimeout, "per-run budget")
	jsonOut := flag.Bool("json", false, "print results as JSON")
	verbose := flag.Bool("v", false, "debug logging")

	meta := feature.Set{}
	flag.Func("meta", "dataset metadata as key=value (repeatable; comma-separated lists)", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return fmt.Errorf("want key=value, got %q", s)
		}
		meta[k] = parseMetaValue(v)
		return nil
	})
	flag.Parse()

	if *verbose {
		debug.Init("all", "DEBUG")
	} else {
		debug.Init("", "")
	}

	if err := run(*scriptPath, *csvPath, *data, meta, options{
		list:    *list,
		verify:  *runVerify,
		local:   *local,
		image:   *image,
		python:  *python,
		timeout: *timeout,
		jsonOut: *jsonOut,
	}); err != nil {
		slog.Error("cepheid failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	list    bool
	verify  bool
	local   bool
	image   string
	python  string
	timeout time.Duration
	jsonOut bool
}

func run(scriptPath, csvPath, data string, meta feature.Set, opts options) error {
	if scriptPath == "" {
		return errors.New("-script is required")
	}
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	if opts.list {
		return printFeatures(string(src), opts.jsonOut)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Only the docker backend makes sense from a workstation; remote and
	// kubernetes modes belong to the server.
	var orch *sandbox.Orchestrator
	if !opts.local {
		backend, err := docker.New(docker.Options{Image: opts.image})
		if err != nil {
			slog.Warn("docker unavailable, runs will fall back to the host", "error", err)
		} else {
			orch = sandbox.NewOrchestrator(backend, nil, opts.timeout)
		}
	}

	if opts.verify {
		return printReport(verify.NewVerifier(orch, nil).Verify(ctx, string(src)), opts.jsonOut)
	}

	if (csvPath == "") == (data == "") {
		return errors.New("exactly one of -csv or -data is required")
	}
	input := timeseries.Input{Path: csvPath, Text: data, Known: meta}

	eng := engine.New(orch, engine.Options{
		Python:     opts.python,
		Timeout:    opts.timeout,
		ForceLocal: opts.local,
	})
	outcome, err := eng.Extract(ctx, string(src), []timeseries.Input{input})
	if err != nil {
		return err
	}
	slog.Info("extraction complete", "mode", outcome.Mode, "features", len(outcome.Features[0]))

	if opts.jsonOut {
		return printJSON(outcome.Features)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, set := range outcome.Features {
		for _, k := range set.Keys() {
			fmt.Fprintf(w, "%s\t%v\n", k, set[k])
		}
	}
	return w.Flush()
}

func printFeatures(src string, jsonOut bool) error {
	names, diags := engine.ListFeatures(src)
	for _, d := range diags {
		slog.Warn("skipped annotation", "line", d.Line, "reason", d.Reason)
	}
	if jsonOut {
		return printJSON(names)
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func printReport(report verify.Report, jsonOut bool) error {
	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("verified: %v\n", report.Verified)
		if report.Reason != "" {
			fmt.Printf("reason: %s\n", report.Reason)
		}
		if len(report.Features) > 0 {
			fmt.Printf("features: %s\n", strings.Join(report.Features, ", "))
		}
	}
	if !report.Verified {
		return errors.New("script not verified")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMetaValue turns a flag value into the shape feature sets carry:
// a float when it parses, a float list when comma-separated, otherwise
// the raw string.
func parseMetaValue(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if strings.Contains(v, ",") {
		parts := strings.Split(v, ",")
		vals := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return v
			}
			vals = append(vals, f)
		}
		return vals
	}
	return v
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
