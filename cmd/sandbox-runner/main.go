// Command sandbox-runner executes one staged extraction inside a
// sandbox container. It reads the encoded payload from the in/
// directory, runs the script's functions on the local Python
// interpreter, and writes the encoded results into the out/ directory.
// The sandbox image ships it on PATH as cepheid-sandbox-runner.
//
// Exit status: 0 on success, 2 when the run exceeds its budget, 1 on
// any other failure. Anything written to stderr surfaces in the host's
// sandbox diagnostics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/pyexec"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
)

func main() {
	inDir := flag.String("in", "/in", "directory holding the staged payload")
	outDir := flag.String("out", "/out", "directory to write results into")
	python := flag.String("python", pyexec.DefaultPython, "python interpreter for feature functions")
	flag.Parse()
	debug.Init("", "")

	os.Exit(run(*inDir, *outDir, *python))
}

func run(inDir, outDir, python string) int {
	raw, err := os.ReadFile(filepath.Join(inDir, sandbox.PayloadFileName))
	if err != nil {
		return fail("read payload: %v", err)
	}
	p, err := sandbox.DecodePayload(raw)
	if err != nil {
		return fail("decode payload: %v", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = sandbox.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results, err := engine.RunLocal(ctx, python, p.Script, p.Known, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "extraction timed out after %s\n", timeout)
			return 2
		}
		return fail("extraction failed: %v", err)
	}

	encoded, err := sandbox.EncodeSets(results)
	if err != nil {
		return fail("encode results: %v", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, sandbox.ResultsFileName), encoded, 0o644); err != nil {
		return fail("write results: %v", err)
	}
	return 0
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 1
}
