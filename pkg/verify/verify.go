// Package verify runs candidate feature scripts against a fixed
// battery of trial datasets before they are trusted for production
// extraction. Untrusted code only ever runs in isolation: when no
// sandbox is available the verifier refuses rather than running the
// script on the host.
package verify

import (
	"context"
	"log/slog"
	"math"

	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/observability"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
	"github.com/cepheid-ml/cepheid/pkg/script"
)

// Isolator runs a script against datasets in an isolated environment.
// *sandbox.Orchestrator satisfies it.
type Isolator interface {
	Available(ctx context.Context) bool
	Extract(ctx context.Context, scriptSrc string, known []feature.Set) ([]feature.Set, *sandbox.Diagnostics, error)
}

var _ Isolator = (*sandbox.Orchestrator)(nil)

// Report is the outcome of verifying one candidate script.
type Report struct {
	// Verified is true only when the script ran the whole battery in
	// isolation and produced every declared feature.
	Verified bool `json:"verified"`
	// Reason explains a false Verified: what failed, or why the run was
	// refused.
	Reason string `json:"reason,omitempty"`
	// Features lists the feature names the script declares it provides,
	// in declaration order. Populated whenever the script parses, even
	// for refused runs, since parsing never executes script code.
	Features []string `json:"features,omitempty"`
	// Extracted holds the per-dataset battery results on success,
	// positionally aligned with Battery().
	Extracted []feature.Set `json:"extracted,omitempty"`
}

// Verifier decides whether candidate scripts are well-formed.
type Verifier struct {
	iso    Isolator
	logger *slog.Logger
}

// NewVerifier returns a verifier running scripts through iso.
func NewVerifier(iso Isolator, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{iso: iso, logger: logger}
}

// Verify parses the script, then runs it against the battery inside
// the isolator. A script is rejected when any battery dataset fails;
// the third dataset is deliberately boundary-shaped (single point,
// scalar coordinate), so surviving it is part of being well-formed.
func (v *Verifier) Verify(ctx context.Context, scriptSrc string) Report {
	contracts, diags := script.Parse(scriptSrc)
	if len(contracts) == 0 {
		reason := "script declares no feature contracts"
		if len(diags) > 0 {
			reason += " (" + diags[0].Reason + ")"
		}
		observability.VerificationsTotal.WithLabelValues("failed").Inc()
		return Report{Reason: reason}
	}

	report := Report{Features: contracts.ProvidedFeatures()}

	if v.iso == nil || !v.iso.Available(ctx) {
		v.logger.Warn("isolation unavailable, refusing to run untrusted script on the host")
		observability.VerificationsTotal.WithLabelValues("refused").Inc()
		report.Reason = "isolation unavailable: script not verified"
		return report
	}

	results, diag, err := v.iso.Extract(ctx, scriptSrc, Battery())
	if err != nil {
		if diag != nil && diag.Stderr != "" {
			v.logger.Warn("script failed verification", "stderr", diag.Stderr)
		}
		observability.VerificationsTotal.WithLabelValues("failed").Inc()
		report.Reason = err.Error()
		return report
	}

	observability.VerificationsTotal.WithLabelValues("verified").Inc()
	report.Verified = true
	report.Extracted = results
	return report
}

// Battery returns the fixed trial datasets every candidate script must
// survive: a realistic light curve, a small series with different
// coordinates, and a boundary-shaped case with a single-point series
// and a scalar coordinate. A fresh copy is built per call.
func Battery() []feature.Set {
	t, m, e := sampleLightCurve(100)
	return []feature.Set{
		{
			feature.KeyTime:        t,
			feature.KeyMeasurement: m,
			feature.KeyError:       e,
			"coords":               []float64{0, 0},
		},
		{
			feature.KeyTime:        []float64{1, 2, 3},
			feature.KeyMeasurement: []float64{50, 51, 52},
			feature.KeyError:       []float64{0.3, 0.2, 0.4},
			"coords":               []float64{-11, -55},
		},
		{
			feature.KeyTime:        []float64{1},
			feature.KeyMeasurement: []float64{50},
			feature.KeyError:       []float64{0.3},
			"coords":               2,
		},
	}
}

// sampleLightCurve builds a deterministic periodic light curve with
// slightly uneven sampling, shaped like the survey data the engine
// sees in production.
func sampleLightCurve(n int) (t, m, e []float64) {
	t = make([]float64, n)
	m = make([]float64, n)
	e = make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		t[i] = x*0.5 + 0.01*math.Sin(x)
		m[i] = 10.0 + 2.0*math.Sin(2*math.Pi*x/25)
		e[i] = 0.1 + 0.01*math.Mod(x, 3)
	}
	return t, m, e
}
