// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the cepheid feature-extraction service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExtractionBuckets defines histogram buckets suited for feature
// extraction latencies, from fast in-process runs to sandboxed runs
// that take up to two minutes.
var ExtractionBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// RoundBuckets covers the scheduler round counts seen in practice;
// dependency chains deeper than a dozen rounds are pathological.
var RoundBuckets = []float64{1, 2, 3, 4, 5, 8, 13}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cepheid_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cepheid_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ExtractionBuckets,
		},
		[]string{"method", "route"},
	)

	// InflightExtractions tracks extraction requests currently being served.
	InflightExtractions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cepheid_extractions_inflight",
			Help: "Extraction requests in flight",
		},
	)

	// ExtractionsTotal counts extraction runs by execution mode and outcome.
	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cepheid_extractions_total",
			Help: "Extraction runs",
		},
		[]string{"mode", "status"},
	)

	// ExtractionDuration records end-to-end extraction latency in seconds.
	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cepheid_extraction_duration_seconds",
			Help:    "Extraction latency",
			Buckets: ExtractionBuckets,
		},
		[]string{"mode"},
	)

	// SchedulerRounds records how many dependency rounds each extraction needed.
	SchedulerRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cepheid_scheduler_rounds",
			Help:    "Scheduler rounds per extraction",
			Buckets: RoundBuckets,
		},
	)

	// SandboxLaunchesTotal counts sandbox launches by backend and outcome.
	SandboxLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cepheid_sandbox_launches_total",
			Help: "Sandbox launches",
		},
		[]string{"backend", "status"},
	)

	// SandboxDuration records the wall time of successful sandbox runs.
	SandboxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cepheid_sandbox_duration_seconds",
			Help:    "Sandbox run duration",
			Buckets: ExtractionBuckets,
		},
		[]string{"backend"},
	)

	// VerificationsTotal counts script verification attempts by outcome.
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cepheid_script_verifications_total",
			Help: "Script verifications",
		},
		[]string{"status"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cepheid_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InflightExtractions,
		ExtractionsTotal,
		ExtractionDuration,
		SchedulerRounds,
		SandboxLaunchesTotal,
		SandboxDuration,
		VerificationsTotal,
		RateLimitRejectedTotal,
	)
}
