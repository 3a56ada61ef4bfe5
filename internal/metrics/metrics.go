package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks HTTP requests issued by probes, per method and
	// response status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restprobe_requests_total",
			Help: "Total number of HTTP requests issued",
		},
		[]string{"method", "status"},
	)

	// RequestLatency tracks end-to-end request latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restprobe_request_latency_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RateLimitHits tracks 429 responses observed before any retry decision.
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restprobe_rate_limit_hits_total",
			Help: "Total number of 429 responses received",
		},
	)

	// RetriesTotal tracks retry attempts performed after a rate limit.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restprobe_retries_total",
			Help: "Total number of retry attempts after rate limiting",
		},
	)

	// ValidationFailures tracks schema validation failures per suite.
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restprobe_validation_failures_total",
			Help: "Total number of response schema validation failures",
		},
		[]string{"suite"},
	)

	// CaseResults tracks finished cases per suite and outcome.
	CaseResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restprobe_case_results_total",
			Help: "Total number of finished probe cases by outcome",
		},
		[]string{"suite", "status"},
	)

	// RunsActive tracks suite runs currently in flight.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "restprobe_runs_active",
			Help: "Number of suite runs currently executing",
		},
	)
)
