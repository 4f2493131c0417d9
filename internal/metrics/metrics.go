package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event flow metrics
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edase_events_emitted_total",
			Help: "Total number of envelopes pushed to the sink",
		},
		[]string{"source", "kind"},
	)

	DuplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edase_duplicates_suppressed_total",
			Help: "Total number of records skipped by cursor dedup",
		},
		[]string{"source", "kind"},
	)

	// Fetch cycle metrics
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edase_fetch_errors_total",
			Help: "Total number of failed fetch cycles",
		},
		[]string{"source", "kind"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edase_fetch_duration_seconds",
			Help:    "Duration of fetch cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "kind"},
	)

	// Runner lifecycle metrics
	OpenRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edase_open_retries_total",
			Help: "Total number of connector open retries",
		},
		[]string{"source", "kind"},
	)

	RunnerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edase_runner_state",
			Help: "Current runner state (0=idle 1=starting 2=running 3=retrying 4=stopping 5=stopped)",
		},
		[]string{"source", "kind"},
	)

	// Sink metrics
	SinkPushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edase_sink_pushes_total",
			Help: "Total number of envelope pushes accepted by the sink",
		},
	)

	SinkDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edase_sink_drops_total",
			Help: "Total number of envelopes dropped by the overflow policy",
		},
	)
)
