// Package metrics exposes Prometheus instrumentation for the ingest path,
// the processor job and the query handlers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ingestEvents counts ingest outcomes.
	// Labels:
	// - status: "accepted", "invalid", "unknown_tenant", "excluded" or "error"
	ingestEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitepulse",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Number of ingest requests by outcome",
		},
		[]string{"status"},
	)

	// processorPromoted counts staged events promoted to the events table.
	processorPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitepulse",
			Subsystem: "processor",
			Name:      "promoted_total",
			Help:      "Number of staged events promoted to events",
		},
	)

	// processorBotsSkipped counts staged events dropped as bot traffic.
	processorBotsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitepulse",
			Subsystem: "processor",
			Name:      "bots_skipped_total",
			Help:      "Number of staged events skipped as bots",
		},
	)

	// processorRunDuration tracks how long one processor run takes.
	processorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sitepulse",
			Subsystem: "processor",
			Name:      "run_duration_seconds",
			Help:      "Duration of one event processor run",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// stagedPending tracks the staged backlog after each processor run.
	stagedPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sitepulse",
			Subsystem: "processor",
			Name:      "staged_pending",
			Help:      "Staged events not yet processed",
		},
	)

	// queryDuration tracks aggregate query latency per endpoint.
	// Labels:
	// - endpoint: short name like "stats", "funnel", "retention", "revenue"
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sitepulse",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of analytics queries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// paymentsRecorded counts stored payments.
	// Labels:
	// - origin: "api" or "derived"
	paymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitepulse",
			Subsystem: "payments",
			Name:      "recorded_total",
			Help:      "Number of payments recorded by origin",
		},
		[]string{"origin"},
	)
)

// IncIngest increments the ingest counter for an outcome.
func IncIngest(status string) {
	if status == "" {
		status = "unknown"
	}
	ingestEvents.WithLabelValues(status).Inc()
}

// AddPromoted adds to the promoted-events counter.
func AddPromoted(count int) {
	if count > 0 {
		processorPromoted.Add(float64(count))
	}
}

// AddBotsSkipped adds to the skipped-bots counter.
func AddBotsSkipped(count int) {
	if count > 0 {
		processorBotsSkipped.Add(float64(count))
	}
}

// ObserveProcessorRun records the duration of one processor run in seconds.
func ObserveProcessorRun(seconds float64) {
	processorRunDuration.Observe(seconds)
}

// SetStagedPending records the staged backlog size.
func SetStagedPending(count int64) {
	stagedPending.Set(float64(count))
}

// ObserveQuery records the duration of an analytics query in seconds.
func ObserveQuery(endpoint string, seconds float64) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	queryDuration.WithLabelValues(endpoint).Observe(seconds)
}

// IncPaymentRecorded increments the payments counter for an origin.
func IncPaymentRecorded(origin string) {
	if origin == "" {
		origin = "unknown"
	}
	paymentsRecorded.WithLabelValues(origin).Inc()
}

// AddPaymentsRecorded adds a batch of recorded payments for an origin.
func AddPaymentsRecorded(origin string, count int) {
	if count <= 0 {
		return
	}
	if origin == "" {
		origin = "unknown"
	}
	paymentsRecorded.WithLabelValues(origin).Add(float64(count))
}
