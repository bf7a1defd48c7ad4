package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pubflow/internal/domain"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_runs_total",
			Help: "Total number of schedule runs",
		},
		[]string{"outcome"},
	)

	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_items_total",
			Help: "Items handled by schedule runs",
		},
		[]string{"status"},
	)

	WarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_warnings_total",
			Help: "Warnings raised by schedule runs",
		},
		[]string{"kind"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pubflow_run_duration_seconds",
			Help:    "Schedule run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PendingDrafts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubflow_pending_drafts",
			Help: "Drafts waiting for a slot at the start of the last planning pass",
		},
	)

	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubflow_sink_errors_total",
			Help: "Failed deliveries of assignments or summaries",
		},
		[]string{"sink"},
	)
)

// ObserveRun records one finished run.
func ObserveRun(r domain.RunResult) {
	outcome := "complete"
	if r.StoppedEarly {
		outcome = "stopped_early"
	}
	RunsTotal.WithLabelValues(outcome).Inc()
	ItemsTotal.WithLabelValues("scheduled").Add(float64(r.Scheduled))
	ItemsTotal.WithLabelValues("failed").Add(float64(r.Failed))
	ItemsTotal.WithLabelValues("remaining").Add(float64(r.Remaining()))
	for _, w := range r.Warnings {
		WarningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
	RunDuration.Observe(r.Duration.Seconds())
}
