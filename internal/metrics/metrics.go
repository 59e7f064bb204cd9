// Package metrics holds the Prometheus collectors of the media services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivatives_jobs_total",
			Help: "Total number of derivative jobs by outcome",
		},
		[]string{"family", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_derivatives_job_duration_seconds",
			Help:    "Derivative job duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"family"},
	)

	JobsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_derivatives_jobs_in_progress",
			Help: "Number of derivative jobs currently being processed",
		},
		[]string{"family"},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivatives_job_retries_total",
			Help: "Total number of job redeliveries after a failure",
		},
		[]string{"family"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivatives_dead_letters_total",
			Help: "Total number of jobs sent to the dead-letter topic",
		},
		[]string{"family"},
	)

	// TargetsTotal counts image targets and other sub-units by result
	// (generated, skipped, failed).
	TargetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivatives_targets_total",
			Help: "Total number of planned derivative targets by result",
		},
		[]string{"family", "result"},
	)
)

// External tool metrics
var (
	ProcessRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivatives_process_runs_total",
			Help: "Total number of external tool invocations by result",
		},
		[]string{"tool", "result"},
	)

	ProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_derivatives_process_duration_seconds",
			Help:    "External tool run time in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
		},
		[]string{"tool"},
	)
)

// Cleanup and outbox metrics
var (
	CleanupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivatives_cleanups_total",
			Help: "Total number of media cleanups by result",
		},
		[]string{"result"},
	)

	CleanupFilesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_derivatives_cleanup_files_removed_total",
			Help: "Total number of derivative files removed by cleanup",
		},
	)

	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_derivatives_outbox_published_total",
			Help: "Total number of outbox records delivered by topic",
		},
		[]string{"topic"},
	)

	OutboxFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_derivatives_outbox_failed_total",
			Help: "Total number of outbox deliveries that failed",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
