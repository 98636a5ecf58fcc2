package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_worker_active_jobs",
			Help: "Number of job executions currently running on this worker",
		},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_worker_job_duration_seconds",
			Help:    "Wall time of job executions by reported status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	artifactFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_worker_artifact_upload_failures_total",
			Help: "Total number of artifact bundles that could not be uploaded",
		},
	)
)
