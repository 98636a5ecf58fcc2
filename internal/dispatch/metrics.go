package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_runs_submitted_total",
			Help: "Total number of pipeline runs accepted by the dispatcher",
		},
	)

	runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_finished_total",
			Help: "Total number of pipeline runs that reached a terminal status",
		},
		[]string{"status"},
	)

	jobsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_dispatched_total",
			Help: "Total number of job executions handed to the job queue",
		},
	)

	jobResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_job_results_total",
			Help: "Total number of job executions by terminal status",
		},
		[]string{"status"},
	)

	dependencyTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_dependency_timeouts_total",
			Help: "Total number of jobs failed because a dependency did not finish in time",
		},
	)

	dependencyWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_dependency_waiters",
			Help: "Number of jobs currently waiting on dependencies",
		},
	)
)
