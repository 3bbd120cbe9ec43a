package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the task lifecycle. Registered on the default
// registry; the serve command exposes them.
var (
	tasksEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_tasks_enqueued_total",
		Help: "Tasks accepted by the scheduler.",
	}, []string{"kind", "priority"})

	tasksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_tasks_completed_total",
		Help: "Tasks finished, by terminal disposition.",
	}, []string{"kind", "status"})

	tasksRetriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mw_tasks_retried_total",
		Help: "Failed attempts that were rescheduled.",
	}, []string{"kind"})

	leasesReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mw_leases_reaped_total",
		Help: "Stale processing entries returned to the scheduled set.",
	})

	taskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mw_task_duration_seconds",
		Help:    "Wall time from enqueue to completion.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})
)
