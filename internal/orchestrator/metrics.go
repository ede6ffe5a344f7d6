package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// orchestrationsTotal counts orchestrations that reached a terminal state
	orchestrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_orchestrations_total",
		Help: "Orchestrations that reached a terminal state, by outcome",
	}, []string{"outcome"})

	// enqueuedTotal counts queue entries created, by the code path that created them
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_enqueued_total",
		Help: "Tasks enqueued by source",
	}, []string{"source"})

	// reconcileDuration tracks reconciliation latency
	reconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_reconcile_duration_seconds",
		Help:    "Reconciliation duration in seconds, by trigger",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	}, []string{"trigger"})

	// stalledTotal counts monitor ticks that found an orchestration stalled
	stalledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_orchestrations_stalled_total",
		Help: "Monitor ticks that found no runnable or running subtask",
	})
)

const (
	sourceOrchestrate = "orchestrate"
	sourceMonitor     = "monitor"
	sourceReconciler  = "reconciler"
)
