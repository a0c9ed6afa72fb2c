// Package metrics holds the Prometheus collectors of the extraction
// pipeline. They are registered on the default registry and served at
// /metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "extractd"

// Result labels.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultContended = "contended"
	ResultSkipped   = "skipped"
)

var (
	// TasksTotal counts orchestrator task runs.
	// Labels: task, result
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "runs_total",
			Help:      "Total number of task runs by outcome",
		},
		[]string{"task", "result"},
	)

	// TaskDuration tracks task run time.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Duration of task runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"task"},
	)

	// QuestionsByAIStatus is refreshed by the reconcile job.
	QuestionsByAIStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "questions",
			Name:      "by_ai_status",
			Help:      "Questions waiting in non-terminal ai_status values",
		},
		[]string{"status"},
	)

	// StatusResets counts questions and files flipped back to TODO.
	// Labels: kind (question, file)
	StatusResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "resets_total",
			Help:      "Total number of stuck or failed statuses reset",
		},
		[]string{"kind"},
	)

	// PostPipeSteps counts post-pipeline steps.
	// Labels: step, result
	PostPipeSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "postpipe",
			Name:      "steps_total",
			Help:      "Total number of post-pipeline runs by outcome",
		},
		[]string{"step", "result"},
	)

	// LockAttempts counts advisory lock acquisitions.
	// Labels: lock, result (success, contended, error)
	LockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "attempts_total",
			Help:      "Total number of advisory lock attempts",
		},
		[]string{"lock", "result"},
	)

	// CallbacksTotal counts inbound callbacks.
	// Labels: source (parser, studio), result
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callbacks",
			Name:      "received_total",
			Help:      "Total number of inbound callbacks",
		},
		[]string{"source", "result"},
	)
)

// Result maps an error to a result label.
func Result(err error) string {
	if err == nil {
		return ResultSuccess
	}
	return ResultError
}

// ObserveTask records one task run started at start.
func ObserveTask(task string, start time.Time, err error) {
	TasksTotal.WithLabelValues(task, Result(err)).Inc()
	TaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

// ObserveLock records one lock attempt. contended is the error the lock
// package returns when another holder owns the key.
func ObserveLock(lock string, err, contended error) {
	switch {
	case err == nil:
		LockAttempts.WithLabelValues(lock, ResultSuccess).Inc()
	case contended != nil && errors.Is(err, contended):
		LockAttempts.WithLabelValues(lock, ResultContended).Inc()
	default:
		LockAttempts.WithLabelValues(lock, ResultError).Inc()
	}
}
