// Package metrics holds the Prometheus collectors for test runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "testpilot"

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Test case runs by aggregate result.",
	}, []string{"result"})
	metricActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Test cases currently executing.",
	})
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Steps by final outcome.",
	}, []string{"outcome"})
	metricAttemptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attempt_failures_total",
		Help:      "Failed step attempts by failure kind.",
	}, []string{"kind"})
	metricInterventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interventions_total",
		Help:      "Intervention decisions by action and source.",
	}, []string{"action", "source"})
	metricPendingInterventions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_interventions",
		Help:      "Escalations waiting for a decision.",
	})
	metricSessionRecreations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_recreations_total",
		Help:      "Browser sessions rebuilt after a crash.",
	})
	metricDecisionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decision_errors_total",
		Help:      "Malformed decision responses.",
	})
	metricLLMLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_call_seconds",
		Help:      "Latency of decision and verification calls.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	metricStepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_seconds",
		Help:      "Wall time per concluded step, including retries.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// RunStarted marks a run as active. The returned func records its end.
func RunStarted() func(success bool) {
	metricActiveRuns.Inc()
	return func(success bool) {
		metricActiveRuns.Dec()
		result := "failed"
		if success {
			result = "success"
		}
		metricRuns.WithLabelValues(result).Inc()
	}
}

// RecordStep records a concluded step.
func RecordStep(outcome string, elapsed time.Duration) {
	metricSteps.WithLabelValues(outcome).Inc()
	metricStepDuration.Observe(elapsed.Seconds())
}

// RecordAttemptFailure records a failed attempt.
func RecordAttemptFailure(kind string) {
	metricAttemptFailures.WithLabelValues(kind).Inc()
}

// RecordIntervention records an applied intervention decision.
func RecordIntervention(action, source string) {
	metricInterventions.WithLabelValues(action, source).Inc()
}

// InterventionPending tracks an open escalation. The returned func closes it.
func InterventionPending() func() {
	metricPendingInterventions.Inc()
	return metricPendingInterventions.Dec
}

// RecordSessionRecreated records a session rebuild.
func RecordSessionRecreated() {
	metricSessionRecreations.Inc()
}

// RecordDecisionError records a malformed decision response.
func RecordDecisionError() {
	metricDecisionErrors.Inc()
}

// StartLLMCall starts timing an LLM call. Call the returned func when it returns.
func StartLLMCall() func() {
	start := time.Now()
	return func() {
		metricLLMLatency.Observe(time.Since(start).Seconds())
	}
}
