// Package metrics exposes Prometheus instrumentation for model calls and
// investigator lifecycle events.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hound_llm_requests_total",
			Help: "Total LLM requests by provider, actor, outcome and error type.",
		},
		[]string{"provider", "actor", "status", "error_type"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hound_llm_request_duration_seconds",
			Help:    "LLM request latency by provider and actor.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "actor"},
	)

	investigatorsSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hound_investigators_spawned_total",
			Help: "Total investigator subprocesses spawned.",
		},
	)

	investigatorsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hound_investigators_terminated_total",
			Help: "Total investigator terminations by reason.",
		},
		[]string{"reason"},
	)
)

// RecordLLMRequest records one completed model call.
func RecordLLMRequest(provider, actor string, duration time.Duration, errType string) {
	status := "success"
	if errType != "" {
		status = "error"
	} else {
		errType = "none"
	}
	llmRequestsTotal.WithLabelValues(provider, actor, status, errType).Inc()
	llmRequestDuration.WithLabelValues(provider, actor).Observe(duration.Seconds())
}

// RecordSpawn records one investigator launch.
func RecordSpawn() {
	investigatorsSpawned.Inc()
}

// RecordTermination records one confirmed investigator termination.
func RecordTermination(reason string) {
	investigatorsTerminated.WithLabelValues(reason).Inc()
}
