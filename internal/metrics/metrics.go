// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vocabcast"

var (
	// DispatchOutcomes counts finished dispatches by status (reused, generated, empty, failed).
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Total number of batch dispatches by outcome",
		},
		[]string{"list", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Batch dispatch duration in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// CollaboratorFailures counts failed calls to external collaborators.
	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Total number of failed collaborator calls",
		},
		[]string{"collaborator"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SyncedDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synced_documents_total",
			Help:      "Total number of source documents processed by sync",
		},
		[]string{"result"},
	)
)

// RecordDispatch records one finished dispatch.
func RecordDispatch(list, outcome string, duration time.Duration) {
	DispatchOutcomes.WithLabelValues(list, outcome).Inc()
	DispatchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCollaboratorFailure counts one failed collaborator call.
func RecordCollaboratorFailure(collaborator string) {
	CollaboratorFailures.WithLabelValues(collaborator).Inc()
}
