package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the application workflow. All methods
// are safe on a nil receiver.
type Metrics struct {
	// Transitions by action and outcome (approved, rejected, failed)
	Transitions *prometheus.CounterVec

	// Lost index pointer swaps that triggered a retry
	IndexConflicts prometheus.Counter

	// Mutation attempts by event type and outcome (committed, invalid, failed)
	Mutations *prometheus.CounterVec

	// Validation failures by event type
	ValidationFailures *prometheus.CounterVec

	// Registry approval pipeline latency, retries included
	ApprovalLatency prometheus.Histogram
}

// New creates a new Metrics instance registered with the default registry.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukcapil_workflow_transitions_total",
			Help: "Application transitions by action and outcome",
		}, []string{"action", "outcome"}),

		IndexConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dukcapil_nik_index_conflicts_total",
			Help: "Index pointer swaps lost to a concurrent commit",
		}),

		Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukcapil_mutations_total",
			Help: "Family-card mutation attempts by event type and outcome",
		}, []string{"event_type", "outcome"}),

		ValidationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukcapil_validation_failures_total",
			Help: "Events rejected by validation, by event type",
		}, []string{"event_type"}),

		ApprovalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dukcapil_registry_approval_duration_seconds",
			Help:    "Duration of the registry approval pipeline including retries",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementTransition(action, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(action, outcome).Inc()
	}
}

func (m *Metrics) IncrementIndexConflict() {
	if m != nil {
		m.IndexConflicts.Inc()
	}
}

func (m *Metrics) IncrementMutation(eventType, outcome string) {
	if m != nil {
		m.Mutations.WithLabelValues(eventType, outcome).Inc()
	}
}

func (m *Metrics) IncrementValidationFailure(eventType string) {
	if m != nil {
		m.ValidationFailures.WithLabelValues(eventType).Inc()
	}
}

// ObserveApprovalLatency records the total registry approval duration.
func (m *Metrics) ObserveApprovalLatency(d time.Duration) {
	if m != nil {
		m.ApprovalLatency.Observe(d.Seconds())
	}
}
