package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconciliation outcomes.
const (
	OutcomeCompleted       = "completed"
	OutcomeFailed          = "failed"
	OutcomeDuplicate       = "duplicate"
	OutcomeRelocationError = "relocation_error"
)

// PredictionMetrics tracks how provider notifications are reconciled.
type PredictionMetrics struct {
	outcomes   *prometheus.CounterVec
	relocation *prometheus.HistogramVec
}

// NewPredictionMetrics registers the reconciler metrics on the provided registerer.
func NewPredictionMetrics(reg prometheus.Registerer) *PredictionMetrics {
	if reg == nil {
		return &PredictionMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prediction_reconcile_total",
		Help: "Prediction reconciliations by source and outcome.",
	}, []string{"source", "outcome"})
	relocation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prediction_relocation_duration_seconds",
		Help:    "Time spent copying provider artifacts into storage.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
	}, []string{"generation_type"})
	reg.MustRegister(outcomes, relocation)
	return &PredictionMetrics{outcomes: outcomes, relocation: relocation}
}

// IncOutcome counts a reconciliation outcome for the given source (webhook, poll).
func (m *PredictionMetrics) IncOutcome(source, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// ObserveRelocation records the relocation latency for a generation type.
func (m *PredictionMetrics) ObserveRelocation(generationType string, d time.Duration) {
	if m == nil || m.relocation == nil {
		return
	}
	m.relocation.WithLabelValues(normalizeLabel(generationType)).Observe(d.Seconds())
}
