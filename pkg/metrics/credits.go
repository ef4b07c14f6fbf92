package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ledger operation results.
const (
	ResultSuccess      = "success"
	ResultInsufficient = "insufficient"
	ResultError        = "error"
)

// CreditMetrics counts ledger mutations.
type CreditMetrics struct {
	ops     *prometheus.CounterVec
	credits *prometheus.CounterVec
}

// NewCreditMetrics registers the ledger metrics on the provided registerer.
func NewCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	if reg == nil {
		return &CreditMetrics{}
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_ledger_operations_total",
		Help: "Credit ledger operations by kind and result.",
	}, []string{"op", "result"})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_ledger_amount_total",
		Help: "Credits moved through the ledger, in smallest units.",
	}, []string{"op"})
	reg.MustRegister(ops, credits)
	return &CreditMetrics{ops: ops, credits: credits}
}

// Observe records one ledger operation outcome.
func (m *CreditMetrics) Observe(op, result string) {
	if m == nil || m.ops == nil {
		return
	}
	m.ops.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

// AddAmount records the absolute amount moved by a successful operation.
func (m *CreditMetrics) AddAmount(op string, amount int64) {
	if m == nil || m.credits == nil || amount == 0 {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.credits.WithLabelValues(normalizeLabel(op)).Add(float64(amount))
}
