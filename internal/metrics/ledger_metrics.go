// Package metrics holds the Prometheus collectors for shop balance operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultSuccess      = "success"
	ResultInsufficient = "insufficient_balance"
	ResultNotFound     = "not_found"
	ResultInvalid      = "invalid"
	ResultBusy         = "busy"
	ResultError        = "error"
)

type LedgerMetrics struct {
	Operations    *prometheus.CounterVec
	LockWait      *prometheus.HistogramVec
	RewardsIssued *prometheus.CounterVec
}

// NewLedgerMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	factory := promauto.With(reg)
	return &LedgerMetrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repaircoin",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Shop balance operations by operation and result.",
		}, []string{"operation", "result"}),
		LockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repaircoin",
			Subsystem: "ledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the per-shop balance lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"backend"}),
		RewardsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repaircoin",
			Name:      "rewards_issued_total",
			Help:      "Customer rewards issued by customer tier.",
		}, []string{"tier"}),
	}
}

// ObserveOperation is nil-safe so services can run without metrics.
func (m *LedgerMetrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}

func (m *LedgerMetrics) ObserveLockWait(backend string, started time.Time) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(backend).Observe(time.Since(started).Seconds())
}

func (m *LedgerMetrics) ObserveReward(tier string) {
	if m == nil {
		return
	}
	m.RewardsIssued.WithLabelValues(tier).Inc()
}
