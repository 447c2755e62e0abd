package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records settlement call activity against the ledger,
// segmented by backend variant and operation.
type SettlementMetrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "socialcoin",
				Subsystem: "ledger",
				Name:      "calls_total",
				Help:      "Total settlement calls segmented by backend, operation, and outcome.",
			}, []string{"backend", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "socialcoin",
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for settlement calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"backend", "operation"}),
		}
		prometheus.MustRegister(settlementReg.calls, settlementReg.latency)
	})
	return settlementReg
}

// Observe records one settlement call.
func (m *SettlementMetrics) Observe(backend, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(backend, operation, outcome).Inc()
	m.latency.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
