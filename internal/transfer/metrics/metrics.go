// Package metrics provides observability for the transfer flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks flow outcomes and latency, plus how often a flow committed
// a lazily resolved transfer on the way in.
type Metrics struct {
	FlowsTotal        *prometheus.CounterVec
	FlowDuration      *prometheus.HistogramVec
	AutoResolvedTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all transfer flow metrics registered.
func New() *Metrics {
	return &Metrics{
		FlowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "registryd_transfer_flows_total",
			Help: "Total transfer flow executions by flow, resource kind and outcome",
		}, []string{"flow", "kind", "outcome"}),
		FlowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registryd_transfer_flow_duration_seconds",
			Help:    "Duration of transfer flow executions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"flow", "kind"}),
		AutoResolvedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "registryd_transfer_auto_resolved_total",
			Help: "Transfers found past their deadline and committed as server-approved by a later flow",
		}, []string{"kind"}),
	}
}

// ObserveFlow records one finished flow execution.
func (m *Metrics) ObserveFlow(flow, kind, outcome string, elapsed time.Duration) {
	m.FlowsTotal.WithLabelValues(flow, kind, outcome).Inc()
	m.FlowDuration.WithLabelValues(flow, kind).Observe(elapsed.Seconds())
}

// AutoResolved records a lazily resolved transfer committed by a flow.
func (m *Metrics) AutoResolved(kind string) {
	m.AutoResolvedTotal.WithLabelValues(kind).Inc()
}
