// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of orderdesk collectors.
type Metrics struct {
	registry *prometheus.Registry

	settlements       *prometheus.CounterVec
	settlementLatency *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	boardOrders       *prometheus.GaugeVec
	gatewayRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_settlements_total",
				Help: "Settlement attempts by outcome",
			},
			[]string{"outcome"},
		),
		settlementLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderdesk_settlement_duration_seconds",
				Help:    "Time spent waiting on the backend to settle an order",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_order_transitions_total",
				Help: "Lifecycle actions applied, by action and result",
			},
			[]string{"action", "result"},
		),
		boardOrders: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orderdesk_board_orders",
				Help: "Orders on the board by urgency classification",
			},
			[]string{"outlet", "classification"},
		),
		gatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_gateway_requests_total",
				Help: "Backend calls by operation and result",
			},
			[]string{"op", "result"},
		),
	}
	reg.MustRegister(m.settlements, m.settlementLatency, m.transitions, m.boardOrders, m.gatewayRequests)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveSettlement(outcome string, d time.Duration) {
	m.settlements.WithLabelValues(outcome).Inc()
	m.settlementLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveTransition(action string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.transitions.WithLabelValues(action, result).Inc()
}

// SetBoard replaces the classification counts for one outlet. Classes
// missing from counts are reset to zero.
func (m *Metrics) SetBoard(outlet string, classes []string, counts map[string]int) {
	for _, c := range classes {
		m.boardOrders.WithLabelValues(outlet, c).Set(float64(counts[c]))
	}
}

func (m *Metrics) ObserveGateway(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayRequests.WithLabelValues(op, result).Inc()
}
