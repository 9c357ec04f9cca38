// internal/status/metrics.go
package status

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalnine/trapsender/internal/trapper"
)

// Metrics counts exchanges and items. Each instance owns its registry so
// tests and multiple senders in one process never collide.
type Metrics struct {
	registry  *prometheus.Registry
	exchanges *prometheus.CounterVec
	items     *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics creates and registers the sender metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trapsender",
				Name:      "exchanges_total",
				Help:      "Trapper exchanges by outcome.",
			},
			[]string{"outcome"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trapsender",
				Name:      "items_total",
				Help:      "Items reported by the collector, by result.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "trapsender",
				Name:      "exchange_duration_seconds",
				Help:      "Trapper exchange duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	m.registry.MustRegister(m.exchanges, m.items, m.duration)
	return m
}

// Registry exposes the registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveExchange implements trapper.Observer
func (m *Metrics) ObserveExchange(_ context.Context, ex trapper.Exchange) {
	m.exchanges.WithLabelValues(outcome(ex)).Inc()
	m.duration.Observe(ex.Duration.Seconds())
	if ex.Response != nil {
		m.items.WithLabelValues("processed").Add(float64(ex.Response.Processed))
		m.items.WithLabelValues("failed").Add(float64(ex.Response.Failed))
	}
}

func outcome(ex trapper.Exchange) string {
	if ex.Err != nil {
		if errors.Is(ex.Err, context.Canceled) || errors.Is(ex.Err, context.DeadlineExceeded) {
			return "cancelled"
		}
		return "error"
	}
	if ex.Response == nil {
		return "error"
	}
	err := ex.Response.RaiseForFailure()
	switch {
	case errors.Is(err, trapper.ErrTotalSend):
		return "total_failure"
	case errors.Is(err, trapper.ErrPartialSend):
		return "partial_failure"
	default:
		return "ok"
	}
}
