package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes recorded per event type
const (
	outcomePublished = "published"
	outcomeDelivered = "delivered"
	outcomeDropped   = "dropped"
	outcomeFiltered  = "filtered"
)

// Metrics holds the Prometheus metrics of the EventBus
type Metrics struct {
	Subscribers prometheus.Gauge

	// Events counts events by event_type and outcome
	Events *prometheus.CounterVec
}

// NewMetrics registers the bus metrics with reg, or with the default
// registerer when reg is nil
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "indexer"
	}
	factory := promauto.With(reg)

	return &Metrics{
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Current number of active subscribers",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_total",
			Help:      "Events handled by the bus, by type and outcome",
		}, []string{"event_type", "outcome"}),
	}
}

func (m *Metrics) record(eventType EventType, outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(string(eventType), outcome).Inc()
}

func (m *Metrics) setSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}
