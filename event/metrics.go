package event

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatcher's prometheus collectors.
type Metrics struct {
	posted     prometheus.Counter
	delivered  prometheus.Counter
	suppressed prometheus.Counter
	queueDepth prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		posted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coratools",
			Subsystem: "dispatcher",
			Name:      "events_posted_total",
			Help:      "Events queued for delivery",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coratools",
			Subsystem: "dispatcher",
			Name:      "events_delivered_total",
			Help:      "Events handed to a live receiver",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coratools",
			Subsystem: "dispatcher",
			Name:      "events_suppressed_total",
			Help:      "Events dropped because the receiver was no longer valid",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coratools",
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Events waiting for delivery",
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.posted, m.delivered, m.suppressed, m.queueDepth}
}

// Register registers the collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register dispatcher metrics: %w", err)
		}
	}
	return nil
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
