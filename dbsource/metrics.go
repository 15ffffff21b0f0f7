package dbsource

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jtrauntvein/coratools/worker"
)

// Metrics holds a source's prometheus collectors.
type Metrics struct {
	queries         *prometheus.CounterVec
	records         prometheus.Counter
	failures        *prometheus.CounterVec
	connectFailures prometheus.Counter
	reconnects      prometheus.Counter
	workers         *worker.Metrics
}

func newMetrics(source string, workers *worker.Metrics) *Metrics {
	labels := prometheus.Labels{"source": source}
	return &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "coratools",
			Subsystem:   "dbsource",
			Name:        "queries_total",
			Help:        "Queries launched by cursors",
			ConstLabels: labels,
		}, []string{"kind"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "coratools",
			Subsystem:   "dbsource",
			Name:        "records_total",
			Help:        "Records delivered to sinks",
			ConstLabels: labels,
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "coratools",
			Subsystem:   "dbsource",
			Name:        "query_failures_total",
			Help:        "Queries that completed with an error",
			ConstLabels: labels,
		}, []string{"code"}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "coratools",
			Subsystem:   "dbsource",
			Name:        "connect_failures_total",
			Help:        "Failed or lost database connections",
			ConstLabels: labels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "coratools",
			Subsystem:   "dbsource",
			Name:        "reconnects_total",
			Help:        "Reconnect attempts scheduled",
			ConstLabels: labels,
		}),
		workers: workers,
	}
}

// Collectors returns every collector for registration, including the
// worker pool's.
func (m *Metrics) Collectors() []prometheus.Collector {
	cs := []prometheus.Collector{m.queries, m.records, m.failures, m.connectFailures, m.reconnects}
	if m.workers != nil {
		cs = append(cs, m.workers.Collectors()...)
	}
	return cs
}

// Register registers the collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register dbsource metrics: %w", err)
		}
	}
	return nil
}
