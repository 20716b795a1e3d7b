// Package metrics exposes dataset load metrics for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lvonguyen/finops-decomposer/internal/aggregator"
)

const namespace = "costreport"

// Metrics holds the load gauges of one process
type Metrics struct {
	registry *prometheus.Registry

	RecordsLoaded     prometheus.Gauge
	TotalCost         prometheus.Gauge
	Unmatched         *prometheus.GaugeVec
	NonFiniteQuantity prometheus.Gauge
	LoadDuration      prometheus.Gauge
	LastLoad          prometheus.Gauge
	LoadFailures      prometheus.Counter
	BudgetUsed        *prometheus.GaugeVec
}

// New creates and registers the load metrics on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RecordsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_loaded",
			Help:      "Number of cost records in the current dataset.",
		}),
		TotalCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_cost_dollars",
			Help:      "Sum of unblended cost in the current dataset.",
		}),
		Unmatched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unmatched_rows",
			Help:      "Rows whose dimension fell back to its default value.",
		}, []string{"dimension"}),
		NonFiniteQuantity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unknown_quantity_records",
			Help:      "Records whose quantity could not be derived from a unit cost.",
		}),
		LoadDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Time spent loading the current dataset.",
		}),
		LastLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_load_timestamp_seconds",
			Help:      "Unix time of the last successful load.",
		}),
		LoadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Loads aborted by a fatal error.",
		}),
		BudgetUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_used_percent",
			Help:      "Spend as a percentage of each configured budget.",
		}, []string{"budget"}),
	}

	m.registry.MustRegister(
		m.RecordsLoaded,
		m.TotalCost,
		m.Unmatched,
		m.NonFiniteQuantity,
		m.LoadDuration,
		m.LastLoad,
		m.LoadFailures,
		m.BudgetUsed,
	)
	return m
}

// Registry returns the registry holding the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLoad records a successful load
func (m *Metrics) ObserveLoad(ds *aggregator.Dataset, seconds float64) {
	stats := ds.Stats()

	m.RecordsLoaded.Set(float64(ds.Len()))
	m.TotalCost.Set(ds.Total())
	m.NonFiniteQuantity.Set(float64(stats.NonFiniteQuantity))
	m.LoadDuration.Set(seconds)
	m.LastLoad.Set(float64(ds.LoadedAt().Unix()))

	m.Unmatched.Reset()
	for dim, n := range stats.Unmatched {
		m.Unmatched.WithLabelValues(string(dim)).Set(float64(n))
	}
}

// ObserveFailure records an aborted load
func (m *Metrics) ObserveFailure() {
	m.LoadFailures.Inc()
}

// ObserveBudgets records the spend of each budget
func (m *Metrics) ObserveBudgets(statuses []aggregator.BudgetStatus) {
	m.BudgetUsed.Reset()
	for _, s := range statuses {
		m.BudgetUsed.WithLabelValues(s.Name).Set(s.PercentUsed)
	}
}

// WriteTextfile writes the metrics in the node exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
