package draidvdev

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional Prometheus sink SPEC_FULL §3 adds, grounded
// on the zfs_exporter reference material's gauge-per-pool-state
// pattern: a handful of gauges/counters registered once per vdev. The
// gauges are updated from Stat(); the column error counter from
// dispatch.
type Metrics struct {
	degraded       prometheus.Gauge
	sparesActive   prometheus.Gauge
	resilvering    prometheus.Gauge
	columnIOErrors prometheus.Counter
}

// NewMetrics builds and registers a Metrics sink under the given
// registerer, labeled by vdev name. With a nil registerer the
// collectors are built but not registered. A vdev opened with a nil
// *Metrics runs without metrics.
func NewMetrics(reg prometheus.Registerer, vdevName string) (*Metrics, error) {
	labels := prometheus.Labels{"vdev": vdevName}
	m := &Metrics{
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "draid",
			Name:        "columns_degraded",
			Help:        "Number of child columns currently unreadable.",
			ConstLabels: labels,
		}),
		sparesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "draid",
			Name:        "spares_active",
			Help:        "Number of distributed spares currently absorbing writes.",
			ConstLabels: labels,
		}),
		resilvering: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "draid",
			Name:        "resilver_in_progress",
			Help:        "1 if a resilver is in progress, else 0.",
			ConstLabels: labels,
		}),
		columnIOErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "draid",
			Name:        "column_io_errors_total",
			Help:        "Count of per-column I/O errors observed during dispatch.",
			ConstLabels: labels,
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.degraded, m.sparesActive, m.resilvering, m.columnIOErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(s Stat) {
	if m == nil {
		return
	}
	m.degraded.Set(float64(s.ColumnsDegraded))
	m.sparesActive.Set(float64(s.SparesActive))
	if s.ResilverInProgress {
		m.resilvering.Set(1)
	} else {
		m.resilvering.Set(0)
	}
}

// RecordColumnError increments the column I/O error counter; dispatch
// calls it for each column whose child I/O returns an error.
func (m *Metrics) RecordColumnError() {
	if m == nil {
		return
	}
	m.columnIOErrors.Inc()
}
