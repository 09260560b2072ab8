// Package metrics provides Prometheus instrumentation for rolepool.
//
// # Overview
//
// A Collector records checkout and creation outcomes for every pool:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg, "rolepool")
//
//	timer := metrics.NewTimer()
//	conn, err := handle.Checkout(ctx, "viewer")
//	collector.ObserveCheckout("sales", err, timer.Stop())
//
// A PoolCollector exposes live pool counters read through a StatsSource
// (normally the registry) at scrape time, so no gauge is ever stale:
//
//	reg.MustRegister(metrics.NewPoolCollector("rolepool", registry))
//
// # Metric Types
//
// Counter: checkouts, creations and leak warnings, labelled by outcome
// Histogram: checkout latency in seconds
// Gauge: active, idle, total and max connections per database
//
// All Collector methods are safe on a nil receiver so instrumentation can be
// left out of tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/errors"
)

// OutcomeSuccess labels operations that returned no error
const OutcomeSuccess = "success"

// Collector records per-operation outcomes for pools.
type Collector struct {
	checkouts       *prometheus.CounterVec
	checkoutLatency *prometheus.HistogramVec
	creations       *prometheus.CounterVec
	leaks           *prometheus.CounterVec
}

// NewCollector creates and registers the operation metrics on reg.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		checkouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkouts_total",
				Help:      "Total number of connection checkouts by outcome",
			},
			[]string{"database", "outcome"},
		),
		checkoutLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "checkout_duration_seconds",
				Help:      "Time to acquire, switch and validate a connection",
				Buckets: []float64{
					0.0005, // 500μs - idle connection, no switch
					0.001,  // 1ms
					0.005,  // 5ms - switch and policy round trips
					0.025,  // 25ms
					0.1,    // 100ms - new physical connection
					0.5,    // 500ms
					2.5,    // 2.5s - pool exhaustion
					10,     // 10s
				},
			},
			[]string{"database"},
		),
		creations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_creations_total",
				Help:      "Total number of pool creation attempts by outcome",
			},
			[]string{"database", "outcome"},
		),
		leaks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_leaks_total",
				Help:      "Connections held longer than the leak detection threshold",
			},
			[]string{"database"},
		),
	}
}

// ObserveCheckout records a checkout outcome and its latency
func (c *Collector) ObserveCheckout(database string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.checkouts.WithLabelValues(database, Outcome(err)).Inc()
	c.checkoutLatency.WithLabelValues(database).Observe(d.Seconds())
}

// ObserveCreation records a pool creation outcome
func (c *Collector) ObserveCreation(database string, err error) {
	if c == nil {
		return
	}
	c.creations.WithLabelValues(database, Outcome(err)).Inc()
}

// ObserveLeak records a leak detection warning
func (c *Collector) ObserveLeak(database string) {
	if c == nil {
		return
	}
	c.leaks.WithLabelValues(database).Inc()
}

// Outcome maps an error to its metric label
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	return string(errors.TypeOf(err))
}

// StatsSource supplies live pool counters keyed by database name.
type StatsSource interface {
	PoolStats() map[string]backend.Stat
}

// PoolCollector is a prometheus.Collector reading pool counters at scrape time.
type PoolCollector struct {
	source StatsSource
	active *prometheus.Desc
	idle   *prometheus.Desc
	total  *prometheus.Desc
	max    *prometheus.Desc
}

// NewPoolCollector creates a collector over source
func NewPoolCollector(namespace string, source StatsSource) *PoolCollector {
	labels := []string{"database"}
	return &PoolCollector{
		source: source,
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "active_connections"),
			"Connections currently checked out", labels, nil),
		idle: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "idle_connections"),
			"Connections idle in the pool", labels, nil),
		total: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "total_connections"),
			"Physical connections open", labels, nil),
		max: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "max_connections"),
			"Configured maximum pool size", labels, nil),
	}
}

// Describe implements prometheus.Collector
func (p *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.active
	ch <- p.idle
	ch <- p.total
	ch <- p.max
}

// Collect implements prometheus.Collector
func (p *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for database, s := range p.source.PoolStats() {
		ch <- prometheus.MustNewConstMetric(p.active, prometheus.GaugeValue, float64(s.Acquired), database)
		ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(s.Idle), database)
		ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.Total), database)
		ch <- prometheus.MustNewConstMetric(p.max, prometheus.GaugeValue, float64(s.Max), database)
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
