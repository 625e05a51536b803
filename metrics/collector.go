package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "resilience"

// Collector exposes the counters of one CallMetrics as Prometheus series
// labelled with the dependency name.
type Collector struct {
	metrics *CallMetrics

	calls        *prometheus.Desc
	attempts     *prometheus.Desc
	retries      *prometheus.Desc
	successes    *prometheus.Desc
	failures     *prometheus.Desc
	rejections   *prometheus.Desc
	trips        *prometheus.Desc
	backoffTotal *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for m. dependency becomes a constant label.
func NewCollector(dependency string, m *CallMetrics) *Collector {
	labels := prometheus.Labels{"dependency": dependency}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	return &Collector{
		metrics:      m,
		calls:        desc("calls_total", "Guarded calls started."),
		attempts:     desc("attempts_total", "Attempts made, including retries."),
		retries:      desc("retries_total", "Retries scheduled after a transient failure."),
		successes:    desc("successes_total", "Calls that returned without error."),
		failures:     desc("failures_total", "Calls that returned an error."),
		rejections:   desc("rejections_total", "Calls refused by an open circuit breaker."),
		trips:        desc("breaker_trips_total", "Transitions of the circuit breaker to open."),
		backoffTotal: desc("backoff_seconds_total", "Time spent waiting between attempts."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.attempts
	ch <- c.retries
	ch <- c.successes
	ch <- c.failures
	ch <- c.rejections
	ch <- c.trips
	ch <- c.backoffTotal
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()

	counter := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v)
	}
	counter(c.calls, float64(s.Calls))
	counter(c.attempts, float64(s.Attempts))
	counter(c.retries, float64(s.Retries))
	counter(c.successes, float64(s.Successes))
	counter(c.failures, float64(s.Failures))
	counter(c.rejections, float64(s.Rejections))
	counter(c.trips, float64(s.Trips))
	counter(c.backoffTotal, s.TotalBackoff.Seconds())
}
