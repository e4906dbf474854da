// Package prometheus exports matcher metrics through the Prometheus client.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/imgmatch"
)

var _ imgmatch.MetricsCollector = (*Collector)(nil)

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "imgmatch".
	Namespace string
	// Buckets are the latency histogram buckets. Defaults to prometheus.DefBuckets.
	Buckets []float64
}

// Collector implements imgmatch.MetricsCollector with Prometheus metrics.
type Collector struct {
	latency      *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	matchResults prometheus.Histogram
	removes      *prometheus.CounterVec
	snapshotSize prometheus.Gauge
	loadedItems  prometheus.Gauge
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer, optFns ...func(o *Options)) (*Collector, error) {
	opts := Options{
		Namespace: "imgmatch",
		Buckets:   prometheus.DefBuckets,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Collector{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of matcher operations",
			Buckets:   opts.Buckets,
		}, []string{"op", "status"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "operations_total",
			Help:      "Total matcher operations",
		}, []string{"op", "status"}),
		matchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "match_results",
			Help:      "Number of images returned per match",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "removes_total",
			Help:      "Total image removals",
		}, []string{"found"}),
		snapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      "snapshot_size_bytes",
			Help:      "Size of the last saved snapshot",
		}),
		loadedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      "loaded_items",
			Help:      "Number of images restored by the last load",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.latency, c.operations, c.matchResults, c.removes, c.snapshotSize, c.loadedItems,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	s := status(err)
	c.latency.WithLabelValues(op, s).Observe(d.Seconds())
	c.operations.WithLabelValues(op, s).Inc()
}

// RecordAddImage implements imgmatch.MetricsCollector.
func (c *Collector) RecordAddImage(d time.Duration, err error) {
	c.observe("add", d, err)
}

// RecordMatch implements imgmatch.MetricsCollector.
func (c *Collector) RecordMatch(d time.Duration, results int, err error) {
	c.observe("match", d, err)
	if err == nil {
		c.matchResults.Observe(float64(results))
	}
}

// RecordRemoveImage implements imgmatch.MetricsCollector.
func (c *Collector) RecordRemoveImage(found bool) {
	if found {
		c.removes.WithLabelValues("true").Inc()
	} else {
		c.removes.WithLabelValues("false").Inc()
	}
}

// RecordSave implements imgmatch.MetricsCollector.
func (c *Collector) RecordSave(d time.Duration, bytes int64, err error) {
	c.observe("save", d, err)
	if err == nil {
		c.snapshotSize.Set(float64(bytes))
	}
}

// RecordLoad implements imgmatch.MetricsCollector.
func (c *Collector) RecordLoad(d time.Duration, items int, err error) {
	c.observe("load", d, err)
	if err == nil {
		c.loadedItems.Set(float64(items))
	}
}
