// Package metrics exports collection activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aretw0/docsync/pkg/core"
)

// Namespace prefixes every metric name.
const Namespace = "docsync"

// Collector implements core.Recorder on Prometheus vectors.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
	records    *prometheus.GaugeVec
}

// New registers the docsync metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Pipeline operations by collection, operation and outcome",
		}, []string{"collection", "op", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Transport round trip of pipeline operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "op"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Operations waiting in the offline queue",
		}, []string{"collection"}),
		records: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "records",
			Help:      "Records held in memory, unconfirmed deletions included",
		}, []string{"collection"}),
	}
}

// ObserveOperation implements core.Recorder.
// Queued operations and failures detected before dispatch carry no
// duration and are only counted.
func (c *Collector) ObserveOperation(collection string, op core.Op, outcome string, d time.Duration) {
	c.operations.WithLabelValues(collection, string(op), outcome).Inc()
	if d > 0 {
		c.duration.WithLabelValues(collection, string(op)).Observe(d.Seconds())
	}
}

// SetQueueDepth implements core.Recorder.
func (c *Collector) SetQueueDepth(collection string, n int) {
	c.queueDepth.WithLabelValues(collection).Set(float64(n))
}

// SetRecords implements core.Recorder.
func (c *Collector) SetRecords(collection string, n int) {
	c.records.WithLabelValues(collection).Set(float64(n))
}

var _ core.Recorder = (*Collector)(nil)

// Operations returns the operation counter vector.
func (c *Collector) Operations() *prometheus.CounterVec { return c.operations }

// Duration returns the operation duration histogram vector.
func (c *Collector) Duration() *prometheus.HistogramVec { return c.duration }

// QueueDepth returns the offline queue gauge vector.
func (c *Collector) QueueDepth() *prometheus.GaugeVec { return c.queueDepth }

// Records returns the record count gauge vector.
func (c *Collector) Records() *prometheus.GaugeVec { return c.records }
