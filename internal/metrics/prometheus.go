package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wirecdc"

// PrometheusCounter wraps prometheus.Counter with the same interface as Counter.
type PrometheusCounter struct {
	counter prometheus.Counter
}

func NewPrometheusCounter(subsystem, name, help string) *PrometheusCounter {
	return &PrometheusCounter{
		counter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}
}

func (c *PrometheusCounter) Inc() {
	c.counter.Inc()
}

func (c *PrometheusCounter) Add(n uint64) {
	c.counter.Add(float64(n))
}

// PrometheusGauge wraps prometheus.Gauge with the same interface as Gauge.
type PrometheusGauge struct {
	gauge prometheus.Gauge
}

func NewPrometheusGauge(subsystem, name, help string) *PrometheusGauge {
	return &PrometheusGauge{
		gauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}
}

func (g *PrometheusGauge) Set(v int64) {
	g.gauge.Set(float64(v))
}

// PrometheusHistogram wraps prometheus.Histogram.
type PrometheusHistogram struct {
	histogram prometheus.Histogram
}

func NewPrometheusHistogram(subsystem, name, help string, buckets []float64) *PrometheusHistogram {
	return &PrometheusHistogram{
		histogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}),
	}
}

func (h *PrometheusHistogram) Observe(value uint64) {
	h.histogram.Observe(float64(value))
}

// Metrics is the centralized registry of every exported metric.
type Metrics struct {
	// Engine metrics
	EventsTotal      *PrometheusCounter
	BatchesPublished *PrometheusCounter
	BatchLatency     *PrometheusHistogram
	EncodeLatency    *PrometheusHistogram

	// Publisher metrics
	PublishedTotal      *PrometheusCounter
	PublishFailures     *PrometheusCounter
	JetstreamAckFailure *PrometheusCounter

	// Decoder metrics
	ReplicationLag  *PrometheusGauge
	DecodeErrors    *PrometheusCounter
	UnknownMessages *PrometheusCounter
	EventsFiltered  *PrometheusCounter
	RelationsCached *PrometheusGauge
	TypesCached     *PrometheusGauge

	// WAL reader metrics
	ReplicationErrors *PrometheusCounter

	// Throughput
	EventsPerSecond *PrometheusGauge
}

// NewMetrics registers every collector on the default registry. Call it once;
// promauto panics on duplicate registration.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsTotal: NewPrometheusCounter("engine", "events_total",
			"Total number of change events processed"),
		BatchesPublished: NewPrometheusCounter("engine", "batches_published_total",
			"Total number of batches published"),
		BatchLatency: NewPrometheusHistogram("engine", "batch_latency_microseconds",
			"Batch publishing latency in microseconds",
			[]float64{100, 500, 1000, 5000, 10000, 50000, 100000}),
		EncodeLatency: NewPrometheusHistogram("engine", "encode_latency_nanoseconds",
			"Event encoding latency in nanoseconds",
			[]float64{100, 500, 1000, 5000, 10000, 50000}),

		PublishedTotal: NewPrometheusCounter("publisher", "published_total",
			"Total number of messages handed to the sink"),
		PublishFailures: NewPrometheusCounter("publisher", "publish_failures_total",
			"Total number of publish attempts that failed"),
		JetstreamAckFailure: NewPrometheusCounter("publisher", "jetstream_ack_failures_total",
			"Total number of JetStream ack failures"),

		ReplicationLag: NewPrometheusGauge("decoder", "replication_lag_milliseconds",
			"Current replication lag in milliseconds"),
		DecodeErrors: NewPrometheusCounter("decoder", "decode_errors_total",
			"Total number of message decode errors"),
		UnknownMessages: NewPrometheusCounter("decoder", "unknown_messages_total",
			"Total number of messages with an unclaimed tag"),
		EventsFiltered: NewPrometheusCounter("decoder", "events_filtered_total",
			"Total number of data events dropped by the table filter"),
		RelationsCached: NewPrometheusGauge("decoder", "relations_cached",
			"Relation definitions currently cached by the schema registry"),
		TypesCached: NewPrometheusGauge("decoder", "types_cached",
			"Type definitions currently cached by the schema registry"),

		ReplicationErrors: NewPrometheusCounter("wal", "replication_errors_total",
			"Total number of replication errors"),

		EventsPerSecond: NewPrometheusGauge("engine", "events_per_second",
			"Current events processed per second"),
	}
}

// GlobalMetrics is the process-wide metrics instance.
var GlobalMetrics = NewMetrics()
