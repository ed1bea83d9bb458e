// Package metrics exposes Prometheus collectors for annotation storage layers
// and candidate queues.
//
// Collectors are registered against a caller-supplied prometheus.Registerer
// instead of the default registry so that independent layers and query
// evaluations never share global state:
//
//	reg := prometheus.NewRegistry()
//	qm := metrics.NewQueueMetrics(reg, "icarus")
//	q := candidate.NewQueue(candidate.QueueConfig{Capacity: 1024, Metrics: qm.For("query-1")})
//
// A nil *QueueMetrics or *StorageMetrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueueMetrics groups the collectors shared by all candidate queues of a process.
type QueueMetrics struct {
	depth             *prometheus.GaugeVec
	added             *prometheus.CounterVec
	loaded            *prometheus.CounterVec
	backpressureWaits *prometheus.CounterVec
	readerWaits       *prometheus.CounterVec
	filterErrors      *prometheus.CounterVec
	loadBatch         *prometheus.HistogramVec
}

// NewQueueMetrics creates and registers queue collectors under namespace.
func NewQueueMetrics(reg prometheus.Registerer, namespace string) *QueueMetrics {
	f := promauto.With(reg)
	return &QueueMetrics{
		depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "candidate_queue",
			Name:      "depth",
			Help:      "Number of candidate indices buffered in the queue",
		}, []string{"queue"}),
		added: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidate_queue",
			Name:      "added_total",
			Help:      "Candidate indices written by filters",
		}, []string{"queue"}),
		loaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidate_queue",
			Name:      "loaded_total",
			Help:      "Candidate indices handed to readers",
		}, []string{"queue"}),
		backpressureWaits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidate_queue",
			Name:      "backpressure_waits_total",
			Help:      "Times a filter blocked on a full queue",
		}, []string{"queue"}),
		readerWaits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidate_queue",
			Name:      "reader_waits_total",
			Help:      "Times a reader blocked on an empty queue",
		}, []string{"queue"}),
		filterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candidate_queue",
			Name:      "filter_errors_total",
			Help:      "Filter tasks that failed",
		}, []string{"queue"}),
		loadBatch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "candidate_queue",
			Name:      "load_batch_size",
			Help:      "Indices returned per load call",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"queue"}),
	}
}

// For binds the collectors to one queue label.
func (m *QueueMetrics) For(queue string) *QueueRecorder {
	if m == nil {
		return nil
	}
	return &QueueRecorder{
		depth:             m.depth.WithLabelValues(queue),
		added:             m.added.WithLabelValues(queue),
		loaded:            m.loaded.WithLabelValues(queue),
		backpressureWaits: m.backpressureWaits.WithLabelValues(queue),
		readerWaits:       m.readerWaits.WithLabelValues(queue),
		filterErrors:      m.filterErrors.WithLabelValues(queue),
		loadBatch:         m.loadBatch.WithLabelValues(queue),
	}
}

// QueueRecorder records events of a single queue. Methods are nil-safe.
type QueueRecorder struct {
	depth             prometheus.Gauge
	added             prometheus.Counter
	loaded            prometheus.Counter
	backpressureWaits prometheus.Counter
	readerWaits       prometheus.Counter
	filterErrors      prometheus.Counter
	loadBatch         prometheus.Observer
}

// Added records n indices written and the resulting depth.
func (r *QueueRecorder) Added(n, depth int) {
	if r == nil {
		return
	}
	r.added.Add(float64(n))
	r.depth.Set(float64(depth))
}

// Loaded records n indices read and the resulting depth.
func (r *QueueRecorder) Loaded(n, depth int) {
	if r == nil {
		return
	}
	r.loaded.Add(float64(n))
	r.loadBatch.Observe(float64(n))
	r.depth.Set(float64(depth))
}

// BackpressureWait records a producer blocking on a full buffer.
func (r *QueueRecorder) BackpressureWait() {
	if r == nil {
		return
	}
	r.backpressureWaits.Inc()
}

// ReaderWait records a reader blocking on an empty buffer.
func (r *QueueRecorder) ReaderWait() {
	if r == nil {
		return
	}
	r.readerWaits.Inc()
}

// FilterError records a failed filter task.
func (r *QueueRecorder) FilterError() {
	if r == nil {
		return
	}
	r.filterErrors.Inc()
}

// StorageMetrics groups the collectors of annotation storage layers.
type StorageMetrics struct {
	conversions *prometheus.CounterVec
	bundles     *prometheus.GaugeVec
	writes      *prometheus.CounterVec
}

// NewStorageMetrics creates and registers storage collectors under namespace.
func NewStorageMetrics(reg prometheus.Registerer, namespace string) *StorageMetrics {
	f := promauto.With(reg)
	return &StorageMetrics{
		conversions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annotation_storage",
			Name:      "bundle_conversions_total",
			Help:      "Bundle representation changes between array and map mode",
		}, []string{"layer", "direction"}),
		bundles: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "annotation_storage",
			Name:      "bundles",
			Help:      "Items currently holding a bundle",
		}, []string{"layer"}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annotation_storage",
			Name:      "writes_total",
			Help:      "Value writes by outcome",
		}, []string{"layer", "outcome"}),
	}
}

// For binds the collectors to one layer label.
func (m *StorageMetrics) For(layer string) *StorageRecorder {
	if m == nil {
		return nil
	}
	return &StorageRecorder{
		grow:      m.conversions.WithLabelValues(layer, "grow"),
		shrink:    m.conversions.WithLabelValues(layer, "shrink"),
		bundles:   m.bundles.WithLabelValues(layer),
		changed:   m.writes.WithLabelValues(layer, "changed"),
		unchanged: m.writes.WithLabelValues(layer, "unchanged"),
		failed:    m.writes.WithLabelValues(layer, "failed"),
	}
}

// StorageRecorder records events of a single layer. Methods are nil-safe.
type StorageRecorder struct {
	grow      prometheus.Counter
	shrink    prometheus.Counter
	bundles   prometheus.Gauge
	changed   prometheus.Counter
	unchanged prometheus.Counter
	failed    prometheus.Counter
}

// Grew records an array to map conversion.
func (r *StorageRecorder) Grew() {
	if r == nil {
		return
	}
	r.grow.Inc()
}

// Shrank records a map to array conversion.
func (r *StorageRecorder) Shrank() {
	if r == nil {
		return
	}
	r.shrink.Inc()
}

// Bundles sets the number of live bundles.
func (r *StorageRecorder) Bundles(n int) {
	if r == nil {
		return
	}
	r.bundles.Set(float64(n))
}

// Write records the outcome of a value write.
func (r *StorageRecorder) Write(changed bool, err error) {
	if r == nil {
		return
	}
	switch {
	case err != nil:
		r.failed.Inc()
	case changed:
		r.changed.Inc()
	default:
		r.unchanged.Inc()
	}
}
