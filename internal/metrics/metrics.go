// Package metrics exposes the similarity index and recall pipeline as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "abio"
)

// LatencyBuckets defines histogram buckets for in-process operations (in seconds).
var LatencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
}

// Collector implements vector.Observer and records recall and embedding activity.
type Collector struct {
	indexSize        prometheus.Gauge
	indexDimension   prometheus.Gauge
	searches         prometheus.Counter
	searchLatency    prometheus.Histogram
	searchResults    prometheus.Histogram
	persistOps       *prometheus.CounterVec
	persistLatency   *prometheus.HistogramVec
	dimensionAdopted prometheus.Counter
	rememberedTurns  prometheus.Counter
	embeddingBatches *prometheus.CounterVec
	embeddingLatency prometheus.Histogram
	recallRequests   *prometheus.CounterVec
}

// NewCollector registers the metrics on reg. Use prometheus.NewRegistry() in tests
// to avoid clashing with the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		indexSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "entries",
			Help:      "Number of vectors stored in the similarity index",
		}),
		indexDimension: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "dimension",
			Help:      "Vector dimension accepted by the similarity index",
		}),
		searches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "searches_total",
			Help:      "Total number of completed similarity searches",
		}),
		searchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "search_latency_seconds",
			Help:      "Similarity search latency in seconds",
			Buckets:   LatencyBuckets,
		}),
		searchResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "search_results",
			Help:      "Number of results returned per similarity search",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		persistOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "persist_total",
			Help:      "Index save and load attempts",
		}, []string{"op", "status"}),
		persistLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "persist_latency_seconds",
			Help:      "Index save and load latency in seconds",
			Buckets:   LatencyBuckets,
		}, []string{"op"}),
		dimensionAdopted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "dimension_adopted_total",
			Help:      "Loads that replaced the configured dimension with the stored one",
		}),
		rememberedTurns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remembered_turns_total",
			Help:      "Turns added to memory",
		}),
		embeddingBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "batches_total",
			Help:      "Embedding batches by outcome",
		}, []string{"status"}),
		embeddingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "latency_seconds",
			Help:      "Embedding batch latency in seconds",
			Buckets:   LatencyBuckets,
		}),
		recallRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_requests_total",
			Help:      "Recall requests by mode",
		}, []string{"mode"}),
	}
}

// IndexChanged records the current index size.
func (c *Collector) IndexChanged(size int) {
	c.indexSize.Set(float64(size))
}

// SearchCompleted records one search.
func (c *Collector) SearchCompleted(k, returned int, elapsed time.Duration) {
	c.searches.Inc()
	c.searchLatency.Observe(elapsed.Seconds())
	c.searchResults.Observe(float64(returned))
}

// Persisted records a save or load attempt.
func (c *Collector) Persisted(op string, size int, elapsed time.Duration, err error) {
	c.persistOps.WithLabelValues(op, statusLabel(err)).Inc()
	c.persistLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// DimensionAdopted records a dimension change on load.
func (c *Collector) DimensionAdopted(from, to int) {
	c.dimensionAdopted.Inc()
	c.indexDimension.Set(float64(to))
}

// SetDimension records the configured index dimension.
func (c *Collector) SetDimension(dim int) {
	c.indexDimension.Set(float64(dim))
}

// TurnsRemembered counts turns added to memory.
func (c *Collector) TurnsRemembered(n int) {
	c.rememberedTurns.Add(float64(n))
}

// EmbeddingCompleted records one embedding batch.
func (c *Collector) EmbeddingCompleted(elapsed time.Duration, err error) {
	c.embeddingBatches.WithLabelValues(statusLabel(err)).Inc()
	if err == nil {
		c.embeddingLatency.Observe(elapsed.Seconds())
	}
}

// RecallServed counts a recall request by mode ("hybrid", "semantic" or "keyword").
func (c *Collector) RecallServed(mode string) {
	c.recallRequests.WithLabelValues(mode).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
