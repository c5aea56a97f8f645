package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics holds all Prometheus metrics owned by the retrieval engine.
// A single instance is created in New and stored on Engine so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type engineMetrics struct {
	// queriesTotal counts completed retrievals, partitioned by the strategy
	// that produced the result: "offline", "online", "hybrid", or
	// "offline-degraded".
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records the wall-clock duration of each retrieval,
	// embedding and both legs included.
	queryDurationSeconds *prometheus.HistogramVec

	// onlineFailuresTotal counts online-leg failures, partitioned by class:
	// "network", "rate_limited", or "provider".
	onlineFailuresTotal *prometheus.CounterVec

	// growthEnqueuedTotal counts documents handed to the cache-growth worker.
	growthEnqueuedTotal prometheus.Counter

	// growthDroppedTotal counts growth batches discarded because the queue
	// was full. Dropping is safe: the same results recur on a later query.
	growthDroppedTotal prometheus.Counter

	// cacheDocuments is the current number of documents in the cache.
	cacheDocuments prometheus.Gauge
}

// newEngineMetrics registers all engine metrics against reg. promauto.With(reg)
// is used so each call registers into the provided registry rather than the
// global default — this keeps unit tests hermetic.
func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	factory := promauto.With(reg)

	return &engineMetrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hyrag",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Total number of retrievals completed, partitioned by strategy.",
		}, []string{"strategy"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hyrag",
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "Wall-clock duration of retrievals, embedding and both legs included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"strategy"}),

		onlineFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hyrag",
			Subsystem: "retrieval",
			Name:      "online_failures_total",
			Help:      "Total number of online-leg failures, partitioned by failure class.",
		}, []string{"class"}),

		growthEnqueuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hyrag",
			Subsystem: "cache",
			Name:      "growth_enqueued_total",
			Help:      "Total number of novel documents handed to the cache-growth worker.",
		}),

		growthDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hyrag",
			Subsystem: "cache",
			Name:      "growth_dropped_total",
			Help:      "Total number of growth batches discarded because the queue was full.",
		}),

		cacheDocuments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hyrag",
			Subsystem: "cache",
			Name:      "documents",
			Help:      "Current number of documents in the knowledge cache.",
		}),
	}
}
