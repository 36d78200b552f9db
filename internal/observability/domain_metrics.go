package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetviz_query_requests_total",
			Help: "Total number of dataset queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datasetviz_query_latency_ms",
			Help:    "Query execute plus materialize latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)
	queryTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datasetviz_query_truncated_total",
			Help: "Total number of query results truncated at the row limit.",
		},
	)
	relationBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetviz_relation_builds_total",
			Help: "Relation build attempts by strategy and result.",
		},
		[]string{"strategy", "result"},
	)
	poolIdleConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetviz_pool_idle_connections",
			Help: "Engine connections currently idle in the pool.",
		},
	)
	poolOverflowTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datasetviz_pool_overflow_total",
			Help: "Total number of ephemeral connections opened because the pool was empty.",
		},
	)
	poolDiscardTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datasetviz_pool_discard_total",
			Help: "Total number of connections closed after a failed reset.",
		},
	)
	poolSurplusCloseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datasetviz_pool_surplus_close_total",
			Help: "Total number of healthy connections closed because the pool was full or closed.",
		},
	)
	datasetCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetviz_dataset_cache_total",
			Help: "Saved dataset cache lookups by result.",
		},
		[]string{"result"},
	)
	mirrorObjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetviz_mirror_objects_total",
			Help: "Objects visited by the dataset mirror by result.",
		},
		[]string{"result"},
	)
	mirrorBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datasetviz_mirror_bytes_total",
			Help: "Bytes downloaded by the dataset mirror.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queryRequestsTotal,
		queryLatencyMs,
		queryTruncatedTotal,
		relationBuildsTotal,
		poolIdleConnections,
		poolOverflowTotal,
		poolDiscardTotal,
		poolSurplusCloseTotal,
		datasetCacheTotal,
		mirrorObjectsTotal,
		mirrorBytesTotal,
	)
}

func ObserveQuery(elapsed time.Duration, truncated bool) {
	queryRequestsTotal.WithLabelValues("ok").Inc()
	queryLatencyMs.Observe(float64(elapsed.Microseconds()) / 1000)
	if truncated {
		queryTruncatedTotal.Inc()
	}
}

func IncrementQueryFailure() {
	queryRequestsTotal.WithLabelValues("error").Inc()
}

func ObserveRelationBuild(strategy string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	relationBuildsTotal.WithLabelValues(strategy, result).Inc()
}

func SetPoolIdle(idle int) {
	if idle < 0 {
		idle = 0
	}
	poolIdleConnections.Set(float64(idle))
}

func IncrementPoolOverflow() {
	poolOverflowTotal.Inc()
}

func IncrementPoolDiscard() {
	poolDiscardTotal.Inc()
}

func IncrementPoolSurplusClose() {
	poolSurplusCloseTotal.Inc()
}

func ObserveDatasetCache(hit bool) {
	if hit {
		datasetCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	datasetCacheTotal.WithLabelValues("miss").Inc()
}

func ObserveMirrorObject(result string, bytes int64) {
	mirrorObjectsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		mirrorBytesTotal.Add(float64(bytes))
	}
}
