package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	nodeExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdash_node_executions_total",
			Help: "Total number of executed query nodes by kind and status.",
		},
		[]string{"kind", "status"},
	)
	nodeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphdash_node_duration_seconds",
			Help:    "Query node execution latency by kind.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)
	requestNodesTotal = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphdash_request_nodes",
			Help:    "Number of query nodes per execution request.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)
	secretCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphdash_secret_cache_hits_total",
			Help: "Total number of secret cache hits.",
		},
	)
	secretCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphdash_secret_cache_misses_total",
			Help: "Total number of secret cache misses.",
		},
	)
	poolExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphdash_pool_exhausted_total",
			Help: "Total number of target-database pool checkout timeouts.",
		},
	)
	connectionTestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdash_connection_tests_total",
			Help: "Total number of data source connection tests by outcome.",
		},
		[]string{"outcome"},
	)
	activeTargetPools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphdash_active_target_pools",
			Help: "Current number of open target-database connection pools.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		nodeExecutionsTotal,
		nodeDurationSeconds,
		requestNodesTotal,
		secretCacheHitsTotal,
		secretCacheMissesTotal,
		poolExhaustedTotal,
		connectionTestsTotal,
		activeTargetPools,
	)
}

func ObserveNodeExecution(kind string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	nodeExecutionsTotal.WithLabelValues(kind, status).Inc()
	nodeDurationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func ObserveRequestNodes(count int) {
	requestNodesTotal.Observe(float64(count))
}

func IncrementSecretCacheHit()  { secretCacheHitsTotal.Inc() }
func IncrementSecretCacheMiss() { secretCacheMissesTotal.Inc() }

func IncrementPoolExhausted() { poolExhaustedTotal.Inc() }

func ObserveConnectionTest(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	connectionTestsTotal.WithLabelValues(outcome).Inc()
}

func SetActiveTargetPools(count int) {
	if count < 0 {
		count = 0
	}
	activeTargetPools.Set(float64(count))
}
