package observability

import "github.com/prometheus/client_golang/prometheus"

// HTTP-level metrics. Node, pool, and secret-cache metrics live in
// domain_metrics.go.
var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdash_http_requests_total",
			Help: "HTTP requests served, by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphdash_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency)
}
