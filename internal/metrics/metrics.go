package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_generations_total",
			Help: "Total number of generation attempts by terminal status.",
		},
		[]string{"status"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parley_generation_duration_seconds",
			Help:    "Wall time from admission to terminal generation event.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	QuotaDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_quota_denied_total",
			Help: "Total number of requests denied by the quota gate.",
		},
		[]string{"reason"},
	)

	StreamResumesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_stream_resumes_total",
			Help: "Total number of resume attempts by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GenerationsTotal,
		GenerationDuration,
		QuotaDeniedTotal,
		StreamResumesTotal,
	)
}
