package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signalloop",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of engine API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalloop",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by engine API endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalloop",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the token bucket",
		},
		[]string{"endpoint"},
	)
)

// Register registers the API collectors with the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, RateLimited)
	})
}
