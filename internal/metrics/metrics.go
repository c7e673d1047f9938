package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "resilient"

var (
	once sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry attempts issued by the retry interceptor.",
		},
		[]string{"method"},
	)

	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Operations waiting in the offline queue.",
		},
	)

	syncOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_total",
			Help:      "Queued operations replayed by the sync engine, by result.",
		},
		[]string{"result"},
	)

	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_dropped_total",
			Help:      "Queued operations discarded without being delivered.",
		},
		[]string{"reason"},
	)

	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_http_requests_total",
			Help:      "Admin HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(requests, retries, queueLength, syncOperations, dropped, adminRequests)
	})
}

// IncRequest counts a facade call. outcome is ok, failed or queued.
func IncRequest(method, outcome string) {
	requests.WithLabelValues(method, outcome).Inc()
}

func IncRetry(method string) {
	retries.WithLabelValues(method).Inc()
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

// IncSynced counts a replay. result is success, requeued or failed.
func IncSynced(result string) {
	syncOperations.WithLabelValues(result).Inc()
}

func IncDropped(reason string) {
	dropped.WithLabelValues(reason).Inc()
}

// IncHTTP increments the counter for an admin endpoint label.
func IncHTTP(endpoint string) {
	adminRequests.WithLabelValues(endpoint).Inc()
}
