package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec

	sessionOpsTotal   *prometheus.CounterVec
	sessionsClosed    *prometheus.CounterVec
	lockTimeoutsTotal prometheus.Counter
	sweepDuration     prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the session engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exstem_http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exstem_http_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method", "route"})

		sessionOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exstem_session_operations_total",
			Help: "Session engine operations by name and outcome kind.",
		}, []string{"operation", "outcome"})

		sessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exstem_sessions_closed_total",
			Help: "Sessions leaving ACTIVE, by resulting status and reason.",
		}, []string{"status", "reason"})

		lockTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exstem_session_lock_timeouts_total",
			Help: "Lock acquisitions that exceeded the wait bound.",
		})

		sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exstem_deadline_sweep_seconds",
			Help:    "Duration of deadline sweeps.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(httpRequestsTotal, httpLatencySeconds, sessionOpsTotal,
			sessionsClosed, lockTimeoutsTotal, sweepDuration)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// SessionOperations counts engine operations by outcome ("ok" or an error kind).
func SessionOperations() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionOpsTotal
}

// SessionsClosed counts ACTIVE -> SUBMITTED/EXPIRED transitions.
func SessionsClosed() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionsClosed
}

// LockTimeouts counts lock waits that gave up.
func LockTimeouts() prometheus.Counter {
	RegisterMetrics()
	return lockTimeoutsTotal
}

// SweepDuration observes deadline sweep wall time.
func SweepDuration() prometheus.Histogram {
	RegisterMetrics()
	return sweepDuration
}
