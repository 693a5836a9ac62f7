// Package metrics provides Prometheus instrumentation for the stream engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamsCreated counts streams created, partitioned by asset.
	StreamsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vestflow_streams_created_total",
		Help: "Total number of streams created",
	}, []string{"asset"})

	// WithdrawalsTotal counts withdrawals executed.
	WithdrawalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vestflow_withdrawals_total",
		Help: "Total number of withdrawals executed",
	})

	// CancellationsTotal counts streams canceled.
	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vestflow_cancellations_total",
		Help: "Total number of streams canceled",
	})

	// StreamedQueryLatency tracks streamed-amount computation latency.
	StreamedQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vestflow_streamed_query_duration_seconds",
		Help:    "Streamed-amount computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vestflow_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vestflow_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vestflow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// DepositLimitRejections counts creations rejected by the deposit limiter.
	DepositLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vestflow_deposit_limit_rejections_total",
		Help: "Stream creations rejected by the deposit limiter",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; stream IDs are UUIDs, so the
		// cardinality stays bounded by the stream population.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
