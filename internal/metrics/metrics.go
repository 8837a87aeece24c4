// Package metrics provides Prometheus metrics for the drivegate server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivegate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// File manager operations
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_operations_total",
			Help: "File manager operations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivegate_operation_duration_seconds",
			Help:    "File manager operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_permission_checks_total",
			Help: "Total permission checks",
		},
		[]string{"result"},
	)

	// Remote store
	remoteOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivegate_remote_operation_duration_seconds",
			Help:    "Remote store call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	remoteOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_remote_operations_total",
			Help: "Total remote store calls",
		},
		[]string{"backend", "operation", "status"},
	)

	remoteThrottleWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drivegate_remote_throttle_wait_seconds",
			Help:    "Time spent waiting on the remote call rate limiter",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	pollAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivegate_poll_attempts",
			Help:    "Lookups needed before a copied or moved item became visible",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"operation", "result"},
	)

	// Content transfer
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivegate_content_bytes_downloaded_total",
			Help: "Total bytes streamed to clients",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivegate_content_bytes_uploaded_total",
			Help: "Total bytes written to the remote store",
		},
	)

	// Auth
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_auth_attempts_total",
			Help: "Total token verifications",
		},
		[]string{"result"},
	)

	// SSE
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivegate_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOperation records a file manager operation. outcome is "success"
// or the error kind.
func RecordOperation(action, outcome string, duration time.Duration) {
	operationsTotal.WithLabelValues(action, outcome).Inc()
	operationDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordPermissionCheck records a permission check result.
func RecordPermissionCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	permissionChecksTotal.WithLabelValues(result).Inc()
}

// RecordRemoteOperation records a remote store call.
func RecordRemoteOperation(backend, operation string, duration time.Duration, success bool) {
	remoteOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	remoteOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordThrottleWait records time spent blocked on the remote rate limiter.
func RecordThrottleWait(d time.Duration) {
	remoteThrottleWait.Observe(d.Seconds())
}

// RecordPoll records how many lookups a copy or move reconciliation took.
func RecordPoll(operation string, attempts int, success bool) {
	result := "visible"
	if !success {
		result = "timeout"
	}
	pollAttempts.WithLabelValues(operation, result).Observe(float64(attempts))
}

// RecordContentDownload records bytes streamed to a client.
func RecordContentDownload(bytes int64) {
	contentBytesDownloaded.Add(float64(bytes))
}

// RecordContentUpload records bytes written to the store.
func RecordContentUpload(bytes int64) {
	contentBytesUploaded.Add(float64(bytes))
}

// RecordAuthAttempt records a token verification.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
