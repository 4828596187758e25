package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	moveDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Move outcomes used as the result label.
const (
	MoveResultCommitted = "committed"
	MoveResultRejected  = "rejected"
	MoveResultReplayed  = "replayed"
	MoveResultError     = "error"
)

// Notification outcomes used as the status label.
const (
	NotificationDelivered = "delivered"
	NotificationRetried   = "retried"
	NotificationFailed    = "failed"
	NotificationDropped   = "dropped"
)

// Metrics holds all Prometheus metric instruments for the orchestrator.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Move metrics
	MovesTotal          *prometheus.CounterVec
	MoveDuration        prometheus.Histogram
	MoveRejectionsTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal     *prometheus.CounterVec
	NotificationQueueDepth prometheus.Gauge

	// System metrics
	RegistryLocations  prometheus.Gauge
	PolicyReloadsTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehicleflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vehicleflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		MovesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehicleflow_moves_total",
			Help: "Total number of move attempts by outcome.",
		}, []string{"from", "to", "result"}),
		MoveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vehicleflow_move_duration_seconds",
			Help:    "Move execution duration in seconds.",
			Buckets: moveDurationBuckets,
		}),
		MoveRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehicleflow_move_rejections_total",
			Help: "Total number of rejected moves by error code.",
		}, []string{"code"}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehicleflow_notifications_total",
			Help: "Total number of notification delivery outcomes.",
		}, []string{"topic", "status"}),
		NotificationQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vehicleflow_notification_queue_depth",
			Help: "Number of notifications waiting for delivery.",
		}),

		RegistryLocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vehicleflow_registry_locations",
			Help: "Number of locations in the loaded registry.",
		}),
		PolicyReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehicleflow_policy_reloads_total",
			Help: "Total number of authorization policy reloads.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MovesTotal,
		m.MoveDuration,
		m.MoveRejectionsTotal,
		m.NotificationsTotal,
		m.NotificationQueueDepth,
		m.RegistryLocations,
		m.PolicyReloadsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordMove records the outcome and duration of a move attempt.
func (m *Metrics) RecordMove(from, to, result string, duration time.Duration) {
	m.MovesTotal.WithLabelValues(from, to, result).Inc()
	m.MoveDuration.Observe(duration.Seconds())
}

// RecordMoveRejection records a move rejected with the given error code.
func (m *Metrics) RecordMoveRejection(code string) {
	m.MoveRejectionsTotal.WithLabelValues(code).Inc()
}

// RecordNotification records a notification delivery outcome.
func (m *Metrics) RecordNotification(topic, status string) {
	m.NotificationsTotal.WithLabelValues(topic, status).Inc()
}

// SetNotificationQueueDepth sets the number of queued notifications.
func (m *Metrics) SetNotificationQueueDepth(depth int) {
	m.NotificationQueueDepth.Set(float64(depth))
}

// SetRegistryLocations sets the number of loaded locations.
func (m *Metrics) SetRegistryLocations(count int) {
	m.RegistryLocations.Set(float64(count))
}

// RecordPolicyReload records an authorization policy reload ("success" or
// "failure").
func (m *Metrics) RecordPolicyReload(status string) {
	m.PolicyReloadsTotal.WithLabelValues(status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
