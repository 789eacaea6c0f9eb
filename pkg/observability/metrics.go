// Package observability provides Prometheus metrics and health endpoints
// for the cast orchestration service.
package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecast_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamecast_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Session metrics
	sessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamecast_sessions_created_total",
			Help: "Total number of cast sessions created",
		},
	)

	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecast_session_transitions_total",
			Help: "Total number of session status transitions",
		},
		[]string{"from", "to"},
	)

	// Renderer fleet metrics
	rendererCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecast_renderer_calls_total",
			Help: "Total number of renderer control calls",
		},
		[]string{"op", "status"},
	)

	rendererCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamecast_renderer_call_duration_seconds",
			Help:    "Renderer control call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Workflow metrics
	workflowResumesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamecast_workflow_resumes_total",
			Help: "Total number of workflow resumes from persisted state",
		},
	)

	sweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamecast_sweep_runs_total",
			Help: "Total number of orphan sweep runs",
		},
	)

	sweepOrphansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gamecast_sweep_orphans_total",
			Help: "Total number of orphaned sessions picked up by the sweep",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamecast_active_sessions",
			Help: "Number of sessions in a non-terminal status",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			sessionsCreatedTotal,
			sessionTransitionsTotal,
			rendererCallsTotal,
			rendererCallDuration,
			workflowResumesTotal,
			sweepRunsTotal,
			sweepOrphansTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSessionCreated records a session creation.
func RecordSessionCreated() {
	sessionsCreatedTotal.Inc()
}

// RecordStatusTransition records a session status transition.
func RecordStatusTransition(from, to string) {
	sessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordRendererCall records a renderer control call.
func RecordRendererCall(op string, ok bool, duration time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	rendererCallsTotal.WithLabelValues(op, status).Inc()
	rendererCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordWorkflowResume records a workflow resume from persisted state.
func RecordWorkflowResume() {
	workflowResumesTotal.Inc()
}

// RecordSweep records one orphan sweep run.
func RecordSweep(active, orphans int) {
	sweepRunsTotal.Inc()
	sweepOrphansTotal.Add(float64(orphans))
	activeSessions.Set(float64(active))
}

// SetActiveSessions sets the active-session gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
