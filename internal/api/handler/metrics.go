package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	custodyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	custodyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	custodyEvidenceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_evidence_objects_total",
		Help: "Total evidence objects created by source type.",
	}, []string{"source_type"})

	custodyEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_ledger_events_total",
		Help: "Total chain events appended by event type.",
	}, []string{"event_type"})

	custodyBundlesSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_bundles_sealed_total",
		Help: "Total bundles sealed.",
	})

	custodyArtifactsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_artifacts_assembled_total",
		Help: "Total derived artifacts assembled by kind.",
	}, []string{"kind"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		custodyRequestsTotal.WithLabelValues(method, path, status).Inc()
		custodyRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEvidenceCreated records a new evidence object.
func RecordEvidenceCreated(sourceType string) {
	custodyEvidenceTotal.WithLabelValues(sourceType).Inc()
}

// RecordEventAppended records a chain event append.
func RecordEventAppended(eventType string) {
	custodyEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordBundleSealed records a bundle seal.
func RecordBundleSealed() {
	custodyBundlesSealedTotal.Inc()
}

// RecordArtifactAssembled records an artifact assembly.
func RecordArtifactAssembled(kind string) {
	custodyArtifactsTotal.WithLabelValues(kind).Inc()
}
