package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/kvexplorer/kvexplorer/internal/config"
	"github.com/kvexplorer/kvexplorer/internal/values"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kvexplorer"

// Manager defines the interface for metrics management
type Manager interface {
	// Scan Metrics
	RecordScan(backend, outcome string, pairs, batches int, duration time.Duration)
	RecordClassification(role string, kind values.Kind)

	// HTTP Metrics
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// Export
	Handler() http.Handler
	Middleware() func(http.Handler) http.Handler
}

// metricsManager implements the Manager interface using Prometheus
type metricsManager struct {
	registry *prometheus.Registry

	// Scan Metrics
	scansTotal      *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	scanBatches     *prometheus.HistogramVec
	pairsScanned    *prometheus.CounterVec
	classifications *prometheus.CounterVec

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a new metrics manager. A disabled config yields a
// manager that records nothing.
func NewManager(cfg config.MetricsConfig) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	m := &metricsManager{registry: prometheus.NewRegistry()}
	m.initializeMetrics()
	m.registry.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.scanBatches,
		m.pairsScanned,
		m.classifications,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *metricsManager) initializeMetrics() {
	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "total",
			Help:      "Total number of full keyspace scans by outcome",
		},
		[]string{"backend", "outcome"},
	)

	m.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Full keyspace scan duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "outcome"},
	)

	m.scanBatches = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "batches",
			Help:      "Number of batches requested per scan",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"backend"},
	)

	m.pairsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "pairs_total",
			Help:      "Total number of pairs returned by successful scans",
		},
		[]string{"backend"},
	)

	m.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "total",
			Help:      "Total number of classified keys and values by chosen kind",
		},
		[]string{"role", "kind"},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

func (m *metricsManager) RecordScan(backend, outcome string, pairs, batches int, duration time.Duration) {
	m.scansTotal.WithLabelValues(backend, outcome).Inc()
	m.scanDuration.WithLabelValues(backend, outcome).Observe(duration.Seconds())
	m.scanBatches.WithLabelValues(backend).Observe(float64(batches))
	if outcome == "ok" {
		m.pairsScanned.WithLabelValues(backend).Add(float64(pairs))
	}
}

func (m *metricsManager) RecordClassification(role string, kind values.Kind) {
	m.classifications.WithLabelValues(role, kind.String()).Inc()
}

func (m *metricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *metricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records every request. The path label is the matched route
// template so that raw URLs do not explode label cardinality.
func (m *metricsManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			m.RecordHTTPRequest(r.Method, path, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// noopManager is a no-op implementation when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordScan(backend, outcome string, pairs, batches int, duration time.Duration) {
}
func (n *noopManager) RecordClassification(role string, kind values.Kind) {}
func (n *noopManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *noopManager) Handler() http.Handler { return http.NotFoundHandler() }
func (n *noopManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
