package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medrex/caseledger/pkg/types"
)

// MetricsCollector handles Prometheus metrics collection. Each collector owns its
// registry so several can coexist in one process.
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	ledgerOperationsTotal *prometheus.CounterVec
	ledgerOperationTime   *prometheus.HistogramVec
	fileStoreOpsTotal     *prometheus.CounterVec
	authAttemptsTotal     *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(serviceName string) *MetricsCollector {
	labels := prometheus.Labels{"service": serviceName}
	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Duration of HTTP requests in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"method", "endpoint"},
		),
		ledgerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ledger_operations_total",
				Help:        "Total number of ledger operations by outcome",
				ConstLabels: labels,
			},
			[]string{"operation", "status", "error_kind"},
		),
		ledgerOperationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "ledger_operation_duration_seconds",
				Help:        "Duration of ledger operations in seconds",
				Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
				ConstLabels: labels,
			},
			[]string{"operation"},
		),
		fileStoreOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "filestore_operations_total",
				Help:        "Total number of content store operations",
				ConstLabels: labels,
			},
			[]string{"operation", "status"},
		),
		authAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "auth_attempts_total",
				Help:        "Total number of signer authentication attempts",
				ConstLabels: labels,
			},
			[]string{"method", "status"},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.ledgerOperationsTotal,
		m.ledgerOperationTime,
		m.fileStoreOpsTotal,
		m.authAttemptsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ObserveLedgerOperation records one ledger operation; it satisfies ledger.Observer
func (m *MetricsCollector) ObserveLedgerOperation(operation string, kind types.ErrorKind, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.ledgerOperationsTotal.WithLabelValues(operation, status, string(kind)).Inc()
	m.ledgerOperationTime.WithLabelValues(operation).Observe(seconds)
}

// RecordFileStoreOperation records content store metrics
func (m *MetricsCollector) RecordFileStoreOperation(operation string, success bool) {
	m.fileStoreOpsTotal.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
}

// RecordAuthAttempt records signer authentication metrics
func (m *MetricsCollector) RecordAuthAttempt(method, status string) {
	m.authAttemptsTotal.WithLabelValues(method, status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
