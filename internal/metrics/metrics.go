// Package metrics provides Prometheus metrics for the DICOM store services
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the store and the sync worker
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Store operation metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	InstancesStoredTotal   *prometheus.CounterVec
	CompensationsTotal     *prometheus.CounterVec
	QueryParseFailures     prometheus.Counter

	// Change feed sync metrics
	ChangeFeedEntriesTotal *prometheus.CounterVec
	CastBatchesTotal       *prometheus.CounterVec
	SyncedSequence         prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// HTTP request metrics
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomstore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicomstore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicomstore_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicomstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicomstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Store operation metrics
	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomstore_store_operations_total",
			Help: "Total number of backing store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicomstore_store_operation_duration_seconds",
			Help:    "Duration of backing store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.InstancesStoredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomstore_instances_stored_total",
			Help: "Total number of instance store attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.CompensationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomstore_compensations_total",
			Help: "Total number of index cleanups after a failed store",
		},
		[]string{"outcome"},
	)

	m.QueryParseFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomstore_query_parse_failures_total",
			Help: "Total number of rejected query requests",
		},
	)

	// Change feed sync metrics
	m.ChangeFeedEntriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomstore_changefeed_entries_total",
			Help: "Total number of change feed entries handled by the sync processor",
		},
		[]string{"result"},
	)

	m.CastBatchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomstore_cast_batches_total",
			Help: "Total number of change feed batches by outcome",
		},
		[]string{"status"},
	)

	m.SyncedSequence = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicomstore_cast_synced_sequence",
			Help: "Last change feed sequence durably synced",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicomstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until done is closed
func (m *Metrics) RunUptime(done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordHTTPRequest records an HTTP request with its status code
func (m *Metrics) RecordHTTPRequest(route, method, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a backing store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBatch records a completed or failed change feed batch
func (m *Metrics) RecordBatch(status string, maxSequence int64) {
	m.CastBatchesTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.SyncedSequence.Set(float64(maxSequence))
	}
}
