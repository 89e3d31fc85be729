package store

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds the Prometheus metrics of the object store.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec   // ringstore_store_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // ringstore_store_request_duration_seconds{operation}

	BytesUploaded   prometheus.Counter // ringstore_store_bytes_uploaded_total
	BytesDownloaded prometheus.Counter // ringstore_store_bytes_downloaded_total

	BucketsTotal prometheus.Gauge // ringstore_store_buckets
}

// InitMetrics registers the store metrics with registry once and returns the
// shared instance on every call.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics(registry)
	})
	return metricsInstance
}

// NewMetrics registers a fresh set of store metrics with registry. A nil
// registry means the default one.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ringstore_store_requests_total",
			Help: "Total object store operations by operation and status",
		}, []string{"operation", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ringstore_store_request_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ringstore_store_bytes_uploaded_total",
			Help: "Total payload bytes committed to buckets",
		}),

		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ringstore_store_bytes_downloaded_total",
			Help: "Total payload bytes served from buckets or the cache",
		}),

		BucketsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringstore_store_buckets",
			Help: "Number of buckets known to the store",
		}),
	}
}

// RecordRequest records one finished operation. Nil receivers are ignored.
func (m *Metrics) RecordRequest(operation string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, StatusOf(err)).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *Metrics) recordUpload(n int) {
	if m != nil {
		m.BytesUploaded.Add(float64(n))
	}
}

func (m *Metrics) recordDownload(n int) {
	if m != nil {
		m.BytesDownloaded.Add(float64(n))
	}
}

func (m *Metrics) setBuckets(n int) {
	if m != nil {
		m.BucketsTotal.Set(float64(n))
	}
}

// StatusOf maps an operation result onto a metric status label.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
