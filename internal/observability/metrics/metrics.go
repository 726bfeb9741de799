// Package metrics exposes prometheus collectors for uploads, the offline
// cache worker and background sync.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "evidencedesk"

// Result label values.
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultServer      = "server_error"
	ResultTransport   = "transport_error"
	ResultQueued      = "queued"
	ResultFailed      = "failed"
	ResultHit         = "hit"
	ResultMiss        = "miss"
	ResultNetwork     = "network"
	ResultFallback    = "fallback"
	ResultPassthrough = "passthrough"
)

// Metrics groups all collectors. Each instance owns its registry so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	UploadsTotal      *prometheus.CounterVec
	UploadBytes       prometheus.Counter
	UploadDuration    prometheus.Histogram
	CacheRequests     *prometheus.CounterVec
	CacheWrites       prometheus.Counter
	WorkerLifecycle   *prometheus.CounterVec
	SyncItemsTotal    *prometheus.CounterVec
	OutboxDepth       prometheus.Gauge
	NotificationsSent *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "submissions_total",
			Help:      "Evidence submissions by result.",
		}, []string{"result"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Multipart bytes sent to the upload endpoint.",
		}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Time from request start to response.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "fetch_total",
			Help:      "Intercepted fetches by routing strategy and how they were answered.",
		}, []string{"strategy", "result"}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cache_writes_total",
			Help:      "Responses stored in the current cache bucket.",
		}),
		WorkerLifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "lifecycle_events_total",
			Help:      "Worker install/activate outcomes.",
		}, []string{"event", "result"}),
		SyncItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Queued submissions replayed by background sync.",
		}, []string{"result"}),
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "outbox_depth",
			Help:      "Submissions waiting in the outbox after the last drain.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "push_total",
			Help:      "Push notifications by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.UploadsTotal,
		m.UploadBytes,
		m.UploadDuration,
		m.CacheRequests,
		m.CacheWrites,
		m.WorkerLifecycle,
		m.SyncItemsTotal,
		m.OutboxDepth,
		m.NotificationsSent,
	)
	return m
}

// Registry returns the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide Metrics instance.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}
