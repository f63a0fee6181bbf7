// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /api/assistant/chat requests,
	// partitioned by outcome: "ok" or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each chat
	// request from first byte received to stream completion.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of chat SSE streams currently open.
	chatActiveStreams prometheus.Gauge

	// chatEscalationsTotal counts chat requests served by the backup model.
	chatEscalationsTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic. The context cache is exported through
// gauge functions reading its live stats.
func newServerMetrics(reg prometheus.Registerer, store ContextCache) *serverMetrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lsai",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Current number of entries in the tenant context cache.",
	}, func() float64 { return float64(store.Stats().Entries) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lsai",
		Subsystem: "cache",
		Name:      "tenants",
		Help:      "Current number of tenant buckets in the context cache.",
	}, func() float64 { return float64(store.Stats().Tenants) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "lsai",
		Subsystem: "cache",
		Name:      "hit_rate_percent",
		Help:      "Cache hit percentage over all reads since startup.",
	}, func() float64 { return store.Stats().HitRate })

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lsai",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lsai",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of chat requests from receipt to stream completion.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lsai",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of chat SSE streams currently open.",
		}),

		chatEscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lsai",
			Subsystem: "chat",
			Name:      "escalations_total",
			Help:      "Total number of chat requests served by the backup model.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lsai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lsai",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
