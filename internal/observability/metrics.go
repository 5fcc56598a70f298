// Package observability holds the Prometheus collectors shared by the store,
// the planning services and the HTTP layer.
//
// All methods are safe on a nil *Metrics, so components built without metrics
// (tests, tools) need no guards.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "triplab"

// Metrics holds all collectors.
type Metrics struct {
	StoreWritesTotal        *prometheus.CounterVec
	StoreWriteDuration      *prometheus.HistogramVec
	StoreNotificationsTotal *prometheus.CounterVec
	SyncFlushesTotal        *prometheus.CounterVec
	SyncEchoesSuppressed    prometheus.Counter
	SyncRemoteOverrides     prometheus.Counter
	LockRecomputesTotal     *prometheus.CounterVec
	ChatRequestsTotal       *prometheus.CounterVec
	LiveSessions            prometheus.Gauge
}

// NewMetrics registers every collector with reg. Pass prometheus.DefaultRegisterer
// in production and prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StoreWritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Document writes by backend and result.",
		}, []string{"backend", "result"}),
		StoreWriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "write_duration_seconds",
			Help:      "Latency of document writes.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"backend"}),
		StoreNotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "notifications_total",
			Help:      "Snapshots delivered to subscribers.",
		}, []string{"backend"}),
		SyncFlushesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "flushes_total",
			Help:      "Debounced date-selection writes by result.",
		}, []string{"result"}),
		SyncEchoesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "echoes_suppressed_total",
			Help:      "Remote snapshots recognised as confirmations of local writes.",
		}),
		SyncRemoteOverrides: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "remote_overrides_total",
			Help:      "Remote snapshots that replaced local selection state.",
		}),
		LockRecomputesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "lock",
			Name:      "recomputes_total",
			Help:      "Lock transitions by outcome (partial, locked_no_overlap, overlap_written).",
		}, []string{"outcome"}),
		ChatRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat proxy requests by HTTP status.",
		}, []string{"status"}),
		LiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "live",
			Name:      "sessions",
			Help:      "Open live planning sessions.",
		}),
	}
}

func (m *Metrics) StoreWrite(backend string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreWritesTotal.WithLabelValues(backend, result).Inc()
	m.StoreWriteDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func (m *Metrics) StoreNotification(backend string) {
	if m == nil {
		return
	}
	m.StoreNotificationsTotal.WithLabelValues(backend).Inc()
}

func (m *Metrics) SyncFlush(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SyncFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	m.SyncFlushesTotal.WithLabelValues("ok").Inc()
}

func (m *Metrics) SyncEcho() {
	if m == nil {
		return
	}
	m.SyncEchoesSuppressed.Inc()
}

func (m *Metrics) SyncOverride() {
	if m == nil {
		return
	}
	m.SyncRemoteOverrides.Inc()
}

func (m *Metrics) LockRecompute(outcome string) {
	if m == nil {
		return
	}
	m.LockRecomputesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ChatRequest(status int) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(statusLabel(status)).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.LiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.LiveSessions.Dec()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		return "other"
	}
}
