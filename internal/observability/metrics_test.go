package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.StoreWrite("memory", nil, time.Millisecond)
	m.StoreWrite("memory", errors.New("boom"), time.Millisecond)
	m.SyncFlush(nil)
	m.SyncEcho()
	m.SyncEcho()
	m.LockRecompute("overlap_written")
	m.ChatRequest(429)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWritesTotal.WithLabelValues("memory", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWritesTotal.WithLabelValues("memory", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncFlushesTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncEchoesSuppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockRecomputesTotal.WithLabelValues("overlap_written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatRequestsTotal.WithLabelValues("4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveSessions))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StoreWrite("redis", nil, 0)
		m.StoreNotification("redis")
		m.SyncFlush(errors.New("x"))
		m.SyncEcho()
		m.SyncOverride()
		m.LockRecompute("partial")
		m.ChatRequest(200)
		m.SessionOpened()
		m.SessionClosed()
	})
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "2xx", statusLabel(200))
	assert.Equal(t, "4xx", statusLabel(400))
	assert.Equal(t, "5xx", statusLabel(502))
	assert.Equal(t, "other", statusLabel(0))
}
