package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.MediaDiscovered("audio", "live")
	m.MediaDiscovered("audio", "live")
	m.MediaDiscovered("pdf", "backfill")
	m.Backfill(nil)
	m.Backfill(errors.New("boom"))
	m.Approval("approved", time.Now())
	m.Approval("already_approved", time.Now())
	m.SetConnected(true)
	m.EventDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.discovered.WithLabelValues("audio", "live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discovered.WithLabelValues("pdf", "backfill")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backfills.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.approvals.WithLabelValues("already_approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped))
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.SupervisorCheck("noop")
	assert.Equal(t, 1.0, testutil.ToFloat64(second.supervisorChecks.WithLabelValues("noop")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.MediaDiscovered("audio", "live")
	m.Backfill(nil)
	m.Approval("failed", time.Now())
	m.SetConnected(false)
	m.SupervisorCheck("start")
	m.EventDropped()
}
