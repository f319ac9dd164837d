// Package metrics holds the Prometheus collectors of the intake pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "channel_media"

type Metrics struct {
	discovered       *prometheus.CounterVec
	backfills        *prometheus.CounterVec
	approvals        *prometheus.CounterVec
	approvalDuration prometheus.Histogram
	connected        prometheus.Gauge
	supervisorChecks *prometheus.CounterVec
	eventsDropped    prometheus.Counter
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		discovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_discovered_total",
			Help:      "Pending media records created, by kind and source.",
		}, []string{"kind", "source"}),
		backfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_channels_total",
			Help:      "Per-channel history backfills, by result.",
		}, []string{"result"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approval attempts, by outcome.",
		}, []string{"outcome"}),
		approvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_duration_seconds",
			Help:      "Time to download, upload and record one approval.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telegram_connected",
			Help:      "1 while the telegram session is connected.",
		}),
		supervisorChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervisor_checks_total",
			Help:      "Reconnection supervisor runs, by action taken.",
		}, []string{"action"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_dropped_total",
			Help:      "Live messages dropped because the ingest queue stayed full.",
		}),
	}

	var err error
	m.discovered = register(reg, m.discovered, &err)
	m.backfills = register(reg, m.backfills, &err)
	m.approvals = register(reg, m.approvals, &err)
	m.approvalDuration = register(reg, m.approvalDuration, &err)
	m.connected = register(reg, m.connected, &err)
	m.supervisorChecks = register(reg, m.supervisorChecks, &err)
	m.eventsDropped = register(reg, m.eventsDropped, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, errp *error) T {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

// Handler serves the default registry for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) MediaDiscovered(kind, source string) {
	if m == nil {
		return
	}
	m.discovered.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) Backfill(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.backfills.WithLabelValues(result).Inc()
}

func (m *Metrics) Approval(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(outcome).Inc()
	if outcome == "approved" {
		m.approvalDuration.Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) SetConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) SupervisorCheck(action string) {
	if m == nil {
		return
	}
	m.supervisorChecks.WithLabelValues(action).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
