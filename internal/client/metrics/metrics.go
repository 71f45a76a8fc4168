// Package metrics provides Prometheus instrumentation for sync cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "maintkeeper"

// Cycle results used as the "result" label.
const (
	ResultSuccess      = "success"
	ResultUnavailable  = "unavailable"
	ResultUnauthorized = "unauthorized"
	ResultStorage      = "storage_error"
	ResultBusy         = "busy"
	ResultCanceled     = "canceled"
	ResultError        = "error"
)

// SyncMetrics holds the collectors for sync cycle metrics. A nil
// *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	pulled        *prometheus.CounterVec
	pushed        *prometheus.CounterVec
	deferred      *prometheus.CounterVec
	watermark     prometheus.Gauge
}

// NewSyncMetrics creates the collectors and registers them with reg.
// If reg is nil, it returns nil (no-op metrics).
func NewSyncMetrics(reg prometheus.Registerer) (*SyncMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &SyncMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		pulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pulled_records_total",
			Help:      "Pulled records by entity and outcome.",
		}, []string{"entity", "outcome"}),
		pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pushed_records_total",
			Help:      "Pushed records by entity and acknowledgement result.",
		}, []string{"entity", "result"}),
		deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "deferred_records_total",
			Help:      "Records left out of a push because a reference has no server id yet.",
		}, []string{"entity"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "watermark_timestamp_seconds",
			Help:      "Server timestamp of the last complete pull.",
		}),
	}

	for _, c := range []prometheus.Collector{m.cycles, m.cycleDuration, m.pulled, m.pushed, m.deferred, m.watermark} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordCycle records one finished cycle.
func (m *SyncMetrics) RecordCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *SyncMetrics) AddPulled(entity, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pulled.WithLabelValues(entity, outcome).Add(float64(n))
}

func (m *SyncMetrics) AddPushed(entity, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pushed.WithLabelValues(entity, result).Add(float64(n))
}

func (m *SyncMetrics) AddDeferred(entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deferred.WithLabelValues(entity).Add(float64(n))
}

// SetWatermark records the watermark after it advanced.
func (m *SyncMetrics) SetWatermark(t time.Time) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(t.UnixNano()) / 1e9)
}
