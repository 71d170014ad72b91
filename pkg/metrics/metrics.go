// Package metrics exposes Prometheus collectors for the write pipeline and batch runs.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "iptcgen"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	writes        *prometheus.CounterVec
	writeDuration prometheus.Histogram
	sessions      prometheus.Counter
	batchItems    *prometheus.CounterVec
	uploads       *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns collectors registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers a fresh set of collectors with reg and panics on conflict.
func MustNew(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "writes_total",
			Help:      "Metadata writes by result.",
		}, []string{"result"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "write_duration_seconds",
			Help:      "Time spent in a single metadata write, including staging.",
			Buckets:   prometheus.DefBuckets,
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "sessions_opened_total",
			Help:      "exiftool processes started.",
		}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Batch items by kind and result.",
		}, []string{"kind", "result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suggest",
			Name:      "uploads_total",
			Help:      "Image uploads to the suggestion service by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.writes, m.writeDuration, m.sessions, m.batchItems, m.uploads)
	return m
}

func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

// ObserveWrite records the outcome of one pipeline invocation.
func (m *Metrics) ObserveWrite(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result(err)).Inc()
	m.writeDuration.Observe(d.Seconds())
}

// SessionOpened counts an exiftool process start.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// ObserveItem records a finished batch item of the given kind ("write", "upload").
func (m *Metrics) ObserveItem(kind string, err error) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(kind, result(err)).Inc()
}

// ObserveUpload records one upload to the suggestion service.
func (m *Metrics) ObserveUpload(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(err)).Inc()
}
