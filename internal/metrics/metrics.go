// Package metrics holds the service's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const maxLabelLen = 64

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

type Metrics struct {
	verdicts      *prometheus.CounterVec
	streamChunks  prometheus.Counter
	streamErrors  prometheus.Counter
	upstreamCalls *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dreamsense",
				Subsystem: "entitlement",
				Name:      "verdicts_total",
				Help:      "Entitlement verdicts by kind",
			},
			[]string{"kind"},
		),
		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dreamsense",
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Chunks relayed to streaming clients",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dreamsense",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Streams that ended with an error chunk",
		}),
		upstreamCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dreamsense",
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Latency of calls to Google Play, the LLM and storage",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "operation", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.verdicts, m.streamChunks, m.streamErrors, m.upstreamCalls)
	}
	return m
}

func (m *Metrics) ObserveVerdict(kind string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(sanitizeLabel(kind)).Inc()
}

func (m *Metrics) StreamChunk() {
	if m == nil {
		return
	}
	m.streamChunks.Inc()
}

func (m *Metrics) StreamError() {
	if m == nil {
		return
	}
	m.streamErrors.Inc()
}

// ObserveUpstream records one upstream call; err decides the outcome label.
func (m *Metrics) ObserveUpstream(provider, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstreamCalls.WithLabelValues(sanitizeLabel(provider), sanitizeLabel(operation), outcome).
		Observe(time.Since(started).Seconds())
}
