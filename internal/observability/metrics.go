package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of a distributor node.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Payment metrics
	PaymentRejectionsTotal *prometheus.CounterVec
	LedgerSubmissionsTotal *prometheus.CounterVec
	LedgerSubmitDuration   prometheus.Histogram

	// Stream metrics
	StreamsActive       prometheus.Gauge
	StreamsAbortedTotal prometheus.Counter
	ChunksServedTotal   prometheus.Counter
	BytesServedTotal    prometheus.Counter

	// Consumer side
	ChunkVerificationsTotal *prometheus.CounterVec
	BytesDownloadedTotal    prometheus.Counter

	activeStreams int64
}

// NewMetrics registers the collectors on reg. A nil reg uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		gatherer: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tuno_requests_total",
				Help: "Requests handled by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tuno_request_duration_seconds",
				Help:    "Request latency from receipt to terminal state",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"kind"},
		),

		PaymentRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tuno_payment_rejections_total",
				Help: "Payment envelopes rejected during verification",
			},
			[]string{"reason"},
		),

		LedgerSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tuno_ledger_submissions_total",
				Help: "Payment transactions submitted to the ledger",
			},
			[]string{"result"},
		),

		LedgerSubmitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tuno_ledger_submit_duration_seconds",
				Help:    "Time waiting for ledger commitment",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),

		StreamsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tuno_streams_active",
				Help: "Streams currently serving chunks",
			},
		),

		StreamsAbortedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tuno_streams_aborted_total",
				Help: "Streams stopped before end of file",
			},
		),

		ChunksServedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tuno_chunks_served_total",
				Help: "Chunks delivered to consumers",
			},
		),

		BytesServedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tuno_bytes_served_total",
				Help: "Payload bytes delivered to consumers",
			},
		),

		ChunkVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tuno_chunk_verifications_total",
				Help: "Received chunks checked against a content signature",
			},
			[]string{"result"},
		),

		BytesDownloadedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tuno_bytes_downloaded_total",
				Help: "Verified payload bytes received",
			},
		),
	}

	return m
}

// RecordRequest records a request reaching a terminal state.
func (m *Metrics) RecordRequest(kind, outcome string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(kind, outcome).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordRejection increments the rejection counter for reason.
func (m *Metrics) RecordRejection(reason string) {
	m.PaymentRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordSubmission records a ledger submission attempt.
func (m *Metrics) RecordSubmission(success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.LedgerSubmissionsTotal.WithLabelValues(result).Inc()
	m.LedgerSubmitDuration.Observe(durationSeconds)
}

// RecordStreamStart increments active stream counters.
func (m *Metrics) RecordStreamStart() {
	m.StreamsActive.Set(float64(atomic.AddInt64(&m.activeStreams, 1)))
}

// RecordStreamEnd decrements active stream counters.
func (m *Metrics) RecordStreamEnd(aborted bool) {
	m.StreamsActive.Set(float64(atomic.AddInt64(&m.activeStreams, -1)))
	if aborted {
		m.StreamsAbortedTotal.Inc()
	}
}

// RecordChunkServed updates metrics for a delivered chunk.
func (m *Metrics) RecordChunkServed(bytes int) {
	m.ChunksServedTotal.Inc()
	m.BytesServedTotal.Add(float64(bytes))
}

// RecordChunkVerification records a consumer-side chunk check.
func (m *Metrics) RecordChunkVerification(success bool, bytes int) {
	if !success {
		m.ChunkVerificationsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.ChunkVerificationsTotal.WithLabelValues("success").Inc()
	m.BytesDownloadedTotal.Add(float64(bytes))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
