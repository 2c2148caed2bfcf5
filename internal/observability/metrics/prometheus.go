// Package metrics provides Prometheus metrics for the scribe engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	SessionsActive          prometheus.Gauge
	ChunksTranscribed       prometheus.Counter
	TranscriptionFailures   prometheus.Counter
	ExtractionsTotal        *prometheus.CounterVec
	ExtractionDuration      prometheus.Histogram
	PrescriptionsCreated    prometheus.Counter
	PrescriptionsFinalized  prometheus.Counter
	FinalizeConflicts       prometheus.Counter
	NotificationsSent       *prometheus.CounterVec
	OutboxPending           prometheus.Gauge
	KafkaMessagesConsumed   prometheus.Counter
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consultation_sessions_active",
			Help: "Currently live consultation sessions",
		}),
		ChunksTranscribed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audio_chunks_transcribed_total",
			Help: "Total audio chunks transcribed",
		}),
		TranscriptionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audio_chunks_failed_total",
			Help: "Total audio chunks that failed transcription",
		}),
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractions_total",
			Help: "Structured extraction calls by outcome",
		}, []string{"outcome"}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Structured extraction call duration",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescription drafts created",
		}),
		PrescriptionsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_finalized_total",
			Help: "Total prescriptions finalized",
		}),
		FinalizeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_finalize_conflicts_total",
			Help: "Finalize attempts rejected by the concurrency guard",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.SessionsActive,
		m.ChunksTranscribed,
		m.TranscriptionFailures,
		m.ExtractionsTotal,
		m.ExtractionDuration,
		m.PrescriptionsCreated,
		m.PrescriptionsFinalized,
		m.FinalizeConflicts,
		m.NotificationsSent,
		m.OutboxPending,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
