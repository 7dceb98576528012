// Package metrics provides Prometheus metrics for the session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtscribe"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsFailed   *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	StageTransitions *prometheus.CounterVec
	HandshakeLatency *prometheus.HistogramVec

	// Audio metrics
	FramesCaptured prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  *prometheus.CounterVec
	BytesSent      prometheus.Counter

	// Protocol metrics
	MessagesReceived *prometheus.CounterVec
	AckedSeqNo       prometheus.Gauge

	// Transcript metrics
	UnitsAppended   prometheus.Counter
	PartialsApplied prometheus.Counter

	// Event fan-out metrics
	EventsPublished *prometheus.CounterVec
	PublishLatency  prometheus.Histogram
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions that reached running",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that ended in error",
		}, []string{"kind"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently running",
		}),
		StageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transitions by target stage",
		}, []string{"stage"}),
		HandshakeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Time from handshake request to acknowledgement",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"handshake"}),

		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_captured_total",
			Help:      "Audio frames produced by the capture backend",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Audio frames written to the connection",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Audio frames dropped before reaching the connection",
		}, []string{"reason"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Audio bytes written to the connection",
		}),

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound control messages by type",
		}, []string{"message"}),
		AckedSeqNo: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "acked_seq_no",
			Help:      "Last audio sequence number acknowledged by the server",
		}),

		UnitsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_units_appended_total",
			Help:      "Finalized transcript units appended",
		}),
		PartialsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_partials_total",
			Help:      "Partial transcript replacements",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Engine events handed to the event publisher",
		}, []string{"event", "result"}),
		PublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Time to write one event to the broker",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnded records the end of a session that reached running.
func (m *Metrics) RecordSessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) RecordSessionFailed(kind string) {
	if m == nil {
		return
	}
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordStage(stage string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordHandshake(name string, seconds float64) {
	if m == nil {
		return
	}
	m.HandshakeLatency.WithLabelValues(name).Observe(seconds)
}

func (m *Metrics) RecordFrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) RecordFrameSent(bytes int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordMessage(message string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(message).Inc()
}

func (m *Metrics) RecordAck(seqNo int) {
	if m == nil {
		return
	}
	m.AckedSeqNo.Set(float64(seqNo))
}

func (m *Metrics) RecordUnits(n int) {
	if m == nil {
		return
	}
	m.UnitsAppended.Add(float64(n))
}

func (m *Metrics) RecordPartial() {
	if m == nil {
		return
	}
	m.PartialsApplied.Inc()
}

// RecordEventPublish records the outcome of publishing one event. result is
// one of "ok", "error", "dropped" or "logged".
func (m *Metrics) RecordEventPublish(event string, result string, seconds float64) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(event, result).Inc()
	if result == "ok" || result == "error" {
		m.PublishLatency.Observe(seconds)
	}
}
