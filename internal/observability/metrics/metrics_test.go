package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordSessionStarted()
	m.RecordSessionEnded()
	m.RecordSessionFailed("transport")
	m.RecordStage("running")
	m.RecordHandshake("start", 0.1)
	m.RecordFrameCaptured()
	m.RecordFrameSent(16)
	m.RecordFrameDropped("not_streaming")
	m.RecordMessage("AddTranscript")
	m.RecordAck(3)
	m.RecordUnits(2)
	m.RecordPartial()
	m.RecordEventPublish("stage", "ok", 0.01)
}

func TestSessionGaugeTracksActiveSessions(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	m.RecordSessionStarted()
	m.RecordSessionStarted()
	m.RecordSessionEnded()

	if got := testutil.ToFloat64(m.SessionsStarted); got != 2 {
		t.Fatalf("expected 2 started sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}
}

func TestEventPublishCountsByResult(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	m.RecordEventPublish("final", "ok", 0.02)
	m.RecordEventPublish("final", "dropped", 0)
	m.RecordEventPublish("final", "logged", 0)

	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues("final", "ok")); got != 1 {
		t.Fatalf("expected one written event, got %v", got)
	}
	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues("final", "dropped")); got != 1 {
		t.Fatalf("expected one dropped event, got %v", got)
	}
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	NewMetrics(reg)
}
