package events

import (
	"time"

	"rtscribe/internal/domain"
	"rtscribe/internal/ports"
)

// Fanout forwards every event to each sink in order.
type Fanout []ports.EventSink

func (f Fanout) StageChanged(stage domain.Stage, reason domain.StageReason) {
	for _, sink := range f {
		sink.StageChanged(stage, reason)
	}
}

func (f Fanout) TranscriptUpdated(snapshot domain.TranscriptSnapshot, appended []domain.TranscriptUnit) {
	for _, sink := range f {
		sink.TranscriptUpdated(snapshot, appended)
	}
}

func (f Fanout) PartialTranscript(text string, html string) {
	for _, sink := range f {
		sink.PartialTranscript(text, html)
	}
}

func (f Fanout) TimeLeft(remaining time.Duration) {
	for _, sink := range f {
		sink.TimeLeft(remaining)
	}
}

func (f Fanout) PermissionChanged(status domain.PermissionStatus) {
	for _, sink := range f {
		sink.PermissionChanged(status)
	}
}

func (f Fanout) SessionError(err domain.SessionError) {
	for _, sink := range f {
		sink.SessionError(err)
	}
}

func (f Fanout) Diagnostic(diag domain.Diagnostic) {
	for _, sink := range f {
		sink.Diagnostic(diag)
	}
}
