package main

import (
	"rtscribe/internal/domain"
	"rtscribe/internal/events"
)

// sessionSink prints like the console and reports when a running session
// ends on its own.
type sessionSink struct {
	*events.Console
	ended chan domain.Stage
	ran   bool
}

func newSessionSink(console *events.Console) *sessionSink {
	return &sessionSink{Console: console, ended: make(chan domain.Stage, 1)}
}

// StageChanged is called with the controller lock held and must not block.
func (s *sessionSink) StageChanged(stage domain.Stage, reason domain.StageReason) {
	s.Console.StageChanged(stage, reason)
	switch stage {
	case domain.StageRunning:
		s.ran = true
	case domain.StageStopped, domain.StageError:
		if !s.ran {
			return
		}
		select {
		case s.ended <- stage:
		default:
		}
	}
}
