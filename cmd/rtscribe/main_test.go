package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/events"
)

func TestSessionSinkReportsEndAfterRunning(t *testing.T) {
	t.Parallel()

	sink := newSessionSink(events.NewConsole(&bytes.Buffer{}, zerolog.Nop()))
	sink.StageChanged(domain.StageStarting, domain.ReasonStarting)
	sink.StageChanged(domain.StageError, domain.ReasonStartFailed)
	select {
	case <-sink.ended:
		t.Fatalf("a failed start is reported by Start, not the sink")
	default:
	}

	sink.StageChanged(domain.StageStarting, domain.ReasonStarting)
	sink.StageChanged(domain.StageRunning, domain.ReasonRecognitionStarted)
	sink.StageChanged(domain.StageStopping, domain.ReasonCountdownExpired)
	sink.StageChanged(domain.StageStopped, domain.ReasonRecognitionEnded)
	sink.StageChanged(domain.StageStopped, domain.ReasonRecognitionEnded)

	if got := <-sink.ended; got != domain.StageStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
}

type fakeStopper struct {
	stage   domain.Stage
	stopErr error
	stops   int
}

func (f *fakeStopper) Stop(context.Context) error {
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stage = domain.StageStopped
	return nil
}

func (f *fakeStopper) Status() domain.Status { return domain.Status{Stage: f.stage} }

func TestShutdownStopsActiveSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		stage     domain.Stage
		stopErr   error
		wantStops int
		wantCode  int
	}{
		{name: "running", stage: domain.StageRunning, wantStops: 1, wantCode: 0},
		{name: "idle", stage: domain.StageIdle, wantStops: 0, wantCode: 0},
		{name: "error", stage: domain.StageError, wantStops: 0, wantCode: 1},
		{name: "stop fails", stage: domain.StageRunning, stopErr: errors.New("timeout"), wantStops: 1, wantCode: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			controller := &fakeStopper{stage: tt.stage, stopErr: tt.stopErr}
			if got := shutdown(controller, zerolog.Nop()); got != tt.wantCode {
				t.Fatalf("expected exit code %d, got %d", tt.wantCode, got)
			}
			if controller.stops != tt.wantStops {
				t.Fatalf("expected %d stops, got %d", tt.wantStops, controller.stops)
			}
		})
	}
}
