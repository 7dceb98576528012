package usecase

import (
	"rtscribe/internal/domain"
	"rtscribe/internal/observability/logging"
)

// recognitionObserver routes protocol events of one attempt into the
// assembler and the event sink. Events from a superseded attempt are dropped.
type recognitionObserver struct {
	controller *SessionController
	attempt    *attempt
}

func (o *recognitionObserver) OnRecognitionStarted() {
	log := logging.WithSession(o.controller.logger, o.attempt.id)
	log.Debug().Msg("recognition started")
}

func (o *recognitionObserver) OnPartial(batch domain.TranscriptBatch) {
	c := o.controller
	if !c.acceptsResults(o.attempt) {
		return
	}
	text, html := c.assembler.ApplyPartial(batch)
	c.events.PartialTranscript(text, html)
}

func (o *recognitionObserver) OnFinal(batch domain.TranscriptBatch) {
	c := o.controller
	if !c.acceptsResults(o.attempt) {
		return
	}
	appended := c.assembler.AppendFinal(batch)
	c.events.TranscriptUpdated(c.assembler.Snapshot(), appended)
}

func (o *recognitionObserver) OnEndOfTranscript() {
	log := logging.WithSession(o.controller.logger, o.attempt.id)
	log.Debug().Msg("end of transcript")
}

func (o *recognitionObserver) OnDiagnostic(diag domain.Diagnostic) {
	c := o.controller
	log := logging.WithSession(c.logger, o.attempt.id)
	log.Info().
		Str("level", diag.Level).
		Str("type", diag.Type).
		Str("reason", diag.Reason).
		Msg("server diagnostic")
	c.events.Diagnostic(diag)
}

// OnError and OnDisconnect run on the transport's read goroutine in arrival
// order. The stage changes here so a following disconnect sees the failure;
// teardown waits for the read loop and so runs elsewhere.
func (o *recognitionObserver) OnError(err error) {
	if o.controller.markFailed(o.attempt, err) {
		go o.controller.release(o.attempt)
	}
}

func (o *recognitionObserver) OnDisconnect() {
	if o.controller.markEnded(o.attempt) {
		go o.controller.release(o.attempt)
	}
}
