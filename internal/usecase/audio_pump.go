package usecase

import (
	"errors"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/logging"
	"rtscribe/internal/protocol"
)

// audioPump forwards captured frames of one attempt to its recognition
// client. Frames captured before the start acknowledgement are dropped.
type audioPump struct {
	controller *SessionController
	attempt    *attempt
}

func (p *audioPump) OnFrame(frame domain.AudioFrame) {
	m := p.controller.metrics
	if !p.attempt.streaming.Load() {
		m.RecordFrameDropped("not_streaming")
		return
	}

	err := p.attempt.client.SendAudio(frame)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrNotRecognizing):
		m.RecordFrameDropped("not_recognizing")
	default:
		m.RecordFrameDropped("send_failed")
		log := logging.WithSession(p.controller.logger, p.attempt.id)
		log.Debug().Err(err).Msg("failed to forward audio frame")
	}
}

func (p *audioPump) OnCaptureFailure(err error) {
	p.controller.onCaptureFailure(p.attempt, err)
}
