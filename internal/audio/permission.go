package audio

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"rtscribe/internal/ports"
)

const DefaultPromptAfter = 500 * time.Millisecond

// PermissionProbe checks microphone access by opening and closing a capture.
type PermissionProbe struct {
	capture     ports.AudioCapture
	clock       clock.Clock
	promptAfter time.Duration
}

func NewPermissionProbe(capture ports.AudioCapture, clk clock.Clock, promptAfter time.Duration) *PermissionProbe {
	if clk == nil {
		clk = clock.New()
	}
	if promptAfter <= 0 {
		promptAfter = DefaultPromptAfter
	}
	return &PermissionProbe{capture: capture, clock: clk, promptAfter: promptAfter}
}

// Check races the probe against the prompt timer. onPrompt runs at most once
// and only when the probe is still unresolved after the prompt delay.
func (p *PermissionProbe) Check(ctx context.Context, onPrompt func()) error {
	result := make(chan error, 1)
	go func() {
		err := p.capture.Start(ctx, discardSink{})
		if err == nil {
			_ = p.capture.Stop()
		}
		result <- err
	}()

	timer := p.clock.Timer(p.promptAfter)
	defer timer.Stop()

	for {
		select {
		case err := <-result:
			return err
		case <-timer.C:
			if onPrompt != nil {
				onPrompt()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
