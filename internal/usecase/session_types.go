package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"rtscribe/internal/domain"
	"rtscribe/internal/ports"
)

// attempt holds the resources of one start-to-stop session. Its fields are
// guarded by the controller mutex unless noted.
type attempt struct {
	id     string
	config domain.SessionConfig

	cancelStart context.CancelFunc
	startDone   chan struct{}

	client         ports.RecognitionClient
	countdown      *Countdown
	captureStarted bool

	stopRequested bool
	captureErr    error

	// stopDone is closed when a stop or failure teardown has finished.
	stopDone chan struct{}
	stopOnce sync.Once

	// streaming gates frame forwarding and is read from the capture goroutine.
	streaming atomic.Bool
}

func newAttempt(id string, cfg domain.SessionConfig, cancel context.CancelFunc) *attempt {
	return &attempt{
		id:          id,
		config:      cfg,
		cancelStart: cancel,
		startDone:   make(chan struct{}),
		stopDone:    make(chan struct{}),
	}
}

func (a *attempt) released() {
	a.stopOnce.Do(func() {
		close(a.stopDone)
	})
}
