package usecase

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultSessionDuration = 120 * time.Second
	countdownTick          = time.Second
)

// Countdown is a one-shot session timer. onTick reports the remaining time
// every second and onExpire runs at most once, never after Stop.
type Countdown struct {
	clock    clock.Clock
	total    time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	mu       sync.Mutex
	started  bool
	finished bool
	deadline time.Time
	left     time.Duration
	timer    *clock.Timer
	ticker   *clock.Ticker
	done     chan struct{}
}

func NewCountdown(clk clock.Clock, total time.Duration, onTick func(time.Duration), onExpire func()) *Countdown {
	if clk == nil {
		clk = clock.New()
	}
	if total <= 0 {
		total = DefaultSessionDuration
	}
	if onTick == nil {
		onTick = func(time.Duration) {}
	}
	if onExpire == nil {
		onExpire = func() {}
	}
	return &Countdown{
		clock:    clk,
		total:    total,
		onTick:   onTick,
		onExpire: onExpire,
		left:     total,
		done:     make(chan struct{}),
	}
}

func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.finished {
		return
	}
	c.started = true
	c.deadline = c.clock.Now().Add(c.total)
	c.ticker = c.clock.Ticker(countdownTick)
	c.timer = c.clock.AfterFunc(c.total, c.expire)
	go c.tick(c.ticker, c.done)
}

// Stop cancels the countdown. It reports whether this call stopped it.
func (c *Countdown) Stop() bool {
	return c.finish()
}

// Remaining is frozen once the countdown has finished.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished || !c.started {
		return c.left
	}
	return c.remainingLocked()
}

func (c *Countdown) remainingLocked() time.Duration {
	left := c.deadline.Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left.Round(time.Second)
}

func (c *Countdown) tick(ticker *clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
			select {
			case <-done:
				return
			default:
			}
			c.onTick(c.Remaining())
		case <-done:
			return
		}
	}
}

func (c *Countdown) expire() {
	if !c.finish() {
		return
	}
	c.onTick(0)
	c.onExpire()
}

func (c *Countdown) finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	if c.started {
		c.left = c.remainingLocked()
	}
	c.finished = true
	close(c.done)
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.ticker != nil {
		c.ticker.Stop()
	}
	return true
}
