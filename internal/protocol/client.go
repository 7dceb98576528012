package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/metrics"
	"rtscribe/internal/ports"
)

const DefaultHandshakeTimeout = 10 * time.Second

var (
	ErrHandshakeInProgress = errors.New("handshake already in progress")
	ErrClientFailed        = errors.New("session client failed; reconnect required")
	ErrAlreadyConnected    = errors.New("session client already connected")
	ErrNotRecognizing      = errors.New("recognition is not running")
)

// State is the client's view of the connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRecognizing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecognizing:
		return "recognizing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type ClientConfig struct {
	SampleRate       int
	HandshakeTimeout time.Duration
	Clock            clock.Clock
}

type handshake struct {
	name string
	done chan error
	once sync.Once
}

func newHandshake(name string) *handshake {
	return &handshake{name: name, done: make(chan error, 1)}
}

func (h *handshake) resolve(err error) {
	h.once.Do(func() {
		h.done <- err
	})
}

// Client speaks the recognition protocol over a ports.Transport. A new
// transport is built for every Connect.
type Client struct {
	factory  ports.TransportFactory
	observer ports.RecognitionObserver
	cfg      ClientConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	state     State
	transport ports.Transport
	pending   *handshake
	ackedSeq  int
	sentSeq   int
}

func NewClient(factory ports.TransportFactory, observer ports.RecognitionObserver, cfg ClientConfig, logger zerolog.Logger, m *metrics.Metrics) *Client {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Client{
		factory:  factory,
		observer: observer,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AckedSeqNo is the highest sequence number the server has acknowledged.
func (c *Client) AckedSeqNo() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackedSeq
}

// SentSeqNo is the number of audio frames sent on the current connection.
func (c *Client) SentSeqNo() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentSeq
}

func (c *Client) Connect(ctx context.Context, endpoint string, credential string) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateRecognizing:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	stale := c.transport
	t := c.factory()
	c.transport = t
	c.state = StateConnecting
	c.ackedSeq = 0
	c.sentSeq = 0
	c.pending = nil
	c.mu.Unlock()

	if stale != nil && stale.IsOpen() {
		if err := stale.Disconnect(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("failed to close previous transport")
		}
	}

	t.SetListener(&transportListener{client: c, transport: t})
	if err := t.Connect(ctx, endpoint, credential); err != nil {
		c.mu.Lock()
		if c.transport == t {
			c.transport = nil
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != t {
		return domain.NewTransportError("connect", domain.ErrNotConnected)
	}
	if c.state == StateConnecting {
		c.state = StateConnected
	}
	return nil
}

// StartRecognition sends the session configuration and waits for the server
// to acknowledge it.
func (c *Client) StartRecognition(ctx context.Context, cfg domain.SessionConfig) error {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return ErrHandshakeInProgress
	}
	switch c.state {
	case StateFailed:
		c.mu.Unlock()
		return ErrClientFailed
	case StateConnected:
	default:
		c.mu.Unlock()
		return domain.NewTransportError("start recognition", domain.ErrNotConnected)
	}
	h := newHandshake("start")
	c.pending = h
	t := c.transport
	c.mu.Unlock()

	if err := t.SendControl(NewStartRecognition(cfg, c.cfg.SampleRate)); err != nil {
		c.clearPending(h)
		return err
	}
	return c.await(ctx, h, "start recognition")
}

// SendAudio forwards one frame. It never waits on the network.
func (c *Client) SendAudio(frame domain.AudioFrame) error {
	payload := frame.Bytes()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecognizing {
		return ErrNotRecognizing
	}
	if err := c.transport.SendBinary(payload); err != nil {
		return err
	}
	c.sentSeq++
	return nil
}

// StopRecognition performs the end-of-stream handshake. It returns nil without
// sending anything when recognition was never acknowledged.
func (c *Client) StopRecognition(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecognizing {
		c.mu.Unlock()
		return nil
	}
	if c.pending != nil {
		c.mu.Unlock()
		return ErrHandshakeInProgress
	}
	h := newHandshake("stop")
	c.pending = h
	t := c.transport
	last := c.sentSeq
	c.mu.Unlock()

	if err := t.SendControl(NewEndOfStream(last)); err != nil {
		c.clearPending(h)
		return err
	}
	return c.await(ctx, h, "stop recognition")
}

// UpdateLiveConfig sends the permitted mid-session settings. The server does
// not acknowledge the change.
func (c *Client) UpdateLiveConfig(live domain.LiveConfig) error {
	if err := live.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state != StateRecognizing {
		c.mu.Unlock()
		return ErrNotRecognizing
	}
	t := c.transport
	c.mu.Unlock()
	return t.SendControl(NewSetRecognitionConfig(live))
}

// Disconnect closes the current transport. Events from the closed transport
// are not forwarded to the observer.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	t := c.transport
	h := c.pending
	c.transport = nil
	c.pending = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if h != nil {
		h.resolve(domain.NewTransportError(h.name, domain.ErrNotConnected))
	}
	if t == nil || !t.IsOpen() {
		return nil
	}
	if err := t.Disconnect(ctx); err != nil && !errors.Is(err, domain.ErrNotConnected) {
		return err
	}
	return nil
}

func (c *Client) await(ctx context.Context, h *handshake, op string) error {
	started := c.cfg.Clock.Now()
	timer := c.cfg.Clock.Timer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case err := <-h.done:
		if err == nil {
			c.metrics.RecordHandshake(h.name, c.cfg.Clock.Since(started).Seconds())
		}
		return err
	case <-timer.C:
		c.clearPending(h)
		return domain.NewHandshakeTimeoutError(op, c.cfg.HandshakeTimeout)
	case <-ctx.Done():
		c.clearPending(h)
		return ctx.Err()
	}
}

func (c *Client) clearPending(h *handshake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == h {
		c.pending = nil
	}
}

// current reports whether t is still the active transport.
func (c *Client) current(t ports.Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport == t
}

func (c *Client) handleMessage(t ports.Transport, msg domain.InboundMessage) {
	if !c.current(t) {
		return
	}
	c.metrics.RecordMessage(msg.Type)

	switch MessageType(msg.Type) {
	case MessageRecognitionStarted:
		c.onRecognitionStarted(t)
	case MessageAudioAdded:
		var ack AudioAdded
		if err := json.Unmarshal(msg.Raw, &ack); err != nil {
			c.fail(t, domain.NewProtocolError("decode", fmt.Sprintf("malformed %s: %v", msg.Type, err), msg.Raw))
			return
		}
		c.onAudioAdded(ack.SeqNo)
	case MessageAddPartialTranscript, MessageAddTranscript:
		var transcript AddTranscript
		if err := json.Unmarshal(msg.Raw, &transcript); err != nil {
			c.fail(t, domain.NewProtocolError("decode", fmt.Sprintf("malformed %s: %v", msg.Type, err), msg.Raw))
			return
		}
		if MessageType(msg.Type) == MessageAddPartialTranscript {
			c.observer.OnPartial(transcript.Batch())
		} else {
			c.observer.OnFinal(transcript.Batch())
		}
	case MessageEndOfTranscript:
		c.onEndOfTranscript(t)
	case MessageWarning, MessageInfo:
		var diag ServerDiagnostic
		if err := json.Unmarshal(msg.Raw, &diag); err != nil {
			c.logger.Warn().Err(err).Str("message", msg.Type).Msg("malformed diagnostic")
		}
		level := "info"
		if MessageType(msg.Type) == MessageWarning {
			level = "warning"
		}
		c.observer.OnDiagnostic(domain.Diagnostic{
			Level:   level,
			Type:    diag.Type,
			Reason:  diag.Reason,
			Payload: msg.Raw,
		})
	case MessageError:
		var serverErr ServerDiagnostic
		_ = json.Unmarshal(msg.Raw, &serverErr)
		reason := serverErr.Reason
		if reason == "" {
			reason = serverErr.Type
		}
		if reason == "" {
			reason = "server error"
		}
		c.fail(t, domain.NewProtocolError("recognition", reason, msg.Raw))
	default:
		c.fail(t, domain.NewProtocolError("dispatch", fmt.Sprintf("unexpected message %q", msg.Type), msg.Raw))
	}
}

func (c *Client) onRecognitionStarted(t ports.Transport) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	h := c.pending
	if h == nil || h.name != "start" {
		c.mu.Unlock()
		c.logger.Warn().Msg("ignoring unsolicited RecognitionStarted")
		return
	}
	c.pending = nil
	c.state = StateRecognizing
	c.mu.Unlock()

	h.resolve(nil)
	c.observer.OnRecognitionStarted()
}

func (c *Client) onAudioAdded(seqNo int) {
	c.mu.Lock()
	if seqNo > c.ackedSeq {
		c.ackedSeq = seqNo
	}
	acked := c.ackedSeq
	c.mu.Unlock()
	c.metrics.RecordAck(acked)
}

func (c *Client) onEndOfTranscript(t ports.Transport) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	h := c.pending
	if h != nil && h.name == "stop" {
		c.pending = nil
	} else {
		h = nil
	}
	if c.state == StateRecognizing {
		c.state = StateConnected
	}
	c.mu.Unlock()

	if h != nil {
		h.resolve(nil)
	}
	c.observer.OnEndOfTranscript()
}

// fail moves the client to failed. The error rejects the outstanding
// handshake or, when there is none, goes to the observer.
func (c *Client) fail(t ports.Transport, err error) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	h := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("session client failed")
	if h != nil {
		h.resolve(err)
		return
	}
	c.observer.OnError(err)
}

func (c *Client) handleDisconnect(t ports.Transport) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.state = StateDisconnected
	h := c.pending
	c.pending = nil
	c.mu.Unlock()

	if h != nil {
		h.resolve(domain.NewTransportError(h.name, domain.ErrNotConnected))
		return
	}
	c.observer.OnDisconnect()
}

type transportListener struct {
	client    *Client
	transport ports.Transport
}

func (l *transportListener) OnMessage(msg domain.InboundMessage) {
	l.client.handleMessage(l.transport, msg)
}

func (l *transportListener) OnError(err error) {
	l.client.fail(l.transport, err)
}

func (l *transportListener) OnDisconnect() {
	l.client.handleDisconnect(l.transport)
}
