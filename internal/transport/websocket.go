package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/metrics"
	"rtscribe/internal/ports"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Close handshake budget before the socket is torn down.
	closeWait = 2 * time.Second

	defaultQueueSize = 64
)

// ErrAlreadyUsed is returned when Connect is called on a spent transport.
var ErrAlreadyUsed = errors.New("transport has already been used")

// Config controls websocket behaviour.
type Config struct {
	// QueueSize bounds outbound messages waiting for the writer.
	QueueSize int
	Dialer    *websocket.Dialer
}

type state int

const (
	stateNew state = iota
	stateConnecting
	stateOpen
	stateClosing
	stateClosed
)

type outbound struct {
	kind    int
	payload []byte
}

// WebSocket implements ports.Transport over gorilla/websocket. Each instance
// carries at most one connection.
type WebSocket struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	listenerMu sync.RWMutex
	listener   ports.TransportListener

	mu    sync.Mutex
	state state
	conn  *websocket.Conn
	queue chan outbound
	done  chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func NewWebSocket(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *WebSocket {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &WebSocket{cfg: cfg, logger: logger, metrics: m}
}

// Factory returns a ports.TransportFactory producing fresh websockets.
func Factory(cfg Config, logger zerolog.Logger, m *metrics.Metrics) ports.TransportFactory {
	return func() ports.Transport {
		return NewWebSocket(cfg, logger, m)
	}
}

// SetListener must be called before Connect; messages that arrive without a
// listener are lost.
func (w *WebSocket) SetListener(listener ports.TransportListener) {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	w.listener = listener
}

func (w *WebSocket) Connect(ctx context.Context, endpoint string, credential string) error {
	w.mu.Lock()
	if w.state != stateNew {
		w.mu.Unlock()
		return domain.NewTransportError("connect", ErrAlreadyUsed)
	}
	w.state = stateConnecting
	w.mu.Unlock()

	wsURL, err := buildURL(endpoint, credential)
	if err != nil {
		w.setState(stateClosed)
		return domain.NewTransportError("connect", err)
	}

	headers := http.Header{}
	if credential != "" {
		headers.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := w.cfg.Dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		w.setState(stateClosed)
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return domain.NewTransportError("connect", fmt.Errorf("failed to open websocket: %w", err))
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	w.mu.Lock()
	w.conn = conn
	w.queue = make(chan outbound, w.cfg.QueueSize)
	w.done = make(chan struct{})
	w.state = stateOpen
	w.mu.Unlock()

	go w.writePump()
	go w.readPump()

	w.logger.Debug().Str("endpoint", redact(wsURL)).Msg("websocket connected")
	return nil
}

func (w *WebSocket) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == stateOpen
}

// SendControl serializes message as JSON and queues it as a text frame.
// Control messages wait for queue space; they are never dropped.
func (w *WebSocket) SendControl(message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}

	w.mu.Lock()
	if w.state != stateOpen {
		w.mu.Unlock()
		return domain.NewTransportError("send control", domain.ErrNotConnected)
	}
	queue, done := w.queue, w.done
	w.mu.Unlock()

	select {
	case queue <- outbound{kind: websocket.TextMessage, payload: payload}:
		return nil
	case <-done:
		return domain.NewTransportError("send control", domain.ErrNotConnected)
	}
}

// SendBinary queues an audio payload. When the writer is behind the payload
// is dropped so capture never waits on the network.
func (w *WebSocket) SendBinary(payload []byte) error {
	w.mu.Lock()
	if w.state != stateOpen {
		w.mu.Unlock()
		return domain.NewTransportError("send binary", domain.ErrNotConnected)
	}
	queue := w.queue
	w.mu.Unlock()

	select {
	case queue <- outbound{kind: websocket.BinaryMessage, payload: payload}:
	default:
		w.metrics.RecordFrameDropped("backpressure")
	}
	return nil
}

// Disconnect performs the close handshake and returns once the read loop has
// exited.
func (w *WebSocket) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	if w.state != stateOpen {
		w.mu.Unlock()
		return domain.NewTransportError("disconnect", domain.ErrNotConnected)
	}
	w.state = stateClosing
	conn, done := w.conn, w.done
	w.mu.Unlock()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)); err != nil {
		w.closeConn()
	}

	timer := time.NewTimer(closeWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		w.closeConn()
		<-done
	case <-ctx.Done():
		w.closeConn()
		<-done
	}
	return nil
}

func (w *WebSocket) setState(s state) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

func (w *WebSocket) closeConn() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (w *WebSocket) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *WebSocket) currentListener() ports.TransportListener {
	w.listenerMu.RLock()
	defer w.listenerMu.RUnlock()
	return w.listener
}

func (w *WebSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	w.mu.Lock()
	conn, queue, done := w.conn, w.queue, w.done
	w.mu.Unlock()

	for {
		select {
		case msg := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(msg.kind, msg.payload); err != nil {
				w.setErr(fmt.Errorf("failed to write message: %w", err))
				w.closeConn()
				return
			}
			if msg.kind == websocket.BinaryMessage {
				w.metrics.RecordFrameSent(len(msg.payload))
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (w *WebSocket) readPump() {
	w.mu.Lock()
	conn, done := w.conn, w.done
	w.mu.Unlock()

	defer func() {
		w.closeConn()
		w.setState(stateClosed)
		close(done)

		w.errMu.Lock()
		err := w.err
		w.errMu.Unlock()

		listener := w.currentListener()
		if listener == nil {
			return
		}
		if err != nil {
			listener.OnError(domain.NewTransportError("read", fmt.Errorf("connection dropped: %w", err)))
			return
		}
		listener.OnDisconnect()
	}()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closing := w.state == stateClosing
			w.mu.Unlock()
			if !closing {
				w.setErr(err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var envelope struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			w.logger.Warn().Err(err).Msg("discarding undecodable control message")
			continue
		}

		if listener := w.currentListener(); listener != nil {
			listener.OnMessage(domain.InboundMessage{Type: envelope.Message, Raw: payload})
		}
	}
}

func buildURL(endpoint string, credential string) (string, error) {
	base := strings.TrimSpace(endpoint)
	if base == "" {
		return "", errors.New("endpoint is empty")
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid endpoint scheme %q", parsed.Scheme)
	}
	if credential != "" {
		query := parsed.Query()
		query.Set("jwt", credential)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if parsed.Query().Has("jwt") {
		query := parsed.Query()
		query.Set("jwt", "REDACTED")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
