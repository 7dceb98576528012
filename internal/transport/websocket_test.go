package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/metrics"
)

type listenerEvents struct {
	messages    chan domain.InboundMessage
	errs        chan error
	disconnects chan struct{}
}

func newListenerEvents() *listenerEvents {
	return &listenerEvents{
		messages:    make(chan domain.InboundMessage, 8),
		errs:        make(chan error, 1),
		disconnects: make(chan struct{}, 1),
	}
}

func (l *listenerEvents) OnMessage(msg domain.InboundMessage) { l.messages <- msg }
func (l *listenerEvents) OnError(err error) { l.errs <- err }
func (l *listenerEvents) OnDisconnect() { l.disconnects <- struct{}{} }

type serverRequest struct {
	header http.Header
	query  string
}

// newServer starts a websocket server that runs handle for every connection.
func newServer(t *testing.T, handle func(conn *websocket.Conn)) (string, <-chan serverRequest) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	requests := make(chan serverRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- serverRequest{header: r.Header.Clone(), query: r.URL.RawQuery}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return server.URL + "/v2/en", requests
}

// drain keeps reading so control frames are answered.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	got, err := buildURL("https://rt.example.com/v2/en", "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "wss://rt.example.com/v2/en?jwt=abc" {
		t.Fatalf("unexpected url: %s", got)
	}

	got, err = buildURL("http://localhost:9000/v2/de", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ws://localhost:9000/v2/de" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestBuildURLRejectsBadEndpoints(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "   ", "ftp://example.com", ":// bad"} {
		if _, err := buildURL(endpoint, "x"); err == nil {
			t.Fatalf("expected error for %q", endpoint)
		}
	}
}

func TestRedactHidesCredential(t *testing.T) {
	t.Parallel()

	got := redact("wss://rt.example.com/v2/en?jwt=secret")
	if strings.Contains(got, "secret") {
		t.Fatalf("expected credential to be redacted: %s", got)
	}
}

func TestSetErrIgnoresCloseErrorsAndKeepsFirst(t *testing.T) {
	t.Parallel()

	w := NewWebSocket(Config{}, zerolog.Nop(), nil)
	w.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	if w.err != nil {
		t.Fatalf("expected close error to be ignored")
	}
	w.setErr(errors.New("first"))
	w.setErr(errors.New("second"))
	if w.err == nil || w.err.Error() != "first" {
		t.Fatalf("expected first error to win, got %v", w.err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)
	endpoint, requests := newServer(t, func(conn *websocket.Conn) {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(payload)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"RecognitionStarted","id":"1"}`))
		drain(conn)
	})

	events := newListenerEvents()
	ws := NewWebSocket(Config{}, zerolog.Nop(), nil)
	ws.SetListener(events)
	if err := ws.Connect(context.Background(), endpoint, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !ws.IsOpen() {
		t.Fatalf("expected transport to be open")
	}

	req := waitFor(t, requests, "upgrade request")
	if req.header.Get("Authorization") != "Bearer token-1" {
		t.Fatalf("unexpected authorization header: %q", req.header.Get("Authorization"))
	}
	if req.query != "jwt=token-1" {
		t.Fatalf("unexpected query: %q", req.query)
	}

	if err := ws.SendControl(map[string]string{"message": "StartRecognition"}); err != nil {
		t.Fatalf("send control: %v", err)
	}
	if got := waitFor(t, received, "control message"); got != `{"message":"StartRecognition"}` {
		t.Fatalf("unexpected payload: %s", got)
	}

	msg := waitFor(t, events.messages, "inbound message")
	if msg.Type != "RecognitionStarted" {
		t.Fatalf("expected undecodable message to be skipped, got %q", msg.Type)
	}

	if err := ws.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitFor(t, events.disconnects, "disconnect")
	select {
	case err := <-events.errs:
		t.Fatalf("expected clean close, got %v", err)
	default:
	}
	if ws.IsOpen() {
		t.Fatalf("expected transport to be closed")
	}
}

func TestWebSocketSendBinaryRecordsMetrics(t *testing.T) {
	t.Parallel()

	frames := make(chan []byte, 1)
	endpoint, _ := newServer(t, func(conn *websocket.Conn) {
		kind, payload, err := conn.ReadMessage()
		if err != nil || kind != websocket.BinaryMessage {
			return
		}
		frames <- payload
		drain(conn)
	})

	m := metrics.NewMetrics(prometheus.NewRegistry())
	ws := NewWebSocket(Config{}, zerolog.Nop(), m)
	ws.SetListener(newListenerEvents())
	if err := ws.Connect(context.Background(), endpoint, ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ws.Disconnect(context.Background())

	frame := domain.AudioFrame{0.25, -0.5}
	if err := ws.SendBinary(frame.Bytes()); err != nil {
		t.Fatalf("send binary: %v", err)
	}
	got := waitFor(t, frames, "binary frame")
	decoded := domain.DecodeAudioFrame(got)
	if len(decoded) != 2 || decoded[0] != 0.25 || decoded[1] != -0.5 {
		t.Fatalf("unexpected frame: %v", decoded)
	}

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.FramesSent) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected one frame to be counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if testutil.ToFloat64(m.BytesSent) != 8 {
		t.Fatalf("expected 8 bytes sent, got %v", testutil.ToFloat64(m.BytesSent))
	}
}

func TestWebSocketAbruptCloseReportsError(t *testing.T) {
	t.Parallel()

	endpoint, _ := newServer(t, func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	})

	events := newListenerEvents()
	ws := NewWebSocket(Config{}, zerolog.Nop(), nil)
	ws.SetListener(events)
	if err := ws.Connect(context.Background(), endpoint, ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	err := waitFor(t, events.errs, "transport error")
	if !domain.IsKind(err, domain.ErrorKindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err := ws.SendControl(map[string]string{"message": "x"}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestWebSocketServerCloseIsDisconnect(t *testing.T) {
	t.Parallel()

	endpoint, _ := newServer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		drain(conn)
	})

	events := newListenerEvents()
	ws := NewWebSocket(Config{}, zerolog.Nop(), nil)
	ws.SetListener(events)
	if err := ws.Connect(context.Background(), endpoint, ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, events.disconnects, "disconnect")
}

func TestWebSocketIsSingleUse(t *testing.T) {
	t.Parallel()

	endpoint, _ := newServer(t, drain)

	ws := NewWebSocket(Config{}, zerolog.Nop(), nil)
	ws.SetListener(newListenerEvents())
	if err := ws.Connect(context.Background(), endpoint, ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ws.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if err := ws.Connect(context.Background(), endpoint, ""); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
	if err := ws.Disconnect(context.Background()); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected second disconnect to fail, got %v", err)
	}
}

func TestWebSocketSendBeforeConnect(t *testing.T) {
	t.Parallel()

	ws := NewWebSocket(Config{}, zerolog.Nop(), nil)
	if err := ws.SendBinary([]byte{1}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := ws.SendControl(struct{}{}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestWebSocketConnectFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	ws := NewWebSocket(Config{}, zerolog.Nop(), nil)
	err := ws.Connect(context.Background(), server.URL, "")
	if !domain.IsKind(err, domain.ErrorKindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status in error, got %v", err)
	}
}
