// Package events fans engine events out to the terminal, the control API and
// an optional Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/metrics"
)

const defaultQueueSize = 256

// Config holds Kafka publisher configuration. The publisher is log-only when
// no brokers are configured.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	QueueSize    int
	// Source is used as the message key.
	Source string
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON envelope written to the topic.
type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Publisher is an EventSink that writes events to Kafka from a background
// goroutine. Events are dropped when the queue is full so the engine never
// blocks on the broker.
type Publisher struct {
	writer  MessageWriter
	cfg     Config
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

type queued struct {
	eventType string
	msg       kafka.Message
}

// New builds a publisher for cfg.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Publisher {
	if len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return NewWithWriter(cfg, nil, logger, m)
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka publisher initialized")
	return NewWithWriter(cfg, writer, logger, m)
}

// NewWithWriter builds a publisher around writer. A nil writer means
// log-only mode.
func NewWithWriter(cfg Config, writer MessageWriter, logger zerolog.Logger, m *metrics.Metrics) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = "rtscribe"
	}
	p := &Publisher{
		writer:  writer,
		cfg:     cfg,
		clock:   clock.New(),
		logger:  logger.With().Str("component", "events").Logger(),
		metrics: m,
		done:    make(chan struct{}),
	}
	if writer == nil {
		close(p.done)
		return p
	}
	p.queue = make(chan queued, cfg.QueueSize)
	go p.run()
	return p
}

func (p *Publisher) StageChanged(stage domain.Stage, reason domain.StageReason) {
	p.publish("stage", map[string]string{"stage": string(stage), "reason": string(reason)})
}

// TranscriptUpdated publishes the appended units only.
func (p *Publisher) TranscriptUpdated(_ domain.TranscriptSnapshot, appended []domain.TranscriptUnit) {
	if len(appended) == 0 {
		return
	}
	p.publish("final", appended)
}

func (p *Publisher) PartialTranscript(text string, _ string) {
	p.publish("partial", map[string]string{"text": text})
}

// TimeLeft is not published.
func (p *Publisher) TimeLeft(time.Duration) {}

func (p *Publisher) PermissionChanged(status domain.PermissionStatus) {
	p.publish("permission", status)
}

func (p *Publisher) SessionError(err domain.SessionError) {
	p.publish("error", err)
}

func (p *Publisher) Diagnostic(diag domain.Diagnostic) {
	p.publish("diagnostic", diag)
}

func (p *Publisher) publish(eventType string, payload any) {
	body, err := json.Marshal(Event{Type: eventType, At: p.clock.Now().UTC(), Payload: payload})
	if err != nil {
		p.logger.Error().Err(err).Str("event", eventType).Msg("Failed to marshal event")
		return
	}

	p.logger.Debug().Str("event", eventType).RawJSON("payload", body).Msg("Publishing event")
	if p.writer == nil {
		p.metrics.RecordEventPublish(eventType, "logged", 0)
		return
	}

	msg := kafka.Message{
		Key:   []byte(p.cfg.Source),
		Value: body,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.metrics.RecordEventPublish(eventType, "dropped", 0)
		return
	}
	select {
	case p.queue <- queued{eventType: eventType, msg: msg}:
	default:
		p.metrics.RecordEventPublish(eventType, "dropped", 0)
		p.logger.Warn().Str("event", eventType).Msg("Event queue full, dropping event")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for item := range p.queue {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
		err := p.writer.WriteMessages(ctx, item.msg)
		cancel()
		if err != nil {
			p.logger.Error().Err(err).Str("event", item.eventType).Msg("Failed to write to Kafka")
			p.metrics.RecordEventPublish(item.eventType, "error", time.Since(start).Seconds())
			continue
		}
		p.metrics.RecordEventPublish(item.eventType, "ok", time.Since(start).Seconds())
	}
}

// Close drains queued events and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()

	<-p.done
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
