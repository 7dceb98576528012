package bootstrap

import (
	"fmt"
	"net/http"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"rtscribe/internal/api"
	"rtscribe/internal/audio"
	"rtscribe/internal/auth"
	"rtscribe/internal/config"
	"rtscribe/internal/events"
	"rtscribe/internal/observability/logging"
	"rtscribe/internal/observability/metrics"
	"rtscribe/internal/ports"
	"rtscribe/internal/protocol"
	"rtscribe/internal/transcript"
	"rtscribe/internal/transport"
	"rtscribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Publisher  *events.Publisher
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Router     http.Handler
	Config     config.Config
}

// Close flushes the event publisher.
func (s Services) Close() error {
	if s.Publisher == nil {
		return nil
	}
	return s.Publisher.Close()
}

// Build wires all dependencies for cfg. sink receives engine events in
// addition to the Kafka publisher and may be nil.
func Build(cfg config.Config, sink ports.EventSink, logger zerolog.Logger) (Services, error) {
	if err := cfg.Session.Defaults.Validate(); err != nil {
		return Services{}, fmt.Errorf("invalid session defaults: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)
	clk := clock.New()

	source, err := os.Hostname()
	if err != nil || source == "" {
		source = "rtscribe"
	}
	publisher := events.New(events.Config{
		Brokers:      cfg.Events.Brokers,
		Topic:        cfg.Events.Topic,
		WriteTimeout: cfg.Events.WriteTimeout,
		Source:       source,
	}, logger, m)

	var eventSink ports.EventSink = publisher
	if sink != nil {
		eventSink = events.Fanout{sink, publisher}
	}

	recorder := audio.NewRecorder(cfg.Audio.RecorderCommand, ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		FrameSize:   cfg.Audio.FrameSize,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}, logging.WithComponent(logger, "audio"), m)

	transportFactory := transport.Factory(transport.Config{}, logging.WithComponent(logger, "transport"), m)
	clientConfig := protocol.ClientConfig{
		SampleRate:       cfg.Audio.SampleRate,
		HandshakeTimeout: cfg.Service.HandshakeTimeout,
		Clock:            clk,
	}
	protocolLogger := logging.WithComponent(logger, "protocol")
	newClient := func(observer ports.RecognitionObserver) ports.RecognitionClient {
		return protocol.NewClient(transportFactory, observer, clientConfig, protocolLogger, m)
	}

	controller := usecase.NewSessionController(usecase.Dependencies{
		Capture:    recorder,
		Permission: audio.NewPermissionProbe(recorder, clk, cfg.Audio.PromptAfter),
		NewClient:  newClient,
		Credentials: auth.NewSupplier(
			cfg.Service.Token,
			cfg.Service.APIKey,
			cfg.Service.TokenURL,
			cfg.Service.TokenTTL,
			clk,
			logging.WithComponent(logger, "auth"),
		),
		Endpoints: auth.StaticEndpoint(cfg.Service.Endpoint),
		Assembler: transcript.NewAssembler(m),
		Events:    eventSink,
		Clock:     clk,
		Logger:    logger,
		Metrics:   m,
	}, usecase.Config{
		SessionDuration: cfg.Session.Duration,
		TeardownTimeout: cfg.Session.TeardownTimeout,
		Defaults:        cfg.Session.Defaults,
		Display:         cfg.Session.Display,
	})

	return Services{
		Controller: controller,
		Publisher:  publisher,
		Registry:   registry,
		Metrics:    m,
		Router:     api.NewRouter(controller, registry, logger),
		Config:     cfg,
	}, nil
}
