// Command rtscribe transcribes the microphone in real time and prints the
// transcript to stdout. With -listen it also serves the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"rtscribe/internal/bootstrap"
	"rtscribe/internal/config"
	"rtscribe/internal/domain"
	"rtscribe/internal/events"
	"rtscribe/internal/observability/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "Path to a .env file (optional)")
	listen := flag.String("listen", "", "Serve the control API on this address (overrides RTSCRIBE_LISTEN)")
	serveOnly := flag.Bool("serve", false, "Do not start a session; only serve the control API")
	listInputs := flag.Bool("list-inputs", false, "List audio inputs and exit")
	input := flag.String("input", "", "Audio input to capture from")
	language := flag.String("language", "", "Session language (overrides the session defaults)")
	separation := flag.String("separation", "", "Transcript separation: none, speaker or channel")
	duration := flag.Duration("duration", 0, "Session time limit (overrides RTSCRIBE_SESSION_DURATION)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtscribe: %v\n", err)
		return 2
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}
	if *duration > 0 {
		cfg.Session.Duration = *duration
	}
	if *language != "" {
		cfg.Session.Defaults.Language = *language
	}
	if *separation != "" {
		cfg.Session.Defaults.Separation = domain.Separation(*separation)
	}

	logger := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	sink := newSessionSink(events.NewConsole(os.Stdout, logger))
	services, err := bootstrap.Build(cfg, sink, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build services")
		return 2
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close event publisher")
		}
	}()
	controller := services.Controller

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *listInputs {
		inputs, err := controller.ListInputs(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to list inputs")
			return 1
		}
		for _, in := range inputs {
			marker := " "
			if in.Default {
				marker = "*"
			}
			fmt.Fprintf(os.Stdout, "%s %s\t%s\n", marker, in.ID, in.Label)
		}
		return 0
	}
	if *input != "" {
		controller.SelectInput(*input)
	}

	var server *http.Server
	if cfg.API.Listen != "" {
		server = &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           services.Router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("HTTP server error")
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("HTTP server shutdown error")
			}
		}()
	}

	if *serveOnly {
		if server == nil {
			logger.Error().Msg("-serve needs -listen or RTSCRIBE_LISTEN")
			return 2
		}
		<-ctx.Done()
		return shutdown(controller, logger)
	}

	if err := controller.CheckPermission(ctx); err != nil {
		logger.Error().Err(err).Msg("microphone is not available")
		return 1
	}
	if err := controller.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start session")
		return 1
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("Stopping session...")
		return shutdown(controller, logger)
	case stage := <-sink.ended:
		if stage == domain.StageError {
			return 1
		}
		return 0
	}
}

type stopper interface {
	Stop(ctx context.Context) error
	Status() domain.Status
}

func shutdown(controller stopper, logger zerolog.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch controller.Status().Stage {
	case domain.StageStarting, domain.StageRunning, domain.StageStopping:
		if err := controller.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to stop session cleanly")
			return 1
		}
	}
	if controller.Status().Stage == domain.StageError {
		return 1
	}
	return 0
}
