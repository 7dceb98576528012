package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/metrics"
	"rtscribe/internal/ports"
)

const (
	DefaultSampleRate = 44100
	DefaultFrameSize  = 4096

	startupWindow = 250 * time.Millisecond
	stopGrace     = 1200 * time.Millisecond
)

var ErrAlreadyCapturing = errors.New("capture already running")

// Recorder captures mono float32 microphone audio through an ffmpeg
// subprocess. One capture may run at a time.
type Recorder struct {
	command string
	cfg     ports.AudioConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	device   string
	active   *captureSession
	labelled bool
}

func NewRecorder(command string, cfg ports.AudioConfig, logger zerolog.Logger, m *metrics.Metrics) *Recorder {
	if command == "" {
		command = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return &Recorder{
		command: command,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		device:  cfg.InputDevice,
	}
}

// SelectInput sets the device used by the next Start. An empty id selects
// the configured default.
func (r *Recorder) SelectInput(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(deviceID) == "" {
		deviceID = r.cfg.InputDevice
	}
	r.device = deviceID
}

func (r *Recorder) SelectedInput() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// Start spawns ffmpeg and begins delivering frames to sink. It returns once
// the process has survived the startup window.
func (r *Recorder) Start(ctx context.Context, sink ports.FrameSink) error {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrAlreadyCapturing
	}
	device := r.device
	r.mu.Unlock()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.Command(r.command, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	cmd.WaitDelay = stopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return domain.NewUnsupportedError("start capture", err)
		}
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	session := &captureSession{
		process:   cmd.Process,
		stdout:    stdout,
		stderr:    stderr,
		exited:    make(chan struct{}),
		frameSize: r.cfg.FrameSize,
		sink:      sink,
		logger:    r.logger,
		metrics:   r.metrics,
	}
	go func() {
		session.exitErr = cmd.Wait()
		close(session.exited)
	}()

	timer := time.NewTimer(startupWindow)
	defer timer.Stop()
	select {
	case <-session.exited:
		return classifyExit(session.exitErr, stderr.String())
	case <-ctx.Done():
		_ = session.stop()
		return ctx.Err()
	case <-timer.C:
	}

	r.mu.Lock()
	r.active = session
	r.mu.Unlock()

	go session.readLoop()

	r.logger.Debug().Str("device", device).Int("sample_rate", r.cfg.SampleRate).Msg("capture started")
	return nil
}

// Stop halts the active capture. Calling Stop with nothing running is a
// no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	session := r.active
	r.active = nil
	r.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.stop()
}

type captureSession struct {
	process   *os.Process
	stdout    io.ReadCloser
	stderr    *bytes.Buffer
	exited    chan struct{}
	exitErr   error
	frameSize int
	sink      ports.FrameSink
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	stopMu   sync.Mutex
	stopping bool
	stopOnce sync.Once
	stopErr  error
}

func (s *captureSession) readLoop() {
	buf := make([]byte, s.frameSize*4)
	for {
		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			break
		}
		s.metrics.RecordFrameCaptured()
		s.sink.OnFrame(domain.DecodeAudioFrame(buf))
	}

	<-s.exited
	if s.isStopping() {
		return
	}
	err := classifyExit(s.exitErr, s.stderr.String())
	s.logger.Warn().Err(err).Msg("capture ended unexpectedly")
	s.sink.OnCaptureFailure(err)
}

func (s *captureSession) isStopping() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopping
}

func (s *captureSession) stop() error {
	s.stopOnce.Do(func() {
		s.stopMu.Lock()
		s.stopping = true
		s.stopMu.Unlock()

		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		timer := time.NewTimer(stopGrace)
		defer timer.Stop()
		select {
		case <-s.exited:
		case <-timer.C:
			if s.process != nil {
				_ = s.process.Kill()
			}
			<-s.exited
		}
		s.stopErr = normalizeStopErr(s.exitErr)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// classifyExit maps an ffmpeg exit to the capture error taxonomy using the
// diagnostics it printed.
func classifyExit(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)

	cause := errors.New("ffmpeg exited before capture started")
	if err != nil {
		cause = fmt.Errorf("%s: %w", cause, err)
	}
	if detail != "" {
		cause = fmt.Errorf("%w: %s", cause, detail)
	}

	switch {
	case strings.Contains(lower, "device or resource busy"), strings.Contains(lower, "resource temporarily unavailable"):
		return domain.NewPermissionError("start capture", true, cause)
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "operation not permitted"), strings.Contains(lower, "access denied"):
		return domain.NewPermissionError("start capture", false, cause)
	case strings.Contains(lower, "unknown input format"), strings.Contains(lower, "no such device"):
		return domain.NewUnsupportedError("start capture", cause)
	default:
		return cause
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}
