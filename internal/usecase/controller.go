package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/logging"
	"rtscribe/internal/observability/metrics"
	"rtscribe/internal/ports"
	"rtscribe/internal/transcript"
)

const DefaultTeardownTimeout = 5 * time.Second

var (
	ErrInvalidTransition = errors.New("operation not allowed in the current stage")
	ErrStartCancelled    = errors.New("session start was cancelled")
)

// Config controls session behavior.
type Config struct {
	SessionDuration time.Duration
	// TeardownTimeout bounds stop handshakes and disconnects that run
	// without a caller context.
	TeardownTimeout time.Duration
	Defaults        domain.SessionConfig
	Display         domain.DisplayOptions
}

// Dependencies are the collaborators of a SessionController.
type Dependencies struct {
	Capture     ports.AudioCapture
	Permission  ports.PermissionChecker
	NewClient   ports.RecognitionClientFactory
	Credentials ports.CredentialSupplier
	Endpoints   ports.EndpointResolver
	Assembler   *transcript.Assembler
	Events      ports.EventSink
	Clock       clock.Clock
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// SessionController owns the session lifecycle: permission, capture,
// recognition, countdown and the transcript.
type SessionController struct {
	capture     ports.AudioCapture
	permission  ports.PermissionChecker
	newClient   ports.RecognitionClientFactory
	credentials ports.CredentialSupplier
	endpoints   ports.EndpointResolver
	assembler   *transcript.Assembler
	events      ports.EventSink
	clock       clock.Clock
	cfg         Config
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	mu         sync.Mutex
	stage      domain.Stage
	session    domain.SessionConfig
	errs       []domain.SessionError
	permStatus domain.PermissionStatus
	current    *attempt
	timeLeft   time.Duration
	lastAcked  int
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = DefaultSessionDuration
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.Defaults.Language == "" {
		cfg.Defaults = domain.DefaultSessionConfig()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Assembler == nil {
		deps.Assembler = transcript.NewAssembler(deps.Metrics)
	}
	deps.Assembler.SetDisplayOptions(cfg.Display)

	return &SessionController{
		capture:     deps.Capture,
		permission:  deps.Permission,
		newClient:   deps.NewClient,
		credentials: deps.Credentials,
		endpoints:   deps.Endpoints,
		assembler:   deps.Assembler,
		events:      deps.Events,
		clock:       deps.Clock,
		cfg:         cfg,
		logger:      logging.WithComponent(deps.Logger, "session"),
		metrics:     deps.Metrics,
		stage:       domain.StageIdle,
		session:     cfg.Defaults.Clone(),
		timeLeft:    cfg.SessionDuration,
	}
}

// CheckPermission resolves microphone access before the first session.
func (c *SessionController) CheckPermission(ctx context.Context) error {
	c.mu.Lock()
	if c.stage != domain.StageIdle {
		stage := c.stage
		c.mu.Unlock()
		return fmt.Errorf("check permission from %s: %w", stage, ErrInvalidTransition)
	}
	c.setStageLocked(domain.StagePermissionRequest, domain.ReasonPermissionCheck)
	c.mu.Unlock()

	err := c.permission.Check(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		status := c.permStatus
		status.Prompt = true
		c.setPermissionLocked(status)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.setPermissionLocked(domain.PermissionStatus{Confirmed: true})
		c.setStageLocked(domain.StageIdle, domain.ReasonPermissionGranted)
	case domain.IsKind(err, domain.ErrorKindPermission):
		c.setPermissionLocked(permissionFailure(err))
		c.setStageLocked(domain.StageIdle, domain.ReasonPermissionDenied)
	default:
		status := c.permStatus
		status.Prompt = false
		c.setPermissionLocked(status)
		c.setStageLocked(domain.StageIdle, domain.ReasonPermissionCheck)
	}
	return err
}

// Start opens the microphone, connects and performs the start handshake.
// It is accepted from idle, error and stopped.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.stage {
	case domain.StageIdle, domain.StageError, domain.StageStopped:
	default:
		stage := c.stage
		c.mu.Unlock()
		return fmt.Errorf("start from %s: %w", stage, ErrInvalidTransition)
	}
	previous := c.current
	startCtx, cancel := context.WithCancel(ctx)
	a := newAttempt(uuid.NewString(), c.session.Clone(), cancel)
	c.current = a
	c.errs = nil
	c.lastAcked = 0
	c.timeLeft = c.cfg.SessionDuration
	c.setStageLocked(domain.StageStarting, domain.ReasonStarting)
	c.mu.Unlock()

	defer close(a.startDone)
	defer cancel()

	if previous != nil {
		select {
		case <-previous.stopDone:
		case <-startCtx.Done():
		}
	}

	err := c.start(startCtx, a)

	c.mu.Lock()
	if err == nil && !a.stopRequested && c.current == a {
		a.streaming.Store(true)
		a.countdown = NewCountdown(c.clock, c.cfg.SessionDuration, c.countdownTick(a), c.countdownExpired(a))
		a.countdown.Start()
		c.metrics.RecordSessionStarted()
		c.setStageLocked(domain.StageRunning, domain.ReasonRecognitionStarted)
		c.mu.Unlock()
		return nil
	}
	superseded := c.current != a
	stopRequested := a.stopRequested
	if a.captureErr != nil && !stopRequested {
		err = a.captureErr
	}
	if err == nil {
		err = ErrStartCancelled
	}
	c.mu.Unlock()

	c.teardown(a)
	defer a.released()

	c.mu.Lock()
	defer c.mu.Unlock()
	if superseded {
		return ErrStartCancelled
	}
	if stopRequested {
		c.setStageLocked(domain.StageStopped, domain.ReasonStartCancelled)
		return ErrStartCancelled
	}

	reason := domain.ReasonStartFailed
	if domain.IsKind(err, domain.ErrorKindPermission) {
		reason = domain.ReasonPermissionDenied
		c.setPermissionLocked(permissionFailure(err))
	}
	c.recordErrorLocked(a, err)
	c.metrics.RecordSessionFailed(string(domain.KindOf(err)))
	c.setStageLocked(domain.StageError, reason)
	return err
}

func (c *SessionController) start(ctx context.Context, a *attempt) error {
	c.assembler.BeginSession(a.config)

	if err := c.capture.Start(ctx, &audioPump{controller: c, attempt: a}); err != nil {
		return err
	}
	c.mu.Lock()
	a.captureStarted = true
	c.setPermissionLocked(domain.PermissionStatus{Confirmed: true})
	c.mu.Unlock()

	base, err := c.endpoints.Endpoint(ctx)
	if err != nil {
		return domain.NewTransportError("resolve endpoint", err)
	}
	token, err := c.credentials.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain credential: %w", err)
	}

	client := c.newClient(&recognitionObserver{controller: c, attempt: a})
	c.mu.Lock()
	a.client = client
	c.mu.Unlock()

	if err := client.Connect(ctx, sessionEndpoint(base, a.config.Language), token); err != nil {
		return err
	}
	return client.StartRecognition(ctx, a.config)
}

// Stop ends the session: capture stops first, then the end-of-stream
// handshake runs and the connection closes. Stopping during start cancels it.
func (c *SessionController) Stop(ctx context.Context) error {
	c.mu.Lock()
	a := c.current
	switch c.stage {
	case domain.StageStarting:
		a.stopRequested = true
		a.cancelStart()
		c.mu.Unlock()
		select {
		case <-a.startDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case domain.StageRunning, domain.StageStopping:
		c.mu.Unlock()
		return c.stop(ctx, a, domain.ReasonStopRequested)
	default:
		stage := c.stage
		c.mu.Unlock()
		return fmt.Errorf("stop from %s: %w", stage, ErrInvalidTransition)
	}
}

func (c *SessionController) stop(ctx context.Context, a *attempt, reason domain.StageReason) error {
	c.mu.Lock()
	if c.current != a {
		c.mu.Unlock()
		return nil
	}
	if c.stage == domain.StageStopping {
		c.mu.Unlock()
		select {
		case <-a.stopDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.stage != domain.StageRunning {
		c.mu.Unlock()
		return nil
	}
	c.haltLocked(a)
	c.setStageLocked(domain.StageStopping, reason)
	c.mu.Unlock()
	defer a.released()

	log := logging.WithSession(c.logger, a.id)
	if err := c.capture.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop audio capture cleanly")
	}
	if err := a.client.StopRecognition(ctx); err != nil {
		log.Warn().Err(err).Msg("end of stream handshake failed")
	}
	if err := a.client.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to disconnect cleanly")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.RecordSessionEnded()
	if c.current == a && c.stage == domain.StageStopping {
		c.lastAcked = a.client.AckedSeqNo()
		c.setStageLocked(domain.StageStopped, domain.ReasonRecognitionEnded)
	}
	return nil
}

// failSession moves a running session to error and releases its resources.
func (c *SessionController) failSession(a *attempt, err error) {
	if c.markFailed(a, err) {
		c.release(a)
	}
}

// markFailed records err and moves a running attempt to error without
// blocking. It reports whether the caller owns the teardown.
func (c *SessionController) markFailed(a *attempt, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != a || c.stage != domain.StageRunning {
		log := logging.WithSession(c.logger, a.id)
		log.Debug().Err(err).Msg("ignoring failure outside of running session")
		return false
	}
	c.haltLocked(a)
	if domain.IsKind(err, domain.ErrorKindPermission) {
		c.setPermissionLocked(permissionFailure(err))
	}
	c.lastAcked = a.client.AckedSeqNo()
	c.recordErrorLocked(a, err)
	c.metrics.RecordSessionFailed(string(domain.KindOf(err)))
	c.metrics.RecordSessionEnded()
	c.setStageLocked(domain.StageError, domain.ReasonSessionFailed)
	return true
}

// markEnded handles a remote disconnect of a running session. It reports
// whether the caller owns the teardown.
func (c *SessionController) markEnded(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != a || c.stage != domain.StageRunning {
		return false
	}
	c.haltLocked(a)
	c.lastAcked = a.client.AckedSeqNo()
	c.metrics.RecordSessionEnded()
	if len(c.errs) > 0 {
		c.setStageLocked(domain.StageError, domain.ReasonSessionFailed)
	} else {
		c.setStageLocked(domain.StageStopped, domain.ReasonSessionEnded)
	}
	return true
}

// release tears down an attempt that has already left running.
func (c *SessionController) release(a *attempt) {
	defer a.released()
	c.teardown(a)
}

func (c *SessionController) onCaptureFailure(a *attempt, err error) {
	c.mu.Lock()
	if c.current != a {
		c.mu.Unlock()
		return
	}
	switch c.stage {
	case domain.StageStarting:
		if !a.stopRequested && a.captureErr == nil {
			a.captureErr = err
			a.cancelStart()
		}
		c.mu.Unlock()
	case domain.StageRunning:
		c.mu.Unlock()
		c.failSession(a, err)
	default:
		c.mu.Unlock()
	}
}

// acceptsResults reports whether transcript results of a belong to the
// visible session. Finals still arrive while stopping.
func (c *SessionController) acceptsResults(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != a {
		return false
	}
	return c.stage == domain.StageRunning || c.stage == domain.StageStopping
}

// haltLocked stops frame forwarding and the countdown.
func (c *SessionController) haltLocked(a *attempt) {
	a.streaming.Store(false)
	if a.countdown != nil {
		a.countdown.Stop()
		c.timeLeft = a.countdown.Remaining()
	}
}

// teardown releases capture and connection without a stop handshake.
func (c *SessionController) teardown(a *attempt) {
	c.mu.Lock()
	captureStarted := a.captureStarted
	client := a.client
	c.mu.Unlock()

	log := logging.WithSession(c.logger, a.id)
	if captureStarted {
		if err := c.capture.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop audio capture cleanly")
		}
	}
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TeardownTimeout)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to disconnect cleanly")
		}
	}
}

func (c *SessionController) countdownTick(a *attempt) func(time.Duration) {
	return func(remaining time.Duration) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != a || c.stage != domain.StageRunning {
			return
		}
		c.timeLeft = remaining
		c.events.TimeLeft(remaining)
	}
}

func (c *SessionController) countdownExpired(a *attempt) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TeardownTimeout)
		defer cancel()
		log := logging.WithSession(c.logger, a.id)
		log.Info().Msg("session time limit reached")
		_ = c.stop(ctx, a, domain.ReasonCountdownExpired)
	}
}

// Reset tears down whatever is active and returns to the form with the
// default configuration and an empty transcript.
func (c *SessionController) Reset(ctx context.Context) error {
	return c.startOver(ctx, false)
}

// StartOver is Reset that keeps the current session configuration.
func (c *SessionController) StartOver(ctx context.Context) error {
	return c.startOver(ctx, true)
}

func (c *SessionController) startOver(ctx context.Context, keepConfig bool) error {
	c.mu.Lock()
	a := c.current
	stage := c.stage
	c.current = nil
	if a != nil {
		c.haltLocked(a)
		if stage == domain.StageStarting {
			a.cancelStart()
		}
	}
	c.mu.Unlock()

	if a != nil {
		wait := a.stopDone
		switch stage {
		case domain.StageStarting:
			wait = a.startDone
		case domain.StageRunning:
			c.teardown(a)
			a.released()
			c.metrics.RecordSessionEnded()
		}
		select {
		case <-wait:
		case <-ctx.Done():
			c.logger.Warn().Err(ctx.Err()).Msg("reset did not wait for teardown")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !keepConfig {
		c.session = c.cfg.Defaults.Clone()
	}
	c.errs = nil
	c.lastAcked = 0
	c.timeLeft = c.cfg.SessionDuration
	c.assembler.Reset()
	c.setStageLocked(domain.StageIdle, domain.ReasonReset)
	return nil
}

// Configure replaces the session configuration used by the next Start.
func (c *SessionController) Configure(cfg domain.SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.stage {
	case domain.StageIdle, domain.StageError, domain.StageStopped:
	default:
		return fmt.Errorf("configure from %s: %w", c.stage, ErrInvalidTransition)
	}
	c.session = cfg.Clone()
	return nil
}

// UpdateLiveConfig changes latency and partials of the running session.
func (c *SessionController) UpdateLiveConfig(live domain.LiveConfig) error {
	if err := live.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.stage != domain.StageRunning || c.current == nil || c.current.client == nil {
		stage := c.stage
		c.mu.Unlock()
		return domain.NewConfigError(fmt.Sprintf("live configuration is not accepted while %s", stage))
	}
	a := c.current
	c.mu.Unlock()

	if err := a.client.UpdateLiveConfig(live); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == a {
		c.session = live.Apply(c.session)
		a.config = live.Apply(a.config)
	}
	return nil
}

// SetDisplayOptions affects units appended from now on.
func (c *SessionController) SetDisplayOptions(opts domain.DisplayOptions) {
	c.assembler.SetDisplayOptions(opts)
}

func (c *SessionController) DisplayOptions() domain.DisplayOptions {
	return c.assembler.DisplayOptions()
}

func (c *SessionController) ListInputs(ctx context.Context) ([]domain.InputDevice, error) {
	return c.capture.ListInputs(ctx)
}

// SelectInput applies to the next Start.
func (c *SessionController) SelectInput(deviceID string) {
	c.capture.SelectInput(deviceID)
}

func (c *SessionController) Transcript() domain.TranscriptSnapshot {
	return c.assembler.Snapshot()
}

func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		Stage:      c.stage,
		Permission: c.permStatus,
		Config:     c.session.Clone(),
		Errors:     append([]domain.SessionError(nil), c.errs...),
		AckedSeqNo: c.lastAcked,
		TimeLeft:   c.timeLeft,
	}
	if a := c.current; a != nil {
		status.SessionID = a.id
		if c.stage == domain.StageRunning || c.stage == domain.StageStopping {
			if a.client != nil {
				status.AckedSeqNo = a.client.AckedSeqNo()
			}
			if c.stage == domain.StageRunning && a.countdown != nil {
				status.TimeLeft = a.countdown.Remaining()
			}
		}
	}
	status.SecondsLeft = int(status.TimeLeft / time.Second)
	if n := len(status.Errors); n > 0 {
		last := status.Errors[n-1]
		status.LastError = &last
	}
	return status
}

func (c *SessionController) setStageLocked(stage domain.Stage, reason domain.StageReason) {
	c.stage = stage
	c.metrics.RecordStage(string(stage))
	c.logger.Info().Str("stage", string(stage)).Str("reason", string(reason)).Msg("session stage changed")
	c.events.StageChanged(stage, reason)
}

func (c *SessionController) setPermissionLocked(status domain.PermissionStatus) {
	if status == c.permStatus {
		return
	}
	c.permStatus = status
	c.events.PermissionChanged(status)
}

func (c *SessionController) recordErrorLocked(a *attempt, err error) {
	entry := domain.SessionError{
		Kind:    domain.KindOf(err),
		Message: err.Error(),
		At:      c.clock.Now(),
	}
	var typed *domain.Error
	if errors.As(err, &typed) {
		entry.Payload = typed.Payload
	}
	c.errs = append(c.errs, entry)
	log := logging.WithSession(c.logger, a.id)
	log.Error().Err(err).Str("kind", string(entry.Kind)).Msg("session error")
	c.events.SessionError(entry)
}

func permissionFailure(err error) domain.PermissionStatus {
	var typed *domain.Error
	if errors.As(err, &typed) && typed.Blocked {
		return domain.PermissionStatus{Blocked: true}
	}
	return domain.PermissionStatus{Denied: true}
}

// sessionEndpoint appends the language path segment to the service URL.
func sessionEndpoint(base string, language string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(language)
}
