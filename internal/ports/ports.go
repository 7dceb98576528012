package ports

import (
	"context"
	"time"

	"rtscribe/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	FrameSize   int
	InputFormat string
	InputDevice string
}

// FrameSink receives captured audio. OnFrame must not block on the network.
type FrameSink interface {
	OnFrame(frame domain.AudioFrame)
	// OnCaptureFailure is called at most once per capture when the device
	// stops delivering audio after a successful start.
	OnCaptureFailure(err error)
}

// AudioCapture owns the input device for one session at a time.
type AudioCapture interface {
	ListInputs(ctx context.Context) ([]domain.InputDevice, error)
	SelectInput(deviceID string)
	Start(ctx context.Context, sink FrameSink) error
	Stop() error
}

// PermissionChecker resolves whether the microphone can be opened. onPrompt
// fires once if the answer takes long enough that the user should be told.
type PermissionChecker interface {
	Check(ctx context.Context, onPrompt func()) error
}

// TransportListener receives exactly one callback per transport event.
type TransportListener interface {
	OnMessage(msg domain.InboundMessage)
	OnError(err error)
	OnDisconnect()
}

// Transport is one physical duplex connection.
type Transport interface {
	SetListener(listener TransportListener)
	Connect(ctx context.Context, endpoint string, credential string) error
	SendControl(message any) error
	SendBinary(payload []byte) error
	Disconnect(ctx context.Context) error
	IsOpen() bool
}

// TransportFactory builds a fresh transport for each connection attempt.
type TransportFactory func() Transport

// RecognitionObserver receives protocol events from the session client.
type RecognitionObserver interface {
	OnRecognitionStarted()
	OnPartial(batch domain.TranscriptBatch)
	OnFinal(batch domain.TranscriptBatch)
	OnEndOfTranscript()
	OnDiagnostic(diag domain.Diagnostic)
	// OnError reports failures that happen while no handshake is pending.
	OnError(err error)
	OnDisconnect()
}

// RecognitionClient is the session protocol as seen by the state machine.
type RecognitionClient interface {
	Connect(ctx context.Context, endpoint string, credential string) error
	StartRecognition(ctx context.Context, cfg domain.SessionConfig) error
	SendAudio(frame domain.AudioFrame) error
	StopRecognition(ctx context.Context) error
	UpdateLiveConfig(live domain.LiveConfig) error
	Disconnect(ctx context.Context) error
	AckedSeqNo() int
}

// RecognitionClientFactory builds a client reporting to observer. One client
// is built per session attempt.
type RecognitionClientFactory func(observer RecognitionObserver) RecognitionClient

// CredentialSupplier returns a bearer token, refreshing it when needed.
type CredentialSupplier interface {
	Token(ctx context.Context) (string, error)
}

// EndpointResolver returns the base URL of the real-time service.
type EndpointResolver interface {
	Endpoint(ctx context.Context) (string, error)
}

// EventSink emits engine state and transcript updates to the caller.
type EventSink interface {
	StageChanged(stage domain.Stage, reason domain.StageReason)
	TranscriptUpdated(snapshot domain.TranscriptSnapshot, appended []domain.TranscriptUnit)
	PartialTranscript(text string, html string)
	TimeLeft(remaining time.Duration)
	PermissionChanged(status domain.PermissionStatus)
	SessionError(err domain.SessionError)
	Diagnostic(diag domain.Diagnostic)
}
