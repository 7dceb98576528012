package domain

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"
)

// Stage models the real-time session lifecycle.
type Stage string

const (
	// StageIdle is the configuration form; sessions start from here.
	StageIdle              Stage = "idle"
	StagePermissionRequest Stage = "permission-request"
	StageStarting          Stage = "starting"
	StageRunning           Stage = "running"
	StageStopping          Stage = "stopping"
	StageStopped           Stage = "stopped"
	StageError             Stage = "error"
)

// StageReason provides a structured reason for stage transitions.
type StageReason string

const (
	ReasonPermissionCheck    StageReason = "permission_check"
	ReasonPermissionGranted  StageReason = "permission_granted"
	ReasonPermissionDenied   StageReason = "permission_denied"
	ReasonStarting           StageReason = "starting"
	ReasonRecognitionStarted StageReason = "recognition_started"
	ReasonStopRequested      StageReason = "stop_requested"
	ReasonCountdownExpired   StageReason = "countdown_expired"
	ReasonRecognitionEnded   StageReason = "recognition_ended"
	ReasonSessionEnded       StageReason = "session_ended"
	ReasonStartCancelled     StageReason = "start_cancelled"
	ReasonStartFailed        StageReason = "start_failed"
	ReasonSessionFailed      StageReason = "session_failed"
	ReasonReset              StageReason = "reset"
)

// AudioFrame is one fixed-size block of mono float32 samples.
type AudioFrame []float32

// Bytes encodes the frame as little-endian IEEE-754 floats.
func (f AudioFrame) Bytes() []byte {
	out := make([]byte, len(f)*4)
	for i, sample := range f {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(sample))
	}
	return out
}

// DecodeAudioFrame is the inverse of AudioFrame.Bytes. Trailing bytes that do
// not form a whole sample are ignored.
func DecodeAudioFrame(raw []byte) AudioFrame {
	frame := make(AudioFrame, len(raw)/4)
	for i := range frame {
		frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return frame
}

// InputDevice is an audio input reported by the capture backend.
type InputDevice struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

// InboundMessage is a server control message with its discriminator decoded.
type InboundMessage struct {
	Type string
	Raw  json.RawMessage
}

// ResultType identifies what a recognition result represents.
type ResultType string

const (
	ResultWord          ResultType = "word"
	ResultPunctuation   ResultType = "punctuation"
	ResultSpeakerChange ResultType = "speaker_change"
	ResultEntity        ResultType = "entity"
)

// Alternative is one recognition hypothesis.
type Alternative struct {
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	Language   string   `json:"language,omitempty"`
	Speaker    string   `json:"speaker,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// HasTag reports whether the alternative carries tag.
func (a Alternative) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TranscriptResult is one recognized unit returned by the server.
type TranscriptResult struct {
	Type         ResultType         `json:"type"`
	StartTime    float64            `json:"start_time"`
	EndTime      float64            `json:"end_time"`
	Channel      string             `json:"channel,omitempty"`
	IsEOS        bool               `json:"is_eos,omitempty"`
	EntityClass  string             `json:"entity_class,omitempty"`
	Alternatives []Alternative      `json:"alternatives,omitempty"`
	WrittenForm  []TranscriptResult `json:"written_form,omitempty"`
	SpokenForm   []TranscriptResult `json:"spoken_form,omitempty"`
}

// Best returns the first alternative, or a zero value when there is none.
func (r TranscriptResult) Best() Alternative {
	if len(r.Alternatives) == 0 {
		return Alternative{}
	}
	return r.Alternatives[0]
}

// TranscriptBatch is the payload of a partial or final transcript message.
type TranscriptBatch struct {
	StartTime  float64            `json:"start_time"`
	EndTime    float64            `json:"end_time"`
	Transcript string             `json:"transcript"`
	Results    []TranscriptResult `json:"results"`
}

// Decorations are presentation hints computed when a unit is appended.
type Decorations struct {
	ConfidenceBand   string       `json:"confidenceBand"`
	CustomVocabulary bool         `json:"customVocabulary"`
	Disfluency       bool         `json:"disfluency"`
	Profane          bool         `json:"profane"`
	EntityForm       EntitiesForm `json:"entityForm,omitempty"`
}

// TranscriptUnit is one finalized, rendered unit of the transcript.
type TranscriptUnit struct {
	Type         ResultType  `json:"type"`
	Content      string      `json:"content"`
	Display      string      `json:"display"`
	Separator    string      `json:"separator"`
	SpeakerLabel string      `json:"speakerLabel,omitempty"`
	ChannelLabel string      `json:"channelLabel,omitempty"`
	Speaker      string      `json:"speaker,omitempty"`
	Channel      string      `json:"channel,omitempty"`
	StartTime    float64     `json:"startTime"`
	EndTime      float64     `json:"endTime"`
	Decorations  Decorations `json:"decorations"`
}

// TranscriptSnapshot is a consistent copy of all transcript projections.
type TranscriptSnapshot struct {
	Text        string           `json:"text"`
	HTML        string           `json:"html"`
	Units       []TranscriptUnit `json:"units"`
	Partial     string           `json:"partial"`
	PartialHTML string           `json:"partialHtml"`
}

// Diagnostic carries a server warning or info message.
type Diagnostic struct {
	Level   string          `json:"level"`
	Type    string          `json:"type,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PermissionStatus describes what the caller should show about mic access.
type PermissionStatus struct {
	Confirmed bool `json:"confirmed"`
	Prompt    bool `json:"prompt"`
	Denied    bool `json:"denied"`
	Blocked   bool `json:"blocked"`
}

// SessionError is one entry of the session error log.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Status summarizes the controller state for callers.
type Status struct {
	Stage       Stage            `json:"stage"`
	SessionID   string           `json:"sessionId,omitempty"`
	TimeLeft    time.Duration    `json:"-"`
	SecondsLeft int              `json:"secondsLeft"`
	Errors      []SessionError   `json:"errors"`
	LastError   *SessionError    `json:"lastError,omitempty"`
	Permission  PermissionStatus `json:"permission"`
	AckedSeqNo  int              `json:"ackedSeqNo"`
	Config      SessionConfig    `json:"config"`
}
