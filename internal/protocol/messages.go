package protocol

import (
	"rtscribe/internal/domain"
)

// MessageType is the `message` discriminator of every control message.
type MessageType string

const (
	// client -> server
	MessageStartRecognition     MessageType = "StartRecognition"
	MessageEndOfStream          MessageType = "EndOfStream"
	MessageSetRecognitionConfig MessageType = "SetRecognitionConfig"

	// server -> client
	MessageRecognitionStarted   MessageType = "RecognitionStarted"
	MessageAudioAdded           MessageType = "AudioAdded"
	MessageAddPartialTranscript MessageType = "AddPartialTranscript"
	MessageAddTranscript        MessageType = "AddTranscript"
	MessageEndOfTranscript      MessageType = "EndOfTranscript"
	MessageWarning              MessageType = "Warning"
	MessageInfo                 MessageType = "Info"
	MessageError                MessageType = "Error"
)

const (
	DefaultSampleRate = 44100
	audioFormatRaw    = "raw"
	encodingF32LE     = "pcm_f32le"
)

// AudioFormat describes the binary audio plane.
type AudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// TranscriptionConfig is the wire form of domain.SessionConfig.
type TranscriptionConfig struct {
	Language                 string                       `json:"language"`
	OutputLocale             string                       `json:"output_locale,omitempty"`
	OperatingPoint           string                       `json:"operating_point,omitempty"`
	AdditionalVocab          []domain.VocabEntry          `json:"additional_vocab,omitempty"`
	EnablePartials           bool                         `json:"enable_partials"`
	MaxDelay                 float64                      `json:"max_delay,omitempty"`
	MaxDelayMode             string                       `json:"max_delay_mode,omitempty"`
	EnableEntities           bool                         `json:"enable_entities"`
	Domain                   string                       `json:"domain,omitempty"`
	Diarization              string                       `json:"diarization,omitempty"`
	SpeakerDiarizationConfig *SpeakerDiarizationConfig    `json:"speaker_diarization_config,omitempty"`
	PunctuationOverrides     *domain.PunctuationOverrides `json:"punctuation_overrides,omitempty"`
}

type SpeakerDiarizationConfig struct {
	MaxSpeakers int `json:"max_speakers"`
}

// StartRecognition opens a recognition session.
type StartRecognition struct {
	Message             MessageType         `json:"message"`
	AudioFormat         AudioFormat         `json:"audio_format"`
	TranscriptionConfig TranscriptionConfig `json:"transcription_config"`
}

// EndOfStream tells the server no more audio follows.
type EndOfStream struct {
	Message   MessageType `json:"message"`
	LastSeqNo int         `json:"last_seq_no"`
}

// LiveTranscriptionConfig carries only the fields allowed mid-session.
type LiveTranscriptionConfig struct {
	MaxDelay       *float64 `json:"max_delay,omitempty"`
	MaxDelayMode   *string  `json:"max_delay_mode,omitempty"`
	EnablePartials *bool    `json:"enable_partials,omitempty"`
}

type SetRecognitionConfig struct {
	Message             MessageType             `json:"message"`
	TranscriptionConfig LiveTranscriptionConfig `json:"transcription_config"`
}

// AudioAdded acknowledges received audio.
type AudioAdded struct {
	Message MessageType `json:"message"`
	SeqNo   int         `json:"seq_no"`
}

type TranscriptMetadata struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Transcript string  `json:"transcript"`
}

// AddTranscript is used for both partial and final batches.
type AddTranscript struct {
	Message  MessageType               `json:"message"`
	Metadata TranscriptMetadata        `json:"metadata"`
	Results  []domain.TranscriptResult `json:"results"`
}

// Batch flattens the message into the domain representation.
func (m AddTranscript) Batch() domain.TranscriptBatch {
	return domain.TranscriptBatch{
		StartTime:  m.Metadata.StartTime,
		EndTime:    m.Metadata.EndTime,
		Transcript: m.Metadata.Transcript,
		Results:    m.Results,
	}
}

// ServerDiagnostic covers Warning, Info and Error messages.
type ServerDiagnostic struct {
	Message MessageType `json:"message"`
	Type    string      `json:"type,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Code    int         `json:"code,omitempty"`
	SeqNo   int         `json:"seq_no,omitempty"`
}

// NewStartRecognition builds the start message for cfg.
func NewStartRecognition(cfg domain.SessionConfig, sampleRate int) StartRecognition {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return StartRecognition{
		Message: MessageStartRecognition,
		AudioFormat: AudioFormat{
			Type:       audioFormatRaw,
			Encoding:   encodingF32LE,
			SampleRate: sampleRate,
		},
		TranscriptionConfig: buildTranscriptionConfig(cfg),
	}
}

func buildTranscriptionConfig(cfg domain.SessionConfig) TranscriptionConfig {
	wire := TranscriptionConfig{
		Language:       cfg.Language,
		OperatingPoint: string(cfg.OperatingPoint),
		EnablePartials: cfg.EnablePartials,
		MaxDelay:       cfg.MaxDelay,
		MaxDelayMode:   string(cfg.MaxDelayMode),
		EnableEntities: cfg.EnableEntities,
		Domain:         string(cfg.Domain),
	}
	// The output locale only applies to English.
	if cfg.Language == "en" {
		wire.OutputLocale = cfg.OutputLocale
	}
	if len(cfg.Vocabulary) > 0 {
		wire.AdditionalVocab = append([]domain.VocabEntry(nil), cfg.Vocabulary...)
	}
	switch cfg.Separation {
	case domain.SeparationSpeaker:
		wire.Diarization = "speaker"
		wire.SpeakerDiarizationConfig = &SpeakerDiarizationConfig{MaxSpeakers: cfg.MaxSpeakers}
	case domain.SeparationChannel:
		wire.Diarization = "channel"
	}
	if len(cfg.Punctuation.PermittedMarks) > 0 {
		overrides := cfg.Punctuation
		overrides.PermittedMarks = append([]string(nil), cfg.Punctuation.PermittedMarks...)
		wire.PunctuationOverrides = &overrides
	}
	return wire
}

func NewEndOfStream(lastSeqNo int) EndOfStream {
	return EndOfStream{Message: MessageEndOfStream, LastSeqNo: lastSeqNo}
}

func NewSetRecognitionConfig(live domain.LiveConfig) SetRecognitionConfig {
	msg := SetRecognitionConfig{
		Message: MessageSetRecognitionConfig,
		TranscriptionConfig: LiveTranscriptionConfig{
			MaxDelay:       live.MaxDelay,
			EnablePartials: live.EnablePartials,
		},
	}
	if live.MaxDelayMode != nil {
		mode := string(*live.MaxDelayMode)
		msg.TranscriptionConfig.MaxDelayMode = &mode
	}
	return msg
}
