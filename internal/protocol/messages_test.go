package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"rtscribe/internal/domain"
)

func TestNewStartRecognitionDefaults(t *testing.T) {
	t.Parallel()

	msg := NewStartRecognition(domain.DefaultSessionConfig(), 0)
	if msg.Message != MessageStartRecognition {
		t.Fatalf("expected StartRecognition, got %q", msg.Message)
	}
	if msg.AudioFormat != (AudioFormat{Type: "raw", Encoding: "pcm_f32le", SampleRate: 44100}) {
		t.Fatalf("unexpected audio format: %+v", msg.AudioFormat)
	}
	wire := msg.TranscriptionConfig
	if wire.Language != "en" || wire.OutputLocale != "en-GB" {
		t.Fatalf("unexpected language fields: %+v", wire)
	}
	if wire.Diarization != "" || wire.SpeakerDiarizationConfig != nil {
		t.Fatalf("expected no diarization, got %+v", wire)
	}
	if wire.PunctuationOverrides != nil {
		t.Fatalf("expected no punctuation overrides without marks")
	}
}

func TestTranscriptionConfigOmitsLocaleForOtherLanguages(t *testing.T) {
	t.Parallel()

	cfg := domain.DefaultSessionConfig()
	cfg.Language = "de"
	wire := NewStartRecognition(cfg, 16000).TranscriptionConfig
	if wire.OutputLocale != "" {
		t.Fatalf("expected output locale to be omitted, got %q", wire.OutputLocale)
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "output_locale") {
		t.Fatalf("expected no output_locale key in %s", raw)
	}
}

func TestTranscriptionConfigSeparation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		separation  domain.Separation
		diarization string
		speakers    bool
	}{
		{name: "none", separation: domain.SeparationNone},
		{name: "speaker", separation: domain.SeparationSpeaker, diarization: "speaker", speakers: true},
		{name: "channel", separation: domain.SeparationChannel, diarization: "channel"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := domain.DefaultSessionConfig()
			cfg.Separation = tt.separation
			cfg.MaxSpeakers = 4
			wire := buildTranscriptionConfig(cfg)
			if wire.Diarization != tt.diarization {
				t.Fatalf("expected diarization %q, got %q", tt.diarization, wire.Diarization)
			}
			if tt.speakers {
				if wire.SpeakerDiarizationConfig == nil || wire.SpeakerDiarizationConfig.MaxSpeakers != 4 {
					t.Fatalf("expected speaker config with 4 speakers, got %+v", wire.SpeakerDiarizationConfig)
				}
			} else if wire.SpeakerDiarizationConfig != nil {
				t.Fatalf("expected no speaker config, got %+v", wire.SpeakerDiarizationConfig)
			}
		})
	}
}

func TestTranscriptionConfigVocabularyAndPunctuation(t *testing.T) {
	t.Parallel()

	cfg := domain.DefaultSessionConfig()
	cfg.Vocabulary = []domain.VocabEntry{{Content: "gnocchi", SoundsLike: []string{"nyohki"}}}
	cfg.Punctuation.PermittedMarks = []string{".", "?"}

	raw, err := json.Marshal(NewStartRecognition(cfg, 0))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		`"additional_vocab":[{"content":"gnocchi","sounds_like":["nyohki"]}]`,
		`"punctuation_overrides":{"permitted_marks":[".","?"],"sensitivity":0.5}`,
		`"max_delay_mode":"fixed"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}

	cfg.Punctuation.PermittedMarks[0] = "!"
	if NewStartRecognition(cfg, 0).TranscriptionConfig.PunctuationOverrides.PermittedMarks[0] != "!" {
		t.Fatalf("expected marks to reflect the current config")
	}
}

func TestNewSetRecognitionConfigOnlyCarriesSetFields(t *testing.T) {
	t.Parallel()

	delay := 2.5
	raw, err := json.Marshal(NewSetRecognitionConfig(domain.LiveConfig{MaxDelay: &delay}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"message":"SetRecognitionConfig","transcription_config":{"max_delay":2.5}}`
	if string(raw) != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
}

func TestNewEndOfStream(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewEndOfStream(7))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"message":"EndOfStream","last_seq_no":7}` {
		t.Fatalf("unexpected end of stream: %s", raw)
	}
}
