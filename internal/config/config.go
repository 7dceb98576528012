package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"rtscribe/internal/domain"
	"rtscribe/internal/vocab"
)

const envPrefix = "RTSCRIBE_"

// Config stores runtime configuration for the engine and its CLI.
type Config struct {
	Service ServiceConfig
	Audio   AudioConfig
	Session SessionConfig
	Logging LoggingConfig
	API     APIConfig
	Events  EventsConfig
}

type ServiceConfig struct {
	Endpoint         string
	Token            string
	APIKey           string
	TokenURL         string
	TokenTTL         time.Duration
	HandshakeTimeout time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	FrameSize       int
	PromptAfter     time.Duration
}

type SessionConfig struct {
	Duration        time.Duration
	TeardownTimeout time.Duration
	File            string
	VocabularyFile  string
	Defaults        domain.SessionConfig
	Display         domain.DisplayOptions
}

type LoggingConfig struct {
	Level  string
	Format string
}

type APIConfig struct {
	Listen string
}

type EventsConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// SessionFile is the TOML document holding session and display defaults.
type SessionFile struct {
	Session domain.SessionConfig  `toml:"session"`
	Display domain.DisplayOptions `toml:"display"`
}

// Load resolves configuration from .env files, environment variables, the
// optional session file and the optional vocabulary file. envFiles that do
// not exist are skipped; variables already set win over .env values.
func Load(envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Service: ServiceConfig{
			Endpoint:         envOrDefault("ENDPOINT", "wss://eu2.rt.speechmatics.com/v2"),
			Token:            env("TOKEN"),
			APIKey:           env("API_KEY"),
			TokenURL:         env("TOKEN_URL"),
			TokenTTL:         envOrDefaultDuration("TOKEN_TTL", time.Hour),
			HandshakeTimeout: envOrDefaultDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("SAMPLE_RATE", 44100),
			FrameSize:       envOrDefaultInt("FRAME_SIZE", 4096),
			PromptAfter:     envOrDefaultDuration("PERMISSION_PROMPT_AFTER", 500*time.Millisecond),
		},
		Session: SessionConfig{
			Duration:        envOrDefaultDuration("SESSION_DURATION", 120*time.Second),
			TeardownTimeout: envOrDefaultDuration("TEARDOWN_TIMEOUT", 5*time.Second),
			File:            env("SESSION_FILE"),
			VocabularyFile:  env("VOCAB_FILE"),
			Defaults:        domain.DefaultSessionConfig(),
			Display:         domain.DefaultDisplayOptions(),
		},
		Logging: LoggingConfig{
			Level:  envOrDefault("LOG_LEVEL", "info"),
			Format: envOrDefault("LOG_FORMAT", "console"),
		},
		API: APIConfig{
			Listen: env("LISTEN"),
		},
		Events: EventsConfig{
			Brokers:      envList("KAFKA_BROKERS"),
			Topic:        envOrDefault("KAFKA_TOPIC", "rtscribe.transcripts"),
			WriteTimeout: envOrDefaultDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 44100
	}
	if cfg.Audio.FrameSize < 256 {
		cfg.Audio.FrameSize = 4096
	}
	if cfg.Session.Duration <= 0 {
		cfg.Session.Duration = 120 * time.Second
	}
	if cfg.Service.TokenTTL < time.Minute {
		cfg.Service.TokenTTL = time.Hour
	}

	if cfg.Session.File != "" {
		file, err := LoadSessionFile(cfg.Session.File)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.Defaults = file.Session
		cfg.Session.Display = file.Display
	}

	entries, err := vocab.Load(cfg.Session.VocabularyFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Session.Defaults.Vocabulary = vocab.Merge(cfg.Session.Defaults.Vocabulary, entries)

	if err := cfg.Session.Defaults.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid session defaults: %w", err)
	}
	return cfg, nil
}

// LoadSessionFile decodes a TOML session file. Keys missing from the file keep
// their default values.
func LoadSessionFile(path string) (SessionFile, error) {
	file := SessionFile{
		Session: domain.DefaultSessionConfig(),
		Display: domain.DefaultDisplayOptions(),
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return SessionFile{}, fmt.Errorf("session file not found: %s", path)
	}
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return SessionFile{}, fmt.Errorf("failed to decode session file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return SessionFile{}, fmt.Errorf("unknown keys in session file: %v", undecoded)
	}
	if err := file.Session.Validate(); err != nil {
		return SessionFile{}, fmt.Errorf("invalid session file %q: %w", path, err)
	}
	return file, nil
}

func loadEnvFiles(paths []string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %q: %w", path, err)
		}
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envOrDefault(key string, fallback string) string {
	value := env(key)
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := env(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultDuration accepts Go durations ("90s") or whole milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := env(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed >= 0 {
		return parsed
	}
	if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(env(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
