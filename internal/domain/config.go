package domain

import (
	"fmt"
	"strings"
)

type OperatingPoint string

const (
	OperatingPointStandard OperatingPoint = "standard"
	OperatingPointEnhanced OperatingPoint = "enhanced"
)

// Separation selects how the transcript is segmented.
type Separation string

const (
	SeparationNone    Separation = "none"
	SeparationSpeaker Separation = "speaker"
	SeparationChannel Separation = "channel"
)

type MaxDelayMode string

const (
	MaxDelayFixed    MaxDelayMode = "fixed"
	MaxDelayFlexible MaxDelayMode = "flexible"
)

type LanguageDomain string

const (
	DomainDefault LanguageDomain = "default"
	DomainFinance LanguageDomain = "finance"
)

// EntitiesForm selects which sub-results an entity expands into.
type EntitiesForm string

const (
	EntitiesWritten EntitiesForm = "written"
	EntitiesSpoken  EntitiesForm = "spoken"
)

// VocabEntry is one custom vocabulary word with optional phonetic hints.
type VocabEntry struct {
	Content    string   `json:"content" toml:"content"`
	SoundsLike []string `json:"sounds_like,omitempty" toml:"sounds_like"`
}

// PunctuationOverrides restricts which marks the recognizer may emit.
type PunctuationOverrides struct {
	PermittedMarks []string `json:"permitted_marks" toml:"permitted_marks"`
	Sensitivity    float64  `json:"sensitivity" toml:"sensitivity"`
}

// SessionConfig is fixed for the lifetime of one session.
type SessionConfig struct {
	Language       string               `json:"language" toml:"language"`
	OutputLocale   string               `json:"outputLocale" toml:"output_locale"`
	OperatingPoint OperatingPoint       `json:"operatingPoint" toml:"operating_point"`
	Separation     Separation           `json:"separation" toml:"separation"`
	MaxSpeakers    int                  `json:"maxSpeakers" toml:"max_speakers"`
	EnablePartials bool                 `json:"enablePartials" toml:"enable_partials"`
	MaxDelay       float64              `json:"maxDelay" toml:"max_delay"`
	MaxDelayMode   MaxDelayMode         `json:"maxDelayMode" toml:"max_delay_mode"`
	EnableEntities bool                 `json:"enableEntities" toml:"enable_entities"`
	Domain         LanguageDomain       `json:"domain" toml:"domain"`
	Vocabulary     []VocabEntry         `json:"vocabulary,omitempty" toml:"vocabulary"`
	Punctuation    PunctuationOverrides `json:"punctuation" toml:"punctuation"`
}

// DefaultSessionConfig returns the configuration a reset restores.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Language:       "en",
		OutputLocale:   "en-GB",
		OperatingPoint: OperatingPointEnhanced,
		Separation:     SeparationNone,
		MaxSpeakers:    20,
		EnablePartials: true,
		MaxDelay:       5,
		MaxDelayMode:   MaxDelayFixed,
		EnableEntities: true,
		Domain:         DomainDefault,
		Punctuation:    PunctuationOverrides{Sensitivity: 0.5},
	}
}

// Clone returns a deep copy so callers cannot mutate a running session.
func (c SessionConfig) Clone() SessionConfig {
	out := c
	if c.Vocabulary != nil {
		out.Vocabulary = make([]VocabEntry, len(c.Vocabulary))
		for i, entry := range c.Vocabulary {
			out.Vocabulary[i] = VocabEntry{
				Content:    entry.Content,
				SoundsLike: append([]string(nil), entry.SoundsLike...),
			}
		}
	}
	out.Punctuation.PermittedMarks = append([]string(nil), c.Punctuation.PermittedMarks...)
	return out
}

// HasVocabulary reports whether word is one of the custom vocabulary entries.
func (c SessionConfig) HasVocabulary(word string) bool {
	for _, entry := range c.Vocabulary {
		if entry.Content == word {
			return true
		}
	}
	return false
}

// Validate checks enumerated fields and ranges.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Language) == "" {
		return NewConfigError("language is required")
	}
	switch c.OperatingPoint {
	case OperatingPointStandard, OperatingPointEnhanced:
	default:
		return NewConfigError(fmt.Sprintf("unsupported operating point %q", c.OperatingPoint))
	}
	switch c.Separation {
	case SeparationNone, SeparationSpeaker, SeparationChannel:
	default:
		return NewConfigError(fmt.Sprintf("unsupported separation %q", c.Separation))
	}
	if err := validateMaxDelayMode(c.MaxDelayMode); err != nil {
		return err
	}
	switch c.Domain {
	case "", DomainDefault, DomainFinance:
	default:
		return NewConfigError(fmt.Sprintf("unsupported domain %q", c.Domain))
	}
	if c.MaxDelay < 0 {
		return NewConfigError("max delay cannot be negative")
	}
	if c.Separation == SeparationSpeaker && c.MaxSpeakers < 2 {
		return NewConfigError("max speakers must be at least 2")
	}
	if s := c.Punctuation.Sensitivity; s < 0 || s > 1 {
		return NewConfigError("punctuation sensitivity must be within [0, 1]")
	}
	for _, entry := range c.Vocabulary {
		if strings.TrimSpace(entry.Content) == "" {
			return NewConfigError("vocabulary entries need content")
		}
	}
	return nil
}

func validateMaxDelayMode(mode MaxDelayMode) error {
	switch mode {
	case MaxDelayFixed, MaxDelayFlexible:
		return nil
	default:
		return NewConfigError(fmt.Sprintf("unsupported max delay mode %q", mode))
	}
}

// LiveConfig is the subset of SessionConfig that may change mid-session.
// Nil fields are left unchanged.
type LiveConfig struct {
	MaxDelay       *float64      `json:"maxDelay,omitempty"`
	MaxDelayMode   *MaxDelayMode `json:"maxDelayMode,omitempty"`
	EnablePartials *bool         `json:"enablePartials,omitempty"`
}

// Empty reports whether no field is set.
func (l LiveConfig) Empty() bool {
	return l.MaxDelay == nil && l.MaxDelayMode == nil && l.EnablePartials == nil
}

func (l LiveConfig) Validate() error {
	if l.Empty() {
		return NewConfigError("live update has no fields")
	}
	if l.MaxDelay != nil && *l.MaxDelay < 0 {
		return NewConfigError("max delay cannot be negative")
	}
	if l.MaxDelayMode != nil {
		return validateMaxDelayMode(*l.MaxDelayMode)
	}
	return nil
}

// Apply folds the live update into cfg.
func (l LiveConfig) Apply(cfg SessionConfig) SessionConfig {
	if l.MaxDelay != nil {
		cfg.MaxDelay = *l.MaxDelay
	}
	if l.MaxDelayMode != nil {
		cfg.MaxDelayMode = *l.MaxDelayMode
	}
	if l.EnablePartials != nil {
		cfg.EnablePartials = *l.EnablePartials
	}
	return cfg
}

// DisplayOptions control presentation metadata computed by the assembler.
type DisplayOptions struct {
	FilterProfanity      bool         `json:"filterProfanity" toml:"filter_profanity"`
	MaskEntityProfanity  bool         `json:"maskEntityProfanity" toml:"mask_entity_profanity"`
	EntitiesForm         EntitiesForm `json:"entitiesForm" toml:"entities_form"`
	MarkCustomVocabulary bool         `json:"markCustomVocabulary" toml:"mark_custom_vocabulary"`
	ShowDisfluencies     bool         `json:"showDisfluencies" toml:"show_disfluencies"`
	ShowConfidence       bool         `json:"showConfidence" toml:"show_confidence"`
}

func DefaultDisplayOptions() DisplayOptions {
	return DisplayOptions{EntitiesForm: EntitiesWritten}
}
