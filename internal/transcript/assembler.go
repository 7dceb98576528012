// Package transcript assembles recognition results into an append-only
// transcript with plain-text, markup and structured projections.
package transcript

import (
	"strings"
	"sync"

	"rtscribe/internal/domain"
	"rtscribe/internal/observability/metrics"
)

// Assembler is safe for concurrent use. Finalized units are never changed
// after they are appended.
type Assembler struct {
	metrics *metrics.Metrics

	mu              sync.Mutex
	separation      domain.Separation
	entitiesEnabled bool
	vocabulary      map[string]struct{}
	opts            domain.DisplayOptions

	units       []domain.TranscriptUnit
	text        strings.Builder
	html        strings.Builder
	partial     string
	partialHTML string
	prevSpeaker string
	prevChannel string
}

func NewAssembler(m *metrics.Metrics) *Assembler {
	return &Assembler{
		metrics:    m,
		separation: domain.SeparationNone,
		opts:       domain.DefaultDisplayOptions(),
	}
}

// BeginSession adopts the session's configuration and clears the labels and
// the partial. Finalized units are kept until Reset.
func (a *Assembler) BeginSession(cfg domain.SessionConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.separation = cfg.Separation
	a.entitiesEnabled = cfg.EnableEntities
	a.vocabulary = make(map[string]struct{}, len(cfg.Vocabulary))
	for _, entry := range cfg.Vocabulary {
		a.vocabulary[entry.Content] = struct{}{}
	}
	a.prevSpeaker = ""
	a.prevChannel = ""
	a.partial = ""
	a.partialHTML = ""
}

// SetDisplayOptions applies to units appended afterwards.
func (a *Assembler) SetDisplayOptions(opts domain.DisplayOptions) {
	if opts.EntitiesForm == "" {
		opts.EntitiesForm = domain.EntitiesWritten
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts = opts
}

func (a *Assembler) DisplayOptions() domain.DisplayOptions {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opts
}

// AppendFinal commits a final batch, clears the partial and returns the units
// that were appended.
func (a *Assembler) AppendFinal(batch domain.TranscriptBatch) []domain.TranscriptUnit {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := len(a.units)
	for _, result := range batch.Results {
		a.appendResult(result, "")
	}
	a.partial = ""
	a.partialHTML = ""

	appended := append([]domain.TranscriptUnit(nil), a.units[start:]...)
	a.metrics.RecordUnits(len(appended))
	return appended
}

// ApplyPartial replaces the current partial and returns its projections.
func (a *Assembler) ApplyPartial(batch domain.TranscriptBatch) (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.partial, a.partialHTML = joinPartial(batch.Results, a.opts)
	a.metrics.RecordPartial()
	return a.partial, a.partialHTML
}

func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

func (a *Assembler) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial
}

func (a *Assembler) Snapshot() domain.TranscriptSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.TranscriptSnapshot{
		Text:        a.text.String(),
		HTML:        a.html.String(),
		Units:       append([]domain.TranscriptUnit{}, a.units...),
		Partial:     a.partial,
		PartialHTML: a.partialHTML,
	}
}

// Reset discards every projection, the labels and the partial.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.units = nil
	a.text.Reset()
	a.html.Reset()
	a.partial = ""
	a.partialHTML = ""
	a.prevSpeaker = ""
	a.prevChannel = ""
}

func (a *Assembler) appendResult(result domain.TranscriptResult, form domain.EntitiesForm) {
	if result.Type == domain.ResultEntity && a.entitiesEnabled {
		forms := result.WrittenForm
		if a.opts.EntitiesForm == domain.EntitiesSpoken {
			forms = result.SpokenForm
		}
		if len(forms) > 0 {
			for _, sub := range forms {
				a.appendResult(sub, a.opts.EntitiesForm)
			}
			return
		}
	}
	// Speaker markers come from word labels, not from speaker_change results.
	if result.Type == domain.ResultSpeakerChange || len(result.Alternatives) == 0 {
		return
	}

	alt := result.Best()
	unit := domain.TranscriptUnit{
		Type:      result.Type,
		Content:   alt.Content,
		Display:   alt.Content,
		Speaker:   alt.Speaker,
		Channel:   result.Channel,
		StartTime: result.StartTime,
		EndTime:   result.EndTime,
	}

	switch a.separation {
	case domain.SeparationSpeaker:
		if alt.Speaker != "" && alt.Speaker != a.prevSpeaker {
			unit.SpeakerLabel = SpeakerLabel(alt.Speaker)
			a.prevSpeaker = alt.Speaker
		}
	case domain.SeparationChannel:
		if result.Channel != "" && result.Channel != a.prevChannel {
			unit.ChannelLabel = ChannelLabel(result.Channel)
			a.prevChannel = result.Channel
		}
	}

	if result.Type != domain.ResultPunctuation && a.text.Len() > 0 &&
		unit.SpeakerLabel == "" && unit.ChannelLabel == "" {
		unit.Separator = " "
	}

	if result.Type != domain.ResultPunctuation {
		unit.Decorations = decorate(alt, a.vocabulary, form)
		if shouldMask(a.opts, unit.Decorations) {
			unit.Display = MaskProfanity(alt.Content)
		}
	}

	a.units = append(a.units, unit)
	writeUnitText(&a.text, unit)
	writeUnitHTML(&a.html, unit, a.opts)
}
