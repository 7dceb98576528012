package events

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtscribe/internal/domain"
	"rtscribe/internal/transcript"
)

// Console prints finalized transcript text to out as it arrives and logs
// everything else.
type Console struct {
	logger zerolog.Logger

	mu        sync.Mutex
	out       io.Writer
	printed   bool
	lastShown int
}

func NewConsole(out io.Writer, logger zerolog.Logger) *Console {
	return &Console{out: out, logger: logger.With().Str("component", "console").Logger(), lastShown: -1}
}

func (c *Console) StageChanged(stage domain.Stage, reason domain.StageReason) {
	c.logger.Info().Str("stage", string(stage)).Str("reason", string(reason)).Msg("stage")
	if stage == domain.StageStopped || stage == domain.StageError {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.printed {
			fmt.Fprintln(c.out)
			c.printed = false
		}
	}
}

func (c *Console) TranscriptUpdated(_ domain.TranscriptSnapshot, appended []domain.TranscriptUnit) {
	text := transcript.RenderText(appended)
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if first := appended[0]; c.printed && (first.SpeakerLabel != "" || first.ChannelLabel != "") {
		text = "\n" + text
	}
	fmt.Fprint(c.out, text)
	c.printed = true
}

func (c *Console) PartialTranscript(text string, _ string) {
	c.logger.Debug().Str("partial", text).Msg("partial")
}

// TimeLeft logs every ten seconds.
func (c *Console) TimeLeft(remaining time.Duration) {
	seconds := int(remaining / time.Second)
	c.mu.Lock()
	show := seconds%10 == 0 && seconds != c.lastShown
	c.lastShown = seconds
	c.mu.Unlock()
	if show {
		c.logger.Info().Int("secondsLeft", seconds).Msg("time left")
	}
}

func (c *Console) PermissionChanged(status domain.PermissionStatus) {
	event := c.logger.Info()
	if status.Denied || status.Blocked {
		event = c.logger.Warn()
	}
	event.Bool("confirmed", status.Confirmed).
		Bool("prompt", status.Prompt).
		Bool("denied", status.Denied).
		Bool("blocked", status.Blocked).
		Msg("microphone permission")
}

func (c *Console) SessionError(err domain.SessionError) {
	c.logger.Error().Str("kind", string(err.Kind)).Msg(err.Message)
}

func (c *Console) Diagnostic(diag domain.Diagnostic) {
	c.logger.Warn().Str("level", diag.Level).Str("type", diag.Type).Str("reason", diag.Reason).Msg("server diagnostic")
}
