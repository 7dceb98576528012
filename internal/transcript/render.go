package transcript

import (
	"html"
	"strings"

	"rtscribe/internal/domain"
)

// RenderText derives the plain-text projection from finalized units.
func RenderText(units []domain.TranscriptUnit) string {
	var b strings.Builder
	for _, u := range units {
		writeUnitText(&b, u)
	}
	return b.String()
}

// RenderHTML derives the markup projection from finalized units.
func RenderHTML(units []domain.TranscriptUnit, opts domain.DisplayOptions) string {
	var b strings.Builder
	for _, u := range units {
		writeUnitHTML(&b, u, opts)
	}
	return b.String()
}

func writeUnitText(b *strings.Builder, u domain.TranscriptUnit) {
	switch {
	case u.ChannelLabel != "":
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(u.ChannelLabel)
		b.WriteByte('\n')
	case u.SpeakerLabel != "":
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(u.SpeakerLabel)
		b.WriteString(": ")
	}
	b.WriteString(u.Separator)
	b.WriteString(u.Content)
}

func writeUnitHTML(b *strings.Builder, u domain.TranscriptUnit, opts domain.DisplayOptions) {
	if u.ChannelLabel != "" {
		b.WriteString(`<span class="channelLabel">`)
		b.WriteString(html.EscapeString(u.ChannelLabel))
		b.WriteString(":</span>")
	}
	if u.SpeakerLabel != "" {
		b.WriteString(`<span class="speakerChangeLabel">`)
		b.WriteString(html.EscapeString(u.SpeakerLabel))
		b.WriteString(":</span>")
	}
	b.WriteString(u.Separator)

	if u.Type == domain.ResultPunctuation {
		b.WriteString("<span>")
		b.WriteString(html.EscapeString(u.Content))
		b.WriteString("</span>")
		return
	}

	names := classes(opts, u.Decorations)
	if len(names) == 0 {
		b.WriteString("<span>")
	} else {
		b.WriteString(`<span class="`)
		b.WriteString(strings.Join(names, " "))
		b.WriteString(`">`)
	}
	writeWordHTML(b, u.Content, u.Display)
	b.WriteString("</span>")
}

// writeWordHTML writes display, wrapping the masked interior when display
// differs from content.
func writeWordHTML(b *strings.Builder, content string, display string) {
	runes := []rune(display)
	if display == content || len(runes) <= 2 {
		b.WriteString(html.EscapeString(display))
		return
	}
	b.WriteString(html.EscapeString(string(runes[0])))
	b.WriteString(`<span class="profanity-inner">`)
	b.WriteString(string(runes[1 : len(runes)-1]))
	b.WriteString("</span>")
	b.WriteString(html.EscapeString(string(runes[len(runes)-1])))
}

// joinPartial concatenates the best alternative of each result as is. Partial
// batches carry no separators.
func joinPartial(results []domain.TranscriptResult, opts domain.DisplayOptions) (string, string) {
	var text, markup strings.Builder
	for _, result := range results {
		alt := result.Best()
		if alt.Content == "" {
			continue
		}
		text.WriteString(alt.Content)

		display := alt.Content
		if opts.FilterProfanity && alt.HasTag(tagProfanity) {
			display = MaskProfanity(alt.Content)
		}
		writeWordHTML(&markup, alt.Content, display)
	}
	return text.String(), markup.String()
}
