package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"rtscribe/internal/domain"
)

const (
	tagProfanity  = "profanity"
	tagDisfluency = "disfluency"

	maskRune = '*'
)

// ConfidenceBand buckets a confidence score in 0.2 steps.
func ConfidenceBand(confidence float64) string {
	switch {
	case confidence < 0.2:
		return "word-confidence-02"
	case confidence < 0.4:
		return "word-confidence-24"
	case confidence < 0.6:
		return "word-confidence-46"
	case confidence < 0.8:
		return "word-confidence-68"
	default:
		return "word-confidence-1"
	}
}

// MaskProfanity keeps the first and last rune and masks the rest. Words of
// two runes or fewer have no interior and are returned unchanged.
func MaskProfanity(word string) string {
	runes := []rune(word)
	if len(runes) <= 2 {
		return word
	}
	for i := 1; i < len(runes)-1; i++ {
		runes[i] = maskRune
	}
	return string(runes)
}

// SpeakerLabel turns a diarization tag such as "S1" into "Speaker 1".
func SpeakerLabel(speaker string) string {
	if rest, ok := strings.CutPrefix(speaker, "S"); ok && rest != "" {
		return "Speaker " + rest
	}
	return speaker
}

// ChannelLabel turns a channel id such as "channel_1" into "Channel 1".
func ChannelLabel(channel string) string {
	label := strings.Replace(channel, "_", " ", 1)
	first, size := utf8.DecodeRuneInString(label)
	if first == utf8.RuneError {
		return label
	}
	return string(unicode.ToUpper(first)) + label[size:]
}

func decorate(alt domain.Alternative, vocabulary map[string]struct{}, form domain.EntitiesForm) domain.Decorations {
	_, custom := vocabulary[alt.Content]
	return domain.Decorations{
		ConfidenceBand:   ConfidenceBand(alt.Confidence),
		CustomVocabulary: custom,
		Disfluency:       alt.HasTag(tagDisfluency),
		Profane:          alt.HasTag(tagProfanity),
		EntityForm:       form,
	}
}

// shouldMask applies the profanity policy. Expanded entity text is masked
// only when the caller opted in.
func shouldMask(opts domain.DisplayOptions, decorations domain.Decorations) bool {
	if !opts.FilterProfanity || !decorations.Profane {
		return false
	}
	if decorations.EntityForm != "" {
		return opts.MaskEntityProfanity
	}
	return true
}

// classes returns the HTML classes enabled by opts for a word unit.
func classes(opts domain.DisplayOptions, decorations domain.Decorations) []string {
	var out []string
	if opts.ShowConfidence && decorations.ConfidenceBand != "" {
		out = append(out, decorations.ConfidenceBand)
	}
	if opts.MarkCustomVocabulary && decorations.CustomVocabulary {
		out = append(out, "word-custom-dict")
	}
	if opts.ShowDisfluencies && decorations.Disfluency {
		out = append(out, "word-disfluency")
	}
	if decorations.EntityForm != "" {
		out = append(out, "entity-"+string(decorations.EntityForm))
	}
	return out
}
