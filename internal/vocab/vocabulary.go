// Package vocab loads custom vocabulary entries from a line-oriented file:
//
//	# comment
//	Gnocchi => nyohki, nokey
//	rtscribe
package vocab

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"rtscribe/internal/domain"
)

// LineParser parses one non-comment line into an entry.
type LineParser interface {
	CanParse(line string) bool
	Parse(line string) (domain.VocabEntry, error)
}

// Load reads entries from path. A blank path or a missing file yields no
// entries.
func Load(path string) ([]domain.VocabEntry, error) {
	return LoadWithParsers(path, defaultParsers())
}

func LoadWithParsers(path string, parsers []LineParser) ([]domain.VocabEntry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read vocabulary file %q: %w", path, err)
	}

	entries, err := Parse(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file %q: %w", path, err)
	}
	return entries, nil
}

// Parse converts file contents into entries, keeping file order.
func Parse(contents string, parsers []LineParser) ([]domain.VocabEntry, error) {
	if len(parsers) == 0 {
		parsers = defaultParsers()
	}
	lines := strings.Split(contents, "\n")
	entries := make([]domain.VocabEntry, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			entry, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			entries = append(entries, entry)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported vocabulary format", index+1)
		}
	}

	return entries, nil
}

// Merge appends extra to base. An entry in extra replaces a base entry with
// the same content.
func Merge(base []domain.VocabEntry, extra []domain.VocabEntry) []domain.VocabEntry {
	if len(extra) == 0 {
		return base
	}
	out := make([]domain.VocabEntry, 0, len(base)+len(extra))
	index := make(map[string]int, len(base)+len(extra))
	for _, entry := range append(append([]domain.VocabEntry(nil), base...), extra...) {
		if i, ok := index[entry.Content]; ok {
			out[i] = entry
			continue
		}
		index[entry.Content] = len(out)
		out = append(out, entry)
	}
	return out
}

func defaultParsers() []LineParser {
	return []LineParser{soundsLikeParser{}, plainParser{}}
}

type soundsLikeParser struct{}

func (soundsLikeParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (soundsLikeParser) Parse(line string) (domain.VocabEntry, error) {
	parts := strings.SplitN(line, "=>", 2)
	content := strings.TrimSpace(parts[0])
	if content == "" {
		return domain.VocabEntry{}, errors.New("vocabulary content cannot be empty")
	}

	var soundsLike []string
	for _, alias := range strings.Split(parts[1], ",") {
		alias = strings.TrimSpace(alias)
		if alias != "" {
			soundsLike = append(soundsLike, alias)
		}
	}
	if len(soundsLike) == 0 {
		return domain.VocabEntry{}, fmt.Errorf("no sounds-like forms for %q", content)
	}
	return domain.VocabEntry{Content: content, SoundsLike: soundsLike}, nil
}

type plainParser struct{}

func (plainParser) CanParse(string) bool {
	return true
}

func (plainParser) Parse(line string) (domain.VocabEntry, error) {
	return domain.VocabEntry{Content: line}, nil
}
