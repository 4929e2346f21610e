package channels

import (
	"strings"
	"unicode/utf8"
)

// DefaultSplitLimit keeps each part under Discord's 2000 character cap with
// room for formatting.
const DefaultSplitLimit = 1900

// Split breaks text into parts of at most limit runes, preferring line
// boundaries. Lines longer than limit are hard-split. Empty text yields no
// parts.
func Split(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSplitLimit
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		parts []string
		buf   strings.Builder
		n     int
	)
	flush := func() {
		if buf.Len() > 0 {
			parts = append(parts, buf.String())
			buf.Reset()
			n = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		ln := utf8.RuneCountInString(line)
		sep := 0
		if n > 0 {
			sep = 1
		}
		if n+sep+ln <= limit {
			if sep == 1 {
				buf.WriteByte('\n')
			}
			buf.WriteString(line)
			n += sep + ln
			continue
		}
		flush()
		for ln > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			ln -= limit
		}
		buf.WriteString(line)
		n = ln
	}
	flush()
	return parts
}
