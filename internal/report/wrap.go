package report

import (
	"strings"
	"unicode/utf8"
)

// Wrap greedily fills words into lines of at most width runes, each starting
// with prefix. Whitespace runs collapse to one space and words longer than a
// line are split. Empty input yields no lines.
func Wrap(text string, width int, prefix string) []string {
	avail := width - utf8.RuneCountInString(prefix)
	if avail < 1 {
		avail = 1
	}

	var lines []string
	var cur []rune
	flush := func() {
		lines = append(lines, prefix+string(cur))
		cur = cur[:0]
	}

	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > avail {
			if len(cur) > 0 {
				flush()
			}
			cur = append(cur, w[:avail]...)
			flush()
			w = w[avail:]
		}
		switch {
		case len(w) == 0:
		case len(cur) == 0:
			cur = append(cur, w...)
		case len(cur)+1+len(w) <= avail:
			cur = append(cur, ' ')
			cur = append(cur, w...)
		default:
			flush()
			cur = append(cur, w...)
		}
	}
	if len(cur) > 0 {
		flush()
	}
	return lines
}
