package transcript

import (
	"regexp"
	"strings"
)

var spaceBeforeTerminalPattern = regexp.MustCompile(` +([.!?])`)

// Cleanup normalizes final dictated text: collapse whitespace, collapse runs
// of the same punctuation mark, drop spaces before terminal punctuation.
func Cleanup(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = collapseRepeatedPunctuation(text)
	text = spaceBeforeTerminalPattern.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

func collapseRepeatedPunctuation(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	var prev rune
	for _, r := range text {
		if r == prev && isCollapsible(r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func isCollapsible(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':':
		return true
	default:
		return false
	}
}
