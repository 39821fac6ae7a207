// Package transcript assembles recognized speech segments and applies the
// deterministic cleanup dictated text receives before it is committed.
package transcript

import "strings"

// Normalize trims raw and collapses every whitespace run to one space.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// Join assembles final segments and an optional trailing interim into one
// normalized line.
func Join(finals []string, interim string) string {
	var b strings.Builder
	for _, part := range append(finals[:len(finals):len(finals)], interim) {
		for _, word := range strings.Fields(part) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(word)
		}
	}
	return b.String()
}

// WithPrefix appends dictated text to content that was already in the
// target, separated by a single space.
func WithPrefix(prefix string, text string) string {
	prefix = strings.TrimRight(prefix, " \t\n")
	text = strings.TrimSpace(text)
	switch {
	case prefix == "":
		return text
	case text == "":
		return prefix
	default:
		return prefix + " " + text
	}
}
