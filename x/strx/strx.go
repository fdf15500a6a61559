package strx

import "strings"

// Coalesce returns s if non-empty, otherwise d.
func Coalesce(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// Attr normalises a value written to a control attribute: surrounding
// whitespace (including the trailing newline from `echo`) is dropped.
func Attr(s string) string { return strings.TrimSpace(s) }

// Lines renders one entry per line, each newline-terminated.
func Lines(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it)
		b.WriteByte('\n')
	}
	return b.String()
}
