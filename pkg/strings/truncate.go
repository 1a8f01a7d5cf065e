package strings

import (
	"strings"
)

// DefaultSnippetLen is the length response bodies are cut to when quoted in
// error messages and audit summaries.
const DefaultSnippetLen = 200

// MinTruncateLen is the smallest maxLen Truncate honours.
const MinTruncateLen = 4

// Truncate collapses all whitespace runs in s to single spaces and cuts the
// result to maxLen runes, ending in "..." when anything was dropped.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// Snippet is Truncate with DefaultSnippetLen, for quoting response bodies.
func Snippet(body []byte) string {
	return Truncate(string(body), DefaultSnippetLen)
}
