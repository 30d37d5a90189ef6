// Package strings holds small text helpers for terminal output.
package strings

import (
	"strings"
)

// DefaultLineMaxLen is the width error messages are cut to in table output.
const DefaultLineMaxLen = 120

// minLineLen leaves room for one character plus the ellipsis.
const minLineLen = 4

// TruncateLine collapses all whitespace in s, including newlines, to single
// spaces and cuts the result to at most maxLen runes, ending it with "..."
// when something was removed. maxLen values below 4 are treated as 4.
func TruncateLine(s string, maxLen int) string {
	if maxLen < minLineLen {
		maxLen = minLineLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
