// Package lasterr renders errors into the bounded "last error" strings stored on jobs, items and subjects.
package lasterr

import (
	"strings"
	"unicode/utf8"
)

// MaxLen is the byte bound of a stored last-error string.
const MaxLen = 1000

// Truncate renders err as a single-line string of at most n bytes, cut on a rune boundary.
// A nil error yields "".
func Truncate(err error, n int) string {
	if err == nil {
		return ""
	}
	return TruncateString(err.Error(), n)
}

func TruncateString(s string, n int) string {
	if n <= 0 {
		n = MaxLen
	}
	s = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", " "), "\n", " "))
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
