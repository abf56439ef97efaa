package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	// Single-pass implementation:
	//  - remember the byte index after the n-th rune
	//  - if there is an (n+1)-th rune, truncate + ellipsis
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// TruncLines truncates s to at most n runes, cutting at the last line break
// that fits. When no break fits it falls back to TruncRunes.
func TruncLines(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 1 {
		return TruncRunes(s, n)
	}
	// Reserve one rune for the ellipsis line.
	limit := n - 1
	cut, count := -1, 0
	for i, r := range s {
		if count >= limit {
			break
		}
		if r == '\n' {
			cut = i
		}
		count++
	}
	if cut <= 0 {
		return TruncRunes(s, n-1)
	}
	return strings.TrimRight(s[:cut], "\n") + "\n…"
}

// Chunks splits s into pieces of at most n runes, preferring line breaks.
func Chunks(s string, n int) []string {
	if n <= 0 || s == "" {
		return nil
	}
	var out []string
	for utf8.RuneCountInString(s) > n {
		// byte offset of the n-th rune and of the last newline before it
		end, nl, count := len(s), -1, 0
		for i, r := range s {
			if count == n {
				end = i
				break
			}
			if r == '\n' {
				nl = i
			}
			count++
		}
		if nl > 0 {
			end = nl
		}
		out = append(out, s[:end])
		s = strings.TrimLeft(s[end:], "\n")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
