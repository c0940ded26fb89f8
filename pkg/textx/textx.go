// Package textx contains small text helpers shared by the recognizer and
// the field extractor.
package textx

import (
	"strings"
	"unicode"
)

// Sanitize strips control characters and collapses runs of whitespace to a
// single space. Recognizer output frequently carries stray newlines and
// zero-width characters that break downstream pattern matching.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r) || r == '\uFEFF' || r == '\u200B':
			// drop
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsThai reports whether r is in the Thai block.
func IsThai(r rune) bool { return r >= 0x0E00 && r <= 0x0E7F }

// IsThaiDigit reports whether r is a Thai digit (๐-๙).
func IsThaiDigit(r rune) bool { return r >= 0x0E50 && r <= 0x0E59 }

// ThaiRatio returns the fraction of letters-and-digits runes that are Thai.
func ThaiRatio(s string) float64 {
	total, thai := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		total++
		if IsThai(r) {
			thai++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(thai) / float64(total)
}
