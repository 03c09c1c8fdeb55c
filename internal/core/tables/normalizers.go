package tables

import (
	"strings"
	"unicode"

	"github.com/clinicops/intake/internal/dates"
)

// NormalizeNationalID folds Arabic-Indic digits and drops spaces, dashes
// and dots so "١٠٠١", "1001" and "10-01" key the same patient. Letters are
// upper-cased for residence permit numbers.
func NormalizeNationalID(s string) string {
	s = dates.FoldDigits(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '.' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
	return s
}

// NormalizePhone keeps the digits of a phone number and a leading plus.
// A 00 international prefix becomes +.
func NormalizePhone(s string) string {
	s = dates.FoldDigits(strings.TrimSpace(s))

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	// Fallback: return original
	if out == "" || out == "+" {
		return s
	}
	return out
}
