// Package mapping matches spreadsheet column names to target fields.
package mapping

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds a header or keyword into a comparable form: NFKC,
// lower case, parentheses removed, and every run of '_', '-' or whitespace
// collapsed into one space. Normalize is idempotent.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case r == '(' || r == ')':
		case r == '_' || r == '-' || unicode.IsSpace(r):
			pendingSpace = true
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity scores how well a column name matches a keyword, in [0, 1].
//
//   - 1.0 when the normalized strings are equal
//   - 0.8 when one contains the other
//   - 0.6 × matching words / max word count when words overlap
//   - 0 otherwise
//
// A word matches when it equals, contains, or is contained by any word of
// the other string.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	wa := strings.Fields(na)
	wb := strings.Fields(nb)
	matches := 0
	for _, x := range wa {
		for _, y := range wb {
			if x == y || strings.Contains(x, y) || strings.Contains(y, x) {
				matches++
				break
			}
		}
	}
	if matches == 0 {
		return 0
	}
	return 0.6 * float64(matches) / float64(max(len(wa), len(wb)))
}
