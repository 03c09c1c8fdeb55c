// Package transform converts raw spreadsheet cells into the canonical value
// of a mapped field.
//
// Spreadsheet cells arrive as strings, float64 numbers, or time.Time values
// depending on the reader. Every conversion is total: bad input becomes nil
// (or false for flags that never store nothing), never an error or NaN.
package transform

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/fields"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Transformer converts cells for one import. Dates are resolved with the
// import's date format.
type Transformer struct {
	Dates  *dates.Resolver
	Logger *slog.Logger
}

// New creates a Transformer. A nil resolver reads dates day-first.
func New(resolver *dates.Resolver, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = dates.NewResolver(dates.DayFirst, nil, logger)
	}
	return &Transformer{Dates: resolver, Logger: logger}
}

// Transform returns the canonical value of raw for def, or nil.
//
//	text    string
//	number  float64
//	boolean bool
//	date    time.Time at UTC midnight
//	enum    string (canonical label, raw, default, or nil per def.Fallback)
func (t *Transformer) Transform(raw any, def fields.FieldDefinition) any {
	if IsEmpty(raw) {
		if def.Type == fields.FieldBool && def.EmptyIsFalse {
			return false
		}
		return nil
	}

	switch def.Type {
	case fields.FieldBool:
		return ToBool(raw, def.TruthySet())
	case fields.FieldNumeric:
		if f, ok := ToNumber(raw); ok {
			return f
		}
		return nil
	case fields.FieldDate:
		return t.toDate(raw, def)
	case fields.FieldEnum:
		return toEnum(raw, def)
	case fields.FieldText:
		s := ToText(raw)
		if s != "" && def.Normalizer != nil {
			s = def.Normalizer(s)
		}
		if s != "" {
			return s
		}
		return nil
	default:
		return nil
	}
}

// IsEmpty reports whether a cell holds nothing.
func IsEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case *string:
		return v == nil || strings.TrimSpace(*v) == ""
	case time.Time:
		return v.IsZero()
	}
	return false
}

// ToBool is true iff raw matches one of truthy, ignoring case. Numbers are
// true when equal to 1.
func ToBool(raw any, truthy []string) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case float64:
		return v == 1
	case int:
		return v == 1
	case int64:
		return v == 1
	}
	s := strings.TrimSpace(dates.FoldDigits(ToText(raw)))
	for _, tok := range truthy {
		if strings.EqualFold(s, tok) {
			return true
		}
	}
	return false
}

// ToNumber coerces raw to a finite float64. Strings may carry currency
// symbols, thousands separators, percent signs, accounting parentheses and
// Arabic-Indic digits.
func ToNumber(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		s, ok := cleanNumber(v)
		if !ok {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func cleanNumber(s string) (string, bool) {
	s = strings.TrimSpace(dates.FoldDigits(CleanCell(s)))
	if s == "" {
		return "", false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer(
		"$", "",
		"€", "", // Euro
		"£", "", // Pound
		",", "",
		"٬", "", // Arabic thousands separator
		"٫", ".", // Arabic decimal separator
		"%", "",
	).Replace(s)
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}
	if !numericRegex.MatchString(s) {
		return "", false
	}
	return s, true
}

// ToText renders raw as a cleaned string. Whole numbers print without a
// decimal point so numeric identifiers survive ("1001", not "1001.0").
func ToText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return CleanCell(v)
	case *string:
		if v == nil {
			return ""
		}
		return CleanCell(*v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(dates.ISOLayout)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (t *Transformer) toDate(raw any, def fields.FieldDefinition) any {
	d, ok := t.Dates.ResolveCell(raw)
	if !ok {
		t.Logger.Debug("unparsed date value",
			slog.String("field", def.Key),
			slog.Any("value", raw),
		)
		return nil
	}
	return d
}

func toEnum(raw any, def fields.FieldDefinition) any {
	s := ToText(raw)
	if label, ok := def.Options.Match(s); ok {
		return label
	}
	switch def.Fallback {
	case fields.FallbackNull:
		return nil
	case fields.FallbackDefault:
		return def.Default
	default:
		return s
	}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
// - Removes zero-width and byte order marks
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\uFEFF', '\u200B', '\u200E', '\u200F':
			return -1
		}
		return r
	}, s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	// Remove any surrounding quotes
	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
