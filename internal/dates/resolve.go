package dates

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout is the stored representation of a resolved date.
const ISOLayout = "2006-01-02"

// Epoch is day zero of spreadsheet serial dates.
var Epoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31.
const maxSerial = 2958465

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are
// assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Layouts that carry a 4-digit year and no positional ambiguity.
var unambiguousLayouts = []string{
	"2006-01-02", "2006/01/02", "2006.01.02",
	"2006-1-2", "2006/1/2",
	time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04",
	"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
	"02-Jan-2006", "2-Jan-2006", "02-Jan-06",
}

var (
	triplePattern = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{4}|\d{2})$`)
	pairPattern   = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})$`)
	serialPattern = regexp.MustCompile(`^\d{5}(\.\d+)?$`)
	digitsPattern = regexp.MustCompile(`^\d{1,2}$`)
	compactISO    = regexp.MustCompile(`^\d{8}$`)
)

// FromSerial decodes a spreadsheet serial day number. Fractions (time of
// day) are dropped.
func FromSerial(serial float64) time.Time {
	return Epoch.AddDate(0, 0, int(math.Floor(serial)))
}

// ToSerial encodes a date as a spreadsheet serial day number.
func ToSerial(t time.Time) int {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int((d.Unix() - Epoch.Unix()) / 86400)
}

// IsSerial reports whether n is in the range of serial day numbers.
func IsSerial(n float64) bool {
	return n >= 1 && n <= maxSerial && !math.IsNaN(n)
}

// Resolver turns header and cell values into calendar dates using one
// Format for the whole import.
type Resolver struct {
	Format Format
	Now    func() time.Time
	Logger *slog.Logger
}

// NewResolver creates a Resolver. A nil now uses time.Now; a nil logger
// uses slog.Default.
func NewResolver(format Format, now func() time.Time, logger *slog.Logger) *Resolver {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Format: format, Now: now, Logger: logger}
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// ResolveDate resolves a column header to an ISO date. Besides everything
// ResolveCell accepts, headers may be bare day numbers ("5" or 5), read as
// a day of the current month, or of next month when the day is more than
// a week behind today. Unparsed headers are logged and return ok=false.
func (r *Resolver) ResolveDate(header any, columnIndex int) (string, bool) {
	t, ok := r.resolve(header, true)
	if !ok {
		r.logger().Warn("unparsed date header",
			slog.Int("column", columnIndex),
			slog.Any("token", header),
		)
		return "", false
	}
	return t.Format(ISOLayout), true
}

// ResolveCell resolves a data cell to a date at day granularity. Numbers
// are serial day numbers.
func (r *Resolver) ResolveCell(v any) (time.Time, bool) {
	return r.resolve(v, false)
}

func (r *Resolver) resolve(v any, header bool) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return dateOnly(x), true
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, false
		}
		return dateOnly(*x), true
	case float64:
		return r.resolveNumber(x, header)
	case float32:
		return r.resolveNumber(float64(x), header)
	case int:
		return r.resolveNumber(float64(x), header)
	case int32:
		return r.resolveNumber(float64(x), header)
	case int64:
		return r.resolveNumber(float64(x), header)
	case string:
		return r.parseString(x, header)
	default:
		return time.Time{}, false
	}
}

func (r *Resolver) resolveNumber(n float64, header bool) (time.Time, bool) {
	if header && n == math.Trunc(n) && n >= 1 && n <= 31 {
		return r.dayOnly(int(n))
	}
	if !IsSerial(n) {
		return time.Time{}, false
	}
	return FromSerial(n), true
}

func (r *Resolver) parseString(s string, header bool) (time.Time, bool) {
	s = FoldDigits(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, false
	}

	if compactISO.MatchString(s) {
		if t, err := time.Parse("20060102", s); err == nil {
			return t, true
		}
		return time.Time{}, false
	}

	for _, layout := range unambiguousLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}

	if m := triplePattern.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year = r.expandYear(year)
		}
		day, month := r.order(a, b)
		return makeDate(year, month, day)
	}

	if m := pairPattern.FindStringSubmatch(s); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		day, month := r.order(a, b)
		now := r.now()
		year := now.Year()
		if month < int(now.Month()) {
			year++
		}
		return makeDate(year, month, day)
	}

	if header && digitsPattern.MatchString(s) {
		d, _ := strconv.Atoi(s)
		return r.dayOnly(d)
	}

	if serialPattern.MatchString(s) {
		n, err := strconv.ParseFloat(s, 64)
		if err == nil && IsSerial(n) {
			return FromSerial(n), true
		}
	}

	return time.Time{}, false
}

// order returns (day, month) for the two positions of a token.
func (r *Resolver) order(a, b int) (int, int) {
	if r.Format == MonthFirst {
		return b, a
	}
	return a, b
}

func (r *Resolver) expandYear(yy int) int {
	year := 2000 + yy
	if year > r.now().Year()+TwoDigitYearPivot {
		year -= 100
	}
	return year
}

// dayOnly places a bare day number in the current month, or next month
// when it is more than 7 days behind today.
func (r *Resolver) dayOnly(day int) (time.Time, bool) {
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	now := r.now()
	year, month := now.Year(), now.Month()
	if day < now.Day()-7 {
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return makeDate(year, int(month), day)
}

// makeDate rejects dates that time.Date would normalize, like 31 April.
func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FoldDigits replaces Arabic-Indic and Extended Arabic-Indic digits with
// ASCII digits.
func FoldDigits(s string) string {
	if !strings.ContainsFunc(s, isEasternDigit) {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		}
		return r
	}, s)
}

func isEasternDigit(r rune) bool {
	return (r >= '٠' && r <= '٩') || (r >= '۰' && r <= '۹')
}
