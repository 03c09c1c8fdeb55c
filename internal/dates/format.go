// Package dates decides how ambiguous short date tokens are read and
// resolves header and cell values to calendar dates.
//
// A token like "03-05" is either the 3rd of May or the 5th of March. The
// choice is made once per import from every ambiguous sample in the
// workbook (Detect) and then applied uniformly by a Resolver.
package dates

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Format says which position of an ambiguous numeric pair is the month.
type Format int

const (
	// DayFirst reads "03-05" as 3 May.
	DayFirst Format = iota
	// MonthFirst reads "03-05" as 5 March.
	MonthFirst
)

func (f Format) String() string {
	if f == MonthFirst {
		return "month_first"
	}
	return "day_first"
}

// ParseFormat accepts "day_first"/"dmy" and "month_first"/"mdy".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day_first", "dayfirst", "dmy", "":
		return DayFirst, nil
	case "month_first", "monthfirst", "mdy":
		return MonthFirst, nil
	default:
		return DayFirst, fmt.Errorf("unknown date order %q", s)
	}
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Sample is the numeric pair of one ambiguous token, in reading order.
type Sample struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

// Rule is one named step of format detection. Decide reports ok=false when
// the rule does not apply to the samples.
type Rule struct {
	Name   string
	Decide func(samples []Sample, now time.Time) (Format, bool)
}

// Rules are tried in order; the first one that applies decides.
var Rules = []Rule{
	{Name: "constant-position", Decide: ConstantPosition},
	{Name: "current-month", Decide: CurrentMonth},
	{Name: "out-of-range", Decide: OutOfRange},
	{Name: "sequential", Decide: SequentialDays},
}

// DefaultRule names the decision taken when no rule applies.
const DefaultRule = "default"

// Decision is the outcome of format detection.
type Decision struct {
	Format  Format `json:"format"`
	Rule    string `json:"rule"`
	Samples int    `json:"samples"`
}

// Detect runs Rules over samples and falls back to fallback when none
// applies. The result depends only on the samples, now's month and
// fallback.
func Detect(samples []Sample, now time.Time, fallback Format) Decision {
	if len(samples) > 0 {
		for _, rule := range Rules {
			if f, ok := rule.Decide(samples, now); ok {
				return Decision{Format: f, Rule: rule.Name, Samples: len(samples)}
			}
		}
	}
	return Decision{Format: fallback, Rule: DefaultRule, Samples: len(samples)}
}

// DetectFormat is Detect with the current time and a day-first default.
func DetectFormat(samples []Sample) Format {
	return Detect(samples, time.Now(), DayFirst).Format
}

// ConstantPosition: a position whose value never changes while the other
// varies is the month.
func ConstantPosition(samples []Sample, _ time.Time) (Format, bool) {
	firstConst := constant(samples, first)
	secondConst := constant(samples, second)
	switch {
	case firstConst && !secondConst:
		return MonthFirst, true
	case secondConst && !firstConst:
		return DayFirst, true
	}
	return DayFirst, false
}

// CurrentMonth: when exactly one position always equals the current
// month, that position is the month.
func CurrentMonth(samples []Sample, now time.Time) (Format, bool) {
	month := int(now.Month())
	firstIs := all(samples, func(s Sample) bool { return s.First == month })
	secondIs := all(samples, func(s Sample) bool { return s.Second == month })
	switch {
	case firstIs && !secondIs:
		return MonthFirst, true
	case secondIs && !firstIs:
		return DayFirst, true
	}
	return DayFirst, false
}

// OutOfRange: a position holding a value above 12 cannot be the month, so
// the other one is.
func OutOfRange(samples []Sample, _ time.Time) (Format, bool) {
	firstOver := some(samples, func(s Sample) bool { return s.First > 12 })
	secondOver := some(samples, func(s Sample) bool { return s.Second > 12 })
	switch {
	case firstOver && !secondOver:
		return DayFirst, true
	case secondOver && !firstOver:
		return MonthFirst, true
	}
	return DayFirst, false
}

// SequentialDays: rosters enumerate consecutive days, so a sequential
// position is the day when the other one is not.
func SequentialDays(samples []Sample, _ time.Time) (Format, bool) {
	firstSeq := sequential(samples, first)
	secondSeq := sequential(samples, second)
	switch {
	case firstSeq && !secondSeq:
		return DayFirst, true
	case secondSeq && !firstSeq:
		return MonthFirst, true
	}
	return DayFirst, false
}

func first(s Sample) int  { return s.First }
func second(s Sample) int { return s.Second }

func constant(samples []Sample, pos func(Sample) int) bool {
	for _, s := range samples[1:] {
		if pos(s) != pos(samples[0]) {
			return false
		}
	}
	return true
}

func all(samples []Sample, pred func(Sample) bool) bool {
	for _, s := range samples {
		if !pred(s) {
			return false
		}
	}
	return true
}

func some(samples []Sample, pred func(Sample) bool) bool {
	for _, s := range samples {
		if pred(s) {
			return true
		}
	}
	return false
}

// sequential reports whether the distinct values at pos, sorted, step by
// at most 2. A single distinct value is not a sequence.
func sequential(samples []Sample, pos func(Sample) int) bool {
	vals := make([]int, 0, len(samples))
	for _, s := range samples {
		vals = append(vals, pos(s))
	}
	slices.Sort(vals)
	vals = slices.Compact(vals)
	if len(vals) < 2 {
		return false
	}
	for i := 1; i < len(vals); i++ {
		if vals[i]-vals[i-1] > 2 {
			return false
		}
	}
	return true
}

var tokenPattern = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})(?:[-/.](\d{4}|\d{2}))?$`)

// SampleFromToken extracts the numeric pair of a D/M or D/M/Y shaped token.
// Non-string values and other shapes yield ok=false.
func SampleFromToken(v any) (Sample, bool) {
	s, ok := v.(string)
	if !ok {
		return Sample{}, false
	}
	m := tokenPattern.FindStringSubmatch(FoldDigits(strings.TrimSpace(s)))
	if m == nil {
		return Sample{}, false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	return Sample{First: a, Second: b}, true
}

// CollectSamples extracts a Sample from every token that has one.
func CollectSamples(tokens []any) []Sample {
	var out []Sample
	for _, t := range tokens {
		if s, ok := SampleFromToken(t); ok {
			out = append(out, s)
		}
	}
	return out
}
