package transform

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/fields"
)

var (
	diseaseFlag  = fields.FieldDefinition{Key: "has_dm", Type: fields.FieldBool, EmptyIsFalse: true, Tables: []string{"patients"}}
	eligibleFlag = fields.FieldDefinition{Key: "eligible", Type: fields.FieldBool, EmptyIsFalse: true, Tables: []string{"preventive_eligibility"}}
	customFlag   = fields.FieldDefinition{Key: "consented", Type: fields.FieldBool, Tables: []string{"patients"}, IsCustom: true}
	labValue     = fields.FieldDefinition{Key: "hba1c", Type: fields.FieldNumeric, Tables: []string{"patients"}}
	visitDate    = fields.FieldDefinition{Key: "last_visit", Type: fields.FieldDate, Tables: []string{"patients"}}
	nameField    = fields.FieldDefinition{Key: "name", Type: fields.FieldText, Tables: []string{"patients"}}

	burden = fields.FieldDefinition{
		Key: "burden", Type: fields.FieldEnum, Tables: []string{"patients"}, Fallback: fields.FallbackNull,
		Options: fields.OptionSet{
			{Label: "high", Accepted: []string{"high", "h", "severe", "مرتفع"}},
			{Label: "moderate", Accepted: []string{"moderate", "medium", "m", "متوسط"}},
			{Label: "low", Accepted: []string{"low", "l", "mild", "منخفض"}},
		},
	}
	status = fields.FieldDefinition{
		Key: "status", Type: fields.FieldEnum, Tables: []string{"patients"}, Fallback: fields.FallbackDefault, Default: "pending",
		Options: fields.OptionSet{
			{Label: "pending"}, {Label: "scheduled"}, {Label: "completed", Accepted: []string{"done"}}, {Label: "cancelled"},
		},
	}
	gender = fields.FieldDefinition{
		Key: "gender", Type: fields.FieldEnum, Tables: []string{"patients"},
		Options: fields.OptionSet{
			{Label: "Male", Accepted: []string{"m", "male", "ذكر"}},
			{Label: "Female", Accepted: []string{"f", "female", "أنثى", "انثى"}},
		},
	}
)

func newTestTransformer() *Transformer {
	now := func() time.Time { return time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC) }
	return New(dates.NewResolver(dates.DayFirst, now, nil), nil)
}

func TestTransform_EmptyIsNull(t *testing.T) {
	tr := newTestTransformer()
	for _, def := range []fields.FieldDefinition{customFlag, labValue, visitDate, nameField, burden, status, gender} {
		for _, raw := range []any{nil, "", "   "} {
			assert.Nil(t, tr.Transform(raw, def), "%s %q", def.Key, raw)
		}
	}
}

func TestTransform_DiseaseFlag(t *testing.T) {
	tr := newTestTransformer()
	tests := []struct {
		raw  any
		want bool
	}{
		{"نعم", true},
		{"Yes", true},
		{" TRUE ", true},
		{"1", true},
		{"١", true},
		{"unknown", true},
		{1.0, true},
		{true, true},
		{"no", false},
		{"", false},
		{nil, false},
		{"maybe", false},
		{"0", false},
		{0.0, false},
		{"y", false},
	}
	for _, tt := range tests {
		got := tr.Transform(tt.raw, diseaseFlag)
		assert.Equal(t, tt.want, got, "%v", tt.raw)
	}
}

func TestTransform_EligibilityFlag(t *testing.T) {
	tr := newTestTransformer()
	tests := []struct {
		raw  any
		want bool
	}{
		{"yes", true},
		{"مؤهل", false},
		{"no", false},
		{"", false},
		{"   ", false},
		{nil, false},
	}
	for _, tt := range tests {
		got := tr.Transform(tt.raw, eligibleFlag)
		assert.Equal(t, tt.want, got, "%v", tt.raw)
	}
}

func TestTransform_CustomTruthySet(t *testing.T) {
	tr := newTestTransformer()
	def := customFlag
	def.Truthy = []string{"x", "✓"}

	assert.Equal(t, true, tr.Transform("X", def))
	assert.Equal(t, true, tr.Transform("✓", def))
	assert.Equal(t, false, tr.Transform("yes", def))
}

func TestTransform_Number(t *testing.T) {
	tr := newTestTransformer()
	tests := []struct {
		raw  any
		want any
	}{
		{"7.2", 7.2},
		{7.2, 7.2},
		{42, 42.0},
		{"1,234.50", 1234.5},
		{"$99", 99.0},
		{"(12.5)", -12.5},
		{"85%", 85.0},
		{"٧٫٥", 7.5},
		{"1e3", 1000.0},
		{"=\"15\"", 15.0},
		{"abc", nil},
		{"7.2 mg", nil},
		{math.NaN(), nil},
		{math.Inf(1), nil},
		{true, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.Transform(tt.raw, labValue), "%v", tt.raw)
	}
}

func TestTransform_Date(t *testing.T) {
	tr := newTestTransformer()
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		raw  any
		want any
	}{
		{name: "serial", raw: 46311.0, want: dates.FromSerial(46311)},
		{name: "serial with time", raw: 46311.4, want: dates.FromSerial(46311)},
		{name: "time truncated", raw: time.Date(2026, 2, 3, 17, 45, 0, 0, time.UTC), want: day(2026, time.February, 3)},
		{name: "iso", raw: "2025-06-30", want: day(2025, time.June, 30)},
		{name: "day first triple", raw: "30/06/2025", want: day(2025, time.June, 30)},
		{name: "garbage", raw: "next tuesday", want: nil},
		{name: "impossible", raw: "31/02/2025", want: nil},
		{name: "bool", raw: false, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Transform(tt.raw, visitDate))
		})
	}
}

func TestTransform_SerialRoundTrip(t *testing.T) {
	tr := newTestTransformer()
	for _, s := range []int{2, 367, 36526, 45292, 46311} {
		got := tr.Transform(float64(s), visitDate)
		assert.Equal(t, dates.Epoch.AddDate(0, 0, s), got, "serial %d", s)
	}
}

func TestTransform_Enum(t *testing.T) {
	tr := newTestTransformer()
	tests := []struct {
		name string
		def  fields.FieldDefinition
		raw  any
		want any
	}{
		{name: "burden match", def: burden, raw: "Severe", want: "high"},
		{name: "burden arabic", def: burden, raw: "متوسط", want: "moderate"},
		{name: "burden unknown is null", def: burden, raw: "extreme", want: nil},
		{name: "status match", def: status, raw: "DONE", want: "completed"},
		{name: "status unknown is default", def: status, raw: "archived", want: "pending"},
		{name: "gender match", def: gender, raw: "f", want: "Female"},
		{name: "gender arabic", def: gender, raw: "ذكر", want: "Male"},
		{name: "gender unknown passes through", def: gender, raw: " other ", want: "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Transform(tt.raw, tt.def))
		})
	}
}

func TestTransform_CustomEnumKeepsUnknown(t *testing.T) {
	tr := newTestTransformer()
	def := fields.FieldDefinition{
		Key: "insurance", Type: fields.FieldEnum, IsCustom: true, Tables: []string{"patients"},
		Options: fields.OptionSet{{Label: "Government", Accepted: []string{"gov"}}},
	}
	assert.Equal(t, "Government", tr.Transform("GOV", def))
	assert.Equal(t, "Bupa", tr.Transform("Bupa", def))
}

func TestTransform_Text(t *testing.T) {
	tr := newTestTransformer()
	tests := []struct {
		raw  any
		want any
	}{
		{"  Ali  ", "Ali"},
		{"=\"00123\"", "00123"},
		{"\uFEFFAli", "Ali"},
		{1001.0, "1001"},
		{12.5, "12.5"},
		{int64(7), "7"},
		{time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "2026-01-02"},
		{"\"\"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.Transform(tt.raw, nameField), "%v", tt.raw)
	}
}

func TestTransform_TextNormalizer(t *testing.T) {
	tr := newTestTransformer()
	def := fields.FieldDefinition{Key: "national_id", Type: fields.FieldText, Normalizer: strings.ToUpper}

	assert.Equal(t, "AB12", tr.Transform(" ab12 ", def))
	assert.Nil(t, tr.Transform("", def))
}
