package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "National_Number", want: "national number"},
		{in: "  full--name   (ar) ", want: "full name ar"},
		{in: "HbA1c (%)", want: "hba1c %"},
		{in: "name(ar)", want: "namear"},
		{in: "(x)(y)", want: "xy"},
		{in: "Is_Diabetic", want: "is diabetic"},
		{in: "ＩＤ", want: "id"},
		{in: "رقم الهوية", want: "رقم الهوية"},
		{in: "", want: ""},
		{in: "___", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"National_Number", " a - b _ c ", "(x)(y)", "a(_)b", "name(ar)", "Last Visit Date", "ＦＵＬＬ　ＮＡＭＥ", "تاريخ_الزيارة", "a\t\tb",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "exact after normalize", a: "National_Number", b: "national number", want: 1.0},
		{name: "contains", a: "full_name_ar", b: "full name", want: 0.8},
		{name: "contained", a: "name", b: "patient name", want: 0.8},
		{name: "word overlap", a: "visit last", b: "last visit date", want: 0.6 * 2 / 3},
		{name: "partial word", a: "diabetic status", b: "isdiabetic", want: 0.6 * 1 / 2},
		{name: "no overlap", a: "phone", b: "gender", want: 0},
		{name: "empty a", a: "", b: "name", want: 0},
		{name: "empty b", a: "name", b: "  ", want: 0},
		{name: "both normalize to empty", a: "()", b: "__", want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilarity_SelfIsOne(t *testing.T) {
	for _, s := range []string{"a", "National ID", "رقم الهوية", "x_y-z"} {
		assert.Equal(t, 1.0, Similarity(s, s), s)
	}
}

func TestSimilarity_SymmetricForExactAndContains(t *testing.T) {
	pairs := [][2]string{
		{"National_Number", "national number"},
		{"full_name_ar", "full name"},
		{"dm", "has dm flag"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestSimilarity_Range(t *testing.T) {
	inputs := []string{"", "a", "a b c", "national id", "id national number", "x"}
	for _, a := range inputs {
		for _, b := range inputs {
			s := Similarity(a, b)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}
