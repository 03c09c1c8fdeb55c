package mapping

import (
	"fmt"

	"github.com/clinicops/intake/internal/fields"
)

// Confidence is a coarse bucket of a match score, shown to operators.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Score thresholds for each confidence tier. Scores below MinScore never map.
const (
	HighScore   = 0.8
	MediumScore = 0.5
	MinScore    = 0.3
)

// ConfidenceFor maps a similarity score to its tier.
func ConfidenceFor(score float64) Confidence {
	switch {
	case score >= HighScore:
		return ConfidenceHigh
	case score >= MediumScore:
		return ConfidenceMedium
	case score >= MinScore:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ColumnMapping assigns at most one field to a source column.
// An empty FieldKey means the column is not imported.
type ColumnMapping struct {
	SourceColumn string     `json:"sourceColumn"`
	Index        int        `json:"index"`
	FieldKey     string     `json:"fieldKey,omitempty"`
	Confidence   Confidence `json:"confidence"`
	Score        float64    `json:"score"`

	// Shadowed names the field this column lost to an earlier column.
	Shadowed string `json:"shadowed,omitempty"`
	// Manual is set when an operator chose the field.
	Manual bool `json:"manual,omitempty"`
}

// Mapped reports whether the column has a field.
func (m ColumnMapping) Mapped() bool {
	return m.FieldKey != ""
}

// FieldSource supplies the candidate fields for a table.
// *fields.Registry satisfies it.
type FieldSource interface {
	FieldsFor(table string) []fields.FieldDefinition
}

// Mapper maps columns against the live contents of a FieldSource.
type Mapper struct {
	source FieldSource
}

// NewMapper creates a Mapper reading fields from source on every call.
func NewMapper(source FieldSource) *Mapper {
	return &Mapper{source: source}
}

// Map maps columns against the fields of table. Use fields.AllTables for
// the cross-table view.
func (m *Mapper) Map(columns []string, table string) []ColumnMapping {
	return MapColumns(columns, m.source.FieldsFor(table))
}

// MapColumns picks the best field for each column. Columns are processed
// left to right and the first column to claim a field keeps it; a later
// column whose best candidate is already claimed is left unmapped with
// ConfidenceNone.
func MapColumns(columns []string, defs []fields.FieldDefinition) []ColumnMapping {
	out := make([]ColumnMapping, 0, len(columns))
	claimed := make(map[string]bool)

	for i, col := range columns {
		key, score := bestField(col, defs)
		m := ColumnMapping{
			SourceColumn: col,
			Index:        i,
			Score:        score,
			Confidence:   ConfidenceFor(score),
		}
		switch {
		case key == "" || score < MinScore:
			m.Confidence = ConfidenceNone
		case claimed[key]:
			m.Confidence = ConfidenceNone
			m.Shadowed = key
		default:
			m.FieldKey = key
			claimed[key] = true
		}
		out = append(out, m)
	}
	return out
}

// bestField returns the field with the highest keyword score for col.
// Ties go to the field listed first.
func bestField(col string, defs []fields.FieldDefinition) (string, float64) {
	bestKey := ""
	bestScore := 0.0
	for _, def := range defs {
		for _, kw := range def.MatchTerms() {
			if s := Similarity(col, kw); s > bestScore {
				bestKey, bestScore = def.Key, s
			}
		}
	}
	return bestKey, bestScore
}

// Override assigns fieldKey to the column at index, or unmaps it when
// fieldKey is empty. If another column holds fieldKey it is unmapped so
// every field stays claimed at most once.
func Override(mappings []ColumnMapping, index int, fieldKey string, defs []fields.FieldDefinition) ([]ColumnMapping, error) {
	if index < 0 || index >= len(mappings) {
		return nil, fmt.Errorf("column index %d out of range", index)
	}
	if fieldKey != "" && !hasField(defs, fieldKey) {
		return nil, fmt.Errorf("unknown field %q", fieldKey)
	}

	out := make([]ColumnMapping, len(mappings))
	copy(out, mappings)

	if fieldKey != "" {
		for i := range out {
			if i != index && out[i].FieldKey == fieldKey {
				out[i].FieldKey = ""
				out[i].Confidence = ConfidenceNone
				out[i].Shadowed = fieldKey
			}
		}
	}

	out[index].FieldKey = fieldKey
	out[index].Manual = true
	out[index].Shadowed = ""
	if fieldKey == "" {
		out[index].Confidence = ConfidenceNone
	} else {
		out[index].Confidence = ConfidenceHigh
	}
	return out, nil
}

// Unmapped returns the source columns that will not be imported.
func Unmapped(mappings []ColumnMapping) []string {
	var cols []string
	for _, m := range mappings {
		if !m.Mapped() {
			cols = append(cols, m.SourceColumn)
		}
	}
	return cols
}

func hasField(defs []fields.FieldDefinition, key string) bool {
	for _, d := range defs {
		if d.Key == key {
			return true
		}
	}
	return false
}
