// Package fields describes the destination columns an import can fill.
//
// A FieldDefinition carries everything the mapper and the transformer need:
// keywords for fuzzy header matching, the data type tag, and the per-field
// policy for boolean and enumerated values. Built-in definitions are fixed
// at startup; custom definitions are added and removed through a Registry.
package fields

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// FieldType is the data type tag of a field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
)

var fieldTypeNames = map[FieldType]string{
	FieldText:    "text",
	FieldEnum:    "enum",
	FieldDate:    "date",
	FieldNumeric: "number",
	FieldBool:    "boolean",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType accepts the names used in custom field files and API payloads.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string", "":
		return FieldText, nil
	case "enum", "select", "option":
		return FieldEnum, nil
	case "date":
		return FieldDate, nil
	case "number", "numeric":
		return FieldNumeric, nil
	case "boolean", "bool", "flag":
		return FieldBool, nil
	default:
		return FieldText, fmt.Errorf("unknown field type %q", s)
	}
}

func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *FieldType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t *FieldType) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// EnumFallback decides what an enum field stores when no option matches.
type EnumFallback int

const (
	// FallbackPassThrough keeps the trimmed raw value.
	FallbackPassThrough EnumFallback = iota
	// FallbackNull stores nothing. Used where the column has a closed-set constraint.
	FallbackNull
	// FallbackDefault stores FieldDefinition.Default.
	FallbackDefault
)

// DefaultTruthy is the closed set of tokens a boolean flag treats as true.
// Anything else, including "no" and blanks, is false.
var DefaultTruthy = []string{"yes", "نعم", "1", "true", "unknown"}

// Option is one canonical value of an enumerated field.
type Option struct {
	Label    string   `json:"label" yaml:"label"`
	Accepted []string `json:"accepted" yaml:"accepted"`
}

// OptionSet is an ordered list of options. When accepted values overlap,
// the first option wins.
type OptionSet []Option

// Match returns the canonical label for raw, comparing case-insensitively
// against every accepted value and the label itself.
func (s OptionSet) Match(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, opt := range s {
		if strings.EqualFold(opt.Label, raw) {
			return opt.Label, true
		}
		for _, v := range opt.Accepted {
			if strings.EqualFold(v, raw) {
				return opt.Label, true
			}
		}
	}
	return "", false
}

// Labels returns the canonical labels in order.
func (s OptionSet) Labels() []string {
	labels := make([]string, len(s))
	for i, opt := range s {
		labels[i] = opt.Label
	}
	return labels
}

// FieldDefinition is one target field of one or more destination tables.
type FieldDefinition struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"displayName"`
	Keywords    []string  `json:"keywords"`
	Required    bool      `json:"required"`
	Type        FieldType `json:"type"`
	Tables      []string  `json:"tables"`
	IsCustom    bool      `json:"isCustom"`

	// Enum policy.
	Options  OptionSet    `json:"options,omitempty"`
	Fallback EnumFallback `json:"-"`
	Default  string       `json:"default,omitempty"`

	// Boolean policy. Truthy overrides DefaultTruthy; EmptyIsFalse makes a
	// blank cell store false instead of nothing.
	Truthy       []string `json:"-"`
	EmptyIsFalse bool     `json:"-"`

	// Normalizer rewrites non-empty text values, e.g. identifiers.
	Normalizer func(string) string `json:"-"`
}

// AppliesTo reports whether the field belongs to table.
func (d FieldDefinition) AppliesTo(table string) bool {
	return slices.Contains(d.Tables, table)
}

// Table returns the first destination table of the field.
func (d FieldDefinition) Table() string {
	if len(d.Tables) == 0 {
		return ""
	}
	return d.Tables[0]
}

// MatchTerms returns the strings the column mapper scores against.
// Custom fields without keywords fall back to their display name and key.
func (d FieldDefinition) MatchTerms() []string {
	if len(d.Keywords) > 0 {
		return d.Keywords
	}
	terms := make([]string, 0, 2)
	if d.DisplayName != "" {
		terms = append(terms, d.DisplayName)
	}
	if d.Key != "" {
		terms = append(terms, d.Key)
	}
	return terms
}

// TruthySet returns the tokens this boolean field accepts as true.
func (d FieldDefinition) TruthySet() []string {
	if len(d.Truthy) > 0 {
		return d.Truthy
	}
	return DefaultTruthy
}

// Validate checks the structural rules of a definition.
func (d FieldDefinition) Validate() error {
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("field key is required")
	}
	if len(d.Tables) == 0 {
		return fmt.Errorf("field %q: at least one target table is required", d.Key)
	}
	if _, ok := fieldTypeNames[d.Type]; !ok {
		return fmt.Errorf("field %q: invalid type %d", d.Key, d.Type)
	}
	if !d.IsCustom && len(d.Keywords) == 0 {
		return fmt.Errorf("field %q: built-in fields need keywords", d.Key)
	}
	if d.Fallback == FallbackDefault && d.Default == "" {
		return fmt.Errorf("field %q: default fallback without a default value", d.Key)
	}
	return nil
}
