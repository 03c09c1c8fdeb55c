package fields

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// customFile is the on-disk layout of a custom field file.
type customFile struct {
	Fields []customEntry `yaml:"fields"`
}

type customEntry struct {
	Key         string    `yaml:"key"`
	DisplayName string    `yaml:"display_name"`
	Keywords    []string  `yaml:"keywords"`
	Required    bool      `yaml:"required"`
	Type        string    `yaml:"type"`
	Tables      []string  `yaml:"tables"`
	Options     OptionSet `yaml:"options"`
	Fallback    string    `yaml:"fallback"`
	Default     string    `yaml:"default"`
	Truthy      []string  `yaml:"truthy"`
}

// ParseCustom decodes custom field definitions from YAML.
//
//	fields:
//	  - key: insurance
//	    display_name: Insurance provider
//	    keywords: [insurance, insurer]
//	    type: enum
//	    tables: [patients]
//	    options:
//	      - label: Government
//	        accepted: [gov, public]
func ParseCustom(r io.Reader) ([]FieldDefinition, error) {
	var file customFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode custom fields: %w", err)
	}

	defs := make([]FieldDefinition, 0, len(file.Fields))
	for i, e := range file.Fields {
		ft, err := ParseFieldType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("custom field %d (%s): %w", i, e.Key, err)
		}
		fb, err := ParseFallback(e.Fallback)
		if err != nil {
			return nil, fmt.Errorf("custom field %d (%s): %w", i, e.Key, err)
		}
		def := FieldDefinition{
			Key:         strings.TrimSpace(e.Key),
			DisplayName: e.DisplayName,
			Keywords:    e.Keywords,
			Required:    e.Required,
			Type:        ft,
			Tables:      e.Tables,
			Options:     e.Options,
			Fallback:    fb,
			Default:     e.Default,
			Truthy:      e.Truthy,
			IsCustom:    true,
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadCustomFile reads a custom field file and registers every entry.
// Returns the number of fields registered.
func LoadCustomFile(r *Registry, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open custom fields: %w", err)
	}
	defer f.Close()

	defs, err := ParseCustom(f)
	if err != nil {
		return 0, err
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return 0, fmt.Errorf("register %s: %w", def.Key, err)
		}
	}
	return len(defs), nil
}

// ParseFallback accepts "passthrough", "null" and "default".
func ParseFallback(s string) (EnumFallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "passthrough", "pass_through", "keep":
		return FallbackPassThrough, nil
	case "null", "none":
		return FallbackNull, nil
	case "default":
		return FallbackDefault, nil
	default:
		return FallbackPassThrough, fmt.Errorf("unknown enum fallback %q", s)
	}
}
