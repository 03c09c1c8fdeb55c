package core

// validation.go checks canonical records before they are written.
//
// A record is valid when every required field of the destination table and
// every natural key column holds a value after transformation. Empty cells
// and values the transformer rejected count as missing.

import (
	"fmt"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field key
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %q", e.Message, e.Field)
	}
	return e.Message
}

const msgMissingRequired = "missing required field"

// validate returns the first required field the record lacks.
func (p *rowPlan) validate(rec *record) error {
	if errs := p.validateAll(rec); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// validateAll returns every required field the record lacks, required
// fields first, then natural key columns not already reported.
func (p *rowPlan) validateAll(rec *record) []ValidationError {
	var errs []ValidationError
	reported := make(map[string]bool)

	for _, d := range p.required {
		if _, ok := rec.main[d.Key]; !ok {
			errs = append(errs, ValidationError{Field: d.Key, Message: msgMissingRequired})
			reported[d.Key] = true
		}
	}
	for _, k := range p.def.Info.NaturalKey {
		if _, ok := rec.main[k]; !ok && !reported[k] {
			errs = append(errs, ValidationError{Field: k, Message: msgMissingRequired})
		}
	}
	return errs
}
