// Package tables defines the built-in destination tables of the clinic
// store and the fields spreadsheets are mapped onto.
package tables

import (
	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/fields"
)

// Fields returns every built-in field definition.
func Fields() []fields.FieldDefinition {
	var defs []fields.FieldDefinition
	defs = append(defs, PatientFields()...)
	defs = append(defs, EligibilityFields()...)
	defs = append(defs, ScheduleFields()...)
	return defs
}

// Definitions returns every built-in table definition.
func Definitions() []core.TableDefinition {
	return []core.TableDefinition{
		PatientTable(),
		EligibilityTable(),
		ScheduleTable(),
	}
}

// NewRegistry creates a field registry over the built-in fields.
func NewRegistry() *fields.Registry {
	return fields.NewRegistry(Fields())
}

// NewCatalog creates a catalog of the built-in tables.
func NewCatalog() *core.Catalog {
	return core.NewCatalog(Definitions()...)
}
