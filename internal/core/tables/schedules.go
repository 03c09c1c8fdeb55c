package tables

import (
	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/fields"
)

// Schedules is the doctor roster table.
const Schedules = core.ScheduleTable

var scheduleTables = []string{Schedules}

// ScheduleFields returns the built-in fields of doctor_schedules. Rosters
// carry dates in their headers, so shift_date is only mapped from sheets
// in row form.
func ScheduleFields() []fields.FieldDefinition {
	return []fields.FieldDefinition{
		{
			Key:         "doctor_name",
			DisplayName: "Doctor",
			Keywords:    []string{"doctor", "doctor name", "physician", "name", "الطبيب", "اسم الطبيب"},
			Required:    true,
			Type:        fields.FieldText,
			Tables:      scheduleTables,
		},
		{
			Key:         "shift_date",
			DisplayName: "Shift Date",
			Keywords:    []string{"shift date", "date", "التاريخ"},
			Required:    true,
			Type:        fields.FieldDate,
			Tables:      scheduleTables,
		},
		{
			Key:         "shift",
			DisplayName: "Shift",
			Keywords:    []string{"shift", "الوردية", "المناوبة"},
			Type:        fields.FieldText,
			Tables:      scheduleTables,
		},
		{
			Key:         "clinic",
			DisplayName: "Clinic",
			Keywords:    []string{"clinic", "clinic name", "العيادة"},
			Type:        fields.FieldText,
			Tables:      scheduleTables,
		},
	}
}

// ScheduleTable is the doctor_schedules destination.
func ScheduleTable() core.TableDefinition {
	return core.TableDefinition{
		Info: core.TableInfo{
			Key:          Schedules,
			Label:        "Doctor Schedules",
			NaturalKey:   []string{"doctor_name", "shift_date"},
			DisplayField: "doctor_name",
		},
	}
}
