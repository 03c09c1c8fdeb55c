package tables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/store"
)

func TestBuiltinFieldsValid(t *testing.T) {
	for _, def := range Fields() {
		assert.NoError(t, def.Validate(), def.Key)
	}

	reg := NewRegistry()
	assert.Equal(t, []string{Patients, Eligibility, Schedules}, reg.Tables())
	assert.Equal(t, 3, NewCatalog().TableCount())
}

func TestPatientTableRequiredFields(t *testing.T) {
	var required []string
	for _, def := range NewRegistry().FieldsFor(Patients) {
		if def.Required {
			required = append(required, def.Key)
		}
	}
	assert.Equal(t, []string{"national_id", "name"}, required)
}

func TestPatientHeadersMap(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"national_number", "national_id"},
		{"full_name_ar", "name"},
		{"IsDiabetic", "has_dm"},
		{"Date of Birth", "birth_date"},
		{"HbA1c", "hba1c"},
		{"Systolic BP", "systolic_bp"},
		{"رقم الهوية", "national_id"},
		{"الجنس", "gender"},
		{"التدخين", "is_smoker"},
		{"Medications", "medications"},
		{"Next Appointment", "next_appointment"},
	}
	defs := NewRegistry().FieldsFor(Patients)
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			m := mapping.MapColumns([]string{tt.header}, defs)
			require.Len(t, m, 1)
			assert.Equal(t, tt.want, m[0].FieldKey)
		})
	}
}

func TestNormalizeNationalID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1001", "1001"},
		{" 10-01 ", "1001"},
		{"١٠٠١", "1001"},
		{"2 345 678", "2345678"},
		{"a12.3", "A123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeNationalID(tt.in), tt.in)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0501234567", "0501234567"},
		{"050 123 4567", "0501234567"},
		{"+966 50-123-4567", "+966501234567"},
		{"00966501234567", "+966501234567"},
		{"٠٥٠١٢٣٤٥٦٧", "0501234567"},
		{"n/a", "n/a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), tt.in)
	}
}

func services(rows []store.Row) []string {
	var ids []string
	for _, r := range rows {
		ids = append(ids, r["service_id"].(string))
	}
	return ids
}

func TestDeriveEligibility(t *testing.T) {
	now := time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		patient store.Row
		want    []string
	}{
		{
			name:    "young healthy male",
			patient: store.Row{"national_id": "1", "age": 25.0, "gender": "Male"},
			want:    nil,
		},
		{
			name:    "diabetic woman of 50",
			patient: store.Row{"national_id": "2", "age": 50.0, "gender": "Female", "has_dm": true},
			want: []string{
				"diabetes_screening", "hba1c_monitoring", "diabetic_eye_exam", "diabetic_foot_exam",
				"lipid_profile", "kidney_function", "colorectal_screening", "breast_cancer_screening",
				"influenza_vaccine",
			},
		},
		{
			name:    "sqlite integer flags",
			patient: store.Row{"national_id": "3", "age": int64(30), "has_htn": int64(1), "is_smoker": int64(0)},
			want:    []string{"bp_monitoring", "lipid_profile", "kidney_function"},
		},
		{
			name:    "age from birth date",
			patient: store.Row{"national_id": "4", "birth_date": "1950-10-17"},
			want:    []string{"colorectal_screening", "pneumococcal_vaccine"},
		},
		{
			name:    "unknown age skips age-bound services",
			patient: store.Row{"national_id": "5", "is_smoker": true},
			want:    []string{"smoking_cessation"},
		},
		{
			name:    "no identifier",
			patient: store.Row{"age": 70.0},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := DeriveEligibility(tt.patient, now)
			assert.Equal(t, tt.want, services(rows))
			for _, r := range rows {
				assert.Equal(t, tt.patient["national_id"], r["patient_id"])
				assert.Equal(t, true, r["eligible"])
			}
		})
	}
}

func TestFlagsEmptyIsFalse(t *testing.T) {
	for _, def := range PatientFields() {
		if def.Type == fields.FieldBool {
			assert.True(t, def.EmptyIsFalse, def.Key)
		}
	}
}
