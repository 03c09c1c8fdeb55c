package tables

import (
	"strings"
	"time"

	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/transform"
)

// Eligibility is the preventive-care eligibility table.
const Eligibility = "preventive_eligibility"

var eligibilityTables = []string{Eligibility}

// EligibilityFields returns the built-in fields of preventive_eligibility.
func EligibilityFields() []fields.FieldDefinition {
	status := fields.FieldDefinition{
		Key:         "eligibility_status",
		DisplayName: "Eligibility Status",
		Keywords:    []string{"eligibility status", "screening status", "حالة الأهلية"},
		Type:        fields.FieldEnum,
		Tables:      eligibilityTables,
		Options: fields.OptionSet{
			{Label: "pending", Accepted: []string{"new", "انتظار"}},
			{Label: "due", Accepted: []string{"overdue", "مستحق"}},
			{Label: "done", Accepted: []string{"completed", "مكتمل"}},
			{Label: "declined", Accepted: []string{"refused", "رفض"}},
		},
		Fallback: fields.FallbackDefault,
		Default:  "pending",
	}

	return []fields.FieldDefinition{
		{
			Key:         "patient_id",
			DisplayName: "Patient ID",
			Keywords:    []string{"patient id", "patient_id", "national id", "رقم الهوية"},
			Required:    true,
			Type:        fields.FieldText,
			Tables:      eligibilityTables,
			Normalizer:  NormalizeNationalID,
		},
		{
			Key:         "service_id",
			DisplayName: "Service",
			Keywords:    []string{"service id", "service_id", "service", "preventive service", "الخدمة"},
			Required:    true,
			Type:        fields.FieldText,
			Tables:      eligibilityTables,
		},
		{
			Key:          "eligible",
			DisplayName:  "Eligible",
			Keywords:     []string{"eligible", "is eligible", "مؤهل"},
			Type:         fields.FieldBool,
			EmptyIsFalse: true,
			Tables:       eligibilityTables,
		},
		status,
		{
			Key:         "due_date",
			DisplayName: "Due Date",
			Keywords:    []string{"due date", "تاريخ الاستحقاق"},
			Type:        fields.FieldDate,
			Tables:      eligibilityTables,
		},
		{
			Key:         "last_done",
			DisplayName: "Last Done",
			Keywords:    []string{"last done", "last screening", "date done", "آخر فحص"},
			Type:        fields.FieldDate,
			Tables:      eligibilityTables,
		},
		{
			Key:         "notes",
			DisplayName: "Notes",
			Keywords:    []string{"notes", "note", "remarks", "ملاحظات"},
			Type:        fields.FieldText,
			Tables:      eligibilityTables,
		},
	}
}

// EligibilityTable is the preventive_eligibility destination.
func EligibilityTable() core.TableDefinition {
	return core.TableDefinition{
		Info: core.TableInfo{
			Key:          Eligibility,
			Label:        "Preventive Eligibility",
			NaturalKey:   []string{"patient_id", "service_id"},
			DisplayField: "service_id",
		},
	}
}

// PreventiveService is one entry of the preventive-care catalogue. A patient
// qualifies when every set criterion holds: age within [MinAge, MaxAge]
// (zero bounds are open), matching Gender, and at least one of AnyFlag.
type PreventiveService struct {
	ID      string
	Name    string
	MinAge  float64
	MaxAge  float64
	Gender  string
	AnyFlag []string
}

// PreventiveServices is the static catalogue eligibility is derived from.
var PreventiveServices = []PreventiveService{
	{ID: "diabetes_screening", Name: "Diabetes screening", MinAge: 35, MaxAge: 70},
	{ID: "hba1c_monitoring", Name: "HbA1c monitoring", AnyFlag: []string{"has_dm"}},
	{ID: "diabetic_eye_exam", Name: "Diabetic eye exam", AnyFlag: []string{"has_dm"}},
	{ID: "diabetic_foot_exam", Name: "Diabetic foot exam", AnyFlag: []string{"has_dm"}},
	{ID: "bp_monitoring", Name: "Blood pressure monitoring", AnyFlag: []string{"has_htn"}},
	{ID: "lipid_profile", Name: "Lipid profile", AnyFlag: []string{"has_dm", "has_htn", "has_dyslipidemia"}},
	{ID: "kidney_function", Name: "Kidney function test", AnyFlag: []string{"has_dm", "has_htn", "has_ckd"}},
	{ID: "smoking_cessation", Name: "Smoking cessation counselling", AnyFlag: []string{"is_smoker"}},
	{ID: "colorectal_screening", Name: "Colorectal cancer screening", MinAge: 45, MaxAge: 75},
	{ID: "breast_cancer_screening", Name: "Mammography", MinAge: 40, MaxAge: 74, Gender: "Female"},
	{ID: "pneumococcal_vaccine", Name: "Pneumococcal vaccine", MinAge: 65},
	{ID: "influenza_vaccine", Name: "Influenza vaccine", AnyFlag: []string{"has_dm", "has_ckd", "has_asthma"}},
}

// DeriveEligibility returns one eligible row per catalogue service the
// stored patient qualifies for. Rows carry only the key and the eligible
// flag so a re-derivation never resets a status set by staff.
func DeriveEligibility(patient store.Row, now time.Time) []store.Row {
	id, ok := patient["national_id"]
	if !ok || id == nil {
		return nil
	}
	age, hasAge := patientAge(patient, now)
	gender := transform.ToText(patient["gender"])

	var rows []store.Row
	for _, svc := range PreventiveServices {
		if !svc.matches(patient, age, hasAge, gender) {
			continue
		}
		rows = append(rows, store.Row{
			"patient_id": id,
			"service_id": svc.ID,
			"eligible":   true,
		})
	}
	return rows
}

func (p PreventiveService) matches(patient store.Row, age float64, hasAge bool, gender string) bool {
	if p.MinAge > 0 || p.MaxAge > 0 {
		if !hasAge {
			return false
		}
		if p.MinAge > 0 && age < p.MinAge {
			return false
		}
		if p.MaxAge > 0 && age > p.MaxAge {
			return false
		}
	}
	if p.Gender != "" && !strings.EqualFold(p.Gender, gender) {
		return false
	}
	if len(p.AnyFlag) == 0 {
		return true
	}
	for _, f := range p.AnyFlag {
		if truthy(patient[f]) {
			return true
		}
	}
	return false
}

// patientAge prefers the stored age and falls back to the birth date.
func patientAge(patient store.Row, now time.Time) (float64, bool) {
	if age, ok := transform.ToNumber(patient["age"]); ok {
		return age, true
	}

	var birth time.Time
	switch v := patient["birth_date"].(type) {
	case time.Time:
		birth = v
	case string:
		t, err := time.Parse(dates.ISOLayout, v)
		if err != nil {
			return 0, false
		}
		birth = t
	default:
		return 0, false
	}
	if birth.IsZero() || birth.After(now) {
		return 0, false
	}

	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	return float64(years), true
}

// truthy reads a stored flag. SQLite returns integers for booleans.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x == "1" || strings.EqualFold(x, "true")
	}
	return false
}
