package tables

import (
	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/fields"
)

// Table keys.
const (
	Patients    = "patients"
	Medications = "patient_medications"
)

var patientTables = []string{Patients}

var levelOptions = fields.OptionSet{
	{Label: "high", Accepted: []string{"h", "عالي", "مرتفع"}},
	{Label: "moderate", Accepted: []string{"medium", "mod", "متوسط"}},
	{Label: "low", Accepted: []string{"l", "منخفض"}},
}

func flag(key, display string, keywords ...string) fields.FieldDefinition {
	return fields.FieldDefinition{
		Key:          key,
		DisplayName:  display,
		Keywords:     append([]string{key}, keywords...),
		Type:         fields.FieldBool,
		Tables:       patientTables,
		EmptyIsFalse: true,
	}
}

func patientField(key, display string, typ fields.FieldType, keywords ...string) fields.FieldDefinition {
	return fields.FieldDefinition{
		Key:         key,
		DisplayName: display,
		Keywords:    keywords,
		Type:        typ,
		Tables:      patientTables,
	}
}

// PatientFields returns the built-in fields of the patients table.
func PatientFields() []fields.FieldDefinition {
	nationalID := patientField("national_id", "National ID", fields.FieldText,
		"national id", "national_id", "national number", "id number", "identity number",
		"civil id", "iqama", "رقم الهوية", "الهوية الوطنية", "السجل المدني")
	nationalID.Required = true
	nationalID.Normalizer = NormalizeNationalID

	name := patientField("name", "Name", fields.FieldText,
		"name", "full name", "patient name", "full_name_ar", "full_name_en", "الاسم", "اسم المريض")
	name.Required = true

	phone := patientField("phone", "Phone", fields.FieldText,
		"phone", "mobile", "phone number", "mobile number", "رقم الجوال", "الجوال", "الهاتف")
	phone.Normalizer = NormalizePhone

	gender := patientField("gender", "Gender", fields.FieldEnum, "gender", "sex", "الجنس")
	gender.Options = fields.OptionSet{
		{Label: "Male", Accepted: []string{"m", "ذكر"}},
		{Label: "Female", Accepted: []string{"f", "أنثى", "انثى"}},
	}

	burden := patientField("burden", "Disease Burden", fields.FieldEnum,
		"burden", "disease burden", "risk level", "العبء المرضي")
	burden.Options = levelOptions
	burden.Fallback = fields.FallbackNull

	status := patientField("status", "Status", fields.FieldEnum, "status", "visit status", "الحالة")
	status.Options = fields.OptionSet{
		{Label: "pending", Accepted: []string{"new", "waiting", "قيد الانتظار", "انتظار"}},
		{Label: "scheduled", Accepted: []string{"booked", "مجدول"}},
		{Label: "completed", Accepted: []string{"done", "مكتمل"}},
		{Label: "cancelled", Accepted: []string{"canceled", "ملغي"}},
	}
	status.Fallback = fields.FallbackDefault
	status.Default = "pending"

	priority := patientField("priority", "Priority", fields.FieldEnum, "priority", "urgency", "الأولوية")
	priority.Options = fields.OptionSet{
		{Label: "high", Accepted: []string{"urgent", "عاجل", "عالي"}},
		{Label: "medium", Accepted: []string{"normal", "moderate", "متوسط"}},
		{Label: "low", Accepted: []string{"منخفض"}},
	}
	priority.Fallback = fields.FallbackDefault
	priority.Default = "medium"

	return []fields.FieldDefinition{
		nationalID,
		name,
		patientField("age", "Age", fields.FieldNumeric, "age", "patient age", "العمر", "السن"),
		gender,
		phone,
		patientField("birth_date", "Birth Date", fields.FieldDate,
			"birth date", "date of birth", "birthdate", "dob", "تاريخ الميلاد"),

		flag("has_dm", "Diabetes", "isdiabetic", "diabetic", "diabetes", "diabetes mellitus", "السكري", "سكري"),
		flag("has_htn", "Hypertension", "ishypertensive", "hypertension", "hypertensive", "htn", "ارتفاع ضغط الدم"),
		flag("has_dyslipidemia", "Dyslipidemia", "isdyslipidemic", "dyslipidemia", "hyperlipidemia", "اضطراب الدهون"),
		flag("has_ckd", "Chronic Kidney Disease", "ckd", "chronic kidney disease", "kidney disease", "أمراض الكلى"),
		flag("has_asthma", "Asthma", "isasthmatic", "asthma", "الربو"),
		flag("is_smoker", "Smoker", "issmoker", "smoker", "smoking", "مدخن", "التدخين"),

		patientField("hba1c", "HbA1c", fields.FieldNumeric, "hba1c", "a1c", "glycated hemoglobin", "السكر التراكمي"),
		patientField("ldl", "LDL", fields.FieldNumeric, "ldl", "ldl cholesterol"),
		patientField("systolic_bp", "Systolic BP", fields.FieldNumeric,
			"systolic", "systolic bp", "sbp", "الضغط الانقباضي"),
		patientField("diastolic_bp", "Diastolic BP", fields.FieldNumeric,
			"diastolic", "diastolic bp", "dbp", "الضغط الانبساطي"),
		patientField("egfr", "eGFR", fields.FieldNumeric, "egfr", "gfr", "kidney function"),
		patientField("bmi", "BMI", fields.FieldNumeric, "bmi", "body mass index", "مؤشر كتلة الجسم"),

		burden,
		status,
		priority,
		patientField("last_visit", "Last Visit", fields.FieldDate,
			"last visit", "last visit date", "آخر زيارة", "تاريخ آخر زيارة"),
		patientField("next_appointment", "Next Appointment", fields.FieldDate,
			"next appointment", "appointment", "appointment date", "الموعد القادم"),
		patientField("assigned_doctor", "Assigned Doctor", fields.FieldText,
			"assigned doctor", "doctor", "doctor name", "physician", "الطبيب المعالج"),
		patientField("medications", "Medications", fields.FieldText,
			"medications", "medication", "medication list", "medication names", "drugs", "الأدوية"),
	}
}

// PatientTable is the patients destination. Medications are replaced per
// patient, eligibility columns on the same sheet fill linked rows.
func PatientTable() core.TableDefinition {
	return core.TableDefinition{
		Info: core.TableInfo{
			Key:          Patients,
			Label:        "Patients",
			NaturalKey:   []string{"national_id"},
			DisplayField: "name",
		},
		Children: []core.ChildCollection{{
			Field:          "medications",
			Table:          Medications,
			ParentColumn:   "patient_id",
			ParentKey:      "national_id",
			ValueColumn:    "medication_name",
			PositionColumn: "position",
			Separators:     []string{";", "؛", "\n"},
		}},
		Links: []core.Link{{
			Table:      Eligibility,
			NaturalKey: []string{"patient_id", "service_id"},
			From:       map[string]string{"patient_id": "national_id"},
		}},
		Derived: []core.Derivation{{
			Table:       Eligibility,
			ConflictKey: []string{"patient_id", "service_id"},
			Rows:        DeriveEligibility,
		}},
	}
}
