package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildSelect(t *testing.T) {
	q, args := BuildSelect("patients", Filter{"national_id": "1001"}, Dollar, 1)
	assert.Equal(t, `SELECT * FROM "patients" WHERE "national_id" = $1 LIMIT 1`, q)
	assert.Equal(t, []any{"1001"}, args)

	q, args = BuildSelect("preventive_eligibility", Filter{"service_id": "flu", "patient_id": "1001"}, Question, 0)
	assert.Equal(t, `SELECT * FROM "preventive_eligibility" WHERE "patient_id" = ? AND "service_id" = ?`, q)
	assert.Equal(t, []any{"1001", "flu"}, args)
}

func TestBuildWhere_NullAndNumbering(t *testing.T) {
	q, args := BuildWhere(Filter{"a": nil, "b": 1, "c": "x"}, Dollar, 3)
	assert.Equal(t, ` WHERE "a" IS NULL AND "b" = $3 AND "c" = $4`, q)
	assert.Equal(t, []any{1, "x"}, args)

	q, args = BuildWhere(nil, Dollar, 1)
	assert.Empty(t, q)
	assert.Nil(t, args)
}

func TestBuildDelete(t *testing.T) {
	q, args := BuildDelete("patient_medications", Filter{"patient_id": "1001"}, Dollar)
	assert.Equal(t, `DELETE FROM "patient_medications" WHERE "patient_id" = $1`, q)
	assert.Equal(t, []any{"1001"}, args)
}

func TestBuildInsert(t *testing.T) {
	row := Row{"national_id": "1001", "name": "Ali", "has_dm": true}

	q, args := BuildInsert("patients", row, nil, Dollar)
	assert.Equal(t, `INSERT INTO "patients" ("has_dm", "name", "national_id") VALUES ($1, $2, $3)`, q)
	assert.Equal(t, []any{true, "Ali", "1001"}, args)

	q, _ = BuildInsert("patients", row, []string{"national_id"}, Question)
	assert.Equal(t, `INSERT INTO "patients" ("has_dm", "name", "national_id") VALUES (?, ?, ?)`+
		` ON CONFLICT ("national_id") DO UPDATE SET "has_dm" = excluded."has_dm", "name" = excluded."name"`, q)

	q, _ = BuildInsert("t", Row{"k": 1}, []string{"k"}, Dollar)
	assert.Equal(t, `INSERT INTO "t" ("k") VALUES ($1) ON CONFLICT ("k") DO NOTHING`, q)
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"patients", `"patients"`},
		{`we"ird`, `"we""ird"`},
		{"", `""`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuoteIdentifier(tt.in))
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1001.0, "1001"))
	assert.True(t, Equal(int64(3), 3))
	assert.True(t, Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), "2026-12-01"))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, ""))
	assert.False(t, Equal("a", "b"))
}

func TestKeyOf(t *testing.T) {
	key, ok := KeyOf(Row{"patient_id": "1001", "service_id": "flu"}, []string{"patient_id", "service_id"})
	assert.True(t, ok)
	assert.Equal(t, "1001|flu", key)

	_, ok = KeyOf(Row{"patient_id": "1001"}, []string{"patient_id", "service_id"})
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("t", []Row{{"k": 1}}, []string{"k"}))
	assert.ErrorIs(t, Validate("", nil, nil), ErrUnknownTable)
	assert.Error(t, Validate("t", []Row{{}}, nil))
	assert.Error(t, Validate("t", []Row{{"a": 1}}, []string{"k"}))
}
