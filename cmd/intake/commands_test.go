package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/mapping"
)

func TestColumnIndex(t *testing.T) {
	columns := []mapping.ColumnMapping{
		{SourceColumn: "National Number", Index: 0},
		{SourceColumn: "Name", Index: 1},
	}

	tests := []struct {
		ref     string
		want    int
		wantErr bool
	}{
		{"1", 0, false},
		{"2", 1, false},
		{"national number", 0, false},
		{"Name", 1, false},
		{"0", 0, true},
		{"3", 0, true},
		{"Ward", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := columnIndex(columns, tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintMapping(t *testing.T) {
	var buf bytes.Buffer
	printMapping(&buf, core.SessionInfo{
		FileName:  "patients.xlsx",
		Table:     "patients",
		TotalRows: 12,
		Columns: []mapping.ColumnMapping{
			{SourceColumn: "Document", Index: 0, FieldKey: "national_id", Confidence: mapping.ConfidenceHigh, Manual: true},
			{SourceColumn: "Ward", Index: 1, Confidence: mapping.ConfidenceNone},
		},
		Missing: []string{"name"},
	})

	out := buf.String()
	assert.Contains(t, out, "patients.xlsx -> patients (12 rows)")
	assert.Contains(t, out, "national_id (manual)")
	assert.Contains(t, out, "Required fields not mapped: name")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &core.ImportResult{
		Inserted: 2,
		Failed:   1,
		Rows: []core.RowResult{
			{Line: 2, Identifier: "1001", Outcome: core.OutcomeInserted},
			{Line: 3, Outcome: core.OutcomeFailed, Error: "missing required field: national_id"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Inserted: 2  Updated: 0  Failed: 1")
	assert.Contains(t, out, "line 3 : missing required field: national_id")
	assert.NotContains(t, out, "line 2")
}
