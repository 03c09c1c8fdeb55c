package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/core/tables"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/store/memstore"
)

func TestPreview(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Upsert(ctx, tables.Patients, []store.Row{
		{"national_id": "1001", "name": "Ali", "has_dm": true},
	}, []string{"national_id"}))
	rec := &recordingStore{Store: st}
	svc := newService(rec, core.Options{})

	headers := []any{"national_number", "full_name_ar", "IsDiabetic", "Favourite colour"}
	sess, err := svc.OpenSession(ctx, sheet(headers,
		[]any{"1001", "Ali", "No", "blue"},
		[]any{"1002", "Omar", "Yes", "red"},
		[]any{"", "Sara", "Yes", ""},
		[]any{"1002", "Omar", "No", ""},
	), tables.Patients)
	require.NoError(t, err)

	resp, err := svc.Preview(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, core.PreviewSummary{
		TotalRows:       4,
		NewRows:         1,
		UpdateRows:      2,
		ErrorRows:       1,
		DuplicateInFile: 1,
	}, resp.Summary)
	assert.Equal(t, []string{"Favourite colour"}, resp.Unmapped)
	assert.Empty(t, resp.Missing)

	require.Len(t, resp.UpdateDiffs, 1)
	diff := resp.UpdateDiffs[0]
	assert.Equal(t, "1001", diff.RowKey)
	assert.Equal(t, []string{"has_dm"}, diff.Changed)
	assert.Equal(t, "true", diff.Current["has_dm"])
	assert.Equal(t, "false", diff.Incoming["has_dm"])

	require.Len(t, resp.NewRowSamples, 1)
	assert.Equal(t, 3, resp.NewRowSamples[0].Line)

	require.Len(t, resp.ErrorSamples, 1)
	assert.Equal(t, 4, resp.ErrorSamples[0].Line)
	assert.Contains(t, resp.ErrorSamples[0].Error, "national_id")

	require.Len(t, resp.DuplicateSamples, 1)
	assert.Equal(t, core.DuplicatePreview{RowKey: "1002", Lines: []int{3, 5}}, resp.DuplicateSamples[0])

	assert.Zero(t, rec.Writes())
	assert.Same(t, resp, sess.Info().Preview)
}

func TestPreview_DiscardedByOverride(t *testing.T) {
	ctx := context.Background()
	svc := newService(memstore.New(), core.Options{})

	sess, err := svc.OpenSession(ctx, sheet(scenarioHeaders, []any{"1001", "Ali", "Yes"}), tables.Patients)
	require.NoError(t, err)
	_, err = svc.Preview(ctx, sess.ID)
	require.NoError(t, err)

	info, err := svc.OverrideMapping(ctx, sess.ID, 2, "")
	require.NoError(t, err)
	assert.Nil(t, info.Preview)
	assert.Equal(t, core.StateMappingReady, info.State)
}
