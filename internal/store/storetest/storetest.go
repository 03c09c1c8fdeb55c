// Package storetest holds behaviour tests every store.Store must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/intake/internal/store"
)

// Run exercises s against the patients and patient_medications tables.
// newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("get missing returns nil", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Get(context.Background(), "patients", store.Filter{"national_id": "404"})
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("upsert inserts then updates", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := []string{"national_id"}

		require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": "1001", "name": "Ali", "has_dm": true}}, key))
		require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": "1001", "name": "Ali", "has_dm": false}}, key))

		rows, err := s.List(ctx, "patients", store.Filter{"national_id": "1001"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, store.Equal(rows[0]["has_dm"], false) || store.Equal(rows[0]["has_dm"], 0))
	})

	t.Run("upsert keeps absent columns", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		key := []string{"national_id"}

		require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": "1001", "name": "Ali", "phone": "0500"}}, key))
		require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": "1001", "name": "Ali B"}}, key))

		row, err := s.Get(ctx, "patients", store.Filter{"national_id": "1001"})
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "Ali B", row["name"])
		assert.Equal(t, "0500", row["phone"])
	})

	t.Run("insert list delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": "1001", "name": "Ali"}}, []string{"national_id"}))
		require.NoError(t, s.Insert(ctx, "patient_medications", []store.Row{
			{"patient_id": "1001", "medication_name": "A", "position": 0},
			{"patient_id": "1001", "medication_name": "B", "position": 1},
			{"patient_id": "1001", "medication_name": "C", "position": 2},
		}))

		rows, err := s.List(ctx, "patient_medications", store.Filter{"patient_id": "1001"})
		require.NoError(t, err)
		assert.Len(t, rows, 3)

		n, err := s.Delete(ctx, "patient_medications", store.Filter{"patient_id": "1001"})
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		rows, err = s.List(ctx, "patient_medications", store.Filter{"patient_id": "1001"})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("custom fields round trip", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{
			"national_id":            "1001",
			"name":                   "Ali",
			store.CustomFieldsColumn: map[string]any{"insurance": "Government"},
		}}, []string{"national_id"}))

		row, err := s.Get(ctx, "patients", store.Filter{"national_id": "1001"})
		require.NoError(t, err)
		custom, ok := row[store.CustomFieldsColumn].(map[string]any)
		require.True(t, ok, "custom fields decoded as %T", row[store.CustomFieldsColumn])
		assert.Equal(t, "Government", custom["insurance"])
	})

	t.Run("upsert without conflict column fails whole call", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		err := s.Upsert(ctx, "patients", []store.Row{
			{"national_id": "1", "name": "ok"},
			{"name": "no id"},
		}, []string{"national_id"})
		require.Error(t, err)

		row, err := s.Get(ctx, "patients", store.Filter{"national_id": "1"})
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Get(ctx, "patients", store.Filter{"national_id": "1"})
		assert.Error(t, err)
	})
}
