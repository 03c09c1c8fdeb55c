package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestStore_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(ctx, "doctor_schedules", []store.Row{
		{"doctor_name": "Dr. Sara", "shift_date": time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), "shift": "AM"},
	}))

	row, err := s.Get(ctx, "doctor_schedules", store.Filter{"doctor_name": "Dr. Sara"})
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "2026-12-01", row["shift_date"])
}

func TestStore_ConstraintViolation(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	err := s.Upsert(ctx, "patients", []store.Row{
		{"national_id": "1", "name": "Ali", "burden": "extreme"},
	}, []string{"national_id"})
	assert.Error(t, err)

	err = s.Insert(ctx, "patients", []store.Row{{"national_id": "2", "name": "Sara", "no_such_column": 1}})
	assert.Error(t, err)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "intake.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": "1", "name": "Ali"}}, []string{"national_id"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	row, err := s.Get(ctx, "patients", store.Filter{"national_id": "1"})
	require.NoError(t, err)
	assert.Equal(t, "Ali", row["name"])
}
