package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, "patients", []store.Row{{"national_id": "1", "name": "Ali"}}))

	row, err := s.Get(ctx, "patients", store.Filter{"national_id": "1"})
	require.NoError(t, err)
	row["name"] = "changed"

	row, err = s.Get(ctx, "patients", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ali", row["name"])
}

func TestStore_NumericKeyEquality(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": 1001.0, "name": "Ali"}}, []string{"national_id"}))
	require.NoError(t, s.Upsert(ctx, "patients", []store.Row{{"national_id": "1001", "name": "Ali B"}}, []string{"national_id"}))

	assert.Equal(t, 1, s.Count("patients"))
}
