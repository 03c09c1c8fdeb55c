// Package memstore is an in-process store.Store. Tables are created on
// first write. It is safe for concurrent use.
package memstore

import (
	"context"
	"sync"

	"github.com/clinicops/intake/internal/store"
)

// Store keeps rows in memory.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]store.Row
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[string][]store.Row)}
}

func (s *Store) Get(ctx context.Context, table string, filter store.Filter) (store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.tables[table] {
		if filter.Matches(r) {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) List(ctx context.Context, table string, filter store.Filter) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Row
	for _, r := range s.tables[table] {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, rows []store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.Validate(table, rows, nil); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.tables[table] = append(s.tables[table], r.Clone())
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, table string, rows []store.Row, conflictKey []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.Validate(table, rows, conflictKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.tables[table]
	for _, r := range rows {
		filter := make(store.Filter, len(conflictKey))
		for _, k := range conflictKey {
			filter[k] = r[k]
		}

		updated := false
		for i, cur := range existing {
			if !filter.Matches(cur) {
				continue
			}
			merged := cur.Clone()
			for k, v := range r {
				merged[k] = v
			}
			existing[i] = merged
			updated = true
			break
		}
		if !updated {
			existing = append(existing, r.Clone())
		}
	}
	s.tables[table] = existing
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, filter store.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	kept := rows[:0]
	var n int64
	for _, r := range rows {
		if filter.Matches(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.tables[table] = kept
	return n, nil
}

// Count returns the number of rows in table.
func (s *Store) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

func (s *Store) Close() error { return nil }
