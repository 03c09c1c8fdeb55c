// Package sqlitestore implements store.Store on SQLite using the pure-Go
// modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clinicops/intake/internal/store"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table string, filter store.Filter) (store.Row, error) {
	q, args := store.BuildSelect(table, filter, store.Question, 1)
	rows, err := s.query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) List(ctx context.Context, table string, filter store.Filter) ([]store.Row, error) {
	q, args := store.BuildSelect(table, filter, store.Question, 0)
	rows, err := s.query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, table string, rows []store.Row) error {
	return s.write(ctx, table, rows, nil)
}

func (s *Store) Upsert(ctx context.Context, table string, rows []store.Row, conflictKey []string) error {
	if len(conflictKey) == 0 {
		return fmt.Errorf("upsert %s: conflict key is required", table)
	}
	return s.write(ctx, table, rows, conflictKey)
}

func (s *Store) Delete(ctx context.Context, table string, filter store.Filter) (int64, error) {
	q, args := store.BuildDelete(table, filter, store.Question)
	res, err := s.db.ExecContext(ctx, q, encodeArgs(args)...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// write runs one statement per row inside a single transaction.
func (s *Store) write(ctx context.Context, table string, rows []store.Row, conflictKey []string) error {
	if err := store.Validate(table, rows, conflictKey); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		q, args := store.BuildInsert(table, r, conflictKey, store.Question)
		if _, err := tx.ExecContext(ctx, q, encodeArgs(args)...); err != nil {
			return fmt.Errorf("write %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args []any) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx, q, encodeArgs(args)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []store.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		row := make(store.Row, len(cols))
		for i, c := range cols {
			row[c] = decodeValue(c, values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func encodeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = encodeValue(a)
	}
	return out
}

// encodeValue maps pipeline values onto SQLite storage classes.
func encodeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if t {
			return 1
		}
		return 0
	case time.Time:
		return store.Canonical(t)
	case map[string]any, []any, []string:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return t
	}
}

func decodeValue(col string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if col == store.CustomFieldsColumn {
		if s, ok := v.(string); ok {
			m := map[string]any{}
			if err := json.Unmarshal([]byte(s), &m); err == nil {
				return m
			}
		}
	}
	return v
}
