// Package pgstore implements store.Store on PostgreSQL with pgx.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/intake/internal/store"
)

//go:embed schema.sql
var schema string

// Options configures the connection pool.
type Options struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, opts Options) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool. Close closes the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table string, filter store.Filter) (store.Row, error) {
	q, args := store.BuildSelect(table, filter, store.Dollar, 1)
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
	q, args := store.BuildSelect(table, filter, store.Dollar, 0)
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
	q, args := store.BuildDelete(table, filter, store.Dollar)
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// write sends one statement per row as a single batch inside a
// transaction, so a failing row rolls back the whole call.
func (s *Store) write(ctx context.Context, table string, rows []store.Row, conflictKey []string) error {
	if err := store.Validate(table, rows, conflictKey); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		q, args := store.BuildInsert(table, r, conflictKey, store.Dollar)
		batch.Queue(q, args...)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("write %s: %w", table, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args []any) ([]store.Row, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []store.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(store.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = decodeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// decodeValue turns pgx wire types into plain Go values.
func decodeValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}
