// Package store defines the row store the import pipeline writes to.
//
// Rows are column→value maps addressed by table name. Implementations live
// in subpackages: memstore (tests and dry runs), sqlitestore (single-node
// deployments) and pgstore (PostgreSQL).
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CustomFieldsColumn holds custom field values as a JSON object.
const CustomFieldsColumn = "custom_fields"

// ErrUnknownTable is returned for tables a store does not hold.
var ErrUnknownTable = errors.New("unknown table")

// Row is one stored row.
type Row map[string]any

// Filter matches rows whose columns equal every given value.
type Filter map[string]any

// Store is the external row store. Each call is independently fallible;
// nothing spans calls.
type Store interface {
	// Get returns the first row matching filter, or nil when none does.
	Get(ctx context.Context, table string, filter Filter) (Row, error)
	// List returns every row matching filter.
	List(ctx context.Context, table string, filter Filter) ([]Row, error)
	// Insert adds rows.
	Insert(ctx context.Context, table string, rows []Row) error
	// Upsert inserts rows, updating the given columns of any row that
	// already holds the same conflictKey values. Columns absent from a
	// row are left as stored. The whole call succeeds or fails as one.
	Upsert(ctx context.Context, table string, rows []Row, conflictKey []string) error
	// Delete removes every row matching filter and returns how many.
	Delete(ctx context.Context, table string, filter Filter) (int64, error)
	// Close releases the store's resources.
	Close() error
}

// Columns returns the sorted column names of filter.
func (f Filter) Columns() []string {
	cols := make([]string, 0, len(f))
	for c := range f {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// Columns returns the sorted column names of row.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// Clone returns a shallow copy of row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Matches reports whether row satisfies filter.
func (f Filter) Matches(row Row) bool {
	for col, want := range f {
		if !Equal(row[col], want) {
			return false
		}
	}
	return true
}

// KeyOf renders the values of cols in row as one comparable key.
// Returns ok=false if any key column is missing or empty.
func KeyOf(row Row, cols []string) (string, bool) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		s := Canonical(row[c])
		if s == "" {
			return "", false
		}
		parts[i] = s
	}
	return strings.Join(parts, "|"), true
}

// Equal compares two column values the way a database would compare them
// after type coercion: numbers by value, times by instant, everything else
// by canonical string.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Canonical(a) == Canonical(b)
}

// Canonical renders a value as a stable string for keys and comparisons.
func Canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return Canonical(float64(x))
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// Validate rejects rows without columns and conflict keys a row does not
// carry. SQL stores call it before building statements.
func Validate(table string, rows []Row, conflictKey []string) error {
	if table == "" {
		return fmt.Errorf("%w: empty table name", ErrUnknownTable)
	}
	for i, r := range rows {
		if len(r) == 0 {
			return fmt.Errorf("row %d has no columns", i)
		}
		for _, k := range conflictKey {
			if _, ok := r[k]; !ok {
				return fmt.Errorf("row %d is missing conflict column %q", i, k)
			}
		}
	}
	return nil
}
