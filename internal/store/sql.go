package store

import (
	"fmt"
	"slices"
	"strings"
)

// Placeholder renders the n-th (1-based) bind parameter of a SQL dialect.
type Placeholder func(n int) string

// Dollar is PostgreSQL's $1, $2, ...
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Question is SQLite's ?.
func Question(int) string { return "?" }

// QuoteIdentifier quotes a table or column name.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildWhere renders filter as " WHERE a = $1 AND b = $2", starting at
// bind parameter start. An empty filter renders nothing.
func BuildWhere(filter Filter, ph Placeholder, start int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	cols := filter.Columns()
	conds := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	n := start
	for i, c := range cols {
		if filter[c] == nil {
			conds[i] = QuoteIdentifier(c) + " IS NULL"
			continue
		}
		conds[i] = fmt.Sprintf("%s = %s", QuoteIdentifier(c), ph(n))
		args = append(args, filter[c])
		n++
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// BuildSelect renders a SELECT * over table.
func BuildSelect(table string, filter Filter, ph Placeholder, limit int) (string, []any) {
	where, args := BuildWhere(filter, ph, 1)
	q := "SELECT * FROM " + QuoteIdentifier(table) + where
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q, args
}

// BuildDelete renders a DELETE over table.
func BuildDelete(table string, filter Filter, ph Placeholder) (string, []any) {
	where, args := BuildWhere(filter, ph, 1)
	return "DELETE FROM " + QuoteIdentifier(table) + where, args
}

// BuildInsert renders a single-row INSERT. Without a conflict key it is a
// plain insert; with one, non-key columns are updated on conflict.
func BuildInsert(table string, row Row, conflictKey []string, ph Placeholder) (string, []any) {
	cols := row.Columns()
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdentifier(c)
		marks[i] = ph(i + 1)
		args[i] = row[c]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	if len(conflictKey) > 0 {
		keys := make([]string, len(conflictKey))
		for i, k := range conflictKey {
			keys[i] = QuoteIdentifier(k)
		}
		var sets []string
		for _, c := range cols {
			if slices.Contains(conflictKey, c) {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", QuoteIdentifier(c), QuoteIdentifier(c)))
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s)", strings.Join(keys, ", "))
		if len(sets) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
		}
	}
	return b.String(), args
}
