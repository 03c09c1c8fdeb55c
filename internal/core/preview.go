package core

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/transform"
)

// PreviewSummary contains the summary counts for an import preview.
type PreviewSummary struct {
	TotalRows       int `json:"totalRows"`
	NewRows         int `json:"newRows"`
	UpdateRows      int `json:"updateRows"`
	ErrorRows       int `json:"errorRows"`
	DuplicateInFile int `json:"duplicateInFile"`
}

// RowPreview represents a single row for preview display.
type RowPreview struct {
	Line   int               `json:"line"`
	RowKey string            `json:"rowKey"`
	Values map[string]string `json:"values"`
}

// UpdateDiff is a before/after view of a row that will be updated.
type UpdateDiff struct {
	Line     int               `json:"line"`
	RowKey   string            `json:"rowKey"`
	Current  map[string]string `json:"current"`
	Incoming map[string]string `json:"incoming"`
	Changed  []string          `json:"changed"`
}

// ErrorPreview represents a row that will fail.
type ErrorPreview struct {
	Line   int               `json:"line"`
	RowKey string            `json:"rowKey,omitempty"`
	Values map[string]string `json:"values"`
	Error  string            `json:"error"`
}

// DuplicatePreview lists the lines sharing one natural key.
type DuplicatePreview struct {
	RowKey string `json:"rowKey"`
	Lines  []int  `json:"lines"`
}

// PreviewResponse is the read-only analysis of a session.
type PreviewResponse struct {
	Summary          PreviewSummary          `json:"summary"`
	Unmapped         []string                `json:"unmapped"`
	Shadowed         []mapping.ColumnMapping `json:"shadowed,omitempty"`
	Missing          []string                `json:"missing,omitempty"`
	DateFormat       dates.Decision          `json:"dateFormat"`
	NewRowSamples    []RowPreview            `json:"newRowSamples"`
	UpdateDiffs      []UpdateDiff            `json:"updateDiffs"`
	ErrorSamples     []ErrorPreview          `json:"errorSamples"`
	DuplicateSamples []DuplicatePreview      `json:"duplicateSamples"`
	ProcessingTimeMs int64                   `json:"processingTimeMs"`
}

// Sample limits
const (
	maxNewRowSamples    = 10
	maxUpdateDiffs      = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// Preview classifies every row of the session as new, update or error
// without writing to the store. Rows repeating an earlier natural key in
// the file count as updates, which is what the import will do with them.
func (s *Service) Preview(ctx context.Context, id string) (*PreviewResponse, error) {
	startTime := time.Now()

	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if err := sess.transition(StatePreviewing); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	def := sess.def
	rows := sess.sheet.Rows
	mappings := sess.mappings
	decision := sess.decision
	missing := missingRequired(def, sess.fields, mappings)
	log := s.logger(ctx, sess)
	plan := newRowPlan(def, sess.fields, mappings, transform.New(dates.NewResolver(decision.Format, s.opts.Now, log), log))
	sess.mu.Unlock()

	resp := &PreviewResponse{
		Summary:    PreviewSummary{TotalRows: len(rows)},
		Unmapped:   mapping.Unmapped(mappings),
		Missing:    missing,
		DateFormat: decision,
	}
	for _, m := range mappings {
		if m.Shadowed != "" {
			resp.Shadowed = append(resp.Shadowed, m)
		}
	}

	seen := make(map[string][]int)
	var dupOrder []string

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec := plan.build(row)
		filter, key, _ := plan.identity(rec)
		values := renderRow(rec.main)

		if err := plan.validate(rec); err != nil {
			resp.Summary.ErrorRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				resp.ErrorSamples = append(resp.ErrorSamples, ErrorPreview{
					Line: rec.line, RowKey: key, Values: values, Error: err.Error(),
				})
			}
			continue
		}

		if lines, dup := seen[key]; dup {
			if len(lines) == 1 {
				dupOrder = append(dupOrder, key)
			}
			seen[key] = append(lines, rec.line)
			resp.Summary.DuplicateInFile++
			resp.Summary.UpdateRows++
			continue
		}
		seen[key] = []int{rec.line}

		existing, err := s.store.Get(ctx, def.Info.Key, filter)
		if err != nil {
			return nil, fmt.Errorf("look up %s: %w", key, err)
		}

		if existing == nil {
			resp.Summary.NewRows++
			if len(resp.NewRowSamples) < maxNewRowSamples {
				resp.NewRowSamples = append(resp.NewRowSamples, RowPreview{Line: rec.line, RowKey: key, Values: values})
			}
			continue
		}

		resp.Summary.UpdateRows++
		if len(resp.UpdateDiffs) < maxUpdateDiffs {
			resp.UpdateDiffs = append(resp.UpdateDiffs, diffRow(rec.line, key, existing, rec.main))
		}
	}

	for _, key := range dupOrder {
		if len(resp.DuplicateSamples) >= maxDuplicateSamples {
			break
		}
		resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicatePreview{RowKey: key, Lines: seen[key]})
	}

	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	sess.mu.Lock()
	sess.preview = resp
	sess.mu.Unlock()

	log.Info("import previewed",
		"new", resp.Summary.NewRows,
		"update", resp.Summary.UpdateRows,
		"errors", resp.Summary.ErrorRows,
		"duplicates", resp.Summary.DuplicateInFile,
	)
	return resp, nil
}

func renderRow(row store.Row) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = store.Canonical(v)
	}
	return out
}

// diffRow compares the incoming columns with the stored row.
func diffRow(line int, key string, current, incoming store.Row) UpdateDiff {
	diff := UpdateDiff{
		Line:     line,
		RowKey:   key,
		Current:  make(map[string]string, len(incoming)),
		Incoming: renderRow(incoming),
	}
	for _, col := range incoming.Columns() {
		diff.Current[col] = store.Canonical(current[col])
		if !sameValue(current[col], incoming[col]) {
			diff.Changed = append(diff.Changed, col)
		}
	}
	return diff
}

// sameValue compares a stored value with an incoming one. SQLite stores
// booleans as integers.
func sameValue(stored, incoming any) bool {
	if b, ok := incoming.(bool); ok {
		if n, isNum := transform.ToNumber(stored); isNum {
			return (n != 0) == b
		}
	}
	return store.Equal(stored, incoming)
}
