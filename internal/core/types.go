package core

import (
	"strings"
	"time"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/transform"
)

// TableInfo contains display and identity information about a table.
type TableInfo struct {
	Key          string   `json:"key"`          // Unique identifier: "patients"
	Label        string   `json:"label"`        // Display name: "Patients"
	NaturalKey   []string `json:"naturalKey"`   // Column(s) identifying an existing row
	DisplayField string   `json:"displayField"` // Column shown next to the identifier in results
}

// ChildCollection is a delimited list held in one cell of the parent row and
// stored as one child row per item.
type ChildCollection struct {
	Field          string   // Field key carrying the list: "medications"
	Table          string   // Child table: "patient_medications"
	ParentColumn   string   // Child column referencing the parent: "patient_id"
	ParentKey      string   // Parent column it references: "national_id"
	ValueColumn    string   // Child column receiving each item
	PositionColumn string   // Optional child column receiving the item index
	Separators     []string // Item separators; ";" when empty
}

// Split breaks a cell into trimmed, non-empty items.
func (c ChildCollection) Split(v any) []string {
	if transform.IsEmpty(v) {
		return nil
	}
	s := transform.ToText(v)
	seps := c.Separators
	if len(seps) == 0 {
		seps = []string{";"}
	}
	for _, sep := range seps[1:] {
		s = strings.ReplaceAll(s, sep, seps[0])
	}

	var items []string
	for _, part := range strings.Split(s, seps[0]) {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// Rows builds the child rows for parentID.
func (c ChildCollection) Rows(parentID any, items []string) []store.Row {
	rows := make([]store.Row, len(items))
	for i, item := range items {
		row := store.Row{
			c.ParentColumn: parentID,
			c.ValueColumn:  item,
		}
		if c.PositionColumn != "" {
			row[c.PositionColumn] = i
		}
		rows[i] = row
	}
	return rows
}

// Link fills a secondary table from fields mapped in the same source row.
type Link struct {
	Table      string            // Secondary table: "preventive_eligibility"
	NaturalKey []string          // Conflict key of the secondary table
	From       map[string]string // Secondary column -> parent column it is copied from
}

// Derivation computes rows of another table from a stored parent row.
type Derivation struct {
	Table       string
	ConflictKey []string
	Rows        func(parent store.Row, now time.Time) []store.Row
}

// TableDefinition contains everything needed to import into a table.
type TableDefinition struct {
	Info     TableInfo
	Children []ChildCollection
	Links    []Link
	Derived  []Derivation
}

// Child returns the collection carried by field key.
func (t TableDefinition) Child(field string) (ChildCollection, bool) {
	for _, c := range t.Children {
		if c.Field == field {
			return c, true
		}
	}
	return ChildCollection{}, false
}

// linkedColumns returns the secondary columns filled from the parent row.
// They are never offered to the column mapper.
func (t TableDefinition) linkedColumns() map[string]bool {
	cols := make(map[string]bool)
	for _, l := range t.Links {
		for col := range l.From {
			cols[col] = true
		}
	}
	return cols
}

// Outcome is what happened to one source row.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeFailed   Outcome = "failed"
)

// RowResult is the outcome of one source row. It is never modified after
// the row is processed.
type RowResult struct {
	Line        int     `json:"line"`
	Identifier  string  `json:"identifier"`
	DisplayName string  `json:"displayName"`
	Outcome     Outcome `json:"outcome"`
	Error       string  `json:"error,omitempty"`
}

// ImportPhase indicates the current stage of an import.
type ImportPhase string

const (
	PhaseStarting  ImportPhase = "starting"
	PhaseImporting ImportPhase = "importing"
	PhaseDeriving  ImportPhase = "deriving"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
	PhaseCancelled ImportPhase = "cancelled"
)

// ImportProgress represents the current state of an import.
type ImportProgress struct {
	SessionID  string      `json:"sessionId"`
	Table      string      `json:"table"`
	Phase      ImportPhase `json:"phase"`
	FileName   string      `json:"fileName"`
	TotalRows  int         `json:"totalRows"`
	CurrentRow int         `json:"currentRow"`
	Inserted   int         `json:"inserted"`
	Updated    int         `json:"updated"`
	Failed     int         `json:"failed"`
	Error      string      `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.TotalRows > 0 {
		return (p.CurrentRow * 100) / p.TotalRows
	}
	return 0
}

// ProgressFunc is called after each row with the rows processed so far.
type ProgressFunc func(processed, total int)

// ChunkResult is the outcome of one bulk-write chunk.
type ChunkResult struct {
	Index int    `json:"index"`
	Rows  int    `json:"rows"`
	Error string `json:"error,omitempty"`
}

// BulkResult summarizes a chunked write.
type BulkResult struct {
	Table   string        `json:"table"`
	Written int           `json:"written"`
	Chunks  []ChunkResult `json:"chunks"`
}

// FailedChunks returns the number of chunks that did not commit.
func (b BulkResult) FailedChunks() int {
	n := 0
	for _, c := range b.Chunks {
		if c.Error != "" {
			n++
		}
	}
	return n
}

// ImportResult contains the final result of an import.
type ImportResult struct {
	SessionID  string         `json:"sessionId"`
	Table      string         `json:"table"`
	FileName   string         `json:"fileName"`
	TotalRows  int            `json:"totalRows"`
	Processed  int            `json:"processed"`
	Inserted   int            `json:"inserted"`
	Updated    int            `json:"updated"`
	Failed     int            `json:"failed"`
	Linked     int            `json:"linked"`
	Rows       []RowResult    `json:"rows"`
	Derived    []BulkResult   `json:"derived,omitempty"`
	DateFormat dates.Decision `json:"dateFormat"`
	Cancelled  bool           `json:"cancelled,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"` // Non-empty if the import stopped early
}

// add records one row outcome in the counts.
func (r *ImportResult) add(row RowResult) {
	r.Rows = append(r.Rows, row)
	r.Processed++
	switch row.Outcome {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeFailed:
		r.Failed++
	}
}

// FailedRows returns the results of rows that did not import.
func (r *ImportResult) FailedRows() []RowResult {
	var out []RowResult
	for _, row := range r.Rows {
		if row.Outcome == OutcomeFailed {
			out = append(out, row)
		}
	}
	return out
}
