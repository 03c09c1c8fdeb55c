package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/workbook"
)

// State is the step an import session is at.
type State string

const (
	StateIdle         State = "idle"
	StateMappingReady State = "mapping_ready"
	StatePreviewing   State = "previewing"
	StateImporting    State = "importing"
	StateCompleted    State = "completed"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// session's current state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("import session not found")
)

// transitions lists the states each state may move to.
var transitions = map[State][]State{
	StateIdle:         {StateMappingReady},
	StateMappingReady: {StateMappingReady, StatePreviewing, StateImporting},
	StatePreviewing:   {StateMappingReady, StatePreviewing, StateImporting},
	StateImporting:    {StateCompleted},
}

// Session is one workbook on its way into one table. Only the Importing
// state writes to the store.
type Session struct {
	ID        string
	Table     string
	FileName  string
	CreatedAt time.Time

	mu       sync.RWMutex
	state    State
	def      TableDefinition
	sheet    *workbook.Sheet
	headers  []any
	fields   []fields.FieldDefinition
	mappings []mapping.ColumnMapping
	decision dates.Decision
	preview  *PreviewResponse
	result   *ImportResult

	cancel     context.CancelFunc
	done       chan struct{}
	progress   ImportProgress
	listenerMu sync.Mutex
	listeners  []chan ImportProgress
}

func newSession(id string, def TableDefinition, wb *workbook.Workbook, sheet *workbook.Sheet, now time.Time) *Session {
	return &Session{
		ID:        id,
		Table:     def.Info.Key,
		FileName:  wb.Name,
		CreatedAt: now,
		state:     StateIdle,
		def:       def,
		sheet:     sheet,
		headers:   wb.Headers(),
		done:      make(chan struct{}),
		progress: ImportProgress{
			SessionID: id,
			Table:     def.Info.Key,
			Phase:     PhaseStarting,
			FileName:  wb.Name,
			TotalRows: len(sheet.Rows),
		},
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// transition moves to next. Callers hold s.mu.
func (s *Session) transition(next State) error {
	if !slices.Contains(transitions[s.state], next) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, s.state, next)
	}
	s.state = next
	return nil
}

// Mappings returns a copy of the current column mappings.
func (s *Session) Mappings() []mapping.ColumnMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.mappings)
}

// DateFormat returns the date-format decision taken for this import.
func (s *Session) DateFormat() dates.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.decision
}

// Done is closed when the import finishes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	ID         string                  `json:"id"`
	Table      string                  `json:"table"`
	FileName   string                  `json:"fileName"`
	State      State                   `json:"state"`
	CreatedAt  time.Time               `json:"createdAt"`
	TotalRows  int                     `json:"totalRows"`
	Columns    []mapping.ColumnMapping `json:"columns"`
	Unmapped   []string                `json:"unmapped"`
	Missing    []string                `json:"missing"`
	DateFormat dates.Decision          `json:"dateFormat"`
	Progress   ImportProgress          `json:"progress"`
	Preview    *PreviewResponse        `json:"preview,omitempty"`
	Result     *ImportResult           `json:"result,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.listenerMu.Lock()
	progress := s.progress
	s.listenerMu.Unlock()

	return SessionInfo{
		ID:         s.ID,
		Table:      s.Table,
		FileName:   s.FileName,
		State:      s.state,
		CreatedAt:  s.CreatedAt,
		TotalRows:  len(s.sheet.Rows),
		Columns:    slices.Clone(s.mappings),
		Unmapped:   mapping.Unmapped(s.mappings),
		Missing:    missingRequired(s.def, s.fields, s.mappings),
		DateFormat: s.decision,
		Progress:   progress,
		Preview:    s.preview,
		Result:     s.result,
	}
}

// missingRequired lists required fields of the destination table that no
// column is mapped to.
func missingRequired(def TableDefinition, defs []fields.FieldDefinition, mappings []mapping.ColumnMapping) []string {
	mapped := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		if m.Mapped() {
			mapped[m.FieldKey] = true
		}
	}
	var missing []string
	for _, d := range defs {
		if d.Required && d.AppliesTo(def.Info.Key) && !mapped[d.Key] {
			missing = append(missing, d.Key)
		}
	}
	return missing
}

// setProgress updates the progress and notifies listeners.
func (s *Session) setProgress(update func(*ImportProgress)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	update(&s.progress)
	for _, ch := range s.listeners {
		select {
		case ch <- s.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// subscribe registers a listener and sends it the current progress.
// After the import finished the channel is returned closed.
func (s *Session) subscribe() <-chan ImportProgress {
	ch := make(chan ImportProgress, 16)

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	ch <- s.progress
	select {
	case <-s.done:
		close(ch)
	default:
		s.listeners = append(s.listeners, ch)
	}
	return ch
}

// closeListeners closes all listener channels.
func (s *Session) closeListeners() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
}
