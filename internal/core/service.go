package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/fields"
	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/workbook"
)

// Defaults for Options fields left zero.
const (
	DefaultImportTimeout = 10 * time.Minute
	DefaultSessionTTL    = 30 * time.Minute
)

// Options configure a Service.
type Options struct {
	ChunkSize         int           // Rows per bulk-write chunk
	DateOrder         dates.Format  // Used when no detection rule applies
	Timeout           time.Duration // Upper bound on one background import
	SessionTTL        time.Duration // How long sessions are kept
	DeriveEligibility bool          // Run table derivations after the row loop
	MaxConcurrent     int
	MaxWait           time.Duration
	Now               func() time.Time
	Logger            *slog.Logger
}

// Service runs import sessions against a store.
type Service struct {
	store   store.Store
	fields  *fields.Registry
	catalog *Catalog
	limiter *ImportLimiter
	bulk    *BulkWriter
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a Service. The registry is read on every mapping run,
// so custom fields registered later apply to the next session.
func NewService(st store.Store, registry *fields.Registry, catalog *Catalog, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultImportTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		store:    st,
		fields:   registry,
		catalog:  catalog,
		limiter:  NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		bulk:     NewBulkWriter(st, opts.ChunkSize, opts.Logger),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Fields returns the field registry.
func (s *Service) Fields() *fields.Registry {
	return s.fields
}

// Catalog returns the table catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Store returns the store imports write to.
func (s *Service) Store() store.Store {
	return s.store
}

// LimiterStatus returns the import limiter state.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ListTables returns information about all registered tables.
func (s *Service) ListTables() []TableInfo {
	defs := s.catalog.All()
	infos := make([]TableInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// OpenSession reads the first sheet of wb, maps its columns onto table and
// decides the workbook's date format. The session is MappingReady.
func (s *Service) OpenSession(ctx context.Context, wb *workbook.Workbook, table string) (*Session, error) {
	def, ok := s.catalog.Get(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	sheet, err := wb.First()
	if err != nil {
		return nil, err
	}

	sess := newSession(uuid.NewString(), def, wb, sheet, s.opts.Now())

	sess.mu.Lock()
	sess.fields = s.candidateFields(def)
	sess.mappings = mapping.MapColumns(sheet.ColumnNames(), sess.fields)
	sess.decision = s.decideFormat(sess)
	err = sess.transition(StateMappingReady)
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.expire(sess.ID, s.opts.SessionTTL)

	info := sess.Info()
	s.logger(ctx, sess).Info("import session opened",
		slog.String("file", sess.FileName),
		slog.Int("rows", info.TotalRows),
		slog.Int("unmapped", len(info.Unmapped)),
		slog.String("date_format", info.DateFormat.Format.String()),
		slog.String("date_rule", info.DateFormat.Rule),
	)
	return sess, nil
}

// Session returns a session by id.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// OverrideMapping assigns fieldKey to the column at index, or unmaps the
// column when fieldKey is empty. Any earlier preview is discarded.
func (s *Service) OverrideMapping(ctx context.Context, id string, index int, fieldKey string) (SessionInfo, error) {
	sess, err := s.Session(id)
	if err != nil {
		return SessionInfo{}, err
	}

	sess.mu.Lock()
	if err := sess.transition(StateMappingReady); err != nil {
		sess.mu.Unlock()
		return SessionInfo{}, err
	}
	sess.fields = s.candidateFields(sess.def)
	updated, err := mapping.Override(sess.mappings, index, fieldKey, sess.fields)
	if err != nil {
		sess.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("unknown field: %w", err)
	}
	sess.mappings = updated
	sess.preview = nil
	sess.decision = s.decideFormat(sess)
	sess.mu.Unlock()

	s.logger(ctx, sess).Info("column mapping overridden",
		slog.Int("column", index),
		slog.String("field", fieldKey),
	)
	return sess.Info(), nil
}

// Cancel stops a running import before its next row. Sessions that are not
// importing are dropped.
func (s *Service) Cancel(id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	cancel := sess.cancel
	state := sess.state
	sess.mu.Unlock()

	switch {
	case cancel != nil:
		cancel()
	case state != StateImporting && state != StateCompleted:
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}
	return nil
}

// Subscribe returns a channel of progress updates for a session. The
// channel is closed when the import finishes.
func (s *Service) Subscribe(id string) (<-chan ImportProgress, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.subscribe(), nil
}

// Result waits for the session's import to finish and returns its result.
func (s *Service) Result(ctx context.Context, id string) (*ImportResult, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	if sess.State() != StateImporting && sess.State() != StateCompleted {
		return nil, fmt.Errorf("%w: import not started", ErrInvalidState)
	}

	select {
	case <-sess.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.result, nil
}

// candidateFields returns the fields a sheet for def may map to: the
// cross-table view restricted to def's table and its linked tables, minus
// the linked columns copied from the parent row.
func (s *Service) candidateFields(def TableDefinition) []fields.FieldDefinition {
	tables := []string{def.Info.Key}
	for _, l := range def.Links {
		tables = append(tables, l.Table)
	}
	linked := def.linkedColumns()

	var out []fields.FieldDefinition
	for _, f := range s.fields.AllFields() {
		if linked[f.Key] && !f.AppliesTo(def.Info.Key) {
			continue
		}
		for _, t := range tables {
			if f.AppliesTo(t) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// decideFormat samples ambiguous date headers across every sheet. With no
// header samples it falls back to D/M shaped values of mapped date columns.
// Callers hold sess.mu.
func (s *Service) decideFormat(sess *Session) dates.Decision {
	samples := dates.CollectSamples(sess.headers)
	if len(samples) == 0 {
		samples = cellSamples(sess.sheet, sess.mappings, sess.fields)
	}
	return dates.Detect(samples, s.opts.Now(), s.opts.DateOrder)
}

// cellSamples collects date samples from the cells of mapped date columns.
func cellSamples(sheet *workbook.Sheet, mappings []mapping.ColumnMapping, defs []fields.FieldDefinition) []dates.Sample {
	dateField := make(map[string]bool)
	for _, d := range defs {
		if d.Type == fields.FieldDate {
			dateField[d.Key] = true
		}
	}

	var samples []dates.Sample
	for _, m := range mappings {
		if !m.Mapped() || !dateField[m.FieldKey] {
			continue
		}
		for _, row := range sheet.Rows {
			if sample, ok := dates.SampleFromToken(row.Cell(m.Index)); ok {
				samples = append(samples, sample)
			}
		}
	}
	return samples
}

// expire drops a session after ttl unless it is still importing.
func (s *Service) expire(id string, ttl time.Duration) {
	time.AfterFunc(ttl, func() {
		sess, err := s.Session(id)
		if err != nil {
			return
		}
		if sess.State() == StateImporting {
			s.expire(id, ttl)
			return
		}
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	})
}

func (s *Service) logger(ctx context.Context, sess *Session) *slog.Logger {
	l := s.opts.Logger
	if ctx != nil {
		if id := RequestIDFromContext(ctx); id != "" {
			l = l.With(slog.String("request_id", id))
		}
	}
	if sess != nil {
		l = l.With(slog.String("session_id", sess.ID), slog.String("table", sess.Table))
	}
	return l
}
