package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/transform"
	"github.com/clinicops/intake/internal/workbook"
)

// ErrImportCancelled marks results of imports stopped before the last row.
var ErrImportCancelled = errors.New("import cancelled")

// Import opens a session for wb and runs it to completion.
func (s *Service) Import(ctx context.Context, wb *workbook.Workbook, table string, progress ProgressFunc) (*ImportResult, error) {
	sess, err := s.OpenSession(ctx, wb, table)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, sess.ID, progress)
}

// Run imports the session's rows synchronously. Cancelling ctx stops the
// import before the next row; rows already processed keep their outcome.
func (s *Service) Run(ctx context.Context, id string, progress ProgressFunc) (*ImportResult, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.begin(sess, cancel); err != nil {
		return nil, err
	}

	result := s.process(runCtx, sess, progress)
	return result, nil
}

// StartImport begins the session's import in the background and returns
// once it is running. Use Subscribe for progress and Result to wait.
//
// Returns ErrTooManyImports if no import slot frees up in time.
func (s *Service) StartImport(ctx context.Context, id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}

	importCtx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	if rid := RequestIDFromContext(ctx); rid != "" {
		importCtx = ContextWithRequestID(importCtx, rid)
	}
	if err := s.begin(sess, cancel); err != nil {
		cancel()
		s.limiter.Release()
		return err
	}

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger(importCtx, sess).Error("panic in import", slog.Any("panic", r))
				s.finish(sess, &ImportResult{
					SessionID: sess.ID,
					Table:     sess.Table,
					FileName:  sess.FileName,
					Error:     fmt.Sprintf("internal error: %v", r),
				}, PhaseFailed)
			}
		}()
		s.process(importCtx, sess, nil)
	}()
	return nil
}

// begin moves the session to Importing.
func (s *Service) begin(sess *Session, cancel context.CancelFunc) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.transition(StateImporting); err != nil {
		return err
	}
	sess.cancel = cancel
	return nil
}

// process runs the row loop and the derivations, then completes the session.
func (s *Service) process(ctx context.Context, sess *Session, progress ProgressFunc) *ImportResult {
	start := time.Now()
	log := s.logger(ctx, sess)

	sess.mu.RLock()
	def := sess.def
	rows := sess.sheet.Rows
	decision := sess.decision
	resolver := dates.NewResolver(decision.Format, s.opts.Now, log)
	plan := newRowPlan(def, sess.fields, sess.mappings, transform.New(resolver, log))
	sess.mu.RUnlock()

	result := &ImportResult{
		SessionID:  sess.ID,
		Table:      sess.Table,
		FileName:   sess.FileName,
		TotalRows:  len(rows),
		DateFormat: decision,
	}

	sess.setProgress(func(p *ImportProgress) {
		p.Phase = PhaseImporting
		p.TotalRows = len(rows)
	})

	var imported []store.Row
	for i, row := range rows {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.Error = fmt.Sprintf("%v after %d of %d rows: %v", ErrImportCancelled, i, len(rows), ctx.Err())
			break
		}

		rr, stored, linked := s.importRow(ctx, plan, row)
		result.add(rr)
		result.Linked += linked
		if stored != nil {
			imported = append(imported, stored)
		}
		if rr.Outcome == OutcomeFailed {
			log.Debug("row failed", slog.Int("line", rr.Line), slog.String("error", rr.Error))
		}

		if progress != nil {
			progress(i+1, len(rows))
		}
		sess.setProgress(func(p *ImportProgress) {
			p.CurrentRow = i + 1
			p.Inserted = result.Inserted
			p.Updated = result.Updated
			p.Failed = result.Failed
		})
	}

	if !result.Cancelled && s.opts.DeriveEligibility && len(def.Derived) > 0 {
		sess.setProgress(func(p *ImportProgress) { p.Phase = PhaseDeriving })
		result.Derived = s.derive(ctx, def, imported)
	}

	result.Duration = time.Since(start)
	phase := PhaseComplete
	if result.Cancelled {
		phase = PhaseCancelled
	}

	log.Info("import finished",
		slog.Int("rows", result.TotalRows),
		slog.Int("processed", result.Processed),
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
		slog.Int("failed", result.Failed),
		slog.Bool("cancelled", result.Cancelled),
		slog.Duration("duration", result.Duration),
	)
	s.finish(sess, result, phase)
	return result
}

// finish stores the result, moves the session to Completed and releases
// its listeners.
func (s *Service) finish(sess *Session, result *ImportResult, phase ImportPhase) {
	sess.mu.Lock()
	sess.result = result
	if sess.state == StateImporting {
		_ = sess.transition(StateCompleted)
	}
	sess.mu.Unlock()

	sess.setProgress(func(p *ImportProgress) {
		p.Phase = phase
		p.Error = result.Error
		p.Inserted = result.Inserted
		p.Updated = result.Updated
		p.Failed = result.Failed
	})

	sess.listenerMu.Lock()
	select {
	case <-sess.done:
	default:
		close(sess.done)
	}
	sess.listenerMu.Unlock()
	sess.closeListeners()
}

// importRow runs one source row: transform, validate, look up by natural
// key, upsert, replace child lists and write linked rows. Every error is
// captured in the returned RowResult. stored is the merged parent row on
// success; linked counts secondary rows written.
func (s *Service) importRow(ctx context.Context, plan *rowPlan, row workbook.Row) (rr RowResult, stored store.Row, linked int) {
	rec := plan.build(row)
	filter, identifier, name := plan.identity(rec)
	rr = RowResult{Line: rec.line, Identifier: identifier, DisplayName: name}

	fail := func(err error) (RowResult, store.Row, int) {
		rr.Outcome = OutcomeFailed
		rr.Error = err.Error()
		return rr, nil, linked
	}

	if err := plan.validate(rec); err != nil {
		return fail(err)
	}

	table := plan.def.Info.Key
	existing, err := s.store.Get(ctx, table, filter)
	if err != nil {
		return fail(err)
	}

	if len(rec.custom) > 0 {
		rec.main[store.CustomFieldsColumn] = mergeCustom(existing, rec.custom)
	}
	if err := s.store.Upsert(ctx, table, []store.Row{rec.main}, plan.def.Info.NaturalKey); err != nil {
		return fail(err)
	}

	for _, child := range plan.def.Children {
		items := rec.children[child.Field]
		if len(items) == 0 {
			continue
		}
		parentID := rec.main[child.ParentKey]
		if _, err := s.store.Delete(ctx, child.Table, store.Filter{child.ParentColumn: parentID}); err != nil {
			return fail(fmt.Errorf("replace %s: %w", child.Table, err))
		}
		if err := s.store.Insert(ctx, child.Table, child.Rows(parentID, items)); err != nil {
			return fail(fmt.Errorf("replace %s: %w", child.Table, err))
		}
	}

	for _, link := range plan.def.Links {
		n, err := s.writeLinked(ctx, link, rec)
		if err != nil {
			return fail(fmt.Errorf("write %s: %w", link.Table, err))
		}
		linked += n
	}

	rr.Outcome = OutcomeInserted
	stored = rec.main.Clone()
	if existing != nil {
		rr.Outcome = OutcomeUpdated
		stored = existing.Clone()
		for k, v := range rec.main {
			stored[k] = v
		}
	}
	return rr, stored, linked
}

// writeLinked upserts the secondary row of link carried by rec. Rows with
// no values of their own or an incomplete natural key are skipped.
func (s *Service) writeLinked(ctx context.Context, link Link, rec *record) (int, error) {
	sec := rec.secondary[link.Table]
	custom := rec.secCustom[link.Table]
	if len(sec) == 0 && len(custom) == 0 {
		return 0, nil
	}

	row := sec.Clone()
	for col, parentCol := range link.From {
		row[col] = rec.main[parentCol]
	}
	filter := make(store.Filter, len(link.NaturalKey))
	for _, k := range link.NaturalKey {
		v, ok := row[k]
		if !ok || v == nil {
			return 0, nil
		}
		filter[k] = v
	}

	if len(custom) > 0 {
		existing, err := s.store.Get(ctx, link.Table, filter)
		if err != nil {
			return 0, err
		}
		row[store.CustomFieldsColumn] = mergeCustom(existing, custom)
	}
	if err := s.store.Upsert(ctx, link.Table, []store.Row{row}, link.NaturalKey); err != nil {
		return 0, err
	}
	return 1, nil
}

// derive computes and bulk-writes the rows of every derivation of def.
func (s *Service) derive(ctx context.Context, def TableDefinition, parents []store.Row) []BulkResult {
	now := s.opts.Now()
	results := make([]BulkResult, 0, len(def.Derived))
	for _, d := range def.Derived {
		var rows []store.Row
		for _, parent := range parents {
			rows = append(rows, d.Rows(parent, now)...)
		}
		results = append(results, s.bulk.Write(ctx, d.Table, rows, d.ConflictKey))
	}
	return results
}
