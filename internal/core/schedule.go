package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicops/intake/internal/dates"
	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/store"
	"github.com/clinicops/intake/internal/transform"
	"github.com/clinicops/intake/internal/workbook"
)

// ScheduleTable is the table roster imports write to.
const ScheduleTable = "doctor_schedules"

// Roster columns.
const (
	colDoctor    = "doctor_name"
	colShiftDate = "shift_date"
	colShift     = "shift"
	colClinic    = "clinic"
)

// ErrNoDateColumns is returned for rosters without a single date header.
var ErrNoDateColumns = errors.New("no date columns in roster")

// ScheduleColumn is one resolved date header.
type ScheduleColumn struct {
	Sheet  string `json:"sheet"`
	Index  int    `json:"index"`
	Header string `json:"header"`
	Date   string `json:"date"`

	day time.Time
}

// ScheduleResult reports a roster import.
type ScheduleResult struct {
	FileName   string           `json:"fileName"`
	DateFormat dates.Decision   `json:"dateFormat"`
	Columns    []ScheduleColumn `json:"columns"`
	Unparsed   []string         `json:"unparsed,omitempty"`
	Rows       []RowResult      `json:"rows"`
	Inserted   int              `json:"inserted"`
	Updated    int              `json:"updated"`
	Failed     int              `json:"failed"`
	Cancelled  bool             `json:"cancelled"`
	Duration   time.Duration    `json:"duration"`
}

// rosterSheet is the column layout of one roster sheet.
type rosterSheet struct {
	sheet  *workbook.Sheet
	doctor int
	clinic int
	dates  []ScheduleColumn
}

// ImportSchedule imports a doctor roster: one row per doctor, one column per
// day, the shift in each cell. Every sheet is read. The date format is
// decided once from the headers of all sheets; headers that do not resolve
// to a date are logged and skipped. Each non-empty cell is upserted as a
// doctor_schedules row keyed by doctor and date.
func (s *Service) ImportSchedule(ctx context.Context, wb *workbook.Workbook) (*ScheduleResult, error) {
	start := time.Now()
	if wb == nil || len(wb.Sheets) == 0 {
		return nil, workbook.ErrEmpty
	}
	def, ok := s.catalog.Get(ScheduleTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, ScheduleTable)
	}

	log := s.logger(ctx, nil).With(slog.String("table", ScheduleTable), slog.String("file", wb.Name))
	decision := dates.Detect(dates.CollectSamples(wb.Headers()), s.opts.Now(), s.opts.DateOrder)
	resolver := dates.NewResolver(decision.Format, s.opts.Now, log)

	result := &ScheduleResult{FileName: wb.Name, DateFormat: decision}
	var layouts []rosterSheet
	for _, sheet := range wb.Sheets {
		layout := s.rosterLayout(sheet, resolver, result)
		if len(layout.dates) > 0 {
			layouts = append(layouts, layout)
			result.Columns = append(result.Columns, layout.dates...)
		}
	}
	if len(result.Columns) == 0 {
		return nil, ErrNoDateColumns
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	key := def.Info.NaturalKey
rows:
	for _, layout := range layouts {
		for _, row := range layout.sheet.Rows {
			doctor := transform.ToText(row.Cell(layout.doctor))
			for _, col := range layout.dates {
				shift := transform.ToText(row.Cell(col.Index))
				if shift == "" {
					continue
				}
				if ctx.Err() != nil {
					result.Cancelled = true
					break rows
				}

				rec := store.Row{colShiftDate: col.day, colShift: shift}
				if doctor != "" {
					rec[colDoctor] = doctor
				}
				if layout.clinic >= 0 {
					if clinic := transform.ToText(row.Cell(layout.clinic)); clinic != "" {
						rec[colClinic] = clinic
					}
				}

				rr := s.upsertShift(ctx, ScheduleTable, key, rec)
				rr.Line = row.Line
				rr.Identifier = doctor + "|" + col.Date
				rr.DisplayName = doctor
				switch rr.Outcome {
				case OutcomeInserted:
					result.Inserted++
				case OutcomeUpdated:
					result.Updated++
				default:
					result.Failed++
				}
				result.Rows = append(result.Rows, rr)
			}
		}
	}

	result.Duration = time.Since(start)
	log.Info("schedule imported",
		slog.Int("date_columns", len(result.Columns)),
		slog.Int("unparsed", len(result.Unparsed)),
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
		slog.Int("failed", result.Failed),
		slog.String("date_format", decision.Format.String()),
		slog.String("date_rule", decision.Rule),
	)
	return result, nil
}

// rosterLayout finds the doctor, clinic and date columns of sheet. The
// doctor column is the one mapped to doctor_name, else the first column.
func (s *Service) rosterLayout(sheet *workbook.Sheet, resolver *dates.Resolver, result *ScheduleResult) rosterSheet {
	layout := rosterSheet{sheet: sheet, doctor: 0, clinic: -1}

	named := make(map[int]bool)
	for _, m := range mapping.MapColumns(sheet.ColumnNames(), s.fields.FieldsFor(ScheduleTable)) {
		if !m.Mapped() || m.FieldKey == colShiftDate {
			continue
		}
		named[m.Index] = true
		switch m.FieldKey {
		case colDoctor:
			layout.doctor = m.Index
		case colClinic:
			layout.clinic = m.Index
		}
	}
	named[layout.doctor] = true

	for i, header := range sheet.Headers {
		if named[i] || transform.IsEmpty(header) {
			continue
		}
		iso, ok := resolver.ResolveDate(header, i)
		day, err := time.Parse(dates.ISOLayout, iso)
		if !ok || err != nil {
			result.Unparsed = append(result.Unparsed, workbook.CellString(header))
			continue
		}
		layout.dates = append(layout.dates, ScheduleColumn{
			Sheet:  sheet.Name,
			Index:  i,
			Header: workbook.CellString(header),
			Date:   iso,
			day:    day,
		})
	}
	return layout
}

// upsertShift writes one roster cell and reports whether it was new.
func (s *Service) upsertShift(ctx context.Context, table string, key []string, rec store.Row) RowResult {
	var rr RowResult
	filter := make(store.Filter, len(key))
	for _, k := range key {
		v, ok := rec[k]
		if !ok {
			rr.Outcome = OutcomeFailed
			rr.Error = fmt.Sprintf("missing required field %q", k)
			return rr
		}
		filter[k] = v
	}

	existing, err := s.store.Get(ctx, table, filter)
	if err != nil {
		rr.Outcome = OutcomeFailed
		rr.Error = err.Error()
		return rr
	}
	if err := s.store.Upsert(ctx, table, []store.Row{rec}, key); err != nil {
		rr.Outcome = OutcomeFailed
		rr.Error = err.Error()
		return rr
	}

	rr.Outcome = OutcomeInserted
	if existing != nil {
		rr.Outcome = OutcomeUpdated
	}
	return rr
}
