// Package workbook reads flat, single-header-row sheets from .xlsx and .csv
// files.
//
// Cells come back as string, float64 (numeric xlsx cells), or nil. The
// first row of every sheet is its header row; fully empty data rows are
// dropped and Row.Line keeps the source row number.
package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupportedFormat is returned for file types other than xlsx and csv.
var ErrUnsupportedFormat = errors.New("unsupported workbook format")

// ErrEmpty is returned when a workbook has no sheet with a header row.
var ErrEmpty = errors.New("workbook has no data")

// Row is one data row. Line is the 1-based row number in the source sheet.
type Row struct {
	Line  int
	Cells []any
}

// Sheet is one tabular sheet.
type Sheet struct {
	Name    string
	Headers []any
	Rows    []Row
}

// Workbook is every sheet of a file, in file order.
type Workbook struct {
	Name   string
	Sheets []*Sheet
}

// First returns the first sheet, which is the one row imports read.
func (w *Workbook) First() (*Sheet, error) {
	if w == nil || len(w.Sheets) == 0 {
		return nil, ErrEmpty
	}
	return w.Sheets[0], nil
}

// Headers returns the header cells of every sheet, in order.
func (w *Workbook) Headers() []any {
	var out []any
	for _, s := range w.Sheets {
		out = append(out, s.Headers...)
	}
	return out
}

// ColumnNames renders the headers as strings.
func (s *Sheet) ColumnNames() []string {
	names := make([]string, len(s.Headers))
	for i, h := range s.Headers {
		names[i] = CellString(h)
	}
	return names
}

// Cell returns the value at column col of r, or nil past the end of a
// short row.
func (r Row) Cell(col int) any {
	if col < 0 || col >= len(r.Cells) {
		return nil
	}
	return r.Cells[col]
}

// CellString renders a cell for display and header matching.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// Open reads the workbook at path, choosing the reader by extension.
func Open(path string) (*Workbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return Parse(data, filepath.Base(path))
}

// Read reads a workbook from r. name is the original file name and picks
// the format by extension.
func Read(r io.Reader, name string) (*Workbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return Parse(data, name)
}

// Parse decodes a workbook held in memory.
func Parse(data []byte, name string) (*Workbook, error) {
	var (
		sheets []*Sheet
		err    error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		sheets, err = parseXLSX(bytes.NewReader(data))
	case ".csv", ".txt":
		var sheet *Sheet
		sheet, err = parseCSV(data, strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
		if sheet != nil {
			sheets = []*Sheet{sheet}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	return &Workbook{Name: name, Sheets: sheets}, nil
}

// newSheet splits raw rows into header and data rows.
func newSheet(name string, rows [][]any) *Sheet {
	start := 0
	for start < len(rows) && isEmptyRow(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil
	}

	s := &Sheet{Name: name, Headers: trimTrailingEmpty(rows[start])}
	for i := start + 1; i < len(rows); i++ {
		if isEmptyRow(rows[i]) {
			continue
		}
		s.Rows = append(s.Rows, Row{Line: i + 1, Cells: rows[i]})
	}
	return s
}

func isEmptyRow(row []any) bool {
	for _, v := range row {
		if CellString(v) != "" {
			return false
		}
	}
	return true
}

func trimTrailingEmpty(row []any) []any {
	end := len(row)
	for end > 0 && CellString(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
