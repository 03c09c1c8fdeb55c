package workbook

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

func parseXLSX(r io.Reader) ([]*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sheets []*Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read rows from sheet %s: %w", name, err)
		}

		typed := make([][]any, len(rows))
		for ri, row := range rows {
			cells := make([]any, len(row))
			for ci, v := range row {
				cells[ci] = typedCell(f, name, ri, ci, v)
			}
			typed[ri] = cells
		}

		if s := newSheet(name, typed); s != nil {
			sheets = append(sheets, s)
		}
	}
	return sheets, nil
}

// typedCell turns a raw cell value into float64 for numeric cells, bool
// for boolean cells, and a string otherwise. Date-formatted numeric cells
// stay serial numbers.
func typedCell(f *excelize.File, sheet string, row, col int, raw string) any {
	if raw == "" {
		return nil
	}
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return raw
	}
	ct, err := f.GetCellType(sheet, axis)
	if err != nil {
		return raw
	}

	switch ct {
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeFormula:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	case excelize.CellTypeBool:
		return raw == "1" || raw == "TRUE" || raw == "true"
	}
	return raw
}
