package workbook

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func parseCSV(data []byte, name string) (*Sheet, error) {
	data = decodeText(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		cells := make([]any, len(rec))
		for j, v := range rec {
			if v != "" {
				cells[j] = v
			}
		}
		rows[i] = cells
	}
	return newSheet(name, rows), nil
}

// decodeText drops a UTF-8 BOM and converts non-UTF-8 input. Clinic exports
// that are not UTF-8 are almost always Windows-1256 (Arabic); anything
// still invalid after that is sanitized.
func decodeText(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	if decoded, err := charmap.Windows1256.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
		return decoded
	}
	return sanitizeUTF8(data)
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
		} else {
			buf.WriteRune(r)
		}
		data = data[size:]
	}
	return buf.Bytes()
}

// detectDelimiter picks ',', ';' or tab by counting them in the first line
// outside quotes.
func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	counts := map[rune]int{}
	inQuotes := false
	for _, b := range line {
		switch {
		case b == '"':
			inQuotes = !inQuotes
		case inQuotes:
		case b == ',', b == ';', b == '\t':
			counts[rune(b)]++
		}
	}

	best := ','
	for _, d := range []rune{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}
