package core

// parser.go turns an uploaded spreadsheet into ImportRows.
//
// Only the first sheet of a workbook is read. The first row is always the
// header and is discarded; columns are taken positionally in the order the
// definition declares them, matching the downloadable template. CSV files
// are accepted as a single-sheet spreadsheet.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ErrUnreadableFile is returned when the upload cannot be decoded as a
// spreadsheet. It is reported once for the whole file, never per row.
var ErrUnreadableFile = errors.New("file could not be read as a spreadsheet")

// ErrNoRows is returned when a file decodes but has no data rows.
var ErrNoRows = errors.New("file contains no data rows")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFile decodes a spreadsheet and maps its data rows onto def.
// Rows whose key fields are all empty are dropped.
func ParseFile(def Definition, fileName string, data []byte) ([]ImportRow, error) {
	records, err := ReadRecords(fileName, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return RecordsToRows(def, records), nil
}

// ReadRecords returns the raw rows of the first sheet with the header row
// stripped.
func ReadRecords(fileName string, r io.Reader) ([][]string, error) {
	var (
		records [][]string
		err     error
	)
	if strings.EqualFold(filepath.Ext(fileName), ".csv") {
		records, err = readCSV(r)
	} else {
		records, err = readWorkbook(r)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if len(records) <= 1 {
		return nil, nil
	}
	return records[1:], nil
}

func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	// Raw values keep numbers free of display formatting (thousand
	// separators, currency symbols).
	return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
}

func readCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		for i, cell := range rec {
			if !utf8.ValidString(cell) {
				rec[i] = strings.ToValidUTF8(cell, "�")
			}
		}
	}
	return records, nil
}

// RecordsToRows maps positional records onto the definition's fields.
// The returned rows are pending; run Validate to classify them.
func RecordsToRows(def Definition, records [][]string) []ImportRow {
	rows := make([]ImportRow, 0, len(records))
	for i, rec := range records {
		fields := make(map[string]string, len(def.Fields))
		for col, spec := range def.Fields {
			if col < len(rec) {
				fields[spec.Name] = cleanCell(rec[col])
			} else {
				fields[spec.Name] = ""
			}
		}

		row := ImportRow{
			Row:    i + 2, // header occupies line 1
			Fields: fields,
			Status: StatusPending,
		}
		if missingKeys(def, row) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func missingKeys(def Definition, row ImportRow) bool {
	if len(def.KeyFields) == 0 {
		for _, v := range row.Fields {
			if v != "" {
				return false
			}
		}
		return true
	}
	for _, k := range def.KeyFields {
		if row.Field(k) != "" {
			return false
		}
	}
	return true
}

// cleanCell trims whitespace and strips the Excel text-formula wrapper
// (="value") some exporters emit.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
