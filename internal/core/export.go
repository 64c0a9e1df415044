package core

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// LogExportHeaders are the column headers of an exported activity log.
var LogExportHeaders = []string{"Row", "Identifier", "Status", "Message", "Timestamp"}

const (
	logSheetName      = "Log"
	templateSheetName = "Template"
)

// WriteLogWorkbook writes logs as a single-sheet xlsx workbook.
func WriteLogWorkbook(w io.Writer, logs []ImportLog) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", logSheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeHeaderRow(f, logSheetName, LogExportHeaders); err != nil {
		return err
	}

	for i, entry := range logs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			entry.Row,
			entry.Identifier,
			string(entry.Status),
			entry.Message,
			entry.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(logSheetName, cell, &values); err != nil {
			return fmt.Errorf("write log row %d: %w", i+1, err)
		}
	}

	_ = f.SetColWidth(logSheetName, "B", "B", 20)
	_ = f.SetColWidth(logSheetName, "D", "D", 48)
	_ = f.SetColWidth(logSheetName, "E", "E", 22)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write log workbook: %w", err)
	}
	return nil
}

// WriteTemplateWorkbook writes the import template for def: one header
// row and one example row, in the column order the parser expects.
func WriteTemplateWorkbook(w io.Writer, def Definition) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeHeaderRow(f, templateSheetName, def.Headers()); err != nil {
		return err
	}

	example := make([]any, len(def.Fields))
	for i, spec := range def.Fields {
		example[i] = exampleValue(spec)
	}
	if err := f.SetSheetRow(templateSheetName, "A2", &example); err != nil {
		return fmt.Errorf("write example row: %w", err)
	}

	for i := range def.Fields {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(templateSheetName, col, col, 18)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write template workbook: %w", err)
	}
	return nil
}

// LogExportFileName names a log download, e.g. "inventory_log_20240102-150405.xlsx".
func LogExportFileName(importType string, at time.Time) string {
	return fmt.Sprintf("%s_log_%s.xlsx", importType, at.UTC().Format("20060102-150405"))
}

// TemplateFileName names a template download.
func TemplateFileName(importType string) string {
	return fmt.Sprintf("template_%s.xlsx", importType)
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(headers) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

// exampleValue writes numeric examples as numbers so the template round
// trips through the parser unchanged.
func exampleValue(spec FieldSpec) any {
	if spec.Type == FieldNumeric && spec.Example != "" {
		if n, err := strconv.ParseFloat(spec.Example, 64); err == nil {
			return n
		}
	}
	return spec.Example
}
