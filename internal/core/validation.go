package core

// validation.go checks parsed rows before anything is sent to the remote.
//
// Rules compose per field and accumulate: a row with three problems carries
// all three messages. Validation never touches the network and returns new
// rows, so the same input always produces the same output.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// messageSeparator joins accumulated violation messages.
const messageSeparator = ", "

// Validate returns a copy of rows with Status and ErrorMsg set per row.
//
// Only rows that have not entered processing are (re)validated: rows that
// are processing, completed or failed keep their state, which makes the
// function safe to apply to rows restored from a checkpoint.
func Validate(def Definition, rows []ImportRow) []ImportRow {
	out := make([]ImportRow, len(rows))
	for i, row := range rows {
		row = row.clone()
		switch row.Status {
		case StatusProcessing, StatusCompleted, StatusFailed:
		default:
			if errs := ValidateRow(def, row); len(errs) > 0 {
				row.Status = StatusError
				row.ErrorMsg = strings.Join(errs, messageSeparator)
			} else {
				row.Status = StatusValid
				row.ErrorMsg = ""
			}
		}
		out[i] = row
	}
	return out
}

// ValidateRow returns every violation message for a row, in field order.
func ValidateRow(def Definition, row ImportRow) []string {
	var errs []string
	for _, spec := range def.Fields {
		if msg := validateField(spec, strings.TrimSpace(row.Field(spec.Name))); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

func validateField(spec FieldSpec, raw string) string {
	if raw == "" {
		if spec.Required {
			return requiredMessage(spec)
		}
		if spec.Type == FieldText || spec.Optional {
			return ""
		}
	}

	switch spec.Type {
	case FieldNumeric:
		n, ok := ParseNumber(raw)
		if !ok {
			return invalidMessage(spec, "must be a number")
		}
		if (spec.Min != nil && n < *spec.Min) || (spec.Max != nil && n > *spec.Max) {
			if spec.RangeMessage != "" {
				return spec.RangeMessage
			}
			return invalidMessage(spec, "is out of range")
		}
	case FieldDate:
		if !datePattern.MatchString(raw) {
			return invalidMessage(spec, "must use YYYY-MM-DD")
		}
	case FieldEmail:
		if !emailPattern.MatchString(raw) {
			return invalidMessage(spec, "is not a valid email")
		}
	}
	return ""
}

// ParseNumber parses a cell as a finite float.
func ParseNumber(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func requiredMessage(spec FieldSpec) string {
	if spec.RequiredMessage != "" {
		return spec.RequiredMessage
	}
	return fmt.Sprintf("%s is required", spec.HeaderText())
}

func invalidMessage(spec FieldSpec, fallback string) string {
	if spec.InvalidMessage != "" {
		return spec.InvalidMessage
	}
	return fmt.Sprintf("%s %s", spec.HeaderText(), fallback)
}

// CountByStatus tallies rows per status for preview summaries.
func CountByStatus(rows []ImportRow) map[RowStatus]int {
	counts := make(map[RowStatus]int)
	for _, r := range rows {
		counts[r.Status]++
	}
	return counts
}
