package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/refold/refold/internal/spec"
)

// ConditionRow is one scalar record from the condition table. Index is the
// zero-based position in the input and doubles as the row identity everywhere
// downstream.
type ConditionRow struct {
	Index int
	Cells map[string]Value
}

// Cell returns the named cell, Missing when absent.
func (r ConditionRow) Cell(name string) Value {
	if v, ok := r.Cells[name]; ok {
		return v
	}
	return Missing{}
}

// PathCell returns the trimmed raw path text of a path cell, empty when the
// cell is missing or not textual.
func (r ConditionRow) PathCell(name string) string {
	if t, ok := r.Cell(name).(Text); ok {
		return strings.TrimSpace(string(t))
	}
	return ""
}

// ReadConditionsCSV reads a condition table from CSV and coerces every
// declared column to its condition-column type. Every declared column must be
// present in the header; extra columns are carried through as text. Required
// columns with missing values are not rejected here; that is a row-scoped
// concern reported per row by the runner.
func ReadConditionsCSV(r io.Reader, sp *spec.Specification) ([]ConditionRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read condition header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	colType := make(map[string]string, len(sp.Conditions))
	for _, c := range sp.Conditions {
		colType[c.Name] = c.Type
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range sp.Conditions {
		if !present[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("condition table is missing declared columns: %s", strings.Join(missing, ", "))
	}

	var rows []ConditionRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read condition row %d: %w", len(rows), err)
		}

		cells := make(map[string]Value, len(header))
		for i, h := range header {
			if i >= len(record) {
				cells[h] = Missing{}
				continue
			}
			if typ, declared := colType[h]; declared {
				cells[h] = Coerce(record[i], typ)
			} else {
				cells[h] = Coerce(record[i], "str")
			}
		}
		rows = append(rows, ConditionRow{Index: len(rows), Cells: cells})
	}
	return rows, nil
}

// CheckRequired returns the names of required condition columns whose cell is
// missing or blank on the given row.
func CheckRequired(row ConditionRow, sp *spec.Specification) []string {
	var missing []string
	for _, c := range sp.Conditions {
		if !c.Required {
			continue
		}
		if IsMissing(row.Cell(c.Name)) {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

// CheckEnum returns a message per enum-constrained cell whose value falls
// outside the declared set. Missing cells are not enum violations.
func CheckEnum(row ConditionRow, sp *spec.Specification) []string {
	var violations []string
	for _, c := range sp.Conditions {
		if len(c.Enum) == 0 {
			continue
		}
		v := row.Cell(c.Name)
		if IsMissing(v) {
			continue
		}
		text := Render(v)
		ok := false
		for _, allowed := range c.Enum {
			if text == allowed {
				ok = true
				break
			}
		}
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: value %q not in enum {%s}", c.Name, text, strings.Join(c.Enum, ", ")))
		}
	}
	return violations
}
