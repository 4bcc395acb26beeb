package builder

import (
	"encoding/csv"
	"io"

	"github.com/refold/refold/internal/table"
)

// WriteCSV writes the canonical table as CSV, header first. Missing cells
// render as empty fields.
func (t *CanonicalTable) WriteCSV(w io.Writer) error {
	return writeCSV(w, t.Columns, t.Rows)
}

// WriteCSV writes the consolidated table as CSV, header first.
func (t *ConsolidatedTable) WriteCSV(w io.Writer) error {
	return writeCSV(w, t.Columns, t.Rows)
}

func writeCSV(w io.Writer, columns []string, rows [][]table.Value) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, cell := range row {
			record[i] = table.Render(cell)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
