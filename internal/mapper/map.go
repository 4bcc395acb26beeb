package mapper

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/refold/refold/internal/expr"
	"github.com/refold/refold/internal/spec"
)

// ReadFile reads a measurement file at path and maps it through profile.
// Only csv and tsv formats are supported; the sheet-addressed spreadsheet
// formats of the authoring surface are converted upstream of the core.
func ReadFile(path string, profile *spec.FileProfile) (*AxisSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MappingError{Code: ErrCodeFileRead, FileID: profile.ID, Path: path, Message: err.Error()}
	}
	defer f.Close()

	header, rows, err := readDelimited(f, profile.Format)
	if err != nil {
		if me, ok := err.(*MappingError); ok {
			me.FileID = profile.ID
			me.Path = path
			return nil, me
		}
		return nil, &MappingError{Code: ErrCodeFileRead, FileID: profile.ID, Path: path, Message: err.Error()}
	}

	series, err := MapRows(header, rows, profile)
	if err != nil {
		return nil, err
	}
	series.Path = path
	return series, nil
}

func readDelimited(r io.Reader, format string) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	switch format {
	case "csv":
	case "tsv":
		reader.Comma = '\t'
	default:
		return nil, nil, &MappingError{Code: ErrCodeUnsupportedKind, Message: fmt.Sprintf("unsupported format %q", format)}
	}

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", len(rows), err)
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

// MapRows maps parsed file content (header + sample rows) through a profile.
// Exposed separately from ReadFile so callers with in-memory data can map
// without touching the filesystem.
func MapRows(header []string, rows [][]string, profile *spec.FileProfile) (*AxisSeries, error) {
	idx := headerIndex(header)
	out := &AxisSeries{
		FileID: profile.ID,
		Length: len(rows),
		byName: make(map[string]*Series),
	}

	for _, axis := range profile.Axes {
		col, src := findColumn(idx, axis.Source, axis.Candidates)
		if col < 0 {
			switch axis.OnMissing {
			case spec.MissingError:
				return nil, &MappingError{
					Code: ErrCodeMissingAxis, FileID: profile.ID, Axis: axis.Axis,
					Message: missingDescription(axis.Source, axis.Candidates),
				}
			case spec.MissingBlank:
				out.add(blankSeries(axis.Axis, len(rows)))
			}
			// skip: axis omitted from the series entirely.
			continue
		}
		out.add(extractSeries(axis.Axis, src, col, rows, out))
	}

	for _, tgt := range profile.Targets {
		cols, srcs := findColumns(idx, tgt.Source, tgt.Candidates, tgt.AllowMultiple)
		if len(cols) == 0 {
			switch tgt.OnMissing {
			case spec.MissingError:
				return nil, &MappingError{
					Code: ErrCodeMissingAxis, FileID: profile.ID, Axis: tgt.Name,
					Message: missingDescription(tgt.Source, tgt.Candidates),
				}
			case spec.MissingBlank:
				out.add(blankSeries(tgt.Name, len(rows)))
			}
			continue
		}
		for i, col := range cols {
			name := tgt.Name
			if len(cols) > 1 {
				name = tgt.Name + "_" + srcs[i]
			}
			out.add(extractSeries(name, srcs[i], col, rows, out))
		}
	}

	if err := evalDerivedSeries(out, profile); err != nil {
		return nil, err
	}
	return out, nil
}

// headerIndex maps normalized column names to their first position. Duplicate
// native names keep the leftmost column, matching first-wins semantics.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeName(h)
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// normalizeName canonicalizes a column name for matching: NFC-normalized
// (user files mix composed and decomposed forms), trimmed, case-folded.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(name)))
}

// findColumn locates the source column for an axis: explicit source bypasses
// the candidate search, otherwise candidates are scanned in order and the
// first hit wins. Returns -1 when nothing matches.
func findColumn(idx map[string]int, source string, candidates []string) (int, string) {
	if source != "" {
		if col, ok := idx[normalizeName(source)]; ok {
			return col, source
		}
		return -1, ""
	}
	for _, cand := range candidates {
		if col, ok := idx[normalizeName(cand)]; ok {
			return col, cand
		}
	}
	return -1, ""
}

// findColumns is findColumn generalized for allow_multiple targets: every
// candidate that matches contributes a column, in candidate order.
func findColumns(idx map[string]int, source string, candidates []string, multiple bool) ([]int, []string) {
	if !multiple {
		col, src := findColumn(idx, source, candidates)
		if col < 0 {
			return nil, nil
		}
		return []int{col}, []string{src}
	}
	var cols []int
	var srcs []string
	seen := make(map[int]bool)
	if source != "" {
		candidates = []string{source}
	}
	for _, cand := range candidates {
		if col, ok := idx[normalizeName(cand)]; ok && !seen[col] {
			seen[col] = true
			cols = append(cols, col)
			srcs = append(srcs, cand)
		}
	}
	return cols, srcs
}

func missingDescription(source string, candidates []string) string {
	if source != "" {
		return fmt.Sprintf("source column %q not found in file", source)
	}
	return fmt.Sprintf("no candidate matched: %s", strings.Join(candidates, ", "))
}

// extractSeries coerces one native column into a numeric series. Unparsable
// samples become missing values with a recorded defect.
func extractSeries(name, source string, col int, rows [][]string, out *AxisSeries) *Series {
	values := make([]float64, len(rows))
	missing := make([]bool, len(rows))
	for i, row := range rows {
		if col >= len(row) {
			values[i] = math.NaN()
			missing[i] = true
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			values[i] = math.NaN()
			missing[i] = true
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			values[i] = math.NaN()
			missing[i] = true
			out.Defects = append(out.Defects, Defect{
				Column: name, Sample: i,
				Message: fmt.Sprintf("cannot coerce %q to number", cell),
			})
			continue
		}
		values[i] = v
	}
	return &Series{Name: name, Source: source, Values: values, Missing: missing}
}

// evalDerivedSeries computes the profile's per-sample derived series over the
// already-mapped axes and targets. A missing operand yields a missing sample;
// an evaluation fault (division by zero) yields a missing sample plus a
// defect.
func evalDerivedSeries(out *AxisSeries, profile *spec.FileProfile) error {
	for _, d := range profile.DerivedSeries {
		allowed := make(map[string]struct{}, len(out.byName))
		for name := range out.byName {
			allowed[name] = struct{}{}
		}
		compiled, err := expr.Compile(d.Expr, allowed)
		if err != nil {
			// Validated at spec time against declared names; a file that maps
			// fewer series (skipped axes) can still fail here, which is a
			// mapping problem for this file, not a spec problem.
			return &MappingError{
				Code: ErrCodeMissingAxis, FileID: profile.ID, Axis: d.Name,
				Message: fmt.Sprintf("derived series needs unmapped input: %v", err),
			}
		}

		values := make([]float64, out.Length)
		missing := make([]bool, out.Length)
		refs := compiled.Refs()
		bindings := make(map[string]float64, len(refs))
		for i := 0; i < out.Length; i++ {
			ok := true
			for _, ref := range refs {
				s := out.byName[ref]
				if s.Missing[i] {
					ok = false
					break
				}
				bindings[ref] = s.Values[i]
			}
			if !ok {
				values[i] = math.NaN()
				missing[i] = true
				continue
			}
			v, err := compiled.Evaluate(bindings)
			if err != nil {
				values[i] = math.NaN()
				missing[i] = true
				out.Defects = append(out.Defects, Defect{
					Column: d.Name, Sample: i, Message: err.Error(),
				})
				continue
			}
			values[i] = v
		}
		out.add(&Series{Name: d.Name, Values: values, Missing: missing})
	}
	return nil
}
