// Package builder assembles the two output tables: the long-form canonical
// table (one row per sample) and the wide consolidated table (one row per
// condition row). Column order is deterministic and identical for every run
// over the same specification and inputs.
package builder

import (
	"fmt"
	"math"

	"github.com/refold/refold/internal/aggregate"
	"github.com/refold/refold/internal/combine"
	"github.com/refold/refold/internal/expr"
	"github.com/refold/refold/internal/spec"
	"github.com/refold/refold/internal/table"
)

// Build error codes (E420-E429).
const (
	ErrCodeDerivedCompile = "E420" // derived expression does not compile
	ErrCodeDerivedCycle   = "E421" // derived dependency cycle reached build time
)

// BuildError reports a specification-level build failure. These abort the
// whole build; row-scoped evaluation faults are returned per row instead.
type BuildError struct {
	Code    string
	Column  string
	Message string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("[%s] derived %q: %s", e.Code, e.Column, e.Message)
}

// FileAggregates carries the scalars reduced from one mapped file.
type FileAggregates struct {
	FileID string
	Values map[string]aggregate.Scalar
}

// RowData is everything one successfully processed condition row contributes
// to the tables.
type RowData struct {
	Combined   *combine.Combined
	Aggregates []FileAggregates // in file profile order
}

// CanonicalTable is the long-form output.
type CanonicalTable struct {
	Columns []string
	Rows    [][]table.Value
}

// ConsolidatedTable is the wide output, one row per condition row.
type ConsolidatedTable struct {
	Columns []string
	Rows    [][]table.Value
}

// Fixed provenance columns of the canonical table.
const (
	ColRow     = "row"
	ColFileID  = "file_id"
	ColCombine = "combine_mode"
)

// Build assembles both tables from per-row pipeline output. Rows absent from
// perRow (failed upstream) are skipped. Rows that fail derived-column
// evaluation are excluded from both tables and reported in the returned map;
// a non-nil error means the specification itself is unusable.
func Build(rows []table.ConditionRow, perRow map[int]*RowData, sp *spec.Specification) (*CanonicalTable, *ConsolidatedTable, map[int]error, error) {
	derived, err := compileDerived(sp)
	if err != nil {
		return nil, nil, nil, err
	}

	aggCols := aggregateColumns(rows, perRow, sp)
	canonical := &CanonicalTable{Columns: canonicalColumns(rows, perRow, sp)}
	consolidated := &ConsolidatedTable{Columns: consolidatedColumns(sp, aggCols, derived)}
	rowErrs := make(map[int]error)

	for _, row := range rows {
		data, ok := perRow[row.Index]
		if !ok {
			continue
		}

		wide, err := buildWideRow(row, data, sp, aggCols, derived)
		if err != nil {
			rowErrs[row.Index] = err
			continue
		}
		consolidated.Rows = append(consolidated.Rows, wide)
		canonical.Rows = append(canonical.Rows, buildLongRows(row, data, sp, canonical.Columns)...)
	}

	if len(rowErrs) == 0 {
		rowErrs = nil
	}
	return canonical, consolidated, rowErrs, nil
}

type compiledDerived struct {
	def      spec.DerivedColumn
	compiled *expr.Compiled
}

// compileDerived compiles every spec-level derived column and orders them by
// dependency. Validation should have caught failures already; hitting one
// here still aborts cleanly.
func compileDerived(sp *spec.Specification) ([]compiledDerived, error) {
	allowed := make(map[string]struct{})
	for _, n := range sp.ConditionNames() {
		allowed[n] = struct{}{}
	}
	for _, n := range sp.AggregateNames() {
		allowed[n] = struct{}{}
	}
	for _, d := range sp.Derived {
		allowed[d.Name] = struct{}{}
	}

	byName := make(map[string]*expr.Compiled, len(sp.Derived))
	refs := make(map[string][]string, len(sp.Derived))
	for _, d := range sp.Derived {
		c, err := expr.Compile(d.Expr, allowed)
		if err != nil {
			return nil, &BuildError{Code: ErrCodeDerivedCompile, Column: d.Name, Message: err.Error()}
		}
		byName[d.Name] = c
		refs[d.Name] = c.Refs()
	}

	ordered, err := sp.DerivedOrder(refs)
	if err != nil {
		return nil, &BuildError{Code: ErrCodeDerivedCycle, Column: "derived", Message: err.Error()}
	}

	out := make([]compiledDerived, 0, len(ordered))
	for _, d := range ordered {
		out = append(out, compiledDerived{def: d, compiled: byName[d.Name]})
	}
	return out, nil
}

// aggregateColumns computes the consolidated aggregate column set: spec order
// per aggregate, expanded to `<name>_<file_id>` for aggregates whose owning
// row block set came from an append. The expansion is the union across rows,
// so auto runs that split per row still share one column set.
func aggregateColumns(rows []table.ConditionRow, perRow map[int]*RowData, sp *spec.Specification) []string {
	suffixed := make(map[string]map[string]bool) // aggregate -> file ids seen under append
	plain := make(map[string]bool)

	for _, row := range rows {
		data, ok := perRow[row.Index]
		if !ok {
			continue
		}
		appended := data.Combined.Applied == spec.CombineAppend && len(data.Aggregates) > 1
		for _, fa := range data.Aggregates {
			for name := range fa.Values {
				if appended {
					if suffixed[name] == nil {
						suffixed[name] = make(map[string]bool)
					}
					suffixed[name][fa.FileID] = true
				} else {
					plain[name] = true
				}
			}
		}
	}

	var cols []string
	for _, f := range sp.Files {
		for _, a := range f.Aggregates {
			if plain[a.Name] || suffixed[a.Name] == nil {
				cols = append(cols, a.Name)
			}
			if ids := suffixed[a.Name]; ids != nil {
				// File order, not map order.
				for _, ff := range sp.Files {
					if ids[ff.ID] {
						cols = append(cols, a.Name+"_"+ff.ID)
					}
				}
			}
		}
	}
	return cols
}

func consolidatedColumns(sp *spec.Specification, aggCols []string, derived []compiledDerived) []string {
	cols := append([]string{}, sp.ConditionNames()...)
	cols = append(cols, aggCols...)
	// Derived columns appear in declaration order even though they evaluate
	// in dependency order.
	for _, d := range sp.Derived {
		cols = append(cols, d.Name)
	}
	return cols
}

// canonicalColumns is provenance + condition scalars + the union of series
// names across all blocks: coordinate axes first in canonical order, then
// payload series in first-appearance order.
func canonicalColumns(rows []table.ConditionRow, perRow map[int]*RowData, sp *spec.Specification) []string {
	present := make(map[string]bool)
	var payload []string
	for _, row := range rows {
		data, ok := perRow[row.Index]
		if !ok {
			continue
		}
		for _, block := range data.Combined.Blocks {
			for _, s := range block.Series {
				if present[s.Name] {
					continue
				}
				present[s.Name] = true
				if !isCoordinate(s.Name) {
					payload = append(payload, s.Name)
				}
			}
		}
	}

	cols := []string{ColRow}
	cols = append(cols, sp.ConditionNames()...)
	cols = append(cols, ColFileID, ColCombine)
	for _, a := range spec.CanonicalAxes {
		if present[a] {
			cols = append(cols, a)
		}
	}
	return append(cols, payload...)
}

func isCoordinate(name string) bool {
	for _, a := range spec.CanonicalAxes {
		if name == a {
			return true
		}
	}
	return false
}

func buildLongRows(row table.ConditionRow, data *RowData, sp *spec.Specification, columns []string) [][]table.Value {
	condNames := sp.ConditionNames()
	fixed := 1 + len(condNames) + 2 // row + conditions + file_id + combine_mode

	var out [][]table.Value
	for _, block := range data.Combined.Blocks {
		for i := 0; i < block.Length; i++ {
			cells := make([]table.Value, len(columns))
			cells[0] = table.Number(row.Index)
			for j, n := range condNames {
				cells[1+j] = row.Cell(n)
			}
			if block.FileID == "" {
				cells[1+len(condNames)] = table.Missing{}
			} else {
				cells[1+len(condNames)] = table.Text(block.FileID)
			}
			cells[2+len(condNames)] = table.Text(string(data.Combined.Applied))

			for k := fixed; k < len(columns); k++ {
				s := block.ByName(columns[k])
				if s == nil || s.Missing[i] {
					cells[k] = table.Missing{}
				} else {
					cells[k] = table.Number(s.Values[i])
				}
			}
			out = append(out, cells)
		}
	}
	return out
}

func buildWideRow(row table.ConditionRow, data *RowData, sp *spec.Specification, aggCols []string, derived []compiledDerived) ([]table.Value, error) {
	// Scalar bindings available to derived expressions: numeric condition
	// cells plus non-missing aggregates under their column names.
	bindings := make(map[string]float64)
	aggValues := make(map[string]table.Value, len(aggCols))
	for _, c := range aggCols {
		aggValues[c] = table.Missing{}
	}

	condNames := sp.ConditionNames()
	for _, n := range condNames {
		if v, ok := table.AsNumber(row.Cell(n)); ok {
			bindings[n] = v
		}
	}

	appended := data.Combined.Applied == spec.CombineAppend && len(data.Aggregates) > 1
	for _, fa := range data.Aggregates {
		for name, s := range fa.Values {
			col := name
			if appended {
				col = name + "_" + fa.FileID
			}
			if s.Missing {
				continue
			}
			// Under append the bare aggregate name stays unbound, so a
			// derived column referencing it over a split row yields a
			// missing cell rather than an arbitrary constituent's value.
			aggValues[col] = table.Number(s.Value)
			bindings[col] = s.Value
		}
	}

	derivedValues := make(map[string]table.Value, len(derived))
	for _, d := range derived {
		val, err := evalDerivedCell(d.compiled, bindings)
		if err != nil {
			return nil, fmt.Errorf("derived %q: %w", d.def.Name, err)
		}
		derivedValues[d.def.Name] = val
		if n, ok := table.AsNumber(val); ok {
			bindings[d.def.Name] = n
		}
	}

	cells := make([]table.Value, 0, len(condNames)+len(aggCols)+len(sp.Derived))
	for _, n := range condNames {
		cells = append(cells, row.Cell(n))
	}
	for _, c := range aggCols {
		cells = append(cells, aggValues[c])
	}
	for _, d := range sp.Derived {
		cells = append(cells, derivedValues[d.Name])
	}
	return cells, nil
}

// evalDerivedCell evaluates one derived column for one row. A reference with
// no binding (missing aggregate, non-numeric condition cell) yields a missing
// cell. An evaluation fault such as division by zero is an error for the
// caller: the row is excluded and reported, not silently blanked.
func evalDerivedCell(c *expr.Compiled, bindings map[string]float64) (table.Value, error) {
	for _, ref := range c.Refs() {
		if _, ok := bindings[ref]; !ok {
			return table.Missing{}, nil
		}
	}
	v, err := c.Evaluate(bindings)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return table.Missing{}, nil
	}
	return table.Number(v), nil
}
