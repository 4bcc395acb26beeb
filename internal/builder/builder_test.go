package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refold/refold/internal/aggregate"
	"github.com/refold/refold/internal/combine"
	"github.com/refold/refold/internal/mapper"
	"github.com/refold/refold/internal/spec"
	"github.com/refold/refold/internal/table"
)

func seriesOf(name string, values []float64) *mapper.Series {
	return &mapper.Series{Name: name, Values: values, Missing: make([]bool, len(values))}
}

func condRow(idx int, cells map[string]table.Value) table.ConditionRow {
	return table.ConditionRow{Index: idx, Cells: cells}
}

func testSpec() *spec.Specification {
	return &spec.Specification{
		SchemaVersion: 1,
		Conditions: []spec.ConditionColumn{
			{Name: "sample_id", Type: "str", Required: true},
			{Name: "mass", Type: "float"},
			{Name: "data_file", Type: "path"},
		},
		Files: []spec.FileProfile{{
			ID: "main", PathColumn: "data_file", Format: "csv",
			Aggregates: []spec.Aggregate{
				{Name: "impulse", Source: "f", Op: "trapz", Wrt: "t"},
			},
		}},
		Derived: []spec.DerivedColumn{
			{Name: "impulse_per_kg", Expr: "impulse / mass"},
		},
		Combine: spec.CombineAuto,
	}
}

func mergedData(impulse float64) *RowData {
	return &RowData{
		Combined: &combine.Combined{
			Applied: spec.CombineMerge,
			Blocks: []*combine.Block{{
				FileID: "main",
				Length: 2,
				Series: []*mapper.Series{
					seriesOf("t", []float64{0, 1}),
					seriesOf("f", []float64{1, 3}),
				},
			}},
		},
		Aggregates: []FileAggregates{{
			FileID: "main",
			Values: map[string]aggregate.Scalar{"impulse": {Value: impulse}},
		}},
	}
}

func TestBuildTables(t *testing.T) {
	sp := testSpec()
	rows := []table.ConditionRow{
		condRow(0, map[string]table.Value{
			"sample_id": table.Text("s1"), "mass": table.Number(2), "data_file": table.Text("a.csv"),
		}),
		condRow(1, map[string]table.Value{
			"sample_id": table.Text("s2"), "mass": table.Number(4), "data_file": table.Text("b.csv"),
		}),
	}
	perRow := map[int]*RowData{0: mergedData(2), 1: mergedData(8)}

	canonical, consolidated, rowErrs, err := Build(rows, perRow, sp)
	require.NoError(t, err)
	assert.Nil(t, rowErrs)

	assert.Equal(t,
		[]string{"row", "sample_id", "mass", "data_file", "file_id", "combine_mode", "t", "f"},
		canonical.Columns)
	require.Len(t, canonical.Rows, 4)
	first := canonical.Rows[0]
	assert.Equal(t, table.Number(0), first[0])
	assert.Equal(t, table.Text("s1"), first[1])
	assert.Equal(t, table.Text("main"), first[4])
	assert.Equal(t, table.Text("merge"), first[5])
	assert.Equal(t, table.Number(0), first[6])
	assert.Equal(t, table.Number(1), first[7])

	assert.Equal(t,
		[]string{"sample_id", "mass", "data_file", "impulse", "impulse_per_kg"},
		consolidated.Columns)
	require.Len(t, consolidated.Rows, 2)
	assert.Equal(t, table.Number(1), consolidated.Rows[0][4]) // 2 / 2
	assert.Equal(t, table.Number(2), consolidated.Rows[1][4]) // 8 / 4
}

func TestBuildSkipsFailedRows(t *testing.T) {
	sp := testSpec()
	rows := []table.ConditionRow{
		condRow(0, map[string]table.Value{"sample_id": table.Text("s1"), "mass": table.Number(2)}),
		condRow(1, map[string]table.Value{"sample_id": table.Text("s2"), "mass": table.Number(4)}),
	}
	perRow := map[int]*RowData{1: mergedData(8)}

	canonical, consolidated, rowErrs, err := Build(rows, perRow, sp)
	require.NoError(t, err)
	assert.Nil(t, rowErrs)
	assert.Len(t, canonical.Rows, 2)
	require.Len(t, consolidated.Rows, 1)
	assert.Equal(t, table.Text("s2"), consolidated.Rows[0][0])
}

func TestBuildDerivedMissingOperand(t *testing.T) {
	sp := testSpec()
	rows := []table.ConditionRow{
		// mass absent: impulse_per_kg has an unbound reference.
		condRow(0, map[string]table.Value{"sample_id": table.Text("s1"), "mass": table.Missing{}}),
	}
	perRow := map[int]*RowData{0: mergedData(2)}

	_, consolidated, rowErrs, err := Build(rows, perRow, sp)
	require.NoError(t, err)
	assert.Nil(t, rowErrs)
	require.Len(t, consolidated.Rows, 1)
	assert.True(t, table.IsMissing(consolidated.Rows[0][4]))
}

func TestBuildDerivedEvaluationFaultExcludesRow(t *testing.T) {
	sp := testSpec()
	rows := []table.ConditionRow{
		condRow(0, map[string]table.Value{"sample_id": table.Text("s1"), "mass": table.Number(0)}),
		condRow(1, map[string]table.Value{"sample_id": table.Text("s2"), "mass": table.Number(4)}),
	}
	perRow := map[int]*RowData{0: mergedData(2), 1: mergedData(8)}

	canonical, consolidated, rowErrs, err := Build(rows, perRow, sp)
	require.NoError(t, err)
	require.Contains(t, rowErrs, 0)
	assert.ErrorContains(t, rowErrs[0], "impulse_per_kg")

	// The faulting row is excluded from both tables.
	require.Len(t, consolidated.Rows, 1)
	assert.Equal(t, table.Text("s2"), consolidated.Rows[0][0])
	assert.Len(t, canonical.Rows, 2)
}

func TestBuildAppendSuffixesAggregates(t *testing.T) {
	sp := &spec.Specification{
		SchemaVersion: 1,
		Conditions:    []spec.ConditionColumn{{Name: "sample_id", Type: "str"}},
		Files: []spec.FileProfile{
			{ID: "a", PathColumn: "pa", Aggregates: []spec.Aggregate{{Name: "f_mean", Source: "f", Op: "mean"}}},
			{ID: "b", PathColumn: "pb"},
		},
		Combine: spec.CombineAuto,
	}
	rows := []table.ConditionRow{
		condRow(0, map[string]table.Value{"sample_id": table.Text("s1")}),
	}
	perRow := map[int]*RowData{0: {
		Combined: &combine.Combined{
			Applied: spec.CombineAppend,
			Blocks: []*combine.Block{
				{FileID: "a", Length: 1, Series: []*mapper.Series{seriesOf("f", []float64{5})}},
				{FileID: "b", Length: 1, Series: []*mapper.Series{seriesOf("g", []float64{7})}},
			},
		},
		Aggregates: []FileAggregates{
			{FileID: "a", Values: map[string]aggregate.Scalar{"f_mean": {Value: 5}}},
			{FileID: "b", Values: map[string]aggregate.Scalar{}},
		},
	}}

	canonical, consolidated, rowErrs, err := Build(rows, perRow, sp)
	require.NoError(t, err)
	assert.Nil(t, rowErrs)

	assert.Equal(t, []string{"sample_id", "f_mean_a"}, consolidated.Columns)
	assert.Equal(t, table.Number(5), consolidated.Rows[0][1])

	// Two blocks yield two canonical rows tagged with their file identity.
	require.Len(t, canonical.Rows, 2)
	fileIdx := 2 // row, sample_id, file_id
	assert.Equal(t, table.Text("a"), canonical.Rows[0][fileIdx])
	assert.Equal(t, table.Text("b"), canonical.Rows[1][fileIdx])
}

func TestBuildAutoMixedModesShareColumns(t *testing.T) {
	sp := &spec.Specification{
		SchemaVersion: 1,
		Conditions:    []spec.ConditionColumn{{Name: "sample_id", Type: "str"}},
		Files: []spec.FileProfile{
			{ID: "a", PathColumn: "pa", Aggregates: []spec.Aggregate{{Name: "f_mean", Source: "f", Op: "mean"}}},
			{ID: "b", PathColumn: "pb"},
		},
		Combine: spec.CombineAuto,
	}
	rows := []table.ConditionRow{
		condRow(0, map[string]table.Value{"sample_id": table.Text("m")}),
		condRow(1, map[string]table.Value{"sample_id": table.Text("s")}),
	}
	perRow := map[int]*RowData{
		0: { // merged row: bare aggregate column
			Combined: &combine.Combined{Applied: spec.CombineMerge, Blocks: []*combine.Block{
				{Length: 1, Series: []*mapper.Series{seriesOf("f", []float64{1})}},
			}},
			Aggregates: []FileAggregates{
				{FileID: "a", Values: map[string]aggregate.Scalar{"f_mean": {Value: 1}}},
			},
		},
		1: { // appended row: suffixed aggregate column
			Combined: &combine.Combined{Applied: spec.CombineAppend, Blocks: []*combine.Block{
				{FileID: "a", Length: 1, Series: []*mapper.Series{seriesOf("f", []float64{2})}},
				{FileID: "b", Length: 1, Series: []*mapper.Series{seriesOf("g", []float64{3})}},
			}},
			Aggregates: []FileAggregates{
				{FileID: "a", Values: map[string]aggregate.Scalar{"f_mean": {Value: 2}}},
				{FileID: "b", Values: map[string]aggregate.Scalar{}},
			},
		},
	}

	_, consolidated, rowErrs, err := Build(rows, perRow, sp)
	require.NoError(t, err)
	assert.Nil(t, rowErrs)

	// One shared column set: bare for the merged row, suffixed for the
	// appended one, missing where a row has no value for a column.
	assert.Equal(t, []string{"sample_id", "f_mean", "f_mean_a"}, consolidated.Columns)
	assert.Equal(t, table.Number(1), consolidated.Rows[0][1])
	assert.True(t, table.IsMissing(consolidated.Rows[0][2]))
	assert.True(t, table.IsMissing(consolidated.Rows[1][1]))
	assert.Equal(t, table.Number(2), consolidated.Rows[1][2])
}
