package mapper

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refold/refold/internal/spec"
)

func profileWith(t *testing.T, axes []spec.AxisSpec, targets []spec.TargetSpec) *spec.FileProfile {
	t.Helper()
	return &spec.FileProfile{
		ID:         "meas",
		PathColumn: "meas_path",
		Format:     "csv",
		OnMissing:  spec.MissingSkip,
		Axes:       axes,
		Targets:    targets,
	}
}

func TestMapRowsCandidateOrder(t *testing.T) {
	p := profileWith(t,
		[]spec.AxisSpec{{Axis: "t", Candidates: []string{"time", "t", "elapsed"}, OnMissing: spec.MissingSkip}},
		[]spec.TargetSpec{{Name: "f", Candidates: []string{"force", "load"}, OnMissing: spec.MissingError}},
	)

	header := []string{"elapsed", "Time", "load"}
	rows := [][]string{
		{"0.5", "0", "10"},
		{"1.5", "1", "20"},
	}

	out, err := MapRows(header, rows, p)
	require.NoError(t, err)

	ts := out.ByName("t")
	require.NotNil(t, ts)
	// "time" precedes "elapsed" in the candidate list, so the Time column
	// wins even though elapsed appears first in the header.
	assert.Equal(t, "time", ts.Source)
	assert.Equal(t, []float64{0, 1}, ts.Values)

	fs := out.ByName("f")
	require.NotNil(t, fs)
	assert.Equal(t, "load", fs.Source)
	assert.Equal(t, []float64{10, 20}, fs.Values)
}

func TestMapRowsNormalizedMatching(t *testing.T) {
	p := profileWith(t,
		[]spec.AxisSpec{{Axis: "x", Candidates: []string{"displacement"}, OnMissing: spec.MissingError}},
		nil,
	)

	header := []string{"  Displacement "}
	rows := [][]string{{"3.25"}}

	out, err := MapRows(header, rows, p)
	require.NoError(t, err)
	require.NotNil(t, out.ByName("x"))
	assert.Equal(t, []float64{3.25}, out.ByName("x").Values)
}

func TestMapRowsExplicitSourceBypassesCandidates(t *testing.T) {
	p := profileWith(t,
		[]spec.AxisSpec{{Axis: "t", Source: "col_b", Candidates: []string{"col_a"}, OnMissing: spec.MissingError}},
		nil,
	)

	header := []string{"col_a", "col_b"}
	rows := [][]string{{"1", "2"}}

	out, err := MapRows(header, rows, p)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, out.ByName("t").Values)
	assert.Equal(t, "col_b", out.ByName("t").Source)
}

func TestMapRowsOnMissingPolicies(t *testing.T) {
	header := []string{"force"}
	rows := [][]string{{"1"}, {"2"}}

	t.Run("skip", func(t *testing.T) {
		p := profileWith(t,
			[]spec.AxisSpec{{Axis: "t", Candidates: []string{"time"}, OnMissing: spec.MissingSkip}},
			[]spec.TargetSpec{{Name: "f", Candidates: []string{"force"}, OnMissing: spec.MissingError}},
		)
		out, err := MapRows(header, rows, p)
		require.NoError(t, err)
		assert.Nil(t, out.ByName("t"))
		assert.Equal(t, []string{"f"}, out.PresentAxes())
	})

	t.Run("error", func(t *testing.T) {
		p := profileWith(t,
			[]spec.AxisSpec{{Axis: "t", Candidates: []string{"time"}, OnMissing: spec.MissingError}},
			nil,
		)
		_, err := MapRows(header, rows, p)
		require.Error(t, err)
		assert.True(t, IsMissingAxis(err))
	})

	t.Run("blank", func(t *testing.T) {
		p := profileWith(t,
			[]spec.AxisSpec{{Axis: "t", Candidates: []string{"time"}, OnMissing: spec.MissingBlank}},
			nil,
		)
		out, err := MapRows(header, rows, p)
		require.NoError(t, err)
		ts := out.ByName("t")
		require.NotNil(t, ts)
		assert.True(t, ts.AllMissing())
		assert.Equal(t, 2, ts.Len())
	})
}

func TestMapRowsCoercionDefects(t *testing.T) {
	p := profileWith(t, nil,
		[]spec.TargetSpec{{Name: "f", Candidates: []string{"force"}, OnMissing: spec.MissingError}},
	)

	header := []string{"force"}
	rows := [][]string{{"1.0"}, {"n/a"}, {""}, {"4"}}

	out, err := MapRows(header, rows, p)
	require.NoError(t, err)

	fs := out.ByName("f")
	assert.Equal(t, []bool{false, true, true, false}, fs.Missing)
	assert.True(t, math.IsNaN(fs.Values[1]))

	// Only the unparsable token is a defect; an empty cell is plain missing.
	require.Len(t, out.Defects, 1)
	assert.Equal(t, "f", out.Defects[0].Column)
	assert.Equal(t, 1, out.Defects[0].Sample)
}

func TestMapRowsAllowMultipleTargets(t *testing.T) {
	p := profileWith(t, nil,
		[]spec.TargetSpec{{
			Name:          "f",
			Candidates:    []string{"force_1", "force_2", "force_3"},
			AllowMultiple: true,
			OnMissing:     spec.MissingError,
		}},
	)

	header := []string{"force_1", "force_3"}
	rows := [][]string{{"1", "10"}}

	out, err := MapRows(header, rows, p)
	require.NoError(t, err)

	// Two matches: each series carries its source suffix.
	require.NotNil(t, out.ByName("f_force_1"))
	require.NotNil(t, out.ByName("f_force_3"))
	assert.Nil(t, out.ByName("f"))
}

func TestMapRowsSingleMultipleMatchKeepsBaseName(t *testing.T) {
	p := profileWith(t, nil,
		[]spec.TargetSpec{{
			Name:          "f",
			Candidates:    []string{"force_1", "force_2"},
			AllowMultiple: true,
			OnMissing:     spec.MissingError,
		}},
	)

	out, err := MapRows([]string{"force_2"}, [][]string{{"5"}}, p)
	require.NoError(t, err)
	require.NotNil(t, out.ByName("f"))
	assert.Equal(t, []float64{5}, out.ByName("f").Values)
}

func TestMapRowsDerivedSeries(t *testing.T) {
	p := profileWith(t,
		[]spec.AxisSpec{{Axis: "x", Candidates: []string{"disp"}, OnMissing: spec.MissingError}},
		[]spec.TargetSpec{{Name: "f", Candidates: []string{"force"}, OnMissing: spec.MissingError}},
	)
	p.DerivedSeries = []spec.DerivedSeries{{Name: "stiffness", Expr: "f / x"}}

	header := []string{"disp", "force"}
	rows := [][]string{
		{"2", "10"},
		{"0", "10"},  // division by zero: defect + missing
		{"", "10"},   // missing operand: missing, no defect
		{"4", "20"},
	}

	out, err := MapRows(header, rows, p)
	require.NoError(t, err)

	ds := out.ByName("stiffness")
	require.NotNil(t, ds)
	assert.Equal(t, []bool{false, true, true, false}, ds.Missing)
	assert.InDelta(t, 5.0, ds.Values[0], 1e-12)
	assert.InDelta(t, 5.0, ds.Values[3], 1e-12)

	require.Len(t, out.Defects, 1)
	assert.Equal(t, "stiffness", out.Defects[0].Column)
	assert.Equal(t, 1, out.Defects[0].Sample)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sweep.tsv")
	require.NoError(t, os.WriteFile(path, []byte("time\tforce\n0\t1\n1\t3\n"), 0o644))

	p := profileWith(t,
		[]spec.AxisSpec{{Axis: "t", Candidates: []string{"time"}, OnMissing: spec.MissingError}},
		[]spec.TargetSpec{{Name: "f", Candidates: []string{"force"}, OnMissing: spec.MissingError}},
	)
	p.Format = "tsv"

	out, err := ReadFile(path, p)
	require.NoError(t, err)
	assert.Equal(t, path, out.Path)
	assert.Equal(t, []float64{1, 3}, out.ByName("f").Values)
}

func TestReadFileErrors(t *testing.T) {
	p := profileWith(t, nil, nil)

	_, err := ReadFile("/nonexistent/file.csv", p)
	var me *MappingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeFileRead, me.Code)

	dir := t.TempDir()
	path := filepath.Join(dir, "sweep.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	p.Format = "xlsx"
	_, err = ReadFile(path, p)
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrCodeUnsupportedKind, me.Code)
}

func TestMapRowsRaggedRows(t *testing.T) {
	p := profileWith(t, nil,
		[]spec.TargetSpec{{Name: "f", Candidates: []string{"b"}, OnMissing: spec.MissingError}},
	)

	header := []string{"a", "b"}
	rows := [][]string{{"1", "2"}, {"1"}}

	out, err := MapRows(header, rows, p)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, out.ByName("f").Missing)
}
