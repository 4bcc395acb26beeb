package table

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/refold/refold/internal/spec"
)

func testSpec(t *testing.T) *spec.Specification {
	t.Helper()
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(`
schema_version: 1
condition:
  columns:
    - {name: sample_id, type: str, required: true}
    - {name: mass, type: float}
    - {name: ok_flag, type: bool}
    - {name: grade, type: str, enum: [a, b]}
    - {name: data_file, type: path}
files:
  - id: main
    path_column: data_file
    axes: {t: [t]}
`), &raw))
	sp, err := spec.Parse(raw)
	require.NoError(t, err)
	return sp
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		raw  string
		typ  string
		want Value
	}{
		{"1.5", "float", Number(1.5)},
		{"42", "int", Number(42)},
		{"not-a-number", "float", Missing{}},
		{"", "float", Missing{}},
		{"yes", "bool", Bool(true)},
		{"0", "bool", Bool(false)},
		{"maybe", "bool", Missing{}},
		{" padded ", "str", Text("padded")},
		{"/data/a.csv", "path", Text("/data/a.csv")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Coerce(tt.raw, tt.typ), "Coerce(%q, %q)", tt.raw, tt.typ)
	}
}

func TestRender(t *testing.T) {
	assert.Equal(t, "1.5", Render(Number(1.5)))
	assert.Equal(t, "abc", Render(Text("abc")))
	assert.Equal(t, "true", Render(Bool(true)))
	assert.Equal(t, "", Render(Missing{}))
}

func TestReadConditionsCSV(t *testing.T) {
	sp := testSpec(t)
	in := strings.NewReader(
		"sample_id,mass,ok_flag,grade,data_file,extra\n" +
			"s1,2.5,yes,a,run1.csv,note\n" +
			"s2,,no,b,run2.csv,\n")

	rows, err := ReadConditionsCSV(in, sp)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, Text("s1"), rows[0].Cell("sample_id"))
	assert.Equal(t, Number(2.5), rows[0].Cell("mass"))
	assert.Equal(t, Bool(true), rows[0].Cell("ok_flag"))
	assert.Equal(t, "run1.csv", rows[0].PathCell("data_file"))
	assert.Equal(t, Text("note"), rows[0].Cell("extra"))

	assert.True(t, IsMissing(rows[1].Cell("mass")))
	assert.Equal(t, 1, rows[1].Index)
}

func TestReadConditionsCSV_MissingDeclaredColumn(t *testing.T) {
	sp := testSpec(t)
	in := strings.NewReader("sample_id,mass\ns1,2.5\n")

	_, err := ReadConditionsCSV(in, sp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_file")
}

func TestCheckRequiredAndEnum(t *testing.T) {
	sp := testSpec(t)
	row := ConditionRow{Index: 0, Cells: map[string]Value{
		"sample_id": Missing{},
		"grade":     Text("c"),
	}}

	assert.Equal(t, []string{"sample_id"}, CheckRequired(row, sp))

	violations := CheckEnum(row, sp)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], `"c"`)
}
