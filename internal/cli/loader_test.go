package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refold/refold/internal/spec"
)

const validSpecCUE = `
schema_version: 1
condition: columns: [
	{name: "sample_id", type: "str", required: true},
	{name: "mass", type: "float"},
	{name: "data_file", type: "path"},
]
files: [{
	id:          "main"
	path_column: "data_file"
	format:      "csv"
	axes: t: ["time"]
	targets: [{name: "f", candidates: ["force", "pressure"], on_missing: "error"}]
	aggregates: [{name: "f_mean", source: "f", op: "mean"}]
}]
derived: [{name: "f_mean_per_kg", expr: "f_mean / mass"}]
output: combine_mode: "auto"
`

func TestLoadSpecCUEFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.cue")
	require.NoError(t, os.WriteFile(path, []byte(validSpecCUE), 0o644))

	sp, err := LoadSpec(path)
	require.NoError(t, err)
	require.Empty(t, sp.Validate())

	assert.Equal(t, spec.CurrentSchemaVersion, sp.SchemaVersion)
	assert.Equal(t, spec.CombineAuto, sp.Combine)
	require.Len(t, sp.Files, 1)
	assert.Equal(t, "main", sp.Files[0].ID)
	require.Len(t, sp.Files[0].Targets, 1)
	assert.Equal(t, []string{"force", "pressure"}, sp.Files[0].Targets[0].Candidates)
	require.Len(t, sp.Derived, 1)
	assert.Equal(t, "f_mean_per_kg", sp.Derived[0].Name)
}

func TestLoadSpecCUEDirectory(t *testing.T) {
	dir := t.TempDir()
	content := "package refold\n" + validSpecCUE
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec.cue"), []byte(content), 0o644))

	sp, err := LoadSpec(dir)
	require.NoError(t, err)
	require.Empty(t, sp.Validate())
	assert.Equal(t, "main", sp.Files[0].ID)
}

func TestLoadSpecMalformedCUE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.cue")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: {\n"), 0o644))

	_, err := LoadSpec(path)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSpecLoad, le.Code)
}

func TestLoadSpecUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	_, err := LoadSpec(path)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSpecLoad, le.Code)
}

func TestValidateCommandAcceptsCUE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.cue")
	require.NoError(t, os.WriteFile(path, []byte(validSpecCUE), 0o644))

	out, err := execute(t, "validate", "--spec", path)
	require.NoError(t, err)
	assert.Contains(t, out, "spec valid")
}
