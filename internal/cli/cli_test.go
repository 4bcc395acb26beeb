package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSpecYAML = `
schema_version: 1
condition:
  columns:
    - {name: sample_id, type: str, required: true}
    - {name: mass, type: float}
    - {name: data_file, type: path}
files:
  - id: main
    path_column: data_file
    format: csv
    axes:
      t: [time]
    targets:
      - {name: f, candidates: [force, pressure], on_missing: error}
    aggregates:
      - {name: f_mean, source: f, op: mean}
derived:
  - {name: f_mean_per_kg, expr: "f_mean / mass"}
output:
  combine_mode: auto
`

const invalidSpecYAML = `
schema_version: 1
condition:
  columns:
    - {name: sample_id, type: str}
files:
  - id: main
    path_column: nonexistent
    format: csv
    targets:
      - {name: f, candidates: [force]}
`

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateValidSpec(t *testing.T) {
	out, err := execute(t, "validate", "--spec", writeSpec(t, validSpecYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "spec valid")
}

func TestValidateInvalidSpec(t *testing.T) {
	out, err := execute(t, "validate", "--spec", writeSpec(t, invalidSpecYAML))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "spec invalid")
	assert.Contains(t, out, "E104") // path_column not a condition column
}

func TestValidateJSONOutput(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", "--spec", writeSpec(t, validSpecYAML))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateMissingSpecFile(t *testing.T) {
	_, err := execute(t, "validate", "--spec", "/nonexistent/spec.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "spec.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(validSpecYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"),
		[]byte("time,force\n0,1\n1,3\n"), 0o644))
	condPath := filepath.Join(dir, "conditions.csv")
	require.NoError(t, os.WriteFile(condPath,
		[]byte("sample_id,mass,data_file\ns1,2,a.csv\n"), 0o644))
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "run",
		"--spec", specPath,
		"--conditions", condPath,
		"--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 row(s) ok")

	for _, name := range []string{"canonical.csv", "consolidated.csv", "reports.json", "manifest.json"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "consolidated.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "f_mean")
	assert.Contains(t, string(data), "s1")
}

func TestRunPersistsPathMap(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "spec.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(validSpecYAML), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive", "run42.csv"),
		[]byte("time,force\n0,1\n1,1\n"), 0o644))
	condPath := filepath.Join(dir, "conditions.csv")
	require.NoError(t, os.WriteFile(condPath,
		[]byte("sample_id,mass,data_file\ns1,1,run42.csv\n"), 0o644))
	pmPath := filepath.Join(dir, "pathmap.db")

	_, err := execute(t, "run",
		"--spec", specPath,
		"--conditions", condPath,
		"--out", filepath.Join(dir, "out"),
		"--search-root", dir,
		"--path-map", pmPath)
	require.NoError(t, err)

	// Reprocess succeeds now that the basename resolution is confirmed in
	// the map; without the map entry it would fail strictly.
	_, err = execute(t, "reprocess",
		"--spec", specPath,
		"--conditions", condPath,
		"--out", filepath.Join(dir, "out2"),
		"--search-root", dir,
		"--path-map", pmPath)
	require.NoError(t, err)
}

func TestReprocessRequiresPathMap(t *testing.T) {
	_, err := execute(t, "reprocess",
		"--spec", "spec.yaml",
		"--conditions", "cond.csv")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunAllRowsFailedExitCode(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "spec.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(validSpecYAML), 0o644))
	condPath := filepath.Join(dir, "conditions.csv")
	require.NoError(t, os.WriteFile(condPath,
		[]byte("sample_id,mass,data_file\ns1,1,missing.csv\n"), 0o644))

	out, err := execute(t, "run",
		"--spec", specPath,
		"--conditions", condPath,
		"--out", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	// The failed row is diagnosed on stderr, not just in reports.json.
	assert.Contains(t, out, "row 0 data_file:")
}

func TestInvalidFormatFlag(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", "--spec", "x.yaml")
	require.Error(t, err)
}
