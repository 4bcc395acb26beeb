package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/refold/refold/internal/pathmap"
	"github.com/refold/refold/internal/run"
	"github.com/refold/refold/internal/table"
)

// runFlags holds the flags shared by run and reprocess.
type runFlags struct {
	SpecPath    string
	Conditions  string
	OutDir      string
	SearchRoots []string
	PathMapPath string
	Workers     int
}

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().StringVar(&flags.SpecPath, "spec", "", "spec file or CUE directory (required)")
	cmd.Flags().StringVar(&flags.Conditions, "conditions", "", "condition table CSV (required)")
	cmd.Flags().StringVar(&flags.OutDir, "out", "out", "output directory")
	cmd.Flags().StringSliceVar(&flags.SearchRoots, "search-root", nil, "directory to search for measurement files (repeatable)")
	cmd.Flags().StringVar(&flags.PathMapPath, "path-map", "", "sqlite path map database")
	cmd.Flags().IntVar(&flags.Workers, "workers", 0, "row worker count (0 = GOMAXPROCS)")
	cmd.MarkFlagRequired("spec")
	cmd.MarkFlagRequired("conditions")
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a condition table into canonical and consolidated tables",
		Long: `Read the condition table, resolve and map every referenced measurement
file, and write canonical.csv, consolidated.csv, reports.json, and
manifest.json into the output directory. Newly resolved paths are
persisted to the path map when one is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(rootOpts, flags, cmd, false)
		},
	}

	addRunFlags(cmd, flags)
	return cmd
}

// NewReprocessCommand creates the reprocess command: a run over a previously
// confirmed path map, where fresh basename guessing is not allowed.
func NewReprocessCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-run a condition table strictly through an existing path map",
		Long: `Like run, but raw paths must resolve through the path map or as exact
relative paths under the search roots. A path that would need a basename
search fails its row instead of guessing, so a stale table cannot
silently pick up the wrong file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.PathMapPath == "" {
				return NewExitError(ExitCommandError, "reprocess requires --path-map")
			}
			return runPipeline(rootOpts, flags, cmd, true)
		},
	}

	addRunFlags(cmd, flags)
	return cmd
}

// runSummary is the success payload for run/reprocess.
type runSummary struct {
	RunID            string `json:"run_id"`
	RowsOK           int    `json:"rows_ok"`
	RowsFailed       int    `json:"rows_failed"`
	CanonicalRows    int    `json:"canonical_rows"`
	ConsolidatedRows int    `json:"consolidated_rows"`
	FilesRead        int    `json:"files_read"`
	PathMapAdditions int    `json:"path_map_additions"`
	OutDir           string `json:"out_dir"`
}

func (s runSummary) String() string {
	return fmt.Sprintf("run %s: %d row(s) ok, %d failed, %d canonical row(s), %d file(s) read, outputs in %s",
		s.RunID, s.RowsOK, s.RowsFailed, s.CanonicalRows, s.FilesRead, s.OutDir)
}

func runPipeline(opts *RootOptions, flags *runFlags, cmd *cobra.Command, strict bool) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sp, err := LoadSpec(flags.SpecPath)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			formatter.Error(le.Code, le.Message, nil)
			return NewExitError(ExitCommandError, le.Message)
		}
		return WrapExitError(ExitCommandError, "loading spec", err)
	}

	condFile, err := os.Open(flags.Conditions)
	if err != nil {
		formatter.Error(ErrCodeSpecNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening condition table", err)
	}
	rows, err := table.ReadConditionsCSV(condFile, sp)
	condFile.Close()
	if err != nil {
		formatter.Error(ErrCodeSpecParse, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading condition table", err)
	}

	runOpts := run.Options{
		SearchRoots: flags.SearchRoots,
		BaseDir:     filepath.Dir(flags.Conditions),
		Workers:     flags.Workers,
		Logger:      buildLogger(opts),
		StrictPaths: strict,
	}

	var store *pathmap.Store
	if flags.PathMapPath != "" {
		store, err = pathmap.Open(flags.PathMapPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "opening path map", err)
		}
		defer store.Close()
		runOpts.PathMap = store
	}

	res, err := run.Run(cmd.Context(), sp, rows, runOpts)
	if err != nil {
		var sie *run.SpecInvalidError
		if errors.As(err, &sie) {
			formatter.Error("E100", err.Error(), sie.Errors)
			return NewExitError(ExitFailure, "invalid specification")
		}
		return WrapExitError(ExitCommandError, "running pipeline", err)
	}

	if err := writeOutputs(flags.OutDir, res); err != nil {
		return WrapExitError(ExitCommandError, "writing outputs", err)
	}

	if store != nil && len(res.PathMapAdditions) > 0 {
		if err := store.PutAll(res.PathMapAdditions); err != nil {
			return WrapExitError(ExitCommandError, "persisting path map additions", err)
		}
		formatter.VerboseLog("persisted %d path map addition(s)", len(res.PathMapAdditions))
	}

	summary := runSummary{
		RunID:            res.RunID,
		CanonicalRows:    len(res.Canonical.Rows),
		ConsolidatedRows: len(res.Consolidated.Rows),
		FilesRead:        len(res.Manifest),
		PathMapAdditions: len(res.PathMapAdditions),
		OutDir:           flags.OutDir,
	}
	for _, r := range res.Reports {
		if r.Status == run.StatusOK {
			summary.RowsOK++
		} else {
			summary.RowsFailed++
		}
	}

	formatter.RowFailures(res.Reports)
	if err := formatter.Success(summary); err != nil {
		return err
	}
	if summary.RowsFailed > 0 && summary.RowsOK == 0 {
		return NewExitError(ExitFailure, "every row failed")
	}
	return nil
}

// writeOutputs writes the four run artifacts into dir, creating it first.
func writeOutputs(dir string, res *run.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	canonical, err := os.Create(filepath.Join(dir, "canonical.csv"))
	if err != nil {
		return err
	}
	if err := res.Canonical.WriteCSV(canonical); err != nil {
		canonical.Close()
		return err
	}
	if err := canonical.Close(); err != nil {
		return err
	}

	consolidated, err := os.Create(filepath.Join(dir, "consolidated.csv"))
	if err != nil {
		return err
	}
	if err := res.Consolidated.WriteCSV(consolidated); err != nil {
		consolidated.Close()
		return err
	}
	if err := consolidated.Close(); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(dir, "reports.json"), res.Reports); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "manifest.json"), res.Manifest)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
