// Package run drives the whole pipeline for one condition table: path
// resolution, mapping, aggregation, combination, and table assembly, with
// per-row isolation. A failing row is excluded and reported; it never stops
// the others.
package run

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/refold/refold/internal/aggregate"
	"github.com/refold/refold/internal/builder"
	"github.com/refold/refold/internal/combine"
	"github.com/refold/refold/internal/manifest"
	"github.com/refold/refold/internal/mapper"
	"github.com/refold/refold/internal/resolve"
	"github.com/refold/refold/internal/spec"
	"github.com/refold/refold/internal/table"
)

// Options configures a run. Zero values are usable: no path map, no search
// roots, worker count from GOMAXPROCS, no logging.
type Options struct {
	PathMap     resolve.PathMap
	SearchRoots []string
	BaseDir     string // prepended to the search roots when set
	Workers     int
	Logger      *zap.Logger

	// StrictPaths requires every path to resolve through the path map or
	// the roots; set by reprocess, where a fresh basename guess over stale
	// raw paths must fail loudly rather than grab the wrong file.
	StrictPaths bool
}

// RowError is one field-qualified failure message on a row report.
type RowError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RowReport is the per-row outcome handed back to the caller. Every input
// row gets exactly one report, in input order.
type RowReport struct {
	RowID  int        `json:"row_id"`
	Status string     `json:"status"` // ok | error
	Errors []RowError `json:"errors,omitempty"`
}

// Status values for RowReport.
const (
	StatusOK     = "ok"
	StatusFailed = "error"
)

// Result is the output of one run.
type Result struct {
	RunID            string
	Canonical        *builder.CanonicalTable
	Consolidated     *builder.ConsolidatedTable
	Reports          []RowReport
	Manifest         []manifest.Entry
	PathMapAdditions map[string]string
}

// SpecInvalidError aborts a run before any row is touched.
type SpecInvalidError struct {
	Errors []spec.ValidationError
}

func (e *SpecInvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("specification invalid: %s", strings.Join(msgs, "; "))
}

// rowOutcome is the working state of one condition row, local to its worker.
type rowOutcome struct {
	data *builder.RowData
	errs []RowError
}

// Run executes the pipeline. The returned error is non-nil only for
// run-level failures (invalid specification, cancelled context); row
// failures live in Result.Reports.
func Run(ctx context.Context, sp *spec.Specification, rows []table.ConditionRow, opts Options) (*Result, error) {
	if verrs := sp.Validate(); len(verrs) > 0 {
		return nil, &SpecInvalidError{Errors: verrs}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	roots := opts.SearchRoots
	if opts.BaseDir != "" {
		roots = append([]string{opts.BaseDir}, roots...)
	}

	runID := uuid.NewString()
	logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int("rows", len(rows)),
		zap.Int("workers", workers),
		zap.String("combine_mode", string(sp.Combine)))

	man := manifest.New()
	paths := newPathLedger()
	outcomes := make([]rowOutcome, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = processRow(rows[i], sp, roots, opts, man, paths, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	perRow := make(map[int]*builder.RowData)
	for i, out := range outcomes {
		if len(out.errs) == 0 && out.data != nil {
			perRow[rows[i].Index] = out.data
		}
	}

	canonical, consolidated, buildErrs, err := builder.Build(rows, perRow, sp)
	if err != nil {
		return nil, err
	}

	reports := make([]RowReport, len(rows))
	for i, row := range rows {
		report := RowReport{RowID: row.Index, Status: StatusOK}
		report.Errors = append(report.Errors, outcomes[i].errs...)
		if berr, ok := buildErrs[row.Index]; ok {
			report.Errors = append(report.Errors, RowError{Field: "derived", Message: berr.Error()})
		}
		if len(report.Errors) > 0 {
			report.Status = StatusFailed
			logger.Warn("row failed",
				zap.String("run_id", runID),
				zap.Int("row", row.Index),
				zap.Int("errors", len(report.Errors)))
		}
		reports[i] = report
	}

	logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("canonical_rows", len(canonical.Rows)),
		zap.Int("consolidated_rows", len(consolidated.Rows)),
		zap.Int("path_map_additions", len(paths.additions)))

	return &Result{
		RunID:            runID,
		Canonical:        canonical,
		Consolidated:     consolidated,
		Reports:          reports,
		Manifest:         man.Entries(),
		PathMapAdditions: paths.additionsCopy(),
	}, nil
}

// processRow runs one condition row end to end. All state is local; the
// shared manifest and path ledger synchronize internally.
func processRow(row table.ConditionRow, sp *spec.Specification, roots []string, opts Options, man *manifest.Manifest, paths *pathLedger, logger *zap.Logger) rowOutcome {
	var out rowOutcome
	fail := func(field, msg string) {
		out.errs = append(out.errs, RowError{Field: field, Message: msg})
	}

	for _, msg := range table.CheckRequired(row, sp) {
		fail("condition", msg)
	}
	for _, msg := range table.CheckEnum(row, sp) {
		fail("condition", msg)
	}
	if len(out.errs) > 0 {
		return out
	}

	var (
		files []*mapper.AxisSeries
		aggs  []builder.FileAggregates
	)
	for fi := range sp.Files {
		profile := &sp.Files[fi]
		raw := row.PathCell(profile.PathColumn)
		if raw == "" {
			if profile.OnMissing == spec.MissingError {
				fail(profile.PathColumn, fmt.Sprintf("no path for file %q", profile.ID))
			}
			continue
		}

		resolved, err := resolve.Resolve(raw, opts.PathMap, roots)
		if err != nil {
			fail(profile.PathColumn, err.Error())
			continue
		}
		if opts.StrictPaths && (resolved.Via == resolve.ViaBasename || resolved.Via == resolve.ViaDecorated) {
			fail(profile.PathColumn, fmt.Sprintf("path %q only resolvable by basename search; confirm it into the path map first", raw))
			continue
		}
		if prior, conflict := paths.claim(raw, resolved.Path, resolved.Addition()); conflict {
			fail(profile.PathColumn, fmt.Sprintf("path %q resolved to both %q and %q within one run", raw, prior, resolved.Path))
			continue
		}
		if err := man.Record(resolved.Path); err != nil {
			fail(profile.PathColumn, err.Error())
			continue
		}

		mapped, err := mapper.ReadFile(resolved.Path, profile)
		if err != nil {
			fail(profile.PathColumn, err.Error())
			continue
		}
		for _, d := range mapped.Defects {
			logger.Debug("sample defect",
				zap.Int("row", row.Index),
				zap.String("file", profile.ID),
				zap.String("column", d.Column),
				zap.Int("sample", d.Sample),
				zap.String("detail", d.Message))
		}

		reduced, err := aggregate.ReduceAll(mapped, profile)
		if err != nil {
			fail(profile.ID, err.Error())
			continue
		}

		files = append(files, mapped)
		aggs = append(aggs, builder.FileAggregates{FileID: profile.ID, Values: reduced})
	}
	if len(out.errs) > 0 {
		return out
	}
	if len(files) == 0 {
		fail("files", "no measurement files mapped for row")
		return out
	}

	combined, err := combine.Combine(files, sp.Combine)
	if err != nil {
		fail("combine", err.Error())
		return out
	}

	out.data = &builder.RowData{Combined: combined, Aggregates: aggs}
	return out
}

// pathLedger tracks raw-path resolutions across all workers of a run: the
// same raw path must never resolve to two different files, and additions are
// collected for path-map persistence.
type pathLedger struct {
	mu        sync.Mutex
	resolved  map[string]string
	additions map[string]string
}

func newPathLedger() *pathLedger {
	return &pathLedger{
		resolved:  make(map[string]string),
		additions: make(map[string]string),
	}
}

// claim registers raw -> path. The second return is true on conflict, with
// the previously claimed path as first return.
func (l *pathLedger) claim(raw, path string, addition bool) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prior, ok := l.resolved[raw]; ok && prior != path {
		return prior, true
	}
	l.resolved[raw] = path
	if addition {
		l.additions[raw] = path
	}
	return "", false
}

func (l *pathLedger) additionsCopy() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.additions))
	for k, v := range l.additions {
		out[k] = v
	}
	return out
}

// SortedAdditions renders the additions deterministically for logs and
// output files.
func SortedAdditions(additions map[string]string) []string {
	keys := make([]string, 0, len(additions))
	for k := range additions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + " -> " + additions[k]
	}
	return out
}
