package mapper

import (
	"errors"
	"fmt"
	"math"
)

// Mapping error codes (E300-E319).
const (
	ErrCodeFileRead        = "E300" // measurement file unreadable
	ErrCodeMissingAxis     = "E301" // required axis absent (on_missing: error)
	ErrCodeUnsupportedKind = "E302" // file format outside csv/tsv
)

// MappingError reports a file-to-axis mapping failure. Row-scoped: the
// affected condition row is excluded and reported, other rows continue.
type MappingError struct {
	Code    string
	FileID  string
	Axis    string
	Path    string
	Message string
}

// Error implements the error interface.
func (e *MappingError) Error() string {
	if e.Axis != "" {
		return fmt.Sprintf("[%s] file %q axis %q: %s", e.Code, e.FileID, e.Axis, e.Message)
	}
	return fmt.Sprintf("[%s] file %q: %s", e.Code, e.FileID, e.Message)
}

// IsMissingAxis reports whether err is a missing-axis mapping error.
func IsMissingAxis(err error) bool {
	var me *MappingError
	if errors.As(err, &me) {
		return me.Code == ErrCodeMissingAxis
	}
	return false
}

// Series is one canonical column mapped from a measurement file: an ordered
// numeric sequence with per-sample missing flags.
type Series struct {
	Name    string // canonical name (axis, target, or derived series)
	Source  string // native column it was mapped from; empty for blank/derived
	Values  []float64
	Missing []bool
}

// Len returns the sample count.
func (s *Series) Len() int { return len(s.Values) }

// AllMissing reports whether every sample is missing (a blank axis is always
// all-missing).
func (s *Series) AllMissing() bool {
	for _, m := range s.Missing {
		if !m {
			return false
		}
	}
	return true
}

// Defect records a per-sample coercion or evaluation problem that did not
// fail the file.
type Defect struct {
	Column  string
	Sample  int
	Message string
}

// AxisSeries is the result of mapping one measurement file through one file
// profile. Owned by the row/file pairing that produced it and discarded after
// aggregation and combination.
type AxisSeries struct {
	FileID  string
	Path    string // resolved path, provenance only
	Length  int
	Series  []*Series // mapping order: axes, targets, derived
	Defects []Defect

	byName map[string]*Series
}

// ByName returns the named series, or nil when absent (skipped axis).
func (a *AxisSeries) ByName(name string) *Series {
	return a.byName[name]
}

// PresentAxes returns the names of present series in mapping order. Blank
// axes count as present; skipped axes do not appear.
func (a *AxisSeries) PresentAxes() []string {
	names := make([]string, 0, len(a.Series))
	for _, s := range a.Series {
		names = append(names, s.Name)
	}
	return names
}

func (a *AxisSeries) add(s *Series) {
	a.Series = append(a.Series, s)
	a.byName[s.Name] = s
}

// blankSeries builds a present-but-fully-missing series of the given length.
func blankSeries(name string, length int) *Series {
	values := make([]float64, length)
	missing := make([]bool, length)
	for i := range values {
		values[i] = math.NaN()
		missing[i] = true
	}
	return &Series{Name: name, Values: values, Missing: missing}
}
