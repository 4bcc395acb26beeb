package spec

// CurrentSchemaVersion is the only schema version this engine accepts.
const CurrentSchemaVersion = 1

// CanonicalAxes lists the positional/temporal axis names, in canonical order.
// Target ("f") columns are declared separately and may be repeated under
// distinct names.
var CanonicalAxes = []string{"x", "y", "z", "t"}

// CombineMode governs how multiple measurement files mapped to one condition
// row are merged into canonical rows.
type CombineMode string

const (
	CombineAuto   CombineMode = "auto"
	CombineMerge  CombineMode = "merge"
	CombineAppend CombineMode = "append"
)

// SeriesTypeFloat is the only accepted series value type. Measurement series
// are numeric; a declared str or bool series fails validation rather than
// being silently coerced.
const SeriesTypeFloat = "float"

// MissingPolicy controls handling of an axis whose source column is absent
// from a measurement file.
type MissingPolicy string

const (
	// MissingSkip omits the axis from the series (presence flag false).
	MissingSkip MissingPolicy = "skip"
	// MissingError fails the mapping for that row.
	MissingError MissingPolicy = "error"
	// MissingBlank keeps the axis present with all-missing values.
	MissingBlank MissingPolicy = "blank"
)

// ConditionColumn declares one scalar column of the condition table.
type ConditionColumn struct {
	Name        string
	Type        string // str|int|float|bool|path
	Required    bool
	Description string
	Enum        []string
	Format      string
}

// AxisSpec binds one canonical axis (x/y/z/t) to a measurement file column,
// either through a priority-ordered candidate list or an explicit source.
type AxisSpec struct {
	Axis       string   // "x", "y", "z", or "t"
	Candidates []string // ordered, first match wins; empty when Source is set
	Source     string   // explicit source column, bypasses candidate search
	Type       string   // defaults to float, the only accepted value
	OnMissing  MissingPolicy
}

// Explicit reports whether the axis names its source column directly.
func (a AxisSpec) Explicit() bool { return a.Source != "" }

// TargetSpec declares one f-definition: an output/measured variable mapped
// from the file. AllowMultiple lets a single definition capture every
// matching native column, each becoming its own series.
type TargetSpec struct {
	Name          string
	Candidates    []string
	Source        string
	Type          string
	AllowMultiple bool
	OnMissing     MissingPolicy
}

// Explicit reports whether the target names its source column directly.
func (t TargetSpec) Explicit() bool { return t.Source != "" }

// DerivedSeries is a per-sample expression over the profile's mapped axes and
// targets, producing an additional series on the same file.
type DerivedSeries struct {
	Name string
	Expr string
}

// Aggregate reduces one mapped series to a scalar per condition row.
type Aggregate struct {
	Name   string
	Source string // axis, target, or derived-series name within the profile
	Op     string // mean|max|min|sum|trapz
	Wrt    string // independent variable, required for trapz
}

// FileProfile describes how one file-path column's measurement files map onto
// canonical axes.
type FileProfile struct {
	ID            string
	PathColumn    string
	Format        string // csv|tsv
	OnMissing     MissingPolicy
	Axes          []AxisSpec
	Targets       []TargetSpec
	DerivedSeries []DerivedSeries
	Aggregates    []Aggregate
}

// AxisNames returns the declared axis names in canonical order.
func (f *FileProfile) AxisNames() []string {
	names := make([]string, 0, len(f.Axes))
	for _, a := range f.Axes {
		names = append(names, a.Axis)
	}
	return names
}

// SeriesNames returns every column name the profile can produce: axes,
// targets, and derived series, in declaration order.
func (f *FileProfile) SeriesNames() []string {
	names := f.AxisNames()
	for _, t := range f.Targets {
		names = append(names, t.Name)
	}
	for _, d := range f.DerivedSeries {
		names = append(names, d.Name)
	}
	return names
}

// DerivedColumn is a row-wise scalar expression over condition scalars,
// aggregate values, and earlier derived columns, evaluated per consolidated
// row.
type DerivedColumn struct {
	Name string
	Expr string
}

// Specification is the parsed, immutable canonicalization schema.
type Specification struct {
	SchemaVersion int
	Conditions    []ConditionColumn
	Files         []FileProfile
	Derived       []DerivedColumn
	Combine       CombineMode
}

// ConditionNames returns the declared condition column names in order.
func (s *Specification) ConditionNames() []string {
	names := make([]string, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		names = append(names, c.Name)
	}
	return names
}

// PathColumns returns the set of condition columns that carry file paths.
func (s *Specification) PathColumns() map[string]bool {
	out := make(map[string]bool, len(s.Files))
	for _, f := range s.Files {
		out[f.PathColumn] = true
	}
	return out
}

// FileByID returns the profile with the given id, or nil.
func (s *Specification) FileByID(id string) *FileProfile {
	for i := range s.Files {
		if s.Files[i].ID == id {
			return &s.Files[i]
		}
	}
	return nil
}

// AggregateNames returns every aggregate output name in declaration order
// across all profiles.
func (s *Specification) AggregateNames() []string {
	var names []string
	for _, f := range s.Files {
		for _, a := range f.Aggregates {
			names = append(names, a.Name)
		}
	}
	return names
}
