package spec

import (
	"fmt"
	"strings"

	"github.com/refold/refold/internal/expr"
)

// Validation error codes (E100-E199).
const (
	ErrUnsupportedVersion = "E100" // schema_version not supported
	ErrEmptyField         = "E101" // required field empty
	ErrDuplicateName      = "E102" // duplicate name within a namespace
	ErrInvalidEnum        = "E103" // value outside its allowed set
	ErrUnknownPathColumn  = "E104" // path_column not declared as condition column
	ErrNoCandidates       = "E105" // axis/target has neither candidates nor source
	ErrInvalidWrt         = "E106" // trapz wrt missing or unknown
	ErrBadExpression      = "E107" // expression fails to compile
	ErrDerivedCycle       = "E108" // derived columns form a dependency cycle
	ErrUnknownReference   = "E109" // aggregate source not produced by its profile
)

// ValidationError represents one specification rule violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var validPolicies = map[MissingPolicy]bool{MissingSkip: true, MissingError: true, MissingBlank: true}

var validOps = map[string]bool{"mean": true, "max": true, "min": true, "sum": true, "trapz": true}

var validFormats = map[string]bool{"csv": true, "tsv": true}

var validCombineModes = map[CombineMode]bool{CombineAuto: true, CombineMerge: true, CombineAppend: true}

// Validate checks the parsed specification against all schema rules, eagerly
// compiling every expression so that malformed specs never reach file I/O.
// Returns all violations found (does not fail fast).
func (s *Specification) Validate() []ValidationError {
	var errs []ValidationError

	if s.SchemaVersion != CurrentSchemaVersion {
		errs = append(errs, ValidationError{
			Field:   "schema_version",
			Message: fmt.Sprintf("unsupported schema version %d, expected %d", s.SchemaVersion, CurrentSchemaVersion),
			Code:    ErrUnsupportedVersion,
		})
	}

	if !validCombineModes[s.Combine] {
		errs = append(errs, ValidationError{
			Field:   "output.combine_mode",
			Message: fmt.Sprintf("invalid combine mode %q, must be one of: auto, merge, append", s.Combine),
			Code:    ErrInvalidEnum,
		})
	}

	// Condition columns: unique names seed the global namespace.
	names := make(map[string]string) // name -> namespace that claimed it
	condNames := make(map[string]bool)
	for i, c := range s.Conditions {
		field := fmt.Sprintf("condition.columns[%d].name", i)
		if prev, dup := names[c.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate name %q (already declared as %s)", c.Name, prev),
				Code:    ErrDuplicateName,
			})
		}
		names[c.Name] = "condition column"
		condNames[c.Name] = true
	}

	errs = append(errs, s.validateFiles(names, condNames)...)
	errs = append(errs, s.validateDerived(names)...)

	return errs
}

func (s *Specification) validateFiles(names map[string]string, condNames map[string]bool) []ValidationError {
	var errs []ValidationError

	fileIDs := make(map[string]bool)
	pathCols := make(map[string]bool)
	for i := range s.Files {
		f := &s.Files[i]
		field := fmt.Sprintf("files[%d]", i)

		if fileIDs[f.ID] {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate file id %q", f.ID),
				Code:    ErrDuplicateName,
			})
		}
		fileIDs[f.ID] = true

		if pathCols[f.PathColumn] {
			errs = append(errs, ValidationError{
				Field:   field + ".path_column",
				Message: fmt.Sprintf("duplicate path column %q", f.PathColumn),
				Code:    ErrDuplicateName,
			})
		}
		pathCols[f.PathColumn] = true

		if !condNames[f.PathColumn] {
			errs = append(errs, ValidationError{
				Field:   field + ".path_column",
				Message: fmt.Sprintf("path column %q not declared in condition.columns", f.PathColumn),
				Code:    ErrUnknownPathColumn,
			})
		}

		if !validFormats[f.Format] {
			errs = append(errs, ValidationError{
				Field:   field + ".format",
				Message: fmt.Sprintf("invalid format %q, must be one of: csv, tsv", f.Format),
				Code:    ErrInvalidEnum,
			})
		}
		if !validPolicies[f.OnMissing] {
			errs = append(errs, ValidationError{
				Field:   field + ".on_missing",
				Message: fmt.Sprintf("invalid policy %q, must be one of: skip, error, blank", f.OnMissing),
				Code:    ErrInvalidEnum,
			})
		}

		// Axis and target mapping rules. Series names are unique per profile
		// and claim the global namespace (targets and derived series surface
		// as canonical table columns).
		profileSeries := make(map[string]bool)
		for _, a := range f.Axes {
			af := fmt.Sprintf("%s.axes.%s", field, a.Axis)
			if !a.Explicit() && len(a.Candidates) == 0 {
				errs = append(errs, ValidationError{
					Field:   af,
					Message: "candidate list is empty and no explicit source given",
					Code:    ErrNoCandidates,
				})
			}
			if !validPolicies[a.OnMissing] {
				errs = append(errs, ValidationError{
					Field:   af + ".on_missing",
					Message: fmt.Sprintf("invalid policy %q, must be one of: skip, error, blank", a.OnMissing),
					Code:    ErrInvalidEnum,
				})
			}
			if a.Type != SeriesTypeFloat {
				errs = append(errs, ValidationError{
					Field:   af + ".type",
					Message: fmt.Sprintf("unsupported series type %q, series values are numeric: use float", a.Type),
					Code:    ErrInvalidEnum,
				})
			}
			profileSeries[a.Axis] = true
		}

		for j, tgt := range f.Targets {
			tf := fmt.Sprintf("%s.targets[%d]", field, j)
			if !tgt.Explicit() && len(tgt.Candidates) == 0 {
				errs = append(errs, ValidationError{
					Field:   tf,
					Message: "candidate list is empty and no explicit source given",
					Code:    ErrNoCandidates,
				})
			}
			if tgt.Type != SeriesTypeFloat {
				errs = append(errs, ValidationError{
					Field:   tf + ".type",
					Message: fmt.Sprintf("unsupported series type %q, series values are numeric: use float", tgt.Type),
					Code:    ErrInvalidEnum,
				})
			}
			if profileSeries[tgt.Name] {
				errs = append(errs, ValidationError{
					Field:   tf + ".name",
					Message: fmt.Sprintf("duplicate series name %q in profile %q", tgt.Name, f.ID),
					Code:    ErrDuplicateName,
				})
			}
			profileSeries[tgt.Name] = true
			if prev, dup := names[tgt.Name]; dup {
				errs = append(errs, ValidationError{
					Field:   tf + ".name",
					Message: fmt.Sprintf("duplicate name %q (already declared as %s)", tgt.Name, prev),
					Code:    ErrDuplicateName,
				})
			}
			names[tgt.Name] = fmt.Sprintf("target of file %q", f.ID)
		}

		// Derived series compile against axes + targets + earlier derived.
		allowed := make(map[string]struct{}, len(profileSeries))
		for name := range profileSeries {
			allowed[name] = struct{}{}
		}
		for j, d := range f.DerivedSeries {
			df := fmt.Sprintf("%s.derived[%d]", field, j)
			if profileSeries[d.Name] {
				errs = append(errs, ValidationError{
					Field:   df + ".name",
					Message: fmt.Sprintf("duplicate series name %q in profile %q", d.Name, f.ID),
					Code:    ErrDuplicateName,
				})
			}
			profileSeries[d.Name] = true
			if _, err := expr.Compile(d.Expr, allowed); err != nil {
				errs = append(errs, ValidationError{
					Field:   df + ".expr",
					Message: err.Error(),
					Code:    ErrBadExpression,
				})
			}
			allowed[d.Name] = struct{}{}
			if prev, dup := names[d.Name]; dup {
				errs = append(errs, ValidationError{
					Field:   df + ".name",
					Message: fmt.Sprintf("duplicate name %q (already declared as %s)", d.Name, prev),
					Code:    ErrDuplicateName,
				})
			}
			names[d.Name] = fmt.Sprintf("derived series of file %q", f.ID)
		}

		for j, a := range f.Aggregates {
			af := fmt.Sprintf("%s.aggregates[%d]", field, j)
			if !validOps[a.Op] {
				errs = append(errs, ValidationError{
					Field:   af + ".op",
					Message: fmt.Sprintf("invalid op %q, must be one of: mean, max, min, sum, trapz", a.Op),
					Code:    ErrInvalidEnum,
				})
			}
			if !profileSeries[a.Source] {
				errs = append(errs, ValidationError{
					Field:   af + ".source",
					Message: fmt.Sprintf("source %q is not an axis, target, or derived series of profile %q", a.Source, f.ID),
					Code:    ErrUnknownReference,
				})
			}
			if a.Op == "trapz" {
				if a.Wrt == "" {
					errs = append(errs, ValidationError{
						Field:   af + ".wrt",
						Message: "wrt is mandatory for trapz",
						Code:    ErrInvalidWrt,
					})
				} else if !profileSeries[a.Wrt] {
					errs = append(errs, ValidationError{
						Field:   af + ".wrt",
						Message: fmt.Sprintf("wrt %q is not an axis, target, or derived series of profile %q", a.Wrt, f.ID),
						Code:    ErrInvalidWrt,
					})
				}
			}
			if prev, dup := names[a.Name]; dup {
				errs = append(errs, ValidationError{
					Field:   af + ".name",
					Message: fmt.Sprintf("duplicate name %q (already declared as %s)", a.Name, prev),
					Code:    ErrDuplicateName,
				})
			}
			names[a.Name] = fmt.Sprintf("aggregate of file %q", f.ID)
		}
	}

	return errs
}

func (s *Specification) validateDerived(names map[string]string) []ValidationError {
	var errs []ValidationError

	// Derived columns may reference condition columns, aggregates, and other
	// derived columns; ordering among derived columns is settled by cycle
	// analysis, so the whole namespace is allowed at compile time.
	allowed := make(map[string]struct{}, len(names)+len(s.Derived))
	for name := range names {
		allowed[name] = struct{}{}
	}
	for _, d := range s.Derived {
		allowed[d.Name] = struct{}{}
	}

	refs := make(map[string][]string, len(s.Derived))
	for i, d := range s.Derived {
		field := fmt.Sprintf("derived[%d]", i)
		if prev, dup := names[d.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate name %q (already declared as %s)", d.Name, prev),
				Code:    ErrDuplicateName,
			})
		}
		names[d.Name] = "derived column"

		compiled, err := expr.Compile(d.Expr, allowed)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".expr",
				Message: err.Error(),
				Code:    ErrBadExpression,
			})
			continue
		}
		refs[d.Name] = compiled.Refs()
	}

	for _, cycle := range analyzeDerivedCycles(s.Derived, refs) {
		errs = append(errs, ValidationError{
			Field:   "derived",
			Message: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
			Code:    ErrDerivedCycle,
		})
	}

	return errs
}
