package spec

import (
	"fmt"
	"strings"
)

// SpecError reports a structural problem in the specification document,
// qualified with the path of the offending field. Structural errors are fatal
// and fail fast, before validation and before any file I/O.
type SpecError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *SpecError) Error() string {
	return fmt.Sprintf("spec: %s: %s", e.Field, e.Message)
}

func specErrf(field, format string, args ...any) *SpecError {
	return &SpecError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// normalizeKey canonicalizes mapping keys: trimmed, dashes folded to
// underscores, so "on-missing" and "on_missing" are the same key.
func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.TrimSpace(k), "-", "_")
}

func normalizeMap(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[normalizeKey(k)] = v
	}
	return out
}

// asMap coerces v to a normalized string-keyed map. YAML decoding may yield
// map[any]any; both shapes are accepted. nil yields an empty map.
func asMap(v any, field string) (map[string]any, error) {
	switch m := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return normalizeMap(m), nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[normalizeKey(fmt.Sprint(k))] = val
		}
		return out, nil
	default:
		return nil, specErrf(field, "expected mapping, got %T", v)
	}
}

func asList(v any, field string) ([]any, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return l, nil
	default:
		return nil, specErrf(field, "expected list, got %T", v)
	}
}

func asStr(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", specErrf(field, "expected non-empty string, got %T", v)
	}
	return strings.TrimSpace(s), nil
}

func asOptStr(v any, field string) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", specErrf(field, "expected string, got %T", v)
	}
	return strings.TrimSpace(s), nil
}

func asBool(v any, field string) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	case int:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	}
	return false, specErrf(field, "expected bool, got %T", v)
}

func asStrList(v any, field string) ([]string, error) {
	list, err := asList(v, field)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, specErrf(fmt.Sprintf("%s[%d]", field, i), "expected non-empty string, got %T", item)
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

// Parse builds a Specification from a raw document mapping, as decoded from
// YAML or CUE. Structural problems fail with *SpecError naming the field
// path; rule-level checks live in Validate.
func Parse(raw map[string]any) (*Specification, error) {
	root := normalizeMap(raw)

	version, ok := root["schema_version"].(int)
	if !ok {
		return nil, specErrf("schema_version", "required integer, got %T", root["schema_version"])
	}

	conditions, err := parseConditions(root)
	if err != nil {
		return nil, err
	}

	files, err := parseFiles(root)
	if err != nil {
		return nil, err
	}

	derived, err := parseDerived(root["derived"], "derived")
	if err != nil {
		return nil, err
	}

	combine := CombineAuto
	outputRaw, err := asMap(root["output"], "output")
	if err != nil {
		return nil, err
	}
	if v, present := outputRaw["combine_mode"]; present {
		s, err := asStr(v, "output.combine_mode")
		if err != nil {
			return nil, err
		}
		combine = CombineMode(strings.ToLower(s))
	}

	return &Specification{
		SchemaVersion: version,
		Conditions:    conditions,
		Files:         files,
		Derived:       derived,
		Combine:       combine,
	}, nil
}

func parseConditions(root map[string]any) ([]ConditionColumn, error) {
	condRaw, err := asMap(root["condition"], "condition")
	if err != nil {
		return nil, err
	}
	colsRaw, err := asList(condRaw["columns"], "condition.columns")
	if err != nil {
		return nil, err
	}
	if len(colsRaw) == 0 {
		return nil, specErrf("condition.columns", "required and must be non-empty")
	}

	cols := make([]ConditionColumn, 0, len(colsRaw))
	for i, item := range colsRaw {
		field := fmt.Sprintf("condition.columns[%d]", i)
		m, err := asMap(item, field)
		if err != nil {
			return nil, err
		}
		name, err := asStr(m["name"], field+".name")
		if err != nil {
			return nil, err
		}
		typ, err := asOptStr(firstOf(m, "type", "dtype"), field+".type")
		if err != nil {
			return nil, err
		}
		if typ == "" {
			typ = "str"
		}
		required, err := asBool(m["required"], field+".required")
		if err != nil {
			return nil, err
		}
		desc, err := asOptStr(m["description"], field+".description")
		if err != nil {
			return nil, err
		}
		enum, err := asStrList(m["enum"], field+".enum")
		if err != nil {
			return nil, err
		}
		format, err := asOptStr(m["format"], field+".format")
		if err != nil {
			return nil, err
		}
		cols = append(cols, ConditionColumn{
			Name: name, Type: strings.ToLower(typ), Required: required,
			Description: desc, Enum: enum, Format: format,
		})
	}
	return cols, nil
}

func parseFiles(root map[string]any) ([]FileProfile, error) {
	filesRaw, err := asList(root["files"], "files")
	if err != nil {
		return nil, err
	}
	if len(filesRaw) == 0 {
		return nil, specErrf("files", "required and must be non-empty")
	}

	files := make([]FileProfile, 0, len(filesRaw))
	for i, item := range filesRaw {
		field := fmt.Sprintf("files[%d]", i)
		m, err := asMap(item, field)
		if err != nil {
			return nil, err
		}

		id, err := asStr(firstOf(m, "id", "file_id"), field+".id")
		if err != nil {
			return nil, err
		}
		pathCol, err := asStr(m["path_column"], field+".path_column")
		if err != nil {
			return nil, err
		}
		format, err := asOptStr(m["format"], field+".format")
		if err != nil {
			return nil, err
		}
		if format == "" {
			format = "csv"
		}

		onMissing, err := parsePolicy(m["on_missing"], field+".on_missing", MissingSkip)
		if err != nil {
			return nil, err
		}

		axesRaw, err := asMap(m["axes"], field+".axes")
		if err != nil {
			return nil, err
		}
		axes, err := parseAxes(axesRaw, field+".axes", onMissing)
		if err != nil {
			return nil, err
		}

		targets, err := parseTargets(m["targets"], field+".targets", onMissing)
		if err != nil {
			return nil, err
		}

		derivedSeries, err := parseDerivedSeries(m["derived"], field+".derived")
		if err != nil {
			return nil, err
		}

		aggregates, err := parseAggregates(m["aggregates"], field+".aggregates")
		if err != nil {
			return nil, err
		}

		files = append(files, FileProfile{
			ID:            id,
			PathColumn:    pathCol,
			Format:        strings.ToLower(format),
			OnMissing:     onMissing,
			Axes:          axes,
			Targets:       targets,
			DerivedSeries: derivedSeries,
			Aggregates:    aggregates,
		})
	}
	return files, nil
}

// parseAxes accepts, per canonical axis: a bare string (single candidate), a
// candidate list, or a mapping with source/candidates, type, and on_missing.
func parseAxes(raw map[string]any, field string, dflt MissingPolicy) ([]AxisSpec, error) {
	var axes []AxisSpec
	for _, axis := range CanonicalAxes {
		v, present := raw[axis]
		if !present || v == nil {
			continue
		}
		af := field + "." + axis
		a := AxisSpec{Axis: axis, Type: "float", OnMissing: dflt}

		switch val := v.(type) {
		case string:
			s := strings.TrimSpace(val)
			if s == "" {
				continue
			}
			a.Candidates = []string{s}
		case []any:
			cands, err := asStrList(val, af)
			if err != nil {
				return nil, err
			}
			a.Candidates = cands
		default:
			m, err := asMap(v, af)
			if err != nil {
				return nil, err
			}
			src, err := asOptStr(firstOf(m, "source", "column", "name"), af+".source")
			if err != nil {
				return nil, err
			}
			a.Source = src
			if src == "" {
				cands, err := asStrList(m["candidates"], af+".candidates")
				if err != nil {
					return nil, err
				}
				a.Candidates = cands
			}
			typ, err := asOptStr(firstOf(m, "type", "dtype"), af+".type")
			if err != nil {
				return nil, err
			}
			if typ != "" {
				a.Type = strings.ToLower(typ)
			}
			pol, err := parsePolicy(m["on_missing"], af+".on_missing", dflt)
			if err != nil {
				return nil, err
			}
			a.OnMissing = pol
		}
		axes = append(axes, a)
	}
	return axes, nil
}

func parseTargets(v any, field string, dflt MissingPolicy) ([]TargetSpec, error) {
	list, err := asList(v, field)
	if err != nil {
		return nil, err
	}
	targets := make([]TargetSpec, 0, len(list))
	for i, item := range list {
		tf := fmt.Sprintf("%s[%d]", field, i)
		m, err := asMap(item, tf)
		if err != nil {
			return nil, err
		}
		name, err := asStr(m["name"], tf+".name")
		if err != nil {
			return nil, err
		}
		src, err := asOptStr(firstOf(m, "source", "column"), tf+".source")
		if err != nil {
			return nil, err
		}
		var cands []string
		if src == "" {
			cands, err = asStrList(m["candidates"], tf+".candidates")
			if err != nil {
				return nil, err
			}
		}
		typ, err := asOptStr(firstOf(m, "type", "dtype"), tf+".type")
		if err != nil {
			return nil, err
		}
		if typ == "" {
			typ = "float"
		}
		multi, err := asBool(m["allow_multiple"], tf+".allow_multiple")
		if err != nil {
			return nil, err
		}
		pol, err := parsePolicy(m["on_missing"], tf+".on_missing", dflt)
		if err != nil {
			return nil, err
		}
		targets = append(targets, TargetSpec{
			Name: name, Candidates: cands, Source: src,
			Type: strings.ToLower(typ), AllowMultiple: multi, OnMissing: pol,
		})
	}
	return targets, nil
}

func parseDerivedSeries(v any, field string) ([]DerivedSeries, error) {
	list, err := asList(v, field)
	if err != nil {
		return nil, err
	}
	out := make([]DerivedSeries, 0, len(list))
	for i, item := range list {
		df := fmt.Sprintf("%s[%d]", field, i)
		m, err := asMap(item, df)
		if err != nil {
			return nil, err
		}
		name, err := asStr(m["name"], df+".name")
		if err != nil {
			return nil, err
		}
		exprText, err := asStr(m["expr"], df+".expr")
		if err != nil {
			return nil, err
		}
		out = append(out, DerivedSeries{Name: name, Expr: exprText})
	}
	return out, nil
}

func parseDerived(v any, field string) ([]DerivedColumn, error) {
	list, err := asList(v, field)
	if err != nil {
		return nil, err
	}
	out := make([]DerivedColumn, 0, len(list))
	for i, item := range list {
		df := fmt.Sprintf("%s[%d]", field, i)
		m, err := asMap(item, df)
		if err != nil {
			return nil, err
		}
		name, err := asStr(m["name"], df+".name")
		if err != nil {
			return nil, err
		}
		exprText, err := asStr(m["expr"], df+".expr")
		if err != nil {
			return nil, err
		}
		out = append(out, DerivedColumn{Name: name, Expr: exprText})
	}
	return out, nil
}

func parseAggregates(v any, field string) ([]Aggregate, error) {
	list, err := asList(v, field)
	if err != nil {
		return nil, err
	}
	out := make([]Aggregate, 0, len(list))
	for i, item := range list {
		af := fmt.Sprintf("%s[%d]", field, i)
		m, err := asMap(item, af)
		if err != nil {
			return nil, err
		}
		name, err := asStr(m["name"], af+".name")
		if err != nil {
			return nil, err
		}
		src, err := asStr(m["source"], af+".source")
		if err != nil {
			return nil, err
		}
		op, err := asStr(m["op"], af+".op")
		if err != nil {
			return nil, err
		}
		wrt, err := asOptStr(m["wrt"], af+".wrt")
		if err != nil {
			return nil, err
		}
		out = append(out, Aggregate{Name: name, Source: src, Op: strings.ToLower(op), Wrt: wrt})
	}
	return out, nil
}

func parsePolicy(v any, field string, dflt MissingPolicy) (MissingPolicy, error) {
	s, err := asOptStr(v, field)
	if err != nil {
		return "", err
	}
	if s == "" {
		return dflt, nil
	}
	return MissingPolicy(strings.ToLower(s)), nil
}

// firstOf returns the first non-nil value among the given keys.
func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
