package spec

// ToRaw serializes the specification back into the document mapping shape
// accepted by Parse. Round-tripping (Parse -> ToRaw -> Parse) yields a
// structurally equal Specification; this backs spec re-embedding during
// reprocessing.
func (s *Specification) ToRaw() map[string]any {
	cols := make([]any, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		m := map[string]any{"name": c.Name, "type": c.Type, "required": c.Required}
		if c.Description != "" {
			m["description"] = c.Description
		}
		if len(c.Enum) > 0 {
			m["enum"] = strsToAny(c.Enum)
		}
		if c.Format != "" {
			m["format"] = c.Format
		}
		cols = append(cols, m)
	}

	files := make([]any, 0, len(s.Files))
	for i := range s.Files {
		files = append(files, s.Files[i].toRaw())
	}

	out := map[string]any{
		"schema_version": s.SchemaVersion,
		"condition":      map[string]any{"columns": cols},
		"files":          files,
		"output":         map[string]any{"combine_mode": string(s.Combine)},
	}

	if len(s.Derived) > 0 {
		derived := make([]any, 0, len(s.Derived))
		for _, d := range s.Derived {
			derived = append(derived, map[string]any{"name": d.Name, "expr": d.Expr})
		}
		out["derived"] = derived
	}
	return out
}

func (f *FileProfile) toRaw() map[string]any {
	axes := make(map[string]any, len(f.Axes))
	for _, a := range f.Axes {
		m := map[string]any{"type": a.Type, "on_missing": string(a.OnMissing)}
		if a.Explicit() {
			m["source"] = a.Source
		} else {
			m["candidates"] = strsToAny(a.Candidates)
		}
		axes[a.Axis] = m
	}

	targets := make([]any, 0, len(f.Targets))
	for _, t := range f.Targets {
		m := map[string]any{
			"name": t.Name, "type": t.Type,
			"allow_multiple": t.AllowMultiple, "on_missing": string(t.OnMissing),
		}
		if t.Explicit() {
			m["source"] = t.Source
		} else {
			m["candidates"] = strsToAny(t.Candidates)
		}
		targets = append(targets, m)
	}

	out := map[string]any{
		"id":          f.ID,
		"path_column": f.PathColumn,
		"format":      f.Format,
		"on_missing":  string(f.OnMissing),
		"axes":        axes,
		"targets":     targets,
	}

	if len(f.DerivedSeries) > 0 {
		derived := make([]any, 0, len(f.DerivedSeries))
		for _, d := range f.DerivedSeries {
			derived = append(derived, map[string]any{"name": d.Name, "expr": d.Expr})
		}
		out["derived"] = derived
	}
	if len(f.Aggregates) > 0 {
		aggs := make([]any, 0, len(f.Aggregates))
		for _, a := range f.Aggregates {
			m := map[string]any{"name": a.Name, "source": a.Source, "op": a.Op}
			if a.Wrt != "" {
				m["wrt"] = a.Wrt
			}
			aggs = append(aggs, m)
		}
		out["aggregates"] = aggs
	}
	return out
}

func strsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
