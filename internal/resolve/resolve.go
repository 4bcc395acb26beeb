// Package resolve turns the raw file paths recorded in condition tables into
// real local files. Raw paths come from the authoring environment and may be
// stale: absolute paths from another machine, Windows separators, or bare
// names flattened at ingestion. Resolution is strict where it matters: an
// ambiguous match is an error, never a silent pick.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Resolution error codes (E500-E509).
const (
	ErrCodeUnresolved = "E500" // no candidate found
	ErrCodeAmbiguous  = "E501" // more than one equally good candidate
)

// UnresolvedPathError reports a failed or ambiguous resolution. Row-scoped.
type UnresolvedPathError struct {
	Code       string
	Raw        string
	Candidates []string // populated for ambiguity
	Message    string
}

func (e *UnresolvedPathError) Error() string {
	return fmt.Sprintf("[%s] path %q: %s", e.Code, e.Raw, e.Message)
}

// IsAmbiguous reports whether err is an ambiguity failure.
func IsAmbiguous(err error) bool {
	var ue *UnresolvedPathError
	if errors.As(err, &ue) {
		return ue.Code == ErrCodeAmbiguous
	}
	return false
}

// PathMap exposes previously confirmed raw-to-resolved pairs. Implemented by
// the sqlite-backed store; a nil PathMap skips the lookup step.
type PathMap interface {
	Get(raw string) (string, bool, error)
}

// How a path was resolved, carried for provenance and to decide whether the
// pair is a new path-map addition.
const (
	ViaPathMap   = "path_map"
	ViaRelative  = "relative"
	ViaBasename  = "basename"
	ViaDecorated = "decorated_basename"
)

// Resolved is one successful resolution.
type Resolved struct {
	Raw  string
	Path string
	Via  string
}

// Addition reports whether the pair should be persisted to the path map
// after the run.
func (r Resolved) Addition() bool { return r.Via != ViaPathMap }

// Resolve locates the file behind a raw path. Steps, in order:
// an exact path-map hit (tried with both separator conventions), the raw
// path taken relative to each search root, then a basename search across the
// roots (exact name first, then ingestion-decorated "*_<basename>").
func Resolve(raw string, pm PathMap, roots []string) (Resolved, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolved{}, &UnresolvedPathError{Code: ErrCodeUnresolved, Raw: raw, Message: "empty path"}
	}

	if pm != nil {
		for _, variant := range separatorVariants(raw) {
			mapped, ok, err := pm.Get(variant)
			if err != nil {
				return Resolved{}, fmt.Errorf("path map lookup for %q: %w", raw, err)
			}
			if ok && fileExists(mapped) {
				return Resolved{Raw: raw, Path: mapped, Via: ViaPathMap}, nil
			}
		}
	}

	rel := filepath.FromSlash(strings.ReplaceAll(raw, `\`, "/"))
	if hits := relativeHits(rel, roots); len(hits) > 0 {
		if len(hits) > 1 {
			return Resolved{}, ambiguous(raw, hits)
		}
		return Resolved{Raw: raw, Path: hits[0], Via: ViaRelative}, nil
	}

	base := filepath.Base(rel)
	exact, decorated, err := basenameSearch(base, roots)
	if err != nil {
		return Resolved{}, fmt.Errorf("searching roots for %q: %w", raw, err)
	}
	switch {
	case len(exact) == 1:
		return Resolved{Raw: raw, Path: exact[0], Via: ViaBasename}, nil
	case len(exact) > 1:
		return Resolved{}, ambiguous(raw, exact)
	case len(decorated) == 1:
		return Resolved{Raw: raw, Path: decorated[0], Via: ViaDecorated}, nil
	case len(decorated) > 1:
		return Resolved{}, ambiguous(raw, decorated)
	}

	return Resolved{}, &UnresolvedPathError{
		Code: ErrCodeUnresolved, Raw: raw,
		Message: fmt.Sprintf("not in path map, not under %d search root(s), basename %q not found", len(roots), base),
	}
}

func ambiguous(raw string, candidates []string) error {
	return &UnresolvedPathError{
		Code: ErrCodeAmbiguous, Raw: raw, Candidates: candidates,
		Message: fmt.Sprintf("%d equally good candidates: %s", len(candidates), strings.Join(candidates, ", ")),
	}
}

// separatorVariants returns the raw path plus its separator-swapped twins.
// Authoring environments mix Windows and POSIX conventions; the map may hold
// either form.
func separatorVariants(raw string) []string {
	variants := []string{raw}
	if fwd := strings.ReplaceAll(raw, `\`, "/"); fwd != raw {
		variants = append(variants, fwd)
	}
	if back := strings.ReplaceAll(raw, "/", `\`); back != raw {
		variants = append(variants, back)
	}
	return variants
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func relativeHits(rel string, roots []string) []string {
	if filepath.IsAbs(rel) {
		if fileExists(rel) {
			return []string{rel}
		}
		return nil
	}
	var hits []string
	seen := make(map[string]bool)
	for _, root := range roots {
		p := filepath.Join(root, rel)
		if fileExists(p) && !seen[p] {
			seen[p] = true
			hits = append(hits, p)
		}
	}
	return hits
}

// basenameSearch walks every root collecting files named exactly base and
// files named *_<base>. Walk order is deterministic (lexical within a root,
// roots in the given order) so ambiguity detection is stable.
func basenameSearch(base string, roots []string) (exact, decorated []string, err error) {
	seen := make(map[string]bool)
	for _, root := range roots {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtree: skip it rather than failing the search.
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || seen[path] {
				return nil
			}
			name := d.Name()
			switch {
			case name == base:
				seen[path] = true
				exact = append(exact, path)
			case strings.HasSuffix(name, "_"+base):
				seen[path] = true
				decorated = append(decorated, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, nil, walkErr
		}
	}
	return exact, decorated, nil
}
