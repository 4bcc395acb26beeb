// Package combine resolves how multiple mapped files belonging to one
// condition row become canonical rows: zipped side by side (merge), stacked
// as independent blocks (append), or merge-with-append-fallback (auto).
package combine

import (
	"fmt"

	"github.com/refold/refold/internal/mapper"
	"github.com/refold/refold/internal/spec"
)

// Combine error codes (E410-E419).
const (
	ErrCodeAxisMismatch   = "E410" // coordinate axis sets differ across files
	ErrCodeLengthMismatch = "E411" // sample counts differ, nothing is truncated
	ErrCodeNameCollision  = "E412" // two files map the same payload series name
	ErrCodeNoFiles        = "E413"
)

// CombineError reports a merge failure. Row-scoped; under auto mode it is the
// signal to fall back to append.
type CombineError struct {
	Code    string
	Message string
}

func (e *CombineError) Error() string {
	return fmt.Sprintf("[%s] combine: %s", e.Code, e.Message)
}

// Block is one run of canonical rows sharing a sample index space. Merge
// yields a single block; append yields one per file.
type Block struct {
	FileID string // empty for a multi-file merged block
	Length int
	Series []*mapper.Series
}

// ByName returns the named series within the block, or nil.
func (b *Block) ByName(name string) *mapper.Series {
	for _, s := range b.Series {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Combined is the resolver output. Applied records the mode actually used,
// which differs from the requested mode when auto falls back.
type Combined struct {
	Applied spec.CombineMode
	Blocks  []*Block
}

// Combine resolves the mapped files for one condition row under mode.
// Files arrive in profile declaration order and that order is preserved in
// the output.
func Combine(files []*mapper.AxisSeries, mode spec.CombineMode) (*Combined, error) {
	if len(files) == 0 {
		return nil, &CombineError{Code: ErrCodeNoFiles, Message: "no mapped files for row"}
	}
	switch mode {
	case spec.CombineMerge:
		return merge(files)
	case spec.CombineAppend:
		return appendBlocks(files), nil
	case spec.CombineAuto:
		merged, err := merge(files)
		if err != nil {
			if _, ok := err.(*CombineError); ok {
				return appendBlocks(files), nil
			}
			return nil, err
		}
		// Applied stays merge so the provenance column records the mode
		// that actually shaped the rows.
		return merged, nil
	default:
		return nil, &CombineError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("unknown combine mode %q", mode)}
	}
}

func appendBlocks(files []*mapper.AxisSeries) *Combined {
	out := &Combined{Applied: spec.CombineAppend}
	for _, f := range files {
		out.Blocks = append(out.Blocks, &Block{
			FileID: f.FileID,
			Length: f.Length,
			Series: f.Series,
		})
	}
	return out
}

// merge zips the files by aligned sample index. The coordinate axes
// (x, y, z, t) are the alignment contract: every file must expose the same
// coordinate set with the same sample count. Coordinate values come from the
// first file; payload series (targets, derived) from every file, in file
// order. Sample counts are never reconciled by truncation.
func merge(files []*mapper.AxisSeries) (*Combined, error) {
	if len(files) == 1 {
		return &Combined{
			Applied: spec.CombineMerge,
			Blocks: []*Block{{
				FileID: files[0].FileID,
				Length: files[0].Length,
				Series: files[0].Series,
			}},
		}, nil
	}

	refAxes := coordinateAxes(files[0])
	for _, f := range files[1:] {
		if !sameAxisSet(refAxes, coordinateAxes(f)) {
			return nil, &CombineError{
				Code: ErrCodeAxisMismatch,
				Message: fmt.Sprintf("file %q coordinate axes %v differ from file %q axes %v",
					f.FileID, coordinateAxes(f), files[0].FileID, refAxes),
			}
		}
		if f.Length != files[0].Length {
			return nil, &CombineError{
				Code: ErrCodeLengthMismatch,
				Message: fmt.Sprintf("file %q has %d samples, file %q has %d",
					f.FileID, f.Length, files[0].FileID, files[0].Length),
			}
		}
	}

	block := &Block{Length: files[0].Length}
	seen := make(map[string]string)
	for i, f := range files {
		for _, s := range f.Series {
			if i > 0 && isCoordinate(s.Name) {
				continue
			}
			if owner, dup := seen[s.Name]; dup {
				return nil, &CombineError{
					Code: ErrCodeNameCollision,
					Message: fmt.Sprintf("series %q mapped by both %q and %q", s.Name, owner, f.FileID),
				}
			}
			seen[s.Name] = f.FileID
			block.Series = append(block.Series, s)
		}
	}
	return &Combined{Applied: spec.CombineMerge, Blocks: []*Block{block}}, nil
}

func isCoordinate(name string) bool {
	for _, a := range spec.CanonicalAxes {
		if name == a {
			return true
		}
	}
	return false
}

func coordinateAxes(f *mapper.AxisSeries) []string {
	var out []string
	for _, a := range spec.CanonicalAxes {
		if f.ByName(a) != nil {
			out = append(out, a)
		}
	}
	return out
}

func sameAxisSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
