// Package mapper resolves a measurement file's native columns onto the
// canonical axes (x, y, z, t, and one-or-more f targets) declared by a file
// profile.
//
// Matching is deterministic: for each declared axis the profile's candidate
// list is scanned in order against the file's header (NFC-normalized,
// case-folded, trimmed), first match wins; an explicit {source, type} entry
// bypasses the search. Coercion failures on individual samples become
// per-sample defects on the series, never whole-file failures. A wholly
// absent axis follows the axis's on_missing policy.
package mapper
