// Package spec parses and validates the declarative canonicalization
// specification into an immutable in-memory schema.
//
// A specification declares the condition-table columns, one file profile per
// file-path column (axis candidate lists, target definitions, per-profile
// derived series and aggregates), spec-level derived columns, and the combine
// mode. Parsing is structural and fails fast with the offending field path;
// Validate collects every rule violation (coded ValidationError values) so a
// user can fix the whole document in one pass. Both happen before any file
// I/O.
//
// The parsed Specification is never mutated after Parse returns; it is passed
// explicitly to every downstream component and is safe to share across
// concurrent row processing.
package spec
