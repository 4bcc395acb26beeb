// Package table defines the scalar cell model shared by condition rows and
// the canonical/consolidated output tables.
//
// Cells are a small sealed variant set (Missing, Number, Text, Bool) so that
// downstream code can switch exhaustively instead of sniffing interface{}
// values. Condition rows are read once per run and never mutated; outputs are
// assembled as new rows.
package table
