package table

import (
	"strconv"
	"strings"
)

// Value is a sealed interface over scalar cell variants.
// Only Missing, Number, Text, and Bool implement it.
type Value interface {
	cellValue() // sealed
}

// Missing is an absent or uncoercible cell.
type Missing struct{}

func (Missing) cellValue() {}

// Number is a numeric cell. All numerics are float64; integer condition
// columns are coerced through float64 like every other measurement value.
type Number float64

func (Number) cellValue() {}

// Text is a string cell (also used for path cells).
type Text string

func (Text) cellValue() {}

// Bool is a boolean cell.
type Bool bool

func (Bool) cellValue() {}

// IsMissing reports whether v is the missing variant (or nil).
func IsMissing(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Missing)
	return ok
}

// AsNumber returns the numeric value of v, if it has one.
func AsNumber(v Value) (float64, bool) {
	n, ok := v.(Number)
	return float64(n), ok
}

// Render formats a cell for CSV output. Missing renders as the empty string.
func Render(v Value) string {
	switch val := v.(type) {
	case Number:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Text:
		return string(val)
	case Bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Coerce converts a raw text cell to the declared condition-column type.
// An empty cell is Missing; an uncoercible cell is Missing as well, so that
// required-column checks and row reports decide severity, not the reader.
func Coerce(raw string, typ string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Missing{}
	}
	switch strings.ToLower(typ) {
	case "int", "integer", "float", "number":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Missing{}
		}
		return Number(f)
	case "bool", "boolean":
		switch strings.ToLower(s) {
		case "true", "t", "1", "yes", "y":
			return Bool(true)
		case "false", "f", "0", "no", "n":
			return Bool(false)
		}
		return Missing{}
	default: // str, string, path
		return Text(s)
	}
}
