// Package aggregate reduces mapped series to scalar values for the
// consolidated table. The missing discipline is uniform: samples flagged
// missing never contribute, and a reduction with no contributing samples
// yields a missing scalar rather than a zero.
package aggregate

import (
	"errors"
	"fmt"
	"math"

	"github.com/refold/refold/internal/mapper"
	"github.com/refold/refold/internal/spec"
)

// Aggregation error codes (E400-E409).
const (
	ErrCodeUnknownSeries = "E400" // aggregate source or wrt not present in the mapped file
	ErrCodeUnknownOp     = "E401" // operation outside mean|max|min|sum|trapz
	ErrCodeUnorderedWrt  = "E402" // trapz integration axis decreases
)

// AggregationError reports a whole-aggregate failure. Row-scoped.
type AggregationError struct {
	Code      string
	Aggregate string
	Message   string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("[%s] aggregate %q: %s", e.Code, e.Aggregate, e.Message)
}

// IsUnorderedWrt reports whether err is a trapz ordering violation.
func IsUnorderedWrt(err error) bool {
	var ae *AggregationError
	if errors.As(err, &ae) {
		return ae.Code == ErrCodeUnorderedWrt
	}
	return false
}

// Scalar is the outcome of one reduction. Missing scalars render as blank
// cells downstream.
type Scalar struct {
	Value   float64
	Missing bool
}

func missingScalar() Scalar { return Scalar{Value: math.NaN(), Missing: true} }

// Reduce applies one aggregate definition to a mapped file.
func Reduce(mapped *mapper.AxisSeries, def spec.Aggregate) (Scalar, error) {
	src := mapped.ByName(def.Source)
	if src == nil {
		// The source axis was skipped for this file; the aggregate is simply
		// absent, not an error.
		return missingScalar(), nil
	}

	switch def.Op {
	case "mean", "max", "min", "sum":
		return reduceSimple(src, def.Op), nil
	case "trapz":
		wrt := mapped.ByName(def.Wrt)
		if wrt == nil {
			return missingScalar(), nil
		}
		return reduceTrapz(src, wrt, def.Name)
	default:
		return missingScalar(), &AggregationError{
			Code: ErrCodeUnknownOp, Aggregate: def.Name,
			Message: fmt.Sprintf("unsupported operation %q", def.Op),
		}
	}
}

func reduceSimple(src *mapper.Series, op string) Scalar {
	var (
		acc   float64
		count int
	)
	for i, v := range src.Values {
		if src.Missing[i] {
			continue
		}
		if count == 0 {
			acc = v
		} else {
			switch op {
			case "mean", "sum":
				acc += v
			case "max":
				if v > acc {
					acc = v
				}
			case "min":
				if v < acc {
					acc = v
				}
			}
		}
		count++
	}
	if count == 0 {
		return missingScalar()
	}
	if op == "mean" {
		acc /= float64(count)
	}
	return Scalar{Value: acc}
}

// reduceTrapz integrates src over wrt by the trapezoidal rule. Samples where
// either side is missing are excluded pairwise before integration. The
// surviving integration axis must be non-decreasing in file order; the data
// is never re-sorted, an out-of-order axis is an error.
func reduceTrapz(src, wrt *mapper.Series, name string) (Scalar, error) {
	n := src.Len()
	if wrt.Len() < n {
		n = wrt.Len()
	}

	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if src.Missing[i] || wrt.Missing[i] {
			continue
		}
		xs = append(xs, wrt.Values[i])
		ys = append(ys, src.Values[i])
	}
	if len(xs) < 2 {
		return missingScalar(), nil
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[i-1] {
			return missingScalar(), &AggregationError{
				Code: ErrCodeUnorderedWrt, Aggregate: name,
				Message: fmt.Sprintf("integration axis decreases at sample %d (%g after %g)", i, xs[i], xs[i-1]),
			}
		}
	}

	var area float64
	for i := 1; i < len(xs); i++ {
		area += (xs[i] - xs[i-1]) * (ys[i] + ys[i-1]) / 2
	}
	return Scalar{Value: area}, nil
}

// ReduceAll applies every aggregate of a profile to its mapped file and
// returns the scalars keyed by aggregate name.
func ReduceAll(mapped *mapper.AxisSeries, profile *spec.FileProfile) (map[string]Scalar, error) {
	out := make(map[string]Scalar, len(profile.Aggregates))
	for _, def := range profile.Aggregates {
		s, err := Reduce(mapped, def)
		if err != nil {
			return nil, err
		}
		out[def.Name] = s
	}
	return out, nil
}
