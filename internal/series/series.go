// Package series provides the immutable period-indexed value sequence that
// point-in-time expressions produce and consume.
package series

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/pitmetrics/internal/period"
)

var (
	// ErrLengthMismatch is returned when periods and values differ in length
	ErrLengthMismatch = errors.New("periods and values length mismatch")
	// ErrNotIncreasing is returned when periods are not strictly increasing
	ErrNotIncreasing = errors.New("periods must be strictly increasing")
)

// Series is an ordered mapping from period code to value.
// NaN marks a period whose value was not reported. The last entry is the most
// recent report. A Series is never mutated after construction; methods that
// change content return a new Series.
type Series struct {
	periods []period.Code
	values  []float64
}

// Empty returns a series with no entries
func Empty() Series {
	return Series{}
}

// New builds a series, copying the inputs
func New(periods []period.Code, values []float64) (Series, error) {
	if len(periods) != len(values) {
		return Series{}, fmt.Errorf("%w: %d periods, %d values", ErrLengthMismatch, len(periods), len(values))
	}
	for i := 1; i < len(periods); i++ {
		if periods[i] <= periods[i-1] {
			return Series{}, fmt.Errorf("%w: %s after %s", ErrNotIncreasing, periods[i], periods[i-1])
		}
	}
	return Series{
		periods: slices.Clone(periods),
		values:  slices.Clone(values),
	}, nil
}

// MustNew is New for literals in tests and fixtures; it panics on invalid input
func MustNew(periods []period.Code, values []float64) Series {
	s, err := New(periods, values)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of entries
func (s Series) Len() int {
	return len(s.periods)
}

// Empty reports whether the series has no entries
func (s Series) Empty() bool {
	return len(s.periods) == 0
}

// Period returns the period code at position i
func (s Series) Period(i int) period.Code {
	return s.periods[i]
}

// Value returns the value at position i
func (s Series) Value(i int) float64 {
	return s.values[i]
}

// Last returns the most recent entry. It panics on an empty series.
func (s Series) Last() (period.Code, float64) {
	n := len(s.periods)
	return s.periods[n-1], s.values[n-1]
}

// Lookup returns the value stored for code and whether the period is present.
// A present period may still hold NaN.
func (s Series) Lookup(code period.Code) (float64, bool) {
	i, found := slices.BinarySearch(s.periods, code)
	if !found {
		return math.NaN(), false
	}
	return s.values[i], true
}

// DropLast returns the series without its last n entries.
// n <= 0 drops nothing; n >= Len yields an empty series.
func (s Series) DropLast(n int) Series {
	if n <= 0 {
		return s
	}
	keep := len(s.periods) - n
	if keep <= 0 {
		return Series{}
	}
	return Series{
		periods: s.periods[:keep:keep],
		values:  s.values[:keep:keep],
	}
}

// Slice returns entries in positions [from, to) clipped to the series bounds
func (s Series) Slice(from, to int) Series {
	from = max(from, 0)
	to = min(to, len(s.periods))
	if from >= to {
		return Series{}
	}
	return Series{
		periods: s.periods[from:to:to],
		values:  s.values[from:to:to],
	}
}

// WithTail returns a series equal to s except that its last value is v.
// The period index is shared with s. It panics on an empty series.
func (s Series) WithTail(v float64) Series {
	values := slices.Clone(s.values)
	values[len(values)-1] = v
	return Series{
		periods: s.periods,
		values:  values,
	}
}

// Mean returns the arithmetic mean of the reported values, skipping NaN.
// A series with nothing reported has mean NaN.
func (s Series) Mean() float64 {
	reported := make([]float64, 0, len(s.values))
	for _, v := range s.values {
		if !math.IsNaN(v) {
			reported = append(reported, v)
		}
	}
	if len(reported) == 0 {
		return math.NaN()
	}
	return stat.Mean(reported, nil)
}

// Periods returns a copy of the period index
func (s Series) Periods() []period.Code {
	return slices.Clone(s.periods)
}

// Values returns a copy of the values
func (s Series) Values() []float64 {
	return slices.Clone(s.values)
}

// Equal reports whether both series hold the same periods and values.
// NaN equals NaN here.
func (s Series) Equal(o Series) bool {
	if !slices.Equal(s.periods, o.periods) {
		return false
	}
	return slices.EqualFunc(s.values, o.values, func(a, b float64) bool {
		return a == b || (math.IsNaN(a) && math.IsNaN(b))
	})
}

// Point is one entry in a series, used for JSON responses
type Point struct {
	Period period.Code `json:"period"`
	Value  *float64    `json:"value"`
}

// Points renders the series as a list of points; NaN becomes a null value
func (s Series) Points() []Point {
	points := make([]Point, len(s.periods))
	for i, p := range s.periods {
		points[i] = Point{Period: p}
		if v := s.values[i]; !math.IsNaN(v) {
			points[i].Value = &v
		}
	}
	return points
}
