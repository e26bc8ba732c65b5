// Package rolling implements the trailing-twelve-month (TTM) and last-year-report
// (LYR) operators over quarterly point-in-time series.
//
// Both operators wrap one child expression and an offset N. Loading fetches the
// child over a window widened by ExtendedWindowSize, drops the last N entries so
// the tail is the report N periods ago, then rewrites that tail:
//
//   - TTM BalanceSheetAverage: mean of the trimmed window
//   - TTM FlowTelescoping: current + prior annual - prior same quarter,
//     annualized when either comparator is missing
//   - LYR: value of the prior annual report
//
// Operators are immutable and hold no per-call state, so a single tree can be
// loaded concurrently for many instruments.
package rolling

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/pitmetrics/internal/expr"
	"github.com/aristath/pitmetrics/internal/series"
)

var (
	// ErrUnsupportedAggregationType is returned by TTM for a mode outside Mode's two values
	ErrUnsupportedAggregationType = errors.New("unsupported aggregation type")
	// ErrMissingPeriodData is returned by LYR when the prior annual report was not fetched
	ErrMissingPeriodData = errors.New("missing period data")
)

// Aggregation is the closed set of tail rules: TTM and LYR
type Aggregation interface {
	// Name is the operator keyword in the expression language
	Name() string
	// extraPeriods is the left extension beyond N
	extraPeriods() int
	finalize(instrument string, s series.Series) (series.Series, error)
}

// Operator is a rolling node: one child, an offset N, and an aggregation rule
type Operator struct {
	child expr.Expression
	n     int
	agg   Aggregation
}

var (
	_ expr.Expression = (*Operator)(nil)
	_ expr.Wrapper    = (*Operator)(nil)
)

// NewTTM creates a trailing-twelve-month operator.
// The mode is checked when loading, not here.
func NewTTM(child expr.Expression, n int, mode Mode) *Operator {
	return &Operator{child: child, n: n, agg: TTM{Mode: mode}}
}

// NewLYR creates a last-year-report operator
func NewLYR(child expr.Expression, n int) *Operator {
	return &Operator{child: child, n: n, agg: LYR{}}
}

// Child returns the wrapped expression
func (o *Operator) Child() expr.Expression {
	return o.child
}

// N returns the period offset
func (o *Operator) N() int {
	return o.n
}

// Aggregation returns the tail rule, TTM or LYR
func (o *Operator) Aggregation() Aggregation {
	return o.agg
}

// Load fetches the widened child window, trims the last N entries and rewrites
// the tail. An empty trimmed series is returned as is.
func (o *Operator) Load(ctx context.Context, instrument string, start, end int, freq ...string) (series.Series, error) {
	left, right := o.ExtendedWindowSize()

	raw, err := o.child.Load(ctx, instrument, start+left, end-right, freq...)
	if err != nil {
		return series.Series{}, err
	}

	trimmed := raw.DropLast(o.n)
	if trimmed.Empty() {
		return trimmed, nil
	}

	return o.agg.finalize(instrument, trimmed)
}

// LongestBackRolling is Unbounded for N == 0: where the latest report sits is
// only known after fetching. Otherwise it is the child's bound plus N.
func (o *Operator) LongestBackRolling() expr.Bound {
	if o.n == 0 {
		return expr.Unbounded()
	}
	return o.child.LongestBackRolling().Add(o.n)
}

// ExtendedWindowSize returns (N+4, 0) for TTM and (N+3, 0) for LYR
func (o *Operator) ExtendedWindowSize() (int, int) {
	return o.n + o.agg.extraPeriods(), 0
}

// String renders the operator in the expression language
func (o *Operator) String() string {
	if ttm, ok := o.agg.(TTM); ok {
		return fmt.Sprintf("%s(%s, %d, %d)", ttm.Name(), o.child, o.n, int(ttm.Mode))
	}
	return fmt.Sprintf("%s(%s, %d)", o.agg.Name(), o.child, o.n)
}
