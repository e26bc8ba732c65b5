// Package expr defines the lazy expression contract shared by every node of a
// point-in-time query: load a window of a series, and declare how much history
// the node needs so the caller can over-fetch from storage.
package expr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aristath/pitmetrics/internal/series"
)

// ErrUnsupportedFrequency is returned when a load asks for anything but quarterly data
var ErrUnsupportedFrequency = errors.New("unsupported frequency")

// Expression is a node in a point-in-time expression tree.
//
// Indices count back from the most recent report: 0 is the latest period and
// larger indices lie further in the past, so start >= end for a non-empty window.
type Expression interface {
	// Load returns the entries whose back-index lies in [end, start]
	Load(ctx context.Context, instrument string, start, end int, freq ...string) (series.Series, error)
	// LongestBackRolling returns how far back the node may reach
	LongestBackRolling() Bound
	// ExtendedWindowSize returns the extra periods needed before and after the window
	ExtendedWindowSize() (left, right int)
	// String returns the canonical expression text
	String() string
}

// Wrapper is implemented by nodes that wrap exactly one child expression
type Wrapper interface {
	Child() Expression
}

// Walk visits e and then each wrapped descendant, stopping when fn returns false
func Walk(e Expression, fn func(Expression) bool) {
	for e != nil {
		if !fn(e) {
			return
		}
		w, ok := e.(Wrapper)
		if !ok {
			return
		}
		e = w.Child()
	}
}

// Bound is a history requirement in periods, or Unbounded when it cannot be
// known before the data has been fetched.
type Bound struct {
	periods   int
	unbounded bool
}

// Bounded returns a finite requirement of n periods
func Bounded(n int) Bound {
	return Bound{periods: n}
}

// Unbounded returns the requirement that cannot be statically bounded
func Unbounded() Bound {
	return Bound{unbounded: true}
}

// IsUnbounded reports whether the bound is Unbounded
func (b Bound) IsUnbounded() bool {
	return b.unbounded
}

// Periods returns the finite bound; ok is false when the bound is Unbounded
func (b Bound) Periods() (n int, ok bool) {
	if b.unbounded {
		return 0, false
	}
	return b.periods, true
}

// Add shifts a finite bound by n; Unbounded stays Unbounded
func (b Bound) Add(n int) Bound {
	if b.unbounded {
		return b
	}
	return Bound{periods: b.periods + n}
}

// String renders the bound as a number or "unbounded"
func (b Bound) String() string {
	if b.unbounded {
		return "unbounded"
	}
	return strconv.Itoa(b.periods)
}

// MarshalJSON encodes Unbounded as null and a finite bound as a number
func (b Bound) MarshalJSON() ([]byte, error) {
	if b.unbounded {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(b.periods)), nil
}

// UnmarshalJSON is the inverse of MarshalJSON
func (b *Bound) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*b = Unbounded()
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid bound %s: %w", s, err)
	}
	*b = Bounded(n)
	return nil
}

// CheckFrequency validates the optional frequency arguments of a load
func CheckFrequency(freq ...string) error {
	for _, f := range freq {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "", "q", "quarter", "quarterly":
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedFrequency, f)
		}
	}
	return nil
}
