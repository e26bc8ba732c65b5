package rolling

import (
	"fmt"

	"github.com/aristath/pitmetrics/internal/period"
	"github.com/aristath/pitmetrics/internal/series"
)

// LYR substitutes the latest annual report for an interim tail
type LYR struct{}

// Name implements Aggregation
func (LYR) Name() string {
	return "LYR"
}

// Three extra periods reach the prior annual report.
func (LYR) extraPeriods() int {
	return 3
}

// An absent prior annual report is an error, unlike TTM which annualizes.
func (LYR) finalize(instrument string, s series.Series) (series.Series, error) {
	last, _ := s.Last()
	if last.Quarter() == 4 {
		return s, nil
	}

	annual := period.PriorAnnual(last)
	v, ok := s.Lookup(annual)
	if !ok {
		return series.Series{}, fmt.Errorf("%w: %s has no %s report before %s", ErrMissingPeriodData, instrument, annual, last)
	}
	return s.WithTail(v), nil
}
