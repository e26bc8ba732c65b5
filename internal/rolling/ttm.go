package rolling

import (
	"fmt"
	"math"

	"github.com/aristath/pitmetrics/internal/period"
	"github.com/aristath/pitmetrics/internal/series"
)

// Mode selects how TTM aggregates a window
type Mode int

const (
	// BalanceSheetAverage averages the point-in-time snapshots in the window
	BalanceSheetAverage Mode = 1
	// FlowTelescoping derives a rolling annual flow from cumulative quarterly reports
	FlowTelescoping Mode = 2
)

// Valid reports whether the mode is one TTM can apply
func (m Mode) Valid() bool {
	return m == BalanceSheetAverage || m == FlowTelescoping
}

func (m Mode) String() string {
	switch m {
	case BalanceSheetAverage:
		return "balance_sheet_average"
	case FlowTelescoping:
		return "flow_telescoping"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// annualization multiplies a cumulative year-to-date figure up to a full year
var annualization = map[int]float64{
	1: 4,
	2: 2,
	3: 4.0 / 3.0,
}

// TTM is the trailing-twelve-month aggregation
type TTM struct {
	Mode Mode
}

// Name implements Aggregation
func (TTM) Name() string {
	return "TTM"
}

// Four extra periods reach both the prior annual report and the prior same quarter.
func (TTM) extraPeriods() int {
	return 4
}

func (t TTM) finalize(_ string, s series.Series) (series.Series, error) {
	switch t.Mode {
	case BalanceSheetAverage:
		return s.WithTail(s.Mean()), nil
	case FlowTelescoping:
		return telescope(s), nil
	default:
		return series.Series{}, fmt.Errorf("%w: %d", ErrUnsupportedAggregationType, int(t.Mode))
	}
}

// telescope applies TTM = current + prior annual - prior same quarter
func telescope(s series.Series) series.Series {
	last, current := s.Last()
	q := last.Quarter()
	if q == 4 {
		return s
	}

	annual, okAnnual := s.Lookup(period.PriorAnnual(last))
	sameQuarter, okSame := s.Lookup(period.PriorSameQuarter(last))
	if okAnnual && okSame && !math.IsNaN(annual) && !math.IsNaN(sameQuarter) {
		return s.WithTail(current + annual - sameQuarter)
	}

	factor, ok := annualization[q]
	if !ok {
		return s
	}
	return s.WithTail(current * factor)
}
