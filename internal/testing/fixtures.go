package testing

import (
	"time"

	"github.com/aristath/pitmetrics/internal/period"
	"github.com/aristath/pitmetrics/internal/reports"
)

// YTDNetProfit is cumulative year-to-date net profit for 201601..201804
var YTDNetProfit = []float64{10, 25, 45, 70, 12, 30, 51, 80, 15, 33, 56, 90}

// PublishedAt returns the fixture publication date of a period: 45 days after quarter end
func PublishedAt(p period.Code) time.Time {
	month := time.Month(p.Quarter()*3 + 1)
	return time.Date(p.Year(), month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 44)
}

// NewNetProfitFixtures returns YTDNetProfit as reports of instrument
func NewNetProfitFixtures(instrument string) []reports.Report {
	out := make([]reports.Report, 0, len(YTDNetProfit))
	code := period.Encode(2016, 1)
	for _, v := range YTDNetProfit {
		out = append(out, reports.Report{
			Instrument:  instrument,
			Field:       "net_profit",
			Period:      code,
			Value:       floatPtr(v),
			PublishedAt: PublishedAt(code),
		})
		code = code.Next()
	}
	return out
}

func floatPtr(f float64) *float64 {
	return &f
}
