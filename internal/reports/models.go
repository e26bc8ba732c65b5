// Package reports stores point-in-time financial line items and serves them as series.
package reports

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/pitmetrics/internal/period"
)

// ErrInvalidReport is returned when a report fails validation before storage
var ErrInvalidReport = errors.New("invalid report")

// Report is one published value of a line item for a fiscal period.
// A nil Value means the line item was not reported.
type Report struct {
	Instrument  string      `json:"instrument"`
	Field       string      `json:"field"`
	Period      period.Code `json:"period"`
	Value       *float64    `json:"value"`
	PublishedAt time.Time   `json:"published_at"`
}

// Validate checks the identifying columns of a report
func (r Report) Validate() error {
	switch {
	case strings.TrimSpace(r.Instrument) == "":
		return fmt.Errorf("%w: instrument is required", ErrInvalidReport)
	case strings.TrimSpace(r.Field) == "":
		return fmt.Errorf("%w: field is required", ErrInvalidReport)
	case !r.Period.Valid():
		return fmt.Errorf("%w: period %d for %s/%s", ErrInvalidReport, int(r.Period), r.Instrument, r.Field)
	}
	return nil
}

// ParseAsOf parses an as-of query value. Empty means no cut-off.
// Accepts a date (2006-01-02) or an RFC3339 timestamp; a date covers the whole day.
func ParseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return d.Add(24*time.Hour - time.Second), nil
}
