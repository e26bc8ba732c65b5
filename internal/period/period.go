// Package period provides arithmetic over fiscal period codes.
//
// A period code packs a fiscal year and quarter into one integer as year*100+quarter,
// so 201704 is the fourth quarter (the annual report) of fiscal 2017. Codes order
// chronologically under plain integer comparison.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPeriod is returned when a string cannot be parsed into a period code
var ErrInvalidPeriod = errors.New("invalid period code")

// Code is a fiscal period encoded as year*100 + quarter
type Code int

// Encode builds a period code from a fiscal year and quarter
func Encode(year, quarter int) Code {
	return Code(year*100 + quarter)
}

// Year returns the fiscal year of the period
func (c Code) Year() int {
	return int(c) / 100
}

// Quarter returns the fiscal quarter of the period (1-4 for valid codes)
func (c Code) Quarter() int {
	return int(c) % 100
}

// Valid reports whether the quarter component lies in 1..4
func (c Code) Valid() bool {
	q := c.Quarter()
	return c > 0 && q >= 1 && q <= 4
}

// IsAnnual reports whether the period is a fourth-quarter (annual) report
func (c Code) IsAnnual() bool {
	return c.Quarter() == 4
}

// PriorAnnual returns the annual report period of the previous fiscal year
func PriorAnnual(c Code) Code {
	return Encode(c.Year()-1, 4)
}

// PriorSameQuarter returns the same quarter one fiscal year earlier
func PriorSameQuarter(c Code) Code {
	return Encode(c.Year()-1, c.Quarter())
}

// Prev returns the quarter immediately before c
func (c Code) Prev() Code {
	if c.Quarter() <= 1 {
		return Encode(c.Year()-1, 4)
	}
	return c - 1
}

// Next returns the quarter immediately after c
func (c Code) Next() Code {
	if c.Quarter() >= 4 {
		return Encode(c.Year()+1, 1)
	}
	return c + 1
}

// String renders the code as e.g. "2017Q4"
func (c Code) String() string {
	return fmt.Sprintf("%04dQ%d", c.Year(), c.Quarter())
}

// Parse accepts "201704", "2017Q4" and "2017-Q4" (case-insensitive)
func Parse(s string) (Code, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	raw = strings.ReplaceAll(raw, "-", "")

	var code Code
	if idx := strings.IndexByte(raw, 'Q'); idx >= 0 {
		year, err := strconv.Atoi(raw[:idx])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		quarter, err := strconv.Atoi(raw[idx+1:])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		code = Encode(year, quarter)
	} else {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		code = Code(n)
	}

	if !code.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return code, nil
}
