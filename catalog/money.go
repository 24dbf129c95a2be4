package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// minorExponent is the number of minor units per major unit expressed as a power of ten.
const minorExponent = 2

// ParseAmount converts a decimal string such as "29.00" into minor units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	shifted := d.Shift(minorExponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, minorExponent)
	}
	return shifted.IntPart(), nil
}

// FromMajor converts a major-unit float (as sent by browsers) into minor units,
// rounding half away from zero.
func FromMajor(v float64) int64 {
	return decimal.NewFromFloat(v).Shift(minorExponent).Round(0).IntPart()
}

// FormatMinor renders minor units with two fixed decimals, e.g. 1800 -> "18.00".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -minorExponent).StringFixed(minorExponent)
}
