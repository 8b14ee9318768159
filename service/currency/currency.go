// Package currency converts between smallest-unit integers and display amounts.
// Balances and listing prices both go through here so the ÷10^8 conversion is
// applied in exactly one place.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the native coin.
const Decimals = 8

// Symbol is the display ticker of the native coin.
const Symbol = "APT"

// ErrInvalidAmount is returned by ParseDisplay for unusable input.
var ErrInvalidAmount = errors.New("invalid amount")

// ToDisplay returns units / 10^8 as an exact decimal.
func ToDisplay(units uint64) decimal.Decimal {
	return decimal.NewFromUint64(units).Shift(-Decimals)
}

// Format renders units as "<amount> APT" with trailing zeros trimmed.
func Format(units uint64) string {
	return fmt.Sprintf("%s %s", ToDisplay(units).String(), Symbol)
}

// ParseDisplay converts a display amount such as "1.5" into smallest units.
// Negative values, more than 8 fractional digits and values beyond uint64 are
// rejected.
func ParseDisplay(s string) (uint64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), Symbol))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	units := d.Shift(Decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, Decimals)
	}
	if units.GreaterThan(decimal.NewFromUint64(^uint64(0))) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}

	return units.BigInt().Uint64(), nil
}
