package paystack

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount rejects amounts that are not positive or have sub-minor precision.
var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ToMinor converts a major-unit amount (naira) to minor units (kobo), the
// unit the provider API works in.
func ToMinor(major decimal.Decimal) (int64, error) {
	if !major.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, major)
	}
	minor := major.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, major)
	}
	return minor.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatAmount renders minor units for display, e.g. "NGN 5000.00".
func FormatAmount(minor int64, currency string) string {
	s := FromMinor(minor).StringFixed(2)
	if currency == "" {
		return s
	}
	return currency + " " + s
}
