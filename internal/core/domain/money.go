package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SplitEpsilon is the tolerance used when comparing split sums against claim totals.
var SplitEpsilon = decimal.RequireFromString("0.01")

// ParseAmount parses a non-negative monetary amount with at most two decimals.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not a number", raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must not be negative")
	}
	return d.Round(2), nil
}

// WithinEpsilon reports whether a and b differ by no more than SplitEpsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(SplitEpsilon)
}

// MinAmount returns the smaller of two amounts.
func MinAmount(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
