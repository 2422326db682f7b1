// Package money holds the decimal helpers shared by the terminal and the server.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Parse reads an operator-entered amount such as "100.50".
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return d, nil
}

// Sum adds all values; it returns zero for an empty list.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Variance is ending minus expected, rounded to two decimals.
func Variance(ending decimal.Decimal, expected decimal.Decimal) decimal.Decimal {
	return Round(ending.Sub(expected))
}
