// Package num holds the decimal primitives shared by the calculator, the
// stock reconciler and the request layer. Money and quantities never pass
// through float64 arithmetic.
package num

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidArgument = errors.New("invalid argument")

// DivisionScale is the number of fractional digits kept by every division.
const DivisionScale int32 = 28

var Hundred = decimal.NewFromInt(100)

// Parse reads a decimal from request text. Empty, garbled and non-finite
// ("NaN", "Infinity") input fails with ErrInvalidArgument.
func Parse(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty number", ErrInvalidArgument)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidArgument, s)
	}
	return d, nil
}

// Div divides with DivisionScale fractional digits.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: division by zero", ErrInvalidArgument)
	}
	return a.DivRound(b, DivisionScale), nil
}
