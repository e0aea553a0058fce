// Package calc computes line and transaction amounts. It does no I/O and
// keeps full precision; rounding happens once, when a record is built for
// persistence (see RoundLine).
package calc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rentory/internal/num"
)

var ErrInvalidArgument = num.ErrInvalidArgument

// DefaultPlaces is the currency precision used for persisted amounts.
const DefaultPlaces int32 = 2

type LineResult struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

type TransactionTotal struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// CalculateStandardLine is the basis for purchase and sale lines. A discount
// larger than the subtotal is not clamped here and yields a negative total.
func CalculateStandardLine(quantity, unitPrice, discountAmount, taxAmount decimal.Decimal) (LineResult, error) {
	if err := checkLineArgs(quantity, unitPrice, discountAmount, taxAmount); err != nil {
		return LineResult{}, err
	}
	return compose(quantity.Mul(unitPrice), discountAmount, taxAmount), nil
}

func CalculateRentalLine(quantity, unitRate decimal.Decimal, rentalPeriod int, discountAmount, taxAmount decimal.Decimal) (LineResult, error) {
	if rentalPeriod < 1 {
		return LineResult{}, fmt.Errorf("%w: rental_period must be a positive integer, got %d", ErrInvalidArgument, rentalPeriod)
	}
	if err := checkLineArgs(quantity, unitRate, discountAmount, taxAmount); err != nil {
		return LineResult{}, err
	}
	subtotal := quantity.Mul(unitRate).Mul(decimal.NewFromInt(int64(rentalPeriod)))
	return compose(subtotal, discountAmount, taxAmount), nil
}

// CalculateTax returns the tax for taxableAmount at ratePercent. In inclusive
// mode the amount already contains the tax and the embedded part is returned.
func CalculateTax(taxableAmount, ratePercent decimal.Decimal, inclusive bool) (decimal.Decimal, error) {
	if ratePercent.IsNegative() || ratePercent.GreaterThan(num.Hundred) {
		return decimal.Zero, fmt.Errorf("%w: tax rate %s outside [0, 100]", ErrInvalidArgument, ratePercent)
	}
	if !inclusive {
		return taxableAmount.Mul(ratePercent).DivRound(num.Hundred, num.DivisionScale), nil
	}
	net := taxableAmount.Mul(num.Hundred).DivRound(num.Hundred.Add(ratePercent), num.DivisionScale)
	return taxableAmount.Sub(net), nil
}

// CalculateDiscount returns the discount for originalAmount. Fixed discounts
// are capped at originalAmount; CalculateStandardLine does not cap.
func CalculateDiscount(originalAmount, discountValue decimal.Decimal, isPercentage bool) (decimal.Decimal, error) {
	if discountValue.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: discount %s is negative", ErrInvalidArgument, discountValue)
	}
	if isPercentage {
		if discountValue.GreaterThan(num.Hundred) {
			return decimal.Zero, fmt.Errorf("%w: discount percentage %s above 100", ErrInvalidArgument, discountValue)
		}
		return originalAmount.Mul(discountValue).DivRound(num.Hundred, num.DivisionScale), nil
	}
	return decimal.Min(discountValue, originalAmount), nil
}

// LineTaxFromRate is the tax charged on a line: the rate applied to the
// subtotal after discount.
func LineTaxFromRate(subtotal, discountAmount, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	return CalculateTax(subtotal.Sub(discountAmount), ratePercent, false)
}

func AggregateTransactionTotal(lines []LineResult) TransactionTotal {
	total := TransactionTotal{
		Subtotal:      decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalTax:      decimal.Zero,
		GrandTotal:    decimal.Zero,
	}
	for _, line := range lines {
		total.Subtotal = total.Subtotal.Add(line.Subtotal)
		total.TotalDiscount = total.TotalDiscount.Add(line.DiscountAmount)
		total.TotalTax = total.TotalTax.Add(line.TaxAmount)
	}
	total.GrandTotal = total.Subtotal.Sub(total.TotalDiscount).Add(total.TotalTax)
	return total
}

// RoundFinancial rounds half away from zero (2.345 -> 2.35, -2.345 -> -2.35).
func RoundFinancial(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.Round(places)
}

// RoundLine rounds the components of a line for persistence and recomputes
// the total from the rounded parts, so the stored total always equals
// subtotal - discount + tax exactly.
func RoundLine(line LineResult, places int32) LineResult {
	return compose(
		RoundFinancial(line.Subtotal, places),
		RoundFinancial(line.DiscountAmount, places),
		RoundFinancial(line.TaxAmount, places),
	)
}

func compose(subtotal, discountAmount, taxAmount decimal.Decimal) LineResult {
	return LineResult{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		TaxAmount:      taxAmount,
		LineTotal:      subtotal.Sub(discountAmount).Add(taxAmount),
	}
}

func checkLineArgs(quantity, unitPrice, discountAmount, taxAmount decimal.Decimal) error {
	switch {
	case !quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be greater than 0, got %s", ErrInvalidArgument, quantity)
	case unitPrice.IsNegative():
		return fmt.Errorf("%w: unit price must not be negative, got %s", ErrInvalidArgument, unitPrice)
	case discountAmount.IsNegative():
		return fmt.Errorf("%w: discount must not be negative, got %s", ErrInvalidArgument, discountAmount)
	case taxAmount.IsNegative():
		return fmt.Errorf("%w: tax must not be negative, got %s", ErrInvalidArgument, taxAmount)
	}
	return nil
}
