// Package stock applies stock-affecting events to the (StockLevel,
// StockMovement) pair of one item at one location.
package stock

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
	"rentory/internal/num"
	"rentory/internal/store"
)

// Delta is the change a movement makes to each quantity of a level.
type Delta struct {
	OnHand    decimal.Decimal
	Available decimal.Decimal
	OnRent    decimal.Decimal
}

type InsufficientStockError struct {
	Key          domain.StockKey
	MovementType domain.MovementType
	Field        string
	Available    decimal.Decimal
	Requested    decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s at location %s: %s %s, requested %s",
		e.Key.ItemID, e.Key.LocationID, e.Field, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return store.ErrInsufficientStock
}

// Transition computes the level after applying movementType with quantity.
// quantity is a positive magnitude, except for ADJUSTMENT where it is the
// signed change to on_hand and available. An absent level is passed as the
// zero level for its key. level is not modified.
func Transition(level domain.StockLevel, movementType domain.MovementType, quantity decimal.Decimal) (domain.StockLevel, Delta, error) {
	if movementType == domain.MovementAdjustment {
		if quantity.IsZero() {
			return level, Delta{}, fmt.Errorf("%w: adjustment quantity must not be zero", num.ErrInvalidArgument)
		}
	} else if !quantity.IsPositive() {
		return level, Delta{}, fmt.Errorf("%w: %s quantity must be greater than 0, got %s", num.ErrInvalidArgument, movementType, quantity)
	}

	var delta Delta
	switch movementType {
	case domain.MovementPurchase, domain.MovementSalesReturn, domain.MovementAdjustment:
		delta = Delta{OnHand: quantity, Available: quantity, OnRent: decimal.Zero}
	case domain.MovementSale:
		delta = Delta{OnHand: quantity.Neg(), Available: quantity.Neg(), OnRent: decimal.Zero}
	case domain.MovementRentalOut:
		delta = Delta{OnHand: decimal.Zero, Available: quantity.Neg(), OnRent: quantity}
	case domain.MovementReturn:
		delta = Delta{OnHand: decimal.Zero, Available: quantity, OnRent: quantity.Neg()}
	default:
		return level, Delta{}, fmt.Errorf("%w: unknown movement type %q", num.ErrInvalidArgument, movementType)
	}

	next := level
	next.QuantityOnHand = level.QuantityOnHand.Add(delta.OnHand)
	next.QuantityAvailable = level.QuantityAvailable.Add(delta.Available)
	next.QuantityOnRent = level.QuantityOnRent.Add(delta.OnRent)

	switch {
	case next.QuantityAvailable.IsNegative():
		return level, Delta{}, &InsufficientStockError{
			Key: level.Key(), MovementType: movementType, Field: "available",
			Available: level.QuantityAvailable, Requested: quantity.Abs(),
		}
	case next.QuantityOnRent.IsNegative():
		return level, Delta{}, &InsufficientStockError{
			Key: level.Key(), MovementType: movementType, Field: "on rent",
			Available: level.QuantityOnRent, Requested: quantity.Abs(),
		}
	case next.QuantityOnHand.IsNegative():
		return level, Delta{}, &InsufficientStockError{
			Key: level.Key(), MovementType: movementType, Field: "on hand",
			Available: level.QuantityOnHand, Requested: quantity.Abs(),
		}
	}
	return next, delta, nil
}
