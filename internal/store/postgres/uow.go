package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
	"rentory/internal/store"
)

// unitOfWork runs inside one serializable transaction. Stock levels and
// headers are row-locked on read; version columns catch anything that slips
// past the locks.
type unitOfWork struct {
	tx *sql.Tx
}

func (u *unitOfWork) LockStockLevel(ctx context.Context, key domain.StockKey) (*domain.StockLevel, error) {
	row := u.tx.QueryRowContext(ctx, levelSelect+`
		WHERE item_id = $1 AND location_id = $2
		FOR UPDATE
	`, key.ItemID, key.LocationID)
	level, err := scanLevel(row)
	if err != nil {
		return nil, notFound(err)
	}
	return level, nil
}

func (u *unitOfWork) SaveStockLevel(ctx context.Context, level *domain.StockLevel) error {
	now := time.Now().UTC()
	if level.Version == 0 {
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO stock_levels (
				id, item_id, location_id, quantity_on_hand, quantity_available, quantity_on_rent, version, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,1,$7)
		`, level.ID, level.ItemID, level.LocationID,
			level.QuantityOnHand, level.QuantityAvailable, level.QuantityOnRent, now)
		if err != nil {
			return classify(err)
		}
		level.Version = 1
		level.UpdatedAt = now
		return nil
	}

	res, err := u.tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET quantity_on_hand = $3, quantity_available = $4, quantity_on_rent = $5,
		    version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $2
	`, level.ID, level.Version, level.QuantityOnHand, level.QuantityAvailable, level.QuantityOnRent, now)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: stock level %s changed", store.ErrConflict, level.Key())
	}
	level.Version++
	level.UpdatedAt = now
	return nil
}

func (u *unitOfWork) InsertMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, stock_level_id, sequence, item_id, location_id, transaction_id, transaction_line_id,
			movement_type, reference_type, quantity_change, quantity_before, quantity_after,
			available_change, on_rent_change, notes, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, m.ID, m.StockLevelID, m.Sequence, m.ItemID, m.LocationID,
		nullIfEmpty(m.TransactionID), nullIfEmpty(m.TransactionLineID),
		string(m.MovementType), string(m.ReferenceType),
		m.QuantityChange, m.QuantityBefore, m.QuantityAfter,
		m.AvailableChange, m.OnRentChange, m.Notes, m.CreatedBy, m.CreatedAt)
	return classify(err)
}

func (u *unitOfWork) LastMovement(ctx context.Context, stockLevelID string) (*domain.StockMovement, error) {
	rows, err := u.tx.QueryContext(ctx, movementSelect+`
		WHERE stock_level_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, stockLevelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanMovements(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (u *unitOfWork) ListMovementsForKey(ctx context.Context, key domain.StockKey) ([]domain.StockMovement, error) {
	rows, err := u.tx.QueryContext(ctx, movementSelect+`
		WHERE item_id = $1 AND location_id = $2
		ORDER BY sequence
	`, key.ItemID, key.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (u *unitOfWork) TransactionNumberTaken(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := u.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transaction_headers WHERE transaction_number = $1)
	`, number).Scan(&exists)
	return exists, err
}

func (u *unitOfWork) CountTransactionNumbers(ctx context.Context, prefix string) (int, error) {
	var count int
	err := u.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transaction_headers WHERE transaction_number LIKE $1 || '%'
	`, prefix).Scan(&count)
	return count, err
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, h domain.TransactionHeader) error {
	if h.ID == "" || h.TransactionNumber == "" || len(h.Lines) == 0 {
		return fmt.Errorf("incomplete transaction %q", h.ID)
	}
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transaction_headers (
			id, transaction_number, transaction_type, transaction_date, customer_id, location_id,
			status, payment_status, subtotal, discount_amount, tax_amount, total_amount, paid_amount,
			notes, reference_number, rental_start_date, rental_end_date, original_transaction_id,
			created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, h.ID, h.TransactionNumber, string(h.TransactionType), h.TransactionDate, h.CustomerID, h.LocationID,
		string(h.Status), string(h.PaymentStatus), h.Subtotal, h.DiscountAmount, h.TaxAmount, h.TotalAmount, h.PaidAmount,
		h.Notes, h.ReferenceNumber, nullDate(h.RentalStartDate), nullDate(h.RentalEndDate), nullIfEmpty(h.OriginalTransactionID),
		h.CreatedBy, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return classify(err)
	}

	for _, line := range h.Lines {
		var rentalPeriod any
		if line.Rental != nil {
			rentalPeriod = line.Rental.RentalPeriod
		}
		var originalLineID any
		if line.Return != nil {
			originalLineID = nullIfEmpty(line.Return.OriginalLineID)
		}
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO transaction_lines (
				id, transaction_id, line_number, line_type, item_id, description, condition,
				quantity, unit_price, tax_rate, subtotal, tax_amount, discount_amount, line_total,
				rental_period, original_line_id, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, line.ID, h.ID, line.LineNumber, string(line.LineType), line.ItemID, line.Description, line.Condition,
			line.Quantity, line.UnitPrice, line.TaxRate, line.Subtotal, line.TaxAmount, line.DiscountAmount, line.LineTotal,
			rentalPeriod, originalLineID, line.Notes)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (u *unitOfWork) LockTransaction(ctx context.Context, id string) (*domain.TransactionHeader, error) {
	return findTransaction(ctx, u.tx, id, true)
}

func (u *unitOfWork) UpdateTransactionPayment(ctx context.Context, id string, paid decimal.Decimal, status domain.PaymentStatus) error {
	_, err := u.tx.ExecContext(ctx, `
		UPDATE transaction_headers SET paid_amount = $2, payment_status = $3, updated_at = $4 WHERE id = $1
	`, id, paid, string(status), time.Now().UTC())
	return classify(err)
}

func (u *unitOfWork) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	_, err := u.tx.ExecContext(ctx, `
		UPDATE transaction_headers SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now().UTC())
	return classify(err)
}

func (u *unitOfWork) ReturnedQuantities(ctx context.Context, originalTransactionID string) (map[string]decimal.Decimal, error) {
	return returnedQuantities(ctx, u.tx, originalTransactionID)
}
