package postgres

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const headerSelect = `
	SELECT id, transaction_number, transaction_type, transaction_date, customer_id, location_id,
	       status, payment_status, subtotal, discount_amount, tax_amount, total_amount, paid_amount,
	       notes, reference_number, rental_start_date, rental_end_date, original_transaction_id,
	       created_by, created_at, updated_at
	FROM transaction_headers`

const lineSelect = `
	SELECT id, transaction_id, line_number, line_type, item_id, description, condition,
	       quantity, unit_price, tax_rate, subtotal, tax_amount, discount_amount, line_total,
	       rental_period, original_line_id, notes
	FROM transaction_lines`

const levelSelect = `
	SELECT id, item_id, location_id, quantity_on_hand, quantity_available, quantity_on_rent, version, updated_at
	FROM stock_levels`

const movementSelect = `
	SELECT id, stock_level_id, sequence, item_id, location_id, transaction_id, transaction_line_id,
	       movement_type, reference_type, quantity_change, quantity_before, quantity_after,
	       available_change, on_rent_change, notes, created_by, created_at
	FROM stock_movements`

func scanHeader(row rowScanner) (*domain.TransactionHeader, error) {
	var (
		h                     domain.TransactionHeader
		rentalStart           sql.NullTime
		rentalEnd             sql.NullTime
		originalTransactionID sql.NullString
	)
	err := row.Scan(
		&h.ID, &h.TransactionNumber, &h.TransactionType, &h.TransactionDate, &h.CustomerID, &h.LocationID,
		&h.Status, &h.PaymentStatus, &h.Subtotal, &h.DiscountAmount, &h.TaxAmount, &h.TotalAmount, &h.PaidAmount,
		&h.Notes, &h.ReferenceNumber, &rentalStart, &rentalEnd, &originalTransactionID,
		&h.CreatedBy, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rentalStart.Valid {
		d := domain.NewDate(rentalStart.Time)
		h.RentalStartDate = &d
	}
	if rentalEnd.Valid {
		d := domain.NewDate(rentalEnd.Time)
		h.RentalEndDate = &d
	}
	h.OriginalTransactionID = originalTransactionID.String
	return &h, nil
}

func scanLine(row rowScanner) (*domain.TransactionLine, error) {
	var (
		line           domain.TransactionLine
		rentalPeriod   sql.NullInt64
		originalLineID sql.NullString
	)
	err := row.Scan(
		&line.ID, &line.TransactionID, &line.LineNumber, &line.LineType, &line.ItemID, &line.Description, &line.Condition,
		&line.Quantity, &line.UnitPrice, &line.TaxRate, &line.Subtotal, &line.TaxAmount, &line.DiscountAmount, &line.LineTotal,
		&rentalPeriod, &originalLineID, &line.Notes,
	)
	if err != nil {
		return nil, err
	}
	if rentalPeriod.Valid {
		line.Rental = &domain.RentalTerms{RentalPeriod: int(rentalPeriod.Int64)}
	}
	if originalLineID.Valid {
		line.Return = &domain.ReturnSource{OriginalLineID: originalLineID.String}
	}
	return &line, nil
}

func scanLevel(row rowScanner) (*domain.StockLevel, error) {
	var level domain.StockLevel
	err := row.Scan(
		&level.ID, &level.ItemID, &level.LocationID,
		&level.QuantityOnHand, &level.QuantityAvailable, &level.QuantityOnRent,
		&level.Version, &level.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &level, nil
}

func scanMovements(rows *sql.Rows) ([]domain.StockMovement, error) {
	result := make([]domain.StockMovement, 0, 32)
	for rows.Next() {
		var (
			m                 domain.StockMovement
			transactionID     sql.NullString
			transactionLineID sql.NullString
		)
		err := rows.Scan(
			&m.ID, &m.StockLevelID, &m.Sequence, &m.ItemID, &m.LocationID, &transactionID, &transactionLineID,
			&m.MovementType, &m.ReferenceType, &m.QuantityChange, &m.QuantityBefore, &m.QuantityAfter,
			&m.AvailableChange, &m.OnRentChange, &m.Notes, &m.CreatedBy, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		m.TransactionID = transactionID.String
		m.TransactionLineID = transactionLineID.String
		result = append(result, m)
	}
	return result, rows.Err()
}

func findTransaction(ctx context.Context, q querier, id string, forUpdate bool) (*domain.TransactionHeader, error) {
	query := headerSelect + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	h, err := scanHeader(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	lines, err := loadLines(ctx, q, h.ID)
	if err != nil {
		return nil, err
	}
	h.Lines = lines
	return h, nil
}

func loadLines(ctx context.Context, q querier, transactionID string) ([]domain.TransactionLine, error) {
	rows, err := q.QueryContext(ctx, lineSelect+` WHERE transaction_id = $1 ORDER BY line_number`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := make([]domain.TransactionLine, 0, 8)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	return lines, rows.Err()
}

func returnedQuantities(ctx context.Context, q querier, originalTransactionID string) (map[string]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT l.original_line_id, COALESCE(SUM(l.quantity), 0)
		FROM transaction_lines l
		JOIN transaction_headers h ON h.id = l.transaction_id
		WHERE h.original_transaction_id = $1
		  AND h.transaction_type = 'RETURN'
		  AND h.status <> 'CANCELLED'
		  AND l.original_line_id IS NOT NULL
		GROUP BY l.original_line_id
	`, originalTransactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			lineID string
			qty    decimal.Decimal
		)
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		result[lineID] = qty
	}
	return result, rows.Err()
}
