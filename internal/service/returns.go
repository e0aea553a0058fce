package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rentory/internal/calc"
	"rentory/internal/domain"
	"rentory/internal/num"
	"rentory/internal/store"
	"rentory/internal/validation"
	"rentory/internal/xid"
)

type returnSpec struct {
	ItemID    string
	Quantity  decimal.Decimal
	Raw       string
	Condition string
	Notes     string
}

// CreateReturn books goods coming back against a SALE (restocked, refund
// prorated from the original line) or a RENTAL (back from rent, no charge).
// A rental whose every line has come back is marked COMPLETED.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnRequest) (domain.TransactionCreatedResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateReturn", trace.WithAttributes(
		attribute.String("original_transaction_id", req.OriginalTransactionID),
	))
	defer span.End()

	v := s.check(req)
	date, _ := v.date(req.ReturnDate, "return_date")
	if v.has("original_transaction_id") {
		return domain.TransactionCreatedResponse{}, v.err()
	}

	original, err := s.repo.FindTransactionByID(ctx, req.OriginalTransactionID)
	if err != nil {
		if verr := v.err(); verr != nil {
			return domain.TransactionCreatedResponse{}, verr
		}
		return domain.TransactionCreatedResponse{}, notFound("Transaction", req.OriginalTransactionID, err)
	}

	var movementType domain.MovementType
	switch original.TransactionType {
	case domain.TransactionTypeSale:
		movementType = domain.MovementSalesReturn
	case domain.TransactionTypeRental:
		movementType = domain.MovementReturn
	default:
		v.add(validation.Field("value_error", "Only SALE and RENTAL transactions can be returned",
			string(original.TransactionType), "original_transaction_id"))
		return domain.TransactionCreatedResponse{}, v.err()
	}
	if original.Status == domain.StatusCancelled {
		if verr := v.err(); verr != nil {
			return domain.TransactionCreatedResponse{}, verr
		}
		return domain.TransactionCreatedResponse{}, fmt.Errorf("%w: transaction %s is cancelled", store.ErrInvalidState, original.ID)
	}

	onOriginal := make(map[string]bool, len(original.Lines))
	for _, line := range original.Lines {
		onOriginal[line.ItemID] = true
	}
	specs := make([]returnSpec, 0, len(req.Items))
	for i, item := range req.Items {
		if v.has("items", i) {
			continue
		}
		if !onOriginal[item.ItemID] {
			v.add(validation.Field("value_error",
				fmt.Sprintf("Item %s is not part of transaction %s", item.ItemID, original.TransactionNumber),
				item.ItemID, "items", i, "item_id"))
		}
		qty, ok := v.decimal(item.Quantity, "items", i, "quantity")
		if !ok {
			continue
		}
		if movementType == domain.MovementSalesReturn && !qty.IsInteger() {
			v.add(validation.Field("int_parsing", "Input should be a valid integer",
				item.Quantity.Raw(), "items", i, "quantity"))
		}
		specs = append(specs, returnSpec{
			ItemID:    item.ItemID,
			Quantity:  qty,
			Raw:       item.Quantity.Raw(),
			Condition: item.Condition,
			Notes:     strings.TrimSpace(item.Notes),
		})
	}
	if err := v.err(); err != nil {
		return domain.TransactionCreatedResponse{}, err
	}

	header := s.newHeader(ctx, domain.TransactionTypeReturn, date, original.CustomerID, original.LocationID, req.Notes, original.TransactionNumber)
	header.OriginalTransactionID = original.ID

	keys := make([]domain.StockKey, 0, len(specs))
	for _, spec := range specs {
		keys = append(keys, domain.StockKey{ItemID: spec.ItemID, LocationID: original.LocationID})
	}

	prepare := func(ctx context.Context, uow store.UnitOfWork) error {
		locked, err := uow.LockTransaction(ctx, original.ID)
		if err != nil {
			return notFound("Transaction", original.ID, err)
		}
		if locked.Status == domain.StatusCancelled {
			return fmt.Errorf("%w: transaction %s is cancelled", store.ErrInvalidState, locked.ID)
		}
		returned, err := uow.ReturnedQuantities(ctx, locked.ID)
		if err != nil {
			return err
		}

		lines, taken, details, err := allocateReturn(locked, returned, specs)
		if err != nil {
			return err
		}
		if len(details) > 0 {
			return &ValidationError{Details: details}
		}
		for i := range lines {
			lines[i].TransactionID = header.ID
			lines[i].LineNumber = i + 1
		}
		header.Lines = lines
		applyTotals(header)
		header.PaymentStatus = domain.PaymentPending
		if header.TotalAmount.IsZero() {
			header.PaymentStatus = domain.PaymentPaid
		}

		status := locked.Status
		if locked.TransactionType == domain.TransactionTypeRental && fullyReturned(locked, returned, taken) {
			status = domain.StatusCompleted
		}
		return uow.UpdateTransactionStatus(ctx, locked.ID, status)
	}

	if err := s.commit(ctx, header, keys, movementType, prepare); err != nil {
		span.RecordError(err)
		return domain.TransactionCreatedResponse{}, err
	}
	return created(header, "Return transaction created successfully"), nil
}

// allocateReturn spreads each requested quantity over the original lines
// for that item, oldest line first, never past what is still outstanding.
func allocateReturn(original *domain.TransactionHeader, returned map[string]decimal.Decimal, specs []returnSpec) ([]domain.TransactionLine, map[string]decimal.Decimal, []validation.Detail, error) {
	taken := make(map[string]decimal.Decimal)
	outstanding := func(line domain.TransactionLine) decimal.Decimal {
		return line.Quantity.Sub(returned[line.ID]).Sub(taken[line.ID])
	}

	var (
		lines   []domain.TransactionLine
		details []validation.Detail
	)
	for i, spec := range specs {
		remaining := decimal.Zero
		for _, line := range original.Lines {
			if line.ItemID == spec.ItemID {
				remaining = remaining.Add(outstanding(line))
			}
		}
		if spec.Quantity.GreaterThan(remaining) {
			details = append(details, validation.Field("value_error",
				fmt.Sprintf("Return quantity %s exceeds remaining quantity %s", spec.Quantity, remaining),
				spec.Raw, "items", i, "quantity"))
			continue
		}

		left := spec.Quantity
		for _, line := range original.Lines {
			if line.ItemID != spec.ItemID || !left.IsPositive() {
				continue
			}
			open := outstanding(line)
			if !open.IsPositive() {
				continue
			}
			qty := decimal.Min(left, open)
			returnLine, err := buildReturnLine(original.TransactionType, line, qty, spec)
			if err != nil {
				return nil, nil, nil, err
			}
			lines = append(lines, returnLine)
			taken[line.ID] = taken[line.ID].Add(qty)
			left = left.Sub(qty)
		}
	}
	return lines, taken, details, nil
}

func buildReturnLine(originalType domain.TransactionType, source domain.TransactionLine, qty decimal.Decimal, spec returnSpec) (domain.TransactionLine, error) {
	condition := spec.Condition
	if condition == "" {
		condition = source.Condition
	}
	line := domain.TransactionLine{
		ID:             xid.New(),
		LineType:       domain.LineTypeReturn,
		ItemID:         source.ItemID,
		Description:    "Return: " + source.Description,
		Condition:      condition,
		Quantity:       qty,
		UnitPrice:      decimal.Zero,
		TaxRate:        decimal.Zero,
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
		DiscountAmount: decimal.Zero,
		LineTotal:      decimal.Zero,
		Notes:          spec.Notes,
		Return:         &domain.ReturnSource{OriginalLineID: source.ID},
	}
	if originalType != domain.TransactionTypeSale {
		return line, nil
	}

	ratio, err := num.Div(qty, source.Quantity)
	if err != nil {
		return domain.TransactionLine{}, err
	}
	result, err := calc.CalculateStandardLine(qty, source.UnitPrice, source.DiscountAmount.Mul(ratio), source.TaxAmount.Mul(ratio))
	if err != nil {
		return domain.TransactionLine{}, err
	}
	result = calc.RoundLine(result, calc.DefaultPlaces)
	line.UnitPrice = source.UnitPrice
	line.TaxRate = source.TaxRate
	line.Subtotal = result.Subtotal
	line.DiscountAmount = result.DiscountAmount
	line.TaxAmount = result.TaxAmount
	line.LineTotal = result.LineTotal
	return line, nil
}

func fullyReturned(original *domain.TransactionHeader, returned, taken map[string]decimal.Decimal) bool {
	for _, line := range original.Lines {
		if returned[line.ID].Add(taken[line.ID]).LessThan(line.Quantity) {
			return false
		}
	}
	return true
}
