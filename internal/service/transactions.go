package service

import (
	"context"
	"errors"
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

// lineSpec is a parsed request line. Index is its position in the request.
// RentalPeriod is zero for purchase and sale lines.
type lineSpec struct {
	Index        int
	ItemID       string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	RentalPeriod int
	TaxRate      decimal.Decimal
	Discount     decimal.Decimal
	RawDiscount  string
	Condition    string
	Notes        string
}

var errDiscountExceedsSubtotal = errors.New("discount exceeds line subtotal")

// priceLine computes the rounded amounts for one line. Tax is charged on the
// discounted subtotal.
func priceLine(spec lineSpec) (calc.LineResult, error) {
	compute := func(discount, tax decimal.Decimal) (calc.LineResult, error) {
		if spec.RentalPeriod > 0 {
			return calc.CalculateRentalLine(spec.Quantity, spec.UnitPrice, spec.RentalPeriod, discount, tax)
		}
		return calc.CalculateStandardLine(spec.Quantity, spec.UnitPrice, discount, tax)
	}

	gross, err := compute(decimal.Zero, decimal.Zero)
	if err != nil {
		return calc.LineResult{}, err
	}
	if spec.Discount.GreaterThan(gross.Subtotal) {
		return calc.LineResult{}, errDiscountExceedsSubtotal
	}
	tax, err := calc.LineTaxFromRate(gross.Subtotal, spec.Discount, spec.TaxRate)
	if err != nil {
		return calc.LineResult{}, err
	}
	result, err := compute(spec.Discount, tax)
	if err != nil {
		return calc.LineResult{}, err
	}
	return calc.RoundLine(result, calc.DefaultPlaces), nil
}

// priceLines prices every spec. A line that cannot be priced, such as one
// whose discount is larger than its subtotal, is recorded in v.
func priceLines(v *violations, specs []lineSpec) []calc.LineResult {
	results := make([]calc.LineResult, len(specs))
	for i, spec := range specs {
		result, err := priceLine(spec)
		switch {
		case errors.Is(err, errDiscountExceedsSubtotal):
			v.add(validation.Field("value_error",
				"Discount amount cannot exceed line subtotal", spec.RawDiscount, "items", spec.Index, "discount_amount"))
		case err != nil:
			v.add(validation.Field("value_error", err.Error(), nil, "items", spec.Index))
		default:
			results[i] = result
		}
	}
	return results
}

func buildLines(header *domain.TransactionHeader, lineType domain.LineType, specs []lineSpec, results []calc.LineResult, items map[string]domain.Item) {
	header.Lines = make([]domain.TransactionLine, 0, len(specs))
	for i, spec := range specs {
		line := domain.TransactionLine{
			ID:             xid.New(),
			TransactionID:  header.ID,
			LineNumber:     i + 1,
			LineType:       lineType,
			ItemID:         spec.ItemID,
			Description:    describe(items[spec.ItemID], spec.Condition),
			Condition:      spec.Condition,
			Quantity:       spec.Quantity,
			UnitPrice:      spec.UnitPrice,
			TaxRate:        spec.TaxRate,
			Subtotal:       results[i].Subtotal,
			TaxAmount:      results[i].TaxAmount,
			DiscountAmount: results[i].DiscountAmount,
			LineTotal:      results[i].LineTotal,
			Notes:          spec.Notes,
		}
		if spec.RentalPeriod > 0 {
			line.Rental = &domain.RentalTerms{RentalPeriod: spec.RentalPeriod}
		}
		header.Lines = append(header.Lines, line)
	}
	applyTotals(header)
}

// applyTotals sets the header amounts from its already rounded lines.
func applyTotals(header *domain.TransactionHeader) {
	results := make([]calc.LineResult, 0, len(header.Lines))
	for _, line := range header.Lines {
		results = append(results, calc.LineResult{
			Subtotal:       line.Subtotal,
			DiscountAmount: line.DiscountAmount,
			TaxAmount:      line.TaxAmount,
			LineTotal:      line.LineTotal,
		})
	}
	total := calc.AggregateTransactionTotal(results)
	header.Subtotal = total.Subtotal
	header.DiscountAmount = total.TotalDiscount
	header.TaxAmount = total.TotalTax
	header.TotalAmount = total.GrandTotal
}

func describe(item domain.Item, condition string) string {
	name := item.Name
	if name == "" {
		name = item.SKU
	}
	if condition == "" {
		return name
	}
	return fmt.Sprintf("%s (Condition %s)", name, condition)
}

func (s *Service) newHeader(ctx context.Context, txType domain.TransactionType, date domain.Date, counterpartyID, locationID, notes, reference string) *domain.TransactionHeader {
	now := s.now()
	return &domain.TransactionHeader{
		ID:              xid.New(),
		TransactionType: txType,
		TransactionDate: date,
		CustomerID:      counterpartyID,
		LocationID:      locationID,
		Status:          domain.StatusCompleted,
		PaymentStatus:   domain.PaymentPending,
		PaidAmount:      decimal.Zero,
		Notes:           strings.TrimSpace(notes),
		ReferenceNumber: strings.TrimSpace(reference),
		CreatedBy:       actorName(ctx),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func notFound(entity, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func (s *Service) requireLocation(ctx context.Context, id string) error {
	_, err := s.repo.GetLocation(ctx, id)
	return notFound("Location", id, err)
}

// loadItems looks items up in request order and stops at the first missing one.
func (s *Service) loadItems(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	items := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if _, ok := items[id]; ok {
			continue
		}
		item, err := s.repo.GetItem(ctx, id)
		if err != nil {
			return nil, notFound("Item", id, err)
		}
		items[id] = *item
	}
	return items, nil
}

func itemIDs(specs []lineSpec) []string {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.ItemID)
	}
	return ids
}

// standardSpec parses one request line, recording every malformed field in v.
func standardSpec(v *violations, index int, itemID string, quantity, price num.Input, priceField string, taxRate, discount num.Input, condition, notes string) (lineSpec, bool) {
	spec := lineSpec{
		Index:       index,
		ItemID:      itemID,
		RawDiscount: discount.Raw(),
		Condition:   condition,
		Notes:       strings.TrimSpace(notes),
	}
	var qtyOK, priceOK, taxOK, discountOK bool
	spec.Quantity, qtyOK = v.decimal(quantity, "items", index, "quantity")
	spec.UnitPrice, priceOK = v.decimal(price, "items", index, priceField)
	spec.TaxRate, taxOK = v.decimalOr(taxRate, decimal.Zero, "items", index, "tax_rate")
	spec.Discount, discountOK = v.decimalOr(discount, decimal.Zero, "items", index, "discount_amount")
	return spec, qtyOK && priceOK && taxOK && discountOK
}

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.TransactionCreatedResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreatePurchase", trace.WithAttributes(attribute.Int("items", len(req.Items))))
	defer span.End()

	v := s.check(req)
	date, _ := v.date(req.PurchaseDate, "purchase_date")
	specs := make([]lineSpec, 0, len(req.Items))
	for i, item := range req.Items {
		if v.has("items", i) {
			continue
		}
		spec, ok := standardSpec(v, i, item.ItemID, item.Quantity, item.UnitCost, "unit_cost", item.TaxRate, item.DiscountAmount, item.Condition, item.Notes)
		if ok {
			specs = append(specs, spec)
		}
	}
	results := priceLines(v, specs)
	if err := v.err(); err != nil {
		return domain.TransactionCreatedResponse{}, err
	}

	if _, err := s.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		return domain.TransactionCreatedResponse{}, notFound("Supplier", req.SupplierID, err)
	}
	if err := s.requireLocation(ctx, req.LocationID); err != nil {
		return domain.TransactionCreatedResponse{}, err
	}
	items, err := s.loadItems(ctx, itemIDs(specs))
	if err != nil {
		return domain.TransactionCreatedResponse{}, err
	}

	header := s.newHeader(ctx, domain.TransactionTypePurchase, date, req.SupplierID, req.LocationID, req.Notes, req.ReferenceNumber)
	buildLines(header, domain.LineTypePurchase, specs, results, items)

	if err := s.commit(ctx, header, lineKeys(header.LocationID, header.Lines), domain.MovementPurchase, nil); err != nil {
		span.RecordError(err)
		return domain.TransactionCreatedResponse{}, err
	}
	return created(header, "Purchase transaction created successfully"), nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.TransactionCreatedResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateSale", trace.WithAttributes(attribute.Int("items", len(req.Items))))
	defer span.End()

	v := s.check(req)
	date, _ := v.date(req.TransactionDate, "transaction_date")
	specs := make([]lineSpec, 0, len(req.Items))
	for i, item := range req.Items {
		if v.has("items", i) {
			continue
		}
		spec, ok := standardSpec(v, i, item.ItemID, item.Quantity, item.UnitPrice, "unit_price", item.TaxRate, item.DiscountAmount, item.Condition, item.Notes)
		if ok {
			specs = append(specs, spec)
		}
	}
	results := priceLines(v, specs)
	if err := v.err(); err != nil {
		return domain.TransactionCreatedResponse{}, err
	}

	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return domain.TransactionCreatedResponse{}, notFound("Customer", req.CustomerID, err)
	}
	if err := s.requireLocation(ctx, req.LocationID); err != nil {
		return domain.TransactionCreatedResponse{}, err
	}
	items, err := s.loadItems(ctx, itemIDs(specs))
	if err != nil {
		return domain.TransactionCreatedResponse{}, err
	}

	header := s.newHeader(ctx, domain.TransactionTypeSale, date, req.CustomerID, req.LocationID, req.Notes, req.ReferenceNumber)
	buildLines(header, domain.LineTypeSale, specs, results, items)

	if err := s.commit(ctx, header, lineKeys(header.LocationID, header.Lines), domain.MovementSale, nil); err != nil {
		span.RecordError(err)
		return domain.TransactionCreatedResponse{}, err
	}
	return created(header, "Sale transaction created successfully"), nil
}

func (s *Service) CreateRental(ctx context.Context, req domain.RentalRequest) (domain.TransactionCreatedResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateRental", trace.WithAttributes(attribute.Int("items", len(req.Items))))
	defer span.End()

	v := s.check(req)
	date, _ := v.date(req.TransactionDate, "transaction_date")
	start, startOK := v.date(req.RentalStartDate, "rental_start_date")
	end, endOK := v.date(req.RentalEndDate, "rental_end_date")

	// Lines without their own rental_period are charged for the days between
	// start and end, at least one.
	defaultPeriod := 1
	if startOK && endOK {
		switch days := start.Days(end); {
		case end.Before(start.Time):
			v.add(validation.Field("value_error",
				"Rental end date must be on or after rental start date", req.RentalEndDate, "rental_end_date"))
		case days > domain.MaxRentalPeriod:
			v.add(validation.Field("value_error",
				fmt.Sprintf("Rental period cannot exceed %d days", domain.MaxRentalPeriod), req.RentalEndDate, "rental_end_date"))
		case days > 1:
			defaultPeriod = days
		}
	}

	specs := make([]lineSpec, 0, len(req.Items))
	for i, item := range req.Items {
		if v.has("items", i) {
			continue
		}
		spec, ok := standardSpec(v, i, item.ItemID, item.Quantity, item.UnitRate, "unit_rate", item.TaxRate, item.DiscountAmount, item.Condition, item.Notes)
		if !ok {
			continue
		}
		spec.RentalPeriod = defaultPeriod
		if item.RentalPeriod.Present() {
			if spec.RentalPeriod, ok = v.period(item.RentalPeriod, "items", i, "rental_period"); !ok {
				continue
			}
		}
		specs = append(specs, spec)
	}
	results := priceLines(v, specs)
	if err := v.err(); err != nil {
		return domain.TransactionCreatedResponse{}, err
	}

	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return domain.TransactionCreatedResponse{}, notFound("Customer", req.CustomerID, err)
	}
	if err := s.requireLocation(ctx, req.LocationID); err != nil {
		return domain.TransactionCreatedResponse{}, err
	}
	items, err := s.loadItems(ctx, itemIDs(specs))
	if err != nil {
		return domain.TransactionCreatedResponse{}, err
	}

	header := s.newHeader(ctx, domain.TransactionTypeRental, date, req.CustomerID, req.LocationID, req.Notes, req.ReferenceNumber)
	header.Status = domain.StatusInProgress
	header.RentalStartDate = &start
	header.RentalEndDate = &end
	buildLines(header, domain.LineTypeRental, specs, results, items)

	if err := s.commit(ctx, header, lineKeys(header.LocationID, header.Lines), domain.MovementRentalOut, nil); err != nil {
		span.RecordError(err)
		return domain.TransactionCreatedResponse{}, err
	}
	return created(header, "Rental transaction created successfully"), nil
}

// Quote prices lines without touching storage.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	_, span := s.tracer.Start(ctx, "service.Quote")
	defer span.End()

	v := s.check(req)
	specs := make([]lineSpec, 0, len(req.Items))
	for i, item := range req.Items {
		if v.has("items", i) {
			continue
		}
		spec, ok := standardSpec(v, i, "", item.Quantity, item.UnitPrice, "unit_price", item.TaxRate, item.DiscountAmount, "", "")
		if !ok {
			continue
		}
		if req.TransactionType == domain.TransactionTypeRental {
			spec.RentalPeriod = 1
			if item.RentalPeriod.Present() {
				if spec.RentalPeriod, ok = v.period(item.RentalPeriod, "items", i, "rental_period"); !ok {
					continue
				}
			}
		}
		specs = append(specs, spec)
	}
	results := priceLines(v, specs)
	if err := v.err(); err != nil {
		return domain.QuoteResponse{}, err
	}
	return domain.QuoteResponse{
		TransactionType: req.TransactionType,
		Lines:           results,
		Totals:          calc.AggregateTransactionTotal(results),
	}, nil
}

func created(header *domain.TransactionHeader, message string) domain.TransactionCreatedResponse {
	return domain.TransactionCreatedResponse{
		Success:           true,
		Message:           message,
		TransactionID:     header.ID,
		TransactionNumber: header.TransactionNumber,
		Data:              *header,
	}
}
