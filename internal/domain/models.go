package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypePurchase TransactionType = "PURCHASE"
	TransactionTypeSale     TransactionType = "SALE"
	TransactionTypeRental   TransactionType = "RENTAL"
	TransactionTypeReturn   TransactionType = "RETURN"
)

// NumberPrefix is the leading part of a transaction number.
func (t TransactionType) NumberPrefix() string {
	switch t {
	case TransactionTypePurchase:
		return "PUR"
	case TransactionTypeSale:
		return "SAL"
	case TransactionTypeRental:
		return "RNT"
	case TransactionTypeReturn:
		return "RET"
	}
	return "TRX"
}

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusCancelled  TransactionStatus = "CANCELLED"
	StatusOnHold     TransactionStatus = "ON_HOLD"
	StatusInProgress TransactionStatus = "IN_PROGRESS"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentPartial  PaymentStatus = "PARTIAL"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type LineType string

const (
	LineTypePurchase LineType = "PURCHASE"
	LineTypeSale     LineType = "SALE"
	LineTypeRental   LineType = "RENTAL"
	LineTypeReturn   LineType = "RETURN"
)

type MovementType string

const (
	MovementPurchase    MovementType = "PURCHASE"
	MovementSale        MovementType = "SALE"
	MovementRentalOut   MovementType = "RENTAL_OUT"
	MovementReturn      MovementType = "RETURN"
	MovementSalesReturn MovementType = "SALES_RETURN"
	MovementAdjustment  MovementType = "ADJUSTMENT"
)

type ReferenceType string

const (
	ReferenceTransaction ReferenceType = "TRANSACTION"
	ReferenceManual      ReferenceType = "MANUAL"
)

// Date is a calendar day, serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

const DateLayout = "2006-01-02"

// MaxRentalPeriod is the longest rental, in days, a line may be priced for.
const MaxRentalPeriod = 36500

func NewDate(t time.Time) Date {
	return Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func ParseDate(value string) (Date, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return Date{}, err
	}
	return NewDate(t), nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	parsed, err := ParseDate(string(trimQuotes(data)))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v)
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

// Days returns the whole days from d to end.
func (d Date) Days(end Date) int {
	return int(end.Sub(d.Time).Hours() / 24)
}

func trimQuotes(data []byte) []byte {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return data[1 : len(data)-1]
	}
	return data
}

type TransactionHeader struct {
	ID                    string            `json:"id"`
	TransactionNumber     string            `json:"transaction_number"`
	TransactionType       TransactionType   `json:"transaction_type"`
	TransactionDate       Date              `json:"transaction_date"`
	CustomerID            string            `json:"customer_id"`
	LocationID            string            `json:"location_id"`
	Status                TransactionStatus `json:"status"`
	PaymentStatus         PaymentStatus     `json:"payment_status"`
	Subtotal              decimal.Decimal   `json:"subtotal"`
	DiscountAmount        decimal.Decimal   `json:"discount_amount"`
	TaxAmount             decimal.Decimal   `json:"tax_amount"`
	TotalAmount           decimal.Decimal   `json:"total_amount"`
	PaidAmount            decimal.Decimal   `json:"paid_amount"`
	Notes                 string            `json:"notes,omitempty"`
	ReferenceNumber       string            `json:"reference_number,omitempty"`
	RentalStartDate       *Date             `json:"rental_start_date,omitempty"`
	RentalEndDate         *Date             `json:"rental_end_date,omitempty"`
	OriginalTransactionID string            `json:"original_transaction_id,omitempty"`
	CreatedBy             string            `json:"created_by"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	Lines                 []TransactionLine `json:"transaction_lines"`
}

// Balanced reports whether total = subtotal - discount + tax.
func (h TransactionHeader) Balanced() bool {
	return h.TotalAmount.Equal(h.Subtotal.Sub(h.DiscountAmount).Add(h.TaxAmount))
}

// TransactionLine is one priced row. LineType selects which of the optional
// kind-specific parts is set: Rental for RENTAL lines, Return for RETURN
// lines, neither for PURCHASE and SALE.
type TransactionLine struct {
	ID             string          `json:"id"`
	TransactionID  string          `json:"transaction_id"`
	LineNumber     int             `json:"line_number"`
	LineType       LineType        `json:"line_type"`
	ItemID         string          `json:"item_id"`
	Description    string          `json:"description"`
	Condition      string          `json:"condition,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
	Notes          string          `json:"notes,omitempty"`
	Rental         *RentalTerms    `json:"rental,omitempty"`
	Return         *ReturnSource   `json:"return,omitempty"`
}

type RentalTerms struct {
	RentalPeriod int `json:"rental_period"`
}

type ReturnSource struct {
	OriginalLineID string `json:"original_line_id"`
}

type StockKey struct {
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
}

func (k StockKey) String() string {
	return k.ItemID + "@" + k.LocationID
}

type StockLevel struct {
	ID                string          `json:"id"`
	ItemID            string          `json:"item_id"`
	LocationID        string          `json:"location_id"`
	QuantityOnHand    decimal.Decimal `json:"quantity_on_hand"`
	QuantityAvailable decimal.Decimal `json:"quantity_available"`
	QuantityOnRent    decimal.Decimal `json:"quantity_on_rent"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (l StockLevel) Key() StockKey {
	return StockKey{ItemID: l.ItemID, LocationID: l.LocationID}
}

// Balanced reports whether on_hand = available + on_rent.
func (l StockLevel) Balanced() bool {
	return l.QuantityOnHand.Equal(l.QuantityAvailable.Add(l.QuantityOnRent))
}

// StockMovement is one ledger entry. QuantityChange, QuantityBefore and
// QuantityAfter always describe quantity_on_hand; shifts between available
// and on_rent are carried in AvailableChange and OnRentChange.
type StockMovement struct {
	ID                string          `json:"id"`
	StockLevelID      string          `json:"stock_level_id"`
	Sequence          int64           `json:"sequence"`
	ItemID            string          `json:"item_id"`
	LocationID        string          `json:"location_id"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	TransactionLineID string          `json:"transaction_line_id,omitempty"`
	MovementType      MovementType    `json:"movement_type"`
	ReferenceType     ReferenceType   `json:"reference_type"`
	QuantityChange    decimal.Decimal `json:"quantity_change"`
	QuantityBefore    decimal.Decimal `json:"quantity_before"`
	QuantityAfter     decimal.Decimal `json:"quantity_after"`
	AvailableChange   decimal.Decimal `json:"available_change"`
	OnRentChange      decimal.Decimal `json:"on_rent_change"`
	Notes             string          `json:"notes,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (m StockMovement) Key() StockKey {
	return StockKey{ItemID: m.ItemID, LocationID: m.LocationID}
}

type Supplier struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Location struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Item struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}
