package domain

import (
	"rentory/internal/calc"
	"rentory/internal/num"
)

type PurchaseRequest struct {
	SupplierID      string         `json:"supplier_id" validate:"required,uuid"`
	LocationID      string         `json:"location_id" validate:"required,uuid"`
	PurchaseDate    string         `json:"purchase_date" validate:"required,datetime=2006-01-02"`
	Notes           string         `json:"notes" validate:"max=1000"`
	ReferenceNumber string         `json:"reference_number" validate:"max=50"`
	Items           []PurchaseItem `json:"items" validate:"required,min=1,max=1000,dive"`
}

type PurchaseItem struct {
	ItemID         string    `json:"item_id" validate:"required,uuid"`
	Quantity       num.Input `json:"quantity" validate:"required,num_int,num_gte=1"`
	UnitCost       num.Input `json:"unit_cost" validate:"required,num,num_scale=4,num_gte=0"`
	TaxRate        num.Input `json:"tax_rate" validate:"omitempty,num,num_scale=4,num_gte=0,num_lte=100"`
	DiscountAmount num.Input `json:"discount_amount" validate:"omitempty,num,num_scale=2,num_gte=0"`
	Condition      string    `json:"condition" validate:"required,oneof=A B C D"`
	Notes          string    `json:"notes" validate:"max=500"`
}

type SaleRequest struct {
	CustomerID      string     `json:"customer_id" validate:"required,uuid"`
	LocationID      string     `json:"location_id" validate:"required,uuid"`
	TransactionDate string     `json:"transaction_date" validate:"required,datetime=2006-01-02"`
	Notes           string     `json:"notes" validate:"max=1000"`
	ReferenceNumber string     `json:"reference_number" validate:"max=50"`
	Items           []SaleItem `json:"items" validate:"required,min=1,max=1000,dive"`
}

type SaleItem struct {
	ItemID         string    `json:"item_id" validate:"required,uuid"`
	Quantity       num.Input `json:"quantity" validate:"required,num_int,num_gte=1"`
	UnitPrice      num.Input `json:"unit_price" validate:"required,num,num_scale=4,num_gte=0"`
	TaxRate        num.Input `json:"tax_rate" validate:"omitempty,num,num_scale=4,num_gte=0,num_lte=100"`
	DiscountAmount num.Input `json:"discount_amount" validate:"omitempty,num,num_scale=2,num_gte=0"`
	Condition      string    `json:"condition" validate:"omitempty,oneof=A B C D"`
	Notes          string    `json:"notes" validate:"max=500"`
}

type RentalRequest struct {
	CustomerID      string       `json:"customer_id" validate:"required,uuid"`
	LocationID      string       `json:"location_id" validate:"required,uuid"`
	TransactionDate string       `json:"transaction_date" validate:"required,datetime=2006-01-02"`
	RentalStartDate string       `json:"rental_start_date" validate:"required,datetime=2006-01-02"`
	RentalEndDate   string       `json:"rental_end_date" validate:"required,datetime=2006-01-02"`
	Notes           string       `json:"notes" validate:"max=1000"`
	ReferenceNumber string       `json:"reference_number" validate:"max=50"`
	Items           []RentalItem `json:"items" validate:"required,min=1,max=1000,dive"`
}

type RentalItem struct {
	ItemID         string    `json:"item_id" validate:"required,uuid"`
	Quantity       num.Input `json:"quantity" validate:"required,num,num_scale=4,num_gt=0"`
	UnitRate       num.Input `json:"unit_rate" validate:"required,num,num_scale=4,num_gte=0"`
	RentalPeriod   num.Input `json:"rental_period" validate:"omitempty,num_int,num_gte=1,num_lte=36500"`
	TaxRate        num.Input `json:"tax_rate" validate:"omitempty,num,num_scale=4,num_gte=0,num_lte=100"`
	DiscountAmount num.Input `json:"discount_amount" validate:"omitempty,num,num_scale=2,num_gte=0"`
	Condition      string    `json:"condition" validate:"omitempty,oneof=A B C D"`
	Notes          string    `json:"notes" validate:"max=500"`
}

type ReturnRequest struct {
	OriginalTransactionID string       `json:"original_transaction_id" validate:"required,uuid"`
	ReturnDate            string       `json:"return_date" validate:"required,datetime=2006-01-02"`
	Notes                 string       `json:"notes" validate:"max=1000"`
	Items                 []ReturnItem `json:"items" validate:"required,min=1,max=1000,dive"`
}

type ReturnItem struct {
	ItemID    string    `json:"item_id" validate:"required,uuid"`
	Quantity  num.Input `json:"quantity" validate:"required,num,num_scale=4,num_gt=0"`
	Condition string    `json:"condition" validate:"omitempty,oneof=A B C D"`
	Notes     string    `json:"notes" validate:"max=500"`
}

type StockAdjustmentRequest struct {
	ItemID         string    `json:"item_id" validate:"required,uuid"`
	LocationID     string    `json:"location_id" validate:"required,uuid"`
	QuantityChange num.Input `json:"quantity_change" validate:"required,num,num_scale=4,num_ne=0"`
	Reason         string    `json:"reason" validate:"required,max=500"`
	ManagerPIN     string    `json:"manager_pin"`
}

type PaymentRequest struct {
	Amount num.Input `json:"amount" validate:"required,num,num_scale=2,num_gt=0"`
	Notes  string    `json:"notes" validate:"max=500"`
}

type CancelRequest struct {
	Reason     string `json:"reason" validate:"required,max=500"`
	ManagerPIN string `json:"manager_pin"`
}

type RebuildRequest struct {
	ItemID     string `json:"item_id" validate:"required,uuid"`
	LocationID string `json:"location_id" validate:"required,uuid"`
	DryRun     bool   `json:"dry_run"`
}

type QuoteRequest struct {
	TransactionType TransactionType `json:"transaction_type" validate:"required,oneof=PURCHASE SALE RENTAL"`
	Items           []QuoteItem     `json:"items" validate:"required,min=1,max=1000,dive"`
}

type QuoteItem struct {
	Quantity       num.Input `json:"quantity" validate:"required,num,num_scale=4,num_gt=0"`
	UnitPrice      num.Input `json:"unit_price" validate:"required,num,num_scale=4,num_gte=0"`
	RentalPeriod   num.Input `json:"rental_period" validate:"omitempty,num_int,num_gte=1,num_lte=36500"`
	TaxRate        num.Input `json:"tax_rate" validate:"omitempty,num,num_scale=4,num_gte=0,num_lte=100"`
	DiscountAmount num.Input `json:"discount_amount" validate:"omitempty,num,num_scale=2,num_gte=0"`
}

type QuoteResponse struct {
	TransactionType TransactionType       `json:"transaction_type"`
	Lines           []calc.LineResult     `json:"lines"`
	Totals          calc.TransactionTotal `json:"totals"`
}

type ReferenceCreateRequest struct {
	Code string `json:"code" validate:"max=50"`
	Name string `json:"name" validate:"required,max=255"`
}

type TransactionCreatedResponse struct {
	Success           bool              `json:"success"`
	Message           string            `json:"message"`
	TransactionID     string            `json:"transaction_id"`
	TransactionNumber string            `json:"transaction_number"`
	Data              TransactionHeader `json:"data"`
}

type RebuildResult struct {
	Key         StockKey    `json:"key"`
	Stored      *StockLevel `json:"stored,omitempty"`
	Replayed    StockLevel  `json:"replayed"`
	Movements   int         `json:"movements"`
	ChainBreaks []string    `json:"chain_breaks,omitempty"`
	Drift       bool        `json:"drift"`
	Repaired    bool        `json:"repaired"`
}
