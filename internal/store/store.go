package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrInvariantViolation = errors.New("stock ledger invariant violated")
	ErrDuplicateNumber    = errors.New("transaction number already taken")
	ErrInvalidState       = errors.New("invalid state transition")
)

type TransactionFilter struct {
	Type  domain.TransactionType
	Limit int
}

type StockFilter struct {
	ItemID     string
	LocationID string
}

type MovementFilter struct {
	ItemID     string
	LocationID string
	Limit      int
}

type Repository interface {
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetLocation(ctx context.Context, id string) (*domain.Location, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	CreateLocation(ctx context.Context, location domain.Location) (*domain.Location, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
	ListItems(ctx context.Context) ([]domain.Item, error)

	FindTransactionByID(ctx context.Context, id string) (*domain.TransactionHeader, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.TransactionHeader, error)

	GetStockLevel(ctx context.Context, key domain.StockKey) (*domain.StockLevel, error)
	ListStockLevels(ctx context.Context, filter StockFilter) ([]domain.StockLevel, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]domain.StockMovement, error)
	ListStockKeys(ctx context.Context) ([]domain.StockKey, error)

	// WithinUnitOfWork runs fn in one atomic unit. Nothing fn wrote is visible
	// to others unless fn returns nil and the commit succeeds. A lost race is
	// reported as ErrConflict or ErrDuplicateNumber and may be retried.
	WithinUnitOfWork(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// UnitOfWork is the write side. Reads made through it see its own writes.
type UnitOfWork interface {
	// LockStockLevel returns the level for key and holds it until the unit
	// ends. ErrNotFound means the key has no level yet.
	LockStockLevel(ctx context.Context, key domain.StockKey) (*domain.StockLevel, error)
	// SaveStockLevel inserts (Version 0) or updates the level and bumps
	// level.Version on success.
	SaveStockLevel(ctx context.Context, level *domain.StockLevel) error
	InsertMovement(ctx context.Context, movement domain.StockMovement) error
	// LastMovement returns the highest-sequence movement for a level or ErrNotFound.
	LastMovement(ctx context.Context, stockLevelID string) (*domain.StockMovement, error)
	ListMovementsForKey(ctx context.Context, key domain.StockKey) ([]domain.StockMovement, error)

	TransactionNumberTaken(ctx context.Context, number string) (bool, error)
	CountTransactionNumbers(ctx context.Context, prefix string) (int, error)
	InsertTransaction(ctx context.Context, header domain.TransactionHeader) error
	LockTransaction(ctx context.Context, id string) (*domain.TransactionHeader, error)
	UpdateTransactionPayment(ctx context.Context, id string, paid decimal.Decimal, status domain.PaymentStatus) error
	UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error
	ReturnedQuantities(ctx context.Context, originalTransactionID string) (map[string]decimal.Decimal, error)
}
