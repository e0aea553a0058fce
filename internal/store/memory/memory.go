package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
	"rentory/internal/store"
)

// Demo reference data loaded by NewSeeded.
const (
	SeedSupplierID       = "5b0c6d7e-1f2a-4b3c-8d4e-5f6a7b8c9d01"
	SeedCustomerID       = "6c1d7e8f-2a3b-4c4d-9e5f-6a7b8c9d0e02"
	SeedLocationID       = "7d2e8f9a-3b4c-4d5e-8f6a-7b8c9d0e1f03"
	SeedSecondLocationID = "8e3f9a0b-4c5d-4e6f-9a7b-8c9d0e1f2a04"
	SeedItemTentID       = "9f4a0b1c-5d6e-4f7a-8b8c-9d0e1f2a3b05"
	SeedItemChairID      = "a05b1c2d-6e7f-4a8b-9c9d-0e1f2a3b4c06"
	SeedItemSpeakerID    = "b16c2d3e-7f8a-4b9c-8d0e-1f2a3b4c5d07"
)

type Store struct {
	mu sync.RWMutex

	suppliersByID map[string]domain.Supplier
	customersByID map[string]domain.Customer
	locationsByID map[string]domain.Location
	itemsByID     map[string]domain.Item

	transactionsByID  map[string]*domain.TransactionHeader
	transactionOrder  []string
	transactionByNum  map[string]string
	transactionVers   map[string]int64
	levelsByKey       map[domain.StockKey]domain.StockLevel
	movementsByLevel  map[string][]domain.StockMovement
	movementSeqGlobal []string
	movementsByID     map[string]domain.StockMovement
}

func New() *Store {
	return &Store{
		suppliersByID:    make(map[string]domain.Supplier),
		customersByID:    make(map[string]domain.Customer),
		locationsByID:    make(map[string]domain.Location),
		itemsByID:        make(map[string]domain.Item),
		transactionsByID: make(map[string]*domain.TransactionHeader),
		transactionByNum: make(map[string]string),
		transactionVers:  make(map[string]int64),
		levelsByKey:      make(map[domain.StockKey]domain.StockLevel),
		movementsByLevel: make(map[string][]domain.StockMovement),
		movementsByID:    make(map[string]domain.StockMovement),
	}
}

// NewSeeded returns a store with demo suppliers, customers, locations and
// items. Stock starts empty; it is only ever created through movements.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.suppliersByID[SeedSupplierID] = domain.Supplier{ID: SeedSupplierID, Code: "SUP-001", Name: "Event Gear Wholesale", Active: true, CreatedAt: now}
	s.customersByID[SeedCustomerID] = domain.Customer{ID: SeedCustomerID, Code: "CUS-001", Name: "Walk-in Customer", Active: true, CreatedAt: now}
	for _, loc := range []domain.Location{
		{ID: SeedLocationID, Code: "WH-MAIN", Name: "Main Warehouse", Active: true, CreatedAt: now},
		{ID: SeedSecondLocationID, Code: "SHOP-01", Name: "Downtown Shop", Active: true, CreatedAt: now},
	} {
		s.locationsByID[loc.ID] = loc
	}
	for _, item := range []domain.Item{
		{ID: SeedItemTentID, SKU: "TENT-6X6", Name: "Party Tent 6x6", Active: true, CreatedAt: now},
		{ID: SeedItemChairID, SKU: "CHAIR-FOLD", Name: "Folding Chair", Active: true, CreatedAt: now},
		{ID: SeedItemSpeakerID, SKU: "SPK-500W", Name: "PA Speaker 500W", Active: true, CreatedAt: now},
	} {
		s.itemsByID[item.ID] = item
	}
	return s
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.suppliersByID[id]
	if !ok || !v.Active {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.customersByID[id]
	if !ok || !v.Active {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) GetLocation(_ context.Context, id string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.locationsByID[id]
	if !ok || !v.Active {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.itemsByID[id]
	if !ok || !v.Active {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppliersByID[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customersByID[customer.ID] = customer
	return &customer, nil
}

func (s *Store) CreateLocation(_ context.Context, location domain.Location) (*domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locationsByID[location.ID] = location
	return &location, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.itemsByID {
		if item.SKU != "" && strings.EqualFold(existing.SKU, item.SKU) {
			return nil, store.ErrConflict
		}
	}
	s.itemsByID[item.ID] = item
	return &item, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, v := range s.suppliersByID {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, v := range s.customersByID {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) ListLocations(_ context.Context) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Location, 0, len(s.locationsByID))
	for _, v := range s.locationsByID {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Item, 0, len(s.itemsByID))
	for _, v := range s.itemsByID {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.TransactionHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]domain.TransactionHeader, error) {
	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.TransactionHeader, 0, limit)
	for i := len(s.transactionOrder) - 1; i >= 0 && len(result) < limit; i-- {
		tx := s.transactionsByID[s.transactionOrder[i]]
		if filter.Type != "" && tx.TransactionType != filter.Type {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	return result, nil
}

func (s *Store) returnedQuantitiesLocked(originalTransactionID string, pending []domain.TransactionHeader) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal)
	add := func(tx *domain.TransactionHeader) {
		if tx.TransactionType != domain.TransactionTypeReturn || tx.OriginalTransactionID != originalTransactionID {
			return
		}
		if tx.Status == domain.StatusCancelled {
			return
		}
		for _, line := range tx.Lines {
			if line.Return == nil {
				continue
			}
			id := line.Return.OriginalLineID
			result[id] = result[id].Add(line.Quantity)
		}
	}
	for _, id := range s.transactionOrder {
		add(s.transactionsByID[id])
	}
	for i := range pending {
		add(&pending[i])
	}
	return result
}

func (s *Store) GetStockLevel(_ context.Context, key domain.StockKey) (*domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	level, ok := s.levelsByKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &level, nil
}

func (s *Store) ListStockLevels(_ context.Context, filter store.StockFilter) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.StockLevel, 0, len(s.levelsByKey))
	for key, level := range s.levelsByKey {
		if filter.ItemID != "" && key.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID != "" && key.LocationID != filter.LocationID {
			continue
		}
		result = append(result, level)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ItemID == result[j].ItemID {
			return result[i].LocationID < result[j].LocationID
		}
		return result[i].ItemID < result[j].ItemID
	})
	return result, nil
}

func (s *Store) ListMovements(_ context.Context, filter store.MovementFilter) ([]domain.StockMovement, error) {
	limit := filter.Limit
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.movementSeqGlobal) - 1; i >= 0 && len(result) < limit; i-- {
		m := s.movementsByID[s.movementSeqGlobal[i]]
		if filter.ItemID != "" && m.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID != "" && m.LocationID != filter.LocationID {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func (s *Store) ListStockKeys(_ context.Context) ([]domain.StockKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.StockKey, 0, len(s.levelsByKey))
	for key := range s.levelsByKey {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b domain.StockKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return keys, nil
}

func cloneTransaction(src *domain.TransactionHeader) *domain.TransactionHeader {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.TransactionLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}
