package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
	"rentory/internal/store"
)

// unitOfWork reads from the store without holding its lock and buffers every
// write. Commit re-checks the versions of everything it read and applies the
// buffer under the write lock, so two units touching the same stock level
// cannot both commit from the same snapshot.
type unitOfWork struct {
	s *Store

	levels       map[domain.StockKey]domain.StockLevel
	dirtyLevels  map[domain.StockKey]bool
	baseVersions map[domain.StockKey]int64
	movements    []domain.StockMovement
	lastByLevel  map[string]domain.StockMovement

	headers       []domain.TransactionHeader
	headerBase    map[string]int64
	headerUpdates map[string]*domain.TransactionHeader
	dirtyHeaders  map[string]bool
}

func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uow := &unitOfWork{
		s:             s,
		levels:        make(map[domain.StockKey]domain.StockLevel),
		dirtyLevels:   make(map[domain.StockKey]bool),
		baseVersions:  make(map[domain.StockKey]int64),
		lastByLevel:   make(map[string]domain.StockMovement),
		headerBase:    make(map[string]int64),
		headerUpdates: make(map[string]*domain.TransactionHeader),
		dirtyHeaders:  make(map[string]bool),
	}
	if err := fn(uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(uow)
}

func (s *Store) commit(uow *unitOfWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, base := range uow.baseVersions {
		if s.levelsByKey[key].Version != base {
			return fmt.Errorf("%w: stock level %s changed", store.ErrConflict, key)
		}
	}
	for id, base := range uow.headerBase {
		if s.transactionVers[id] != base {
			return fmt.Errorf("%w: transaction %s changed", store.ErrConflict, id)
		}
	}
	for _, header := range uow.headers {
		if _, taken := s.transactionByNum[header.TransactionNumber]; taken {
			return fmt.Errorf("%w: %s", store.ErrDuplicateNumber, header.TransactionNumber)
		}
	}

	for key := range uow.dirtyLevels {
		s.levelsByKey[key] = uow.levels[key]
	}
	for _, m := range uow.movements {
		s.movementsByLevel[m.StockLevelID] = append(s.movementsByLevel[m.StockLevelID], m)
		s.movementsByID[m.ID] = m
		s.movementSeqGlobal = append(s.movementSeqGlobal, m.ID)
	}
	for i := range uow.headers {
		header := cloneTransaction(&uow.headers[i])
		s.transactionsByID[header.ID] = header
		s.transactionOrder = append(s.transactionOrder, header.ID)
		s.transactionByNum[header.TransactionNumber] = header.ID
		s.transactionVers[header.ID] = 1
	}
	for id := range uow.dirtyHeaders {
		s.transactionsByID[id] = cloneTransaction(uow.headerUpdates[id])
		s.transactionVers[id]++
	}
	return nil
}

func (u *unitOfWork) LockStockLevel(_ context.Context, key domain.StockKey) (*domain.StockLevel, error) {
	if level, ok := u.levels[key]; ok {
		return &level, nil
	}
	u.s.mu.RLock()
	level, ok := u.s.levelsByKey[key]
	if ok {
		// The level and its last movement come from the same snapshot.
		if list := u.s.movementsByLevel[level.ID]; len(list) > 0 {
			if _, pending := u.lastByLevel[level.ID]; !pending {
				u.lastByLevel[level.ID] = list[len(list)-1]
			}
		}
	}
	u.s.mu.RUnlock()

	if _, seen := u.baseVersions[key]; !seen {
		u.baseVersions[key] = level.Version
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	u.levels[key] = level
	return &level, nil
}

func (u *unitOfWork) SaveStockLevel(_ context.Context, level *domain.StockLevel) error {
	key := level.Key()
	if _, locked := u.baseVersions[key]; !locked {
		return fmt.Errorf("stock level %s saved without being locked", key)
	}
	level.Version++
	level.UpdatedAt = time.Now().UTC()
	u.levels[key] = *level
	u.dirtyLevels[key] = true
	return nil
}

func (u *unitOfWork) InsertMovement(_ context.Context, movement domain.StockMovement) error {
	u.movements = append(u.movements, movement)
	u.lastByLevel[movement.StockLevelID] = movement
	return nil
}

func (u *unitOfWork) LastMovement(_ context.Context, stockLevelID string) (*domain.StockMovement, error) {
	if m, ok := u.lastByLevel[stockLevelID]; ok {
		return &m, nil
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	list := u.s.movementsByLevel[stockLevelID]
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	last := list[len(list)-1]
	return &last, nil
}

func (u *unitOfWork) ListMovementsForKey(_ context.Context, key domain.StockKey) ([]domain.StockMovement, error) {
	u.s.mu.RLock()
	var result []domain.StockMovement
	if level, ok := u.s.levelsByKey[key]; ok {
		result = append(result, u.s.movementsByLevel[level.ID]...)
	}
	u.s.mu.RUnlock()
	for _, m := range u.movements {
		if m.Key() == key {
			result = append(result, m)
		}
	}
	return result, nil
}

func (u *unitOfWork) TransactionNumberTaken(_ context.Context, number string) (bool, error) {
	for _, h := range u.headers {
		if h.TransactionNumber == number {
			return true, nil
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	_, taken := u.s.transactionByNum[number]
	return taken, nil
}

func (u *unitOfWork) CountTransactionNumbers(_ context.Context, prefix string) (int, error) {
	count := 0
	for _, h := range u.headers {
		if strings.HasPrefix(h.TransactionNumber, prefix) {
			count++
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for number := range u.s.transactionByNum {
		if strings.HasPrefix(number, prefix) {
			count++
		}
	}
	return count, nil
}

func (u *unitOfWork) InsertTransaction(_ context.Context, header domain.TransactionHeader) error {
	if header.ID == "" || header.TransactionNumber == "" || len(header.Lines) == 0 {
		return fmt.Errorf("incomplete transaction %q", header.ID)
	}
	u.headers = append(u.headers, *cloneTransaction(&header))
	return nil
}

func (u *unitOfWork) LockTransaction(_ context.Context, id string) (*domain.TransactionHeader, error) {
	if tx, ok := u.headerUpdates[id]; ok {
		return cloneTransaction(tx), nil
	}
	u.s.mu.RLock()
	tx, ok := u.s.transactionsByID[id]
	version := u.s.transactionVers[id]
	var dup *domain.TransactionHeader
	if ok {
		dup = cloneTransaction(tx)
	}
	u.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	u.headerBase[id] = version
	u.headerUpdates[id] = dup
	return cloneTransaction(dup), nil
}

func (u *unitOfWork) UpdateTransactionPayment(_ context.Context, id string, paid decimal.Decimal, status domain.PaymentStatus) error {
	tx, ok := u.headerUpdates[id]
	if !ok {
		return fmt.Errorf("transaction %s updated without being locked", id)
	}
	tx.PaidAmount = paid
	tx.PaymentStatus = status
	tx.UpdatedAt = time.Now().UTC()
	u.dirtyHeaders[id] = true
	return nil
}

func (u *unitOfWork) UpdateTransactionStatus(_ context.Context, id string, status domain.TransactionStatus) error {
	tx, ok := u.headerUpdates[id]
	if !ok {
		return fmt.Errorf("transaction %s updated without being locked", id)
	}
	tx.Status = status
	tx.UpdatedAt = time.Now().UTC()
	u.dirtyHeaders[id] = true
	return nil
}

func (u *unitOfWork) ReturnedQuantities(_ context.Context, originalTransactionID string) (map[string]decimal.Decimal, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	return u.s.returnedQuantitiesLocked(originalTransactionID, u.headers), nil
}
