package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
	"rentory/internal/stock"
	"rentory/internal/store"
	"rentory/internal/xid"
)

var key = domain.StockKey{ItemID: SeedItemSpeakerID, LocationID: SeedLocationID}

func purchase(t *testing.T, s *Store, r *stock.Reconciler, qty int64) {
	t.Helper()
	err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		_, err := r.ApplyMovement(context.Background(), uow, stock.MovementRequest{
			Key: key, Type: domain.MovementPurchase, Quantity: decimal.NewFromInt(qty),
		})
		return err
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
}

func sampleHeader(number string) domain.TransactionHeader {
	id := xid.New()
	return domain.TransactionHeader{
		ID:                id,
		TransactionNumber: number,
		TransactionType:   domain.TransactionTypePurchase,
		TransactionDate:   domain.NewDate(time.Now()),
		CustomerID:        SeedSupplierID,
		LocationID:        SeedLocationID,
		Status:            domain.StatusCompleted,
		PaymentStatus:     domain.PaymentPending,
		Lines: []domain.TransactionLine{{
			ID: xid.New(), TransactionID: id, LineNumber: 1, LineType: domain.LineTypePurchase,
			ItemID: SeedItemTentID, Quantity: decimal.NewFromInt(1),
		}},
	}
}

func TestUnitOfWorkDiscardsWritesOnError(t *testing.T) {
	s := NewSeeded()
	r := stock.NewReconciler(nil)
	boom := errors.New("boom")

	err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		if err := uow.InsertTransaction(context.Background(), sampleHeader("PUR-20240101-0001")); err != nil {
			return err
		}
		if _, err := r.ApplyMovement(context.Background(), uow, stock.MovementRequest{
			Key: key, Type: domain.MovementPurchase, Quantity: decimal.NewFromInt(3),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetStockLevel(context.Background(), key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stock level should not exist, got %v", err)
	}
	if txs, _ := s.ListTransactions(context.Background(), store.TransactionFilter{}); len(txs) != 0 {
		t.Fatalf("transaction should not exist, got %d", len(txs))
	}
}

func TestUnitOfWorkSeesOwnWrites(t *testing.T) {
	s := NewSeeded()
	r := stock.NewReconciler(nil)
	err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		for i := 0; i < 3; i++ {
			if _, err := r.ApplyMovement(context.Background(), uow, stock.MovementRequest{
				Key: key, Type: domain.MovementPurchase, Quantity: decimal.NewFromInt(2),
			}); err != nil {
				return err
			}
		}
		if err := uow.InsertTransaction(context.Background(), sampleHeader("PUR-20240101-0001")); err != nil {
			return err
		}
		taken, err := uow.TransactionNumberTaken(context.Background(), "PUR-20240101-0001")
		if err != nil || !taken {
			t.Errorf("expected pending number to be taken, got %v, %v", taken, err)
		}
		count, err := uow.CountTransactionNumbers(context.Background(), "PUR-20240101-")
		if err != nil || count != 1 {
			t.Errorf("expected count 1, got %d, %v", count, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unit of work: %v", err)
	}
	level, err := s.GetStockLevel(context.Background(), key)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if !level.QuantityOnHand.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected 6 on hand, got %s", level.QuantityOnHand)
	}
	movements, _ := s.ListMovements(context.Background(), store.MovementFilter{})
	if len(movements) != 3 || movements[0].Sequence != 3 {
		t.Fatalf("expected 3 movements newest first, got %+v", movements)
	}
}

func TestCommitRejectsDuplicateNumber(t *testing.T) {
	s := NewSeeded()
	insert := func() error {
		return s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
			return uow.InsertTransaction(context.Background(), sampleHeader("PUR-20240101-0001"))
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); !errors.Is(err, store.ErrDuplicateNumber) {
		t.Fatalf("expected duplicate number, got %v", err)
	}
}

func TestCommitRejectsStaleTransactionUpdate(t *testing.T) {
	s := NewSeeded()
	header := sampleHeader("PUR-20240101-0001")
	if err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		return uow.InsertTransaction(context.Background(), header)
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		if _, err := uow.LockTransaction(context.Background(), header.ID); err != nil {
			return err
		}
		if err := s.WithinUnitOfWork(context.Background(), func(inner store.UnitOfWork) error {
			if _, err := inner.LockTransaction(context.Background(), header.ID); err != nil {
				return err
			}
			return inner.UpdateTransactionStatus(context.Background(), header.ID, domain.StatusCancelled)
		}); err != nil {
			return err
		}
		return uow.UpdateTransactionPayment(context.Background(), header.ID, decimal.NewFromInt(1), domain.PaymentPartial)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := s.FindTransactionByID(context.Background(), header.ID)
	if got.Status != domain.StatusCancelled || !got.PaidAmount.IsZero() {
		t.Fatalf("unexpected header state %+v", got)
	}
}

func TestLedgerMismatchIsInvariantViolation(t *testing.T) {
	s := NewSeeded()
	r := stock.NewReconciler(nil)
	purchase(t, s, r, 10)

	s.mu.Lock()
	level := s.levelsByKey[key]
	level.QuantityOnHand = decimal.NewFromInt(12)
	level.QuantityAvailable = decimal.NewFromInt(12)
	s.levelsByKey[key] = level
	s.mu.Unlock()

	err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		_, err := r.ApplyMovement(context.Background(), uow, stock.MovementRequest{
			Key: key, Type: domain.MovementSale, Quantity: decimal.NewFromInt(1),
		})
		return err
	})
	if !errors.Is(err, store.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestRebuildRepairsDriftedLevel(t *testing.T) {
	s := NewSeeded()
	r := stock.NewReconciler(nil)
	purchase(t, s, r, 10)
	purchase(t, s, r, 4)

	s.mu.Lock()
	level := s.levelsByKey[key]
	level.QuantityOnHand = decimal.NewFromInt(99)
	level.QuantityAvailable = decimal.NewFromInt(99)
	s.levelsByKey[key] = level
	s.mu.Unlock()

	rebuild := func(dryRun bool) domain.RebuildResult {
		var result domain.RebuildResult
		if err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
			var err error
			result, err = r.Rebuild(context.Background(), uow, key, dryRun)
			return err
		}); err != nil {
			t.Fatalf("rebuild: %v", err)
		}
		return result
	}

	dry := rebuild(true)
	if !dry.Drift || dry.Repaired || dry.Movements != 2 {
		t.Fatalf("unexpected dry run result %+v", dry)
	}
	if got, _ := s.GetStockLevel(context.Background(), key); !got.QuantityOnHand.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("dry run must not write, got %s", got.QuantityOnHand)
	}

	fixed := rebuild(false)
	if !fixed.Repaired || len(fixed.ChainBreaks) != 0 {
		t.Fatalf("unexpected repair result %+v", fixed)
	}
	got, _ := s.GetStockLevel(context.Background(), key)
	if !got.QuantityOnHand.Equal(decimal.NewFromInt(14)) || !got.QuantityAvailable.Equal(decimal.NewFromInt(14)) {
		t.Fatalf("expected level rebuilt to 14, got %+v", got)
	}

	clean := rebuild(false)
	if clean.Drift || clean.Repaired {
		t.Fatalf("expected no drift after repair, got %+v", clean)
	}
	purchase(t, s, r, 1)
}

func TestReturnedQuantitiesIgnoreCancelledReturns(t *testing.T) {
	s := NewSeeded()
	original := sampleHeader("SAL-20240101-0001")
	returnOf := func(number string) domain.TransactionHeader {
		h := sampleHeader(number)
		h.TransactionType = domain.TransactionTypeReturn
		h.OriginalTransactionID = original.ID
		h.Lines[0].LineType = domain.LineTypeReturn
		h.Lines[0].Return = &domain.ReturnSource{OriginalLineID: original.Lines[0].ID}
		return h
	}
	ret := returnOf("RET-20240101-0001")
	cancelled := returnOf("RET-20240101-0002")
	cancelled.Status = domain.StatusCancelled

	if err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		for _, h := range []domain.TransactionHeader{original, ret, cancelled} {
			if err := uow.InsertTransaction(context.Background(), h); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got map[string]decimal.Decimal
	if err := s.WithinUnitOfWork(context.Background(), func(uow store.UnitOfWork) error {
		var err error
		got, err = uow.ReturnedQuantities(context.Background(), original.ID)
		return err
	}); err != nil {
		t.Fatalf("returned quantities: %v", err)
	}
	if len(got) != 1 || !got[original.Lines[0].ID].Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected returned quantities %v", got)
	}
}
