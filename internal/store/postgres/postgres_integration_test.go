package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
	"rentory/internal/stock"
	"rentory/internal/store"
	"rentory/internal/xid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("RENTORY_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RENTORY_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedKey(t *testing.T, s *Store) domain.StockKey {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	now := time.Now().UTC()

	loc, err := s.CreateLocation(ctx, domain.Location{ID: xid.New(), Code: fmt.Sprintf("LOC-IT-%d", stamp), Name: "IT Warehouse", Active: true, CreatedAt: now})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	item, err := s.CreateItem(ctx, domain.Item{ID: xid.New(), SKU: fmt.Sprintf("SKU-IT-%d", stamp), Name: "IT Tent", Active: true, CreatedAt: now})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	key := domain.StockKey{ItemID: item.ID, LocationID: loc.ID}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE item_id = $1`, item.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_levels WHERE item_id = $1`, item.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, item.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = $1`, loc.ID)
	})
	return key
}

func TestMovementsKeepLevelAndLedgerInStep(t *testing.T) {
	s := openTestStore(t)
	key := seedKey(t, s)
	ctx := context.Background()
	r := stock.NewReconciler(nil)

	steps := []struct {
		movementType domain.MovementType
		qty          string
	}{
		{domain.MovementPurchase, "10"},
		{domain.MovementRentalOut, "4"},
		{domain.MovementReturn, "2"},
		{domain.MovementSale, "3"},
	}
	for _, step := range steps {
		err := s.WithinUnitOfWork(ctx, func(uow store.UnitOfWork) error {
			_, err := r.ApplyMovement(ctx, uow, stock.MovementRequest{
				Key:           key,
				Type:          step.movementType,
				Quantity:      decimal.RequireFromString(step.qty),
				ReferenceType: domain.ReferenceManual,
				CreatedBy:     "it",
			})
			return err
		})
		if err != nil {
			t.Fatalf("%s %s: %v", step.movementType, step.qty, err)
		}
	}

	level, err := s.GetStockLevel(ctx, key)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if !level.QuantityOnHand.Equal(decimal.NewFromInt(7)) || !level.QuantityAvailable.Equal(decimal.NewFromInt(5)) || !level.QuantityOnRent.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected level %+v", level)
	}

	movements, err := s.ListMovements(ctx, store.MovementFilter{ItemID: key.ItemID, LocationID: key.LocationID})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != len(steps) {
		t.Fatalf("expected %d movements, got %d", len(steps), len(movements))
	}
	if !movements[0].QuantityAfter.Equal(level.QuantityOnHand) {
		t.Fatalf("latest movement after=%s, level on_hand=%s", movements[0].QuantityAfter, level.QuantityOnHand)
	}
}

func TestInsufficientStockRollsBack(t *testing.T) {
	s := openTestStore(t)
	key := seedKey(t, s)
	ctx := context.Background()
	r := stock.NewReconciler(nil)

	err := s.WithinUnitOfWork(ctx, func(uow store.UnitOfWork) error {
		if _, err := r.ApplyMovement(ctx, uow, stock.MovementRequest{Key: key, Type: domain.MovementPurchase, Quantity: decimal.NewFromInt(3), ReferenceType: domain.ReferenceManual, CreatedBy: "it"}); err != nil {
			return err
		}
		_, err := r.ApplyMovement(ctx, uow, stock.MovementRequest{Key: key, Type: domain.MovementSale, Quantity: decimal.NewFromInt(5), ReferenceType: domain.ReferenceManual, CreatedBy: "it"})
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := s.GetStockLevel(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no stock level after rollback, got %v", err)
	}
}
