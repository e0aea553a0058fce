package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
)

func TestNoopCacheNeverHits(t *testing.T) {
	var c StockLevelCache = NoopStockLevelCache{}
	key := domain.StockKey{ItemID: "item", LocationID: "loc"}
	if err := c.Set(context.Background(), domain.StockLevel{ItemID: "item", LocationID: "loc"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), key); ok || err != nil {
		t.Fatalf("expected miss, got %v, %v", ok, err)
	}
}

func TestRedisStockLevelCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("RENTORY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set RENTORY_TEST_REDIS_ADDR to run redis integration test")
	}
	ctx := context.Background()
	c := NewRedisStockLevelCache(NewRedisClient(addr, "", 0))
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	level := domain.StockLevel{
		ID: "lvl", ItemID: "item-rt", LocationID: "loc-rt",
		QuantityOnHand: decimal.RequireFromString("12.5"), QuantityAvailable: decimal.RequireFromString("10"),
		QuantityOnRent: decimal.RequireFromString("2.5"), Version: 3,
	}
	if err := c.Set(ctx, level, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, level.Key())
	if err != nil || !ok {
		t.Fatalf("expected hit, got %v, %v", ok, err)
	}
	if !got.QuantityOnHand.Equal(level.QuantityOnHand) || got.Version != 3 {
		t.Fatalf("unexpected cached level %+v", got)
	}
	if err := c.Invalidate(ctx, level.Key()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, level.Key()); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestRedisStockLevelCacheKeepsNewerVersion(t *testing.T) {
	addr := os.Getenv("RENTORY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set RENTORY_TEST_REDIS_ADDR to run redis integration test")
	}
	ctx := context.Background()
	c := NewRedisStockLevelCache(NewRedisClient(addr, "", 0))
	t.Cleanup(func() { _ = c.Close() })

	fresh := domain.StockLevel{ItemID: "item-ver", LocationID: "loc-ver", QuantityOnHand: decimal.NewFromInt(7), Version: 5}
	stale := fresh
	stale.QuantityOnHand = decimal.NewFromInt(2)
	stale.Version = 4
	t.Cleanup(func() { _ = c.Invalidate(ctx, fresh.Key()) })

	if err := c.Set(ctx, fresh, time.Minute); err != nil {
		t.Fatalf("set fresh: %v", err)
	}
	if err := c.Set(ctx, stale, time.Minute); err != nil {
		t.Fatalf("set stale: %v", err)
	}
	got, ok, err := c.Get(ctx, fresh.Key())
	if err != nil || !ok {
		t.Fatalf("expected hit, got %v, %v", ok, err)
	}
	if got.Version != 5 || !got.QuantityOnHand.Equal(fresh.QuantityOnHand) {
		t.Fatalf("stale write replaced newer level: %+v", got)
	}
}
