package cache

import (
	"context"
	"time"

	"rentory/internal/domain"
)

// StockLevelCache holds read copies of stock levels. It is never consulted
// on the write path; writers store the committed level after commit.
//
// Set keeps whichever copy has the higher Version, so a reader that loaded a
// level before a commit cannot overwrite the level the writer stored.
type StockLevelCache interface {
	Get(ctx context.Context, key domain.StockKey) (*domain.StockLevel, bool, error)
	Set(ctx context.Context, level domain.StockLevel, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...domain.StockKey) error
}

type NoopStockLevelCache struct{}

func (NoopStockLevelCache) Get(_ context.Context, _ domain.StockKey) (*domain.StockLevel, bool, error) {
	return nil, false, nil
}

func (NoopStockLevelCache) Set(_ context.Context, _ domain.StockLevel, _ time.Duration) error {
	return nil
}

func (NoopStockLevelCache) Invalidate(_ context.Context, _ ...domain.StockKey) error {
	return nil
}
