package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"rentory/internal/domain"
	"rentory/internal/logging"
)

// RedisLocker holds per-key locks in Redis so several server instances
// serialize on the same stock keys. The store's own row locking still
// applies; a lock that outlives its TTL only loses the early exclusion.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger *logrus.Logger
}

func NewRedisLocker(client redislock.RedisClient, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisLocker{
		client: redislock.New(client),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.ExponentialBackoff(16*time.Millisecond, 512*time.Millisecond), 40),
		logger: logger,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, keys []domain.StockKey) (func(), error) {
	names := SortedKeys(keys)
	held := make([]*redislock.Lock, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Release with a fresh context: the request context may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logging.LogError(l.logger, "stock", "RedisLocker.Release", "release lock", held[i].Key(), err)
			}
			cancel()
		}
	}

	for _, name := range names {
		lock, err := l.client.Obtain(ctx, lockKey(name), l.ttl, &redislock.Options{RetryStrategy: l.retry})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) {
				return func() {}, fmt.Errorf("stock key %s is busy: %w", name, err)
			}
			logging.LogError(l.logger, "stock", "RedisLocker.Acquire", "obtain lock", name, err)
			return func() {}, err
		}
		held = append(held, lock)
	}
	return release, nil
}

func lockKey(name string) string {
	return "rentory:lock:stock:" + name
}
