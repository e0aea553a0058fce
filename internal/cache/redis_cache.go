package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"rentory/internal/domain"
)

// setIfNewer writes ARGV[1] unless the cached level carries a higher version
// than ARGV[2]. ARGV[3] is the TTL in milliseconds, 0 for none.
var setIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, cached = pcall(cjson.decode, current)
	if ok and type(cached) == 'table' and tonumber(cached['version']) and tonumber(cached['version']) > tonumber(ARGV[2]) then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

type RedisStockLevelCache struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStockLevelCache(client *redis.Client) *RedisStockLevelCache {
	return &RedisStockLevelCache{client: client, prefix: "rentory:stock-level:"}
}

func (c *RedisStockLevelCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockLevelCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockLevelCache) Get(ctx context.Context, key domain.StockKey) (*domain.StockLevel, bool, error) {
	val, err := c.client.Get(ctx, c.cacheKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var level domain.StockLevel
	if err := json.Unmarshal([]byte(val), &level); err != nil {
		return nil, false, err
	}
	return &level, true, nil
}

func (c *RedisStockLevelCache) Set(ctx context.Context, level domain.StockLevel, ttl time.Duration) error {
	payload, err := json.Marshal(level)
	if err != nil {
		return err
	}
	return setIfNewer.Run(ctx, c.client, []string{c.cacheKey(level.Key())}, payload, level.Version, ttl.Milliseconds()).Err()
}

func (c *RedisStockLevelCache) Invalidate(ctx context.Context, keys ...domain.StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = c.cacheKey(key)
	}
	return c.client.Del(ctx, names...).Err()
}

func (c *RedisStockLevelCache) cacheKey(key domain.StockKey) string {
	return c.prefix + key.ItemID + ":" + key.LocationID
}
