package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scm/internal/pkg/logger"
	"scm/internal/service/inventory/domain"
)

const cacheTTL = 5 * time.Minute

// RedisInventoryCache 库存点查缓存。写路径只做失效，不回填，
// 缓存缺失走数据库后再 Set，过期兜底防止脏数据长期滞留。
type RedisInventoryCache struct {
	client *redis.Client
}

func NewRedisInventoryCache(client *redis.Client) *RedisInventoryCache {
	return &RedisInventoryCache{client: client}
}

func cacheKey(warehouseID, productCode string) string {
	return fmt.Sprintf("inventory:%s:%s", warehouseID, productCode)
}

func (c *RedisInventoryCache) Get(ctx context.Context, warehouseID, productCode string) (*domain.Inventory, bool) {
	raw, err := c.client.Get(ctx, cacheKey(warehouseID, productCode)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("inventory cache get failed")
		}
		return nil, false
	}

	var inv domain.Inventory
	if err := json.Unmarshal(raw, &inv); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("inventory cache entry corrupted")
		return nil, false
	}
	return &inv, true
}

func (c *RedisInventoryCache) Set(ctx context.Context, inv *domain.Inventory) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(inv.WarehouseID, inv.ProductCode), raw, cacheTTL).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("inventory cache set failed")
	}
}

func (c *RedisInventoryCache) Evict(ctx context.Context, warehouseID, productCode string) {
	if err := c.client.Del(ctx, cacheKey(warehouseID, productCode)).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("inventory cache evict failed")
	}
}
