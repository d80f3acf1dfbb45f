// Package redis 盘口快照读模型的 Redis 实现。
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/cache"
)

// DepthRepository 以 JSON 保存每个市场最近一次盘口快照
type DepthRepository struct {
	cache  *cache.RedisCache
	prefix string
	ttl    time.Duration
}

// NewDepthRepository ttl 为 0 时快照不过期
func NewDepthRepository(c *cache.RedisCache, ttl time.Duration) *DepthRepository {
	return &DepthRepository{
		cache:  c,
		prefix: "depth:",
		ttl:    ttl,
	}
}

func (r *DepthRepository) SaveDepth(ctx context.Context, d domain.Depth) error {
	if err := r.cache.SetJSON(ctx, r.key(d.MarketID), d, r.ttl); err != nil {
		return fmt.Errorf("failed to save depth of market %d: %w", d.MarketID, err)
	}
	return nil
}

func (r *DepthRepository) GetDepth(ctx context.Context, marketID int64) (*domain.Depth, error) {
	var d domain.Depth
	ok, err := r.cache.GetJSON(ctx, r.key(marketID), &d)
	if err != nil {
		return nil, fmt.Errorf("failed to get depth of market %d: %w", marketID, err)
	}
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *DepthRepository) key(marketID int64) string {
	return r.prefix + strconv.FormatInt(marketID, 10)
}
