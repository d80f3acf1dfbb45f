// Package priceindex 标记价格与资金费率来源：Redis 哈希、熔断包装与内存实现
package priceindex

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/cache"
)

const (
	fieldMark      = "mark"
	fieldFunding   = "funding"
	fieldUpdatedAt = "updated_at"
)

// RedisIndex 每个市场一个哈希 {prefix}{marketID}，字段 mark / funding
type RedisIndex struct {
	cache  *cache.RedisCache
	prefix string
}

func NewRedisIndex(c *cache.RedisCache, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "price:"
	}
	return &RedisIndex{cache: c, prefix: prefix}
}

func (r *RedisIndex) key(marketID int64) string {
	return r.prefix + strconv.FormatInt(marketID, 10)
}

func (r *RedisIndex) field(ctx context.Context, marketID int64, name string) (decimal.Decimal, bool, error) {
	fields, err := r.cache.HGetAll(ctx, r.key(marketID))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read price index of market %d: %w", marketID, err)
	}
	raw, ok := fields[name]
	if !ok || raw == "" {
		return decimal.Zero, false, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: market %d field %s=%q", domain.ErrPriceUnavailable, marketID, name, raw)
	}
	return v, true, nil
}

// MarkPrice 缺失时返回 ErrPriceUnavailable
func (r *RedisIndex) MarkPrice(ctx context.Context, marketID int64) (decimal.Decimal, error) {
	v, ok, err := r.field(ctx, marketID, fieldMark)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok || !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no mark price for market %d", domain.ErrPriceUnavailable, marketID)
	}
	return v, nil
}

// FundingRate 未发布费率时视为 0
func (r *RedisIndex) FundingRate(ctx context.Context, marketID int64) (decimal.Decimal, error) {
	v, _, err := r.field(ctx, marketID, fieldFunding)
	return v, err
}

// Publish 写入一次价格推送
func (r *RedisIndex) Publish(ctx context.Context, tick domain.PriceTick) error {
	values := []any{fieldMark, tick.MarkPrice.String(), fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano)}
	if tick.FundingRate != nil {
		values = append(values, fieldFunding, tick.FundingRate.String())
	}
	if err := r.cache.HSet(ctx, r.key(tick.MarketID), values...); err != nil {
		return fmt.Errorf("failed to publish price of market %d: %w", tick.MarketID, err)
	}
	return nil
}
