package priceindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/logger"
)

// BreakerConfig 熔断参数
type BreakerConfig struct {
	Name string
	// Threshold 连续失败次数达到后打开熔断
	Threshold uint32
	// Timeout 打开状态持续时间
	Timeout time.Duration
}

// BreakerIndex 为价格指数增加熔断，打开时直接返回 ErrPriceUnavailable
type BreakerIndex struct {
	next domain.PriceIndex
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerIndex(next domain.PriceIndex, cfg BreakerConfig) *BreakerIndex {
	if cfg.Name == "" {
		cfg.Name = "price-index"
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Threshold
		},
		// 数据缺失不是故障，不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrPriceUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "price index breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerIndex{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerIndex) call(fn func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (b *BreakerIndex) MarkPrice(ctx context.Context, marketID int64) (decimal.Decimal, error) {
	return b.call(func() (decimal.Decimal, error) { return b.next.MarkPrice(ctx, marketID) })
}

func (b *BreakerIndex) FundingRate(ctx context.Context, marketID int64) (decimal.Decimal, error) {
	return b.call(func() (decimal.Decimal, error) { return b.next.FundingRate(ctx, marketID) })
}

// State 当前熔断状态
func (b *BreakerIndex) State() gobreaker.State {
	return b.cb.State()
}
