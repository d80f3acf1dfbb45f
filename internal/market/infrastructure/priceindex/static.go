package priceindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

// StaticIndex 内存价格指数，用于测试与无 Redis 的单机模式
type StaticIndex struct {
	mu      sync.RWMutex
	marks   map[int64]decimal.Decimal
	funding map[int64]decimal.Decimal
	err     error
}

func NewStaticIndex() *StaticIndex {
	return &StaticIndex{
		marks:   make(map[int64]decimal.Decimal),
		funding: make(map[int64]decimal.Decimal),
	}
}

func (s *StaticIndex) SetMark(marketID int64, mark decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[marketID] = mark
}

func (s *StaticIndex) SetFunding(marketID int64, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funding[marketID] = rate
}

// Fail 之后的读取都返回 err，传 nil 恢复
func (s *StaticIndex) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticIndex) MarkPrice(_ context.Context, marketID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return decimal.Zero, s.err
	}
	m, ok := s.marks[marketID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no mark price for market %d", domain.ErrPriceUnavailable, marketID)
	}
	return m, nil
}

func (s *StaticIndex) FundingRate(_ context.Context, marketID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.funding[marketID], nil
}

// Publish 与 RedisIndex 相同的写入入口
func (s *StaticIndex) Publish(_ context.Context, tick domain.PriceTick) error {
	s.SetMark(tick.MarketID, tick.MarkPrice)
	if tick.FundingRate != nil {
		s.SetFunding(tick.MarketID, *tick.FundingRate)
	}
	return nil
}
