// Package memory 支持事务的内存存储，用于测试与单机开发模式
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

type dataset struct {
	currencies   map[string]domain.Currency
	markets      map[int64]domain.Market
	orders       map[int64]domain.Order
	clientIdx    map[string]int64
	trades       []domain.Trade
	positions    map[int64]domain.Position
	funding      []domain.FundingRate
	liquidations []domain.Liquidation
	depth        map[int64]domain.Depth
}

func newDataset() *dataset {
	return &dataset{
		currencies: make(map[string]domain.Currency),
		markets:    make(map[int64]domain.Market),
		orders:     make(map[int64]domain.Order),
		clientIdx:  make(map[string]int64),
		positions:  make(map[int64]domain.Position),
		depth:      make(map[int64]domain.Depth),
	}
}

func (d *dataset) clone() *dataset {
	return &dataset{
		currencies:   maps.Clone(d.currencies),
		markets:      maps.Clone(d.markets),
		orders:       maps.Clone(d.orders),
		clientIdx:    maps.Clone(d.clientIdx),
		trades:       slices.Clone(d.trades),
		positions:    maps.Clone(d.positions),
		funding:      slices.Clone(d.funding),
		liquidations: slices.Clone(d.liquidations),
		depth:        maps.Clone(d.depth),
	}
}

type txKey struct{}

// Store 写事务持有全局锁并在副本上执行，提交时整体替换
type Store struct {
	mu     sync.RWMutex
	data   *dataset
	faults map[string]error
}

func NewStore() *Store {
	return &Store{data: newDataset(), faults: make(map[string]error)}
}

// WithTx 实现 domain.TxManager，嵌套调用复用外层事务
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*dataset); ok {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	s.data = work
	return nil
}

// FailNext 令下一次指定操作返回 err，用于验证回滚
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) read(ctx context.Context, fn func(*dataset) error) error {
	if tx, ok := ctx.Value(txKey{}).(*dataset); ok {
		return fn(tx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *Store) write(ctx context.Context, op string, fn func(*dataset) error) error {
	if tx, ok := ctx.Value(txKey{}).(*dataset); ok {
		// 事务内已持有 s.mu
		if err := s.fault(op); err != nil {
			return err
		}
		return fn(tx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(op); err != nil {
		return err
	}
	return fn(s.data)
}

func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

func (s *Store) Currencies() domain.CurrencyRepository { return currencyRepo{s} }
func (s *Store) Markets() domain.MarketRepository { return marketRepo{s} }
func (s *Store) Orders() domain.OrderRepository { return orderRepo{s} }
func (s *Store) Trades() domain.TradeRepository { return tradeRepo{s} }
func (s *Store) Positions() domain.PositionRepository { return positionRepo{s} }
func (s *Store) Funding() domain.FundingRepository { return fundingRepo{s} }
func (s *Store) Liquidations() domain.LiquidationRepository { return liquidationRepo{s} }
func (s *Store) Depth() domain.DepthRepository { return depthRepo{s} }
