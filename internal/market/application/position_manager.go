package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/logger"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

// PositionDelta 一笔成交或管理操作对单个持仓的影响
type PositionDelta struct {
	Position *domain.Position
	Event    domain.EventType
	Realized decimal.Decimal
}

// PositionManager 永续合约持仓结算，所有写操作持有 (user, market) 键锁
type PositionManager struct {
	repos    Repositories
	locks    *KeyedLocker
	ids      domain.IDGenerator
	clock    domain.Clock
	notifier domain.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	onRelease func(ctx context.Context, userID, marketID int64) error
}

// NewPositionManager 构造函数。
func NewPositionManager(repos Repositories, locks *KeyedLocker, ids domain.IDGenerator, clock domain.Clock, notifier domain.Notifier, m *metrics.Metrics, logger *slog.Logger) *PositionManager {
	return &PositionManager{
		repos:    repos,
		locks:    locks,
		ids:      ids,
		clock:    clock,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("module", "position_manager"),
	}
}

// OnRelease 注册持仓平掉后的回调，用于撤销失效的减仓单
func (m *PositionManager) OnRelease(fn func(ctx context.Context, userID, marketID int64) error) {
	m.onRelease = fn
}

// released 调用方已释放持仓锁
func (m *PositionManager) released(ctx context.Context, deltas []PositionDelta) {
	if m.onRelease == nil {
		return
	}
	for _, d := range deltas {
		if d.Position.IsOpen() {
			continue
		}
		if err := m.onRelease(ctx, d.Position.UserID, d.Position.MarketID); err != nil {
			m.logger.WarnContext(ctx, "failed to release reduce-only orders", "user_id", d.Position.UserID, "market_id", d.Position.MarketID, "error", err)
		}
	}
}

// ApplyTrade 单独结算一笔已持久化的成交，现货成交返回空结果
func (m *PositionManager) ApplyTrade(ctx context.Context, trade *domain.Trade, order *domain.Order) ([]PositionDelta, error) {
	mi, err := loadMarketInfo(ctx, m.repos, trade.MarketID)
	if err != nil {
		return nil, err
	}
	if !mi.market.IsFutures() {
		return nil, nil
	}
	unlock := m.locks.Lock(PositionKey{UserID: trade.UserID, MarketID: trade.MarketID})
	var deltas []PositionDelta
	err = m.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		deltas, err = m.settleTrade(ctx, mi, trade, order)
		return err
	})
	unlock()
	if err != nil {
		return nil, err
	}
	m.publish(ctx, deltas)
	m.released(ctx, deltas)
	return deltas, nil
}

// settleTrade 调用方持有键锁并处于事务中
func (m *PositionManager) settleTrade(ctx context.Context, mi *marketInfo, trade *domain.Trade, order *domain.Order) ([]PositionDelta, error) {
	if !mi.market.IsFutures() {
		return nil, nil
	}
	now := m.clock.Now()
	mmr := mi.market.MaintenanceMarginRate
	side := domain.PositionSideOf(trade.Side)
	restricted := order.ReduceOnly || order.ClosePosition

	pos, err := m.repos.Positions.GetOpen(ctx, trade.UserID, trade.MarketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position of user %d: %w", trade.UserID, err)
	}

	if pos == nil || pos.Side == side {
		if restricted {
			return nil, fmt.Errorf("%w: order %d", domain.ErrReduceOnlyViolation, order.ID)
		}
		if pos == nil {
			return m.open(ctx, mi, trade, side, trade.Amount, order.Leverage)
		}
		if err := pos.Increase(trade.Price, trade.Amount, mmr, mi.calc, now); err != nil {
			return nil, err
		}
		if err := m.repos.Positions.Save(ctx, pos); err != nil {
			return nil, fmt.Errorf("failed to save position %d: %w", pos.ID, err)
		}
		return []PositionDelta{{Position: pos, Event: domain.PositionUpdatedEventType}}, nil
	}

	closing := decimal.Min(trade.Amount, pos.Amount)
	flip := trade.Amount.Sub(closing)
	if flip.IsPositive() && restricted {
		return nil, fmt.Errorf("%w: order %d exceeds position %d", domain.ErrPositionFlip, order.ID, pos.ID)
	}

	realized, err := pos.Reduce(trade.Price, closing, mmr, mi.calc, now)
	if err != nil {
		return nil, err
	}
	if err := m.repos.Positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to save position %d: %w", pos.ID, err)
	}
	delta := PositionDelta{Position: pos, Event: domain.PositionUpdatedEventType, Realized: realized}
	if !pos.IsOpen() {
		delta.Event = domain.PositionClosedEventType
	}
	deltas := []PositionDelta{delta}

	if flip.IsPositive() {
		leverage := order.Leverage
		if leverage < 1 {
			leverage = pos.Leverage
		}
		opened, err := m.open(ctx, mi, trade, side, flip, leverage)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, opened...)
	}
	return deltas, nil
}

func (m *PositionManager) open(ctx context.Context, mi *marketInfo, trade *domain.Trade, side domain.PositionSide, amount decimal.Decimal, leverage int32) ([]PositionDelta, error) {
	pos := domain.OpenPosition(m.ids.NextID(), trade.UserID, trade.MarketID, side, trade.Price, amount,
		leverage, mi.market.MaintenanceMarginRate, mi.calc, m.clock.Now())
	if err := m.repos.Positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to open position for user %d: %w", trade.UserID, err)
	}
	return []PositionDelta{{Position: pos, Event: domain.PositionOpenedEventType}}, nil
}

// UpdateMarkPrice 以标记价格重算市场内全部持仓的未实现盈亏，返回更新数量
func (m *PositionManager) UpdateMarkPrice(ctx context.Context, marketID int64, mark decimal.Decimal) (int, error) {
	if !mark.IsPositive() {
		return 0, fmt.Errorf("%w: mark price %s", domain.ErrPriceUnavailable, mark)
	}
	mi, err := loadMarketInfo(ctx, m.repos, marketID)
	if err != nil {
		return 0, err
	}
	open, err := m.repos.Positions.ListOpen(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("failed to list positions of market %d: %w", marketID, err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	unlock := m.locks.Lock(positionKeys(open)...)
	defer unlock()

	updated := 0
	err = m.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		updated = 0
		for _, p := range open {
			cur, err := m.repos.Positions.Get(ctx, p.ID)
			if err != nil {
				return err
			}
			if cur == nil || !cur.IsOpen() {
				continue
			}
			cur.MarkToMarket(mark, mi.calc, m.clock.Now())
			if err := m.repos.Positions.Save(ctx, cur); err != nil {
				return fmt.Errorf("failed to save position %d: %w", cur.ID, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update mark price of market %d: %w", marketID, err)
	}
	m.logger.DebugContext(ctx, "mark price applied", "market_id", marketID, "mark", mark.String(), "positions", updated)
	return updated, nil
}

// ClosePositions 按指定价格平仓，price 为空时使用持仓的标记价格
func (m *PositionManager) ClosePositions(ctx context.Context, ids []int64, price *decimal.Decimal) []BatchResult[*domain.Position] {
	results := make([]BatchResult[*domain.Position], 0, len(ids))
	for _, id := range ids {
		pos, err := m.closePosition(ctx, id, price)
		if err != nil {
			logger.Warn(ctx, "close position failed", "position_id", id, "error", err)
		}
		results = append(results, BatchResult[*domain.Position]{ID: id, Value: pos, Err: err})
	}
	return results
}

func (m *PositionManager) closePosition(ctx context.Context, id int64, price *decimal.Decimal) (*domain.Position, error) {
	pos, err := m.repos.Positions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrPositionNotFound, id)
	}
	mi, err := loadMarketInfo(ctx, m.repos, pos.MarketID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(PositionKey{UserID: pos.UserID, MarketID: pos.MarketID})
	var delta PositionDelta
	err = m.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := m.repos.Positions.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil || !cur.IsOpen() {
			return fmt.Errorf("%w: %d", domain.ErrPositionNotOpen, id)
		}
		exit := cur.MarkPrice
		if price != nil {
			exit = *price
		}
		if !exit.IsPositive() {
			return fmt.Errorf("%w: no close price for position %d", domain.ErrPriceUnavailable, id)
		}
		realized, err := cur.Reduce(exit, cur.Amount, mi.market.MaintenanceMarginRate, mi.calc, m.clock.Now())
		if err != nil {
			return err
		}
		delta = PositionDelta{Position: cur, Event: domain.PositionClosedEventType, Realized: realized}
		return m.repos.Positions.Save(ctx, cur)
	})
	unlock()
	if err != nil {
		return nil, err
	}
	m.publish(ctx, []PositionDelta{delta})
	m.released(ctx, []PositionDelta{delta})
	return delta.Position, nil
}

// publish 提交后通知下游并更新持仓指标
func (m *PositionManager) publish(ctx context.Context, deltas []PositionDelta) {
	if len(deltas) == 0 {
		return
	}
	now := m.clock.Now()
	events := make([]domain.Event, 0, len(deltas))
	for _, d := range deltas {
		label := strconv.FormatInt(d.Position.MarketID, 10)
		switch d.Event {
		case domain.PositionOpenedEventType:
			m.metrics.PositionsOpen.WithLabelValues(label).Inc()
		case domain.PositionClosedEventType, domain.PositionLiquidatedEventType:
			m.metrics.PositionsOpen.WithLabelValues(label).Dec()
		}
		events = append(events, domain.NewEvent(d.Event, d.Position.MarketID, d.Position.UserID, d.Position.Clone(), now))
	}
	m.notifier.Notify(ctx, events...)
}

func positionKeys(positions []*domain.Position) []PositionKey {
	keys := make([]PositionKey, 0, len(positions))
	for _, p := range positions {
		keys = append(keys, PositionKey{UserID: p.UserID, MarketID: p.MarketID})
	}
	return keys
}
