package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

// FundingEngine 按资金费率周期在多空之间转移资金费
type FundingEngine struct {
	repos       Repositories
	positions   *PositionManager
	liquidation *LiquidationEngine
	index       domain.PriceIndex
	ids         domain.IDGenerator
	clock       domain.Clock
	notifier    domain.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	// guard 同一市场的 Tick 串行执行
	guard       *KeyedLocker
}

// NewFundingEngine 构造函数。liquidation 可为空，为空时结算后不做强平检查
func NewFundingEngine(
	repos Repositories,
	positions *PositionManager,
	liquidation *LiquidationEngine,
	index domain.PriceIndex,
	ids domain.IDGenerator,
	clock domain.Clock,
	notifier domain.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *FundingEngine {
	return &FundingEngine{
		repos:       repos,
		positions:   positions,
		liquidation: liquidation,
		index:       index,
		ids:         ids,
		clock:       clock,
		notifier:    notifier,
		metrics:     m,
		logger:      logger.With("module", "funding_engine"),
		guard:       NewKeyedLocker(),
	}
}

// Tick 到达结算时间时记录费率快照并结算全部持仓，未到期返回 nil
func (f *FundingEngine) Tick(ctx context.Context, marketID int64, now time.Time) (*domain.FundingRate, error) {
	mi, err := loadMarketInfo(ctx, f.repos, marketID)
	if err != nil {
		return nil, err
	}
	if !mi.market.IsFutures() {
		return nil, fmt.Errorf("%w: market %s has no funding", domain.ErrInvalidMarket, mi.market)
	}
	interval := mi.market.FundingInterval

	release := sync.OnceFunc(f.guard.Lock(PositionKey{MarketID: marketID}))
	defer release()
	if due, err := f.due(ctx, marketID, interval, now); err != nil || !due {
		return nil, err
	}

	rate, err := f.index.FundingRate(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get funding rate of market %d: %w", marketID, err)
	}
	mark, err := f.index.MarkPrice(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mark price of market %d: %w", marketID, err)
	}
	if !mark.IsPositive() {
		return nil, fmt.Errorf("%w: mark price %s", domain.ErrPriceUnavailable, mark)
	}

	open, err := f.repos.Positions.ListOpen(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions of market %d: %w", marketID, err)
	}

	unlock := f.positions.locks.Lock(positionKeys(open)...)
	snapshot := &domain.FundingRate{
		ID:              f.ids.NextID(),
		MarketID:        marketID,
		Rate:            rate,
		MarkPrice:       mark,
		NextFundingTime: now.Add(interval),
	}
	snapshot.Stamp(now)

	var (
		deltas  []PositionDelta
		events  []domain.Event
		skipped bool
	)
	err = f.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		deltas, events = deltas[:0], events[:0]
		due, err := f.due(ctx, marketID, interval, now)
		if err != nil {
			return err
		}
		if skipped = !due; skipped {
			return nil
		}
		if err := f.repos.Funding.Append(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to append funding snapshot: %w", err)
		}
		for _, p := range open {
			cur, err := f.repos.Positions.Get(ctx, p.ID)
			if err != nil {
				return err
			}
			if cur == nil || !cur.IsOpen() {
				continue
			}
			payment, err := cur.ApplyFunding(rate, mark, mi.market.MaintenanceMarginRate, mi.calc, now)
			if err != nil {
				return err
			}
			if err := f.repos.Positions.Save(ctx, cur); err != nil {
				return fmt.Errorf("failed to save position %d: %w", cur.ID, err)
			}
			deltas = append(deltas, PositionDelta{Position: cur, Event: domain.PositionUpdatedEventType, Realized: payment.Neg()})
			events = append(events, domain.NewEvent(domain.FundingAppliedEventType, marketID, cur.UserID, map[string]any{
				"position_id": cur.ID,
				"rate":        rate,
				"mark_price":  mark,
				"payment":     payment,
			}, now))
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to apply funding of market %d: %w", marketID, err)
	}
	if skipped {
		return nil, nil
	}
	release()

	f.metrics.FundingTicksTotal.WithLabelValues(strconv.FormatInt(marketID, 10)).Inc()
	f.notifier.Notify(ctx, events...)
	f.positions.publish(ctx, deltas)
	f.logger.InfoContext(ctx, "funding applied", "market_id", marketID, "rate", rate.String(), "mark", mark.String(), "positions", len(deltas))

	if f.liquidation != nil {
		for _, d := range deltas {
			if !d.Position.IsLiquidatable(mark, mi.calc) {
				continue
			}
			if _, err := f.liquidation.Evaluate(ctx, d.Position.ID, mark); err != nil {
				f.logger.ErrorContext(ctx, "post-funding liquidation failed", "position_id", d.Position.ID, "error", err)
			}
		}
	}
	return snapshot, nil
}

// due 距上次快照已满一个周期
func (f *FundingEngine) due(ctx context.Context, marketID int64, interval time.Duration, now time.Time) (bool, error) {
	latest, err := f.repos.Funding.Latest(ctx, marketID)
	if err != nil {
		return false, fmt.Errorf("failed to load latest funding of market %d: %w", marketID, err)
	}
	return latest == nil || !now.Before(latest.CreatedAt.Add(interval)), nil
}

// TickAll 对全部永续市场执行 Tick，单个市场失败只记录日志
func (f *FundingEngine) TickAll(ctx context.Context, now time.Time) int {
	markets, err := f.repos.Markets.List(ctx, domain.MarketFutures)
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to list futures markets", "error", err)
		return 0
	}
	applied := 0
	for _, m := range markets {
		snap, err := f.Tick(ctx, m.ID, now)
		if err != nil {
			f.logger.WarnContext(ctx, "funding tick failed, retry next tick", "market_id", m.ID, "error", err)
			continue
		}
		if snap != nil {
			applied++
		}
	}
	return applied
}

// Run 按固定间隔检查全部永续市场，直到 ctx 取消
func (f *FundingEngine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	f.logger.InfoContext(ctx, "funding scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			f.logger.InfoContext(ctx, "funding scheduler stopped")
			return nil
		case <-ticker.C:
			f.TickAll(ctx, f.clock.Now())
		}
	}
}
