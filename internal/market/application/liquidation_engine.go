package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

// LiquidationConfig 强平参数
type LiquidationConfig struct {
	// FeeRate 强平手续费率，按成交名义价值计
	FeeRate decimal.Decimal
	// Slippage 相对标记价格的不利滑点
	Slippage decimal.Decimal
	// PartialRatio 位于 (0,1) 时先强平该比例，剩余部分健康则保留
	PartialRatio decimal.Decimal
}

// LiquidationEngine 维持保证金不足时以标记价格直接平仓
type LiquidationEngine struct {
	repos     Repositories
	positions *PositionManager
	index     domain.PriceIndex
	ids       domain.IDGenerator
	clock     domain.Clock
	notifier  domain.Notifier
	metrics   *metrics.Metrics
	cfg       LiquidationConfig
	logger    *slog.Logger
}

// NewLiquidationEngine 构造函数。
func NewLiquidationEngine(
	repos Repositories,
	positions *PositionManager,
	index domain.PriceIndex,
	ids domain.IDGenerator,
	clock domain.Clock,
	notifier domain.Notifier,
	m *metrics.Metrics,
	cfg LiquidationConfig,
	logger *slog.Logger,
) *LiquidationEngine {
	return &LiquidationEngine{
		repos:     repos,
		positions: positions,
		index:     index,
		ids:       ids,
		clock:     clock,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With("module", "liquidation_engine"),
	}
}

// Evaluate 检查单个持仓，未触发强平时返回 nil
func (e *LiquidationEngine) Evaluate(ctx context.Context, positionID int64, mark decimal.Decimal) (*domain.Liquidation, error) {
	liq, err := e.liquidate(ctx, positionID, mark, false)
	if errors.Is(err, domain.ErrPositionNotOpen) {
		return nil, nil
	}
	return liq, err
}

// ForceLiquidate 跳过健康检查强平，标记价格取自价格指数，不可用时取持仓最近的标记价格
func (e *LiquidationEngine) ForceLiquidate(ctx context.Context, ids []int64) []BatchResult[*domain.Liquidation] {
	results := make([]BatchResult[*domain.Liquidation], 0, len(ids))
	for _, id := range ids {
		liq, err := e.forceOne(ctx, id)
		if err != nil {
			e.logger.WarnContext(ctx, "force liquidation failed", "position_id", id, "error", err)
		} else {
			e.logger.WarnContext(ctx, "position force liquidated", "position_id", id, "price", liq.Price.String(), "amount", liq.Amount.String())
		}
		results = append(results, BatchResult[*domain.Liquidation]{ID: id, Value: liq, Err: err})
	}
	return results
}

func (e *LiquidationEngine) forceOne(ctx context.Context, id int64) (*domain.Liquidation, error) {
	pos, err := e.repos.Positions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrPositionNotFound, id)
	}
	mark, err := e.index.MarkPrice(ctx, pos.MarketID)
	if err != nil || !mark.IsPositive() {
		mark = pos.MarkPrice
	}
	return e.liquidate(ctx, id, mark, true)
}

func (e *LiquidationEngine) liquidate(ctx context.Context, id int64, mark decimal.Decimal, force bool) (*domain.Liquidation, error) {
	if !mark.IsPositive() {
		return nil, fmt.Errorf("%w: mark price %s", domain.ErrPriceUnavailable, mark)
	}
	pos, err := e.repos.Positions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrPositionNotFound, id)
	}
	mi, err := loadMarketInfo(ctx, e.repos, pos.MarketID)
	if err != nil {
		return nil, err
	}

	unlock := e.positions.locks.Lock(PositionKey{UserID: pos.UserID, MarketID: pos.MarketID})

	var (
		liq   *domain.Liquidation
		delta PositionDelta
	)
	err = e.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := e.repos.Positions.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil || !cur.IsOpen() {
			return fmt.Errorf("%w: %d", domain.ErrPositionNotOpen, id)
		}
		if !force && !cur.IsLiquidatable(mark, mi.calc) {
			return nil
		}

		now := e.clock.Now()
		mmr := mi.market.MaintenanceMarginRate
		price := e.closePrice(cur.Side, mark, mi.market.PricePrecision)
		amount := e.closeAmount(cur, mi.market.AmountPrecision)

		realized, err := cur.Reduce(price, amount, mmr, mi.calc, now)
		if err != nil {
			return err
		}
		if cur.IsOpen() && cur.IsLiquidatable(mark, mi.calc) {
			remaining := cur.Amount
			rest, err := cur.Reduce(price, remaining, mmr, mi.calc, now)
			if err != nil {
				return err
			}
			realized = realized.Add(rest)
			amount = amount.Add(remaining)
		}
		cur.MarkLiquidated(price, now)
		if cur.IsOpen() {
			cur.MarkToMarket(mark, mi.calc, now)
		}
		if err := e.repos.Positions.Save(ctx, cur); err != nil {
			return fmt.Errorf("failed to save position %d: %w", id, err)
		}

		fee := price.Mul(amount).Mul(e.cfg.FeeRate).RoundCeil(mi.quote.Decimals)
		liq = &domain.Liquidation{
			ID:          e.ids.NextID(),
			PositionID:  cur.ID,
			MarketID:    cur.MarketID,
			UserID:      cur.UserID,
			Price:       price,
			Amount:      amount,
			RealizedPNL: realized,
			Fee:         fee,
			Forced:      force,
		}
		liq.Stamp(now)
		if err := e.repos.Liquidations.Append(ctx, liq); err != nil {
			return fmt.Errorf("failed to append liquidation of position %d: %w", id, err)
		}

		delta = PositionDelta{Position: cur, Event: domain.PositionUpdatedEventType, Realized: realized}
		if cur.Status == domain.PositionLiquidated {
			delta.Event = domain.PositionLiquidatedEventType
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}
	if liq == nil {
		return nil, nil
	}

	mode := "auto"
	if force {
		mode = "forced"
	}
	e.metrics.LiquidationsTotal.WithLabelValues(strconv.FormatInt(liq.MarketID, 10), mode).Inc()
	e.positions.publish(ctx, []PositionDelta{delta})
	e.positions.released(ctx, []PositionDelta{delta})
	e.logger.WarnContext(ctx, "position liquidated",
		"position_id", liq.PositionID, "user_id", liq.UserID, "market_id", liq.MarketID,
		"price", liq.Price.String(), "amount", liq.Amount.String(), "mode", mode)
	return liq, nil
}

// closePrice 按滑点向不利方向调整标记价格
func (e *LiquidationEngine) closePrice(side domain.PositionSide, mark decimal.Decimal, places int32) decimal.Decimal {
	if !e.cfg.Slippage.IsPositive() {
		return mark
	}
	adj := decimal.NewFromInt(1).Sub(e.cfg.Slippage.Mul(side.Sign()))
	p := mark.Mul(adj).RoundBank(places)
	if !p.IsPositive() {
		return mark
	}
	return p
}

// closeAmount 部分强平数量，按数量精度向下取整；不足一个最小单位时全平
func (e *LiquidationEngine) closeAmount(p *domain.Position, places int32) decimal.Decimal {
	r := e.cfg.PartialRatio
	if !r.IsPositive() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return p.Amount
	}
	amount := p.Amount.Mul(r).RoundDown(places)
	if !amount.IsPositive() {
		return p.Amount
	}
	return amount
}

// Sweep 以价格指数的标记价格检查全部持仓，单个市场失败不影响其他市场
func (e *LiquidationEngine) Sweep(ctx context.Context) (int, error) {
	open, err := e.repos.Positions.ListOpen(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list open positions: %w", err)
	}
	byMarket := make(map[int64][]*domain.Position)
	var order []int64
	for _, p := range open {
		if _, ok := byMarket[p.MarketID]; !ok {
			order = append(order, p.MarketID)
		}
		byMarket[p.MarketID] = append(byMarket[p.MarketID], p)
	}

	liquidated := 0
	var errs []error
	for _, marketID := range order {
		mark, err := e.index.MarkPrice(ctx, marketID)
		if err != nil {
			e.logger.WarnContext(ctx, "mark price unavailable, market skipped", "market_id", marketID, "error", err)
			errs = append(errs, fmt.Errorf("market %d: %w", marketID, err))
			continue
		}
		for _, p := range byMarket[marketID] {
			liq, err := e.Evaluate(ctx, p.ID, mark)
			if err != nil {
				e.logger.ErrorContext(ctx, "liquidation evaluation failed", "position_id", p.ID, "error", err)
				errs = append(errs, fmt.Errorf("position %d: %w", p.ID, err))
				continue
			}
			if liq != nil {
				liquidated++
			}
		}
	}
	return liquidated, errors.Join(errs...)
}

// Run 按固定间隔执行 Sweep，直到 ctx 取消
func (e *LiquidationEngine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.InfoContext(ctx, "liquidation sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "liquidation sweeper stopped")
			return nil
		case <-ticker.C:
			if n, err := e.Sweep(ctx); err != nil {
				e.logger.WarnContext(ctx, "liquidation sweep finished with errors", "liquidated", n, "error", err)
			} else if n > 0 {
				e.logger.InfoContext(ctx, "liquidation sweep finished", "liquidated", n)
			}
		}
	}
}
