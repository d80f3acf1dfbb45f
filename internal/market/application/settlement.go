package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

// Settler 在单个事务中持久化撮合结果与持仓变动
type Settler struct {
	repos     Repositories
	positions *PositionManager
}

func NewSettler(repos Repositories, positions *PositionManager) *Settler {
	return &Settler{repos: repos, positions: positions}
}

// Settle 写入订单、成交与持仓，任一步失败整体回滚；返回已提交的持仓变动
func (s *Settler) Settle(ctx context.Context, mi *marketInfo, plan *domain.MatchPlan) ([]PositionDelta, error) {
	if mi.market.IsFutures() && len(plan.Trades) > 0 {
		keys := make([]PositionKey, 0, len(plan.Trades))
		for _, t := range plan.Trades {
			keys = append(keys, PositionKey{UserID: t.UserID, MarketID: t.MarketID})
		}
		unlock := s.positions.locks.Lock(keys...)
		defer unlock()
	}

	orders := make(map[int64]*domain.Order, len(plan.Makers)+1)
	for _, o := range plan.Orders() {
		orders[o.ID] = o
	}

	var deltas []PositionDelta
	err := s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		deltas = deltas[:0]
		for _, o := range plan.Orders() {
			if err := s.repos.Orders.Save(ctx, o); err != nil {
				return fmt.Errorf("failed to save order %d: %w", o.ID, err)
			}
		}
		if len(plan.Trades) == 0 {
			return nil
		}
		if err := s.repos.Trades.Append(ctx, plan.Trades...); err != nil {
			return fmt.Errorf("failed to append trades: %w", err)
		}
		for _, t := range plan.Trades {
			d, err := s.positions.settleTrade(ctx, mi, t, orders[t.OrderID])
			if err != nil {
				return err
			}
			deltas = append(deltas, d...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deltas, nil
}

// Persist 保存不产生成交的订单状态变更
func (s *Settler) Persist(ctx context.Context, o *domain.Order) error {
	if err := s.repos.Orders.Save(ctx, o); err != nil {
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return nil
}
