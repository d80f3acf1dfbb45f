package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

// QueryService 订单、成交、持仓、资金费率与强平记录的只读列表查询
type QueryService struct {
	repos Repositories
}

func NewQueryService(repos Repositories) *QueryService {
	return &QueryService{repos: repos}
}

// ListOrders 按 Seq 倒序
func (q *QueryService) ListOrders(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	out, err := q.repos.Orders.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return out, nil
}

// ListTrades 最新在前
func (q *QueryService) ListTrades(ctx context.Context, f domain.TradeFilter) ([]*domain.Trade, error) {
	out, err := q.repos.Trades.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return out, nil
}

func (q *QueryService) ListPositions(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	out, err := q.repos.Positions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return out, nil
}

// FundingHistory 仅永续市场有费率历史
func (q *QueryService) FundingHistory(ctx context.Context, marketID int64, p domain.Page) ([]*domain.FundingRate, error) {
	m, err := q.repos.Markets.Get(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load market %d: %w", marketID, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownMarket, marketID)
	}
	if !m.IsFutures() {
		return nil, fmt.Errorf("%w: market %s has no funding", domain.ErrInvalidMarket, m)
	}
	out, err := q.repos.Funding.History(ctx, marketID, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list funding history: %w", err)
	}
	return out, nil
}

func (q *QueryService) ListLiquidations(ctx context.Context, f domain.LiquidationFilter) ([]*domain.Liquidation, error) {
	out, err := q.repos.Liquidations.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list liquidations: %w", err)
	}
	return out, nil
}
