package mysql

import (
	"context"
	"fmt"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

func (r *orderRepository) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	conn := r.db.Conn(ctx)
	q := conn.Scopes(notDeleted, paginate(f.Page))
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.MarketID != 0 {
		q = q.Where("market_id = ?", f.MarketID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.Side != "" {
		q = q.Where("side = ?", string(f.Side))
	}
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.MarketType != "" {
		q = q.Where("market_id IN (?)", conn.Model(&MarketModel{}).Select("id").Where("type = ?", string(f.MarketType)))
	}

	var models []OrderModel
	if err := q.Order("seq desc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	out := make([]*domain.Order, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *tradeRepository) List(ctx context.Context, f domain.TradeFilter) ([]*domain.Trade, error) {
	q := r.db.Conn(ctx).Scopes(notDeleted, paginate(f.Page))
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.MarketID != 0 {
		q = q.Where("market_id = ?", f.MarketID)
	}
	if f.OrderID != 0 {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.IsMaker != nil {
		q = q.Where("is_maker = ?", *f.IsMaker)
	}

	var models []TradeModel
	if err := q.Order("id desc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	out := make([]*domain.Trade, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *positionRepository) List(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	q := r.db.Conn(ctx).Scopes(notDeleted, paginate(f.Page))
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.MarketID != 0 {
		q = q.Where("market_id = ?", f.MarketID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Side != "" {
		q = q.Where("side = ?", string(f.Side))
	}

	var models []PositionModel
	if err := q.Order("id desc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	out := make([]*domain.Position, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *fundingRepository) History(ctx context.Context, marketID int64, p domain.Page) ([]*domain.FundingRate, error) {
	var models []FundingRateModel
	err := r.db.Conn(ctx).Scopes(notDeleted, paginate(p)).
		Where("market_id = ?", marketID).
		Order("created_at desc, id desc").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list funding rates of market %d: %w", marketID, err)
	}
	out := make([]*domain.FundingRate, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *liquidationRepository) List(ctx context.Context, f domain.LiquidationFilter) ([]*domain.Liquidation, error) {
	q := r.db.Conn(ctx).Scopes(notDeleted, paginate(f.Page))
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.MarketID != 0 {
		q = q.Where("market_id = ?", f.MarketID)
	}
	if f.PositionID != 0 {
		q = q.Where("position_id = ?", f.PositionID)
	}
	if f.Forced != nil {
		q = q.Where("forced = ?", *f.Forced)
	}

	var models []LiquidationModel
	if err := q.Order("id desc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list liquidations: %w", err)
	}
	out := make([]*domain.Liquidation, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}
