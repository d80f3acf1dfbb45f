package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

func TestQuery_OrdersFilteredByStatusSideAndMarketType(t *testing.T) {
	env := newTestEnv(t)
	q := env.svc.Queries
	env.limit(t, env.spot.ID, 7, domain.SideBuy, "90", "1")
	env.limit(t, env.spot.ID, 7, domain.SideSell, "110", "1")
	fut := env.limit(t, env.futures.ID, 7, domain.SideBuy, "95", "1")
	cancelled, err := env.svc.Matching.Cancel(env.ctx, fut.Order.ID)
	require.NoError(t, err)

	all, err := q.ListOrders(env.ctx, domain.OrderFilter{UserID: 7})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, fut.Order.ID, all[0].ID)

	spotBuys, err := q.ListOrders(env.ctx, domain.OrderFilter{UserID: 7, Side: domain.SideBuy, MarketType: domain.MarketSpot})
	require.NoError(t, err)
	require.Len(t, spotBuys, 1)
	assert.Equal(t, env.spot.ID, spotBuys[0].MarketID)

	open, err := q.ListOrders(env.ctx, domain.OrderFilter{UserID: 7, Statuses: []domain.OrderStatus{domain.OrderStatusOpen}, Type: domain.OrderTypeLimit})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	gone, err := q.ListOrders(env.ctx, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderStatusCancelled}})
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, cancelled.ID, gone[0].ID)

	page, err := q.ListOrders(env.ctx, domain.OrderFilter{UserID: 7, Page: domain.Page{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func TestQuery_TradesPositionsByMakerAndStatus(t *testing.T) {
	env := newTestEnv(t)
	q := env.svc.Queries
	env.openFuturesPair(t, 2, 1, "100", "1", 5)

	maker := true
	makers, err := q.ListTrades(env.ctx, domain.TradeFilter{MarketID: env.futures.ID, IsMaker: &maker})
	require.NoError(t, err)
	require.Len(t, makers, 1)
	assert.Equal(t, int64(1), makers[0].UserID)

	byMarket, err := q.ListTrades(env.ctx, domain.TradeFilter{MarketID: env.futures.ID})
	require.NoError(t, err)
	assert.Len(t, byMarket, 2)

	shorts, err := q.ListPositions(env.ctx, domain.PositionFilter{MarketID: env.futures.ID, Side: domain.PositionShort, Status: domain.PositionOpen})
	require.NoError(t, err)
	require.Len(t, shorts, 1)
	assert.Equal(t, int64(1), shorts[0].UserID)

	long := env.openPosition(t, 2)
	results := env.svc.Positions.ClosePositions(env.ctx, []int64{long.ID}, dp("100"))
	require.NoError(t, results[0].Err)
	closed, err := q.ListPositions(env.ctx, domain.PositionFilter{Status: domain.PositionClosed})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, long.ID, closed[0].ID)
}

func TestQuery_FundingHistoryAndLiquidations(t *testing.T) {
	env := newTestEnv(t)
	q := env.svc.Queries
	env.openFuturesPair(t, 2, 1, "100", "1", 10)
	env.index.SetMark(env.futures.ID, d("100"))

	now := env.clock.Now()
	first, err := env.svc.Funding.Tick(env.ctx, env.futures.ID, now)
	require.NoError(t, err)
	second, err := env.svc.Funding.Tick(env.ctx, env.futures.ID, now.Add(8*time.Hour))
	require.NoError(t, err)

	history, err := q.FundingHistory(env.ctx, env.futures.ID, domain.Page{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	_, err = q.FundingHistory(env.ctx, env.spot.ID, domain.Page{})
	assert.ErrorIs(t, err, domain.ErrInvalidMarket)
	_, err = q.FundingHistory(env.ctx, 404, domain.Page{})
	assert.ErrorIs(t, err, domain.ErrUnknownMarket)

	long := env.openPosition(t, 2)
	_, err = env.svc.Liquidation.Evaluate(env.ctx, long.ID, d("90"))
	require.NoError(t, err)

	liqs, err := q.ListLiquidations(env.ctx, domain.LiquidationFilter{MarketID: env.futures.ID})
	require.NoError(t, err)
	require.Len(t, liqs, 1)
	assert.Equal(t, long.ID, liqs[0].PositionID)

	forced := true
	none, err := q.ListLiquidations(env.ctx, domain.LiquidationFilter{Forced: &forced})
	require.NoError(t, err)
	assert.Empty(t, none)
}
