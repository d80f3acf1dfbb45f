package application

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

// 同一市场并发下单经 Worker 串行：成交双边数量相等，盘口不交叉，序号不重复
func TestConcurrent_SameMarketSubmitsSerialize(t *testing.T) {
	env := newTestEnv(t)
	const n = 40

	var (
		mu      sync.Mutex
		results []*SubmitResult
		g       errgroup.Group
	)
	for i := range n {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		userID := int64(100 + i)
		g.Go(func() error {
			res, err := env.svc.Matching.Submit(env.ctx, SubmitOrderCommand{
				UserID: userID, MarketID: env.spot.ID, Type: domain.OrderTypeLimit, Side: side,
				Amount: d("1"), Price: dp("100"),
			})
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, results, n)

	bought, sold := d("0"), d("0")
	seqs := make(map[int64]bool, n)
	for _, res := range results {
		o := env.order(t, res.Order.ID)
		assert.False(t, seqs[o.Seq], "seq %d reused", o.Seq)
		seqs[o.Seq] = true
		if o.Side == domain.SideBuy {
			bought = bought.Add(o.FilledAmount)
		} else {
			sold = sold.Add(o.FilledAmount)
		}
	}
	assert.True(t, bought.Equal(sold), "bought %s sold %s", bought, sold)
	assert.True(t, bought.Equal(d("20")), bought.String())

	depth, err := env.svc.Matching.Depth(env.ctx, env.spot.ID, 5)
	require.NoError(t, err)
	assert.False(t, len(depth.Bids) > 0 && len(depth.Asks) > 0, "book crossed: %+v", depth)
}

// 撤单与撮合竞争时，撤单返回的状态与持久化状态一致
func TestConcurrent_CancelRacingMatchReportsTerminalStatus(t *testing.T) {
	for range 20 {
		env := newTestEnv(t)
		maker := env.limit(t, env.spot.ID, 1, domain.SideSell, "100", "1")

		var (
			cancelled *domain.Order
			taker     *SubmitResult
			g         errgroup.Group
		)
		g.Go(func() error {
			var err error
			taker, err = env.svc.Matching.Submit(env.ctx, SubmitOrderCommand{
				UserID: 2, MarketID: env.spot.ID, Type: domain.OrderTypeMarket, Side: domain.SideBuy, Amount: d("1"),
			})
			return err
		})
		g.Go(func() error {
			var err error
			cancelled, err = env.svc.Matching.Cancel(env.ctx, maker.Order.ID)
			return err
		})
		require.NoError(t, g.Wait())

		stored := env.order(t, maker.Order.ID)
		require.True(t, cancelled.IsTerminal(), cancelled.Status)
		assert.Equal(t, stored.Status, cancelled.Status)
		switch stored.Status {
		case domain.OrderStatusFilled:
			assert.Len(t, taker.Trades, 1)
		case domain.OrderStatusCancelled:
			assert.Empty(t, taker.Trades)
		default:
			t.Fatalf("unexpected maker status %s", stored.Status)
		}
	}
}

// 相同 client_order_id 并发提交只落一笔订单，其余返回该订单
func TestConcurrent_DuplicateClientOrderID(t *testing.T) {
	env := newTestEnv(t)
	const n = 16

	results := make([]*SubmitResult, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			res, err := env.svc.Matching.Submit(env.ctx, SubmitOrderCommand{
				UserID: 9, MarketID: env.spot.ID, Type: domain.OrderTypeLimit, Side: domain.SideBuy,
				Amount: d("1"), Price: dp("90"), ClientOrderID: "same-client-id",
			})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	fresh := 0
	for _, res := range results {
		assert.Equal(t, results[0].Order.ID, res.Order.ID)
		if !res.Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	depth, err := env.svc.Matching.Depth(env.ctx, env.spot.ID, 5)
	require.NoError(t, err)
	require.Len(t, depth.Bids, 1)
	assert.Equal(t, 1, depth.Bids[0].Count)

	orders, err := env.store.Orders().List(env.ctx, domain.OrderFilter{UserID: 9})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

// 同一市场并发 Tick 只结算一次
func TestConcurrent_FundingTickAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.openFuturesPair(t, 2, 1, "100", "1", 10)
	env.index.SetMark(env.futures.ID, d("100"))
	env.index.SetFunding(env.futures.ID, d("0.0001"))
	now := env.clock.Now()

	const n = 8
	snaps := make([]*domain.FundingRate, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			snap, err := env.svc.Funding.Tick(env.ctx, env.futures.ID, now)
			snaps[i] = snap
			return err
		})
	}
	require.NoError(t, g.Wait())

	applied := 0
	for _, s := range snaps {
		if s != nil {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.True(t, env.openPosition(t, 2).RealizedPNL.Equal(d("-0.01")))

	history, err := env.store.Funding().History(env.ctx, env.futures.ID, domain.Page{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
