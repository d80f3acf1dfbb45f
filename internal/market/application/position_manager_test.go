package application

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

func TestFutures_OpenIncreaseAndFlip(t *testing.T) {
	env := newTestEnv(t)
	fut := env.futures.ID

	env.limit(t, fut, 1, domain.SideSell, "100", "2")
	env.market(t, fut, 2, domain.SideBuy, "1")

	long := env.openPosition(t, 2)
	require.NotNil(t, long)
	assert.Equal(t, domain.PositionLong, long.Side)
	assert.True(t, long.Amount.Equal(d("1")))
	assert.True(t, long.Margin.Equal(d("100")))

	short := env.openPosition(t, 1)
	require.NotNil(t, short)
	assert.Equal(t, domain.PositionShort, short.Side)

	env.market(t, fut, 2, domain.SideBuy, "1")
	long = env.openPosition(t, 2)
	assert.True(t, long.Amount.Equal(d("2")))
	assert.True(t, long.EntryPrice.Equal(d("100")))

	// 卖出 3 张：平掉 2 张多头，剩余 1 张开空
	env.limit(t, fut, 3, domain.SideBuy, "110", "3")
	env.market(t, fut, 2, domain.SideSell, "3")

	closed, err := env.store.Positions().Get(env.ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, closed.Status)
	assert.True(t, closed.RealizedPNL.Equal(d("20")), closed.RealizedPNL.String())
	require.NotNil(t, closed.ClosePrice)
	assert.True(t, closed.ClosePrice.Equal(d("110")))

	flipped := env.openPosition(t, 2)
	require.NotNil(t, flipped)
	assert.Equal(t, domain.PositionShort, flipped.Side)
	assert.True(t, flipped.Amount.Equal(d("1")))
	assert.True(t, flipped.EntryPrice.Equal(d("110")))

	assert.Equal(t, 1, env.notifier.count(domain.PositionClosedEventType))
}

func TestFutures_ReduceOnlyAndClosePosition(t *testing.T) {
	env := newTestEnv(t)
	fut := env.futures.ID
	env.openFuturesPair(t, 2, 1, "100", "1", 5)

	_, err := env.svc.Matching.Submit(env.ctx, SubmitOrderCommand{
		UserID: 2, MarketID: fut, Type: domain.OrderTypeMarket, Side: domain.SideSell, Amount: d("2"), ReduceOnly: true,
	})
	assert.ErrorIs(t, err, domain.ErrPositionFlip)

	_, err = env.svc.Matching.Submit(env.ctx, SubmitOrderCommand{
		UserID: 2, MarketID: fut, Type: domain.OrderTypeMarket, Side: domain.SideBuy, Amount: d("1"), ReduceOnly: true,
	})
	assert.ErrorIs(t, err, domain.ErrReduceOnlyViolation)

	env.limit(t, fut, 3, domain.SideBuy, "105", "5")
	res, err := env.svc.Matching.Submit(env.ctx, SubmitOrderCommand{
		UserID: 2, MarketID: fut, Type: domain.OrderTypeMarket, Side: domain.SideSell, ClosePosition: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Order.Amount.Equal(d("1")))
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)
	assert.Nil(t, env.openPosition(t, 2))
}

func TestPositionManager_UpdateMarkPrice(t *testing.T) {
	env := newTestEnv(t)
	env.openFuturesPair(t, 2, 1, "100", "2", 1)

	n, err := env.svc.Positions.UpdateMarkPrice(env.ctx, env.futures.ID, d("90"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	long := env.openPosition(t, 2)
	assert.True(t, long.UnrealizedPNL.Equal(d("-20")))
	assert.True(t, long.MarkPrice.Equal(d("90")))
	short := env.openPosition(t, 1)
	assert.True(t, short.UnrealizedPNL.Equal(d("20")))

	_, err = env.svc.Positions.UpdateMarkPrice(env.ctx, env.futures.ID, d("0"))
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestPositionManager_ClosePositions(t *testing.T) {
	env := newTestEnv(t)
	env.openFuturesPair(t, 2, 1, "100", "1", 1)
	long := env.openPosition(t, 2)

	results := env.svc.Positions.ClosePositions(env.ctx, []int64{long.ID, 999}, dp("120"))
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Equal(t, domain.PositionClosed, results[0].Value.Status)
	assert.True(t, results[0].Value.RealizedPNL.Equal(d("20")))
	assert.ErrorIs(t, results[1].Err, domain.ErrPositionNotFound)

	again := env.svc.Positions.ClosePositions(env.ctx, []int64{long.ID}, nil)
	assert.ErrorIs(t, again[0].Err, domain.ErrPositionNotOpen)
}

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locks := NewKeyedLocker()
	key := PositionKey{UserID: 1, MarketID: 1}
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []PositionKey{key, {UserID: int64(i), MarketID: 2}}
			unlock := locks.Lock(keys...)
			if n := inside.Add(1); n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, locks.locks)
}
