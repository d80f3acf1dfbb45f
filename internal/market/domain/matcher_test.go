package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type seqIDs struct{ next int64 }

func (s *seqIDs) NextID() int64 {
	s.next++
	return 1_000_000 + s.next
}

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func btcUSDT() (*Market, FeeCalculator) {
	m := MarketDefaults()
	m.ID = 1
	m.Base, m.Quote = "BTC", "USDT"
	m.MinOrderAmount = d("0.001")
	fees := NewFeeCalculator(&m, &Currency{Symbol: "BTC", Decimals: 8}, &Currency{Symbol: "USDT", Decimals: 6})
	return &m, fees
}

func limitOrder(id, seq int64, side Side, price, amount string) *Order {
	return &Order{
		ID: id, UserID: id, MarketID: 1, Seq: seq,
		Type: OrderTypeLimit, Side: side, TimeInForce: GTC,
		Amount: d(amount), Price: dp(price), Status: OrderStatusOpen,
	}
}

func marketOrder(id, seq int64, side Side, amount string) *Order {
	return &Order{
		ID: id, UserID: id, MarketID: 1, Seq: seq,
		Type: OrderTypeMarket, Side: side, TimeInForce: GTC,
		Amount: d(amount), Status: OrderStatusOpen,
	}
}

func TestPlan_MarketSellAgainstRestingBuy(t *testing.T) {
	_, fees := btcUSDT()
	book := NewOrderBook(1)
	book.Rest(limitOrder(1, 1, SideBuy, "50000", "1.0"))

	plan, err := book.Plan(marketOrder(2, 2, SideSell, "0.5"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)

	require.Len(t, plan.Trades, 2)
	assert.Equal(t, plan.Trades[0].MatchID, plan.Trades[1].MatchID)
	for _, tr := range plan.Trades {
		assert.True(t, tr.Amount.Equal(d("0.5")))
		assert.True(t, tr.Price.Equal(d("50000")))
	}
	assert.Equal(t, OrderStatusFilled, plan.Taker.Status)
	require.Len(t, plan.Makers, 1)
	assert.Equal(t, OrderStatusPartiallyFilled, plan.Makers[0].Status)
	assert.True(t, plan.Makers[0].FilledAmount.Equal(d("0.5")))

	// 计划不修改订单簿
	resting, _ := book.Get(1)
	assert.True(t, resting.FilledAmount.IsZero())

	book.Apply(plan)
	resting, ok := book.Get(1)
	require.True(t, ok)
	assert.True(t, resting.Remaining().Equal(d("0.5")))
	last, ok := book.LastPrice()
	require.True(t, ok)
	assert.True(t, last.Equal(d("50000")))
}

func TestPlan_FeesByRole(t *testing.T) {
	_, fees := btcUSDT()
	book := NewOrderBook(1)
	book.Rest(limitOrder(1, 1, SideSell, "100", "2"))

	plan, err := book.Plan(limitOrder(2, 2, SideBuy, "100", "2"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)
	require.Len(t, plan.Trades, 2)

	taker, maker := plan.Trades[0], plan.Trades[1]
	assert.False(t, taker.IsMaker)
	assert.True(t, maker.IsMaker)
	assert.True(t, taker.Fee.Equal(d("0.4")), taker.Fee.String())
	assert.True(t, maker.Fee.Equal(d("0.2")), maker.Fee.String())
	assert.Equal(t, "USDT", taker.FeeCurrency)
}

func TestPlan_ReceivedFeeConvention(t *testing.T) {
	m, _ := btcUSDT()
	m.FeeConvention = FeeInReceived
	fees := NewFeeCalculator(m, &Currency{Symbol: "BTC", Decimals: 8}, &Currency{Symbol: "USDT", Decimals: 2})
	book := NewOrderBook(1)
	book.Rest(limitOrder(1, 1, SideSell, "33.33", "0.3"))

	plan, err := book.Plan(limitOrder(2, 2, SideBuy, "33.33", "0.3"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)

	buyer, seller := plan.Trades[0], plan.Trades[1]
	assert.Equal(t, "BTC", buyer.FeeCurrency)
	assert.True(t, buyer.Fee.Equal(d("0.0006")), buyer.Fee.String())
	assert.Equal(t, "USDT", seller.FeeCurrency)
	// 33.33 * 0.3 * 0.001 = 0.009999，向上取整到 2 位
	assert.True(t, seller.Fee.Equal(d("0.01")), seller.Fee.String())
}

func TestPlan_FIFOAtEqualPrice(t *testing.T) {
	_, fees := btcUSDT()
	book := NewOrderBook(1)
	book.Rest(limitOrder(3, 30, SideSell, "100", "1"))
	book.Rest(limitOrder(1, 10, SideSell, "100", "1"))
	book.Rest(limitOrder(2, 20, SideSell, "100", "1"))
	book.Rest(limitOrder(4, 5, SideSell, "101", "1"))

	plan, err := book.Plan(limitOrder(9, 99, SideBuy, "100", "2.5"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)

	var makers []int64
	for _, m := range plan.Makers {
		makers = append(makers, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, makers)
	assert.Equal(t, OrderStatusPartiallyFilled, plan.Makers[2].Status)
	assert.Equal(t, OrderStatusFilled, plan.Taker.Status)
}

func TestPlan_TimeInForce(t *testing.T) {
	_, fees := btcUSDT()
	newBook := func() *OrderBook {
		b := NewOrderBook(1)
		b.Rest(limitOrder(1, 1, SideSell, "100", "1"))
		b.Rest(limitOrder(2, 2, SideSell, "102", "1"))
		return b
	}

	tests := []struct {
		name       string
		tif        TimeInForce
		wantStatus OrderStatus
		wantFilled string
		wantRest   bool
	}{
		{"GTC rests remainder", GTC, OrderStatusPartiallyFilled, "1", true},
		{"IOC cancels remainder", IOC, OrderStatusCancelled, "1", false},
		{"FOK cancels without fills", FOK, OrderStatusCancelled, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := limitOrder(9, 9, SideBuy, "101", "2")
			o.TimeInForce = tt.tif
			plan, err := newBook().Plan(o, fees, &seqIDs{}, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, plan.Taker.Status)
			assert.True(t, plan.Taker.FilledAmount.Equal(d(tt.wantFilled)))
			assert.Equal(t, tt.wantRest, plan.Rest)
		})
	}

	t.Run("FOK fills when liquidity suffices", func(t *testing.T) {
		o := limitOrder(9, 9, SideBuy, "102", "2")
		o.TimeInForce = FOK
		plan, err := newBook().Plan(o, fees, &seqIDs{}, testNow)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusFilled, plan.Taker.Status)
		assert.Len(t, plan.Trades, 4)
	})
}

func TestPlan_MarketOrderExpiresRemainder(t *testing.T) {
	_, fees := btcUSDT()
	book := NewOrderBook(1)
	book.Rest(limitOrder(1, 1, SideBuy, "100", "0.4"))

	plan, err := book.Plan(marketOrder(2, 2, SideSell, "1"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusExpired, plan.Taker.Status)
	assert.True(t, plan.Taker.FilledAmount.Equal(d("0.4")))

	empty := NewOrderBook(1)
	plan, err = empty.Plan(marketOrder(3, 3, SideSell, "1"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusExpired, plan.Taker.Status)
	assert.Empty(t, plan.Trades)
}

func TestPlan_AveragePrice(t *testing.T) {
	_, fees := btcUSDT()
	book := NewOrderBook(1)
	book.Rest(limitOrder(1, 1, SideSell, "100", "1"))
	book.Rest(limitOrder(2, 2, SideSell, "103", "2"))

	plan, err := book.Plan(marketOrder(3, 3, SideBuy, "3"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)
	require.NotNil(t, plan.Taker.AvgFillPrice)
	assert.True(t, plan.Taker.AvgFillPrice.Equal(d("102")), plan.Taker.AvgFillPrice.String())
}

func TestPlanHouseFill(t *testing.T) {
	_, fees := btcUSDT()
	o := limitOrder(1, 1, SideBuy, "100", "2")
	require.NoError(t, o.ApplyFill(d("100"), d("0.5"), decimal.Zero, "USDT", testNow))

	plan, err := PlanHouseFill(o, d("99"), fees, &seqIDs{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, plan.Taker.Status)
	require.Len(t, plan.Trades, 1)
	assert.True(t, plan.Trades[0].Amount.Equal(d("1.5")))
}

func TestBookDepthAggregates(t *testing.T) {
	book := NewOrderBook(1)
	book.Rest(limitOrder(1, 1, SideBuy, "100", "1"))
	book.Rest(limitOrder(2, 2, SideBuy, "100", "2"))
	book.Rest(limitOrder(3, 3, SideBuy, "99", "1"))
	book.Rest(limitOrder(4, 4, SideSell, "105", "1"))

	depth := book.Depth(1)
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Price.Equal(d("100")))
	assert.True(t, depth.Bids[0].Amount.Equal(d("3")))
	assert.Equal(t, 2, depth.Bids[0].Count)
	require.Len(t, depth.Asks, 1)

	assert.NotNil(t, book.Remove(2))
	assert.Nil(t, book.Remove(2))
	assert.True(t, book.Depth(5).Bids[0].Amount.Equal(d("1")))
}

// 任意挂单序列下：成交量不超过订单数量，成交记录之和等于成交量，盘口不交叉
func TestProperty_FillAccounting(t *testing.T) {
	_, fees := btcUSDT()
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook(1)
		ids := &seqIDs{}
		filled := map[int64]decimal.Decimal{}
		orders := map[int64]*Order{}

		n := rapid.IntRange(1, 40).Draw(t, "n")
		for i := 1; i <= n; i++ {
			side := rapid.SampledFrom([]Side{SideBuy, SideSell}).Draw(t, "side")
			amount := decimal.NewFromInt(rapid.Int64Range(1, 50).Draw(t, "amount")).Shift(-1)
			var o *Order
			if rapid.IntRange(0, 4).Draw(t, "kind") == 0 {
				o = marketOrder(int64(i), int64(i), side, amount.String())
			} else {
				price := decimal.NewFromInt(rapid.Int64Range(95, 105).Draw(t, "price"))
				o = limitOrder(int64(i), int64(i), side, price.String(), amount.String())
				o.TimeInForce = rapid.SampledFrom([]TimeInForce{GTC, IOC, FOK}).Draw(t, "tif")
			}
			plan, err := book.Plan(o, fees, ids, testNow)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			for _, tr := range plan.Trades {
				filled[tr.OrderID] = filled[tr.OrderID].Add(tr.Amount)
			}
			for _, po := range plan.Orders() {
				orders[po.ID] = po
			}
			book.Apply(plan)

			if bid, ok := book.Best(SideBuy); ok {
				if ask, ok := book.Best(SideSell); ok && bid.Price.GreaterThanOrEqual(*ask.Price) {
					t.Fatalf("book crossed: bid %s >= ask %s", bid.Price, ask.Price)
				}
			}
		}

		for id, o := range orders {
			if o.FilledAmount.GreaterThan(o.Amount) {
				t.Fatalf("order %d overfilled: %s > %s", id, o.FilledAmount, o.Amount)
			}
			if !filled[id].Equal(o.FilledAmount) {
				t.Fatalf("order %d trades sum %s != filled %s", id, filled[id], o.FilledAmount)
			}
		}
	})
}
