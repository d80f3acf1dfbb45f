package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var mmr = d("0.005")

func TestPosition_RoundTripAtSamePrice(t *testing.T) {
	calc := NewPnLCalculator(6)
	p := OpenPosition(1, 7, 1, PositionLong, d("50000"), d("2"), 10, mmr, calc, testNow)
	assert.True(t, p.Margin.Equal(d("10000")))
	assert.True(t, p.MaintenanceMargin.Equal(d("500")))

	realized, err := p.Reduce(d("50000"), d("2"), mmr, calc, testNow)
	require.NoError(t, err)
	assert.True(t, realized.IsZero())
	assert.True(t, p.RealizedPNL.IsZero())
	assert.Equal(t, PositionClosed, p.Status)
	require.NotNil(t, p.ClosePrice)
	assert.True(t, p.ClosePrice.Equal(d("50000")))
	assert.NotNil(t, p.ClosedAt)
}

func TestPosition_IncreaseAndReduce(t *testing.T) {
	calc := NewPnLCalculator(6)
	p := OpenPosition(1, 7, 1, PositionShort, d("100"), d("1"), 5, mmr, calc, testNow)
	require.NoError(t, p.Increase(d("110"), d("1"), mmr, calc, testNow))
	assert.True(t, p.EntryPrice.Equal(d("105")))
	assert.True(t, p.Margin.Equal(d("42")), p.Margin.String())

	realized, err := p.Reduce(d("95"), d("0.5"), mmr, calc, testNow)
	require.NoError(t, err)
	assert.True(t, realized.Equal(d("5")), realized.String())
	assert.True(t, p.Margin.Equal(d("31.5")), p.Margin.String())
	assert.Equal(t, PositionOpen, p.Status)

	_, err = p.Reduce(d("95"), d("2"), mmr, calc, testNow)
	assert.ErrorIs(t, err, ErrPositionFlip)
}

func TestPosition_LiquidationPrice(t *testing.T) {
	calc := NewPnLCalculator(6)
	long := OpenPosition(1, 7, 1, PositionLong, d("100"), d("1"), 10, mmr, calc, testNow)
	// margin 10, maintenance 0.5 → 100 - 9.5
	assert.True(t, long.LiquidationPrice.Equal(d("90.5")), long.LiquidationPrice.String())
	assert.False(t, long.IsLiquidatable(d("90.5"), calc))
	assert.True(t, long.IsLiquidatable(d("90.49"), calc))

	short := OpenPosition(2, 7, 1, PositionShort, d("100"), d("1"), 10, mmr, calc, testNow)
	assert.True(t, short.LiquidationPrice.Equal(d("109.5")))
	assert.True(t, short.IsLiquidatable(d("109.51"), calc))

	safe := OpenPosition(3, 7, 1, PositionLong, d("100"), d("1"), 1, mmr, calc, testNow)
	assert.True(t, safe.LiquidationPrice.Equal(d("0.5")))
}

func TestPosition_FundingLongPaysShortReceives(t *testing.T) {
	calc := NewPnLCalculator(6)
	long := OpenPosition(1, 7, 1, PositionLong, d("100"), d("2"), 10, mmr, calc, testNow)
	short := OpenPosition(2, 8, 1, PositionShort, d("100"), d("2"), 10, mmr, calc, testNow)

	paid, err := long.ApplyFunding(d("0.01"), d("100"), mmr, calc, testNow)
	require.NoError(t, err)
	received, err := short.ApplyFunding(d("0.01"), d("100"), mmr, calc, testNow)
	require.NoError(t, err)

	assert.True(t, paid.Equal(d("2")))
	assert.True(t, received.Equal(d("-2")))
	assert.True(t, long.RealizedPNL.Equal(d("-2")))
	assert.True(t, short.RealizedPNL.Equal(d("2")))
	assert.True(t, long.Margin.Equal(d("18")))
	assert.True(t, short.Margin.Equal(d("22")))
	assert.True(t, long.FundingRate.Equal(d("0.01")))
	require.NotNil(t, long.LastFundingTime)
}

func TestOrder_TriggerDirections(t *testing.T) {
	tests := []struct {
		typ     OrderType
		side    Side
		last    string
		trigger bool
	}{
		{OrderTypeStopMarket, SideBuy, "101", true},
		{OrderTypeStopMarket, SideBuy, "99", false},
		{OrderTypeStopLimit, SideSell, "99", true},
		{OrderTypeStopLimit, SideSell, "101", false},
		{OrderTypeTakeProfitMarket, SideBuy, "99", true},
		{OrderTypeTakeProfitMarket, SideBuy, "101", false},
		{OrderTypeTakeProfitLimit, SideSell, "101", true},
		{OrderTypeTakeProfitLimit, SideSell, "100", true},
	}
	for _, tt := range tests {
		o := &Order{Type: tt.typ, Side: tt.side, StopPrice: dp("100"), Status: OrderStatusOpen}
		assert.Equal(t, tt.trigger, o.ShouldTrigger(d(tt.last)), "%s %s @%s", tt.typ, tt.side, tt.last)
	}

	o := &Order{Type: OrderTypeStopMarket, Side: SideBuy, StopPrice: dp("100"), Status: OrderStatusOpen}
	assert.True(t, o.Trigger(testNow))
	assert.False(t, o.Trigger(testNow))
	assert.False(t, o.ShouldTrigger(d("200")))
	assert.Equal(t, OrderTypeMarket, o.EffectiveType())
	assert.Equal(t, OrderTypeStopMarket, o.Type)
}

func TestOrder_TerminalStatesAbsorb(t *testing.T) {
	o := limitOrder(1, 1, SideBuy, "100", "1")
	require.NoError(t, o.Cancel(testNow))
	assert.ErrorIs(t, o.Cancel(testNow), ErrOrderTerminal)
	assert.ErrorIs(t, o.Expire(testNow), ErrOrderTerminal)
	assert.ErrorIs(t, o.ApplyFill(d("100"), d("1"), decimal.Zero, "", testNow), ErrOrderTerminal)
	assert.Equal(t, ReasonOrderTerminal, ReasonOf(o.Cancel(testNow)))
}

// 价格对多头越低、对空头越高，只会更接近强平
func TestProperty_LiquidationMonotonicity(t *testing.T) {
	calc := NewPnLCalculator(6)
	rapid.Check(t, func(t *rapid.T) {
		side := rapid.SampledFrom([]PositionSide{PositionLong, PositionShort}).Draw(t, "side")
		entry := decimal.NewFromInt(rapid.Int64Range(1, 100000).Draw(t, "entry"))
		amount := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "amount")).Shift(-2)
		lev := int32(rapid.IntRange(1, 100).Draw(t, "lev"))
		p := OpenPosition(1, 1, 1, side, entry, amount, lev, mmr, calc, testNow)

		a := decimal.NewFromInt(rapid.Int64Range(0, 200000).Draw(t, "a"))
		b := decimal.NewFromInt(rapid.Int64Range(0, 200000).Draw(t, "b"))
		worse, better := a, b
		if (side == PositionLong && a.GreaterThan(b)) || (side == PositionShort && a.LessThan(b)) {
			worse, better = b, a
		}
		if p.IsLiquidatable(better, calc) && !p.IsLiquidatable(worse, calc) {
			t.Fatalf("liquidatable at %s but not at worse price %s", better, worse)
		}
		if p.Equity(worse, calc).GreaterThan(p.Equity(better, calc)) {
			t.Fatalf("equity increased moving from %s to %s", better, worse)
		}
	})
}

func TestPosition_IncreaseKeepsPositionLeverage(t *testing.T) {
	calc := NewPnLCalculator(6)
	p := OpenPosition(1, 7, 1, PositionLong, d("100"), d("1"), 10, mmr, calc, testNow)
	require.NoError(t, p.Increase(d("100"), d("1"), mmr, calc, testNow))
	assert.Equal(t, int32(10), p.Leverage)
	assert.True(t, p.Margin.Equal(d("20")), p.Margin.String())
	assert.True(t, p.InitialMargin.Equal(d("20")))
}

func TestOrder_Shrink(t *testing.T) {
	o := limitOrder(1, 1, SideSell, "100", "3")
	require.NoError(t, o.ApplyFill(d("100"), d("1"), decimal.Zero, "", testNow))

	require.NoError(t, o.Shrink(d("5"), testNow))
	assert.True(t, o.Amount.Equal(d("3")), "never grows")

	require.NoError(t, o.Shrink(d("1"), testNow))
	assert.True(t, o.Amount.Equal(d("2")))
	assert.True(t, o.Remaining().Equal(d("1")))
	assert.Equal(t, OrderStatusPartiallyFilled, o.Status)

	require.NoError(t, o.Shrink(decimal.Zero, testNow))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.ErrorIs(t, o.Shrink(d("1"), testNow), ErrOrderTerminal)
}
