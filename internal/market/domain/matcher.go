package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IDGenerator 全局唯一 ID 生成
type IDGenerator interface {
	NextID() int64
}

// MatchPlan 一次撮合的完整结果，持久化成功后才应用到订单簿
type MatchPlan struct {
	Taker  *Order
	Makers []*Order
	Trades []*Trade
	// Rest 为 true 时 Taker 剩余部分挂入盘口
	Rest bool
}

// LastPrice 本次撮合的最后成交价
func (p *MatchPlan) LastPrice() (decimal.Decimal, bool) {
	if len(p.Trades) == 0 {
		return decimal.Zero, false
	}
	return p.Trades[len(p.Trades)-1].Price, true
}

// Orders 本次撮合涉及的全部订单
func (p *MatchPlan) Orders() []*Order {
	out := make([]*Order, 0, len(p.Makers)+1)
	out = append(out, p.Taker)
	return append(out, p.Makers...)
}

func crosses(taker *Order, resting decimal.Decimal) bool {
	if taker.EffectiveType() == OrderTypeMarket {
		return true
	}
	if taker.Side == SideBuy {
		return taker.Price.GreaterThanOrEqual(resting)
	}
	return taker.Price.LessThanOrEqual(resting)
}

// fillable 对手盘在 taker 限价内可成交的数量，达到 target 即停止
func (b *OrderBook) fillable(taker *Order, target decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	b.Resting(taker.Side.Opposite(), func(o *Order) bool {
		if !crosses(taker, *o.Price) {
			return false
		}
		total = total.Add(o.Remaining())
		return total.LessThan(target)
	})
	return total
}

// Crossing 按撮合顺序遍历与 taker 价格相交的对手挂单，fn 返回 false 停止
func (b *OrderBook) Crossing(taker *Order, fn func(*Order) bool) {
	b.Resting(taker.Side.Opposite(), func(o *Order) bool {
		if !crosses(taker, *o.Price) {
			return false
		}
		return fn(o)
	})
}

// Plan 计算 taker 与盘口的撮合结果，不修改订单簿与入参
func (b *OrderBook) Plan(in *Order, fees FeeCalculator, ids IDGenerator, now time.Time) (*MatchPlan, error) {
	taker := in.Clone()
	plan := &MatchPlan{Taker: taker}
	if taker.IsTerminal() {
		return nil, ErrOrderTerminal
	}

	if taker.TimeInForce == FOK && b.fillable(taker, taker.Remaining()).LessThan(taker.Remaining()) {
		if err := taker.Cancel(now); err != nil {
			return nil, err
		}
		return plan, nil
	}

	var matchErr error
	b.Resting(taker.Side.Opposite(), func(resting *Order) bool {
		remaining := taker.Remaining()
		if !remaining.IsPositive() || !crosses(taker, *resting.Price) {
			return false
		}
		maker := resting.Clone()
		qty := decimal.Min(remaining, maker.Remaining())
		price := *maker.Price

		makerFee, makerCur := fees.Compute(maker.Side, true, price, qty)
		takerFee, takerCur := fees.Compute(taker.Side, false, price, qty)
		if matchErr = maker.ApplyFill(price, qty, makerFee, makerCur, now); matchErr != nil {
			return false
		}
		if matchErr = taker.ApplyFill(price, qty, takerFee, takerCur, now); matchErr != nil {
			return false
		}

		matchID := ids.NextID()
		plan.Makers = append(plan.Makers, maker)
		plan.Trades = append(plan.Trades,
			newTrade(ids.NextID(), matchID, taker, price, qty, takerFee, takerCur, false, now),
			newTrade(ids.NextID(), matchID, maker, price, qty, makerFee, makerCur, true, now),
		)
		return true
	})
	if matchErr != nil {
		return nil, matchErr
	}

	if taker.Remaining().IsPositive() {
		var err error
		switch {
		case taker.EffectiveType() == OrderTypeMarket:
			err = taker.Expire(now)
		case taker.TimeInForce == GTC:
			plan.Rest = true
		default:
			err = taker.Cancel(now)
		}
		if err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// PlanHouseFill 以指定价格由平台对手方成交剩余数量，按 taker 费率计费
func PlanHouseFill(in *Order, price decimal.Decimal, fees FeeCalculator, ids IDGenerator, now time.Time) (*MatchPlan, error) {
	taker := in.Clone()
	qty := taker.Remaining()
	fee, cur := fees.Compute(taker.Side, false, price, qty)
	if err := taker.ApplyFill(price, qty, fee, cur, now); err != nil {
		return nil, err
	}
	return &MatchPlan{
		Taker:  taker,
		Trades: []*Trade{newTrade(ids.NextID(), ids.NextID(), taker, price, qty, fee, cur, false, now)},
	}, nil
}

// Apply 将已持久化的撮合结果应用到订单簿
func (b *OrderBook) Apply(p *MatchPlan) {
	for _, maker := range p.Makers {
		b.Remove(maker.ID)
		if !maker.IsTerminal() {
			b.Rest(maker)
		}
	}
	b.Remove(p.Taker.ID)
	if p.Rest {
		b.Rest(p.Taker)
	}
	if last, ok := p.LastPrice(); ok {
		b.SetLastPrice(last)
	}
}

func newTrade(id, matchID int64, o *Order, price, amount, fee decimal.Decimal, feeCur string, maker bool, now time.Time) *Trade {
	t := &Trade{
		ID:          id,
		MatchID:     matchID,
		OrderID:     o.ID,
		MarketID:    o.MarketID,
		UserID:      o.UserID,
		Side:        o.Side,
		Price:       price,
		Amount:      amount,
		Fee:         fee,
		FeeCurrency: feeCur,
		IsMaker:     maker,
	}
	t.Stamp(now)
	return t
}
