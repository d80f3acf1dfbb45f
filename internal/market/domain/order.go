package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AvgPricePlaces 成交均价保留的小数位
const AvgPricePlaces int32 = 8

type OrderType string

const (
	OrderTypeMarket           OrderType = "market"
	OrderTypeLimit            OrderType = "limit"
	OrderTypeStopLimit        OrderType = "stop_limit"
	OrderTypeStopMarket       OrderType = "stop_market"
	OrderTypeTakeProfitLimit  OrderType = "take_profit_limit"
	OrderTypeTakeProfitMarket OrderType = "take_profit_market"
)

// Valid 判断是否为已知类型
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLimit, OrderTypeStopMarket,
		OrderTypeTakeProfitLimit, OrderTypeTakeProfitMarket:
		return true
	}
	return false
}

// NeedsPrice 是否必须携带限价
func (t OrderType) NeedsPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit || t == OrderTypeTakeProfitLimit
}

// IsStop 止损类
func (t OrderType) IsStop() bool {
	return t == OrderTypeStopLimit || t == OrderTypeStopMarket
}

// IsTakeProfit 止盈类
func (t OrderType) IsTakeProfit() bool {
	return t == OrderTypeTakeProfitLimit || t == OrderTypeTakeProfitMarket
}

// IsConditional 需要触发价的条件单
func (t OrderType) IsConditional() bool {
	return t.IsStop() || t.IsTakeProfit()
}

// Effective 触发后实际参与撮合的类型
func (t OrderType) Effective() OrderType {
	if t.NeedsPrice() {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal 终态不可再变更
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

func (t TimeInForce) Valid() bool { return t == GTC || t == IOC || t == FOK }

// Order 订单，仅由撮合引擎与撤单修改
type Order struct {
	ID            int64
	UserID        int64
	MarketID      int64
	Type          OrderType
	Side          Side
	Amount        decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	FilledAmount  decimal.Decimal
	AvgFillPrice  *decimal.Decimal
	Status        OrderStatus
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClosePosition bool
	Leverage      int32
	ClientOrderID string
	Fee           decimal.Decimal
	FeeCurrency   string
	TriggeredAt   *time.Time
	Seq           int64
	Audit
}

// Remaining 未成交数量
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

func (o *Order) IsTerminal() bool { return o.Status.IsTerminal() }

// EffectiveType 当前参与撮合的类型，未触发的条件单保持原类型
func (o *Order) EffectiveType() OrderType {
	if o.Type.IsConditional() && o.TriggeredAt == nil {
		return o.Type
	}
	return o.Type.Effective()
}

// Dormant 未触发的条件单
func (o *Order) Dormant() bool {
	return o.Type.IsConditional() && o.TriggeredAt == nil && !o.IsTerminal()
}

// ShouldTrigger 根据最新成交价判断是否触发
func (o *Order) ShouldTrigger(last decimal.Decimal) bool {
	if !o.Dormant() || o.StopPrice == nil {
		return false
	}
	stop := *o.StopPrice
	rising := (o.Type.IsStop() && o.Side == SideBuy) || (o.Type.IsTakeProfit() && o.Side == SideSell)
	if rising {
		return last.GreaterThanOrEqual(stop)
	}
	return last.LessThanOrEqual(stop)
}

// Trigger 条件单转换为实际类型，仅生效一次
func (o *Order) Trigger(now time.Time) bool {
	if !o.Dormant() {
		return false
	}
	o.TriggeredAt = &now
	o.UpdatedAt = now
	return true
}

// ApplyFill 记录一笔成交，更新成交量、均价、手续费与状态
func (o *Order) ApplyFill(price, amount, fee decimal.Decimal, feeCurrency string, now time.Time) error {
	if o.IsTerminal() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderTerminal, o.ID, o.Status)
	}
	if !amount.IsPositive() || amount.GreaterThan(o.Remaining()) {
		return fmt.Errorf("%w: fill %s exceeds remaining %s of order %d", ErrInvariantViolation, amount, o.Remaining(), o.ID)
	}

	filled := o.FilledAmount.Add(amount)
	notional := price.Mul(amount)
	if o.AvgFillPrice != nil {
		notional = notional.Add(o.AvgFillPrice.Mul(o.FilledAmount))
	}
	avg := notional.DivRound(filled, AvgPricePlaces)

	o.FilledAmount = filled
	o.AvgFillPrice = &avg
	o.Fee = o.Fee.Add(fee)
	if feeCurrency != "" {
		o.FeeCurrency = feeCurrency
	}
	if o.Remaining().IsZero() {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) finish(status OrderStatus, now time.Time) error {
	if o.IsTerminal() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderTerminal, o.ID, o.Status)
	}
	o.Status = status
	o.UpdatedAt = now
	return nil
}

// Cancel 撤销剩余部分
func (o *Order) Cancel(now time.Time) error { return o.finish(OrderStatusCancelled, now) }

// Expire 市价单剩余部分无对手盘
func (o *Order) Expire(now time.Time) error { return o.finish(OrderStatusExpired, now) }

// Reject 触发后校验失败
func (o *Order) Reject(now time.Time) error { return o.finish(OrderStatusRejected, now) }

// IsRestricted 只减仓或全平单，成交不得超过反向持仓
func (o *Order) IsRestricted() bool { return o.ReduceOnly || o.ClosePosition }

// Shrink 将未成交数量下调到 remaining，不为正时撤单；不会调大
func (o *Order) Shrink(remaining decimal.Decimal, now time.Time) error {
	if o.IsTerminal() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderTerminal, o.ID, o.Status)
	}
	if !remaining.IsPositive() {
		return o.Cancel(now)
	}
	if remaining.GreaterThanOrEqual(o.Remaining()) {
		return nil
	}
	o.Amount = o.FilledAmount.Add(remaining)
	o.UpdatedAt = now
	return nil
}

// Clone 深拷贝，撮合计划基于副本计算
func (o *Order) Clone() *Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.StopPrice != nil {
		p := *o.StopPrice
		c.StopPrice = &p
	}
	if o.AvgFillPrice != nil {
		p := *o.AvgFillPrice
		c.AvgFillPrice = &p
	}
	if o.TriggeredAt != nil {
		t := *o.TriggeredAt
		c.TriggeredAt = &t
	}
	if o.DeletedAt != nil {
		t := *o.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Trade 成交记录，只追加不修改
type Trade struct {
	ID          int64
	MatchID     int64
	OrderID     int64
	MarketID    int64
	UserID      int64
	Side        Side
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	IsMaker     bool
	Audit
}

// Notional 成交额
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Amount)
}
