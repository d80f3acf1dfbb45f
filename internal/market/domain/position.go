package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

var (
	one    = decimal.NewFromInt(1)
	negOne = decimal.NewFromInt(-1)
)

// Sign 多头为 1，空头为 -1
func (s PositionSide) Sign() decimal.Decimal {
	if s == PositionShort {
		return negOne
	}
	return one
}

// PositionSideOf 成交方向对应的开仓方向
func PositionSideOf(s Side) PositionSide {
	if s == SideSell {
		return PositionShort
	}
	return PositionLong
}

// ReducingSide 减仓所需的订单方向
func (s PositionSide) ReducingSide() Side {
	if s == PositionShort {
		return SideBuy
	}
	return SideSell
}

type PositionStatus string

const (
	PositionOpen       PositionStatus = "open"
	PositionClosed     PositionStatus = "closed"
	PositionLiquidated PositionStatus = "liquidated"
)

// Position 永续合约持仓，单向持仓模式下每个 (user, market) 至多一个 OPEN 持仓
type Position struct {
	ID                int64
	UserID            int64
	MarketID          int64
	Side              PositionSide
	Amount            decimal.Decimal
	EntryPrice        decimal.Decimal
	Leverage          int32
	LiquidationPrice  decimal.Decimal
	Margin            decimal.Decimal
	InitialMargin     decimal.Decimal
	MaintenanceMargin decimal.Decimal
	MarkPrice         decimal.Decimal
	UnrealizedPNL     decimal.Decimal
	RealizedPNL       decimal.Decimal
	FundingRate       decimal.Decimal
	LastFundingTime   *time.Time
	Status            PositionStatus
	ClosePrice        *decimal.Decimal
	ClosedAt          *time.Time
	Audit
}

// OpenPosition 以首笔成交开仓
func OpenPosition(id, userID, marketID int64, side PositionSide, price, amount decimal.Decimal, leverage int32, mmr decimal.Decimal, calc PnLCalculator, now time.Time) *Position {
	if leverage < 1 {
		leverage = 1
	}
	margin := calc.InitialMargin(price, amount, leverage)
	p := &Position{
		ID:            id,
		UserID:        userID,
		MarketID:      marketID,
		Side:          side,
		Amount:        amount,
		EntryPrice:    price,
		Leverage:      leverage,
		Margin:        margin,
		InitialMargin: margin,
		MarkPrice:     price,
		Status:        PositionOpen,
	}
	p.refresh(mmr, calc)
	p.Stamp(now)
	return p
}

func (p *Position) IsOpen() bool { return p.Status == PositionOpen }

// Notional 以 price 计的名义价值
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Amount.Mul(price)
}

// Increase 同向加仓，开仓价按数量加权
// 新增保证金始终按持仓自身杠杆计算，加仓订单的杠杆只在开仓时生效
func (p *Position) Increase(price, amount, mmr decimal.Decimal, calc PnLCalculator, now time.Time) error {
	if !p.IsOpen() {
		return ErrPositionNotOpen
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: increase amount %s", ErrInvariantViolation, amount)
	}
	added := calc.InitialMargin(price, amount, p.Leverage)
	p.EntryPrice = calc.AveragePrice(p.Amount, p.EntryPrice, amount, price)
	p.Amount = p.Amount.Add(amount)
	p.Margin = p.Margin.Add(added)
	p.InitialMargin = p.InitialMargin.Add(added)
	p.refresh(mmr, calc)
	p.Stamp(now)
	return nil
}

// Reduce 反向减仓，返回本次已实现盈亏；数量归零时转为 CLOSED
func (p *Position) Reduce(price, amount, mmr decimal.Decimal, calc PnLCalculator, now time.Time) (decimal.Decimal, error) {
	if !p.IsOpen() {
		return decimal.Zero, ErrPositionNotOpen
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: reduce amount %s", ErrInvariantViolation, amount)
	}
	if amount.GreaterThan(p.Amount) {
		return decimal.Zero, ErrPositionFlip
	}

	realized := calc.Realized(p.Side, p.EntryPrice, price, amount)
	releasedMargin := calc.ProRata(p.Margin, amount, p.Amount)
	releasedInitial := calc.ProRata(p.InitialMargin, amount, p.Amount)

	p.RealizedPNL = p.RealizedPNL.Add(realized)
	p.Margin = p.Margin.Sub(releasedMargin)
	p.InitialMargin = p.InitialMargin.Sub(releasedInitial)
	p.Amount = p.Amount.Sub(amount)
	p.Stamp(now)

	if p.Amount.IsZero() {
		p.close(PositionClosed, price, now)
		return realized, nil
	}
	p.refresh(mmr, calc)
	return realized, nil
}

func (p *Position) close(status PositionStatus, price decimal.Decimal, now time.Time) {
	cp := price
	p.Status = status
	p.ClosePrice = &cp
	p.ClosedAt = &now
	p.Margin = decimal.Zero
	p.InitialMargin = decimal.Zero
	p.MaintenanceMargin = decimal.Zero
	p.UnrealizedPNL = decimal.Zero
	p.LiquidationPrice = decimal.Zero
	p.MarkPrice = price
}

// MarkLiquidated 强平后状态，已平完时转为 LIQUIDATED
func (p *Position) MarkLiquidated(price decimal.Decimal, now time.Time) {
	if p.Amount.IsZero() {
		p.close(PositionLiquidated, price, now)
	}
}

// MarkToMarket 以标记价格重算未实现盈亏
func (p *Position) MarkToMarket(mark decimal.Decimal, calc PnLCalculator, now time.Time) {
	if !p.IsOpen() {
		return
	}
	p.MarkPrice = mark
	p.UnrealizedPNL = calc.Unrealized(p.Side, p.EntryPrice, mark, p.Amount)
	p.Stamp(now)
}

// Equity 保证金加上 mark 价格下的未实现盈亏
func (p *Position) Equity(mark decimal.Decimal, calc PnLCalculator) decimal.Decimal {
	return p.Margin.Add(calc.Unrealized(p.Side, p.EntryPrice, mark, p.Amount))
}

// IsLiquidatable margin + unrealized(mark) < maintenance
func (p *Position) IsLiquidatable(mark decimal.Decimal, calc PnLCalculator) bool {
	return p.IsOpen() && p.Equity(mark, calc).LessThan(p.MaintenanceMargin)
}

// ApplyFunding 结算资金费，正值表示本持仓支付，计入已实现盈亏与保证金
func (p *Position) ApplyFunding(rate, mark, mmr decimal.Decimal, calc PnLCalculator, now time.Time) (decimal.Decimal, error) {
	if !p.IsOpen() {
		return decimal.Zero, ErrPositionNotOpen
	}
	payment := calc.FundingPayment(p.Side, p.Amount, mark, rate)
	p.RealizedPNL = p.RealizedPNL.Sub(payment)
	p.Margin = p.Margin.Sub(payment)
	p.FundingRate = rate
	p.LastFundingTime = &now
	p.refresh(mmr, calc)
	p.MarkToMarket(mark, calc, now)
	return payment, nil
}

func (p *Position) refresh(mmr decimal.Decimal, calc PnLCalculator) {
	p.MaintenanceMargin = calc.MaintenanceMargin(mmr, p.Amount, p.EntryPrice)
	p.LiquidationPrice = calc.LiquidationPrice(p.Side, p.EntryPrice, p.Amount, p.Margin, p.MaintenanceMargin)
	p.UnrealizedPNL = calc.Unrealized(p.Side, p.EntryPrice, p.MarkPrice, p.Amount)
}

// Clone 深拷贝
func (p *Position) Clone() *Position {
	c := *p
	if p.LastFundingTime != nil {
		t := *p.LastFundingTime
		c.LastFundingTime = &t
	}
	if p.ClosePrice != nil {
		d := *p.ClosePrice
		c.ClosePrice = &d
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// FundingRate 资金费率快照，只追加
type FundingRate struct {
	ID              int64
	MarketID        int64
	Rate            decimal.Decimal
	MarkPrice       decimal.Decimal
	NextFundingTime time.Time
	Audit
}

// Liquidation 强平记录，只追加
type Liquidation struct {
	ID          int64
	PositionID  int64
	MarketID    int64
	UserID      int64
	Price       decimal.Decimal
	Amount      decimal.Decimal
	RealizedPNL decimal.Decimal
	Fee         decimal.Decimal
	Forced      bool
	Audit
}
