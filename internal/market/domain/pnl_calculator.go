package domain

import "github.com/shopspring/decimal"

// PnLCalculator 盈亏、保证金与强平价计算
// 盈亏与保证金按计价币精度银行家舍入，均价保留 AvgPricePlaces 位
type PnLCalculator struct {
	places int32
}

// NewPnLCalculator places 为计价币精度
func NewPnLCalculator(places int32) PnLCalculator {
	return PnLCalculator{places: places}
}

func (c PnLCalculator) round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(c.places)
}

// Unrealized 未实现盈亏 = (mark - entry) * amount * sign
func (c PnLCalculator) Unrealized(side PositionSide, entry, mark, amount decimal.Decimal) decimal.Decimal {
	return c.round(mark.Sub(entry).Mul(amount).Mul(side.Sign()))
}

// Realized 已实现盈亏 = (exit - entry) * closed * sign
func (c PnLCalculator) Realized(side PositionSide, entry, exit, closed decimal.Decimal) decimal.Decimal {
	return c.round(exit.Sub(entry).Mul(closed).Mul(side.Sign()))
}

// AveragePrice 加权平均开仓价
func (c PnLCalculator) AveragePrice(qty, avg, addQty, addPrice decimal.Decimal) decimal.Decimal {
	total := qty.Add(addQty)
	if total.IsZero() {
		return decimal.Zero
	}
	return qty.Mul(avg).Add(addQty.Mul(addPrice)).DivRound(total, AvgPricePlaces)
}

// InitialMargin 初始保证金 = notional / leverage
func (c PnLCalculator) InitialMargin(price, amount decimal.Decimal, leverage int32) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return c.round(price.Mul(amount).Div(decimal.NewFromInt32(leverage)))
}

// MaintenanceMargin 维持保证金 = mmr * amount * entry
func (c PnLCalculator) MaintenanceMargin(mmr, amount, entry decimal.Decimal) decimal.Decimal {
	return c.round(mmr.Mul(amount).Mul(entry))
}

// LiquidationPrice 使 unrealized(P) = -(margin - maintenance) 的价格，不小于 0
func (c PnLCalculator) LiquidationPrice(side PositionSide, entry, amount, margin, maintenance decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	buffer := margin.Sub(maintenance).DivRound(amount, AvgPricePlaces)
	p := entry.Sub(buffer.Mul(side.Sign()))
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// ProRata 按比例释放：total * part / whole
func (c PnLCalculator) ProRata(total, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() || part.GreaterThanOrEqual(whole) {
		return total
	}
	return c.round(total.Mul(part).Div(whole))
}

// FundingPayment 资金费 = amount * mark * rate，正值表示该持仓需支付
func (c PnLCalculator) FundingPayment(side PositionSide, amount, mark, rate decimal.Decimal) decimal.Decimal {
	return c.round(amount.Mul(mark).Mul(rate).Mul(side.Sign()))
}
