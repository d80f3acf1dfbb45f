package domain

import "github.com/shopspring/decimal"

// FeeCalculator 按市场费率与计价方式计算手续费，结果向上取整到币种精度
type FeeCalculator struct {
	market        *Market
	baseDecimals  int32
	quoteDecimals int32
}

func NewFeeCalculator(m *Market, base, quote *Currency) FeeCalculator {
	return FeeCalculator{market: m, baseDecimals: base.Decimals, quoteDecimals: quote.Decimals}
}

// Rate 返回 maker 或 taker 费率
func (f FeeCalculator) Rate(isMaker bool) decimal.Decimal {
	if isMaker {
		return f.market.MakerFee
	}
	return f.market.TakerFee
}

// Compute 返回手续费金额与币种
func (f FeeCalculator) Compute(side Side, isMaker bool, price, amount decimal.Decimal) (decimal.Decimal, string) {
	rate := f.Rate(isMaker)
	if f.market.FeeConvention == FeeInReceived && !f.market.IsFutures() && side == SideBuy {
		return amount.Mul(rate).RoundCeil(f.baseDecimals), f.market.Base
	}
	return price.Mul(amount).Mul(rate).RoundCeil(f.quoteDecimals), f.market.Quote
}

// QuoteDecimals 计价币精度，用于盈亏与保证金取整
func (f FeeCalculator) QuoteDecimals() int32 { return f.quoteDecimals }
