// Package domain 现货与永续合约市场的领域模型：订单簿、撮合、持仓、强平与资金费率
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketType 市场类型
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// FeeConvention 手续费计价方式
type FeeConvention string

const (
	// FeeInQuote 双方均以计价币支付手续费
	FeeInQuote FeeConvention = "quote"
	// FeeInReceived 买方以基础币、卖方以计价币支付，即以收到的币种支付
	FeeInReceived FeeConvention = "received"
)

// Market 交易对
type Market struct {
	ID                    int64
	Base                  string
	Quote                 string
	Type                  MarketType
	PricePrecision        int32
	AmountPrecision       int32
	MinOrderAmount        decimal.Decimal
	MinNotional           decimal.Decimal
	MakerFee              decimal.Decimal
	TakerFee              decimal.Decimal
	FeeConvention         FeeConvention
	MaxLeverage           int32
	FundingInterval       time.Duration
	MaintenanceMarginRate decimal.Decimal
	IsActive              bool
	Audit
}

// MarketDefaults 默认市场参数
func MarketDefaults() Market {
	return Market{
		Type:                  MarketSpot,
		PricePrecision:        2,
		AmountPrecision:       6,
		MinOrderAmount:        decimal.Zero,
		MinNotional:           decimal.NewFromInt(10),
		MakerFee:              decimal.RequireFromString("0.001"),
		TakerFee:              decimal.RequireFromString("0.002"),
		FeeConvention:         FeeInQuote,
		MaxLeverage:           20,
		FundingInterval:       8 * time.Hour,
		MaintenanceMarginRate: decimal.RequireFromString("0.005"),
		IsActive:              true,
	}
}

// Symbol 形如 BTC/USDT
func (m *Market) Symbol() string {
	return m.Base + "/" + m.Quote
}

func (m *Market) String() string {
	if m.IsFutures() {
		return m.Symbol() + " (Futures)"
	}
	return m.Symbol() + " (Spot)"
}

func (m *Market) IsFutures() bool {
	return m.Type == MarketFutures
}

// Validate 校验市场参数，base/quote 为已注册且启用的币种
func (m *Market) Validate(base, quote *Currency) error {
	if base == nil || quote == nil || !base.IsActive || !quote.IsActive {
		return ErrUnknownCurrency
	}
	if base.Symbol == quote.Symbol {
		return ErrSameCurrency
	}
	if m.Type != MarketSpot && m.Type != MarketFutures {
		return fmt.Errorf("%w: market type %q", ErrInvalidMarket, m.Type)
	}
	if m.PricePrecision < 0 || m.PricePrecision > quote.Decimals {
		return fmt.Errorf("%w: price precision %d exceeds %s decimals", ErrInvalidMarket, m.PricePrecision, quote.Symbol)
	}
	if m.AmountPrecision < 0 || m.AmountPrecision > base.Decimals {
		return fmt.Errorf("%w: amount precision %d exceeds %s decimals", ErrInvalidMarket, m.AmountPrecision, base.Symbol)
	}
	if m.MinOrderAmount.IsNegative() || m.MinNotional.IsNegative() {
		return fmt.Errorf("%w: minimums must be non-negative", ErrInvalidMarket)
	}
	for _, fee := range []decimal.Decimal{m.MakerFee, m.TakerFee} {
		if fee.IsNegative() || fee.GreaterThanOrEqual(one) {
			return fmt.Errorf("%w: fee rate %s out of [0, 1)", ErrInvalidMarket, fee)
		}
	}
	switch m.FeeConvention {
	case FeeInQuote, FeeInReceived:
	default:
		return fmt.Errorf("%w: fee convention %q", ErrInvalidMarket, m.FeeConvention)
	}
	if m.IsFutures() {
		if m.MaxLeverage < 1 {
			return fmt.Errorf("%w: max leverage must be >= 1", ErrInvalidMarket)
		}
		if m.FundingInterval < time.Hour {
			return fmt.Errorf("%w: funding interval must be at least one hour", ErrInvalidMarket)
		}
		if !m.MaintenanceMarginRate.IsPositive() || m.MaintenanceMarginRate.GreaterThanOrEqual(one) {
			return fmt.Errorf("%w: maintenance margin rate %s out of (0, 1)", ErrInvalidMarket, m.MaintenanceMarginRate)
		}
	}
	return nil
}

// Normalize 应用与市场类型相关的约束
func (m *Market) Normalize() {
	if m.IsFutures() {
		m.FeeConvention = FeeInQuote
		return
	}
	m.MaxLeverage = 0
	m.FundingInterval = 0
	m.MaintenanceMarginRate = decimal.Zero
}

// FitsScale 判断 d 的有效小数位是否不超过 places
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
