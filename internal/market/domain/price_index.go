package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceIndex 标记价格与资金费率的外部输入
type PriceIndex interface {
	MarkPrice(ctx context.Context, marketID int64) (decimal.Decimal, error)
	FundingRate(ctx context.Context, marketID int64) (decimal.Decimal, error)
}

// PriceTick 标记价格推送
type PriceTick struct {
	MarketID    int64            `json:"market_id"`
	MarkPrice   decimal.Decimal  `json:"mark_price"`
	FundingRate *decimal.Decimal `json:"funding_rate,omitempty"`
}
