package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

// Repositories 应用层依赖的全部存储端口
type Repositories struct {
	Tx           domain.TxManager
	Currencies   domain.CurrencyRepository
	Markets      domain.MarketRepository
	Orders       domain.OrderRepository
	Trades       domain.TradeRepository
	Positions    domain.PositionRepository
	Funding      domain.FundingRepository
	Liquidations domain.LiquidationRepository
	// Depth 可为空，为空时不推送盘口快照
	Depth domain.DepthRepository
}

// marketInfo 一次操作所需的市场参数与计算器
type marketInfo struct {
	market *domain.Market
	base   *domain.Currency
	quote  *domain.Currency
	fees   domain.FeeCalculator
	calc   domain.PnLCalculator
}

func loadMarketInfo(ctx context.Context, repos Repositories, marketID int64) (*marketInfo, error) {
	m, err := repos.Markets.Get(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load market %d: %w", marketID, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownMarket, marketID)
	}
	base, err := repos.Currencies.Get(ctx, m.Base)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency %s: %w", m.Base, err)
	}
	quote, err := repos.Currencies.Get(ctx, m.Quote)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency %s: %w", m.Quote, err)
	}
	if base == nil || quote == nil {
		return nil, fmt.Errorf("%w: market %s", domain.ErrUnknownCurrency, m.Symbol())
	}
	return &marketInfo{
		market: m,
		base:   base,
		quote:  quote,
		fees:   domain.NewFeeCalculator(m, base, quote),
		calc:   domain.NewPnLCalculator(quote.Decimals),
	}, nil
}
