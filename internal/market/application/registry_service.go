package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

// RegistryService 币种与交易对的参考数据管理
type RegistryService struct {
	repos  Repositories
	ids    domain.IDGenerator
	clock  domain.Clock
	logger *slog.Logger
}

// NewRegistryService 构造函数。
func NewRegistryService(repos Repositories, ids domain.IDGenerator, clock domain.Clock, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		repos:  repos,
		ids:    ids,
		clock:  clock,
		logger: logger.With("module", "registry_service"),
	}
}

// RegisterCurrency 注册币种
func (s *RegistryService) RegisterCurrency(ctx context.Context, cmd RegisterCurrencyCommand) (*domain.Currency, error) {
	if err := validateStruct(cmd, domain.ErrInvalidCurrency); err != nil {
		return nil, err
	}
	decimals := domain.DefaultCurrencyDecimals
	if cmd.Decimals != nil {
		decimals = *cmd.Decimals
	}
	c, err := domain.NewCurrency(cmd.Symbol, cmd.Name, decimals, cmd.IsFiat, cmd.IsStableCoin, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repos.Currencies.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create currency %s: %w", c.Symbol, err)
	}
	s.logger.InfoContext(ctx, "currency registered", "symbol", c.Symbol, "decimals", c.Decimals)
	return c, nil
}

// UpdateCurrency 修改币种，被市场引用的币种不可修改精度
func (s *RegistryService) UpdateCurrency(ctx context.Context, symbol string, patch domain.CurrencyPatch) (*domain.Currency, error) {
	var out *domain.Currency
	err := s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.currency(ctx, symbol)
		if err != nil {
			return err
		}
		refs, err := s.repos.Markets.CountByCurrency(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to count markets of %s: %w", symbol, err)
		}
		if err := c.Apply(patch, refs > 0, s.clock.Now()); err != nil {
			return err
		}
		out = c
		return s.repos.Currencies.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCurrency 软删除币种，仍被市场引用时拒绝
func (s *RegistryService) DeleteCurrency(ctx context.Context, symbol string) error {
	return s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.currency(ctx, symbol)
		if err != nil {
			return err
		}
		refs, err := s.repos.Markets.CountByCurrency(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to count markets of %s: %w", symbol, err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: %s referenced by %d markets", domain.ErrCurrencyInUse, symbol, refs)
		}
		c.SoftDelete(s.clock.Now())
		return s.repos.Currencies.Update(ctx, c)
	})
}

// GetCurrency 查询币种
func (s *RegistryService) GetCurrency(ctx context.Context, symbol string) (*domain.Currency, error) {
	return s.currency(ctx, symbol)
}

// ListCurrencies 全部未删除的币种
func (s *RegistryService) ListCurrencies(ctx context.Context) ([]*domain.Currency, error) {
	return s.repos.Currencies.List(ctx)
}

func (s *RegistryService) currency(ctx context.Context, symbol string) (*domain.Currency, error) {
	c, err := s.repos.Currencies.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get currency %s: %w", symbol, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCurrency, symbol)
	}
	return c, nil
}

// RegisterMarket 注册交易对，未指定的参数取默认值
func (s *RegistryService) RegisterMarket(ctx context.Context, cmd RegisterMarketCommand) (*domain.Market, error) {
	if err := validateStruct(cmd, domain.ErrInvalidMarket); err != nil {
		return nil, err
	}
	m := domain.MarketDefaults()
	m.Base, m.Quote, m.Type = cmd.Base, cmd.Quote, cmd.Type
	m.MinOrderAmount = cmd.MinOrderAmount
	if cmd.PricePrecision != nil {
		m.PricePrecision = *cmd.PricePrecision
	}
	if cmd.AmountPrecision != nil {
		m.AmountPrecision = *cmd.AmountPrecision
	}
	if cmd.MinNotional != nil {
		m.MinNotional = *cmd.MinNotional
	}
	if cmd.MakerFee != nil {
		m.MakerFee = *cmd.MakerFee
	}
	if cmd.TakerFee != nil {
		m.TakerFee = *cmd.TakerFee
	}
	if cmd.FeeConvention != "" {
		m.FeeConvention = cmd.FeeConvention
	}
	if cmd.MaxLeverage != nil {
		m.MaxLeverage = *cmd.MaxLeverage
	}
	if cmd.FundingInterval != nil {
		m.FundingInterval = *cmd.FundingInterval
	}
	if cmd.MaintenanceMarginRate != nil {
		m.MaintenanceMarginRate = *cmd.MaintenanceMarginRate
	}
	m.Normalize()

	err := s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		base, err := s.repos.Currencies.Get(ctx, m.Base)
		if err != nil {
			return err
		}
		quote, err := s.repos.Currencies.Get(ctx, m.Quote)
		if err != nil {
			return err
		}
		if err := m.Validate(base, quote); err != nil {
			return err
		}
		existing, err := s.repos.Markets.GetByPair(ctx, m.Base, m.Quote, m.Type)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateMarket, existing)
		}
		m.ID = s.ids.NextID()
		m.Stamp(s.clock.Now())
		return s.repos.Markets.Create(ctx, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register market %s/%s: %w", cmd.Base, cmd.Quote, err)
	}
	s.logger.InfoContext(ctx, "market registered", "market_id", m.ID, "market", m.String())
	return &m, nil
}

// GetMarket 按 ID 查询
func (s *RegistryService) GetMarket(ctx context.Context, id int64) (*domain.Market, error) {
	m, err := s.repos.Markets.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get market %d: %w", id, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownMarket, id)
	}
	return m, nil
}

// GetMarketBySymbol 按 BASE/QUOTE 与类型查询
func (s *RegistryService) GetMarketBySymbol(ctx context.Context, symbol string, t domain.MarketType) (*domain.Market, error) {
	base, quote, ok := strings.Cut(strings.ToUpper(symbol), "/")
	if !ok || base == "" || quote == "" {
		return nil, fmt.Errorf("%w: symbol %q", domain.ErrUnknownMarket, symbol)
	}
	m, err := s.repos.Markets.GetByPair(ctx, base, quote, t)
	if err != nil {
		return nil, fmt.Errorf("failed to get market %s: %w", symbol, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrUnknownMarket, symbol, t)
	}
	return m, nil
}

// ListMarkets t 为空时返回全部类型
func (s *RegistryService) ListMarkets(ctx context.Context, t domain.MarketType) ([]*domain.Market, error) {
	return s.repos.Markets.List(ctx, t)
}

// SetMarketActive 启停交易对，停用后拒绝新订单
func (s *RegistryService) SetMarketActive(ctx context.Context, id int64, active bool) (*domain.Market, error) {
	var out *domain.Market
	err := s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return err
		}
		m.IsActive = active
		m.Stamp(s.clock.Now())
		out = m
		return s.repos.Markets.Update(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "market activation changed", "market_id", id, "active", active)
	return out, nil
}

// DeleteMarket 软删除交易对
func (s *RegistryService) DeleteMarket(ctx context.Context, id int64) error {
	err := s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return err
		}
		m.SoftDelete(s.clock.Now())
		return s.repos.Markets.Update(ctx, m)
	})
	if err != nil && !errors.Is(err, domain.ErrUnknownMarket) {
		s.logger.ErrorContext(ctx, "failed to delete market", "market_id", id, "error", err)
	}
	return err
}
