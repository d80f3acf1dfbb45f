// Package application 市场核心的用例编排：参考数据、撮合、持仓结算、强平与资金费率
package application

import (
	"log/slog"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

// Dependencies 组装应用服务所需的外部依赖
type Dependencies struct {
	Repos       Repositories
	IDs         domain.IDGenerator
	Clock       domain.Clock
	Notifier    domain.Notifier
	PriceIndex  domain.PriceIndex
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Matching    MatchingConfig
	Liquidation LiquidationConfig
}

// Services 应用服务集合，共享同一把持仓键锁
type Services struct {
	Registry    *RegistryService
	Positions   *PositionManager
	Matching    *MatchingService
	Liquidation *LiquidationEngine
	Funding     *FundingEngine
	Queries     *QueryService
}

// NewServices 按依赖关系组装全部服务
func NewServices(d Dependencies) *Services {
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Notifier == nil {
		d.Notifier = domain.NopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New("marketcore")
	}
	locks := NewKeyedLocker()
	positions := NewPositionManager(d.Repos, locks, d.IDs, d.Clock, d.Notifier, d.Metrics, d.Logger)
	liquidation := NewLiquidationEngine(d.Repos, positions, d.PriceIndex, d.IDs, d.Clock, d.Notifier, d.Metrics, d.Liquidation, d.Logger)
	matching := NewMatchingService(d.Repos, positions, d.IDs, d.Clock, d.Notifier, d.Metrics, d.Matching, d.Logger)
	positions.OnRelease(matching.ReleaseRestricted)
	return &Services{
		Registry:    NewRegistryService(d.Repos, d.IDs, d.Clock, d.Logger),
		Positions:   positions,
		Matching:    matching,
		Liquidation: liquidation,
		Funding:     NewFundingEngine(d.Repos, positions, liquidation, d.PriceIndex, d.IDs, d.Clock, d.Notifier, d.Metrics, d.Logger),
		Queries:     NewQueryService(d.Repos),
	}
}

// Stop 停止撮合 Worker
func (s *Services) Stop() {
	s.Matching.Stop()
}
