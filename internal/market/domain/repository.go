package domain

import (
	"context"
	"time"
)

// TxManager 事务边界，fn 内的仓储调用共享同一事务
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// 仓储约定：查询单条记录不存在时返回 nil, nil；所有读路径过滤软删除记录

// CurrencyRepository 币种仓储
type CurrencyRepository interface {
	Create(ctx context.Context, c *Currency) error
	Update(ctx context.Context, c *Currency) error
	Get(ctx context.Context, symbol string) (*Currency, error)
	List(ctx context.Context) ([]*Currency, error)
}

// MarketRepository 市场仓储
type MarketRepository interface {
	Create(ctx context.Context, m *Market) error
	Update(ctx context.Context, m *Market) error
	Get(ctx context.Context, id int64) (*Market, error)
	GetByPair(ctx context.Context, base, quote string, t MarketType) (*Market, error)
	List(ctx context.Context, t MarketType) ([]*Market, error)
	CountByCurrency(ctx context.Context, symbol string) (int64, error)
}

// OrderRepository 订单仓储
type OrderRepository interface {
	Save(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error)
	// ListActive 返回未终结的订单（含待触发条件单），按 Seq 升序
	ListActive(ctx context.Context, marketID int64) ([]*Order, error)
	MaxSeq(ctx context.Context) (int64, error)
	// List 按 Seq 倒序
	List(ctx context.Context, f OrderFilter) ([]*Order, error)
}

// TradeRepository 成交仓储，只追加
type TradeRepository interface {
	Append(ctx context.Context, trades ...*Trade) error
	ListByOrder(ctx context.Context, orderID int64) ([]*Trade, error)
	Last(ctx context.Context, marketID int64) (*Trade, error)
	List(ctx context.Context, f TradeFilter) ([]*Trade, error)
}

// PositionRepository 持仓仓储
type PositionRepository interface {
	Save(ctx context.Context, p *Position) error
	Get(ctx context.Context, id int64) (*Position, error)
	GetOpen(ctx context.Context, userID, marketID int64) (*Position, error)
	// ListOpen marketID 为 0 时返回全部市场
	ListOpen(ctx context.Context, marketID int64) ([]*Position, error)
	List(ctx context.Context, f PositionFilter) ([]*Position, error)
}

// FundingRepository 资金费率快照仓储，只追加
type FundingRepository interface {
	Append(ctx context.Context, r *FundingRate) error
	Latest(ctx context.Context, marketID int64) (*FundingRate, error)
	// History 单个市场的费率历史，最新在前
	History(ctx context.Context, marketID int64, p Page) ([]*FundingRate, error)
}

// LiquidationRepository 强平记录仓储，只追加
type LiquidationRepository interface {
	Append(ctx context.Context, l *Liquidation) error
	ListByPosition(ctx context.Context, positionID int64) ([]*Liquidation, error)
	List(ctx context.Context, f LiquidationFilter) ([]*Liquidation, error)
}

// DepthRepository 盘口快照读模型
type DepthRepository interface {
	SaveDepth(ctx context.Context, d Depth) error
	GetDepth(ctx context.Context, marketID int64) (*Depth, error)
}

// Clock 时间来源
type Clock interface {
	Now() time.Time
}

// SystemClock 使用系统时间
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
