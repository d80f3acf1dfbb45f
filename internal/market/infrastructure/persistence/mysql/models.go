package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

// AuditColumns 审计字段，软删除由领域层维护，不使用 gorm.DeletedAt
type AuditColumns struct {
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime:false;not null"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime:false;not null"`
	DeletedAt *time.Time `gorm:"column:deleted_at"`
	IsDeleted bool       `gorm:"column:is_deleted;index;not null;default:false"`
}

func toAudit(a domain.Audit) AuditColumns {
	return AuditColumns{CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt, DeletedAt: a.DeletedAt, IsDeleted: a.IsDeleted}
}

func (a AuditColumns) audit() domain.Audit {
	return domain.Audit{CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt, DeletedAt: a.DeletedAt, IsDeleted: a.IsDeleted}
}

// notDeleted 过滤软删除记录
func notDeleted(db *gorm.DB) *gorm.DB {
	return db.Where("is_deleted = ?", false)
}

// paginate 分页，Offset 为 0 时不输出 OFFSET
func paginate(p domain.Page) func(*gorm.DB) *gorm.DB {
	p = p.Normalize()
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(p.Limit).Offset(p.Offset)
	}
}

// CurrencyModel 币种表
type CurrencyModel struct {
	Symbol       string `gorm:"primaryKey;column:symbol;type:varchar(10);comment:币种符号"`
	Name         string `gorm:"column:name;type:varchar(50);not null"`
	Decimals     int32  `gorm:"column:decimals;not null;comment:精度"`
	IsFiat       bool   `gorm:"column:is_fiat;not null"`
	IsStableCoin bool   `gorm:"column:is_stable_coin;not null"`
	IsActive     bool   `gorm:"column:is_active;not null"`
	AuditColumns `gorm:"embedded"`
}

func (CurrencyModel) TableName() string { return "currencies" }

// MarketModel 交易对表，(base, quote, type, live) 唯一；NULL 互不冲突，软删除后同名交易对可重新注册
type MarketModel struct {
	ID                     int64           `gorm:"primaryKey;autoIncrement:false;column:id"`
	Base                   string          `gorm:"column:base;type:varchar(10);uniqueIndex:idx_market_pair;not null"`
	Quote                  string          `gorm:"column:quote;type:varchar(10);uniqueIndex:idx_market_pair;not null"`
	Type                   string          `gorm:"column:type;type:varchar(10);uniqueIndex:idx_market_pair;not null;comment:spot/futures"`
	Live                   *bool           `gorm:"column:live;uniqueIndex:idx_market_pair;comment:未删除为 true，软删除后置 NULL"`
	PricePrecision         int32           `gorm:"column:price_precision;not null"`
	AmountPrecision        int32           `gorm:"column:amount_precision;not null"`
	MinOrderAmount         decimal.Decimal `gorm:"column:min_order_amount;type:decimal(36,18);not null"`
	MinNotional            decimal.Decimal `gorm:"column:min_notional;type:decimal(36,18);not null"`
	MakerFee               decimal.Decimal `gorm:"column:maker_fee;type:decimal(36,18);not null"`
	TakerFee               decimal.Decimal `gorm:"column:taker_fee;type:decimal(36,18);not null"`
	FeeConvention          string          `gorm:"column:fee_convention;type:varchar(10);not null"`
	MaxLeverage            int32           `gorm:"column:max_leverage;not null"`
	FundingIntervalSeconds int64           `gorm:"column:funding_interval_seconds;not null"`
	MaintenanceMarginRate  decimal.Decimal `gorm:"column:maintenance_margin_rate;type:decimal(36,18);not null"`
	IsActive               bool            `gorm:"column:is_active;not null"`
	AuditColumns           `gorm:"embedded"`
}

func (MarketModel) TableName() string { return "markets" }

// OrderModel 订单表，client_order_id 为空时存 NULL 以免唯一索引冲突
type OrderModel struct {
	ID            int64            `gorm:"primaryKey;autoIncrement:false;column:id"`
	UserID        int64            `gorm:"column:user_id;index;not null"`
	MarketID      int64            `gorm:"column:market_id;index:idx_order_market_status;not null"`
	Type          string           `gorm:"column:type;type:varchar(24);not null"`
	Side          string           `gorm:"column:side;type:varchar(4);not null"`
	Amount        decimal.Decimal  `gorm:"column:amount;type:decimal(36,18);not null"`
	Price         *decimal.Decimal `gorm:"column:price;type:decimal(36,18)"`
	StopPrice     *decimal.Decimal `gorm:"column:stop_price;type:decimal(36,18)"`
	FilledAmount  decimal.Decimal  `gorm:"column:filled_amount;type:decimal(36,18);not null"`
	AvgFillPrice  *decimal.Decimal `gorm:"column:avg_fill_price;type:decimal(36,18)"`
	Status        string           `gorm:"column:status;type:varchar(20);index:idx_order_market_status;not null"`
	TimeInForce   string           `gorm:"column:time_in_force;type:varchar(3);not null"`
	ReduceOnly    bool             `gorm:"column:reduce_only;not null"`
	ClosePosition bool             `gorm:"column:close_position;not null"`
	Leverage      int32            `gorm:"column:leverage;not null"`
	ClientOrderID *string          `gorm:"column:client_order_id;type:varchar(50);uniqueIndex"`
	Fee           decimal.Decimal  `gorm:"column:fee;type:decimal(36,18);not null"`
	FeeCurrency   string           `gorm:"column:fee_currency;type:varchar(10)"`
	TriggeredAt   *time.Time       `gorm:"column:triggered_at"`
	Seq           int64            `gorm:"column:seq;index;not null;comment:全局接收序号"`
	AuditColumns  `gorm:"embedded"`
}

func (OrderModel) TableName() string { return "orders" }

// TradeModel 成交表
type TradeModel struct {
	ID           int64           `gorm:"primaryKey;autoIncrement:false;column:id"`
	MatchID      int64           `gorm:"column:match_id;index;not null"`
	OrderID      int64           `gorm:"column:order_id;index;not null"`
	MarketID     int64           `gorm:"column:market_id;index;not null"`
	UserID       int64           `gorm:"column:user_id;index;not null"`
	Side         string          `gorm:"column:side;type:varchar(4);not null"`
	Price        decimal.Decimal `gorm:"column:price;type:decimal(36,18);not null"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null"`
	Fee          decimal.Decimal `gorm:"column:fee;type:decimal(36,18);not null"`
	FeeCurrency  string          `gorm:"column:fee_currency;type:varchar(10);not null"`
	IsMaker      bool            `gorm:"column:is_maker;not null"`
	AuditColumns `gorm:"embedded"`
}

func (TradeModel) TableName() string { return "trades" }

// PositionModel 持仓表
type PositionModel struct {
	ID                int64            `gorm:"primaryKey;autoIncrement:false;column:id"`
	UserID            int64            `gorm:"column:user_id;index:idx_position_user_market;not null"`
	MarketID          int64            `gorm:"column:market_id;index:idx_position_user_market;not null"`
	Side              string           `gorm:"column:side;type:varchar(5);not null"`
	Amount            decimal.Decimal  `gorm:"column:amount;type:decimal(36,18);not null"`
	EntryPrice        decimal.Decimal  `gorm:"column:entry_price;type:decimal(36,18);not null"`
	Leverage          int32            `gorm:"column:leverage;not null"`
	LiquidationPrice  decimal.Decimal  `gorm:"column:liquidation_price;type:decimal(36,18);not null"`
	Margin            decimal.Decimal  `gorm:"column:margin;type:decimal(36,18);not null"`
	InitialMargin     decimal.Decimal  `gorm:"column:initial_margin;type:decimal(36,18);not null"`
	MaintenanceMargin decimal.Decimal  `gorm:"column:maintenance_margin;type:decimal(36,18);not null"`
	MarkPrice         decimal.Decimal  `gorm:"column:mark_price;type:decimal(36,18);not null"`
	UnrealizedPNL     decimal.Decimal  `gorm:"column:unrealized_pnl;type:decimal(36,18);not null"`
	RealizedPNL       decimal.Decimal  `gorm:"column:realized_pnl;type:decimal(36,18);not null"`
	FundingRate       decimal.Decimal  `gorm:"column:funding_rate;type:decimal(36,18);not null"`
	LastFundingTime   *time.Time       `gorm:"column:last_funding_time"`
	Status            string           `gorm:"column:status;type:varchar(12);index;not null"`
	ClosePrice        *decimal.Decimal `gorm:"column:close_price;type:decimal(36,18)"`
	ClosedAt          *time.Time       `gorm:"column:closed_at"`
	AuditColumns      `gorm:"embedded"`
}

func (PositionModel) TableName() string { return "positions" }

// FundingRateModel 资金费率快照表
type FundingRateModel struct {
	ID              int64           `gorm:"primaryKey;autoIncrement:false;column:id"`
	MarketID        int64           `gorm:"column:market_id;index;not null"`
	Rate            decimal.Decimal `gorm:"column:rate;type:decimal(36,18);not null"`
	MarkPrice       decimal.Decimal `gorm:"column:mark_price;type:decimal(36,18);not null"`
	NextFundingTime time.Time       `gorm:"column:next_funding_time;not null"`
	AuditColumns    `gorm:"embedded"`
}

func (FundingRateModel) TableName() string { return "funding_rates" }

// LiquidationModel 强平记录表
type LiquidationModel struct {
	ID           int64           `gorm:"primaryKey;autoIncrement:false;column:id"`
	PositionID   int64           `gorm:"column:position_id;index;not null"`
	MarketID     int64           `gorm:"column:market_id;index;not null"`
	UserID       int64           `gorm:"column:user_id;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:decimal(36,18);not null"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null"`
	RealizedPNL  decimal.Decimal `gorm:"column:realized_pnl;type:decimal(36,18);not null"`
	Fee          decimal.Decimal `gorm:"column:fee;type:decimal(36,18);not null"`
	Forced       bool            `gorm:"column:forced;not null"`
	AuditColumns `gorm:"embedded"`
}

func (LiquidationModel) TableName() string { return "liquidations" }

// Models 全部表模型，用于 AutoMigrate
func Models() []any {
	return []any{
		&CurrencyModel{}, &MarketModel{}, &OrderModel{}, &TradeModel{},
		&PositionModel{}, &FundingRateModel{}, &LiquidationModel{},
	}
}

// --- mapping helpers ---

func toCurrencyModel(c *domain.Currency) *CurrencyModel {
	return &CurrencyModel{
		Symbol:       c.Symbol,
		Name:         c.Name,
		Decimals:     c.Decimals,
		IsFiat:       c.IsFiat,
		IsStableCoin: c.IsStableCoin,
		IsActive:     c.IsActive,
		AuditColumns: toAudit(c.Audit),
	}
}

func (m *CurrencyModel) toDomain() *domain.Currency {
	return &domain.Currency{
		Symbol:       m.Symbol,
		Name:         m.Name,
		Decimals:     m.Decimals,
		IsFiat:       m.IsFiat,
		IsStableCoin: m.IsStableCoin,
		IsActive:     m.IsActive,
		Audit:        m.AuditColumns.audit(),
	}
}

func toMarketModel(m *domain.Market) *MarketModel {
	return &MarketModel{
		ID:                     m.ID,
		Base:                   m.Base,
		Quote:                  m.Quote,
		Type:                   string(m.Type),
		PricePrecision:         m.PricePrecision,
		AmountPrecision:        m.AmountPrecision,
		MinOrderAmount:         m.MinOrderAmount,
		MinNotional:            m.MinNotional,
		MakerFee:               m.MakerFee,
		TakerFee:               m.TakerFee,
		FeeConvention:          string(m.FeeConvention),
		MaxLeverage:            m.MaxLeverage,
		FundingIntervalSeconds: int64(m.FundingInterval / time.Second),
		MaintenanceMarginRate:  m.MaintenanceMarginRate,
		IsActive:               m.IsActive,
		Live:                   liveFlag(m.IsDeleted),
		AuditColumns:           toAudit(m.Audit),
	}
}

func liveFlag(deleted bool) *bool {
	if deleted {
		return nil
	}
	live := true
	return &live
}

func (m *MarketModel) toDomain() *domain.Market {
	return &domain.Market{
		ID:                    m.ID,
		Base:                  m.Base,
		Quote:                 m.Quote,
		Type:                  domain.MarketType(m.Type),
		PricePrecision:        m.PricePrecision,
		AmountPrecision:       m.AmountPrecision,
		MinOrderAmount:        m.MinOrderAmount,
		MinNotional:           m.MinNotional,
		MakerFee:              m.MakerFee,
		TakerFee:              m.TakerFee,
		FeeConvention:         domain.FeeConvention(m.FeeConvention),
		MaxLeverage:           m.MaxLeverage,
		FundingInterval:       time.Duration(m.FundingIntervalSeconds) * time.Second,
		MaintenanceMarginRate: m.MaintenanceMarginRate,
		IsActive:              m.IsActive,
		Audit:                 m.AuditColumns.audit(),
	}
}

func toOrderModel(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:            o.ID,
		UserID:        o.UserID,
		MarketID:      o.MarketID,
		Type:          string(o.Type),
		Side:          string(o.Side),
		Amount:        o.Amount,
		Price:         o.Price,
		StopPrice:     o.StopPrice,
		FilledAmount:  o.FilledAmount,
		AvgFillPrice:  o.AvgFillPrice,
		Status:        string(o.Status),
		TimeInForce:   string(o.TimeInForce),
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		Leverage:      o.Leverage,
		Fee:           o.Fee,
		FeeCurrency:   o.FeeCurrency,
		TriggeredAt:   o.TriggeredAt,
		Seq:           o.Seq,
		AuditColumns:  toAudit(o.Audit),
	}
	if o.ClientOrderID != "" {
		id := o.ClientOrderID
		m.ClientOrderID = &id
	}
	return m
}

func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:            m.ID,
		UserID:        m.UserID,
		MarketID:      m.MarketID,
		Type:          domain.OrderType(m.Type),
		Side:          domain.Side(m.Side),
		Amount:        m.Amount,
		Price:         m.Price,
		StopPrice:     m.StopPrice,
		FilledAmount:  m.FilledAmount,
		AvgFillPrice:  m.AvgFillPrice,
		Status:        domain.OrderStatus(m.Status),
		TimeInForce:   domain.TimeInForce(m.TimeInForce),
		ReduceOnly:    m.ReduceOnly,
		ClosePosition: m.ClosePosition,
		Leverage:      m.Leverage,
		Fee:           m.Fee,
		FeeCurrency:   m.FeeCurrency,
		TriggeredAt:   m.TriggeredAt,
		Seq:           m.Seq,
		Audit:         m.AuditColumns.audit(),
	}
	if m.ClientOrderID != nil {
		o.ClientOrderID = *m.ClientOrderID
	}
	return o
}

func toTradeModel(t *domain.Trade) *TradeModel {
	return &TradeModel{
		ID:           t.ID,
		MatchID:      t.MatchID,
		OrderID:      t.OrderID,
		MarketID:     t.MarketID,
		UserID:       t.UserID,
		Side:         string(t.Side),
		Price:        t.Price,
		Amount:       t.Amount,
		Fee:          t.Fee,
		FeeCurrency:  t.FeeCurrency,
		IsMaker:      t.IsMaker,
		AuditColumns: toAudit(t.Audit),
	}
}

func (m *TradeModel) toDomain() *domain.Trade {
	return &domain.Trade{
		ID:          m.ID,
		MatchID:     m.MatchID,
		OrderID:     m.OrderID,
		MarketID:    m.MarketID,
		UserID:      m.UserID,
		Side:        domain.Side(m.Side),
		Price:       m.Price,
		Amount:      m.Amount,
		Fee:         m.Fee,
		FeeCurrency: m.FeeCurrency,
		IsMaker:     m.IsMaker,
		Audit:       m.AuditColumns.audit(),
	}
}

func toPositionModel(p *domain.Position) *PositionModel {
	return &PositionModel{
		ID:                p.ID,
		UserID:            p.UserID,
		MarketID:          p.MarketID,
		Side:              string(p.Side),
		Amount:            p.Amount,
		EntryPrice:        p.EntryPrice,
		Leverage:          p.Leverage,
		LiquidationPrice:  p.LiquidationPrice,
		Margin:            p.Margin,
		InitialMargin:     p.InitialMargin,
		MaintenanceMargin: p.MaintenanceMargin,
		MarkPrice:         p.MarkPrice,
		UnrealizedPNL:     p.UnrealizedPNL,
		RealizedPNL:       p.RealizedPNL,
		FundingRate:       p.FundingRate,
		LastFundingTime:   p.LastFundingTime,
		Status:            string(p.Status),
		ClosePrice:        p.ClosePrice,
		ClosedAt:          p.ClosedAt,
		AuditColumns:      toAudit(p.Audit),
	}
}

func (m *PositionModel) toDomain() *domain.Position {
	return &domain.Position{
		ID:                m.ID,
		UserID:            m.UserID,
		MarketID:          m.MarketID,
		Side:              domain.PositionSide(m.Side),
		Amount:            m.Amount,
		EntryPrice:        m.EntryPrice,
		Leverage:          m.Leverage,
		LiquidationPrice:  m.LiquidationPrice,
		Margin:            m.Margin,
		InitialMargin:     m.InitialMargin,
		MaintenanceMargin: m.MaintenanceMargin,
		MarkPrice:         m.MarkPrice,
		UnrealizedPNL:     m.UnrealizedPNL,
		RealizedPNL:       m.RealizedPNL,
		FundingRate:       m.FundingRate,
		LastFundingTime:   m.LastFundingTime,
		Status:            domain.PositionStatus(m.Status),
		ClosePrice:        m.ClosePrice,
		ClosedAt:          m.ClosedAt,
		Audit:             m.AuditColumns.audit(),
	}
}

func toFundingRateModel(f *domain.FundingRate) *FundingRateModel {
	return &FundingRateModel{
		ID:              f.ID,
		MarketID:        f.MarketID,
		Rate:            f.Rate,
		MarkPrice:       f.MarkPrice,
		NextFundingTime: f.NextFundingTime,
		AuditColumns:    toAudit(f.Audit),
	}
}

func (m *FundingRateModel) toDomain() *domain.FundingRate {
	return &domain.FundingRate{
		ID:              m.ID,
		MarketID:        m.MarketID,
		Rate:            m.Rate,
		MarkPrice:       m.MarkPrice,
		NextFundingTime: m.NextFundingTime,
		Audit:           m.AuditColumns.audit(),
	}
}

func toLiquidationModel(l *domain.Liquidation) *LiquidationModel {
	return &LiquidationModel{
		ID:           l.ID,
		PositionID:   l.PositionID,
		MarketID:     l.MarketID,
		UserID:       l.UserID,
		Price:        l.Price,
		Amount:       l.Amount,
		RealizedPNL:  l.RealizedPNL,
		Fee:          l.Fee,
		Forced:       l.Forced,
		AuditColumns: toAudit(l.Audit),
	}
}

func (m *LiquidationModel) toDomain() *domain.Liquidation {
	return &domain.Liquidation{
		ID:          m.ID,
		PositionID:  m.PositionID,
		MarketID:    m.MarketID,
		UserID:      m.UserID,
		Price:       m.Price,
		Amount:      m.Amount,
		RealizedPNL: m.RealizedPNL,
		Fee:         m.Fee,
		Forced:      m.Forced,
		Audit:       m.AuditColumns.audit(),
	}
}
