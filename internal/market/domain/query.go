package domain

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page 分页参数，列表查询一律按时间倒序
type Page struct {
	Limit  int
	Offset int
}

// Normalize Limit 不为正时取默认值，超过上限时截断
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	p.Limit = min(p.Limit, MaxPageLimit)
	p.Offset = max(p.Offset, 0)
	return p
}

// Window 对已排序切片应用分页
func Window[T any](items []T, p Page) []T {
	p = p.Normalize()
	if p.Offset >= len(items) {
		return nil
	}
	end := min(p.Offset+p.Limit, len(items))
	return items[p.Offset:end]
}

// OrderFilter 订单列表条件，零值字段不参与过滤
type OrderFilter struct {
	UserID     int64
	MarketID   int64
	Statuses   []OrderStatus
	Side       Side
	Type       OrderType
	MarketType MarketType
	Page
}

// Match 内存实现使用；marketType 为订单所属市场的类型
func (f OrderFilter) Match(o *Order, marketType MarketType) bool {
	if f.UserID != 0 && o.UserID != f.UserID {
		return false
	}
	if f.MarketID != 0 && o.MarketID != f.MarketID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Type != "" && o.Type != f.Type {
		return false
	}
	return f.MarketType == "" || marketType == f.MarketType
}

func containsStatus(list []OrderStatus, s OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// TradeFilter 成交列表条件
type TradeFilter struct {
	UserID   int64
	MarketID int64
	OrderID  int64
	IsMaker  *bool
	Page
}

func (f TradeFilter) Match(t *Trade) bool {
	if f.UserID != 0 && t.UserID != f.UserID {
		return false
	}
	if f.MarketID != 0 && t.MarketID != f.MarketID {
		return false
	}
	if f.OrderID != 0 && t.OrderID != f.OrderID {
		return false
	}
	return f.IsMaker == nil || t.IsMaker == *f.IsMaker
}

// PositionFilter 持仓列表条件
type PositionFilter struct {
	UserID   int64
	MarketID int64
	Status   PositionStatus
	Side     PositionSide
	Page
}

func (f PositionFilter) Match(p *Position) bool {
	if f.UserID != 0 && p.UserID != f.UserID {
		return false
	}
	if f.MarketID != 0 && p.MarketID != f.MarketID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return f.Side == "" || p.Side == f.Side
}

// LiquidationFilter 强平记录列表条件
type LiquidationFilter struct {
	UserID     int64
	MarketID   int64
	PositionID int64
	Forced     *bool
	Page
}

func (f LiquidationFilter) Match(l *Liquidation) bool {
	if f.UserID != 0 && l.UserID != f.UserID {
		return false
	}
	if f.MarketID != 0 && l.MarketID != f.MarketID {
		return false
	}
	if f.PositionID != 0 && l.PositionID != f.PositionID {
		return false
	}
	return f.Forced == nil || l.Forced == *f.Forced
}
