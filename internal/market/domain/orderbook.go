package domain

import (
	"sort"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const btreeDegree = 32

// bookEntry 盘口索引项，按 (价格优先, 到达序号) 排序
type bookEntry struct {
	Price   decimal.Decimal
	Seq     int64
	OrderID int64
}

// 买盘价格降序，Min() 即最优买价
func bidLess(a, b bookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// 卖盘价格升序，Min() 即最优卖价
func askLess(a, b bookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// PriceLevel 聚合后的价格档位
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// Depth 盘口深度
type Depth struct {
	MarketID  int64            `json:"market_id"`
	Bids      []PriceLevel     `json:"bids"`
	Asks      []PriceLevel     `json:"asks"`
	LastPrice *decimal.Decimal `json:"last_price,omitempty"`
}

// OrderBook 单个市场的内存订单簿，由该市场的撮合 Worker 独占访问
type OrderBook struct {
	marketID  int64
	bids      *btree.BTreeG[bookEntry]
	asks      *btree.BTreeG[bookEntry]
	resting   map[int64]*Order
	dormant   map[int64]*Order
	lastPrice *decimal.Decimal
}

func NewOrderBook(marketID int64) *OrderBook {
	return &OrderBook{
		marketID: marketID,
		bids:     btree.NewG[bookEntry](btreeDegree, bidLess),
		asks:     btree.NewG[bookEntry](btreeDegree, askLess),
		resting:  make(map[int64]*Order),
		dormant:  make(map[int64]*Order),
	}
}

func (b *OrderBook) MarketID() int64 { return b.marketID }

func (b *OrderBook) side(s Side) *btree.BTreeG[bookEntry] {
	if s == SideBuy {
		return b.bids
	}
	return b.asks
}

func entryOf(o *Order) bookEntry {
	return bookEntry{Price: *o.Price, Seq: o.Seq, OrderID: o.ID}
}

// Rest 挂单入簿，o 必须为带价格的非终态订单
func (b *OrderBook) Rest(o *Order) {
	if o.Price == nil || o.IsTerminal() {
		return
	}
	b.side(o.Side).ReplaceOrInsert(entryOf(o))
	b.resting[o.ID] = o
}

// Park 条件单进入待触发列表
func (b *OrderBook) Park(o *Order) {
	b.dormant[o.ID] = o
}

// Remove 从盘口或待触发列表移除订单
func (b *OrderBook) Remove(id int64) *Order {
	if o, ok := b.resting[id]; ok {
		b.side(o.Side).Delete(entryOf(o))
		delete(b.resting, id)
		return o
	}
	if o, ok := b.dormant[id]; ok {
		delete(b.dormant, id)
		return o
	}
	return nil
}

// Get 查找簿内订单
func (b *OrderBook) Get(id int64) (*Order, bool) {
	if o, ok := b.resting[id]; ok {
		return o, true
	}
	o, ok := b.dormant[id]
	return o, ok
}

// Best 返回某一方向的最优挂单
func (b *OrderBook) Best(s Side) (*Order, bool) {
	e, ok := b.side(s).Min()
	if !ok {
		return nil, false
	}
	return b.resting[e.OrderID], true
}

// LastPrice 最新成交价
func (b *OrderBook) LastPrice() (decimal.Decimal, bool) {
	if b.lastPrice == nil {
		return decimal.Zero, false
	}
	return *b.lastPrice, true
}

// SetLastPrice 用于恢复或成交后更新最新成交价
func (b *OrderBook) SetLastPrice(p decimal.Decimal) {
	b.lastPrice = &p
}

// ReferencePrice 市价单名义价值的参考价：对手最优价，其次最新成交价
func (b *OrderBook) ReferencePrice(s Side) (decimal.Decimal, bool) {
	if best, ok := b.Best(s.Opposite()); ok {
		return *best.Price, true
	}
	return b.LastPrice()
}

// Len 盘口挂单数与待触发单数
func (b *OrderBook) Len() (resting, dormant int) {
	return len(b.resting), len(b.dormant)
}

// Resting 按价格时间优先顺序遍历某一方向的挂单，fn 返回 false 时停止
func (b *OrderBook) Resting(s Side, fn func(*Order) bool) {
	b.side(s).Ascend(func(e bookEntry) bool {
		return fn(b.resting[e.OrderID])
	})
}

// Triggered 返回在 last 价格下应触发的条件单，按到达顺序排列
func (b *OrderBook) Triggered(last decimal.Decimal) []*Order {
	var out []*Order
	for _, o := range b.dormant {
		if o.ShouldTrigger(last) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Restricted 用户在簿内（含待触发）的减仓类订单，按到达顺序排列
func (b *OrderBook) Restricted(userID int64) []*Order {
	var out []*Order
	for _, m := range []map[int64]*Order{b.resting, b.dormant} {
		for _, o := range m {
			if o.UserID == userID && o.IsRestricted() {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Depth 聚合前 n 档
func (b *OrderBook) Depth(n int) Depth {
	d := Depth{
		MarketID: b.marketID,
		Bids:     b.levels(b.bids, n),
		Asks:     b.levels(b.asks, n),
	}
	if b.lastPrice != nil {
		p := *b.lastPrice
		d.LastPrice = &p
	}
	return d
}

func (b *OrderBook) levels(tree *btree.BTreeG[bookEntry], n int) []PriceLevel {
	levels := make([]PriceLevel, 0, n)
	if n <= 0 {
		return levels
	}
	tree.Ascend(func(e bookEntry) bool {
		rem := b.resting[e.OrderID].Remaining()
		if len(levels) > 0 && levels[len(levels)-1].Price.Equal(e.Price) {
			levels[len(levels)-1].Amount = levels[len(levels)-1].Amount.Add(rem)
			levels[len(levels)-1].Count++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{Price: e.Price, Amount: rem, Count: 1})
		return true
	})
	return levels
}
