package memory

import (
	"context"
	"sort"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

type currencyRepo struct{ s *Store }

func (r currencyRepo) Create(ctx context.Context, c *domain.Currency) error {
	return r.s.write(ctx, "currencies.create", func(d *dataset) error {
		if _, ok := d.currencies[c.Symbol]; ok {
			return domain.ErrDuplicateCurrency
		}
		d.currencies[c.Symbol] = *c
		return nil
	})
}

func (r currencyRepo) Update(ctx context.Context, c *domain.Currency) error {
	return r.s.write(ctx, "currencies.update", func(d *dataset) error {
		d.currencies[c.Symbol] = *c
		return nil
	})
}

func (r currencyRepo) Get(ctx context.Context, symbol string) (*domain.Currency, error) {
	var out *domain.Currency
	err := r.s.read(ctx, func(d *dataset) error {
		if c, ok := d.currencies[symbol]; ok && !c.IsDeleted {
			out = &c
		}
		return nil
	})
	return out, err
}

func (r currencyRepo) List(ctx context.Context) ([]*domain.Currency, error) {
	var out []*domain.Currency
	err := r.s.read(ctx, func(d *dataset) error {
		for _, c := range d.currencies {
			if !c.IsDeleted {
				c := c
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, err
}

type marketRepo struct{ s *Store }

func (r marketRepo) Create(ctx context.Context, m *domain.Market) error {
	return r.s.write(ctx, "markets.create", func(d *dataset) error {
		for _, existing := range d.markets {
			if !existing.IsDeleted && existing.Base == m.Base && existing.Quote == m.Quote && existing.Type == m.Type {
				return domain.ErrDuplicateMarket
			}
		}
		d.markets[m.ID] = *m
		return nil
	})
}

func (r marketRepo) Update(ctx context.Context, m *domain.Market) error {
	return r.s.write(ctx, "markets.update", func(d *dataset) error {
		d.markets[m.ID] = *m
		return nil
	})
}

func (r marketRepo) Get(ctx context.Context, id int64) (*domain.Market, error) {
	var out *domain.Market
	err := r.s.read(ctx, func(d *dataset) error {
		if m, ok := d.markets[id]; ok && !m.IsDeleted {
			out = &m
		}
		return nil
	})
	return out, err
}

func (r marketRepo) GetByPair(ctx context.Context, base, quote string, t domain.MarketType) (*domain.Market, error) {
	var out *domain.Market
	err := r.s.read(ctx, func(d *dataset) error {
		for _, m := range d.markets {
			if !m.IsDeleted && m.Base == base && m.Quote == quote && m.Type == t {
				m := m
				out = &m
				break
			}
		}
		return nil
	})
	return out, err
}

func (r marketRepo) List(ctx context.Context, t domain.MarketType) ([]*domain.Market, error) {
	var out []*domain.Market
	err := r.s.read(ctx, func(d *dataset) error {
		for _, m := range d.markets {
			if !m.IsDeleted && (t == "" || m.Type == t) {
				m := m
				out = append(out, &m)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r marketRepo) CountByCurrency(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := r.s.read(ctx, func(d *dataset) error {
		for _, m := range d.markets {
			if !m.IsDeleted && (m.Base == symbol || m.Quote == symbol) {
				n++
			}
		}
		return nil
	})
	return n, err
}

type orderRepo struct{ s *Store }

func (r orderRepo) Save(ctx context.Context, o *domain.Order) error {
	return r.s.write(ctx, "orders.save", func(d *dataset) error {
		if o.ClientOrderID != "" {
			if id, ok := d.clientIdx[o.ClientOrderID]; ok && id != o.ID {
				return domain.ErrDuplicateOrder
			}
			d.clientIdx[o.ClientOrderID] = o.ID
		}
		d.orders[o.ID] = *o.Clone()
		return nil
	})
}

func (r orderRepo) Get(ctx context.Context, id int64) (*domain.Order, error) {
	var out *domain.Order
	err := r.s.read(ctx, func(d *dataset) error {
		if o, ok := d.orders[id]; ok && !o.IsDeleted {
			out = o.Clone()
		}
		return nil
	})
	return out, err
}

func (r orderRepo) GetByClientOrderID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	var out *domain.Order
	err := r.s.read(ctx, func(d *dataset) error {
		id, ok := d.clientIdx[clientOrderID]
		if !ok {
			return nil
		}
		if o, ok := d.orders[id]; ok && !o.IsDeleted {
			out = o.Clone()
		}
		return nil
	})
	return out, err
}

func (r orderRepo) ListActive(ctx context.Context, marketID int64) ([]*domain.Order, error) {
	var out []*domain.Order
	err := r.s.read(ctx, func(d *dataset) error {
		for _, o := range d.orders {
			if !o.IsDeleted && o.MarketID == marketID && !o.IsTerminal() {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, err
}

func (r orderRepo) MaxSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := r.s.read(ctx, func(d *dataset) error {
		for _, o := range d.orders {
			if o.Seq > maxSeq {
				maxSeq = o.Seq
			}
		}
		return nil
	})
	return maxSeq, err
}

type tradeRepo struct{ s *Store }

func (r tradeRepo) Append(ctx context.Context, trades ...*domain.Trade) error {
	return r.s.write(ctx, "trades.append", func(d *dataset) error {
		for _, t := range trades {
			d.trades = append(d.trades, *t)
		}
		return nil
	})
}

func (r tradeRepo) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Trade, error) {
	var out []*domain.Trade
	err := r.s.read(ctx, func(d *dataset) error {
		for _, t := range d.trades {
			if t.OrderID == orderID && !t.IsDeleted {
				t := t
				out = append(out, &t)
			}
		}
		return nil
	})
	return out, err
}

func (r tradeRepo) Last(ctx context.Context, marketID int64) (*domain.Trade, error) {
	var out *domain.Trade
	err := r.s.read(ctx, func(d *dataset) error {
		for i := len(d.trades) - 1; i >= 0; i-- {
			if t := d.trades[i]; t.MarketID == marketID && !t.IsDeleted {
				out = &t
				break
			}
		}
		return nil
	})
	return out, err
}

type positionRepo struct{ s *Store }

func (r positionRepo) Save(ctx context.Context, p *domain.Position) error {
	return r.s.write(ctx, "positions.save", func(d *dataset) error {
		d.positions[p.ID] = *p.Clone()
		return nil
	})
}

func (r positionRepo) Get(ctx context.Context, id int64) (*domain.Position, error) {
	var out *domain.Position
	err := r.s.read(ctx, func(d *dataset) error {
		if p, ok := d.positions[id]; ok && !p.IsDeleted {
			out = p.Clone()
		}
		return nil
	})
	return out, err
}

func (r positionRepo) GetOpen(ctx context.Context, userID, marketID int64) (*domain.Position, error) {
	var out *domain.Position
	err := r.s.read(ctx, func(d *dataset) error {
		for _, p := range d.positions {
			if !p.IsDeleted && p.UserID == userID && p.MarketID == marketID && p.IsOpen() {
				out = p.Clone()
				break
			}
		}
		return nil
	})
	return out, err
}

func (r positionRepo) ListOpen(ctx context.Context, marketID int64) ([]*domain.Position, error) {
	var out []*domain.Position
	err := r.s.read(ctx, func(d *dataset) error {
		for _, p := range d.positions {
			if !p.IsDeleted && p.IsOpen() && (marketID == 0 || p.MarketID == marketID) {
				out = append(out, p.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type fundingRepo struct{ s *Store }

func (r fundingRepo) Append(ctx context.Context, f *domain.FundingRate) error {
	return r.s.write(ctx, "funding.append", func(d *dataset) error {
		d.funding = append(d.funding, *f)
		return nil
	})
}

func (r fundingRepo) Latest(ctx context.Context, marketID int64) (*domain.FundingRate, error) {
	var out *domain.FundingRate
	err := r.s.read(ctx, func(d *dataset) error {
		for i := len(d.funding) - 1; i >= 0; i-- {
			if f := d.funding[i]; f.MarketID == marketID && !f.IsDeleted {
				out = &f
				break
			}
		}
		return nil
	})
	return out, err
}

type liquidationRepo struct{ s *Store }

func (r liquidationRepo) Append(ctx context.Context, l *domain.Liquidation) error {
	return r.s.write(ctx, "liquidations.append", func(d *dataset) error {
		d.liquidations = append(d.liquidations, *l)
		return nil
	})
}

func (r liquidationRepo) ListByPosition(ctx context.Context, positionID int64) ([]*domain.Liquidation, error) {
	var out []*domain.Liquidation
	err := r.s.read(ctx, func(d *dataset) error {
		for _, l := range d.liquidations {
			if l.PositionID == positionID && !l.IsDeleted {
				l := l
				out = append(out, &l)
			}
		}
		return nil
	})
	return out, err
}

type depthRepo struct{ s *Store }

func (r depthRepo) SaveDepth(ctx context.Context, dep domain.Depth) error {
	return r.s.write(ctx, "depth.save", func(d *dataset) error {
		d.depth[dep.MarketID] = dep
		return nil
	})
}

func (r depthRepo) GetDepth(ctx context.Context, marketID int64) (*domain.Depth, error) {
	var out *domain.Depth
	err := r.s.read(ctx, func(d *dataset) error {
		if dep, ok := d.depth[marketID]; ok {
			out = &dep
		}
		return nil
	})
	return out, err
}
