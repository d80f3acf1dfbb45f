package memory

import (
	"context"
	"sort"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

func (r orderRepo) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	var out []*domain.Order
	err := r.s.read(ctx, func(d *dataset) error {
		for _, o := range d.orders {
			if !o.IsDeleted && f.Match(&o, d.markets[o.MarketID].Type) {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return domain.Window(out, f.Page), err
}

func (r tradeRepo) List(ctx context.Context, f domain.TradeFilter) ([]*domain.Trade, error) {
	var out []*domain.Trade
	err := r.s.read(ctx, func(d *dataset) error {
		for i := len(d.trades) - 1; i >= 0; i-- {
			if t := d.trades[i]; !t.IsDeleted && f.Match(&t) {
				out = append(out, &t)
			}
		}
		return nil
	})
	return domain.Window(out, f.Page), err
}

func (r positionRepo) List(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	var out []*domain.Position
	err := r.s.read(ctx, func(d *dataset) error {
		for _, p := range d.positions {
			if !p.IsDeleted && f.Match(&p) {
				out = append(out, p.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return domain.Window(out, f.Page), err
}

func (r fundingRepo) History(ctx context.Context, marketID int64, p domain.Page) ([]*domain.FundingRate, error) {
	var out []*domain.FundingRate
	err := r.s.read(ctx, func(d *dataset) error {
		for i := len(d.funding) - 1; i >= 0; i-- {
			if f := d.funding[i]; f.MarketID == marketID && !f.IsDeleted {
				out = append(out, &f)
			}
		}
		return nil
	})
	return domain.Window(out, p), err
}

func (r liquidationRepo) List(ctx context.Context, f domain.LiquidationFilter) ([]*domain.Liquidation, error) {
	var out []*domain.Liquidation
	err := r.s.read(ctx, func(d *dataset) error {
		for i := len(d.liquidations) - 1; i >= 0; i-- {
			if l := d.liquidations[i]; !l.IsDeleted && f.Match(&l) {
				out = append(out, &l)
			}
		}
		return nil
	})
	return domain.Window(out, f.Page), err
}
