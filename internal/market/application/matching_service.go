package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/logger"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

// MatchingConfig 撮合服务参数
type MatchingConfig struct {
	QueueSize     int
	SnapshotDepth int
}

// MatchingService 下单、撤单与撮合。每个市场一个 Engine，订单簿只在其 Worker 内读写
type MatchingService struct {
	repos     Repositories
	settler   *Settler
	positions *PositionManager
	ids       domain.IDGenerator
	clock     domain.Clock
	notifier  domain.Notifier
	metrics   *metrics.Metrics
	cfg       MatchingConfig
	logger    *slog.Logger

	mu      sync.Mutex
	engines map[int64]*domain.Engine
	seq     atomic.Int64
}

// NewMatchingService 构造函数。
func NewMatchingService(
	repos Repositories,
	positions *PositionManager,
	ids domain.IDGenerator,
	clock domain.Clock,
	notifier domain.Notifier,
	m *metrics.Metrics,
	cfg MatchingConfig,
	logger *slog.Logger,
) *MatchingService {
	if cfg.SnapshotDepth <= 0 {
		cfg.SnapshotDepth = 20
	}
	return &MatchingService{
		repos:     repos,
		settler:   NewSettler(repos, positions),
		positions: positions,
		ids:       ids,
		clock:     clock,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With("module", "matching_service"),
		engines:   make(map[int64]*domain.Engine),
	}
}

func (s *MatchingService) engine(marketID int64) *domain.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[marketID]
	if !ok {
		e = domain.NewEngine(marketID, s.cfg.QueueSize)
		s.engines[marketID] = e
	}
	return e
}

// Stop 停止全部撮合 Worker
func (s *MatchingService) Stop() {
	s.mu.Lock()
	engines := make([]*domain.Engine, 0, len(s.engines))
	for _, e := range s.engines {
		engines = append(engines, e)
	}
	s.engines = make(map[int64]*domain.Engine)
	s.mu.Unlock()
	for _, e := range engines {
		e.Stop()
	}
}

// Recover 启动时从持久化的活动订单重建订单簿，按到达顺序入簿
func (s *MatchingService) Recover(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting order book recovery")
	maxSeq, err := s.repos.Orders.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to load max seq: %w", err)
	}
	if maxSeq > s.seq.Load() {
		s.seq.Store(maxSeq)
	}

	markets, err := s.repos.Markets.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list markets: %w", err)
	}
	total := 0
	for _, m := range markets {
		orders, err := s.repos.Orders.ListActive(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("failed to list active orders of market %d: %w", m.ID, err)
		}
		last, err := s.repos.Trades.Last(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("failed to load last trade of market %d: %w", m.ID, err)
		}
		err = s.engine(m.ID).Do(ctx, func(book *domain.OrderBook) error {
			if last != nil {
				book.SetLastPrice(last.Price)
			}
			for _, o := range orders {
				if o.Dormant() {
					book.Park(o)
				} else {
					book.Rest(o)
				}
			}
			if len(orders) > 0 {
				s.snapshot(ctx, book)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to recover market %d: %w", m.ID, err)
		}
		total += len(orders)
	}
	s.logger.InfoContext(ctx, "order book recovery completed", "markets", len(markets), "orders", total)
	return nil
}

// Submit 校验并撮合订单；重复的 client_order_id 返回原订单与其成交
func (s *MatchingService) Submit(ctx context.Context, cmd SubmitOrderCommand) (*SubmitResult, error) {
	defer logger.LogDuration(ctx, "submit order", "market_id", cmd.MarketID, "user_id", cmd.UserID)()

	res, err := s.submit(ctx, cmd)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) && cmd.ClientOrderID != "" {
			if dup, derr := s.duplicate(ctx, cmd.ClientOrderID); derr == nil && dup != nil {
				return dup, nil
			}
		}
		s.metrics.OrderRejectsTotal.WithLabelValues(string(domain.ReasonOf(err))).Inc()
		s.logger.InfoContext(ctx, "order rejected", "market_id", cmd.MarketID, "user_id", cmd.UserID, "reason", domain.ReasonOf(err), "error", err)
		return nil, err
	}
	return res, nil
}

func (s *MatchingService) submit(ctx context.Context, cmd SubmitOrderCommand) (*SubmitResult, error) {
	if err := validateStruct(cmd, domain.ErrInvalidOrder); err != nil {
		return nil, err
	}
	if cmd.ClientOrderID != "" {
		if dup, err := s.duplicate(ctx, cmd.ClientOrderID); err != nil || dup != nil {
			return dup, err
		}
	}

	mi, err := loadMarketInfo(ctx, s.repos, cmd.MarketID)
	if err != nil {
		return nil, err
	}
	if !mi.market.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketInactive, mi.market)
	}
	order, err := s.buildOrder(ctx, mi, cmd)
	if err != nil {
		return nil, err
	}

	var result *SubmitResult
	err = s.engine(mi.market.ID).Do(ctx, func(book *domain.OrderBook) error {
		// 同一市场的重复提交在 Worker 内串行复核，跨市场的由唯一索引兜底
		if order.ClientOrderID != "" {
			dup, err := s.duplicate(ctx, order.ClientOrderID)
			if err != nil {
				return err
			}
			if dup != nil {
				result = dup
				return nil
			}
		}
		if err := checkNotional(book, mi.market, order); err != nil {
			return err
		}
		now := s.clock.Now()
		order.ID = s.ids.NextID()
		order.Seq = s.seq.Add(1)
		order.Stamp(now)

		if order.Type.IsConditional() {
			last, ok := book.LastPrice()
			if !ok || !order.ShouldTrigger(last) {
				if err := s.settler.Persist(ctx, order); err != nil {
					return err
				}
				book.Park(order)
				s.notifier.Notify(ctx, domain.NewEvent(domain.OrderAcceptedEventType, order.MarketID, order.UserID, order.Clone(), now))
				result = &SubmitResult{Order: order.Clone()}
				return nil
			}
			order.Trigger(now)
		}

		plan, err := s.execute(ctx, book, mi, order, true)
		if err != nil {
			return err
		}
		result = &SubmitResult{Order: plan.Taker.Clone(), Trades: takerTrades(plan)}
		s.cascade(ctx, book, mi)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Duplicate {
		return result, nil
	}
	s.metrics.OrdersTotal.WithLabelValues(strconv.FormatInt(mi.market.ID, 10), string(order.Type), string(order.Side)).Inc()
	return result, nil
}

func (s *MatchingService) duplicate(ctx context.Context, clientOrderID string) (*SubmitResult, error) {
	o, err := s.repos.Orders.GetByClientOrderID(ctx, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up client order id %q: %w", clientOrderID, err)
	}
	if o == nil {
		return nil, nil
	}
	trades, err := s.repos.Trades.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades of order %d: %w", o.ID, err)
	}
	return &SubmitResult{Order: o, Trades: trades, Duplicate: true}, nil
}

// buildOrder 与订单簿无关的同步校验
func (s *MatchingService) buildOrder(ctx context.Context, mi *marketInfo, cmd SubmitOrderCommand) (*domain.Order, error) {
	m := mi.market
	o := &domain.Order{
		UserID:        cmd.UserID,
		MarketID:      m.ID,
		Type:          cmd.Type,
		Side:          cmd.Side,
		Amount:        cmd.Amount,
		Status:        domain.OrderStatusOpen,
		TimeInForce:   cmd.TimeInForce,
		ReduceOnly:    cmd.ReduceOnly,
		ClosePosition: cmd.ClosePosition,
		Leverage:      cmd.Leverage,
		ClientOrderID: cmd.ClientOrderID,
	}
	if o.TimeInForce == "" {
		o.TimeInForce = domain.GTC
	}

	if cmd.Type.NeedsPrice() {
		if cmd.Price == nil || !cmd.Price.IsPositive() {
			return nil, fmt.Errorf("%w: %s order requires a positive price", domain.ErrInvalidOrder, cmd.Type)
		}
		if !domain.FitsScale(*cmd.Price, m.PricePrecision) {
			return nil, fmt.Errorf("%w: price %s exceeds %d places", domain.ErrPrecisionViolation, cmd.Price, m.PricePrecision)
		}
		p := *cmd.Price
		o.Price = &p
	}
	if cmd.Type.IsConditional() {
		if cmd.StopPrice == nil || !cmd.StopPrice.IsPositive() {
			return nil, fmt.Errorf("%w: %s order requires a positive stop price", domain.ErrInvalidOrder, cmd.Type)
		}
		if !domain.FitsScale(*cmd.StopPrice, m.PricePrecision) {
			return nil, fmt.Errorf("%w: stop price %s exceeds %d places", domain.ErrPrecisionViolation, cmd.StopPrice, m.PricePrecision)
		}
		p := *cmd.StopPrice
		o.StopPrice = &p
	}

	if !m.IsFutures() {
		if o.ReduceOnly || o.ClosePosition {
			return nil, fmt.Errorf("%w: reduce_only and close_position apply to futures only", domain.ErrInvalidOrder)
		}
		if o.Leverage > 1 {
			return nil, fmt.Errorf("%w: spot market %s", domain.ErrInvalidLeverage, m)
		}
		o.Leverage = 1
	} else {
		if o.Leverage == 0 {
			o.Leverage = 1
		}
		if o.Leverage < 1 || o.Leverage > m.MaxLeverage {
			return nil, fmt.Errorf("%w: %d not in [1, %d]", domain.ErrInvalidLeverage, o.Leverage, m.MaxLeverage)
		}
		if o.ReduceOnly || o.ClosePosition {
			if err := s.sizeReducing(ctx, o); err != nil {
				return nil, err
			}
		}
	}

	if !o.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidOrder)
	}
	if !domain.FitsScale(o.Amount, m.AmountPrecision) {
		return nil, fmt.Errorf("%w: amount %s exceeds %d places", domain.ErrPrecisionViolation, o.Amount, m.AmountPrecision)
	}
	if !o.ClosePosition && o.Amount.LessThan(m.MinOrderAmount) {
		return nil, fmt.Errorf("%w: %s < %s", domain.ErrMinOrderAmount, o.Amount, m.MinOrderAmount)
	}
	return o, nil
}

// sizeReducing 减仓单必须存在反向持仓，全平单按持仓数量下单
func (s *MatchingService) sizeReducing(ctx context.Context, o *domain.Order) error {
	pos, err := s.repos.Positions.GetOpen(ctx, o.UserID, o.MarketID)
	if err != nil {
		return fmt.Errorf("failed to load position of user %d: %w", o.UserID, err)
	}
	if pos == nil || pos.Side.ReducingSide() != o.Side {
		return fmt.Errorf("%w: user %d market %d", domain.ErrReduceOnlyViolation, o.UserID, o.MarketID)
	}
	if o.ClosePosition {
		o.Amount = pos.Amount
		return nil
	}
	if o.Amount.GreaterThan(pos.Amount) {
		return fmt.Errorf("%w: amount %s exceeds position %s", domain.ErrPositionFlip, o.Amount, pos.Amount)
	}
	return nil
}

// checkNotional 名义价值下限；市价单参考对手最优价或最新成交价，均无时跳过
func checkNotional(book *domain.OrderBook, m *domain.Market, o *domain.Order) error {
	if o.ClosePosition || m.MinNotional.IsZero() {
		return nil
	}
	var ref decimal.Decimal
	switch {
	case o.Price != nil:
		ref = *o.Price
	case o.StopPrice != nil:
		ref = *o.StopPrice
	default:
		p, ok := book.ReferencePrice(o.Side)
		if !ok {
			return nil
		}
		ref = p
	}
	if notional := o.Amount.Mul(ref); notional.LessThan(m.MinNotional) {
		return fmt.Errorf("%w: %s < %s", domain.ErrMinNotional, notional, m.MinNotional)
	}
	return nil
}

// execute 计划、持久化、应用；持久化失败时订单簿保持不变
func (s *MatchingService) execute(ctx context.Context, book *domain.OrderBook, mi *marketInfo, order *domain.Order, accepted bool) (*domain.MatchPlan, error) {
	label := strconv.FormatInt(mi.market.ID, 10)
	defer s.metrics.ObserveMatch(label)()

	now := s.clock.Now()
	if err := s.reconcileMakers(ctx, book, mi, order, now); err != nil {
		return nil, err
	}
	plan, err := book.Plan(order, mi.fees, s.ids, now)
	if err != nil {
		return nil, err
	}
	deltas, err := s.settler.Settle(ctx, mi, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to settle order %d: %w", order.ID, err)
	}
	book.Apply(plan)
	s.publish(ctx, plan, accepted, now)
	s.positions.publish(ctx, deltas)
	for _, userID := range closedUsers(deltas) {
		s.pruneRestricted(ctx, book, userID, now)
	}
	if len(plan.Trades) > 0 {
		s.metrics.TradesTotal.WithLabelValues(label).Add(float64(len(plan.Trades) / 2))
		s.snapshot(ctx, book)
	} else if plan.Rest {
		s.snapshot(ctx, book)
	}
	return plan, nil
}

type makerAdjustment struct {
	order     *domain.Order
	remaining decimal.Decimal
}

// reconcileMakers 撮合前按当前持仓校正将被吃到的减仓挂单：持仓已平或方向不符的撤销，
// 超出剩余持仓的部分下调。同一用户排在前面的普通挂单同样消耗其持仓
func (s *MatchingService) reconcileMakers(ctx context.Context, book *domain.OrderBook, mi *marketInfo, taker *domain.Order, now time.Time) error {
	if !mi.market.IsFutures() {
		return nil
	}
	budgets := make(map[int64]decimal.Decimal)
	var (
		adjust []makerAdjustment
		err    error
	)
	left := taker.Remaining()
	book.Crossing(taker, func(o *domain.Order) bool {
		if !left.IsPositive() {
			return false
		}
		budget, ok := budgets[o.UserID]
		if !ok {
			if budget, err = s.reducible(ctx, o.UserID, o.MarketID, o.Side); err != nil {
				return false
			}
		}
		qty := o.Remaining()
		if o.IsRestricted() && qty.GreaterThan(budget) {
			qty = decimal.Max(budget, decimal.Zero)
			adjust = append(adjust, makerAdjustment{order: o, remaining: qty})
		}
		fill := decimal.Min(left, qty)
		left = left.Sub(fill)
		budgets[o.UserID] = budget.Sub(fill)
		return true
	})
	if err != nil {
		return err
	}
	for _, a := range adjust {
		if err := s.shrink(ctx, book, a.order, a.remaining, now); err != nil {
			return err
		}
	}
	return nil
}

// reducible 用户以 side 方向下单可减仓的数量，无反向持仓时为 0
func (s *MatchingService) reducible(ctx context.Context, userID, marketID int64, side domain.Side) (decimal.Decimal, error) {
	pos, err := s.repos.Positions.GetOpen(ctx, userID, marketID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load position of user %d: %w", userID, err)
	}
	if pos == nil || pos.Side.ReducingSide() != side {
		return decimal.Zero, nil
	}
	return pos.Amount, nil
}

// shrink 下调或撤销簿内订单，持久化成功后才修改订单簿
func (s *MatchingService) shrink(ctx context.Context, book *domain.OrderBook, o *domain.Order, remaining decimal.Decimal, now time.Time) error {
	c := o.Clone()
	if err := c.Shrink(remaining, now); err != nil {
		return err
	}
	if err := s.settler.Persist(ctx, c); err != nil {
		return err
	}
	book.Remove(o.ID)
	event := domain.OrderAmendedEventType
	switch {
	case c.IsTerminal():
		event = domain.OrderCancelledEventType
	case c.Dormant():
		book.Park(c)
	default:
		book.Rest(c)
	}
	s.logger.InfoContext(ctx, "reduce-only order adjusted to position",
		"order_id", c.ID, "user_id", c.UserID, "status", c.Status, "remaining", c.Remaining().String())
	s.notifier.Notify(ctx, domain.NewEvent(event, c.MarketID, c.UserID, c.Clone(), now))
	return nil
}

// pruneRestricted 撤销用户已无反向持仓可减的减仓单，失败只记录日志
func (s *MatchingService) pruneRestricted(ctx context.Context, book *domain.OrderBook, userID int64, now time.Time) {
	orders := book.Restricted(userID)
	if len(orders) == 0 {
		return
	}
	pos, err := s.repos.Positions.GetOpen(ctx, userID, book.MarketID())
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load position for reduce-only cleanup", "user_id", userID, "error", err)
		return
	}
	changed := false
	for _, o := range orders {
		if pos != nil && pos.Side.ReducingSide() == o.Side {
			continue
		}
		if err := s.shrink(ctx, book, o, decimal.Zero, now); err != nil {
			s.logger.WarnContext(ctx, "failed to cancel stale reduce-only order", "order_id", o.ID, "error", err)
			continue
		}
		changed = true
	}
	if changed {
		s.snapshot(ctx, book)
	}
}

// ReleaseRestricted 持仓在撮合之外平掉后，撤销该用户在市场内失效的减仓单；
// 调用方不得持有持仓锁
func (s *MatchingService) ReleaseRestricted(ctx context.Context, userID, marketID int64) error {
	return s.engine(marketID).Do(ctx, func(book *domain.OrderBook) error {
		s.pruneRestricted(ctx, book, userID, s.clock.Now())
		return nil
	})
}

func closedUsers(deltas []PositionDelta) []int64 {
	var out []int64
	for _, d := range deltas {
		if !d.Position.IsOpen() && !slices.Contains(out, d.Position.UserID) {
			out = append(out, d.Position.UserID)
		}
	}
	return out
}

// cascade 最新成交价变化后依次触发条件单，每个订单在一轮中至多处理一次
func (s *MatchingService) cascade(ctx context.Context, book *domain.OrderBook, mi *marketInfo) {
	seen := make(map[int64]struct{})
	for {
		last, ok := book.LastPrice()
		if !ok {
			return
		}
		var next *domain.Order
		for _, o := range book.Triggered(last) {
			if _, done := seen[o.ID]; !done {
				next = o
				break
			}
		}
		if next == nil {
			return
		}
		seen[next.ID] = struct{}{}
		s.trigger(ctx, book, mi, next)
	}
}

func (s *MatchingService) trigger(ctx context.Context, book *domain.OrderBook, mi *marketInfo, dormant *domain.Order) {
	now := s.clock.Now()
	order := dormant.Clone()
	order.Trigger(now)
	s.notifier.Notify(ctx, domain.NewEvent(domain.OrderTriggeredEventType, order.MarketID, order.UserID, order.Clone(), now))

	err := s.resizeTriggered(ctx, order)
	if err == nil {
		book.Remove(order.ID)
		if _, err = s.execute(ctx, book, mi, order, false); err != nil {
			book.Park(dormant)
		}
	}
	if err == nil {
		return
	}

	if reason := domain.ReasonOf(err); reason == domain.ReasonUnknown || reason == domain.ReasonInvariant {
		s.logger.ErrorContext(ctx, "triggered order failed, kept dormant", "order_id", order.ID, "error", err)
		return
	}
	if rerr := order.Reject(now); rerr != nil {
		return
	}
	if perr := s.settler.Persist(ctx, order); perr != nil {
		s.logger.ErrorContext(ctx, "failed to persist rejected order", "order_id", order.ID, "error", perr)
		return
	}
	book.Remove(order.ID)
	s.logger.WarnContext(ctx, "triggered order rejected", "order_id", order.ID, "reason", domain.ReasonOf(err), "error", err)
	s.notifier.Notify(ctx, domain.NewEvent(domain.OrderRejectedEventType, order.MarketID, order.UserID, order.Clone(), now))
}

// resizeTriggered 触发时重新确认减仓条件
func (s *MatchingService) resizeTriggered(ctx context.Context, o *domain.Order) error {
	if !o.ReduceOnly && !o.ClosePosition {
		return nil
	}
	pos, err := s.repos.Positions.GetOpen(ctx, o.UserID, o.MarketID)
	if err != nil {
		return fmt.Errorf("failed to load position of user %d: %w", o.UserID, err)
	}
	if pos == nil || pos.Side.ReducingSide() != o.Side {
		return fmt.Errorf("%w: position of user %d gone", domain.ErrReduceOnlyViolation, o.UserID)
	}
	if o.ClosePosition && o.FilledAmount.IsZero() {
		o.Amount = pos.Amount
	}
	return nil
}

// Cancel 撤单；已是终态的订单原样返回
func (s *MatchingService) Cancel(ctx context.Context, orderID int64) (*domain.Order, error) {
	o, err := s.repos.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	if o.IsTerminal() {
		return o, nil
	}

	var out *domain.Order
	err = s.engine(o.MarketID).Do(ctx, func(book *domain.OrderBook) error {
		cur, ok := book.Get(orderID)
		if !ok {
			// 排队期间已被撮合完成或撤销
			latest, err := s.repos.Orders.Get(ctx, orderID)
			if err != nil {
				return err
			}
			if latest == nil || latest.IsTerminal() {
				out = latest
				return nil
			}
			cur = latest
		}
		now := s.clock.Now()
		cancelled := cur.Clone()
		if err := cancelled.Cancel(now); err != nil {
			out = cur.Clone()
			return nil
		}
		if err := s.settler.Persist(ctx, cancelled); err != nil {
			return err
		}
		book.Remove(orderID)
		s.snapshot(ctx, book)
		s.notifier.Notify(ctx, domain.NewEvent(domain.OrderCancelledEventType, cancelled.MarketID, cancelled.UserID, cancelled.Clone(), now))
		out = cancelled
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	return out, nil
}

// BatchCancel 逐个撤单，返回逐项结果
func (s *MatchingService) BatchCancel(ctx context.Context, ids []int64) []BatchResult[*domain.Order] {
	results := make([]BatchResult[*domain.Order], 0, len(ids))
	for _, id := range ids {
		o, err := s.Cancel(ctx, id)
		results = append(results, BatchResult[*domain.Order]{ID: id, Value: o, Err: err})
	}
	if failed := Failed(results); failed > 0 {
		logger.Warn(ctx, "batch cancel finished with failures", "total", len(ids), "failed", failed)
	}
	return results
}

// ForceFill 以指定价格（为空时取订单限价）由平台对手方成交订单剩余部分
func (s *MatchingService) ForceFill(ctx context.Context, ids []int64, price *decimal.Decimal) []BatchResult[*domain.Order] {
	results := make([]BatchResult[*domain.Order], 0, len(ids))
	for _, id := range ids {
		o, err := s.forceFill(ctx, id, price)
		if err != nil {
			s.logger.WarnContext(ctx, "force fill failed", "order_id", id, "error", err)
		}
		results = append(results, BatchResult[*domain.Order]{ID: id, Value: o, Err: err})
	}
	return results
}

func (s *MatchingService) forceFill(ctx context.Context, orderID int64, price *decimal.Decimal) (*domain.Order, error) {
	o, err := s.repos.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	if o.IsTerminal() {
		return nil, fmt.Errorf("%w: order %d is %s", domain.ErrOrderTerminal, orderID, o.Status)
	}
	mi, err := loadMarketInfo(ctx, s.repos, o.MarketID)
	if err != nil {
		return nil, err
	}

	var out *domain.Order
	err = s.engine(o.MarketID).Do(ctx, func(book *domain.OrderBook) error {
		cur, ok := book.Get(orderID)
		if !ok {
			return fmt.Errorf("%w: order %d no longer active", domain.ErrOrderTerminal, orderID)
		}
		fill := cur.Price
		if price != nil {
			fill = price
		}
		if fill == nil || !fill.IsPositive() {
			return fmt.Errorf("%w: force fill of order %d needs a price", domain.ErrInvalidOrder, orderID)
		}
		if !domain.FitsScale(*fill, mi.market.PricePrecision) {
			return fmt.Errorf("%w: price %s exceeds %d places", domain.ErrPrecisionViolation, fill, mi.market.PricePrecision)
		}

		now := s.clock.Now()
		taker := cur.Clone()
		if taker.Dormant() {
			taker.Trigger(now)
		}
		plan, err := domain.PlanHouseFill(taker, *fill, mi.fees, s.ids, now)
		if err != nil {
			return err
		}
		deltas, err := s.settler.Settle(ctx, mi, plan)
		if err != nil {
			return err
		}
		book.Apply(plan)
		s.publish(ctx, plan, false, now)
		s.positions.publish(ctx, deltas)
		s.metrics.TradesTotal.WithLabelValues(strconv.FormatInt(mi.market.ID, 10)).Inc()
		s.snapshot(ctx, book)
		out = plan.Taker.Clone()
		s.cascade(ctx, book, mi)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WarnContext(ctx, "order force filled", "order_id", orderID, "price", out.AvgFillPrice)
	return out, nil
}

// Depth 聚合前 n 档盘口
func (s *MatchingService) Depth(ctx context.Context, marketID int64, n int) (*domain.Depth, error) {
	m, err := s.repos.Markets.Get(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get market %d: %w", marketID, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownMarket, marketID)
	}
	var out domain.Depth
	err = s.engine(marketID).Do(ctx, func(book *domain.OrderBook) error {
		out = book.Depth(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// snapshot 推送盘口快照到读模型，失败只记录日志
func (s *MatchingService) snapshot(ctx context.Context, book *domain.OrderBook) {
	if s.repos.Depth == nil {
		return
	}
	if err := s.repos.Depth.SaveDepth(ctx, book.Depth(s.cfg.SnapshotDepth)); err != nil {
		s.logger.WarnContext(ctx, "failed to save depth snapshot", "market_id", book.MarketID(), "error", err)
	}
}

// publish 通知订单与成交事件，accepted 表示 taker 为新订单
func (s *MatchingService) publish(ctx context.Context, plan *domain.MatchPlan, accepted bool, now time.Time) {
	events := make([]domain.Event, 0, len(plan.Trades)+len(plan.Makers)+2)
	taker := plan.Taker
	if accepted {
		events = append(events, domain.NewEvent(domain.OrderAcceptedEventType, taker.MarketID, taker.UserID, taker.Clone(), now))
	}
	for _, t := range plan.Trades {
		events = append(events, domain.NewEvent(domain.TradeExecutedEventType, t.MarketID, t.UserID, *t, now))
	}
	for _, o := range plan.Orders() {
		if t := domain.OrderEventType(o); t != domain.OrderAcceptedEventType {
			events = append(events, domain.NewEvent(t, o.MarketID, o.UserID, o.Clone(), now))
		}
	}
	s.notifier.Notify(ctx, events...)
}

func takerTrades(plan *domain.MatchPlan) []*domain.Trade {
	var out []*domain.Trade
	for _, t := range plan.Trades {
		if t.OrderID == plan.Taker.ID {
			out = append(out, t)
		}
	}
	return out
}
