// Package mysql 市场核心仓储的 GORM 实现，同时支持 MySQL 与 PostgreSQL 方言。
// 事务句柄通过 context 传递，fn 内的仓储调用共享同一事务。
package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/db"
	"github.com/wyfcoding/marketcore/pkg/logger"
)

// Store 基于 GORM 的仓储集合，实现 domain.TxManager
type Store struct {
	db *db.DB
}

// NewStore 构造函数。
func NewStore(d *db.DB) *Store {
	return &Store{db: d}
}

// WithTx 实现 domain.TxManager
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithTx(ctx, fn)
}

// AutoMigrate 建表与索引
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.Conn(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate market schema: %w", err)
	}
	logger.Info(ctx, "market schema migrated", "tables", len(Models()))
	return nil
}

func (s *Store) Currencies() domain.CurrencyRepository { return &currencyRepository{db: s.db} }
func (s *Store) Markets() domain.MarketRepository { return &marketRepository{db: s.db} }
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{db: s.db} }
func (s *Store) Trades() domain.TradeRepository { return &tradeRepository{db: s.db} }
func (s *Store) Positions() domain.PositionRepository { return &positionRepository{db: s.db} }
func (s *Store) Funding() domain.FundingRepository { return &fundingRepository{db: s.db} }
func (s *Store) Liquidations() domain.LiquidationRepository { return &liquidationRepository{db: s.db} }

// first 查询单条，不存在时返回 false
func first(q *gorm.DB, dest any) (bool, error) {
	err := q.First(dest).Error
	if db.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// save 主键已存在时按主键更新全部列，否则插入；其他唯一键冲突以错误返回，不覆盖已有行
func save[M any](tx *gorm.DB, model *M, id int64) error {
	var n int64
	if err := tx.Model(new(M)).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return tx.Create(model).Error
	}
	return tx.Model(model).Select("*").Updates(model).Error
}

type currencyRepository struct {
	db *db.DB
}

func (r *currencyRepository) Create(ctx context.Context, c *domain.Currency) error {
	err := r.db.Conn(ctx).Create(toCurrencyModel(c)).Error
	if db.IsDuplicate(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateCurrency, c.Symbol)
	}
	if err != nil {
		return fmt.Errorf("failed to create currency %s: %w", c.Symbol, err)
	}
	return nil
}

func (r *currencyRepository) Update(ctx context.Context, c *domain.Currency) error {
	if err := r.db.Conn(ctx).Save(toCurrencyModel(c)).Error; err != nil {
		return fmt.Errorf("failed to update currency %s: %w", c.Symbol, err)
	}
	return nil
}

func (r *currencyRepository) Get(ctx context.Context, symbol string) (*domain.Currency, error) {
	var m CurrencyModel
	ok, err := first(r.db.Conn(ctx).Scopes(notDeleted).Where("symbol = ?", symbol), &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *currencyRepository) List(ctx context.Context) ([]*domain.Currency, error) {
	var models []CurrencyModel
	if err := r.db.Conn(ctx).Scopes(notDeleted).Order("symbol").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	out := make([]*domain.Currency, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

type marketRepository struct {
	db *db.DB
}

func (r *marketRepository) Create(ctx context.Context, m *domain.Market) error {
	err := r.db.Conn(ctx).Create(toMarketModel(m)).Error
	if db.IsDuplicate(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMarket, m)
	}
	if err != nil {
		return fmt.Errorf("failed to create market %s: %w", m, err)
	}
	return nil
}

func (r *marketRepository) Update(ctx context.Context, m *domain.Market) error {
	model := toMarketModel(m)
	if err := r.db.Conn(ctx).Model(model).Select("*").Updates(model).Error; err != nil {
		return fmt.Errorf("failed to update market %d: %w", m.ID, err)
	}
	return nil
}

func (r *marketRepository) Get(ctx context.Context, id int64) (*domain.Market, error) {
	var m MarketModel
	ok, err := first(r.db.Conn(ctx).Scopes(notDeleted).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *marketRepository) GetByPair(ctx context.Context, base, quote string, t domain.MarketType) (*domain.Market, error) {
	var m MarketModel
	q := r.db.Conn(ctx).Scopes(notDeleted).Where("base = ? AND quote = ? AND type = ?", base, quote, string(t))
	ok, err := first(q, &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *marketRepository) List(ctx context.Context, t domain.MarketType) ([]*domain.Market, error) {
	q := r.db.Conn(ctx).Scopes(notDeleted)
	if t != "" {
		q = q.Where("type = ?", string(t))
	}
	var models []MarketModel
	if err := q.Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	out := make([]*domain.Market, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *marketRepository) CountByCurrency(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := r.db.Conn(ctx).Model(&MarketModel{}).Scopes(notDeleted).
		Where("base = ? OR quote = ?", symbol, symbol).Count(&n).Error
	return n, err
}

type orderRepository struct {
	db *db.DB
}

func (r *orderRepository) Save(ctx context.Context, o *domain.Order) error {
	err := save(r.db.Conn(ctx), toOrderModel(o), o.ID)
	if db.IsDuplicate(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOrder, o.ClientOrderID)
	}
	if err != nil {
		logger.Error(ctx, "order_repository.save failed", "order_id", o.ID, "error", err)
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (*domain.Order, error) {
	var m OrderModel
	ok, err := first(r.db.Conn(ctx).Scopes(notDeleted).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *orderRepository) GetByClientOrderID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	var m OrderModel
	ok, err := first(r.db.Conn(ctx).Scopes(notDeleted).Where("client_order_id = ?", clientOrderID), &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *orderRepository) ListActive(ctx context.Context, marketID int64) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.Conn(ctx).Scopes(notDeleted).
		Where("market_id = ? AND status IN ?", marketID, []string{string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled)}).
		Order("seq asc").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders of market %d: %w", marketID, err)
	}
	out := make([]*domain.Order, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *orderRepository) MaxSeq(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Conn(ctx).Model(&OrderModel{}).Select("COALESCE(MAX(seq), 0)").Scan(&n).Error
	return n, err
}

type tradeRepository struct {
	db *db.DB
}

func (r *tradeRepository) Append(ctx context.Context, trades ...*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]*TradeModel, len(trades))
	for i, t := range trades {
		models[i] = toTradeModel(t)
	}
	if err := r.db.Conn(ctx).Create(models).Error; err != nil {
		return fmt.Errorf("failed to append %d trades: %w", len(trades), err)
	}
	return nil
}

func (r *tradeRepository) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Trade, error) {
	var models []TradeModel
	if err := r.db.Conn(ctx).Scopes(notDeleted).Where("order_id = ?", orderID).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades of order %d: %w", orderID, err)
	}
	out := make([]*domain.Trade, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (r *tradeRepository) Last(ctx context.Context, marketID int64) (*domain.Trade, error) {
	var m TradeModel
	q := r.db.Conn(ctx).Scopes(notDeleted).Where("market_id = ?", marketID).Order("id desc")
	ok, err := first(q, &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

type positionRepository struct {
	db *db.DB
}

func (r *positionRepository) Save(ctx context.Context, p *domain.Position) error {
	if err := save(r.db.Conn(ctx), toPositionModel(p), p.ID); err != nil {
		logger.Error(ctx, "position_repository.save failed", "position_id", p.ID, "error", err)
		return fmt.Errorf("failed to save position %d: %w", p.ID, err)
	}
	return nil
}

func (r *positionRepository) Get(ctx context.Context, id int64) (*domain.Position, error) {
	var m PositionModel
	ok, err := first(r.db.Conn(ctx).Scopes(notDeleted).Where("id = ?", id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *positionRepository) GetOpen(ctx context.Context, userID, marketID int64) (*domain.Position, error) {
	var m PositionModel
	q := r.db.Conn(ctx).Scopes(notDeleted).
		Where("user_id = ? AND market_id = ? AND status = ?", userID, marketID, string(domain.PositionOpen))
	ok, err := first(q, &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *positionRepository) ListOpen(ctx context.Context, marketID int64) ([]*domain.Position, error) {
	q := r.db.Conn(ctx).Scopes(notDeleted).Where("status = ?", string(domain.PositionOpen))
	if marketID != 0 {
		q = q.Where("market_id = ?", marketID)
	}
	var models []PositionModel
	if err := q.Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	out := make([]*domain.Position, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

type fundingRepository struct {
	db *db.DB
}

func (r *fundingRepository) Append(ctx context.Context, f *domain.FundingRate) error {
	if err := r.db.Conn(ctx).Create(toFundingRateModel(f)).Error; err != nil {
		return fmt.Errorf("failed to append funding rate of market %d: %w", f.MarketID, err)
	}
	return nil
}

func (r *fundingRepository) Latest(ctx context.Context, marketID int64) (*domain.FundingRate, error) {
	var m FundingRateModel
	q := r.db.Conn(ctx).Scopes(notDeleted).Where("market_id = ?", marketID).Order("created_at desc, id desc")
	ok, err := first(q, &m)
	if err != nil || !ok {
		return nil, err
	}
	return m.toDomain(), nil
}

type liquidationRepository struct {
	db *db.DB
}

func (r *liquidationRepository) Append(ctx context.Context, l *domain.Liquidation) error {
	if err := r.db.Conn(ctx).Create(toLiquidationModel(l)).Error; err != nil {
		return fmt.Errorf("failed to append liquidation of position %d: %w", l.PositionID, err)
	}
	return nil
}

func (r *liquidationRepository) ListByPosition(ctx context.Context, positionID int64) ([]*domain.Liquidation, error) {
	var models []LiquidationModel
	if err := r.db.Conn(ctx).Scopes(notDeleted).Where("position_id = ?", positionID).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list liquidations of position %d: %w", positionID, err)
	}
	out := make([]*domain.Liquidation, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}
