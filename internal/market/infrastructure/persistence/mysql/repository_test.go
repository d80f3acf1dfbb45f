package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/db"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger:         db.NewGormLogger(false, 0),
		TranslateError: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return NewStore(db.Wrap(gdb)), mock
}

func duplicateEntry() error {
	return &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}
}

func TestOrderRepository_GetSkipsSoftDeleted(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? AND is_deleted = \\?").
		WithArgs(int64(7), false, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	o, err := store.Orders().Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestOrderRepository_SaveInsertsNewRowWithoutUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `orders` WHERE id = \\?").
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO `orders` \\(.+\\) VALUES \\(.+\\)$").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o := &domain.Order{ID: 11, Amount: decimal.NewFromInt(1), Status: domain.OrderStatusOpen, ClientOrderID: "c-1"}
	require.NoError(t, store.Orders().Save(context.Background(), o))
}

func TestOrderRepository_SaveUpdatesExistingByPrimaryKey(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `orders` WHERE id = \\?").
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("^UPDATE `orders` SET .+ WHERE .+id` = \\?$").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o := &domain.Order{ID: 11, Amount: decimal.NewFromInt(1), FilledAmount: decimal.NewFromInt(1), Status: domain.OrderStatusFilled}
	require.NoError(t, store.Orders().Save(context.Background(), o))
}

// 另一订单已占用 client_order_id 时插入失败，已有行不被覆盖
func TestOrderRepository_DuplicateClientOrderID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO `orders`").WillReturnError(duplicateEntry())
	mock.ExpectRollback()

	o := &domain.Order{ID: 12, Amount: decimal.NewFromInt(1), Status: domain.OrderStatusOpen, ClientOrderID: "c-1"}
	err := store.Orders().Save(context.Background(), o)
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.Equal(t, domain.ReasonDuplicateOrder, domain.ReasonOf(err))
}

func TestOrderRepository_ListActiveOrderedBySeq(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "market_id", "status", "seq", "amount", "filled_amount"}).
		AddRow(21, 3, "open", 5, "1", "0").
		AddRow(20, 3, "partially_filled", 9, "2", "1")
	mock.ExpectQuery("SELECT \\* FROM `orders` WHERE .*market_id = \\?.*status IN \\(\\?,\\?\\).* AND is_deleted = \\? ORDER BY seq asc$").
		WithArgs(int64(3), "open", "partially_filled", false).
		WillReturnRows(rows)

	orders, err := store.Orders().ListActive(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(21), orders[0].ID)
	assert.Equal(t, int64(9), orders[1].Seq)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, orders[1].Status)
	assert.True(t, orders[1].Remaining().Equal(decimal.NewFromInt(1)))
}

func TestOrderRepository_ListByMarketTypeUsesSubquery(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `orders` WHERE user_id = \\? AND market_id IN \\(SELECT `id` FROM `markets` WHERE type = \\?\\) AND is_deleted = \\? ORDER BY seq desc LIMIT \\?").
		WithArgs(int64(5), "futures", false, domain.DefaultPageLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq"}).AddRow(2, 8).AddRow(1, 3))

	orders, err := store.Orders().List(context.Background(), domain.OrderFilter{UserID: 5, MarketType: domain.MarketFutures})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(8), orders[0].Seq)
}

func TestPositionRepository_SaveInsertsNewRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `positions` WHERE id = \\?").
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO `positions` \\(.+\\) VALUES \\(.+\\)$").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := &domain.Position{ID: 30, UserID: 1, MarketID: 2, Side: domain.PositionLong, Status: domain.PositionOpen, Leverage: 1}
	require.NoError(t, store.Positions().Save(context.Background(), p))
}

func TestFundingRepository_LatestNewestFirst(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "market_id", "rate", "mark_price", "next_funding_time", "created_at"}).
		AddRow(44, 2, "0.0001", "100", created.Add(8*time.Hour), created)
	mock.ExpectQuery("SELECT \\* FROM `funding_rates` WHERE market_id = \\? AND is_deleted = \\? ORDER BY created_at desc, id desc").
		WithArgs(int64(2), false, 1).
		WillReturnRows(rows)

	f, err := store.Funding().Latest(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, int64(44), f.ID)
	assert.True(t, f.Rate.Equal(decimal.RequireFromString("0.0001")))
	assert.Equal(t, created.Add(8*time.Hour), f.NextFundingTime)
}

func TestFundingRepository_LatestMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `funding_rates`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	f, err := store.Funding().Latest(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestCurrencyRepository_DuplicateMapped(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO `currencies`").WillReturnError(duplicateEntry())
	mock.ExpectRollback()

	c, err := domain.NewCurrency("BTC", "Bitcoin", 8, false, false, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, store.Currencies().Create(context.Background(), c), domain.ErrDuplicateCurrency)
}

func TestMarketRepository_DuplicatePairMapped(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO `markets`").WillReturnError(duplicateEntry())
	mock.ExpectRollback()

	m := domain.MarketDefaults()
	m.ID, m.Base, m.Quote, m.Type = 9, "BTC", "USDT", domain.MarketSpot
	assert.ErrorIs(t, store.Markets().Create(context.Background(), &m), domain.ErrDuplicateMarket)
}

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `positions`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("^INSERT INTO `positions`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := assert.AnError
	err := store.WithTx(context.Background(), func(ctx context.Context) error {
		p := &domain.Position{ID: 31, Side: domain.PositionShort, Status: domain.PositionOpen, Leverage: 2}
		if err := store.Positions().Save(ctx, p); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
