package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/internal/market/infrastructure/persistence/memory"
	"github.com/wyfcoding/marketcore/internal/market/infrastructure/priceindex"
	"github.com/wyfcoding/marketcore/pkg/idgen"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, events ...domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *recordingNotifier) count(t domain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

type testEnv struct {
	ctx      context.Context
	store    *memory.Store
	index    *priceindex.StaticIndex
	clock    *testClock
	notifier *recordingNotifier
	svc      *Services
	spot     *domain.Market
	futures  *domain.Market
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func i32(v int32) *int32 { return &v }

func memoryRepos(s *memory.Store) Repositories {
	return Repositories{
		Tx:           s,
		Currencies:   s.Currencies(),
		Markets:      s.Markets(),
		Orders:       s.Orders(),
		Trades:       s.Trades(),
		Positions:    s.Positions(),
		Funding:      s.Funding(),
		Liquidations: s.Liquidations(),
		Depth:        s.Depth(),
	}
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	ids, err := idgen.NewSnowflake(1)
	require.NoError(t, err)

	env := &testEnv{
		ctx:      context.Background(),
		store:    memory.NewStore(),
		index:    priceindex.NewStaticIndex(),
		clock:    &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	env.svc = NewServices(Dependencies{
		Repos:      memoryRepos(env.store),
		IDs:        ids,
		Clock:      env.clock,
		Notifier:   env.notifier,
		PriceIndex: env.index,
		Metrics:    metrics.New("test"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Matching:   MatchingConfig{QueueSize: 64, SnapshotDepth: 10},
		Liquidation: LiquidationConfig{
			FeeRate: d("0.001"),
		},
	})
	t.Cleanup(env.svc.Stop)

	reg := env.svc.Registry
	_, err = reg.RegisterCurrency(env.ctx, RegisterCurrencyCommand{Symbol: "USDT", Name: "Tether", Decimals: i32(6), IsStableCoin: true})
	require.NoError(t, err)
	_, err = reg.RegisterCurrency(env.ctx, RegisterCurrencyCommand{Symbol: "BTC", Name: "Bitcoin"})
	require.NoError(t, err)

	env.spot, err = reg.RegisterMarket(env.ctx, RegisterMarketCommand{
		Base: "BTC", Quote: "USDT", Type: domain.MarketSpot, MinOrderAmount: d("0.001"),
	})
	require.NoError(t, err)
	env.futures, err = reg.RegisterMarket(env.ctx, RegisterMarketCommand{
		Base: "BTC", Quote: "USDT", Type: domain.MarketFutures,
		MinNotional: dp("0"), MakerFee: dp("0"), TakerFee: dp("0"),
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) limit(t testing.TB, marketID, userID int64, side domain.Side, price, amount string) *SubmitResult {
	t.Helper()
	res, err := e.svc.Matching.Submit(e.ctx, SubmitOrderCommand{
		UserID: userID, MarketID: marketID, Type: domain.OrderTypeLimit, Side: side,
		Amount: d(amount), Price: dp(price),
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) market(t testing.TB, marketID, userID int64, side domain.Side, amount string) *SubmitResult {
	t.Helper()
	res, err := e.svc.Matching.Submit(e.ctx, SubmitOrderCommand{
		UserID: userID, MarketID: marketID, Type: domain.OrderTypeMarket, Side: side, Amount: d(amount),
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) order(t testing.TB, id int64) *domain.Order {
	t.Helper()
	o, err := e.store.Orders().Get(e.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (e *testEnv) openPosition(t testing.TB, userID int64) *domain.Position {
	t.Helper()
	p, err := e.store.Positions().GetOpen(e.ctx, userID, e.futures.ID)
	require.NoError(t, err)
	return p
}

// openFuturesPair 用户 long 以 leverage 倍做多 amount@price，用户 short 为对手方
func (e *testEnv) openFuturesPair(t testing.TB, long, short int64, price, amount string, leverage int32) {
	t.Helper()
	e.limit(t, e.futures.ID, short, domain.SideSell, price, amount)
	_, err := e.svc.Matching.Submit(e.ctx, SubmitOrderCommand{
		UserID: long, MarketID: e.futures.ID, Type: domain.OrderTypeMarket, Side: domain.SideBuy,
		Amount: d(amount), Leverage: leverage,
	})
	require.NoError(t, err)
}
