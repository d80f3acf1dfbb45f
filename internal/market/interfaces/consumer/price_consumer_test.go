package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/internal/market/infrastructure/priceindex"
	"github.com/wyfcoding/marketcore/pkg/mq"
)

type sliceSource struct {
	mu        sync.Mutex
	msgs      []*mq.Message
	fetchErrs int
	committed []int64
}

func (s *sliceSource) FetchMessage(ctx context.Context) (*mq.Message, error) {
	s.mu.Lock()
	if s.fetchErrs > 0 {
		s.fetchErrs--
		s.mu.Unlock()
		return nil, errors.New("broker unavailable")
	}
	if len(s.msgs) > 0 {
		m := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *sliceSource) Commit(_ context.Context, msgs ...*mq.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *sliceSource) commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

type recordingUpdater struct {
	mu    sync.Mutex
	err   error
	fails int
	marks map[int64]decimal.Decimal
}

func (u *recordingUpdater) UpdateMarkPrice(_ context.Context, marketID int64, mark decimal.Decimal) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fails > 0 {
		u.fails--
		return 0, errors.New("db timeout")
	}
	if u.err != nil {
		return 0, u.err
	}
	if u.marks == nil {
		u.marks = make(map[int64]decimal.Decimal)
	}
	u.marks[marketID] = mark
	return 1, nil
}

type recordingDLQ struct {
	mu      sync.Mutex
	reasons []string
}

func (d *recordingDLQ) Send(_ context.Context, _ *mq.Message, reason string, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	return nil
}

func newConsumer(src MessageSource, idx TickPublisher, upd MarkUpdater, dlq DeadLetter) *PriceConsumer {
	return NewPriceConsumer(src, idx, upd, dlq, Config{MaxTries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPriceConsumer_HandleAppliesTick(t *testing.T) {
	idx := priceindex.NewStaticIndex()
	upd := &recordingUpdater{fails: 2}
	dlq := &recordingDLQ{}
	c := newConsumer(&sliceSource{}, idx, upd, dlq)

	c.Handle(context.Background(), &mq.Message{Value: []byte(`{"market_id":7,"mark_price":"101.5","funding_rate":"0.0001"}`)})

	mark, err := idx.MarkPrice(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, mark.Equal(decimal.RequireFromString("101.5")))
	rate, err := idx.FundingRate(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, upd.marks[7].Equal(mark))
	assert.Empty(t, dlq.reasons)
}

func TestPriceConsumer_HandleRejectsBadMessages(t *testing.T) {
	dlq := &recordingDLQ{}
	upd := &recordingUpdater{err: domain.ErrUnknownMarket}
	c := newConsumer(&sliceSource{}, priceindex.NewStaticIndex(), upd, dlq)
	ctx := context.Background()

	c.Handle(ctx, &mq.Message{Value: []byte(`not json`)})
	c.Handle(ctx, &mq.Message{Value: []byte(`{"market_id":7,"mark_price":"0"}`)})
	c.Handle(ctx, &mq.Message{Value: []byte(`{"market_id":9,"mark_price":"10"}`)})

	assert.Equal(t, []string{"decode", "validate", "mark_to_market"}, dlq.reasons)
}

func TestPriceConsumer_RunCommitsAndStops(t *testing.T) {
	src := &sliceSource{
		fetchErrs: 2,
		msgs: []*mq.Message{
			{Offset: 1, Value: []byte(`{"market_id":1,"mark_price":"100"}`)},
			{Offset: 2, Value: []byte(`garbage`)},
		},
	}
	dlq := &recordingDLQ{}
	c := newConsumer(src, priceindex.NewStaticIndex(), &recordingUpdater{}, dlq)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return src.commits() == 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []string{"decode"}, dlq.reasons)
}
