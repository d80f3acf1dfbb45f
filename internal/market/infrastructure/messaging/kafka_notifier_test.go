package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

type fakeSender struct {
	mu      sync.Mutex
	entered chan struct{}
	gate    chan struct{}
	err     error
	msgs    []kafka.Message
}

func (s *fakeSender) SendRaw(ctx context.Context, msgs ...kafka.Message) error {
	if s.gate != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func event(marketID int64) domain.Event {
	return domain.NewEvent(domain.OrderAcceptedEventType, marketID, 1, nil, time.Now())
}

func TestKafkaNotifier_DeliversAndFlushesOnClose(t *testing.T) {
	sender := &fakeSender{}
	n := NewKafkaNotifier(sender, "market.events", 16, metrics.New("test"), quietLogger())

	n.Notify(context.Background(), event(1), event(2), event(3))
	require.NoError(t, n.Close(context.Background()))

	require.Equal(t, 3, sender.count())
	msg := sender.msgs[0]
	assert.Equal(t, "market.events", msg.Topic)
	assert.Equal(t, "1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(domain.OrderAcceptedEventType), string(msg.Headers[0].Value))

	n.Notify(context.Background(), event(4))
	assert.Equal(t, 3, sender.count())
}

func TestKafkaNotifier_DropsWhenBufferFull(t *testing.T) {
	sender := &fakeSender{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	m := metrics.New("test")
	n := NewKafkaNotifier(sender, "market.events", 1, m, quietLogger())

	// 第一条被写入协程取走并阻塞在 gate 上
	n.Notify(context.Background(), event(1))
	select {
	case <-sender.entered:
	case <-time.After(time.Second):
		t.Fatal("writer did not pick up the first event")
	}

	n.Notify(context.Background(), event(2), event(3), event(4))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.NotificationsDrops))

	close(sender.gate)
	require.NoError(t, n.Close(context.Background()))
	assert.Equal(t, 2, sender.count())
}

func TestKafkaNotifier_SendFailureCountsAsDrop(t *testing.T) {
	sender := &fakeSender{err: errors.New("broker down")}
	m := metrics.New("test")
	n := NewKafkaNotifier(sender, "market.events", 8, m, quietLogger())

	n.Notify(context.Background(), event(1), event(1))
	require.NoError(t, n.Close(context.Background()))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.NotificationsDrops))
}
