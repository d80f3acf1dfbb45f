// Package messaging 领域事件的 Kafka 通知出口。
// 通知是尽力而为的：缓冲区满时丢弃并计数，不阻塞撮合与结算路径。
package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/metrics"
)

const (
	maxBatch     = 100
	writeTimeout = 5 * time.Second
)

// Sender 批量写入 Kafka，由 mq.KafkaProducer 实现
type Sender interface {
	SendRaw(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier 实现 domain.Notifier，后台协程批量写入
type KafkaNotifier struct {
	sender  Sender
	topic   string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan domain.Event
	done   chan struct{}
}

// NewKafkaNotifier 创建并启动后台写入协程
func NewKafkaNotifier(sender Sender, topic string, bufferSize int, m *metrics.Metrics, logger *slog.Logger) *KafkaNotifier {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	n := &KafkaNotifier{
		sender:  sender,
		topic:   topic,
		metrics: m,
		logger:  logger.With("module", "kafka_notifier"),
		events:  make(chan domain.Event, bufferSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify 非阻塞入队
func (n *KafkaNotifier) Notify(ctx context.Context, events ...domain.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, e := range events {
		select {
		case n.events <- e:
		default:
			n.metrics.NotificationsDrops.Inc()
			n.logger.WarnContext(ctx, "notification buffer full, event dropped", "event_id", e.ID, "type", e.Type, "market_id", e.MarketID)
		}
	}
}

// Close 停止接收并等待缓冲区写完，ctx 到期时放弃剩余事件
func (n *KafkaNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *KafkaNotifier) run() {
	defer close(n.done)
	batch := make([]kafka.Message, 0, maxBatch)
	for e := range n.events {
		batch = append(batch[:0], n.encode(e))
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-n.events:
				if !ok {
					break drain
				}
				batch = append(batch, n.encode(next))
			default:
				break drain
			}
		}
		n.flush(batch)
	}
}

func (n *KafkaNotifier) encode(e domain.Event) kafka.Message {
	value, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("failed to encode event", "event_id", e.ID, "error", err)
		value = nil
	}
	return kafka.Message{
		Topic: n.topic,
		Key:   []byte(strconv.FormatInt(e.MarketID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
		Time: e.OccurredOn,
	}
}

func (n *KafkaNotifier) flush(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := n.sender.SendRaw(ctx, batch...); err != nil {
		n.metrics.NotificationsDrops.Add(float64(len(batch)))
		n.logger.Warn("failed to publish notifications", "count", len(batch), "error", err)
	}
}
