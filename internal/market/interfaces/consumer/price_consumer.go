// Package consumer 消费 Kafka 标记价格推送，写入价格指数并刷新持仓盈亏。
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/mq"
)

// MessageSource 手动提交偏移量的消息来源，由 mq.KafkaConsumer 实现
type MessageSource interface {
	FetchMessage(ctx context.Context) (*mq.Message, error)
	Commit(ctx context.Context, msgs ...*mq.Message) error
}

// TickPublisher 价格指数写入端
type TickPublisher interface {
	Publish(ctx context.Context, tick domain.PriceTick) error
}

// MarkUpdater 按标记价格刷新持仓
type MarkUpdater interface {
	UpdateMarkPrice(ctx context.Context, marketID int64, mark decimal.Decimal) (int, error)
}

// DeadLetter 死信出口，由 mq.DeadLetterQueue 实现
type DeadLetter interface {
	Send(ctx context.Context, original *mq.Message, reason string, err error) error
}

// Config 重试参数
type Config struct {
	MaxTries       uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// PriceConsumer 标记价格消费者
type PriceConsumer struct {
	source    MessageSource
	index     TickPublisher
	positions MarkUpdater
	dlq       DeadLetter
	cfg       Config
	logger    *slog.Logger
}

// NewPriceConsumer dlq 可为 nil，此时无法处理的消息只记录日志后提交
func NewPriceConsumer(source MessageSource, index TickPublisher, positions MarkUpdater, dlq DeadLetter, cfg Config, logger *slog.Logger) *PriceConsumer {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &PriceConsumer{
		source:    source,
		index:     index,
		positions: positions,
		dlq:       dlq,
		cfg:       cfg,
		logger:    logger.With("module", "price_consumer"),
	}
}

func (c *PriceConsumer) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	return b
}

// Run 循环消费直到 ctx 取消
func (c *PriceConsumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "price consumer started")
	for {
		msg, err := backoff.Retry(ctx, func() (*mq.Message, error) {
			m, err := c.source.FetchMessage(ctx)
			if err != nil && ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return m, err
		}, backoff.WithBackOff(c.backOff()), backoff.WithMaxElapsedTime(0))
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "price consumer stopped")
			return nil
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to fetch price tick", "error", err)
			continue
		}

		c.Handle(ctx, msg)
		if err := c.source.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "failed to commit price tick", "offset", msg.Offset, "error", err)
		}
	}
}

// Handle 处理单条消息，失败的消息进入死信队列，调用方随后提交偏移量
func (c *PriceConsumer) Handle(ctx context.Context, msg *mq.Message) {
	var tick domain.PriceTick
	if err := msg.UnmarshalPayload(&tick); err != nil {
		c.deadLetter(ctx, msg, "decode", err)
		return
	}
	if tick.MarketID <= 0 || !tick.MarkPrice.IsPositive() {
		c.deadLetter(ctx, msg, "validate", fmt.Errorf("%w: market %d mark %s", domain.ErrPriceUnavailable, tick.MarketID, tick.MarkPrice))
		return
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.index.Publish(ctx, tick)
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(c.cfg.MaxTries))
	if err != nil {
		c.deadLetter(ctx, msg, "publish", err)
		return
	}

	n, err := backoff.Retry(ctx, func() (int, error) {
		n, err := c.positions.UpdateMarkPrice(ctx, tick.MarketID, tick.MarkPrice)
		if errors.Is(err, domain.ErrUnknownMarket) || errors.Is(err, domain.ErrPriceUnavailable) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(c.cfg.MaxTries))
	if err != nil {
		c.deadLetter(ctx, msg, "mark_to_market", err)
		return
	}
	c.logger.DebugContext(ctx, "price tick applied", "market_id", tick.MarketID, "mark", tick.MarkPrice.String(), "positions", n)
}

func (c *PriceConsumer) deadLetter(ctx context.Context, msg *mq.Message, reason string, cause error) {
	c.logger.WarnContext(ctx, "price tick rejected", "reason", reason, "offset", msg.Offset, "error", cause)
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Send(ctx, msg, reason, cause); err != nil {
		c.logger.ErrorContext(ctx, "failed to send price tick to dead letter queue", "offset", msg.Offset, "error", err)
	}
}
