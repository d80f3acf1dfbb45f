package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	OrderAcceptedEventType        EventType = "OrderAccepted"
	OrderFilledEventType          EventType = "OrderFilled"
	OrderPartiallyFilledEventType EventType = "OrderPartiallyFilled"
	OrderCancelledEventType       EventType = "OrderCancelled"
	OrderExpiredEventType         EventType = "OrderExpired"
	OrderRejectedEventType        EventType = "OrderRejected"
	OrderTriggeredEventType       EventType = "OrderTriggered"
	OrderAmendedEventType         EventType = "OrderAmended"
	TradeExecutedEventType        EventType = "TradeExecuted"
	PositionOpenedEventType       EventType = "PositionOpened"
	PositionUpdatedEventType      EventType = "PositionUpdated"
	PositionClosedEventType       EventType = "PositionClosed"
	PositionLiquidatedEventType   EventType = "PositionLiquidated"
	FundingAppliedEventType       EventType = "FundingApplied"
)

// Event 对下游通知/账本的事件
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	MarketID   int64     `json:"market_id"`
	UserID     int64     `json:"user_id,omitempty"`
	Payload    any       `json:"payload"`
	OccurredOn time.Time `json:"occurred_on"`
}

// NewEvent 创建事件
func NewEvent(t EventType, marketID, userID int64, payload any, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		MarketID:   marketID,
		UserID:     userID,
		Payload:    payload,
		OccurredOn: now,
	}
}

// OrderEventType 订单当前状态对应的事件
func OrderEventType(o *Order) EventType {
	switch o.Status {
	case OrderStatusFilled:
		return OrderFilledEventType
	case OrderStatusPartiallyFilled:
		return OrderPartiallyFilledEventType
	case OrderStatusCancelled:
		return OrderCancelledEventType
	case OrderStatusExpired:
		return OrderExpiredEventType
	case OrderStatusRejected:
		return OrderRejectedEventType
	default:
		return OrderAcceptedEventType
	}
}

// Notifier 事件下游，调用方不等待投递结果
type Notifier interface {
	Notify(ctx context.Context, events ...Event)
}

// NopNotifier 丢弃所有事件
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, ...Event) {}
