package application

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct 结构体标签校验，失败时以 sentinel 包装
func validateStruct(s any, sentinel error) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return nil
}

// SubmitOrderCommand 下单命令
type SubmitOrderCommand struct {
	UserID        int64              `json:"user_id" validate:"gt=0"`
	MarketID      int64              `json:"market_id" validate:"gt=0"`
	Type          domain.OrderType   `json:"type" validate:"oneof=market limit stop_limit stop_market take_profit_limit take_profit_market"`
	Side          domain.Side        `json:"side" validate:"oneof=buy sell"`
	Amount        decimal.Decimal    `json:"amount"`
	Price         *decimal.Decimal   `json:"price,omitempty"`
	StopPrice     *decimal.Decimal   `json:"stop_price,omitempty"`
	TimeInForce   domain.TimeInForce `json:"time_in_force" validate:"omitempty,oneof=GTC IOC FOK"`
	ReduceOnly    bool               `json:"reduce_only"`
	ClosePosition bool               `json:"close_position"`
	Leverage      int32              `json:"leverage" validate:"gte=0"`
	ClientOrderID string             `json:"client_order_id,omitempty" validate:"omitempty,max=50,printascii"`
}

// SubmitResult 下单结果，Duplicate 表示命中幂等键返回的原始结果
type SubmitResult struct {
	Order     *domain.Order
	Trades    []*domain.Trade
	Duplicate bool
}

// RegisterCurrencyCommand 注册币种
type RegisterCurrencyCommand struct {
	Symbol       string `validate:"required,max=10,uppercase,alphanum"`
	Name         string `validate:"required,max=50"`
	Decimals     *int32 `validate:"omitempty,gte=0,lte=18"`
	IsFiat       bool
	IsStableCoin bool
}

// RegisterMarketCommand 注册市场，未填写的字段使用默认值
type RegisterMarketCommand struct {
	Base                  string            `validate:"required"`
	Quote                 string            `validate:"required"`
	Type                  domain.MarketType `validate:"oneof=spot futures"`
	PricePrecision        *int32
	AmountPrecision       *int32
	MinOrderAmount        decimal.Decimal
	MinNotional           *decimal.Decimal
	MakerFee              *decimal.Decimal
	TakerFee              *decimal.Decimal
	FeeConvention         domain.FeeConvention `validate:"omitempty,oneof=quote received"`
	MaxLeverage           *int32
	FundingInterval       *time.Duration
	MaintenanceMarginRate *decimal.Decimal
}

// BatchResult 批量操作的逐项结果
type BatchResult[T any] struct {
	ID    int64
	Value T
	Err   error
}

// Failed 统计失败项
func Failed[T any](results []BatchResult[T]) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
