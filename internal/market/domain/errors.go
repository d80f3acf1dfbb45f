package domain

import "errors"

// Reason 拒绝原因码，调用方据此映射对外错误
type Reason string

const (
	ReasonUnknown            Reason = "UNKNOWN"
	ReasonInvalidOrder       Reason = "INVALID_ORDER"
	ReasonUnknownMarket      Reason = "UNKNOWN_MARKET"
	ReasonMarketInactive     Reason = "MARKET_INACTIVE"
	ReasonMinOrderAmount     Reason = "MIN_ORDER_AMOUNT"
	ReasonMinNotional        Reason = "MIN_NOTIONAL"
	ReasonPrecisionViolation Reason = "PRECISION_VIOLATION"
	ReasonInvalidLeverage    Reason = "INVALID_LEVERAGE"
	ReasonReduceOnly         Reason = "REDUCE_ONLY_VIOLATION"
	ReasonPositionFlip       Reason = "POSITION_FLIP"
	ReasonOrderTerminal      Reason = "ORDER_TERMINAL"
	ReasonOrderNotFound      Reason = "ORDER_NOT_FOUND"
	ReasonDuplicateOrder     Reason = "DUPLICATE_CLIENT_ORDER_ID"
	ReasonDuplicateCurrency  Reason = "DUPLICATE_CURRENCY"
	ReasonCurrencyInUse      Reason = "CURRENCY_IN_USE"
	ReasonUnknownCurrency    Reason = "UNKNOWN_CURRENCY"
	ReasonSameCurrency       Reason = "SAME_CURRENCY"
	ReasonDuplicateMarket    Reason = "DUPLICATE_MARKET"
	ReasonInvalidMarket      Reason = "INVALID_MARKET"
	ReasonInvalidCurrency    Reason = "INVALID_CURRENCY"
	ReasonPositionNotFound   Reason = "POSITION_NOT_FOUND"
	ReasonPositionNotOpen    Reason = "POSITION_NOT_OPEN"
	ReasonPriceUnavailable   Reason = "PRICE_UNAVAILABLE"
	ReasonInvariant          Reason = "INVARIANT_VIOLATION"
	ReasonEngineStopped      Reason = "ENGINE_STOPPED"
)

// ReasonError 携带原因码的哨兵错误
type ReasonError struct {
	Reason Reason
	Msg    string
}

func (e *ReasonError) Error() string { return e.Msg }

func newReasonError(r Reason, msg string) *ReasonError {
	return &ReasonError{Reason: r, Msg: msg}
}

var (
	ErrInvalidOrder        = newReasonError(ReasonInvalidOrder, "invalid order")
	ErrUnknownMarket       = newReasonError(ReasonUnknownMarket, "unknown market")
	ErrMarketInactive      = newReasonError(ReasonMarketInactive, "market is not active")
	ErrMinOrderAmount      = newReasonError(ReasonMinOrderAmount, "amount below market minimum")
	ErrMinNotional         = newReasonError(ReasonMinNotional, "notional below market minimum")
	ErrPrecisionViolation  = newReasonError(ReasonPrecisionViolation, "value exceeds market precision")
	ErrInvalidLeverage     = newReasonError(ReasonInvalidLeverage, "leverage out of range")
	ErrReduceOnlyViolation = newReasonError(ReasonReduceOnly, "reduce-only order has no position to reduce")
	ErrPositionFlip        = newReasonError(ReasonPositionFlip, "trade would flip position")
	ErrOrderTerminal       = newReasonError(ReasonOrderTerminal, "order is in a terminal state")
	ErrOrderNotFound       = newReasonError(ReasonOrderNotFound, "order not found")
	ErrDuplicateOrder      = newReasonError(ReasonDuplicateOrder, "client order id already used")
	ErrDuplicateCurrency   = newReasonError(ReasonDuplicateCurrency, "currency already exists")
	ErrCurrencyInUse       = newReasonError(ReasonCurrencyInUse, "currency is referenced by a market")
	ErrUnknownCurrency     = newReasonError(ReasonUnknownCurrency, "unknown or inactive currency")
	ErrSameCurrency        = newReasonError(ReasonSameCurrency, "base and quote currency must differ")
	ErrDuplicateMarket     = newReasonError(ReasonDuplicateMarket, "market already exists")
	ErrInvalidMarket       = newReasonError(ReasonInvalidMarket, "invalid market parameters")
	ErrInvalidCurrency     = newReasonError(ReasonInvalidCurrency, "invalid currency parameters")
	ErrPositionNotFound    = newReasonError(ReasonPositionNotFound, "position not found")
	ErrPositionNotOpen     = newReasonError(ReasonPositionNotOpen, "position is not open")
	ErrPriceUnavailable    = newReasonError(ReasonPriceUnavailable, "price index data unavailable")
	ErrInvariantViolation  = newReasonError(ReasonInvariant, "matching invariant violated")
	ErrEngineStopped       = newReasonError(ReasonEngineStopped, "matching engine stopped")
)

// ReasonOf 提取错误链上的原因码
func ReasonOf(err error) Reason {
	var re *ReasonError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}
