package domain

import (
	"fmt"
	"regexp"
	"time"
)

const (
	DefaultCurrencyDecimals int32 = 8
	MaxCurrencyDecimals     int32 = 18
)

var currencySymbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

// Currency 币种参考数据，被市场引用后符号与精度不可变
type Currency struct {
	Symbol       string
	Name         string
	Decimals     int32
	IsFiat       bool
	IsStableCoin bool
	IsActive     bool
	Audit
}

// NewCurrency 创建币种
func NewCurrency(symbol, name string, decimals int32, fiat, stable bool, now time.Time) (*Currency, error) {
	c := &Currency{
		Symbol:       symbol,
		Name:         name,
		Decimals:     decimals,
		IsFiat:       fiat,
		IsStableCoin: stable,
		IsActive:     true,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Stamp(now)
	return c, nil
}

// Validate 校验币种字段
func (c *Currency) Validate() error {
	if !currencySymbolPattern.MatchString(c.Symbol) {
		return fmt.Errorf("%w: symbol %q must be 1-10 upper case alphanumerics", ErrInvalidCurrency, c.Symbol)
	}
	if c.Decimals < 0 || c.Decimals > MaxCurrencyDecimals {
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidCurrency, c.Decimals)
	}
	return nil
}

// CurrencyPatch 币种可变字段，nil 表示不修改
type CurrencyPatch struct {
	Name         *string
	Decimals     *int32
	IsFiat       *bool
	IsStableCoin *bool
	IsActive     *bool
}

// Apply 应用修改，inUse 为 true 时禁止修改精度
func (c *Currency) Apply(p CurrencyPatch, inUse bool, now time.Time) error {
	if p.Decimals != nil && *p.Decimals != c.Decimals {
		if inUse {
			return ErrCurrencyInUse
		}
		c.Decimals = *p.Decimals
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.IsFiat != nil {
		c.IsFiat = *p.IsFiat
	}
	if p.IsStableCoin != nil {
		c.IsStableCoin = *p.IsStableCoin
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c.Stamp(now)
	return nil
}
