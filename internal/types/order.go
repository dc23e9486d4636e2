package types

import (
	"strings"
	"time"
)

// OrderSide 表示买卖方向。
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType 表示订单类型。
type OrderType string

const (
	OrderMarket     OrderType = "market"
	OrderLimit      OrderType = "limit"
	OrderStopLoss   OrderType = "stop-loss"
	OrderTakeProfit OrderType = "take-profit"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderMarket, OrderLimit, OrderStopLoss, OrderTakeProfit:
		return true
	}
	return false
}

// RequiresPrice 非市价单必须携带价格。
func (t OrderType) RequiresPrice() bool {
	return t != OrderMarket
}

// OrderIntent 是策略产出的下单意图，创建后不可变，只被消费一次。
type OrderIntent struct {
	Pair      string    `json:"pair"`
	Side      OrderSide `json:"side"`
	Type      OrderType `json:"type"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notional 返回订单名义价值；市价单用参考价补齐。
func (o OrderIntent) Notional(refPrice float64) float64 {
	price := o.Price
	if price <= 0 {
		price = refPrice
	}
	return o.Volume * price
}

// ValidationOutcome 每次校验新建一份，返回后不再修改。
type ValidationOutcome struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (v *ValidationOutcome) AddError(msg string) {
	v.Valid = false
	v.Errors = append(v.Errors, msg)
}

func (v *ValidationOutcome) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

func (v ValidationOutcome) Summary() string {
	if v.Valid {
		return "ok"
	}
	return strings.Join(v.Errors, "; ")
}
