// Package exchange defines a common abstraction for trading exchanges.
// This allows the control plane to work with different exchange backends
// without changing the core execution logic. Every network call an
// implementation makes is expected to be routed through the rate-limit
// middleware; nothing talks to the venue directly.
package exchange

import (
	"context"

	"bastion/internal/types"
)

// Exchange is the full capability set the control plane needs from a venue.
type Exchange interface {
	Name() string

	CreateOrder(ctx context.Context, req OrderRequest) (*OrderConfirmation, error)

	CancelOrder(ctx context.Context, orderID string) error

	GetAccountBalance(ctx context.Context) (Balance, error)

	GetOpenPositions(ctx context.Context) ([]Position, error)

	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)

	GetTicker(ctx context.Context, pair string) (Ticker, error)

	GetOrderBook(ctx context.Context, pair string, depth int) (OrderBook, error)

	GetTradableAssetPairs(ctx context.Context) (map[string]AssetPair, error)

	GetServerTime(ctx context.Context) (int64, error)
}

// RiskPolicy 是组合级风险协作方；回撤计算以它为唯一权威来源，
// 监控与停机开关只读取、不重复计算。
type RiskPolicy interface {
	CanOpenPosition(pair string, notional float64, side types.OrderSide) bool

	IsMaxPositionsReached() bool

	IsMaxDrawdownExceeded() bool

	DailyLossLimitExceeded() bool

	AddPosition(pair string, notional float64, side types.OrderSide)

	RemovePosition(pair string)
}

// Strategy 是信号生成方，核心只消费其产出的下单意图。
type Strategy interface {
	Name() string

	// DecideOnce 执行一次决策；无信号时返回 (nil, nil)。
	DecideOnce(ctx context.Context) (*types.OrderIntent, error)
}
