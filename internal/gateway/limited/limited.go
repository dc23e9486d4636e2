// Package limited 以限流中间件包裹任意 Exchange 实现。
// 系统中只应持有包裹后的实例，保证没有调用绕过限流——
// 包括余额、持仓这类控制面查询。
package limited

import (
	"context"

	"bastion/internal/gateway/exchange"
	"bastion/internal/ratelimit"
)

type Exchange struct {
	inner  exchange.Exchange
	caller *ratelimit.Caller
}

var _ exchange.Exchange = (*Exchange)(nil)

func Wrap(inner exchange.Exchange, caller *ratelimit.Caller) *Exchange {
	return &Exchange{inner: inner, caller: caller}
}

func (e *Exchange) Name() string { return e.inner.Name() }

// Caller 暴露中间件（RecommendedDelay 等）。
func (e *Exchange) Caller() *ratelimit.Caller { return e.caller }

func (e *Exchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderConfirmation, error) {
	var out *exchange.OrderConfirmation
	err := e.caller.Do(ctx, "CreateOrder", func(ctx context.Context) error {
		var err error
		out, err = e.inner.CreateOrder(ctx, req)
		return err
	})
	return out, err
}

func (e *Exchange) CancelOrder(ctx context.Context, orderID string) error {
	return e.caller.Do(ctx, "CancelOrder", func(ctx context.Context) error {
		return e.inner.CancelOrder(ctx, orderID)
	})
}

func (e *Exchange) GetAccountBalance(ctx context.Context) (exchange.Balance, error) {
	var out exchange.Balance
	err := e.caller.Do(ctx, "GetAccountBalance", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetAccountBalance(ctx)
		return err
	})
	return out, err
}

func (e *Exchange) GetOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	var out []exchange.Position
	err := e.caller.Do(ctx, "GetOpenPositions", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetOpenPositions(ctx)
		return err
	})
	return out, err
}

func (e *Exchange) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	var out []exchange.OpenOrder
	err := e.caller.Do(ctx, "GetOpenOrders", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetOpenOrders(ctx)
		return err
	})
	return out, err
}

func (e *Exchange) GetTicker(ctx context.Context, pair string) (exchange.Ticker, error) {
	var out exchange.Ticker
	err := e.caller.Do(ctx, "GetTicker", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetTicker(ctx, pair)
		return err
	})
	return out, err
}

func (e *Exchange) GetOrderBook(ctx context.Context, pair string, depth int) (exchange.OrderBook, error) {
	var out exchange.OrderBook
	err := e.caller.Do(ctx, "GetOrderBook", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetOrderBook(ctx, pair, depth)
		return err
	})
	return out, err
}

func (e *Exchange) GetTradableAssetPairs(ctx context.Context) (map[string]exchange.AssetPair, error) {
	var out map[string]exchange.AssetPair
	err := e.caller.Do(ctx, "GetTradableAssetPairs", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetTradableAssetPairs(ctx)
		return err
	})
	return out, err
}

func (e *Exchange) GetServerTime(ctx context.Context) (int64, error) {
	var out int64
	err := e.caller.Do(ctx, "GetServerTime", func(ctx context.Context) error {
		var err error
		out, err = e.inner.GetServerTime(ctx)
		return err
	})
	return out, err
}
