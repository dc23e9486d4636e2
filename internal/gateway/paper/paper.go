// Package paper 提供一个全内存的模拟交易所，供 dry-run 后端与测试使用。
// 价格由调用方喂入（SetPrice），订单立即按盘口中间价成交。
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/types"

	"github.com/google/uuid"
)

const defaultStartingBalance = 10000

type Venue struct {
	mu        sync.Mutex
	balance   float64
	prices    map[string]float64
	positions map[string]*exchange.Position
	orders    map[string]exchange.OpenOrder
}

var _ exchange.Exchange = (*Venue)(nil)

func New(startingBalance float64) *Venue {
	if startingBalance <= 0 {
		startingBalance = defaultStartingBalance
	}
	return &Venue{
		balance:   startingBalance,
		prices:    make(map[string]float64),
		positions: make(map[string]*exchange.Position),
		orders:    make(map[string]exchange.OpenOrder),
	}
}

func (v *Venue) Name() string { return "paper" }

// SetPrice 设置某交易对的模拟最新价。
func (v *Venue) SetPrice(pair string, price float64) {
	v.mu.Lock()
	v.prices[pair] = price
	v.mu.Unlock()
}

func (v *Venue) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderConfirmation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	price, ok := v.prices[req.Pair]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("no price for %s", req.Pair)
	}

	if req.Type != types.OrderMarket {
		// 非市价单挂入订单簿，不模拟撮合
		id := uuid.NewString()
		v.orders[id] = exchange.OpenOrder{
			OrderID:   id,
			Pair:      req.Pair,
			Side:      req.Side,
			Type:      req.Type,
			Volume:    req.Volume,
			Price:     req.Price,
			CreatedAt: time.Now(),
		}
		return &exchange.OrderConfirmation{
			OrderID:   id,
			Pair:      req.Pair,
			Side:      req.Side,
			Volume:    req.Volume,
			Simulated: true,
			CreatedAt: time.Now(),
		}, nil
	}

	v.applyFill(req, price)
	return &exchange.OrderConfirmation{
		OrderID:     uuid.NewString(),
		Pair:        req.Pair,
		Side:        req.Side,
		Volume:      req.Volume,
		FilledPrice: price,
		Simulated:   true,
		CreatedAt:   time.Now(),
	}, nil
}

func (v *Venue) applyFill(req exchange.OrderRequest, price float64) {
	pos := v.positions[req.Pair]
	if pos == nil {
		v.positions[req.Pair] = &exchange.Position{
			Pair:       req.Pair,
			Side:       req.Side,
			Volume:     req.Volume,
			EntryPrice: price,
			OpenedAt:   time.Now(),
		}
		return
	}
	if pos.Side == req.Side {
		total := pos.Volume + req.Volume
		pos.EntryPrice = (pos.EntryPrice*pos.Volume + price*req.Volume) / total
		pos.Volume = total
		return
	}
	// 反向成交先平仓，已实现盈亏计入余额
	closed := req.Volume
	if closed > pos.Volume {
		closed = pos.Volume
	}
	pnl := (price - pos.EntryPrice) * closed
	if pos.Side == types.SideSell {
		pnl = -pnl
	}
	v.balance += pnl
	pos.Volume -= closed
	if pos.Volume <= 0 {
		remaining := req.Volume - closed
		if remaining > 0 {
			pos.Side = req.Side
			pos.Volume = remaining
			pos.EntryPrice = price
		} else {
			delete(v.positions, req.Pair)
		}
	}
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.orders[orderID]; !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	delete(v.orders, orderID)
	return nil
}

func (v *Venue) GetAccountBalance(ctx context.Context) (exchange.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return exchange.Balance{
		QuoteCurrency: "USD",
		Total:         v.balance,
		Available:     v.balance,
		Wallets:       map[string]float64{"USD": v.balance},
		UpdatedAt:     time.Now(),
	}, nil
}

func (v *Venue) GetOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]exchange.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (v *Venue) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]exchange.OpenOrder, 0, len(v.orders))
	for _, o := range v.orders {
		out = append(out, o)
	}
	return out, nil
}

func (v *Venue) GetTicker(ctx context.Context, pair string) (exchange.Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	price, ok := v.prices[pair]
	if !ok || price <= 0 {
		return exchange.Ticker{}, fmt.Errorf("no price for %s", pair)
	}
	return exchange.Ticker{
		Pair:      pair,
		Last:      price,
		Bid:       price * 0.9995,
		Ask:       price * 1.0005,
		High:      price,
		Low:       price,
		UpdatedAt: time.Now(),
	}, nil
}

func (v *Venue) GetOrderBook(ctx context.Context, pair string, depth int) (exchange.OrderBook, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	price, ok := v.prices[pair]
	if !ok || price <= 0 {
		return exchange.OrderBook{}, fmt.Errorf("no price for %s", pair)
	}
	if depth <= 0 || depth > 100 {
		depth = 10
	}
	book := exchange.OrderBook{Pair: pair, UpdatedAt: time.Now()}
	for i := 1; i <= depth; i++ {
		step := price * 0.0005 * float64(i)
		book.Bids = append(book.Bids, exchange.BookLevel{Price: price - step, Volume: 10})
		book.Asks = append(book.Asks, exchange.BookLevel{Price: price + step, Volume: 10})
	}
	return book, nil
}

func (v *Venue) GetTradableAssetPairs(ctx context.Context) (map[string]exchange.AssetPair, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]exchange.AssetPair, len(v.prices))
	for pair := range v.prices {
		out[pair] = exchange.AssetPair{Pair: pair, Online: true, MinOrderSize: 0.0001}
	}
	return out, nil
}

func (v *Venue) GetServerTime(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}
