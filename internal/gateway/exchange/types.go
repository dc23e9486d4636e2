package exchange

import (
	"time"

	"bastion/internal/types"
)

// OrderRequest contains the parameters for placing an order at the venue.
type OrderRequest struct {
	Pair        string          // Trading pair, e.g. "XBTUSD"
	Side        types.OrderSide // buy / sell
	Type        types.OrderType // market / limit / stop-loss / take-profit
	Volume      float64         // Base currency amount
	Price       float64         // Required for non-market types
	ClientID    string          // Client order ID for idempotent submission
	ReduceOnly  bool            // Flattening order, never increases exposure
	TimeInForce string          // "GTC", "IOC", "FOK"
}

// OrderConfirmation is the venue's acknowledgement of a placed order.
type OrderConfirmation struct {
	OrderID     string
	Pair        string
	Side        types.OrderSide
	Volume      float64
	FilledPrice float64 // Average fill price, 0 when still resting
	Fee         float64
	Simulated   bool // true for paper fills that never reached the venue
	CreatedAt   time.Time
}

// Balance represents account balance information.
type Balance struct {
	QuoteCurrency string             // Primary quote currency (e.g. "USD")
	Total         float64            // Total account value in quote currency
	Available     float64            // Available for trading
	Wallets       map[string]float64 // Per-currency balances
	UpdatedAt     time.Time
}

// Position represents an open position at the venue.
type Position struct {
	Pair       string
	Side       types.OrderSide // direction of the exposure
	Volume     float64         // base currency amount
	EntryPrice float64         // average entry price
	OpenedAt   time.Time
}

// Notional 返回持仓名义价值。
func (p Position) Notional(refPrice float64) float64 {
	price := refPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Volume * price
}

// OpenOrder is a resting order at the venue.
type OpenOrder struct {
	OrderID   string
	Pair      string
	Side      types.OrderSide
	Type      types.OrderType
	Volume    float64
	Price     float64
	CreatedAt time.Time
}

// Ticker represents current price information for a pair.
type Ticker struct {
	Pair      string
	Last      float64 // Last traded price
	Bid       float64
	Ask       float64
	High      float64 // 24h high
	Low       float64 // 24h low
	UpdatedAt time.Time
}

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price  float64
	Volume float64
}

// OrderBook is a depth snapshot. Bids descend, asks ascend by price.
type OrderBook struct {
	Pair      string
	Bids      []BookLevel
	Asks      []BookLevel
	UpdatedAt time.Time
}

// AssetPair describes one tradable pair as reported by the venue.
type AssetPair struct {
	Pair         string
	Base         string
	Quote        string
	Online       bool    // pair currently accepting orders
	MinOrderSize float64 // minimum volume in base currency
	PriceStep    float64
}
