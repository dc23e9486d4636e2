package validator

import (
	"context"
	"testing"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/gateway/paper"
	"bastion/internal/types"

	"github.com/stretchr/testify/assert"
)

// balanceExchange 在纸面交易所之上覆盖余额读数，方便构造余额边界。
type balanceExchange struct {
	*paper.Venue
	bal exchange.Balance
}

func (e *balanceExchange) GetAccountBalance(ctx context.Context) (exchange.Balance, error) {
	return e.bal, nil
}

type stubRisk struct {
	allow        bool
	maxPositions bool
	drawdown     bool
	dailyLoss    bool
}

func (r *stubRisk) CanOpenPosition(pair string, notional float64, side types.OrderSide) bool {
	return r.allow
}
func (r *stubRisk) IsMaxPositionsReached() bool                                 { return r.maxPositions }
func (r *stubRisk) IsMaxDrawdownExceeded() bool                                 { return r.drawdown }
func (r *stubRisk) DailyLossLimitExceeded() bool                                { return r.dailyLoss }
func (r *stubRisk) AddPosition(pair string, notional float64, side types.OrderSide) {}
func (r *stubRisk) RemovePosition(pair string)                                  {}

type stubExposure struct{ held float64 }

func (s stubExposure) PositionNotional(pair string) float64 { return s.held }

func newTestVenue(balance float64) *paper.Venue {
	venue := paper.New(balance)
	venue.SetPrice("XBTUSD", 100)
	return venue
}

func marketBuy(volume float64) types.OrderIntent {
	return types.OrderIntent{
		Pair:      "XBTUSD",
		Side:      types.SideBuy,
		Type:      types.OrderMarket,
		Volume:    volume,
		CreatedAt: time.Now(),
	}
}

func TestValidateStructuralFailures(t *testing.T) {
	v := New(newTestVenue(10000), nil, nil)
	ctx := context.Background()

	out := v.Validate(ctx, types.OrderIntent{Pair: "XBTUSD", Side: "hold", Type: types.OrderMarket, Volume: 1})
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "invalid side")

	out = v.Validate(ctx, types.OrderIntent{Pair: "XBTUSD", Side: types.SideBuy, Type: types.OrderMarket, Volume: 0})
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "volume must be positive")

	// 限价单缺价格
	out = v.Validate(ctx, types.OrderIntent{Pair: "XBTUSD", Side: types.SideBuy, Type: types.OrderLimit, Volume: 1})
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "requires a price")
}

func TestValidatePriceDeviation(t *testing.T) {
	v := New(newTestVenue(10000), nil, nil)
	ctx := context.Background()

	intent := marketBuy(1)
	intent.Type = types.OrderLimit
	intent.Price = 106 // 偏离 6%
	out := v.Validate(ctx, intent)
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "deviates")

	intent.Price = 104 // 4% 在容忍范围内
	out = v.Validate(ctx, intent)
	assert.True(t, out.Valid, "errors: %v", out.Errors)
}

func TestValidateMinNotional(t *testing.T) {
	v := New(newTestVenue(10000), nil, nil)
	out := v.Validate(context.Background(), marketBuy(0.05)) // 名义价值 $5
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "below minimum")
}

func TestValidateAccountShareCeiling(t *testing.T) {
	v := New(newTestVenue(100), nil, nil)
	out := v.Validate(context.Background(), marketBuy(0.5)) // $50 > 账户 10%
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "exceeds 10% of account value")
}

func TestValidateInsufficientBalanceSuggestsVolume(t *testing.T) {
	exch := &balanceExchange{
		Venue: newTestVenue(10000),
		bal: exchange.Balance{
			QuoteCurrency: "USD",
			Total:         10000,
			Available:     50,
			Wallets:       map[string]float64{"USD": 50},
		},
	}
	v := New(exch, nil, nil)
	out := v.Validate(context.Background(), marketBuy(1)) // 需要 $100，只有 $50
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "insufficient USD balance")
	assert.Contains(t, out.Warnings[0], "maximum affordable volume")
	assert.Contains(t, out.Warnings[0], "0.50000000")
}

func TestValidateSellChecksBaseHoldings(t *testing.T) {
	exch := &balanceExchange{
		Venue: newTestVenue(10000),
		bal: exchange.Balance{
			Total:     10000,
			Available: 10000,
			Wallets:   map[string]float64{"USD": 10000, "XBT": 0.2},
		},
	}
	v := New(exch, nil, nil)
	intent := marketBuy(0.5)
	intent.Side = types.SideSell
	out := v.Validate(context.Background(), intent)
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "insufficient XBT balance")
	assert.Contains(t, out.Warnings[0], "maximum sellable volume")
}

func TestValidateRiskPolicyRejection(t *testing.T) {
	risk := &stubRisk{allow: false, maxPositions: true}
	v := New(newTestVenue(10000), risk, nil)
	out := v.Validate(context.Background(), marketBuy(1))
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "max positions reached")
}

func TestValidateConcentrationWarning(t *testing.T) {
	v := New(newTestVenue(10000), &stubRisk{allow: true}, stubExposure{held: 2500})
	out := v.Validate(context.Background(), marketBuy(1))
	assert.True(t, out.Valid, "errors: %v", out.Errors)
	assert.Contains(t, out.Warnings[0], "25.0% of account value")
}

func TestValidateSlippageOnThinBook(t *testing.T) {
	// 纸面订单簿每档 10，100 档共 1000；2000 吃不满按最大滑点处理
	exch := &balanceExchange{
		Venue: newTestVenue(10000),
		bal: exchange.Balance{
			Total:     10_000_000,
			Available: 10_000_000,
			Wallets:   map[string]float64{"USD": 10_000_000},
		},
	}
	v := New(exch, nil, nil)
	out := v.Validate(context.Background(), marketBuy(2000))
	assert.False(t, out.Valid)
	assert.Contains(t, out.Errors[0], "slippage")
}

func TestValidateHappyPath(t *testing.T) {
	v := New(newTestVenue(10000), &stubRisk{allow: true}, stubExposure{})
	out := v.Validate(context.Background(), marketBuy(1))
	assert.True(t, out.Valid, "errors: %v", out.Errors)
	assert.Empty(t, out.Errors)
	assert.Empty(t, out.Warnings)
}

func TestPriceCacheHonorsTTL(t *testing.T) {
	venue := newTestVenue(10000)
	cache := newPriceCache(5 * time.Second)
	now := time.Now()
	cache.nowFn = func() time.Time { return now }
	ctx := context.Background()

	price, err := cache.get(ctx, venue, "XBTUSD")
	assert.NoError(t, err)
	assert.Equal(t, 100.0, price)

	// TTL 内不回源
	venue.SetPrice("XBTUSD", 200)
	price, _ = cache.get(ctx, venue, "XBTUSD")
	assert.Equal(t, 100.0, price)

	now = now.Add(6 * time.Second)
	price, _ = cache.get(ctx, venue, "XBTUSD")
	assert.Equal(t, 200.0, price)
}

func TestEstimateSlippageWalksTheBook(t *testing.T) {
	levels := []exchange.BookLevel{
		{Price: 100, Volume: 1},
		{Price: 101, Volume: 1},
		{Price: 102, Volume: 1},
	}
	// 完全在第一档成交，无滑点
	assert.InDelta(t, 0.0, estimateSlippage(levels, 1), 1e-9)
	// 吃两档：均价 100.5，偏离 0.5%
	assert.InDelta(t, 0.5, estimateSlippage(levels, 2), 1e-9)
	// 深度不足
	assert.Equal(t, noLiquiditySlippage, estimateSlippage(levels, 5))
	assert.Equal(t, noLiquiditySlippage, estimateSlippage(nil, 1))
}
