// Package validator 实现多阶段订单校验流水线。
// 阶段顺序固定，遇到第一个硬性失败即短路，警告独立累积；
// 每次调用返回全新的 ValidationOutcome。
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/logger"
	"bastion/internal/types"
)

const (
	priceCacheTTL        = 5 * time.Second
	maxPriceDeviationPct = 5.0
	minNotionalUSD       = 10.0
	maxAccountSharePct   = 10.0
	concentrationWarnPct = 20.0
	maxSlippagePct       = 2.0
	noLiquiditySlippage  = 10.0 // 深度不足时按最大滑点处理
	bookDepth            = 100
)

// ExposureReader 提供校验所需的敞口读数（默认由 risk.Policy 实现）。
type ExposureReader interface {
	PositionNotional(pair string) float64
}

// Validator 依赖交易所（已被限流中间件包裹）与风险策略协作方。
type Validator struct {
	exch   exchange.Exchange
	risk   exchange.RiskPolicy
	expo   ExposureReader
	prices *priceCache
}

func New(exch exchange.Exchange, risk exchange.RiskPolicy, expo ExposureReader) *Validator {
	return &Validator{
		exch:   exch,
		risk:   risk,
		expo:   expo,
		prices: newPriceCache(priceCacheTTL),
	}
}

// Validate 按固定顺序运行全部阶段。
func (v *Validator) Validate(ctx context.Context, intent types.OrderIntent) types.ValidationOutcome {
	outcome := types.ValidationOutcome{Valid: true}

	// 1. 结构校验
	if !intent.Side.Valid() {
		outcome.AddError(fmt.Sprintf("invalid side %q", intent.Side))
	}
	if intent.Volume <= 0 {
		outcome.AddError("volume must be positive")
	}
	if !intent.Type.Valid() {
		outcome.AddError(fmt.Sprintf("invalid order type %q", intent.Type))
	} else if intent.Type.RequiresPrice() && intent.Price <= 0 {
		outcome.AddError(fmt.Sprintf("order type %s requires a price", intent.Type))
	}
	if !outcome.Valid {
		return outcome
	}

	// 2. 市场参考价（≤5s 缓存）；取不到参考价则无法继续校验
	marketPrice, err := v.prices.get(ctx, v.exch, intent.Pair)
	if err != nil || marketPrice <= 0 {
		outcome.AddError(fmt.Sprintf("failed to fetch market price for %s: %v", intent.Pair, err))
		return outcome
	}

	// 3. 价格偏离
	if intent.Price > 0 {
		deviation := (intent.Price - marketPrice) / marketPrice * 100
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > maxPriceDeviationPct {
			outcome.AddError(fmt.Sprintf("price %.2f deviates %.1f%% from market %.2f (max %.0f%%)",
				intent.Price, deviation, marketPrice, maxPriceDeviationPct))
			return outcome
		}
	}

	effectivePrice := intent.Price
	if effectivePrice <= 0 {
		effectivePrice = marketPrice
	}
	notional := intent.Volume * effectivePrice

	// 4. 最小名义价值
	if notional < minNotionalUSD {
		outcome.AddError(fmt.Sprintf("order notional %.2f below minimum %.2f", notional, minNotionalUSD))
		return outcome
	}

	// 5. 余额检查
	if !v.checkBalance(ctx, intent, effectivePrice, notional, &outcome) {
		return outcome
	}

	// 6. 风险策略
	if v.risk != nil && !v.risk.CanOpenPosition(intent.Pair, notional, intent.Side) {
		outcome.AddError(v.riskReason())
		return outcome
	}

	// 7. 持仓集中度（仅警告）
	if v.expo != nil {
		if held := v.expo.PositionNotional(intent.Pair); held > 0 {
			if bal, err := v.exch.GetAccountBalance(ctx); err == nil && bal.Total > 0 {
				sharePct := held / bal.Total * 100
				if sharePct >= concentrationWarnPct {
					outcome.AddWarning(fmt.Sprintf("existing %s position is already %.1f%% of account value",
						intent.Pair, sharePct))
				}
			}
		}
	}

	// 8. 滑点估计（仅市价单）
	if intent.Type == types.OrderMarket {
		if !v.checkSlippage(ctx, intent, &outcome) {
			return outcome
		}
	}

	// 9. 可交易性
	pairs, err := v.exch.GetTradableAssetPairs(ctx)
	if err != nil {
		outcome.AddError(fmt.Sprintf("failed to fetch tradable pairs: %v", err))
		return outcome
	}
	info, ok := pairs[strings.ToUpper(intent.Pair)]
	if !ok || !info.Online {
		outcome.AddError(fmt.Sprintf("pair %s is not tradable", intent.Pair))
		return outcome
	}

	return outcome
}

// checkBalance 校验买方报价货币 / 卖方基础货币余额，
// 并限制单笔名义价值不超过账户总值的 10%。
// 返回 false 表示硬性失败，流水线应短路。
func (v *Validator) checkBalance(ctx context.Context, intent types.OrderIntent, price, notional float64, outcome *types.ValidationOutcome) bool {
	bal, err := v.exch.GetAccountBalance(ctx)
	if err != nil {
		outcome.AddError(fmt.Sprintf("failed to fetch account balance: %v", err))
		return false
	}

	if bal.Total > 0 && notional > bal.Total*maxAccountSharePct/100 {
		outcome.AddError(fmt.Sprintf("order notional %.2f exceeds %.0f%% of account value %.2f",
			notional, maxAccountSharePct, bal.Total))
		return false
	}

	base, quote := splitPair(intent.Pair)
	if intent.Side == types.SideBuy {
		available := walletAmount(bal, quote, bal.Available)
		if notional > available {
			maxVolume := 0.0
			if price > 0 {
				maxVolume = available / price
			}
			outcome.AddError(fmt.Sprintf("insufficient %s balance: need %.2f, have %.2f", quote, notional, available))
			outcome.AddWarning(fmt.Sprintf("maximum affordable volume at this price: %.8f", maxVolume))
			return false
		}
		return true
	}

	held := walletAmount(bal, base, 0)
	if intent.Volume > held {
		outcome.AddError(fmt.Sprintf("insufficient %s balance: need %.8f, have %.8f", base, intent.Volume, held))
		outcome.AddWarning(fmt.Sprintf("maximum sellable volume: %.8f", held))
		return false
	}
	return true
}

// checkSlippage 沿订单簿深度估算市价单滑点。
func (v *Validator) checkSlippage(ctx context.Context, intent types.OrderIntent, outcome *types.ValidationOutcome) bool {
	book, err := v.exch.GetOrderBook(ctx, intent.Pair, bookDepth)
	if err != nil {
		outcome.AddError(fmt.Sprintf("failed to fetch order book for %s: %v", intent.Pair, err))
		return false
	}
	levels := book.Asks
	if intent.Side == types.SideSell {
		levels = book.Bids
	}
	slippagePct := estimateSlippage(levels, intent.Volume)
	if slippagePct > maxSlippagePct {
		outcome.AddError(fmt.Sprintf("estimated slippage %.2f%% exceeds maximum %.1f%%", slippagePct, maxSlippagePct))
		return false
	}
	if slippagePct > maxSlippagePct/2 {
		outcome.AddWarning(fmt.Sprintf("estimated slippage %.2f%% is elevated", slippagePct))
	}
	return true
}

// estimateSlippage 逐档吃单计算加权成交价相对最优价的偏离。
// 深度不足以吃满全部数量时按最大滑点处理。
func estimateSlippage(levels []exchange.BookLevel, volume float64) float64 {
	if len(levels) == 0 || volume <= 0 {
		return noLiquiditySlippage
	}
	best := levels[0].Price
	if best <= 0 {
		return noLiquiditySlippage
	}
	remaining := volume
	cost := 0.0
	for _, lvl := range levels {
		take := lvl.Volume
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		return noLiquiditySlippage
	}
	avg := cost / volume
	slip := (avg - best) / best * 100
	if slip < 0 {
		slip = -slip
	}
	return slip
}

func (v *Validator) riskReason() string {
	switch {
	case v.risk.IsMaxPositionsReached():
		return "risk policy: max positions reached"
	case v.risk.IsMaxDrawdownExceeded():
		return "risk policy: max drawdown exceeded"
	case v.risk.DailyLossLimitExceeded():
		return "risk policy: daily loss limit exceeded"
	default:
		return "risk policy rejected order"
	}
}

// knownQuotes 用于从交易对代码拆出基础/报价货币。
var knownQuotes = []string{"USDT", "USDC", "USD", "EUR", "GBP", "JPY", "BTC", "ETH"}

func splitPair(pair string) (base, quote string) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	if i := strings.IndexAny(p, "/-_"); i > 0 {
		return p[:i], p[i+1:]
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(p, q) && len(p) > len(q) {
			return strings.TrimSuffix(p, q), q
		}
	}
	logger.Debugf("validator: cannot split pair %q, assuming quote USD", pair)
	return p, "USD"
}

func walletAmount(bal exchange.Balance, currency string, fallback float64) float64 {
	if bal.Wallets != nil {
		if amt, ok := bal.Wallets[currency]; ok {
			return amt
		}
	}
	return fallback
}
