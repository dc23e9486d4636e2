package mode

import (
	"sync"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperPosition 是纸面账本中的一个持仓快照。
type PaperPosition struct {
	Pair        string  `json:"pair"`
	Volume      float64 `json:"volume"`
	AvgCost     float64 `json:"avg_cost"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// PaperLedger 维护 dry-run / paper 档位的模拟持仓：
// 加权平均成本与已实现盈亏用 decimal 计算，避免累计浮点误差。
type PaperLedger struct {
	mu        sync.Mutex
	volumes   map[string]decimal.Decimal
	avgCosts  map[string]decimal.Decimal
	realized  map[string]decimal.Decimal
	fillCount int
}

func NewPaperLedger() *PaperLedger {
	return &PaperLedger{
		volumes:  make(map[string]decimal.Decimal),
		avgCosts: make(map[string]decimal.Decimal),
		realized: make(map[string]decimal.Decimal),
	}
}

// Fill 以参考价模拟成交并更新账本，返回合成确认。
func (l *PaperLedger) Fill(intent types.OrderIntent, refPrice float64) *exchange.OrderConfirmation {
	price := intent.Price
	if price <= 0 {
		price = refPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pair := intent.Pair
	vol := decimal.NewFromFloat(intent.Volume)
	px := decimal.NewFromFloat(price)

	held := l.volumes[pair]
	avg := l.avgCosts[pair]

	if intent.Side == types.SideBuy {
		// 新加权平均成本 = (旧量·旧均价 + 新量·成交价) / 总量
		total := held.Add(vol)
		if total.IsPositive() {
			cost := held.Mul(avg).Add(vol.Mul(px))
			l.avgCosts[pair] = cost.Div(total)
		}
		l.volumes[pair] = total
	} else {
		closeVol := vol
		if closeVol.GreaterThan(held) {
			closeVol = held
		}
		l.realized[pair] = l.realized[pair].Add(px.Sub(avg).Mul(closeVol))
		l.volumes[pair] = held.Sub(closeVol)
		if l.volumes[pair].IsZero() {
			delete(l.avgCosts, pair)
		}
	}
	l.fillCount++

	return &exchange.OrderConfirmation{
		OrderID:     "paper-" + uuid.NewString(),
		Pair:        pair,
		Side:        intent.Side,
		Volume:      intent.Volume,
		FilledPrice: price,
		Simulated:   true,
		CreatedAt:   time.Now(),
	}
}

// Position 返回某交易对的纸面持仓。
func (l *PaperLedger) Position(pair string) PaperPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	vol, _ := l.volumes[pair].Float64()
	avg, _ := l.avgCosts[pair].Float64()
	pnl, _ := l.realized[pair].Float64()
	return PaperPosition{Pair: pair, Volume: vol, AvgCost: avg, RealizedPnL: pnl}
}

// Positions 返回全部非零纸面持仓。
func (l *PaperLedger) Positions() []PaperPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PaperPosition, 0, len(l.volumes))
	for pair, vol := range l.volumes {
		if vol.IsZero() && l.realized[pair].IsZero() {
			continue
		}
		v, _ := vol.Float64()
		avg, _ := l.avgCosts[pair].Float64()
		pnl, _ := l.realized[pair].Float64()
		out = append(out, PaperPosition{Pair: pair, Volume: v, AvgCost: avg, RealizedPnL: pnl})
	}
	return out
}

// FillCount 返回累计纸面成交笔数。
func (l *PaperLedger) FillCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fillCount
}
