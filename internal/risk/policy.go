// Package risk 提供默认的组合级风险策略实现。
// 回撤与当日亏损在这里有唯一权威计算，停机开关与监控只读取结果。
package risk

import (
	"sync"
	"time"

	"bastion/internal/logger"
	"bastion/internal/types"
)

type openPosition struct {
	pair     string
	notional float64
	side     types.OrderSide
	openedAt time.Time
}

// Policy 实现 exchange.RiskPolicy。
type Policy struct {
	mu sync.RWMutex

	maxOpenPositions  int
	maxDrawdownPct    float64
	dailyLossLimitPct float64

	positions map[string]openPosition

	peakEquity    float64
	currentEquity float64
	dayStart      float64
	dayStartedAt  time.Time

	nowFn func() time.Time
}

func NewPolicy(maxOpenPositions int, maxDrawdownPct, dailyLossLimitPct float64) *Policy {
	return &Policy{
		maxOpenPositions:  maxOpenPositions,
		maxDrawdownPct:    maxDrawdownPct,
		dailyLossLimitPct: dailyLossLimitPct,
		positions:         make(map[string]openPosition),
		nowFn:             time.Now,
	}
}

// UpdateEquity 记录最新账户净值，维护峰值与当日起点。
// 跨越本地午夜时当日起点自动重置。
func (p *Policy) UpdateEquity(equity float64) {
	if equity <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	local := p.nowFn().Local()
	y, mo, d := local.Date()
	anchor := time.Date(y, mo, d, 0, 0, 0, 0, local.Location())
	if !anchor.Equal(p.dayStartedAt) {
		p.dayStart = equity
		p.dayStartedAt = anchor
	}
	if equity > p.peakEquity {
		p.peakEquity = equity
	}
	p.currentEquity = equity
}

// CurrentDrawdownPct 返回相对峰值的回撤百分比。
func (p *Policy) CurrentDrawdownPct() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.drawdownLocked()
}

func (p *Policy) drawdownLocked() float64 {
	if p.peakEquity <= 0 {
		return 0
	}
	return (p.peakEquity - p.currentEquity) / p.peakEquity * 100
}

func (p *Policy) dailyLossLocked() float64 {
	if p.dayStart <= 0 {
		return 0
	}
	return (p.dayStart - p.currentEquity) / p.dayStart * 100
}

func (p *Policy) CanOpenPosition(pair string, notional float64, side types.OrderSide) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.positions) >= p.maxOpenPositions {
		if _, held := p.positions[pair]; !held {
			return false
		}
	}
	if p.drawdownLocked() >= p.maxDrawdownPct {
		return false
	}
	if p.dailyLossLocked() >= p.dailyLossLimitPct {
		return false
	}
	return notional > 0
}

func (p *Policy) IsMaxPositionsReached() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions) >= p.maxOpenPositions
}

func (p *Policy) IsMaxDrawdownExceeded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.drawdownLocked() >= p.maxDrawdownPct
}

func (p *Policy) DailyLossLimitExceeded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dailyLossLocked() >= p.dailyLossLimitPct
}

// AddPosition 记录新敞口；同一交易对累加名义价值。
func (p *Policy) AddPosition(pair string, notional float64, side types.OrderSide) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.positions[pair]; ok {
		cur.notional += notional
		p.positions[pair] = cur
		return
	}
	p.positions[pair] = openPosition{
		pair:     pair,
		notional: notional,
		side:     side,
		openedAt: p.nowFn(),
	}
	logger.Debugf("risk: position added %s notional=%.2f side=%s (open=%d/%d)",
		pair, notional, side, len(p.positions), p.maxOpenPositions)
}

func (p *Policy) RemovePosition(pair string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, pair)
}

// PositionNotional 返回某交易对当前名义敞口（校验器的集中度检查使用）。
func (p *Policy) PositionNotional(pair string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cur, ok := p.positions[pair]; ok {
		return cur.notional
	}
	return 0
}

// TotalExposure 返回全部名义敞口之和。
func (p *Policy) TotalExposure() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var sum float64
	for _, pos := range p.positions {
		sum += pos.notional
	}
	return sum
}

// Exposures 返回各交易对的名义敞口（监控的集中度检查使用）。
func (p *Policy) Exposures() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.positions))
	for pair, pos := range p.positions {
		out[pair] = pos.notional
	}
	return out
}

// OpenPositionCount 返回当前敞口数量。
func (p *Policy) OpenPositionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}
