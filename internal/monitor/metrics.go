package monitor

import (
	"math"
	"sync"
	"time"
)

// balanceRing 是余额历史的有界环形缓冲：默认 24 小时 × 5 分钟分辨率。
type balanceRing struct {
	mu      sync.Mutex
	entries []balancePoint
	cap     int
}

type balancePoint struct {
	balance float64
	at      time.Time
}

func newBalanceRing(capacity int) *balanceRing {
	if capacity <= 0 {
		capacity = 288 // 24h @ 5m
	}
	return &balanceRing{cap: capacity}
}

func (r *balanceRing) push(balance float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, balancePoint{balance: balance, at: at})
	if len(r.entries) > r.cap {
		r.entries = r.entries[1:]
	}
}

func (r *balanceRing) latest() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return 0, false
	}
	return r.entries[len(r.entries)-1].balance, true
}

// declinePctSince 返回 span 时间窗内余额下降百分比（上涨返回负值）。
func (r *balanceRing) declinePctSince(span time.Duration, now time.Time) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < 2 {
		return 0, false
	}
	cutoff := now.Add(-span)
	var anchor *balancePoint
	for i := range r.entries {
		if !r.entries[i].at.Before(cutoff) {
			anchor = &r.entries[i]
			break
		}
	}
	if anchor == nil || anchor.balance <= 0 {
		return 0, false
	}
	last := r.entries[len(r.entries)-1]
	return (anchor.balance - last.balance) / anchor.balance * 100, true
}

// periodReturns 返回相邻采样点之间的收益率序列。
func (r *balanceRing) periodReturns() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < 2 {
		return nil
	}
	out := make([]float64, 0, len(r.entries)-1)
	for i := 1; i < len(r.entries); i++ {
		prev := r.entries[i-1].balance
		if prev <= 0 {
			continue
		}
		out = append(out, (r.entries[i].balance-prev)/prev)
	}
	return out
}

// tradeStats 汇总交易结果用于绩效计算。
type tradeStats struct {
	mu           sync.Mutex
	wins         int
	losses       int
	totalPnL     float64
	losingStreak int
	maxStreak    int
}

func (s *tradeStats) record(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalPnL += pnl
	switch {
	case pnl > 0:
		s.wins++
		s.losingStreak = 0
	case pnl < 0:
		s.losses++
		s.losingStreak++
		if s.losingStreak > s.maxStreak {
			s.maxStreak = s.losingStreak
		}
	}
}

func (s *tradeStats) snapshot() (winRatePct, totalPnL float64, losingStreak int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.wins + s.losses
	if total > 0 {
		winRatePct = float64(s.wins) / float64(total) * 100
	}
	return winRatePct, s.totalPnL, s.losingStreak
}

// zScore 计算 value 相对 series 尾部 lookback 个样本的 z 分数。
// 样本不足或方差为零时返回 (0, false)。
func zScore(series []float64, value float64, lookback int) (float64, bool) {
	if lookback <= 1 || len(series) < lookback {
		return 0, false
	}
	window := series[len(series)-lookback:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))
	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(window))
	if variance == 0 {
		return 0, false
	}
	return (value - mean) / math.Sqrt(variance), true
}

// sharpeRatio 以收益率序列估算夏普比率（无风险利率按 0 计）。
func sharpeRatio(returns []float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, false
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0, false
	}
	return mean / math.Sqrt(variance), true
}
