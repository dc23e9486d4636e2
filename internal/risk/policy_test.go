package risk

import (
	"testing"
	"time"

	"bastion/internal/types"

	"github.com/stretchr/testify/assert"
)

func newTestPolicy() *Policy {
	return NewPolicy(3, 10, 5)
}

func TestDrawdownTracksPeakEquity(t *testing.T) {
	p := newTestPolicy()
	p.UpdateEquity(10000)
	p.UpdateEquity(12000)
	assert.InDelta(t, 0.0, p.CurrentDrawdownPct(), 1e-9)

	p.UpdateEquity(10800) // 距峰值 12000 回撤 10%
	assert.InDelta(t, 10.0, p.CurrentDrawdownPct(), 1e-9)
	assert.True(t, p.IsMaxDrawdownExceeded())
	assert.False(t, p.CanOpenPosition("XBTUSD", 100, types.SideBuy))

	// 净值回升后回撤缩小
	p.UpdateEquity(11900)
	assert.False(t, p.IsMaxDrawdownExceeded())
	assert.True(t, p.CanOpenPosition("XBTUSD", 100, types.SideBuy))
}

func TestDailyLossResetsAtLocalMidnight(t *testing.T) {
	p := newTestPolicy()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	p.nowFn = func() time.Time { return now }

	p.UpdateEquity(10000)
	p.UpdateEquity(9500) // 当日亏损 5%
	assert.True(t, p.DailyLossLimitExceeded())

	// 次日同一净值重新设为当日起点
	now = now.Add(24 * time.Hour)
	p.UpdateEquity(9500)
	assert.False(t, p.DailyLossLimitExceeded())
}

func TestDailyLossResetsAcrossMonthBoundary(t *testing.T) {
	p := newTestPolicy()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	p.nowFn = func() time.Time { return now }

	p.UpdateEquity(10000)
	p.UpdateEquity(9500)
	assert.True(t, p.DailyLossLimitExceeded())

	// 一个月后同一天号（3/10 → 4/10）仍是新的一天
	now = time.Date(2025, 4, 10, 9, 0, 0, 0, time.Local)
	p.UpdateEquity(9500)
	assert.False(t, p.DailyLossLimitExceeded())
}

func TestCanOpenPositionEnforcesMaxCount(t *testing.T) {
	p := newTestPolicy()
	p.UpdateEquity(10000)
	p.AddPosition("XBTUSD", 100, types.SideBuy)
	p.AddPosition("ETHUSD", 100, types.SideBuy)
	p.AddPosition("SOLUSD", 100, types.SideBuy)

	assert.True(t, p.IsMaxPositionsReached())
	assert.False(t, p.CanOpenPosition("DOGEUSD", 100, types.SideBuy))
	// 已持有的交易对允许加仓
	assert.True(t, p.CanOpenPosition("XBTUSD", 100, types.SideBuy))

	p.RemovePosition("ETHUSD")
	assert.True(t, p.CanOpenPosition("DOGEUSD", 100, types.SideBuy))
}

func TestPositionBookkeeping(t *testing.T) {
	p := newTestPolicy()
	p.AddPosition("XBTUSD", 100, types.SideBuy)
	p.AddPosition("XBTUSD", 50, types.SideBuy) // 同对累加
	p.AddPosition("ETHUSD", 30, types.SideSell)

	assert.Equal(t, 150.0, p.PositionNotional("XBTUSD"))
	assert.Equal(t, 0.0, p.PositionNotional("DOGEUSD"))
	assert.Equal(t, 180.0, p.TotalExposure())
	assert.Equal(t, 2, p.OpenPositionCount())
	assert.Equal(t, map[string]float64{"XBTUSD": 150, "ETHUSD": 30}, p.Exposures())

	p.RemovePosition("XBTUSD")
	assert.Equal(t, 30.0, p.TotalExposure())
}

func TestCanOpenPositionRejectsNonPositiveNotional(t *testing.T) {
	p := newTestPolicy()
	p.UpdateEquity(10000)
	assert.False(t, p.CanOpenPosition("XBTUSD", 0, types.SideBuy))
	assert.False(t, p.CanOpenPosition("XBTUSD", -5, types.SideBuy))
}
