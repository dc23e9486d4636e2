package mode

import (
	"context"
	"testing"
	"time"

	"bastion/internal/types"

	"github.com/stretchr/testify/assert"
)

const testUnlock = "unlock-secret"

func newTestMachine(tier Tier) *Machine {
	m := NewMachine(Options{
		InitialTier:  tier,
		StagingPairs: []string{"XBTUSD", "ETHUSD"},
		UnlockSecret: testUnlock,
	})
	if tier.requiresUnlock() {
		m.unlockTimestamp = time.Now()
	}
	return m
}

func TestParseTierNames(t *testing.T) {
	tier, ok := ParseTier("Staging")
	assert.True(t, ok)
	assert.Equal(t, TierStaging, tier)

	_, ok = ParseTier("live")
	assert.False(t, ok)
}

func TestSetModeSingleStepOnly(t *testing.T) {
	m := newTestMachine(TierDryRun)
	ctx := context.Background()

	err := m.SetMode(ctx, TierProduction, testUnlock, "tester")
	var mr *types.ModeRestriction
	assert.ErrorAs(t, err, &mr)
	assert.Equal(t, TierDryRun, m.Current())

	assert.NoError(t, m.SetMode(ctx, TierPaper, "", "tester"))
	assert.Equal(t, TierPaper, m.Current())

	// 降档不受单步限制
	m2 := newTestMachine(TierStaging)
	assert.NoError(t, m2.SetMode(ctx, TierDryRun, "", "tester"))
	assert.Equal(t, TierDryRun, m2.Current())
}

func TestSetModeRequiresCredential(t *testing.T) {
	m := newTestMachine(TierPaper)
	ctx := context.Background()

	err := m.SetMode(ctx, TierStaging, "wrong", "tester")
	var mr *types.ModeRestriction
	assert.ErrorAs(t, err, &mr)
	assert.Contains(t, mr.Reason, "invalid unlock credential")
	assert.Equal(t, TierPaper, m.Current())

	assert.NoError(t, m.SetMode(ctx, TierStaging, testUnlock, "tester"))
	assert.Equal(t, TierStaging, m.Current())
}

func TestSetModeFailsClosedWithoutSecret(t *testing.T) {
	m := NewMachine(Options{InitialTier: TierPaper})
	err := m.SetMode(context.Background(), TierStaging, "anything", "tester")
	var mr *types.ModeRestriction
	assert.ErrorAs(t, err, &mr)
	assert.Contains(t, mr.Reason, "no trading unlock secret")
}

func TestCanExecuteOrderValueCeiling(t *testing.T) {
	m := newTestMachine(TierStaging)

	ok, reason := m.CanExecute("XBTUSD", types.SideBuy, 0.001, 50000) // $50
	assert.True(t, ok, reason)

	ok, reason = m.CanExecute("XBTUSD", types.SideBuy, 0.01, 50000) // $500
	assert.False(t, ok)
	assert.Contains(t, reason, "exceeds tier limit")
}

func TestCanExecutePairWhitelist(t *testing.T) {
	m := newTestMachine(TierStaging)

	ok, reason := m.CanExecute("DOGEUSD", types.SideBuy, 0.01, 100)
	assert.False(t, ok)
	assert.Equal(t, "pair not allowed", reason)

	// dry-run 不限交易对
	d := newTestMachine(TierDryRun)
	ok, _ = d.CanExecute("DOGEUSD", types.SideBuy, 0.01, 100)
	assert.True(t, ok)
}

func TestCanExecuteDailyCounter(t *testing.T) {
	m := newTestMachine(TierStaging)

	for i := 0; i < 10; i++ {
		m.RecordTradeExecuted()
	}
	ok, reason := m.CanExecute("XBTUSD", types.SideBuy, 0.0001, 50000)
	assert.False(t, ok)
	assert.Contains(t, reason, "daily trade limit reached (10/10)")
}

func TestDailyCounterRollsAtLocalMidnight(t *testing.T) {
	m := newTestMachine(TierStaging)
	now := time.Date(2026, 3, 4, 23, 50, 0, 0, time.Local)
	m.nowFn = func() time.Time { return now }

	m.RecordTradeExecuted()
	m.RecordTradeExecuted()
	assert.Equal(t, 2, m.DailyTrades())

	now = now.Add(20 * time.Minute) // 跨午夜
	assert.Equal(t, 0, m.DailyTrades())
}

func TestCanExecuteUnlockExpiry(t *testing.T) {
	m := newTestMachine(TierPaper)
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return now }
	assert.NoError(t, m.SetMode(ctx, TierStaging, testUnlock, "tester"))

	ok, _ := m.CanExecute("XBTUSD", types.SideBuy, 0.0001, 50000)
	assert.True(t, ok)

	now = now.Add(8 * 24 * time.Hour)
	ok, reason := m.CanExecute("XBTUSD", types.SideBuy, 0.0001, 50000)
	assert.False(t, ok)
	assert.Equal(t, "unlock credential expired", reason)
}

func TestCanExecuteResultingPositionValue(t *testing.T) {
	m := newTestMachine(TierPaper)
	m.exposureFn = func(pair string) float64 { return 450 }
	assert.NoError(t, m.SetMode(context.Background(), TierStaging, testUnlock, "tester"))

	// 单笔 $60 低于单笔上限，但 450 + 60 > 500
	ok, reason := m.CanExecute("XBTUSD", types.SideBuy, 0.0012, 50000)
	assert.False(t, ok)
	assert.Contains(t, reason, "resulting position value")

	// 卖出减仓不受上限约束
	ok, _ = m.CanExecute("XBTUSD", types.SideSell, 0.0012, 50000)
	assert.True(t, ok)
}

func TestExecutePaperFillNeverReachesVenue(t *testing.T) {
	m := newTestMachine(TierPaper)
	intent := types.OrderIntent{Pair: "ETHUSD", Side: types.SideBuy, Type: types.OrderMarket, Volume: 2}
	conf, err := m.Execute(context.Background(), intent, 3000)
	assert.NoError(t, err)
	assert.True(t, conf.Simulated)
	assert.Equal(t, 3000.0, conf.FilledPrice)
}

func TestExecuteStagingDeniedWithoutConfirm(t *testing.T) {
	m := newTestMachine(TierPaper)
	assert.NoError(t, m.SetMode(context.Background(), TierStaging, testUnlock, "tester"))

	intent := types.OrderIntent{Pair: "XBTUSD", Side: types.SideBuy, Type: types.OrderMarket, Volume: 0.001}
	_, err := m.Execute(context.Background(), intent, 50000)
	var mr *types.ModeRestriction
	assert.ErrorAs(t, err, &mr)
	assert.Contains(t, mr.Reason, "confirmation denied")
}

func TestPaperLedgerRealizedPnL(t *testing.T) {
	l := NewPaperLedger()
	l.Fill(types.OrderIntent{Pair: "XBTUSD", Side: types.SideBuy, Type: types.OrderMarket, Volume: 1}, 100)
	l.Fill(types.OrderIntent{Pair: "XBTUSD", Side: types.SideBuy, Type: types.OrderMarket, Volume: 1}, 200)
	// 均价 150，卖出 1 @ 250 → 盈利 100
	l.Fill(types.OrderIntent{Pair: "XBTUSD", Side: types.SideSell, Type: types.OrderMarket, Volume: 1}, 250)
	assert.InDelta(t, 100, l.Position("XBTUSD").RealizedPnL, 1e-9)
}
