package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"bastion/internal/store/model"

	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	st, err := NewGormStore(filepath.Join(t.TempDir(), "state.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewGormStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewGormStore("  ")
	assert.Error(t, err)
}

func TestKillSwitchStateRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// 从未写入时返回 (nil, nil)
	rec, err := st.LoadKillSwitchState(ctx)
	assert.NoError(t, err)
	assert.Nil(t, rec)

	triggered := time.Now().Truncate(time.Second)
	saved := model.KillSwitchStateModel{
		State:             "emergency_stop",
		TriggeredAt:       &triggered,
		TriggerReason:     "Consecutive losses: 5",
		DailyPnL:          -123.45,
		ConsecutiveLosses: 5,
		APIErrorCount:     2,
		OrderFailureCount: 1,
		StartOfDayBalance: 10000,
	}
	assert.NoError(t, st.SaveKillSwitchState(ctx, saved))

	rec, err = st.LoadKillSwitchState(ctx)
	assert.NoError(t, err)
	if assert.NotNil(t, rec) {
		assert.Equal(t, "emergency_stop", rec.State)
		assert.Equal(t, "Consecutive losses: 5", rec.TriggerReason)
		assert.Equal(t, 5, rec.ConsecutiveLosses)
		assert.InDelta(t, -123.45, rec.DailyPnL, 1e-9)
		assert.NotNil(t, rec.TriggeredAt)
	}

	// 覆盖写入同一行
	saved.State = "active"
	saved.TriggeredAt = nil
	saved.TriggerReason = ""
	assert.NoError(t, st.SaveKillSwitchState(ctx, saved))
	rec, err = st.LoadKillSwitchState(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "active", rec.State)
}

func TestTradingModeStateRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec, err := st.LoadTradingModeState(ctx)
	assert.NoError(t, err)
	assert.Nil(t, rec)

	unlocked := time.Now()
	assert.NoError(t, st.SaveTradingModeState(ctx, model.TradingModeStateModel{
		Tier:            "staging",
		ChangedAt:       time.Now(),
		ChangedBy:       "operator",
		UnlockKeyHash:   "$2a$10$abcdefg",
		UnlockTimestamp: &unlocked,
	}))

	rec, err = st.LoadTradingModeState(ctx)
	assert.NoError(t, err)
	if assert.NotNil(t, rec) {
		assert.Equal(t, "staging", rec.Tier)
		assert.Equal(t, "operator", rec.ChangedBy)
		assert.NotEmpty(t, rec.UnlockKeyHash)
		assert.NotNil(t, rec.UnlockTimestamp)
	}
}

func TestAlertHistoryIsBounded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		rec := model.AlertModel{
			ID:        fmt.Sprintf("alert-%d", i),
			Level:     "warning",
			Component: "monitor",
			Message:   fmt.Sprintf("event %d", i),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		assert.NoError(t, st.AppendAlert(ctx, rec, 5))
	}

	recs, err := st.RecentAlerts(ctx, 0)
	assert.NoError(t, err)
	assert.Len(t, recs, 5)
	// 最老的已被裁剪，最新在前
	assert.Equal(t, "alert-7", recs[0].ID)
	assert.Equal(t, "alert-3", recs[len(recs)-1].ID)
}

func TestRecentAlertsHonorsLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		assert.NoError(t, st.AppendAlert(ctx, model.AlertModel{
			ID:        fmt.Sprintf("a-%d", i),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}, 0))
	}
	recs, err := st.RecentAlerts(ctx, 2)
	assert.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, "a-3", recs[0].ID)
}

func TestMarkAlertResolved(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	assert.NoError(t, st.AppendAlert(ctx, model.AlertModel{ID: "a-1", CreatedAt: time.Now()}, 0))
	assert.NoError(t, st.MarkAlertResolved(ctx, "a-1"))

	recs, err := st.RecentAlerts(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, recs[0].Resolved)
}

func TestPing(t *testing.T) {
	st := newTestStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
