package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bastion/internal/config"
	"bastion/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestAlertHistoryTrimsOldest(t *testing.T) {
	c := NewAlertCenter(3, nil)
	ctx := context.Background()
	var first string
	for i := 0; i < 5; i++ {
		a := NewAlert(types.AlertWarning, "monitor", fmt.Sprintf("event %d", i), nil, nil)
		if i == 0 {
			first = a.ID
			c.RegisterActionCallback(a.ID, "noop", func(ctx context.Context) error { return nil })
		}
		c.Append(ctx, a)
	}

	recent := c.Recent(0)
	assert.Len(t, recent, 3)
	assert.Equal(t, "event 4", recent[0].Message)
	assert.Equal(t, "event 2", recent[len(recent)-1].Message)

	// 被裁剪告警的回调随之注销
	err := c.InvokeAction(ctx, first, "noop")
	assert.Error(t, err)
}

func TestInvokeActionUnregistered(t *testing.T) {
	c := NewAlertCenter(10, nil)
	err := c.InvokeAction(context.Background(), "missing", "pause")
	assert.EqualError(t, err, `no action "pause" registered for alert missing`)
}

func TestInvokeActionRunsCallback(t *testing.T) {
	c := NewAlertCenter(10, nil)
	ctx := context.Background()
	a := NewAlert(types.AlertCritical, "killswitch", "drawdown", nil,
		[]types.AlertAction{{ActionID: "pause", Label: "pause trading"}})
	c.Append(ctx, a)

	invoked := false
	c.RegisterActionCallback(a.ID, "pause", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.NoError(t, c.InvokeAction(ctx, a.ID, "pause"))
	assert.True(t, invoked)

	// 同一告警上未注册的操作仍然报错
	assert.Error(t, c.InvokeAction(ctx, a.ID, "resume"))
}

func TestResolveMarksAndUnregisters(t *testing.T) {
	c := NewAlertCenter(10, nil)
	ctx := context.Background()
	a := NewAlert(types.AlertWarning, "monitor", "stale data", nil, nil)
	c.Append(ctx, a)
	c.RegisterActionCallback(a.ID, "refresh", func(ctx context.Context) error { return nil })

	assert.True(t, c.Resolve(ctx, a.ID))
	assert.False(t, c.Resolve(ctx, "missing"))

	recent := c.Recent(1)
	assert.True(t, recent[0].Resolved)
	assert.Error(t, c.InvokeAction(ctx, a.ID, "refresh"))
}

func TestRaiseSuppressesRepeatsWithinCooldown(t *testing.T) {
	m := New(Params{Config: config.MonitorConfig{AlertHistoryLimit: 10}})
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return now }

	// 持续异常在冷却窗口内只记一条
	for i := 0; i < 5; i++ {
		m.raise(ctx, types.AlertWarning, "exchange", "elevated api error rate", nil)
	}
	assert.Len(t, m.Alerts.Recent(0), 1)

	// 不同消息不受同一冷却影响
	m.raise(ctx, types.AlertWarning, "exchange", "ticker stale", nil)
	assert.Len(t, m.Alerts.Recent(0), 2)

	// 冷却期满后同一告警可再次发出
	now = now.Add(alertCooldown)
	m.raise(ctx, types.AlertWarning, "exchange", "elevated api error rate", nil)
	assert.Len(t, m.Alerts.Recent(0), 3)
}
