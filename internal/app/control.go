package app

import (
	"context"
	"time"

	"bastion/internal/mode"
	adminhttp "bastion/internal/transport/http"
	"bastion/internal/types"
)

// control 把管理接口的操作落到各核心组件上。
type control struct {
	app *App
}

var _ adminhttp.Control = (*control)(nil)

func (c *control) Status(ctx context.Context) (adminhttp.StatusView, error) {
	ks := c.app.kill.CurrentSnapshot()
	rl := c.app.limiter.Snapshot()
	inBackoff, _ := c.app.limiter.InBackoff()

	view := adminhttp.StatusView{
		Mode:        c.app.machine.Current().String(),
		DailyTrades: c.app.machine.DailyTrades(),
		KillSwitch: adminhttp.KillSwitchView{
			State:  string(ks.State),
			Reason: ks.TriggerReason,
		},
		RateLimit: adminhttp.RateLimitView{
			Tier:        rl.Tier,
			Utilization: rl.Utilization,
			InBackoff:   inBackoff,
		},
		Risk: adminhttp.RiskView{
			OpenPositions: c.app.risk.OpenPositionCount(),
			TotalExposure: c.app.risk.TotalExposure(),
			DrawdownPct:   c.app.risk.CurrentDrawdownPct(),
		},
		Health: c.app.mon.HealthSnapshot(),
	}
	if ks.TriggeredAt != nil {
		view.KillSwitch.TriggeredAt = ks.TriggeredAt.Format(time.RFC3339)
	}
	return view, nil
}

func (c *control) SetMode(ctx context.Context, tier, credential, changedBy string) error {
	parsed, ok := mode.ParseTier(tier)
	if !ok {
		return &types.ModeRestriction{Tier: tier, Reason: "unknown tier"}
	}
	return c.app.machine.SetMode(ctx, parsed, credential, changedBy)
}

func (c *control) Pause(ctx context.Context, reason string) error {
	return c.app.kill.Pause(ctx, reason)
}

func (c *control) Resume(ctx context.Context) error {
	return c.app.kill.Resume(ctx)
}

func (c *control) ResetKillSwitch(ctx context.Context, credential string) error {
	return c.app.kill.Reset(ctx, credential)
}

func (c *control) RecentAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	return c.app.mon.Alerts.Recent(limit), nil
}

func (c *control) InvokeAlertAction(ctx context.Context, alertID, action string) error {
	return c.app.mon.Alerts.InvokeAction(ctx, alertID, action)
}
