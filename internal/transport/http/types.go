package adminhttp

import (
	"context"

	"bastion/internal/types"
)

// Control 是管理接口依赖的控制面能力，由 app 层实现。
type Control interface {
	Status(ctx context.Context) (StatusView, error)
	SetMode(ctx context.Context, tier, credential, changedBy string) error
	Pause(ctx context.Context, reason string) error
	Resume(ctx context.Context) error
	ResetKillSwitch(ctx context.Context, credential string) error
	RecentAlerts(ctx context.Context, limit int) ([]types.Alert, error)
	InvokeAlertAction(ctx context.Context, alertID, action string) error
}

// StatusView 是 GET /api/status 的应答体。
type StatusView struct {
	Mode        string                       `json:"mode"`
	DailyTrades int                          `json:"daily_trades"`
	KillSwitch  KillSwitchView               `json:"kill_switch"`
	RateLimit   RateLimitView                `json:"rate_limit"`
	Risk        RiskView                     `json:"risk"`
	Health      map[string]types.HealthCheck `json:"health"`
}

type KillSwitchView struct {
	State       string `json:"state"`
	Reason      string `json:"reason,omitempty"`
	TriggeredAt string `json:"triggered_at,omitempty"`
}

type RateLimitView struct {
	Tier        string  `json:"tier"`
	Utilization float64 `json:"utilization"`
	InBackoff   bool    `json:"in_backoff"`
}

type RiskView struct {
	OpenPositions int     `json:"open_positions"`
	TotalExposure float64 `json:"total_exposure"`
	DrawdownPct   float64 `json:"drawdown_pct"`
}

type modeRequest struct {
	Mode       string `json:"mode" binding:"required"`
	Credential string `json:"credential"`
	ChangedBy  string `json:"changed_by"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

type resetRequest struct {
	Credential string `json:"credential"`
}
