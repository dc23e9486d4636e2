// Package monitor 实现生产监督：三个相互独立的并发循环
// （控制 / 健康 / 指标），共享只读状态，产出告警并支持远程操作回调。
package monitor

import (
	"context"
	"sync"
	"time"

	"bastion/internal/config"
	"bastion/internal/gateway/exchange"
	"bastion/internal/gateway/notifier"
	"bastion/internal/killswitch"
	"bastion/internal/logger"
	"bastion/internal/risk"
	"bastion/internal/scheduler"
	"bastion/internal/store"
	"bastion/internal/types"

	"golang.org/x/sync/errgroup"
)

const (
	apiErrorRateWindow  = time.Minute
	apiErrorRateLimit   = 5
	concentrationMaxPct = 30.0
	balanceDeclineSpan  = time.Hour
	balanceDeclinePct   = 2.0
	exchangeLatencyMax  = 2 * time.Second
)

// Ops 注入监控可远程触发的核心操作。
type Ops struct {
	Pause           func(ctx context.Context, reason string) error
	Resume          func(ctx context.Context) error
	CloseAll        func(ctx context.Context) error
	ResetKillSwitch func(ctx context.Context, credential string) error
}

type Monitor struct {
	cfg config.MonitorConfig

	envMu    sync.RWMutex
	envelope config.PerformanceBound

	ks       *killswitch.KillSwitch
	riskPol  *risk.Policy
	exch     exchange.Exchange
	st       *store.GormStore
	notify   notifier.Notifier
	channels []string // 全部已配置通道，critical 全量下发
	ops      Ops

	Alerts   *AlertCenter
	balances *balanceRing
	trades   *tradeStats

	apiErrMu    sync.Mutex
	apiErrTimes []time.Time

	healthMu sync.Mutex
	health   map[string]types.HealthCheck

	raiseMu    sync.Mutex
	lastRaised map[string]time.Time

	// streamAlive 为空时视为无流式连接需要探活
	streamAlive func() bool

	lastDailyReset time.Time
	nowFn          func() time.Time
}

type Params struct {
	Config      config.MonitorConfig
	KillSwitch  *killswitch.KillSwitch
	Risk        *risk.Policy
	Exchange    exchange.Exchange
	Store       *store.GormStore
	Notifier    notifier.Notifier
	Channels    []string
	Ops         Ops
	StreamAlive func() bool
}

func New(p Params) *Monitor {
	return &Monitor{
		cfg:         p.Config,
		envelope:    p.Config.Envelope,
		ks:          p.KillSwitch,
		riskPol:     p.Risk,
		exch:        p.Exchange,
		st:          p.Store,
		notify:      p.Notifier,
		channels:    p.Channels,
		ops:         p.Ops,
		Alerts:      NewAlertCenter(p.Config.AlertHistoryLimit, p.Store),
		balances:    newBalanceRing(288),
		trades:      &tradeStats{},
		health:      make(map[string]types.HealthCheck),
		lastRaised:  make(map[string]time.Time),
		streamAlive: p.StreamAlive,
		nowFn:       time.Now,
	}
}

// SetOps 注入远程操作实现。部分操作依赖在监控器之后构建的组件，
// 必须在 Run 之前调用完毕。
func (m *Monitor) SetOps(ops Ops) {
	m.ops = ops
}

// SetEnvelope 热更新绩效包络（配置热加载回调）。
func (m *Monitor) SetEnvelope(env config.PerformanceBound) {
	m.envMu.Lock()
	m.envelope = env
	m.envMu.Unlock()
}

func (m *Monitor) currentEnvelope() config.PerformanceBound {
	m.envMu.RLock()
	defer m.envMu.RUnlock()
	return m.envelope
}

// Run 启动三个监督循环并阻塞至 ctx 取消。
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	control := scheduler.NewIntervalScheduler(ctx, "control",
		time.Duration(m.cfg.ControlIntervalSeconds)*time.Second)
	health := scheduler.NewIntervalScheduler(ctx, "health",
		time.Duration(m.cfg.HealthIntervalSeconds)*time.Second)
	health.RunImmediately = true
	metrics := scheduler.NewIntervalScheduler(ctx, "metrics",
		time.Duration(m.cfg.MetricsIntervalSeconds)*time.Second)

	g.Go(func() error { control.Start(func() { m.runControlCycle(ctx) }); return nil })
	g.Go(func() error { health.Start(func() { m.runHealthCycle(ctx) }); return nil })
	g.Go(func() error { metrics.Start(func() { m.runMetricsCycle(ctx) }); return nil })

	return g.Wait()
}

// RecordTrade 记录一笔已完成交易的盈亏。
func (m *Monitor) RecordTrade(pnl float64) {
	m.trades.record(pnl)
}

// RecordAPIError 记录一次 API 错误用于错误率监控。
func (m *Monitor) RecordAPIError() {
	now := m.nowFn()
	m.apiErrMu.Lock()
	m.apiErrTimes = append(m.apiErrTimes, now)
	cutoff := now.Add(-apiErrorRateWindow)
	kept := m.apiErrTimes[:0]
	for _, t := range m.apiErrTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.apiErrTimes = kept
	m.apiErrMu.Unlock()
}

// HealthSnapshot 返回各组件最近一次健康检查结果。
func (m *Monitor) HealthSnapshot() map[string]types.HealthCheck {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	out := make(map[string]types.HealthCheck, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}

// runControlCycle 短周期控制检查。
func (m *Monitor) runControlCycle(ctx context.Context) {
	m.maybeResetDailyCounters(ctx)

	if m.ks != nil && m.ks.CheckConditions(ctx) {
		snap := m.ks.CurrentSnapshot()
		if snap.State == killswitch.StateEmergencyStop {
			m.raise(ctx, types.AlertCritical, "kill_switch",
				"emergency stop active: "+snap.TriggerReason, nil)
		}
	}

	if m.riskPol != nil {
		if m.riskPol.IsMaxDrawdownExceeded() {
			m.raise(ctx, types.AlertError, "risk_policy", "max drawdown exceeded",
				map[string]float64{"drawdown_pct": m.riskPol.CurrentDrawdownPct()})
		}
		if m.riskPol.DailyLossLimitExceeded() {
			m.raise(ctx, types.AlertError, "risk_policy", "daily loss limit exceeded", nil)
		}
	}

	m.apiErrMu.Lock()
	errCount := len(m.apiErrTimes)
	m.apiErrMu.Unlock()
	if errCount > apiErrorRateLimit {
		m.raise(ctx, types.AlertError, "api",
			"elevated API error rate", map[string]float64{"errors_per_minute": float64(errCount)})
	}

	m.checkConcentration(ctx)
	m.checkBalanceFloor(ctx)
}

func (m *Monitor) checkConcentration(ctx context.Context) {
	if m.riskPol == nil {
		return
	}
	total := m.riskPol.TotalExposure()
	if total <= 0 {
		return
	}
	for pair, notional := range m.riskPol.Exposures() {
		sharePct := notional / total * 100
		if sharePct > concentrationMaxPct {
			m.raise(ctx, types.AlertWarning, "concentration",
				"position concentration above threshold in "+pair,
				map[string]float64{"share_pct": sharePct})
		}
	}
}

func (m *Monitor) checkBalanceFloor(ctx context.Context) {
	latest, ok := m.balances.latest()
	if !ok {
		return
	}
	if latest < m.cfg.BalanceFloorUSD {
		m.raise(ctx, types.AlertCritical, "balance",
			"account balance below floor",
			map[string]float64{"balance": latest, "floor": m.cfg.BalanceFloorUSD})
	}
	if decline, ok := m.balances.declinePctSince(balanceDeclineSpan, m.nowFn()); ok && decline > balanceDeclinePct {
		m.raise(ctx, types.AlertError, "balance",
			"balance declining over the trailing hour",
			map[string]float64{"decline_pct": decline})
	}
}

// maybeResetDailyCounters 跨越本地自然日时重置停机开关的当日计数。
func (m *Monitor) maybeResetDailyCounters(ctx context.Context) {
	now := m.nowFn().Local()
	y, mo, d := now.Date()
	anchor := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
	if anchor.Equal(m.lastDailyReset) {
		return
	}
	first := m.lastDailyReset.IsZero()
	m.lastDailyReset = anchor
	if first {
		return
	}
	logger.Infof("monitor: new trading day, resetting kill-switch daily counters")
	if m.ks != nil {
		m.ks.ResetDailyCounters(ctx)
	}
}

// runMetricsCycle 指标循环：余额采样、绩效重算、包络与异常检测。
func (m *Monitor) runMetricsCycle(ctx context.Context) {
	now := m.nowFn()
	if m.exch != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		bal, err := m.exch.GetAccountBalance(fetchCtx)
		cancel()
		if err != nil {
			logger.Warnf("monitor: balance snapshot failed: %v", err)
		} else {
			m.balances.push(bal.Total, now)
			if m.riskPol != nil {
				m.riskPol.UpdateEquity(bal.Total)
			}
		}
	}

	env := m.currentEnvelope()
	winRate, totalPnL, losingStreak := m.trades.snapshot()
	drawdown := 0.0
	if m.riskPol != nil {
		drawdown = m.riskPol.CurrentDrawdownPct()
	}
	metrics := map[string]float64{
		"win_rate_pct":  winRate,
		"total_pnl":     totalPnL,
		"drawdown_pct":  drawdown,
		"losing_streak": float64(losingStreak),
	}

	if drawdown > env.MaxDrawdownPct {
		m.raise(ctx, types.AlertError, "performance", "drawdown outside envelope", metrics)
	}
	if losingStreak > env.MaxLosingStreak {
		m.raise(ctx, types.AlertError, "performance", "losing streak outside envelope", metrics)
	}
	if winRate > 0 && winRate < env.MinWinRatePct {
		m.raise(ctx, types.AlertWarning, "performance", "win rate below envelope", metrics)
	}

	returns := m.balances.periodReturns()
	if sharpe, ok := sharpeRatio(returns); ok && env.MinSharpe != 0 && sharpe < env.MinSharpe {
		metrics["sharpe"] = sharpe
		m.raise(ctx, types.AlertWarning, "performance", "sharpe ratio below envelope", metrics)
	}
	if len(returns) > 0 {
		current := returns[len(returns)-1]
		if z, ok := zScore(returns[:len(returns)-1], current, env.AnomalyLookbacks); ok {
			if z > env.AnomalyZScore || z < -env.AnomalyZScore {
				m.raise(ctx, types.AlertWarning, "performance",
					"current period return is a statistical outlier",
					map[string]float64{"z_score": z, "return": current})
			}
		}
	}
}

// alertCooldown 内相同 component+message 的告警只发一次，
// 避免持续异常在每个巡检周期都刷屏。
const alertCooldown = 5 * time.Minute

// raise 追加告警；error/critical 经通知方派发并附带远程操作。
func (m *Monitor) raise(ctx context.Context, level types.AlertLevel, component, message string, metrics map[string]float64) {
	key := component + "|" + message
	now := m.nowFn()
	m.raiseMu.Lock()
	if last, ok := m.lastRaised[key]; ok && now.Sub(last) < alertCooldown {
		m.raiseMu.Unlock()
		return
	}
	m.lastRaised[key] = now
	m.raiseMu.Unlock()

	var actions []types.AlertAction
	if level == types.AlertError || level == types.AlertCritical {
		actions = []types.AlertAction{
			{ActionID: "pause-trading", Label: "暂停交易"},
			{ActionID: "close-all-positions", Label: "清空持仓"},
			{ActionID: "reset-kill-switch", Label: "重置停机开关"},
		}
	}
	alert := NewAlert(level, component, message, metrics, actions)
	m.Alerts.Append(ctx, alert)

	for _, a := range alert.Actions {
		m.registerDefaultAction(alert.ID, a.ActionID)
	}

	switch level {
	case types.AlertCritical:
		logger.Errorf("CRITICAL alert [%s]: %s", component, message)
		if m.notify != nil {
			// critical 全通道下发
			if err := m.notify.SendAlert(ctx, alert, m.channels); err != nil {
				logger.Warnf("monitor: alert dispatch failed: %v", err)
			}
		}
	case types.AlertError:
		logger.Errorf("alert [%s]: %s", component, message)
		if m.notify != nil {
			if err := m.notify.SendAlert(ctx, alert, nil); err != nil {
				logger.Warnf("monitor: alert dispatch failed: %v", err)
			}
		}
	case types.AlertWarning:
		logger.Warnf("alert [%s]: %s", component, message)
	default:
		logger.Infof("alert [%s]: %s", component, message)
	}
}

func (m *Monitor) registerDefaultAction(alertID, actionID string) {
	switch actionID {
	case "pause-trading":
		if m.ops.Pause != nil {
			m.Alerts.RegisterActionCallback(alertID, actionID, func(ctx context.Context) error {
				return m.ops.Pause(ctx, "remote action on alert "+alertID)
			})
		}
	case "close-all-positions":
		if m.ops.CloseAll != nil {
			m.Alerts.RegisterActionCallback(alertID, actionID, m.ops.CloseAll)
		}
	case "reset-kill-switch":
		if m.ops.ResetKillSwitch != nil {
			m.Alerts.RegisterActionCallback(alertID, actionID, func(ctx context.Context) error {
				// 远程重置仍需管理口令，由 HTTP / 命令面传入
				return m.ops.ResetKillSwitch(ctx, "")
			})
		}
	}
}
