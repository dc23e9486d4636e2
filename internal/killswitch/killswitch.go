// Package killswitch 实现独立的紧急停机权威：
// 多个互不依赖的触发条件，任何一个满足即进入 emergency_stop，
// 此后只有持管理口令的显式重置才能恢复交易。
package killswitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/logger"
	"bastion/internal/store"
	"bastion/internal/store/model"
	"bastion/internal/types"
)

// State 是停机开关状态。
type State string

const (
	StateActive        State = "active"
	StatePaused        State = "paused"
	StateEmergencyStop State = "emergency_stop"
	StateShutdown      State = "shutdown"
)

// Thresholds 是各触发条件的阈值。
type Thresholds struct {
	MaxDailyLossPct      float64 // 当日亏损占日初余额比例
	MaxConsecutiveLosses int
	MaxAPIErrors         int
	MaxOrderFailures     int
}

// Snapshot 是只读状态快照。
type Snapshot struct {
	State             State      `json:"state"`
	TriggeredAt       *time.Time `json:"triggered_at,omitempty"`
	TriggerReason     string     `json:"trigger_reason,omitempty"`
	DailyPnL          float64    `json:"daily_pnl"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	APIErrorCount     int        `json:"api_error_count"`
	OrderFailureCount int        `json:"order_failure_count"`
	StartOfDayBalance float64    `json:"start_of_day_balance"`
}

// KillSwitch 的每次状态迁移都会落盘；重启后必须恢复到完全相同的状态。
type KillSwitch struct {
	mu sync.Mutex

	state             State
	triggeredAt       *time.Time
	triggerReason     string
	dailyPnL          float64
	consecutiveLosses int
	apiErrorCount     int
	orderFailureCount int
	startOfDayBalance float64

	thresholds  Thresholds
	adminSecret string

	st   *store.GormStore
	exch exchange.Exchange
	risk exchange.RiskPolicy

	nowFn func() time.Time
}

type Options struct {
	Thresholds  Thresholds
	AdminSecret string
	Store       *store.GormStore
	Exchange    exchange.Exchange
	Risk        exchange.RiskPolicy
}

func New(opts Options) *KillSwitch {
	return &KillSwitch{
		state:       StateActive,
		thresholds:  opts.Thresholds,
		adminSecret: opts.AdminSecret,
		st:          opts.Store,
		exch:        opts.Exchange,
		risk:        opts.Risk,
		nowFn:       time.Now,
	}
}

// Restore 从持久层恢复先前状态，包括生效中的急停。
func (k *KillSwitch) Restore(ctx context.Context) error {
	if k.st == nil {
		return nil
	}
	rec, err := k.st.LoadKillSwitchState(ctx)
	if err != nil {
		return fmt.Errorf("killswitch: loading persisted state failed: %w", err)
	}
	if rec == nil {
		return nil
	}
	k.mu.Lock()
	k.state = State(rec.State)
	// shutdown 只描述上一次进程退出，不是持久停机状态；重启即回到 active
	if k.state == StateShutdown {
		k.state = StateActive
		k.triggerReason = ""
		k.triggeredAt = nil
	} else {
		k.triggerReason = rec.TriggerReason
		k.triggeredAt = rec.TriggeredAt
	}
	k.dailyPnL = rec.DailyPnL
	k.consecutiveLosses = rec.ConsecutiveLosses
	k.apiErrorCount = rec.APIErrorCount
	k.orderFailureCount = rec.OrderFailureCount
	k.startOfDayBalance = rec.StartOfDayBalance
	// 记录跨越本地午夜后当日计数作废，日初余额等待重新播种
	if !sameLocalDay(rec.UpdatedAt, k.nowFn()) {
		k.dailyPnL = 0
		k.apiErrorCount = 0
		k.orderFailureCount = 0
		k.startOfDayBalance = 0
	}
	restored := k.state
	var persistErr error
	if restored != State(rec.State) {
		persistErr = k.persistLocked(ctx)
	}
	k.mu.Unlock()
	if restored == StateEmergencyStop {
		logger.Warnf("killswitch: restored in EMERGENCY STOP (reason=%q), trading remains halted", rec.TriggerReason)
	} else {
		logger.Infof("killswitch: restored state=%s", restored)
	}
	return persistErr
}

func sameLocalDay(a, b time.Time) bool {
	al, bl := a.Local(), b.Local()
	return al.Year() == bl.Year() && al.YearDay() == bl.YearDay()
}

// CanTrade 仅在 active 状态放行。
func (k *KillSwitch) CanTrade() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state == StateActive
}

// HaltError 返回表示当前停机原因的结构化错误；active 状态返回 nil。
func (k *KillSwitch) HaltError() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == StateActive {
		return nil
	}
	return &types.KillSwitchHalt{State: string(k.state), Reason: k.triggerReason}
}

// CheckConditions 独立评估全部触发条件，任一满足即触发急停并返回 true。
func (k *KillSwitch) CheckConditions(ctx context.Context) bool {
	k.mu.Lock()
	if k.state == StateEmergencyStop || k.state == StateShutdown {
		k.mu.Unlock()
		return true
	}

	var reason string
	switch {
	case k.startOfDayBalance > 0 &&
		-k.dailyPnL >= k.startOfDayBalance*k.thresholds.MaxDailyLossPct/100:
		reason = fmt.Sprintf("Daily loss exceeded: %.2f (%.1f%% of %.2f)",
			-k.dailyPnL, k.thresholds.MaxDailyLossPct, k.startOfDayBalance)
	case k.consecutiveLosses >= k.thresholds.MaxConsecutiveLosses:
		reason = fmt.Sprintf("Consecutive losses: %d", k.consecutiveLosses)
	case k.apiErrorCount >= k.thresholds.MaxAPIErrors:
		reason = fmt.Sprintf("API error count: %d", k.apiErrorCount)
	case k.orderFailureCount >= k.thresholds.MaxOrderFailures:
		reason = fmt.Sprintf("Order failure count: %d", k.orderFailureCount)
	case k.risk != nil && k.risk.IsMaxDrawdownExceeded():
		reason = "Max drawdown exceeded (risk policy)"
	}
	k.mu.Unlock()

	if reason == "" {
		return false
	}
	k.Trigger(ctx, reason)
	return true
}

// Trigger 进入急停：先落盘停机状态，再尽力平掉全部仓位。
// 清仓失败只记录不再上抛，停机状态本身才是安全网。
func (k *KillSwitch) Trigger(ctx context.Context, reason string) {
	k.mu.Lock()
	if k.state == StateEmergencyStop {
		k.mu.Unlock()
		return
	}
	now := k.nowFn()
	k.state = StateEmergencyStop
	k.triggeredAt = &now
	k.triggerReason = reason
	if err := k.persistLocked(ctx); err != nil {
		logger.Errorf("killswitch: persisting emergency stop failed: %v", err)
	}
	k.mu.Unlock()

	logger.Errorf("killswitch: EMERGENCY STOP triggered: %s", reason)
	k.emergencyCloseAllPositions(ctx)
}

// emergencyCloseAllPositions 撤掉全部挂单后以市价单平掉所有持仓。
func (k *KillSwitch) emergencyCloseAllPositions(ctx context.Context) {
	if k.exch == nil {
		return
	}
	orders, err := k.exch.GetOpenOrders(ctx)
	if err != nil {
		logger.Errorf("killswitch: listing open orders for liquidation failed: %v", err)
	}
	for _, o := range orders {
		if err := k.exch.CancelOrder(ctx, o.OrderID); err != nil {
			logger.Errorf("killswitch: cancelling order %s failed: %v", o.OrderID, err)
		}
	}

	positions, err := k.exch.GetOpenPositions(ctx)
	if err != nil {
		logger.Errorf("killswitch: listing positions for liquidation failed: %v", err)
		return
	}
	for _, pos := range positions {
		side := types.SideSell
		if pos.Side == types.SideSell {
			side = types.SideBuy
		}
		req := exchange.OrderRequest{
			Pair:       pos.Pair,
			Side:       side,
			Type:       types.OrderMarket,
			Volume:     pos.Volume,
			ReduceOnly: true,
		}
		if _, err := k.exch.CreateOrder(ctx, req); err != nil {
			logger.Errorf("killswitch: flattening %s failed: %v", pos.Pair, err)
			continue
		}
		if k.risk != nil {
			k.risk.RemovePosition(pos.Pair)
		}
		logger.Warnf("killswitch: flattened %s %s %.6f", pos.Pair, pos.Side, pos.Volume)
	}
}

// Reset 只有管理口令匹配时才能离开 emergency_stop；同时清零连败计数。
func (k *KillSwitch) Reset(ctx context.Context, adminCredential string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != StateEmergencyStop {
		return fmt.Errorf("killswitch: reset only applies to emergency_stop (state=%s)", k.state)
	}
	if k.adminSecret == "" || adminCredential != k.adminSecret {
		return fmt.Errorf("killswitch: invalid admin credential, remaining halted")
	}
	k.state = StateActive
	k.triggeredAt = nil
	k.triggerReason = ""
	k.consecutiveLosses = 0
	if err := k.persistLocked(ctx); err != nil {
		return fmt.Errorf("killswitch: persisting reset failed: %w", err)
	}
	logger.Warnf("killswitch: emergency stop cleared by admin reset")
	return nil
}

// Pause 运维性暂停，无需口令，可随时恢复。
func (k *KillSwitch) Pause(ctx context.Context, reason string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != StateActive {
		return fmt.Errorf("killswitch: cannot pause from state %s", k.state)
	}
	k.state = StatePaused
	k.triggerReason = reason
	if err := k.persistLocked(ctx); err != nil {
		return err
	}
	logger.Infof("killswitch: trading paused: %s", reason)
	return nil
}

// Resume 从 paused 回到 active；对已在 active 的开关是无操作，
// 不会改动 triggeredAt。
func (k *KillSwitch) Resume(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state == StateActive {
		return nil
	}
	if k.state != StatePaused {
		return fmt.Errorf("killswitch: cannot resume from state %s without admin reset", k.state)
	}
	k.state = StateActive
	k.triggerReason = ""
	if err := k.persistLocked(ctx); err != nil {
		return err
	}
	logger.Infof("killswitch: trading resumed")
	return nil
}

// Shutdown 标记进程级停机（仅在应用退出路径使用）。
func (k *KillSwitch) Shutdown(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = StateShutdown
	if err := k.persistLocked(ctx); err != nil {
		logger.Errorf("killswitch: persisting shutdown state failed: %v", err)
	}
}

// RecordTradeResult 记录一笔交易盈亏，维护当日盈亏与连败计数。
func (k *KillSwitch) RecordTradeResult(ctx context.Context, pnl float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dailyPnL += pnl
	if pnl < 0 {
		k.consecutiveLosses++
	} else if pnl > 0 {
		k.consecutiveLosses = 0
	}
	if err := k.persistLocked(ctx); err != nil {
		logger.Errorf("killswitch: persisting trade result failed: %v", err)
	}
}

// RecordAPIError 累加 API 错误计数。
func (k *KillSwitch) RecordAPIError(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.apiErrorCount++
	if err := k.persistLocked(ctx); err != nil {
		logger.Errorf("killswitch: persisting api error count failed: %v", err)
	}
}

// RecordOrderFailure 累加下单失败计数。
func (k *KillSwitch) RecordOrderFailure(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.orderFailureCount++
	if err := k.persistLocked(ctx); err != nil {
		logger.Errorf("killswitch: persisting order failure count failed: %v", err)
	}
}

// ResetDailyCounters 在每个交易日开始时调用：清零计数并异步
// 重新拉取日初余额。
func (k *KillSwitch) ResetDailyCounters(ctx context.Context) {
	k.mu.Lock()
	k.dailyPnL = 0
	k.apiErrorCount = 0
	k.orderFailureCount = 0
	if err := k.persistLocked(ctx); err != nil {
		logger.Errorf("killswitch: persisting daily reset failed: %v", err)
	}
	k.mu.Unlock()

	if k.exch == nil {
		return
	}
	go func() {
		fetchCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		bal, err := k.exch.GetAccountBalance(fetchCtx)
		if err != nil {
			logger.Errorf("killswitch: fetching start-of-day balance failed: %v", err)
			return
		}
		k.mu.Lock()
		k.startOfDayBalance = bal.Total
		if err := k.persistLocked(fetchCtx); err != nil {
			logger.Errorf("killswitch: persisting start-of-day balance failed: %v", err)
		}
		k.mu.Unlock()
		logger.Infof("killswitch: start-of-day balance set to %.2f", bal.Total)
	}()
}

// SetStartOfDayBalance 直接设定日初余额（启动与测试路径）。
func (k *KillSwitch) SetStartOfDayBalance(ctx context.Context, balance float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.startOfDayBalance = balance
	if err := k.persistLocked(ctx); err != nil {
		logger.Errorf("killswitch: persisting balance failed: %v", err)
	}
}

// CurrentSnapshot 返回只读快照。
func (k *KillSwitch) CurrentSnapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Snapshot{
		State:             k.state,
		TriggeredAt:       k.triggeredAt,
		TriggerReason:     k.triggerReason,
		DailyPnL:          k.dailyPnL,
		ConsecutiveLosses: k.consecutiveLosses,
		APIErrorCount:     k.apiErrorCount,
		OrderFailureCount: k.orderFailureCount,
		StartOfDayBalance: k.startOfDayBalance,
	}
}

func (k *KillSwitch) persistLocked(ctx context.Context) error {
	if k.st == nil {
		return nil
	}
	rec := model.KillSwitchStateModel{
		State:             string(k.state),
		TriggeredAt:       k.triggeredAt,
		TriggerReason:     k.triggerReason,
		DailyPnL:          k.dailyPnL,
		ConsecutiveLosses: k.consecutiveLosses,
		APIErrorCount:     k.apiErrorCount,
		OrderFailureCount: k.orderFailureCount,
		StartOfDayBalance: k.startOfDayBalance,
	}
	return k.st.SaveKillSwitchState(ctx, rec)
}
