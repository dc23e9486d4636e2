// Package orchestrator 是下单主流水线：
// 停机开关 → 档位额度 → 九段校验 → 风险复核 → 执行。
// 各阶段短路返回结构化错误，任何一步都不会越过前一步的否决。
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/killswitch"
	"bastion/internal/logger"
	"bastion/internal/mode"
	"bastion/internal/monitor"
	"bastion/internal/ratelimit"
	"bastion/internal/risk"
	"bastion/internal/scheduler"
	"bastion/internal/types"
	"bastion/internal/validator"
)

const (
	rateLimitPause = 60 * time.Second
	errorPause     = 5 * time.Second
)

type Orchestrator struct {
	exch    exchange.Exchange
	kill    *killswitch.KillSwitch
	machine *mode.Machine
	valid   *validator.Validator
	risk    *risk.Policy
	mon     *monitor.Monitor
	limiter *ratelimit.AdaptiveLimiter
}

type Params struct {
	Exchange  exchange.Exchange
	Kill      *killswitch.KillSwitch
	Machine   *mode.Machine
	Validator *validator.Validator
	Risk      *risk.Policy
	Monitor   *monitor.Monitor
	Limiter   *ratelimit.AdaptiveLimiter
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		exch:    p.Exchange,
		kill:    p.Kill,
		machine: p.Machine,
		valid:   p.Validator,
		risk:    p.Risk,
		mon:     p.Monitor,
		limiter: p.Limiter,
	}
}

// SubmitOrder 将一个下单意图推过整条安全流水线。
// 返回的错误必为 types 中的结构化类型之一（或 ctx 错误）。
func (o *Orchestrator) SubmitOrder(ctx context.Context, intent types.OrderIntent) (*exchange.OrderConfirmation, error) {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}

	// 1. 停机开关：最先检查，任何非 active 状态直接拒绝
	if !o.kill.CanTrade() {
		return nil, o.kill.HaltError()
	}

	// 2. 参考价：档位额度与纸面撮合都需要
	ticker, err := o.exch.GetTicker(ctx, intent.Pair)
	if err != nil {
		o.recordCallFailure(ctx)
		return nil, err
	}
	refPrice := ticker.Last
	if intent.Type.RequiresPrice() && intent.Price > 0 {
		refPrice = intent.Price
	}

	// 3. 档位额度（单笔价值 / 日限 / 白名单 / 结果持仓）
	if ok, reason := o.machine.CanExecute(intent.Pair, intent.Side, intent.Volume, refPrice); !ok {
		return nil, &types.ModeRestriction{Tier: o.machine.Current().String(), Reason: reason}
	}

	// 4. 九段校验
	outcome := o.valid.Validate(ctx, intent)
	for _, w := range outcome.Warnings {
		logger.Warnf("orchestrator: validation warning for %s: %s", intent.Pair, w)
	}
	if !outcome.Valid {
		return nil, &types.ValidationError{Outcome: outcome}
	}

	// 5. 风险复核：校验与执行之间状态可能已变，提交前再查一次
	notional := intent.Notional(refPrice)
	if intent.Side == types.SideBuy && !o.risk.CanOpenPosition(intent.Pair, notional, intent.Side) {
		return nil, &types.RiskRejection{Reason: o.riskReason()}
	}

	// 6. 执行
	conf, err := o.machine.Execute(ctx, intent, refPrice)
	if err != nil {
		o.kill.RecordOrderFailure(ctx)
		if o.mon != nil {
			o.mon.RecordAPIError()
		}
		return nil, err
	}

	o.machine.RecordTradeExecuted()
	o.applyFillToRisk(intent, notional)
	logger.Infof("orchestrator: %s %s %.6f %s executed (order=%s simulated=%v)",
		intent.Side, intent.Pair, intent.Volume, intent.Type, conf.OrderID, conf.Simulated)
	return conf, nil
}

// applyFillToRisk 将成交同步进风险账本：买入累加敞口，卖出扣减，平尽移除。
func (o *Orchestrator) applyFillToRisk(intent types.OrderIntent, notional float64) {
	if intent.Side == types.SideBuy {
		o.risk.AddPosition(intent.Pair, notional, intent.Side)
		return
	}
	remaining := o.risk.PositionNotional(intent.Pair) - notional
	o.risk.RemovePosition(intent.Pair)
	if remaining > 0 {
		o.risk.AddPosition(intent.Pair, remaining, types.SideBuy)
	}
}

func (o *Orchestrator) riskReason() string {
	switch {
	case o.risk.IsMaxDrawdownExceeded():
		return fmt.Sprintf("max drawdown exceeded (%.2f%%)", o.risk.CurrentDrawdownPct())
	case o.risk.DailyLossLimitExceeded():
		return "daily loss limit exceeded"
	case o.risk.IsMaxPositionsReached():
		return fmt.Sprintf("max open positions reached (%d)", o.risk.OpenPositionCount())
	default:
		return "position rejected by risk policy"
	}
}

// RecordClosedTrade 在持仓了结时回灌盈亏，供停机开关与监控统计。
func (o *Orchestrator) RecordClosedTrade(ctx context.Context, pnl float64) {
	o.kill.RecordTradeResult(ctx, pnl)
	if o.mon != nil {
		o.mon.RecordTrade(pnl)
	}
}

func (o *Orchestrator) recordCallFailure(ctx context.Context) {
	o.kill.RecordAPIError(ctx)
	if o.mon != nil {
		o.mon.RecordAPIError()
	}
}

// RunStrategyLoop 以限流器推荐的节奏驱动策略决策。
// 限流退避错误休眠 60s，其余错误休眠 5s 后继续，停机则等待下一轮。
func (o *Orchestrator) RunStrategyLoop(ctx context.Context, strat exchange.Strategy) error {
	logger.Infof("orchestrator: strategy loop started (strategy=%s)", strat.Name())
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := o.limiter.RecommendedDelay()
		if !scheduler.SleepCtx(ctx, delay) {
			return ctx.Err()
		}

		// 每轮都复核触发条件，不等监控循环的下一个周期
		if o.kill.CheckConditions(ctx) {
			logger.Warnf("orchestrator: kill switch tripped, strategy loop idling")
		}
		if !o.kill.CanTrade() {
			if !scheduler.SleepCtx(ctx, errorPause) {
				return ctx.Err()
			}
			continue
		}

		intent, err := strat.DecideOnce(ctx)
		if err != nil {
			o.recordCallFailure(ctx)
			logger.Warnf("orchestrator: strategy %s decide failed: %v", strat.Name(), err)
			if !scheduler.SleepCtx(ctx, pauseFor(err)) {
				return ctx.Err()
			}
			continue
		}
		if intent == nil {
			continue
		}

		if _, err := o.SubmitOrder(ctx, *intent); err != nil {
			if types.IsHalted(err) {
				logger.Warnf("orchestrator: halted, strategy loop idling: %v", err)
				continue
			}
			logger.Warnf("orchestrator: submit rejected: %v", err)
			if !scheduler.SleepCtx(ctx, pauseFor(err)) {
				return ctx.Err()
			}
		}
	}
}

func pauseFor(err error) time.Duration {
	if types.IsRateLimited(err) {
		return rateLimitPause
	}
	return errorPause
}

// Shutdown 按当前档位做有序停机：执行档位先撤单再市价平掉全部持仓，
// 纸面档位只落盘状态。任何失败只记录，不阻塞停机。
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if o.machine.CurrentQuota().ExecutesOrders {
		o.liquidate(ctx)
	}
	o.kill.Shutdown(ctx)
}

func (o *Orchestrator) liquidate(ctx context.Context) {
	orders, err := o.exch.GetOpenOrders(ctx)
	if err != nil {
		logger.Errorf("orchestrator: shutdown list orders failed: %v", err)
	}
	for _, ord := range orders {
		if err := o.exch.CancelOrder(ctx, ord.OrderID); err != nil {
			logger.Errorf("orchestrator: shutdown cancel %s failed: %v", ord.OrderID, err)
		}
	}

	positions, err := o.exch.GetOpenPositions(ctx)
	if err != nil {
		logger.Errorf("orchestrator: shutdown list positions failed: %v", err)
		return
	}
	for _, pos := range positions {
		side := types.SideSell
		if pos.Side == types.SideSell {
			side = types.SideBuy
		}
		_, err := o.exch.CreateOrder(ctx, exchange.OrderRequest{
			Pair:       pos.Pair,
			Side:       side,
			Type:       types.OrderMarket,
			Volume:     pos.Volume,
			ReduceOnly: true,
		})
		if err != nil {
			logger.Errorf("orchestrator: shutdown flatten %s failed: %v", pos.Pair, err)
			continue
		}
		o.risk.RemovePosition(pos.Pair)
	}
}
