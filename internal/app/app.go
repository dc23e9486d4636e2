// Package app 负责应用级编排：初始化依赖→启动监控与管理服务→有序停机。
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	bcfg "bastion/internal/config"
	"bastion/internal/gateway/exchange"
	"bastion/internal/gateway/limited"
	"bastion/internal/killswitch"
	"bastion/internal/logger"
	"bastion/internal/mode"
	"bastion/internal/monitor"
	"bastion/internal/orchestrator"
	"bastion/internal/ratelimit"
	"bastion/internal/risk"
	"bastion/internal/store"
	adminhttp "bastion/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	cfg     *bcfg.Config
	st      *store.GormStore
	exch    *limited.Exchange
	limiter *ratelimit.AdaptiveLimiter
	risk    *risk.Policy
	kill    *killswitch.KillSwitch
	machine *mode.Machine
	mon     *monitor.Monitor
	orch    *orchestrator.Orchestrator
	httpSrv *adminhttp.Server
	poller  notifierPoller

	strategy exchange.Strategy
	watcher  envelopeSource
}

type notifierPoller interface {
	Run(ctx context.Context)
}

type envelopeSource interface{ Snapshot() bcfg.PerformanceBound }

// AttachStrategy 挂载一个信号源；未挂载时进程只作为纯控制面运行
// （经管理接口 / 通知命令接受人工干预）。
func (a *App) AttachStrategy(s exchange.Strategy) { a.strategy = s }

// Orchestrator 暴露下单流水线（CLI / 测试用）。
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Run 启动全部后台循环并阻塞至 ctx 取消，返回前完成有序停机。
func (a *App) Run(ctx context.Context, configPath string) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.seedDailyBaseline(ctx); err != nil {
		logger.Warnf("app: could not seed start-of-day balance: %v", err)
	}

	if configPath != "" {
		w, err := bcfg.WatchEnvelope(configPath, a.cfg.Monitor.Envelope, a.mon.SetEnvelope)
		if err != nil {
			logger.Warnf("app: envelope hot reload disabled: %v", err)
		} else {
			a.watcher = w
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.limiter.RunDecay(ctx)
		return nil
	})
	group.Go(func() error {
		return a.mon.Run(ctx)
	})
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("admin http server error: %w", err)
		}
		return nil
	})
	if a.poller != nil {
		group.Go(func() error {
			a.poller.Run(ctx)
			return nil
		})
	}
	if a.strategy != nil {
		group.Go(func() error {
			err := a.orch.RunStrategyLoop(ctx, a.strategy)
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	err := group.Wait()

	// 有序停机：取消已完成，用独立 ctx 收尾（撤单 / 平仓 / 落盘）
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.orch.Shutdown(shCtx)
	if cerr := a.st.Close(); cerr != nil {
		logger.Warnf("app: closing store: %v", cerr)
	}
	return err
}

// seedDailyBaseline 启动时取一次余额作为当日基线；失败只降级告警，
// 不阻塞启动（日亏阈值在基线就绪前不触发）。
// 当日已有基线（进程中途重启后 Restore 恢复）时不覆盖，否则会抹掉已发生的日亏。
func (a *App) seedDailyBaseline(ctx context.Context) error {
	bal, err := a.exch.GetAccountBalance(ctx)
	if err != nil {
		return err
	}
	if a.kill.CurrentSnapshot().StartOfDayBalance == 0 {
		a.kill.SetStartOfDayBalance(ctx, bal.Total)
	}
	a.risk.UpdateEquity(bal.Total)
	return nil
}

// handleCommand 处理通知通道下发的人工命令（/status /pause /resume /mode）。
func (a *App) handleCommand(ctx context.Context, command, args string) error {
	switch command {
	case "status":
		return a.replyStatus(ctx)
	case "pause":
		reason := args
		if reason == "" {
			reason = "manual pause via command channel"
		}
		return a.kill.Pause(ctx, reason)
	case "resume":
		return a.kill.Resume(ctx)
	case "mode":
		fields := strings.Fields(args)
		if len(fields) < 1 {
			return fmt.Errorf("usage: /mode <tier> [credential]")
		}
		tier, ok := mode.ParseTier(fields[0])
		if !ok {
			return fmt.Errorf("unknown tier: %s", fields[0])
		}
		credential := ""
		if len(fields) > 1 {
			credential = fields[1]
		}
		return a.machine.SetMode(ctx, tier, credential, "command-channel")
	default:
		return fmt.Errorf("unknown command: /%s", command)
	}
}

func (a *App) replyStatus(ctx context.Context) error {
	snap := a.kill.CurrentSnapshot()
	rl := a.limiter.Snapshot()
	logger.Infof("status: mode=%s killswitch=%s ratelimit=%s util=%.0f%% positions=%d exposure=%.2f",
		a.machine.Current(), snap.State, rl.Tier, rl.Utilization*100,
		a.risk.OpenPositionCount(), a.risk.TotalExposure())
	return nil
}
