package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	bcfg "bastion/internal/config"
	"bastion/internal/gateway/binance"
	"bastion/internal/gateway/exchange"
	"bastion/internal/gateway/limited"
	"bastion/internal/gateway/notifier"
	"bastion/internal/gateway/paper"
	"bastion/internal/killswitch"
	"bastion/internal/logger"
	"bastion/internal/mode"
	"bastion/internal/monitor"
	"bastion/internal/orchestrator"
	"bastion/internal/pkg/circuit"
	"bastion/internal/ratelimit"
	"bastion/internal/risk"
	"bastion/internal/store"
	adminhttp "bastion/internal/transport/http"
	"bastion/internal/validator"
)

const (
	breakerThreshold = 5
	breakerTimeout   = 30 * time.Second
)

// Build 按依赖顺序组装整个控制面：
// store → exchange → 限流栈 → risk → killswitch → mode → validator →
// monitor → orchestrator → 通知 → 管理接口。
func Build(ctx context.Context, cfg *bcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	secrets := bcfg.LoadSecrets()

	st, err := store.NewGormStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	exch, classify, err := buildExchange(cfg.Exchange)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.ParseTier(cfg.RateLimit.InitialTier))
	breaker := circuit.NewCircuitBreaker(cfg.Exchange.Backend, breakerThreshold, breakerTimeout)
	caller := ratelimit.NewCaller(limiter, breaker, classify)
	guarded := limited.Wrap(exch, caller)

	riskPol := risk.NewPolicy(cfg.Risk.MaxOpenPositions, cfg.Risk.MaxDrawdownPct, cfg.Risk.DailyLossLimitPct)

	kill := killswitch.New(killswitch.Options{
		Thresholds: killswitch.Thresholds{
			MaxDailyLossPct:      cfg.Kill.MaxDailyLossPct,
			MaxConsecutiveLosses: cfg.Kill.MaxConsecutiveLosses,
			MaxAPIErrors:         cfg.Kill.MaxAPIErrors,
			MaxOrderFailures:     cfg.Kill.MaxOrderFailures,
		},
		AdminSecret: secrets.AdminReset,
		Store:       st,
		Exchange:    guarded,
		Risk:        riskPol,
	})
	if err := kill.Restore(ctx); err != nil {
		return nil, err
	}

	initialTier, ok := mode.ParseTier(cfg.Trading.InitialTier)
	if !ok {
		return nil, fmt.Errorf("unknown trading tier: %s", cfg.Trading.InitialTier)
	}
	machine := mode.NewMachine(mode.Options{
		InitialTier:  initialTier,
		StagingPairs: cfg.Trading.StagingPairs,
		UnlockSecret: secrets.TradingUnlock,
		Store:        st,
		Exchange:     guarded,
		Exposure:     riskPol.PositionNotional,
	})
	if err := machine.Restore(ctx); err != nil {
		return nil, err
	}

	valid := validator.New(guarded, riskPol, riskPol)

	notify, tg := buildNotifiers(cfg.Notify)

	mon := monitor.New(monitor.Params{
		Config:     cfg.Monitor,
		KillSwitch: kill,
		Risk:       riskPol,
		Exchange:   guarded,
		Store:      st,
		Notifier:   notify,
		Channels:   notifyChannels(cfg.Notify),
	})

	orch := orchestrator.New(orchestrator.Params{
		Exchange:  guarded,
		Kill:      kill,
		Machine:   machine,
		Validator: valid,
		Risk:      riskPol,
		Monitor:   mon,
		Limiter:   limiter,
	})

	a := &App{
		cfg:     cfg,
		st:      st,
		exch:    guarded,
		limiter: limiter,
		risk:    riskPol,
		kill:    kill,
		machine: machine,
		mon:     mon,
		orch:    orch,
	}
	// CloseAll 依赖 orchestrator，Ops 只能在其建好之后注入
	mon.SetOps(monitor.Ops{
		Pause:           kill.Pause,
		Resume:          func(ctx context.Context) error { return kill.Resume(ctx) },
		CloseAll:        func(ctx context.Context) error { orch.Shutdown(ctx); return nil },
		ResetKillSwitch: kill.Reset,
	})

	srv, err := adminhttp.NewServer(adminhttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Control: &control{app: a},
	})
	if err != nil {
		return nil, err
	}
	a.httpSrv = srv
	if tg != nil && cfg.Notify.Telegram.PollCommands {
		a.poller = notifier.NewCommandPoller(tg, a.handleCommand)
	}
	return a, nil
}

func buildExchange(cfg bcfg.ExchangeConfig) (exchange.Exchange, ratelimit.Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "paper":
		return paper.New(0), ratelimit.DefaultClassifier, nil
	case "binance":
		bc := binance.Config{APIKey: cfg.APIKey, APISecret: cfg.APISecret}
		if cfg.Testnet {
			bc.RESTBaseURL = "https://testnet.binancefuture.com"
		}
		client, err := binance.New(bc)
		if err != nil {
			return nil, nil, err
		}
		return client, binance.Classifier, nil
	default:
		return nil, nil, fmt.Errorf("unknown exchange backend: %s", cfg.Backend)
	}
}

func buildNotifiers(cfg bcfg.NotifyConfig) (notifier.Notifier, *notifier.Telegram) {
	notifiers := []notifier.Notifier{notifier.Console{}}
	var tg *notifier.Telegram
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		tg = notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		notifiers = append(notifiers, tg)
	}
	return notifier.Fanout{Notifiers: notifiers}, tg
}

func notifyChannels(cfg bcfg.NotifyConfig) []string {
	channels := []string{"console"}
	if cfg.Telegram.Enabled {
		channels = append(channels, "telegram")
	}
	return channels
}
