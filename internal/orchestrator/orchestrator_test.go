package orchestrator

import (
	"context"
	"testing"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/gateway/paper"
	"bastion/internal/killswitch"
	"bastion/internal/mode"
	"bastion/internal/ratelimit"
	"bastion/internal/risk"
	"bastion/internal/types"
	"bastion/internal/validator"

	"github.com/stretchr/testify/assert"
)

// fundedVenue 在纸面交易所之上补上基础货币钱包，让卖出方向也能过余额校验。
type fundedVenue struct {
	*paper.Venue
}

func (v *fundedVenue) GetAccountBalance(ctx context.Context) (exchange.Balance, error) {
	bal, err := v.Venue.GetAccountBalance(ctx)
	if err != nil {
		return bal, err
	}
	bal.Wallets["XBT"] = 10
	bal.Wallets["ETH"] = 100
	return bal, nil
}

type fixture struct {
	orch  *Orchestrator
	venue *fundedVenue
	kill  *killswitch.KillSwitch
	risk  *risk.Policy
}

// newFixture 用真实组件搭完整流水线；校验器与编排器可各配一套风险策略，
// 以便单测编排器自身的风险复核。
func newFixture(tier mode.Tier, validatorRisk, orchRisk *risk.Policy) *fixture {
	venue := &fundedVenue{Venue: paper.New(10000)}
	venue.SetPrice("XBTUSD", 100)
	venue.SetPrice("ETHUSD", 50)

	kill := killswitch.New(killswitch.Options{
		Thresholds: killswitch.Thresholds{
			MaxDailyLossPct:      5,
			MaxConsecutiveLosses: 5,
			MaxAPIErrors:         10,
			MaxOrderFailures:     5,
		},
		AdminSecret: "admin",
		Exchange:    venue,
	})
	machine := mode.NewMachine(mode.Options{
		InitialTier:  tier,
		StagingPairs: []string{"XBTUSD", "ETHUSD"},
		Exchange:     venue,
	})
	valid := validator.New(venue, validatorRisk, validatorRisk)

	orch := New(Params{
		Exchange:  venue,
		Kill:      kill,
		Machine:   machine,
		Validator: valid,
		Risk:      orchRisk,
		Limiter:   ratelimit.NewAdaptiveLimiter(ratelimit.TierConservative),
	})
	return &fixture{orch: orch, venue: venue, kill: kill, risk: orchRisk}
}

func marketBuy(pair string, volume float64) types.OrderIntent {
	return types.OrderIntent{Pair: pair, Side: types.SideBuy, Type: types.OrderMarket, Volume: volume}
}

func TestSubmitOrderRejectsWhenHalted(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)
	ctx := context.Background()
	f.kill.Trigger(ctx, "test halt")

	conf, err := f.orch.SubmitOrder(ctx, marketBuy("XBTUSD", 1))
	assert.Nil(t, conf)
	var halt *types.KillSwitchHalt
	assert.ErrorAs(t, err, &halt)
	assert.True(t, types.IsHalted(err))
}

func TestSubmitOrderEnforcesTierCeiling(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	// paper 档位单笔上限 $10000
	f := newFixture(mode.TierPaper, pol, pol)

	conf, err := f.orch.SubmitOrder(context.Background(), marketBuy("XBTUSD", 200)) // $20000
	assert.Nil(t, conf)
	var restr *types.ModeRestriction
	assert.ErrorAs(t, err, &restr)
	assert.Equal(t, "paper", restr.Tier)
}

func TestSubmitOrderValidationFailure(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)

	conf, err := f.orch.SubmitOrder(context.Background(), marketBuy("XBTUSD", 0.05)) // $5 名义价值
	assert.Nil(t, conf)
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, verr.Outcome.Valid)
}

func TestSubmitOrderRiskRecheck(t *testing.T) {
	// 校验器放行、编排器复核拒绝：模拟校验与执行之间的状态变化
	permissive := risk.NewPolicy(10, 50, 50)
	strict := risk.NewPolicy(1, 50, 50)
	strict.AddPosition("ETHUSD", 100, types.SideBuy)
	f := newFixture(mode.TierDryRun, permissive, strict)

	conf, err := f.orch.SubmitOrder(context.Background(), marketBuy("XBTUSD", 1))
	assert.Nil(t, conf)
	var rej *types.RiskRejection
	assert.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "max open positions")
}

func TestSubmitOrderPaperFillUpdatesRisk(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)
	ctx := context.Background()

	conf, err := f.orch.SubmitOrder(ctx, marketBuy("XBTUSD", 1))
	assert.NoError(t, err)
	if assert.NotNil(t, conf) {
		assert.True(t, conf.Simulated)
		assert.NotEmpty(t, conf.OrderID)
	}
	assert.InDelta(t, 100.0, f.risk.PositionNotional("XBTUSD"), 1e-9)

	// 真实交易所不应看到任何订单
	positions, err := f.venue.GetOpenPositions(ctx)
	assert.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSubmitOrderSellReducesExposure(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)
	ctx := context.Background()

	_, err := f.orch.SubmitOrder(ctx, marketBuy("XBTUSD", 2)) // $200 敞口
	assert.NoError(t, err)

	sell := marketBuy("XBTUSD", 1)
	sell.Side = types.SideSell
	_, err = f.orch.SubmitOrder(ctx, sell)
	assert.NoError(t, err)
	assert.InDelta(t, 100.0, f.risk.PositionNotional("XBTUSD"), 1e-9)

	// 剩余部分全部卖出后敞口清零
	sell.Volume = 1
	_, err = f.orch.SubmitOrder(ctx, sell)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, f.risk.PositionNotional("XBTUSD"))
}

func TestSubmitOrderUnknownPair(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)

	_, err := f.orch.SubmitOrder(context.Background(), marketBuy("DOGEUSD", 1))
	assert.Error(t, err)
	// 取不到参考价计入 API 错误
	assert.Equal(t, 1, f.kill.CurrentSnapshot().APIErrorCount)
}

func TestRecordClosedTradeFeedsKillSwitch(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.orch.RecordClosedTrade(ctx, -10)
	}
	assert.True(t, f.kill.CheckConditions(ctx))
	assert.False(t, f.kill.CanTrade())
}

func TestShutdownSkipsLiquidationInPaperTiers(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)
	ctx := context.Background()

	f.orch.Shutdown(ctx)
	assert.False(t, f.kill.CanTrade())
}

// 决策前累计的错误计数必须在策略循环内触发熔断，而不是等监控周期。
func TestStrategyLoopTripsKillSwitchBeforeDeciding(t *testing.T) {
	pol := risk.NewPolicy(10, 50, 50)
	f := newFixture(mode.TierDryRun, pol, pol)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		f.kill.RecordAPIError(ctx)
	}
	assert.True(t, f.kill.CanTrade()) // 记账本身不触发

	strat := &countingStrategy{}
	err := f.orch.RunStrategyLoop(ctx, strat)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, killswitch.StateEmergencyStop, f.kill.CurrentSnapshot().State)
	assert.Zero(t, strat.calls)
}

type countingStrategy struct {
	calls int
}

func (s *countingStrategy) Name() string { return "counting" }

func (s *countingStrategy) DecideOnce(ctx context.Context) (*types.OrderIntent, error) {
	s.calls++
	return nil, nil
}
