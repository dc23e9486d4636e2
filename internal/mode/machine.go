package mode

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

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// unlockTTL 解锁凭证有效期：超过 7 天后 staging/production 拒绝执行。
const unlockTTL = 7 * 24 * time.Hour

// ConfirmFunc 在 RequiresConfirmation 档位下执行前被询问；
// 未注入时一律拒绝（fail closed）。
type ConfirmFunc func(intent types.OrderIntent) bool

// ExposureFunc 返回某交易对当前名义敞口，用于仓位上限检查。
type ExposureFunc func(pair string) float64

// Machine 持有当前档位及其额度，是订单能否被尝试的第一道闸门。
// 状态在每次变更时落盘，启动时恢复。
type Machine struct {
	mu sync.RWMutex

	tier            Tier
	changedAt       time.Time
	changedBy       string
	unlockKeyHash   string
	unlockTimestamp time.Time

	quotas map[Tier]Quota

	dailyTrades int
	tradeDay    time.Time // 本地自然日锚点，跨午夜清零

	unlockSecret string
	st           *store.GormStore
	exch         exchange.Exchange
	paper        *PaperLedger
	confirmFn    ConfirmFunc
	exposureFn   ExposureFunc

	nowFn func() time.Time
}

type Options struct {
	InitialTier  Tier
	StagingPairs []string
	UnlockSecret string
	Store        *store.GormStore
	Exchange     exchange.Exchange
	Confirm      ConfirmFunc
	Exposure     ExposureFunc
}

func NewMachine(opts Options) *Machine {
	m := &Machine{
		tier:         opts.InitialTier,
		changedAt:    time.Now(),
		changedBy:    "startup",
		quotas:       defaultQuotas(opts.StagingPairs),
		unlockSecret: opts.UnlockSecret,
		st:           opts.Store,
		exch:         opts.Exchange,
		paper:        NewPaperLedger(),
		confirmFn:    opts.Confirm,
		exposureFn:   opts.Exposure,
		nowFn:        time.Now,
	}
	return m
}

// Restore 从持久层恢复先前档位；没有记录时保持初始档位并落盘一次。
func (m *Machine) Restore(ctx context.Context) error {
	if m.st == nil {
		return nil
	}
	rec, err := m.st.LoadTradingModeState(ctx)
	if err != nil {
		return fmt.Errorf("mode: loading persisted state failed: %w", err)
	}
	if rec == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.persistLocked(ctx)
	}
	tier, ok := ParseTier(rec.Tier)
	if !ok {
		return fmt.Errorf("mode: persisted state has unknown tier %q", rec.Tier)
	}
	m.mu.Lock()
	m.tier = tier
	m.changedAt = rec.ChangedAt
	m.changedBy = rec.ChangedBy
	m.unlockKeyHash = rec.UnlockKeyHash
	if rec.UnlockTimestamp != nil {
		m.unlockTimestamp = *rec.UnlockTimestamp
	}
	m.mu.Unlock()
	logger.Infof("mode: restored tier=%s (changed_by=%s at %s)",
		tier, rec.ChangedBy, rec.ChangedAt.Format(time.RFC3339))
	return nil
}

// Current 返回当前档位。
func (m *Machine) Current() Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tier
}

// CurrentQuota 返回当前档位额度表。
func (m *Machine) CurrentQuota() Quota {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quotas[m.tier]
}

// CanExecute 按固定顺序检查：当日交易数 → 订单价值 → 交易对 → 结果仓位价值。
// 第一个失败的检查立即返回具体原因。
func (m *Machine) CanExecute(pair string, side types.OrderSide, volume, price float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollTradeDayLocked()
	quota := m.quotas[m.tier]

	if m.tier.requiresUnlock() && m.unlockExpiredLocked() {
		return false, "unlock credential expired"
	}
	if m.dailyTrades >= quota.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached (%d/%d)", m.dailyTrades, quota.MaxDailyTrades)
	}
	orderValue := volume * price
	if orderValue > quota.MaxOrderValue {
		return false, fmt.Sprintf("order value %.2f exceeds tier limit %.2f", orderValue, quota.MaxOrderValue)
	}
	if !quota.PairAllowed(pair) {
		return false, "pair not allowed"
	}
	exposure := 0.0
	if m.exposureFn != nil {
		exposure = m.exposureFn(pair)
	}
	resulting := exposure
	if side == types.SideBuy {
		resulting += orderValue
	} else {
		resulting -= orderValue
		if resulting < 0 {
			resulting = -resulting
		}
	}
	if resulting > quota.MaxPositionValue {
		return false, fmt.Sprintf("resulting position value %.2f exceeds tier limit %.2f", resulting, quota.MaxPositionValue)
	}
	return true, ""
}

// SetMode 切换档位。只允许单步升档（禁止 dry-run 直达 production），
// staging/production 需要解锁口令；任何失败都不产生部分状态变更。
func (m *Machine) SetMode(ctx context.Context, newTier Tier, credential, changedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.tier
	if newTier == cur {
		return nil
	}
	if newTier > cur && newTier != cur+1 {
		return &types.ModeRestriction{
			Tier:   cur.String(),
			Reason: fmt.Sprintf("cannot jump from %s to %s, tiers advance one step at a time", cur, newTier),
		}
	}
	var keyHash string
	var unlockAt time.Time
	if newTier.requiresUnlock() {
		if m.unlockSecret == "" {
			return &types.ModeRestriction{Tier: cur.String(), Reason: "no trading unlock secret configured"}
		}
		if credential != m.unlockSecret {
			return &types.ModeRestriction{Tier: cur.String(), Reason: "invalid unlock credential"}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("mode: hashing unlock credential failed: %w", err)
		}
		keyHash = string(hash)
		unlockAt = m.nowFn()
	}

	prevTier, prevHash, prevUnlock, prevAt, prevBy := m.tier, m.unlockKeyHash, m.unlockTimestamp, m.changedAt, m.changedBy
	m.tier = newTier
	m.unlockKeyHash = keyHash
	m.unlockTimestamp = unlockAt
	m.changedAt = m.nowFn()
	m.changedBy = changedBy

	if err := m.persistLocked(ctx); err != nil {
		// 落盘失败则回滚，绝不让内存与磁盘不一致
		m.tier, m.unlockKeyHash, m.unlockTimestamp, m.changedAt, m.changedBy = prevTier, prevHash, prevUnlock, prevAt, prevBy
		return fmt.Errorf("mode: persisting state failed: %w", err)
	}
	logger.Infof("mode: tier changed %s -> %s by %s", prevTier, newTier, changedBy)
	return nil
}

// Execute 执行订单：非执行档位走纸面撮合，执行档位经确认后转发交易所。
// refPrice 用于市价单的纸面成交与价值计算。
func (m *Machine) Execute(ctx context.Context, intent types.OrderIntent, refPrice float64) (*exchange.OrderConfirmation, error) {
	m.mu.RLock()
	quota := m.quotas[m.tier]
	tier := m.tier
	m.mu.RUnlock()

	if !quota.ExecutesOrders {
		conf := m.paper.Fill(intent, refPrice)
		logger.Infof("mode[%s]: paper fill %s %s %.6f @ %.2f", tier, intent.Side, intent.Pair, intent.Volume, conf.FilledPrice)
		return conf, nil
	}

	if quota.RequiresConfirmation {
		if m.confirmFn == nil || !m.confirmFn(intent) {
			return nil, &types.ModeRestriction{Tier: tier.String(), Reason: "interactive confirmation denied"}
		}
	}

	req := exchange.OrderRequest{
		Pair:     intent.Pair,
		Side:     intent.Side,
		Type:     intent.Type,
		Volume:   intent.Volume,
		Price:    intent.Price,
		ClientID: uuid.NewString(),
	}
	conf, err := m.exch.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	return conf, nil
}

// RecordTradeExecuted 在订单成功后累加当日交易计数。
func (m *Machine) RecordTradeExecuted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollTradeDayLocked()
	m.dailyTrades++
}

// DailyTrades 返回当日已执行交易数。
func (m *Machine) DailyTrades() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollTradeDayLocked()
	return m.dailyTrades
}

// Paper 返回纸面账本（状态接口展示用）。
func (m *Machine) Paper() *PaperLedger { return m.paper }

// rollTradeDayLocked 本地日期变化时清零当日计数。
func (m *Machine) rollTradeDayLocked() {
	today := m.nowFn().Local()
	y, mo, d := today.Date()
	anchor := time.Date(y, mo, d, 0, 0, 0, 0, today.Location())
	if !anchor.Equal(m.tradeDay) {
		m.tradeDay = anchor
		m.dailyTrades = 0
	}
}

func (m *Machine) unlockExpiredLocked() bool {
	if m.unlockTimestamp.IsZero() {
		return true
	}
	return m.nowFn().Sub(m.unlockTimestamp) > unlockTTL
}

func (m *Machine) persistLocked(ctx context.Context) error {
	if m.st == nil {
		return nil
	}
	rec := model.TradingModeStateModel{
		Tier:          m.tier.String(),
		ChangedAt:     m.changedAt,
		ChangedBy:     m.changedBy,
		UnlockKeyHash: m.unlockKeyHash,
	}
	if !m.unlockTimestamp.IsZero() {
		ts := m.unlockTimestamp
		rec.UnlockTimestamp = &ts
	}
	return m.st.SaveTradingModeState(ctx, rec)
}
