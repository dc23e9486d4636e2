// Package ratelimit 实现针对交易所出站调用的自适应限流：
// 带衰减的调用计数、突发保护、限流错误退避窗口以及档位自适应升降。
// 所有交易所调用（包括余额 / 持仓等控制面查询）必须经过本包的中间件。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"bastion/internal/logger"
	"bastion/internal/scheduler"
	"bastion/internal/types"
)

// Tier 是限流档位，决定 (调用上限, 衰减间隔)。
type Tier int

const (
	TierConservative Tier = iota
	TierNormal
	TierAggressive
)

func (t Tier) String() string {
	switch t {
	case TierConservative:
		return "conservative"
	case TierNormal:
		return "normal"
	case TierAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// ParseTier 解析配置档位名；未知值回落到 conservative。
func ParseTier(s string) Tier {
	switch s {
	case "normal":
		return TierNormal
	case "aggressive":
		return TierAggressive
	default:
		return TierConservative
	}
}

type tierLimits struct {
	maxCalls      int
	decayInterval time.Duration
}

var tierTable = map[Tier]tierLimits{
	TierConservative: {maxCalls: 15, decayInterval: 3 * time.Second},
	TierNormal:       {maxCalls: 18, decayInterval: 2 * time.Second},
	TierAggressive:   {maxCalls: 20, decayInterval: time.Second},
}

const (
	burstWindow    = time.Second
	burstMaxCalls  = 5
	backoffTrigger = 3   // 连续限流错误达到该值进入退避窗口
	backoffCapSecs = 300 // 退避上限
	upgradeStreak  = 10  // 升档所需连续成功数
	upgradeMaxUtil = 0.7
	downgradeErrs  = 2 // 近期限流错误达到该值降档
	recentErrSpan  = time.Minute
	latencyWindow  = 32
)

// Snapshot 是限流器的只读状态，监控与 HTTP 状态接口使用。
type Snapshot struct {
	Tier           string        `json:"tier"`
	CallCounter    int           `json:"call_counter"`
	MaxCalls       int           `json:"max_calls"`
	DecayInterval  time.Duration `json:"decay_interval"`
	ErrorCount     int           `json:"rate_limit_error_count"`
	BackoffUntil   time.Time     `json:"backoff_until,omitempty"`
	Utilization    float64       `json:"utilization"`
	AverageLatency time.Duration `json:"average_latency"`
}

// AdaptiveLimiter 的计数器为纯内存状态，重启后重建。
type AdaptiveLimiter struct {
	mu sync.Mutex

	tier         Tier
	callCounter  int
	errorCount   int
	backoffUntil time.Time

	recentCalls  []time.Time // 突发保护的尾随 1 秒窗口
	recentErrors []time.Time // 降档判断的近期限流错误

	latencies  []time.Duration // 环形延迟窗口
	latencyIdx int
	latencyN   int

	successStreak int

	nowFn func() time.Time
}

func NewAdaptiveLimiter(initial Tier) *AdaptiveLimiter {
	return &AdaptiveLimiter{tier: initial, nowFn: time.Now}
}

// RunDecay 周期性地将调用计数减一，直到 ctx 取消。档位变化时按新间隔继续。
func (l *AdaptiveLimiter) RunDecay(ctx context.Context) {
	for {
		l.mu.Lock()
		interval := tierTable[l.tier].decayInterval
		l.mu.Unlock()
		if !scheduler.SleepCtx(ctx, interval) {
			return
		}
		l.mu.Lock()
		if l.callCounter > 0 {
			l.callCounter--
		}
		l.mu.Unlock()
	}
}

// Acquire 阻塞直到调用计数降到上限之下，随后记账并返回。
// 处于退避窗口时立即拒绝（RateLimitExceeded），调用方自行决定何时重试。
func (l *AdaptiveLimiter) Acquire(ctx context.Context, endpoint string) error {
	for {
		l.mu.Lock()
		now := l.nowFn()

		if now.Before(l.backoffUntil) {
			retry := l.backoffUntil.Sub(now)
			l.mu.Unlock()
			return &types.RateLimitExceeded{RetryAfter: retry}
		}

		// 突发保护：尾随 1 秒内已记录 5 次调用则等待 1 秒
		l.pruneRecentCalls(now)
		if len(l.recentCalls) >= burstMaxCalls {
			l.mu.Unlock()
			logger.Debugf("ratelimit: burst guard hit on %s, sleeping %s", endpoint, burstWindow)
			if !scheduler.SleepCtx(ctx, burstWindow) {
				return ctx.Err()
			}
			continue
		}

		limits := tierTable[l.tier]
		if l.callCounter < limits.maxCalls {
			l.callCounter++
			l.recentCalls = append(l.recentCalls, now)
			l.mu.Unlock()
			return nil
		}

		wait := limits.decayInterval
		l.mu.Unlock()
		logger.Debugf("ratelimit: counter full for %s, waiting %s", endpoint, wait)
		if !scheduler.SleepCtx(ctx, wait) {
			return ctx.Err()
		}
	}
}

// RecordSuccess 在一次交易所调用成功后记录延迟并清零错误计数。
// 连续成功且利用率低于 70% 时升档。
func (l *AdaptiveLimiter) RecordSuccess(latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errorCount = 0
	l.successStreak++
	l.pushLatency(latency)

	if l.successStreak >= upgradeStreak && l.utilizationLocked() < upgradeMaxUtil {
		l.upgradeLocked()
		l.successStreak = 0
	}
}

// RecordFailure 记录一次非限流失败，打断成功连击。
func (l *AdaptiveLimiter) RecordFailure() {
	l.mu.Lock()
	l.successStreak = 0
	l.mu.Unlock()
}

// RecordRateLimitError 记录一次交易所限流错误。达到 3 次进入退避窗口
// min(300, 10·2^n) 秒；近期 2 次以上降档。
func (l *AdaptiveLimiter) RecordRateLimitError() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	l.errorCount++
	l.successStreak = 0
	l.recentErrors = append(l.recentErrors, now)
	l.pruneRecentErrors(now)

	if len(l.recentErrors) >= downgradeErrs {
		l.downgradeLocked()
	}

	if l.errorCount >= backoffTrigger {
		secs := 10 * (1 << uint(l.errorCount))
		if secs > backoffCapSecs {
			secs = backoffCapSecs
		}
		l.backoffUntil = now.Add(time.Duration(secs) * time.Second)
		logger.Warnf("ratelimit: %d consecutive rate-limit errors, backing off %ds (until %s)",
			l.errorCount, secs, l.backoffUntil.Format(time.RFC3339))
	}
}

// RecommendedDelay 依据近期延迟与当前利用率为顺序调用方推荐休眠时长。
func (l *AdaptiveLimiter) RecommendedDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	avg := l.averageLatencyLocked()
	util := l.utilizationLocked()
	switch {
	case util >= 0.9:
		d := 2 * avg
		if d < time.Second {
			d = time.Second
		}
		return d
	case util >= 0.7:
		if avg < 500*time.Millisecond {
			return 500 * time.Millisecond
		}
		return avg
	case util >= 0.4:
		return 250 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// InBackoff 返回是否处于退避窗口以及剩余时长。
func (l *AdaptiveLimiter) InBackoff() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if now.Before(l.backoffUntil) {
		return true, l.backoffUntil.Sub(now)
	}
	return false, 0
}

func (l *AdaptiveLimiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	limits := tierTable[l.tier]
	return Snapshot{
		Tier:           l.tier.String(),
		CallCounter:    l.callCounter,
		MaxCalls:       limits.maxCalls,
		DecayInterval:  limits.decayInterval,
		ErrorCount:     l.errorCount,
		BackoffUntil:   l.backoffUntil,
		Utilization:    l.utilizationLocked(),
		AverageLatency: l.averageLatencyLocked(),
	}
}

func (l *AdaptiveLimiter) pruneRecentCalls(now time.Time) {
	cutoff := now.Add(-burstWindow)
	kept := l.recentCalls[:0]
	for _, t := range l.recentCalls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.recentCalls = kept
}

func (l *AdaptiveLimiter) pruneRecentErrors(now time.Time) {
	cutoff := now.Add(-recentErrSpan)
	kept := l.recentErrors[:0]
	for _, t := range l.recentErrors {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.recentErrors = kept
}

func (l *AdaptiveLimiter) pushLatency(d time.Duration) {
	if len(l.latencies) < latencyWindow {
		l.latencies = append(l.latencies, d)
		l.latencyN = len(l.latencies)
		return
	}
	l.latencies[l.latencyIdx] = d
	l.latencyIdx = (l.latencyIdx + 1) % latencyWindow
}

func (l *AdaptiveLimiter) averageLatencyLocked() time.Duration {
	if l.latencyN == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < l.latencyN; i++ {
		sum += l.latencies[i]
	}
	return sum / time.Duration(l.latencyN)
}

func (l *AdaptiveLimiter) utilizationLocked() float64 {
	limits := tierTable[l.tier]
	if limits.maxCalls == 0 {
		return 0
	}
	return float64(l.callCounter) / float64(limits.maxCalls)
}

func (l *AdaptiveLimiter) upgradeLocked() {
	if l.tier >= TierAggressive {
		return
	}
	from := l.tier
	l.tier++
	logger.Infof("ratelimit: tier upgrade %s -> %s", from, l.tier)
}

func (l *AdaptiveLimiter) downgradeLocked() {
	if l.tier <= TierConservative {
		return
	}
	from := l.tier
	l.tier--
	logger.Warnf("ratelimit: tier downgrade %s -> %s", from, l.tier)
}
