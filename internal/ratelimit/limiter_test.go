package ratelimit

import (
	"context"
	"testing"
	"time"

	"bastion/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierNormal, ParseTier("normal"))
	assert.Equal(t, TierAggressive, ParseTier("aggressive"))
	assert.Equal(t, TierConservative, ParseTier("conservative"))
	assert.Equal(t, TierConservative, ParseTier("whatever"))
}

func TestBackoffAfterThreeRateLimitErrors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewAdaptiveLimiter(TierNormal)
	l.nowFn = func() time.Time { return now }

	l.RecordRateLimitError()
	l.RecordRateLimitError()
	in, _ := l.InBackoff()
	assert.False(t, in, "two errors must not enter backoff")

	l.RecordRateLimitError()
	in, retry := l.InBackoff()
	assert.True(t, in)
	// 第三次错误：10 * 2^3 = 80s
	assert.Equal(t, 80*time.Second, retry)

	err := l.Acquire(context.Background(), "GetTicker")
	var rl *types.RateLimitExceeded
	assert.ErrorAs(t, err, &rl)
	assert.Equal(t, 80*time.Second, rl.RetryAfter)
}

func TestBackoffIsCappedAtFiveMinutes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewAdaptiveLimiter(TierNormal)
	l.nowFn = func() time.Time { return now }

	for i := 0; i < 8; i++ {
		l.RecordRateLimitError()
	}
	_, retry := l.InBackoff()
	assert.Equal(t, 300*time.Second, retry)
}

func TestSuccessClearsErrorCount(t *testing.T) {
	l := NewAdaptiveLimiter(TierNormal)
	l.RecordRateLimitError()
	l.RecordRateLimitError()
	l.RecordSuccess(10 * time.Millisecond)

	// 错误计数清零后需要再攒满 3 次才进入退避
	l.RecordRateLimitError()
	in, _ := l.InBackoff()
	assert.False(t, in)
}

func TestDowngradeOnRepeatedErrors(t *testing.T) {
	l := NewAdaptiveLimiter(TierAggressive)
	l.RecordRateLimitError()
	assert.Equal(t, "aggressive", l.Snapshot().Tier)
	l.RecordRateLimitError()
	assert.Equal(t, "normal", l.Snapshot().Tier)
}

func TestUpgradeNeedsStreakAndHeadroom(t *testing.T) {
	l := NewAdaptiveLimiter(TierConservative)
	for i := 0; i < upgradeStreak; i++ {
		l.RecordSuccess(5 * time.Millisecond)
	}
	assert.Equal(t, "normal", l.Snapshot().Tier)

	// 利用率打满时不升档
	l2 := NewAdaptiveLimiter(TierConservative)
	l2.callCounter = tierTable[TierConservative].maxCalls
	for i := 0; i < upgradeStreak; i++ {
		l2.RecordSuccess(5 * time.Millisecond)
	}
	assert.Equal(t, "conservative", l2.Snapshot().Tier)
}

func TestAcquireCountsCalls(t *testing.T) {
	l := NewAdaptiveLimiter(TierNormal)
	base := time.Unix(1_700_000_000, 0)
	step := 0
	// 每次取当前时间都前进 1 秒，避开突发保护
	l.nowFn = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for i := 0; i < 4; i++ {
		assert.NoError(t, l.Acquire(context.Background(), "GetTicker"))
	}
	snap := l.Snapshot()
	assert.Equal(t, 4, snap.CallCounter)
	assert.Equal(t, 18, snap.MaxCalls)
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	l := NewAdaptiveLimiter(TierConservative)
	l.callCounter = tierTable[TierConservative].maxCalls

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "GetTicker")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecommendedDelayBands(t *testing.T) {
	l := NewAdaptiveLimiter(TierNormal)

	l.callCounter = 0
	assert.Equal(t, 100*time.Millisecond, l.RecommendedDelay())

	l.callCounter = 8 // 8/18 ≈ 0.44
	assert.Equal(t, 250*time.Millisecond, l.RecommendedDelay())

	l.callCounter = 13 // ≈ 0.72
	assert.Equal(t, 500*time.Millisecond, l.RecommendedDelay())

	l.callCounter = 17 // ≈ 0.94
	l.pushLatency(800 * time.Millisecond)
	assert.Equal(t, 1600*time.Millisecond, l.RecommendedDelay())
}
