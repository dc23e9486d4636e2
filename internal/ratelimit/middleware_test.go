package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"bastion/internal/pkg/circuit"
	"bastion/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestCallerRecordsSuccess(t *testing.T) {
	l := NewAdaptiveLimiter(TierNormal)
	c := NewCaller(l, nil, nil)

	calls := 0
	err := c.Do(context.Background(), "GetTicker", func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, l.Snapshot().CallCounter)
}

func TestCallerRetriesTransientThenWraps(t *testing.T) {
	l := NewAdaptiveLimiter(TierAggressive)
	c := NewCaller(l, nil, nil)
	c.maxAttempts = 2

	boom := errors.New("connection reset")
	calls := 0
	err := c.Do(context.Background(), "GetOrderBook", func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, 2, calls)
	var ee *types.ExchangeError
	assert.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, boom)
}

func TestCallerReturnsBackoffRejection(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewAdaptiveLimiter(TierNormal)
	l.nowFn = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		l.RecordRateLimitError()
	}
	c := NewCaller(l, nil, nil)

	err := c.Do(context.Background(), "CreateOrder", func(ctx context.Context) error {
		t.Fatal("must not reach the venue during backoff")
		return nil
	})
	assert.True(t, types.IsRateLimited(err))
}

func TestCallerRespectsOpenBreaker(t *testing.T) {
	l := NewAdaptiveLimiter(TierNormal)
	br := circuit.NewCircuitBreaker("test", 1, time.Minute)
	br.RecordFailure() // threshold 1 → Open
	c := NewCaller(l, br, nil)

	err := c.Do(context.Background(), "GetAccountBalance", func(ctx context.Context) error {
		t.Fatal("must not call through an open breaker")
		return nil
	})
	var ee *types.ExchangeError
	assert.ErrorAs(t, err, &ee)
}

func TestDefaultClassifier(t *testing.T) {
	assert.True(t, DefaultClassifier(errors.New("HTTP 429 Too Many Requests")))
	assert.True(t, DefaultClassifier(errors.New("code=-1003, msg=limits breached")))
	assert.False(t, DefaultClassifier(errors.New("insufficient balance")))
	assert.False(t, DefaultClassifier(nil))
}
