package ratelimit

import (
	"context"
	"strings"
	"time"

	"bastion/internal/logger"
	"bastion/internal/pkg/circuit"
	"bastion/internal/scheduler"
	"bastion/internal/types"
)

const (
	defaultMaxAttempts = 3
	retryBaseDelay     = time.Second
)

// Classifier 判断交易所错误是否为限流错误。不同后端的错误形态不同，
// 由各 gateway 注入自己的识别逻辑。
type Classifier func(err error) bool

// DefaultClassifier 以字符串特征识别限流错误，作为兜底。
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "-1003")
}

// Caller 是所有交易所调用必须通过的显式中间件：
// 熔断检查 → 限流获取 → 执行 → 记录延迟与结果 → 瞬时错误有限次指数退避重试。
// 没有任何调用绕过它，包括余额、持仓等控制面查询。
type Caller struct {
	limiter     *AdaptiveLimiter
	breaker     *circuit.CircuitBreaker
	classify    Classifier
	maxAttempts int
}

func NewCaller(limiter *AdaptiveLimiter, breaker *circuit.CircuitBreaker, classify Classifier) *Caller {
	if classify == nil {
		classify = DefaultClassifier
	}
	return &Caller{
		limiter:     limiter,
		breaker:     breaker,
		classify:    classify,
		maxAttempts: defaultMaxAttempts,
	}
}

// Limiter 暴露底层限流器（RecommendedDelay / Snapshot 用）。
func (c *Caller) Limiter() *AdaptiveLimiter { return c.limiter }

// Do 执行一次受保护的交易所调用。
// 限流退避中的拒绝原样上抛（RateLimitExceeded，不在内部重试）；
// 瞬时失败重试有限次后包装为 ExchangeError 上抛。
func (c *Caller) Do(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if c.breaker != nil && !c.breaker.Allow() {
			return &types.ExchangeError{Endpoint: endpoint, Err: errCircuitOpen}
		}

		if err := c.limiter.Acquire(ctx, endpoint); err != nil {
			// 退避期的拒绝与 ctx 取消都不在此处重试
			return err
		}

		start := time.Now()
		err := fn(ctx)
		latency := time.Since(start)

		if err == nil {
			c.limiter.RecordSuccess(latency)
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			return nil
		}

		if c.classify(err) {
			c.limiter.RecordRateLimitError()
			if c.breaker != nil {
				c.breaker.RecordFailure()
			}
			if in, retry := c.limiter.InBackoff(); in {
				return &types.RateLimitExceeded{RetryAfter: retry}
			}
			lastErr = err
		} else {
			c.limiter.RecordFailure()
			if c.breaker != nil {
				c.breaker.RecordFailure()
			}
			lastErr = err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == c.maxAttempts-1 {
			break
		}
		wait := retryBaseDelay * time.Duration(1<<uint(attempt))
		logger.Warnf("exchange call %s failed (attempt %d/%d): %v, retrying in %s",
			endpoint, attempt+1, c.maxAttempts, lastErr, wait)
		if !scheduler.SleepCtx(ctx, wait) {
			return ctx.Err()
		}
	}
	return &types.ExchangeError{Endpoint: endpoint, Err: lastErr}
}

var errCircuitOpen = circuitOpenError{}

type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "circuit breaker open" }
