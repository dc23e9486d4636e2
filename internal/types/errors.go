package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// 中文说明：
// 所有硬性拒绝均以结构化错误返回（而非裸布尔），便于上层（CLI / HTTP / 策略循环）
// 按类别做出针对性处理。

// ValidationError 表示校验流水线中一个或多个阶段失败，不可重试。
type ValidationError struct {
	Outcome ValidationOutcome
}

func (e *ValidationError) Error() string {
	return "order validation failed: " + strings.Join(e.Outcome.Errors, "; ")
}

// RiskRejection 表示风险策略否决，不可重试。
type RiskRejection struct {
	Reason string
}

func (e *RiskRejection) Error() string {
	return "risk policy rejected order: " + e.Reason
}

// ModeRestriction 表示当前交易档位的额度 / 交易对 / 确认限制，不可重试。
type ModeRestriction struct {
	Tier   string
	Reason string
}

func (e *ModeRestriction) Error() string {
	return fmt.Sprintf("mode %s restriction: %s", e.Tier, e.Reason)
}

// RateLimitExceeded 表示限流器处于退避窗口，调用方可在 RetryAfter 之后重试。
type RateLimitExceeded struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// KillSwitchHalt 表示系统级停机，对调用循环而言是致命的，直到显式恢复。
type KillSwitchHalt struct {
	State  string
	Reason string
}

func (e *KillSwitchHalt) Error() string {
	if e.Reason == "" {
		return "trading halted by kill switch (state=" + e.State + ")"
	}
	return fmt.Sprintf("trading halted by kill switch (state=%s): %s", e.State, e.Reason)
}

// ExchangeError 表示交易所瞬时失败，限流中间件内部有限次重试后仍失败才会上抛。
type ExchangeError struct {
	Endpoint string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange call %s failed: %v", e.Endpoint, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsRateLimited 判断错误链上是否存在限流退避。
func IsRateLimited(err error) bool {
	var rl *RateLimitExceeded
	return errors.As(err, &rl)
}

// IsHalted 判断错误链上是否存在停机。
func IsHalted(err error) bool {
	var ks *KillSwitchHalt
	return errors.As(err, &ks)
}
