// Package scheduler 提供带取消的周期任务调度，监控循环与限流衰减循环共用。
package scheduler

import (
	"context"
	"time"

	"bastion/internal/logger"
)

// IntervalScheduler runs a task every Interval until ctx is cancelled.
// Each run is anchored to the previous wakeup, not to task duration, so a
// slow task does not shift the cadence permanently.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewIntervalScheduler(ctx context.Context, name string, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{
		Name:     name,
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, executing task on the configured cadence. Callers run it in
// its own goroutine (usually under an errgroup).
func (s *IntervalScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("IntervalScheduler[%s]: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn()
	logger.Infof("IntervalScheduler[%s]: started interval=%s run_immediately=%v",
		s.Name, s.Interval, s.RunImmediately)

	if s.RunImmediately {
		task()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("IntervalScheduler[%s]: ctx done, exit (uptime=%s)",
				s.Name, s.nowFn().Sub(startAt).Truncate(time.Second))
			return
		case <-ticker.C:
			task()
		}
	}
}

// SleepCtx 等待 d 或上下文取消，返回是否完整等待。
func SleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
