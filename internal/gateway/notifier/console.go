package notifier

import (
	"context"

	"bastion/internal/logger"
	"bastion/internal/types"
)

// Console 把告警写入日志，dry-run / paper 档位的默认通知方。
type Console struct{}

func (Console) Name() string { return "console" }

func (Console) SendAlert(_ context.Context, alert types.Alert, _ []string) error {
	switch alert.Level {
	case types.AlertCritical, types.AlertError:
		logger.Errorf("ALERT [%s/%s] %s", alert.Level, alert.Component, alert.Message)
	case types.AlertWarning:
		logger.Warnf("ALERT [%s/%s] %s", alert.Level, alert.Component, alert.Message)
	default:
		logger.Infof("ALERT [%s/%s] %s", alert.Level, alert.Component, alert.Message)
	}
	return nil
}

// Fanout 将同一告警发往多个通知方；critical 级别由监控器传入全部通道。
type Fanout struct {
	Notifiers []Notifier
}

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) SendAlert(ctx context.Context, alert types.Alert, channels []string) error {
	want := make(map[string]bool, len(channels))
	for _, ch := range channels {
		want[ch] = true
	}
	var lastErr error
	for _, n := range f.Notifiers {
		if len(want) > 0 && !want[n.Name()] {
			continue
		}
		if err := n.SendAlert(ctx, alert, channels); err != nil {
			logger.Warnf("notifier %s failed: %v", n.Name(), err)
			lastErr = err
		}
	}
	return lastErr
}
