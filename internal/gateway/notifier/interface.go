package notifier

import (
	"context"

	"bastion/internal/types"
)

// Notifier 接收核心产生的告警并负责送达。channels 为空表示默认通道集；
// critical 级别由调用方传入全部已配置通道。
// 接口刻意保持最小，让组件无需依赖具体实现（如 Telegram）。
type Notifier interface {
	Name() string

	SendAlert(ctx context.Context, alert types.Alert, channels []string) error
}
