package types

import "time"

// AlertLevel 告警严重级别。
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// AlertAction 是告警附带的可远程触发操作。
type AlertAction struct {
	ActionID string `json:"action_id"`
	Label    string `json:"label"`
}

// Alert 由任何检测到异常的组件创建，追加进有界历史并派发给通知方。
type Alert struct {
	ID        string             `json:"id"`
	Level     AlertLevel         `json:"level"`
	Component string             `json:"component"`
	Message   string             `json:"message"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Actions   []AlertAction      `json:"actions,omitempty"`
	Resolved  bool               `json:"resolved"`
}

// HealthStatus 组件健康状态。
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck 每个监督周期产出一次，覆盖上一份快照。
type HealthCheck struct {
	Component string             `json:"component"`
	Status    HealthStatus       `json:"status"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Details   map[string]float64 `json:"details,omitempty"`
}
