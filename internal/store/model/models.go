// Package model 定义持久化用的 Gorm 模型。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// KillSwitchStateModel 每次状态迁移都会整行落盘；id 固定为 1。
type KillSwitchStateModel struct {
	ID                uint      `gorm:"primaryKey"`
	State             string    `gorm:"size:32;not null"`
	TriggeredAt       *time.Time
	TriggerReason     string  `gorm:"size:512"`
	DailyPnL          float64 `gorm:"column:daily_pnl"`
	ConsecutiveLosses int
	APIErrorCount     int `gorm:"column:api_error_count"`
	OrderFailureCount int
	StartOfDayBalance float64
	UpdatedAt         time.Time
}

func (KillSwitchStateModel) TableName() string { return "kill_switch_state" }

// TradingModeStateModel 持久化当前档位；id 固定为 1。
type TradingModeStateModel struct {
	ID              uint   `gorm:"primaryKey"`
	Tier            string `gorm:"size:32;not null"`
	ChangedAt       time.Time
	ChangedBy       string `gorm:"size:128"`
	UnlockKeyHash   string `gorm:"size:128"`
	UnlockTimestamp *time.Time
	UpdatedAt       time.Time
}

func (TradingModeStateModel) TableName() string { return "trading_mode_state" }

// AlertModel 是告警历史的落盘形态；Metrics 以 JSON 存储。
type AlertModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Level     string `gorm:"size:16;index"`
	Component string `gorm:"size:64;index"`
	Message   string `gorm:"size:1024"`
	Metrics   datatypes.JSON
	Actions   datatypes.JSON
	Resolved  bool
	CreatedAt time.Time `gorm:"index"`
}

func (AlertModel) TableName() string { return "alerts" }
