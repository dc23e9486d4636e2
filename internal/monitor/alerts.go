package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bastion/internal/logger"
	"bastion/internal/store"
	"bastion/internal/store/model"
	"bastion/internal/types"

	"github.com/google/uuid"
)

// ActionFunc 是一条可远程触发的操作回调。
type ActionFunc func(ctx context.Context) error

// AlertCenter 维护有界告警历史与操作回调注册表。
// 调用未注册的操作是一次失败的无操作，绝不崩溃。
type AlertCenter struct {
	mu        sync.Mutex
	history   []types.Alert
	limit     int
	callbacks map[string]map[string]ActionFunc // alertID -> actionName -> fn
	st        *store.GormStore
}

func NewAlertCenter(limit int, st *store.GormStore) *AlertCenter {
	if limit <= 0 {
		limit = 500
	}
	return &AlertCenter{
		limit:     limit,
		callbacks: make(map[string]map[string]ActionFunc),
		st:        st,
	}
}

// NewAlert 组装一条带新 ID 的告警。
func NewAlert(level types.AlertLevel, component, message string, metrics map[string]float64, actions []types.AlertAction) types.Alert {
	return types.Alert{
		ID:        uuid.NewString(),
		Level:     level,
		Component: component,
		Message:   message,
		Metrics:   metrics,
		Timestamp: time.Now(),
		Actions:   actions,
	}
}

// Append 追加进历史（超限裁剪最老的）并尽力落盘。
func (c *AlertCenter) Append(ctx context.Context, alert types.Alert) {
	c.mu.Lock()
	c.history = append(c.history, alert)
	if len(c.history) > c.limit {
		drop := c.history[0]
		c.history = c.history[1:]
		delete(c.callbacks, drop.ID)
	}
	c.mu.Unlock()

	if c.st == nil {
		return
	}
	metricsJSON, _ := json.Marshal(alert.Metrics)
	actionsJSON, _ := json.Marshal(alert.Actions)
	rec := model.AlertModel{
		ID:        alert.ID,
		Level:     string(alert.Level),
		Component: alert.Component,
		Message:   alert.Message,
		Metrics:   metricsJSON,
		Actions:   actionsJSON,
		CreatedAt: alert.Timestamp,
	}
	if err := c.st.AppendAlert(ctx, rec, c.limit); err != nil {
		logger.Warnf("alert persistence failed: %v", err)
	}
}

// Recent 按时间倒序返回最近 limit 条。
func (c *AlertCenter) Recent(limit int) []types.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]types.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.history[i])
	}
	return out
}

// Resolve 标记告警已处理并注销其回调。
func (c *AlertCenter) Resolve(ctx context.Context, alertID string) bool {
	c.mu.Lock()
	found := false
	for i := range c.history {
		if c.history[i].ID == alertID {
			c.history[i].Resolved = true
			found = true
			break
		}
	}
	delete(c.callbacks, alertID)
	c.mu.Unlock()

	if found && c.st != nil {
		if err := c.st.MarkAlertResolved(ctx, alertID); err != nil {
			logger.Warnf("marking alert %s resolved failed: %v", alertID, err)
		}
	}
	return found
}

// RegisterActionCallback 以 (alertID, actionName) 为键注册回调。
func (c *AlertCenter) RegisterActionCallback(alertID, actionName string, fn ActionFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.callbacks[alertID]
	if !ok {
		m = make(map[string]ActionFunc)
		c.callbacks[alertID] = m
	}
	m[actionName] = fn
}

// InvokeAction 触发一条已注册的操作；未注册时返回错误而非崩溃。
func (c *AlertCenter) InvokeAction(ctx context.Context, alertID, actionName string) error {
	c.mu.Lock()
	var fn ActionFunc
	if m, ok := c.callbacks[alertID]; ok {
		fn = m[actionName]
	}
	c.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("no action %q registered for alert %s", actionName, alertID)
	}
	logger.Infof("invoking remote action %s on alert %s", actionName, alertID)
	return fn(ctx)
}
