package monitor

import (
	"context"
	"runtime"
	"time"

	"bastion/internal/types"
)

const (
	goroutineMax = 5000
	heapMaxBytes = 1 << 30 // 1 GiB
)

// runHealthCycle 长周期健康探测：交易所连通性、流式连接、持久层、宿主资源。
func (m *Monitor) runHealthCycle(ctx context.Context) {
	m.probeExchange(ctx)
	m.probeStream(ctx)
	m.probeStore(ctx)
	m.probeHost(ctx)
}

func (m *Monitor) probeExchange(ctx context.Context) {
	if m.exch == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := m.nowFn()
	_, err := m.exch.GetServerTime(probeCtx)
	latency := time.Since(start)

	check := types.HealthCheck{
		Component: "exchange",
		Status:    types.HealthHealthy,
		Timestamp: m.nowFn(),
		Details:   map[string]float64{"latency_ms": float64(latency.Milliseconds())},
	}
	switch {
	case err != nil:
		check.Status = types.HealthUnhealthy
		check.Message = "server time probe failed: " + err.Error()
	case latency > exchangeLatencyMax:
		check.Status = types.HealthDegraded
		check.Message = "high exchange latency"
	}
	m.setHealth(ctx, check)
}

func (m *Monitor) probeStream(ctx context.Context) {
	if m.streamAlive == nil {
		return
	}
	check := types.HealthCheck{
		Component: "stream",
		Status:    types.HealthHealthy,
		Timestamp: m.nowFn(),
	}
	if !m.streamAlive() {
		check.Status = types.HealthUnhealthy
		check.Message = "streaming connection not alive"
	}
	m.setHealth(ctx, check)
}

func (m *Monitor) probeStore(ctx context.Context) {
	if m.st == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	check := types.HealthCheck{
		Component: "store",
		Status:    types.HealthHealthy,
		Timestamp: m.nowFn(),
	}
	if err := m.st.Ping(probeCtx); err != nil {
		check.Status = types.HealthUnhealthy
		check.Message = "state db unreachable: " + err.Error()
	}
	m.setHealth(ctx, check)
}

func (m *Monitor) probeHost(ctx context.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	check := types.HealthCheck{
		Component: "host",
		Status:    types.HealthHealthy,
		Timestamp: m.nowFn(),
		Details: map[string]float64{
			"goroutines":     float64(goroutines),
			"heap_alloc_mb":  float64(mem.HeapAlloc) / (1 << 20),
			"gc_pause_total": float64(mem.PauseTotalNs) / 1e6,
		},
	}
	if goroutines > goroutineMax || mem.HeapAlloc > heapMaxBytes {
		check.Status = types.HealthDegraded
		check.Message = "host resource pressure"
	}
	m.setHealth(ctx, check)
}

// setHealth 覆盖该组件上一份快照；非健康状态产出告警。
func (m *Monitor) setHealth(ctx context.Context, check types.HealthCheck) {
	m.healthMu.Lock()
	m.health[check.Component] = check
	m.healthMu.Unlock()

	switch check.Status {
	case types.HealthUnhealthy:
		m.raise(ctx, types.AlertError, check.Component, "health check failed: "+check.Message, check.Details)
	case types.HealthDegraded:
		m.raise(ctx, types.AlertWarning, check.Component, "health degraded: "+check.Message, check.Details)
	}
}
