package config

import (
	"sync"

	"bastion/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvelopeWatcher 热加载监控绩效包络：配置文件变化时只重读 monitor.envelope
// 段，其余配置保持进程启动时的值（改动它们需要重启）。
type EnvelopeWatcher struct {
	mu       sync.RWMutex
	v        *viper.Viper
	envelope PerformanceBound
	onChange func(PerformanceBound)
}

// WatchEnvelope 启动 fsnotify 监听。onChange 在每次成功重载后被调用。
func WatchEnvelope(path string, initial PerformanceBound, onChange func(PerformanceBound)) (*EnvelopeWatcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	w := &EnvelopeWatcher{v: v, envelope: initial, onChange: onChange}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("envelope reload failed (%s): %v", evt.Name, err)
			return
		}
		w.notify()
	})
	v.WatchConfig()
	return w, nil
}

func (w *EnvelopeWatcher) reload() error {
	if err := w.v.ReadInConfig(); err != nil {
		return err
	}
	var env PerformanceBound
	if err := w.v.UnmarshalKey("monitor.envelope", &env, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return err
	}
	if env.AnomalyZScore <= 0 {
		env.AnomalyZScore = 2
	}
	if env.AnomalyLookbacks <= 0 {
		env.AnomalyLookbacks = 20
	}
	w.mu.Lock()
	w.envelope = env
	w.mu.Unlock()
	logger.Infof("envelope reloaded: max_dd=%.1f%% min_sharpe=%.2f max_losing_streak=%d",
		env.MaxDrawdownPct, env.MinSharpe, env.MaxLosingStreak)
	return nil
}

func (w *EnvelopeWatcher) notify() {
	w.mu.RLock()
	env := w.envelope
	fn := w.onChange
	w.mu.RUnlock()
	if fn != nil {
		fn(env)
	}
}

// Snapshot 返回当前包络快照。
func (w *EnvelopeWatcher) Snapshot() PerformanceBound {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.envelope
}
