package config

// Config 是 Bastion 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Kill      KillSwitchConf  `toml:"killswitch"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Notify    NotifyConfig    `toml:"notify"`
	Store     StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type ExchangeConfig struct {
	Backend   string `toml:"backend"` // binance | paper
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
}

// TradingConfig 控制启动档位与每档额度覆盖。
type TradingConfig struct {
	InitialTier  string   `toml:"initial_tier"` // dry-run | paper | staging | production
	StagingPairs []string `toml:"staging_pairs"`
	StatePath    string   `toml:"state_path"` // 兼容旧版，优先使用 store.path
}

type RiskConfig struct {
	MaxOpenPositions  int     `toml:"max_open_positions"`
	MaxDrawdownPct    float64 `toml:"max_drawdown_pct"`
	DailyLossLimitPct float64 `toml:"daily_loss_limit_pct"`
}

type KillSwitchConf struct {
	MaxDailyLossPct      float64 `toml:"max_daily_loss_pct"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	MaxAPIErrors         int     `toml:"max_api_errors"`
	MaxOrderFailures     int     `toml:"max_order_failures"`
}

type RateLimitConfig struct {
	InitialTier string `toml:"initial_tier"` // conservative | normal | aggressive
}

type MonitorConfig struct {
	ControlIntervalSeconds int              `toml:"control_interval_seconds"`
	HealthIntervalSeconds  int              `toml:"health_interval_seconds"`
	MetricsIntervalSeconds int              `toml:"metrics_interval_seconds"`
	AlertHistoryLimit      int              `toml:"alert_history_limit"`
	BalanceFloorUSD        float64          `toml:"balance_floor_usd"`
	Envelope               PerformanceBound `toml:"envelope"`
}

// PerformanceBound 是指标循环对聚合绩效的约束包络。
type PerformanceBound struct {
	MaxDrawdownPct   float64 `toml:"max_drawdown_pct"`
	MinSharpe        float64 `toml:"min_sharpe"`
	MaxLosingStreak  int     `toml:"max_losing_streak"`
	MaxDailyLossPct  float64 `toml:"max_daily_loss_pct"`
	MinWinRatePct    float64 `toml:"min_win_rate_pct"`
	AnomalyZScore    float64 `toml:"anomaly_z_score"`
	AnomalyLookbacks int     `toml:"anomaly_lookbacks"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled      bool   `toml:"enabled"`
	BotToken     string `toml:"bot_token"`
	ChatID       string `toml:"chat_id"`
	PollCommands bool   `toml:"poll_commands"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// Secrets 只从进程环境读取，绝不进入配置文件。
// 两个口令各司其职：解锁口令用于升档，管理口令用于清除急停，不可互换。
type Secrets struct {
	TradingUnlock string // BASTION_TRADING_UNLOCK
	AdminReset    string // BASTION_ADMIN_RESET
}
