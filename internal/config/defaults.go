package config

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8720"
	}
	if c.Exchange.Backend == "" {
		c.Exchange.Backend = "paper"
	}
	if c.Trading.InitialTier == "" {
		c.Trading.InitialTier = "dry-run"
	}
	if len(c.Trading.StagingPairs) == 0 {
		c.Trading.StagingPairs = []string{"XBTUSD", "ETHUSD"}
	}
	if c.Risk.MaxOpenPositions <= 0 {
		c.Risk.MaxOpenPositions = 5
	}
	if c.Risk.MaxDrawdownPct <= 0 {
		c.Risk.MaxDrawdownPct = 15
	}
	if c.Risk.DailyLossLimitPct <= 0 {
		c.Risk.DailyLossLimitPct = 5
	}
	if c.Kill.MaxDailyLossPct <= 0 {
		c.Kill.MaxDailyLossPct = 5
	}
	if c.Kill.MaxConsecutiveLosses <= 0 {
		c.Kill.MaxConsecutiveLosses = 5
	}
	if c.Kill.MaxAPIErrors <= 0 {
		c.Kill.MaxAPIErrors = 10
	}
	if c.Kill.MaxOrderFailures <= 0 {
		c.Kill.MaxOrderFailures = 5
	}
	if c.RateLimit.InitialTier == "" {
		c.RateLimit.InitialTier = "conservative"
	}
	if c.Monitor.ControlIntervalSeconds <= 0 {
		c.Monitor.ControlIntervalSeconds = 5
	}
	if c.Monitor.HealthIntervalSeconds <= 0 {
		c.Monitor.HealthIntervalSeconds = 60
	}
	if c.Monitor.MetricsIntervalSeconds <= 0 {
		c.Monitor.MetricsIntervalSeconds = 300
	}
	if c.Monitor.AlertHistoryLimit <= 0 {
		c.Monitor.AlertHistoryLimit = 500
	}
	if c.Monitor.BalanceFloorUSD <= 0 {
		c.Monitor.BalanceFloorUSD = 100
	}
	env := &c.Monitor.Envelope
	if env.MaxDrawdownPct <= 0 {
		env.MaxDrawdownPct = 15
	}
	if env.MaxLosingStreak <= 0 {
		env.MaxLosingStreak = 8
	}
	if env.MaxDailyLossPct <= 0 {
		env.MaxDailyLossPct = 5
	}
	if env.MinWinRatePct <= 0 {
		env.MinWinRatePct = 30
	}
	if env.AnomalyZScore <= 0 {
		env.AnomalyZScore = 2
	}
	if env.AnomalyLookbacks <= 0 {
		env.AnomalyLookbacks = 20
	}
	if c.Store.Path == "" {
		if c.Trading.StatePath != "" {
			c.Store.Path = c.Trading.StatePath
		} else {
			c.Store.Path = "data/bastion.db"
		}
	}
}
