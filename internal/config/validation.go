package config

import "fmt"

func validate(c *Config) error {
	switch c.Trading.InitialTier {
	case "dry-run", "paper", "staging", "production":
	default:
		return fmt.Errorf("config: unknown trading.initial_tier=%q", c.Trading.InitialTier)
	}
	switch c.Exchange.Backend {
	case "binance", "paper":
	default:
		return fmt.Errorf("config: unknown exchange.backend=%q", c.Exchange.Backend)
	}
	if c.Exchange.Backend == "binance" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("config: exchange.backend=binance requires api_key and api_secret")
	}
	switch c.RateLimit.InitialTier {
	case "conservative", "normal", "aggressive":
	default:
		return fmt.Errorf("config: unknown ratelimit.initial_tier=%q", c.RateLimit.InitialTier)
	}
	if c.Kill.MaxDailyLossPct >= 100 {
		return fmt.Errorf("config: killswitch.max_daily_loss_pct must be < 100")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("config: notify.telegram enabled but bot_token/chat_id missing")
	}
	return nil
}
