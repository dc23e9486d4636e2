// Package mode 实现能力档位状态机：dry-run → paper → staging → production。
// 档位决定订单额度、交易对范围以及是否真正触达交易所。
package mode

import "strings"

// Tier 是交易能力档位。
type Tier int

const (
	TierDryRun Tier = iota
	TierPaper
	TierStaging
	TierProduction
)

func (t Tier) String() string {
	switch t {
	case TierDryRun:
		return "dry-run"
	case TierPaper:
		return "paper"
	case TierStaging:
		return "staging"
	case TierProduction:
		return "production"
	default:
		return "unknown"
	}
}

// ParseTier 解析档位名，非法输入返回 (TierDryRun, false)。
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dry-run", "dryrun":
		return TierDryRun, true
	case "paper":
		return TierPaper, true
	case "staging":
		return TierStaging, true
	case "production", "prod":
		return TierProduction, true
	}
	return TierDryRun, false
}

// requiresUnlock 表示进入该档位需要解锁口令。
func (t Tier) requiresUnlock() bool {
	return t == TierStaging || t == TierProduction
}

// Quota 是某一档位的静态额度表。AllowedPairs 为 nil 表示不限交易对。
type Quota struct {
	MaxOrderValue        float64
	MaxDailyTrades       int
	MaxPositionValue     float64
	AllowedPairs         map[string]bool
	ExecutesOrders       bool
	RequiresConfirmation bool
}

// PairAllowed 判断交易对是否在档位白名单内。
func (q Quota) PairAllowed(pair string) bool {
	if q.AllowedPairs == nil {
		return true
	}
	return q.AllowedPairs[strings.ToUpper(pair)]
}

// defaultQuotas 返回各档位的默认额度。staging 的交易对白名单来自配置。
func defaultQuotas(stagingPairs []string) map[Tier]Quota {
	staging := make(map[string]bool, len(stagingPairs))
	for _, p := range stagingPairs {
		staging[strings.ToUpper(strings.TrimSpace(p))] = true
	}
	return map[Tier]Quota{
		TierDryRun: {
			MaxOrderValue:    100000,
			MaxDailyTrades:   1000,
			MaxPositionValue: 1000000,
			ExecutesOrders:   false,
		},
		TierPaper: {
			MaxOrderValue:    10000,
			MaxDailyTrades:   200,
			MaxPositionValue: 100000,
			ExecutesOrders:   false,
		},
		TierStaging: {
			MaxOrderValue:        100,
			MaxDailyTrades:       10,
			MaxPositionValue:     500,
			AllowedPairs:         staging,
			ExecutesOrders:       true,
			RequiresConfirmation: true,
		},
		TierProduction: {
			MaxOrderValue:    10000,
			MaxDailyTrades:   100,
			MaxPositionValue: 50000,
			ExecutesOrders:   true,
		},
	}
}
