package binance

import "strings"

// Pair 规范形式为 BASEQUOTE（如 XBTUSD）。Binance 合约市场使用
// BTCUSDT 这种写法，这里做双向换算，调用方永远只见规范形式。
var baseAliases = map[string]string{
	"XBT": "BTC",
}

var baseAliasesReverse = map[string]string{
	"BTC": "XBT",
}

func toVenueSymbol(pair string) string {
	p := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "/", ""))
	for canonical, venue := range baseAliases {
		if strings.HasPrefix(p, canonical) {
			p = venue + strings.TrimPrefix(p, canonical)
			break
		}
	}
	if strings.HasSuffix(p, "USD") && !strings.HasSuffix(p, "USDT") {
		p += "T"
	}
	return p
}

func fromVenueSymbol(symbol string) string {
	p := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(p, "USDT") {
		p = strings.TrimSuffix(p, "USDT") + "USD"
	}
	for venue, canonical := range baseAliasesReverse {
		if strings.HasPrefix(p, venue) {
			p = canonical + strings.TrimPrefix(p, venue)
			break
		}
	}
	return p
}
