package validator

import (
	"context"
	"sync"
	"time"

	"bastion/internal/gateway/exchange"
)

// priceCache 缓存参考价，TTL 之内不重复访问交易所。
// 缓存仅作校验参考，动用资金的决策始终以交易所实时数据为准。
type priceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]priceEntry
	nowFn   func() time.Time
}

type priceEntry struct {
	price float64
	at    time.Time
}

func newPriceCache(ttl time.Duration) *priceCache {
	return &priceCache{
		ttl:     ttl,
		entries: make(map[string]priceEntry),
		nowFn:   time.Now,
	}
}

func (c *priceCache) get(ctx context.Context, exch exchange.Exchange, pair string) (float64, error) {
	c.mu.Lock()
	if e, ok := c.entries[pair]; ok && c.nowFn().Sub(e.at) <= c.ttl {
		c.mu.Unlock()
		return e.price, nil
	}
	c.mu.Unlock()

	ticker, err := exch.GetTicker(ctx, pair)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.entries[pair] = priceEntry{price: ticker.Last, at: c.nowFn()}
	c.mu.Unlock()
	return ticker.Last, nil
}
