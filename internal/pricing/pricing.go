// Package pricing tracks market price observations for tokens. The actual
// oracle lives outside this process; here we keep a last-known cache and a
// polling monitor that feeds price-only position recomputes.
package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when a source has no price for a token.
var ErrUnavailable = errors.New("price unavailable")

// Quote is one price observation.
type Quote struct {
	Price decimal.Decimal
	AsOf  time.Time
}

// Source fetches the current price for a token.
type Source interface {
	GetPrice(ctx context.Context, tokenAddress string) (Quote, error)
}

// Cache keeps the newest observation per token. Reads are lock-cheap and
// staleness is acceptable: P&L only needs some recent observation.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration
}

// NewCache creates a price cache. Observations older than maxAge are
// reported as stale; maxAge <= 0 disables the staleness check.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		quotes: make(map[string]Quote),
		maxAge: maxAge,
	}
}

// Observe records a price observation, keeping the newest per token.
// Trade events count as observations too: the fill price is a market print.
func (c *Cache) Observe(tokenAddress string, price decimal.Decimal, asOf time.Time) {
	if !price.IsPositive() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.quotes[tokenAddress]; ok && prev.AsOf.After(asOf) {
		return
	}
	c.quotes[tokenAddress] = Quote{Price: price, AsOf: asOf}
}

// Quote returns the last-known observation for a token.
func (c *Cache) Quote(tokenAddress string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[tokenAddress]
	return q, ok
}

// Stale reports whether a quote is older than the configured maximum age.
func (c *Cache) Stale(q Quote) bool {
	if c.maxAge <= 0 {
		return false
	}
	return time.Since(q.AsOf) > c.maxAge
}

// Tokens returns the set of tokens with at least one observation.
func (c *Cache) Tokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for token := range c.quotes {
		out = append(out, token)
	}
	return out
}
