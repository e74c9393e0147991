// Package feed owns the Quote Cache: the single-writer, many-reader last-
// known-quote snapshot that every other component reads from. Grounded on
// the teacher's market_regime cache pattern (RWMutex-guarded map,
// snapshot-by-copy reads) generalized from a per-hour exchange-count cache
// to a per-tick quote cache.
package feed

import (
	"sync"

	"github.com/nsealgo/controller/internal/domain"
)

// QuoteCache holds the last-known quote per symbol. Writes come from a
// Feed adapter; reads return an immutable copy so a reader never observes
// a partially-applied update.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewQuoteCache builds an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[string]domain.Quote)}
}

// Put stores the latest quote for a symbol, computing ChangePercent if the
// feed omitted it.
func (c *QuoteCache) Put(q domain.Quote) {
	q = q.WithComputedChangePercent()
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()
}

// Get returns the last-known quote for symbol and whether one exists.
func (c *QuoteCache) Get(symbol string) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Snapshot returns a copy of every quote currently cached. Safe to range
// over without holding any lock.
func (c *QuoteCache) Snapshot() []domain.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	return out
}

// Len reports how many symbols currently have a cached quote.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
