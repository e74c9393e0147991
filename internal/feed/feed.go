package feed

import (
	"context"
	"sync"
	"time"
)

// Feed is the exogenous quote-tick source. It is separate from the broker
// adapter in general (they may coincide in a given deployment).
type Feed interface {
	// Run streams ticks into the cache until ctx is cancelled. It must
	// return promptly on cancellation.
	Run(ctx context.Context, cache *QuoteCache) error
}

// maxAcceptableGap is the feed-silence duration after which signals must
// be treated as rejected until recovery (spec §7, transient-external
// policy).
const maxAcceptableGap = 30 * time.Second

// Gap tracks how long the feed has gone without a tick.
type Gap struct {
	mu       sync.RWMutex
	lastTick time.Time
}

// NewGap builds a Gap tracker, initialized as if a tick had just arrived
// so a cold start is not immediately treated as a gap.
func NewGap() *Gap {
	return &Gap{lastTick: time.Now()}
}

// Tick records that a quote tick was just received.
func (g *Gap) Tick() {
	g.mu.Lock()
	g.lastTick = time.Now()
	g.mu.Unlock()
}

// IsStale reports whether the feed has been silent for longer than the
// acceptable gap, as of now.
func (g *Gap) IsStale(now time.Time) bool {
	g.mu.RLock()
	last := g.lastTick
	g.mu.RUnlock()
	return now.Sub(last) > maxAcceptableGap
}
