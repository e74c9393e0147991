// Package strategy defines the Strategy Pool integration point (spec §2):
// "each strategy consumes the Quote Cache and emits candidate Signals".
// The spec documents the Strategy Pool only as a data-flow source feeding
// the Signal Enhancer — it is never given its own invariants or component
// section the way the Bias Engine or Risk Manager are (§4.1-4.9 has no
// §4.0 "Strategy Pool"). Concrete alpha-generating algorithms are
// therefore treated the same way the spec treats the tick feed and the
// broker wire protocol: an external collaborator behind a narrow
// interface, not something this control plane implements itself.
package strategy

import (
	"context"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/feed"
)

// Strategy is one candidate-signal generator. Implementations are
// expected to keep their own indicator state across calls and return
// quickly — Pool.Tick calls every registered Strategy on the same
// goroutine, once per Quote Cache refresh.
type Strategy interface {
	Name() string
	// Generate inspects the current Quote Cache snapshot and returns zero
	// or more candidate signals for this tick.
	Generate(ctx context.Context, cache *feed.QuoteCache) []domain.Signal
}

// Pool runs every registered Strategy against the same Quote Cache
// snapshot and merges their output, in registration order, into a single
// slice — the Signal Enhancer downstream does not care which strategy a
// signal came from beyond the Signal.StrategyName field each Strategy is
// responsible for setting.
type Pool struct {
	strategies []Strategy
}

// NewPool builds a Pool from zero or more strategies.
func NewPool(strategies ...Strategy) *Pool {
	return &Pool{strategies: strategies}
}

// Register adds a strategy to the pool.
func (p *Pool) Register(s Strategy) {
	p.strategies = append(p.strategies, s)
}

// Tick runs every registered strategy once and returns their combined
// candidate signals.
func (p *Pool) Tick(ctx context.Context, cache *feed.QuoteCache) []domain.Signal {
	var out []domain.Signal
	for _, s := range p.strategies {
		out = append(out, s.Generate(ctx, cache)...)
	}
	return out
}
