package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/feed"
)

type fakeStrategy struct {
	name    string
	signals []domain.Signal
}

func (f fakeStrategy) Name() string { return f.name }
func (f fakeStrategy) Generate(ctx context.Context, cache *feed.QuoteCache) []domain.Signal {
	return f.signals
}

func TestPoolTickMergesAllStrategiesInRegistrationOrder(t *testing.T) {
	a := fakeStrategy{name: "momentum", signals: []domain.Signal{{StrategyName: "momentum", Symbol: "TCS"}}}
	b := fakeStrategy{name: "breakout", signals: []domain.Signal{{StrategyName: "breakout", Symbol: "INFY"}}}
	pool := NewPool(a, b)

	out := pool.Tick(context.Background(), feed.NewQuoteCache())
	require.Len(t, out, 2)
	assert.Equal(t, "momentum", out[0].StrategyName)
	assert.Equal(t, "breakout", out[1].StrategyName)
}

func TestPoolRegisterAddsStrategyAfterConstruction(t *testing.T) {
	pool := NewPool()
	pool.Register(fakeStrategy{name: "mean_reversion", signals: []domain.Signal{{Symbol: "WIPRO"}}})

	out := pool.Tick(context.Background(), feed.NewQuoteCache())
	require.Len(t, out, 1)
	assert.Equal(t, "WIPRO", out[0].Symbol)
}

func TestPoolTickWithNoStrategiesReturnsEmpty(t *testing.T) {
	pool := NewPool()
	assert.Empty(t, pool.Tick(context.Background(), feed.NewQuoteCache()))
}
