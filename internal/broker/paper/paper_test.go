package paper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/feed"
)

func newCacheWithQuote(symbol string, ltp float64) *feed.QuoteCache {
	c := feed.NewQuoteCache()
	c.Put(domain.Quote{Symbol: symbol, LTP: ltp, Open: ltp})
	return c
}

func TestPlaceOrderRejectsWithoutCachedQuote(t *testing.T) {
	b := New(zerolog.Nop(), feed.NewQuoteCache(), 100000)
	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Buy, Quantity: 10})
	assert.Error(t, err)
}

func TestPlaceOrderFillsAtCachedLTPAndEmitsComplete(t *testing.T) {
	cache := newCacheWithQuote("TCS", 3500)
	b := New(zerolog.Nop(), cache, 100000)

	orderID, err := b.PlaceOrder(context.Background(), domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Buy, Quantity: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, orderID)

	select {
	case upd := <-b.OrderUpdates():
		assert.Equal(t, orderID, upd.OrderID)
		assert.Equal(t, domain.OrderStatusComplete, upd.Status)
		assert.Equal(t, 3500.0, upd.AveragePrice)
		assert.Equal(t, 10.0, upd.FilledQty)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fill postback")
	}
}

func TestPlaceOrderWithFillDelayDefersPostback(t *testing.T) {
	cache := newCacheWithQuote("TCS", 3500)
	b := New(zerolog.Nop(), cache, 100000, WithFillDelay(50*time.Millisecond))

	_, err := b.PlaceOrder(context.Background(), domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Buy, Quantity: 10})
	require.NoError(t, err)

	select {
	case <-b.OrderUpdates():
		t.Fatal("fill arrived before the configured delay")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-b.OrderUpdates():
	case <-time.After(time.Second):
		t.Fatal("fill never arrived")
	}
}

func TestGetPositionsAggregatesAcrossUsers(t *testing.T) {
	cache := newCacheWithQuote("TCS", 100)
	b := New(zerolog.Nop(), cache, 100000)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Buy, Quantity: 10})
	require.NoError(t, err)
	_, err = b.PlaceOrder(ctx, domain.OrderRequest{UserID: "u2", Symbol: "TCS", Action: domain.Buy, Quantity: 5})
	require.NoError(t, err)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions.Net, 1)
	assert.Equal(t, 15.0, positions.Net[0].Quantity)
}

func TestSellReducesNetPosition(t *testing.T) {
	cache := newCacheWithQuote("TCS", 100)
	b := New(zerolog.Nop(), cache, 100000)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Buy, Quantity: 10})
	require.NoError(t, err)
	_, err = b.PlaceOrder(ctx, domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Sell, Quantity: 4})
	require.NoError(t, err)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions.Net, 1)
	assert.Equal(t, 6.0, positions.Net[0].Quantity)
}

func TestGetMarginsDebitsOnBuyAndCreditsOnSell(t *testing.T) {
	cache := newCacheWithQuote("TCS", 100)
	b := New(zerolog.Nop(), cache, 100000)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Buy, Quantity: 10})
	require.NoError(t, err)

	m, err := b.GetMargins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000-1000.0, m.AvailableCash)

	_, err = b.PlaceOrder(ctx, domain.OrderRequest{UserID: "u1", Symbol: "TCS", Action: domain.Sell, Quantity: 4})
	require.NoError(t, err)

	m, err = b.GetMargins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000-1000.0+400.0, m.AvailableCash)
}

func TestGetQuotePassesThroughCache(t *testing.T) {
	cache := newCacheWithQuote("TCS", 3500)
	b := New(zerolog.Nop(), cache, 100000)

	quotes, err := b.GetQuote(context.Background(), []string{"TCS", "INFY"})
	require.NoError(t, err)
	assert.Contains(t, quotes, "TCS")
	assert.NotContains(t, quotes, "INFY")
}

func TestGetHistoricalDataIsUnimplemented(t *testing.T) {
	b := New(zerolog.Nop(), feed.NewQuoteCache(), 100000)
	_, err := b.GetHistoricalData(context.Background(), "TCS", "minute", time.Now(), time.Now())
	assert.Error(t, err)
}

func TestCancelOrderIsANoOp(t *testing.T) {
	b := New(zerolog.Nop(), feed.NewQuoteCache(), 100000)
	assert.NoError(t, b.CancelOrder(context.Background(), "ORD-1"))
}
