// Package paper implements domain.Broker as a first-class paper-trading
// mode: fills are simulated against the live Quote Cache rather than
// routed to the exchange. Selected explicitly at startup via
// PAPER_TRADING=true (see internal/config) — never as a live-auth-failure
// fallback, per Design Note §9. Every risk check upstream (Order Manager,
// Risk Manager) runs identically against this adapter as it would against
// the live kite adapter; the only difference is what happens after a
// check passes.
//
// Grounded on aristath-sentinel's internal/modules/trading in-memory
// ledger pattern (mutex-guarded map keyed by account, snapshot-by-copy
// reads) generalized from portfolio cash tracking to simulated order
// fills and positions.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/feed"
)

// Broker simulates immediate market-order fills at the Quote Cache's
// last-known LTP, and rejects a placement when no quote is cached yet
// (mirrors a real broker refusing an order on a dead symbol).
type Broker struct {
	log zerolog.Logger

	quotes *feed.QuoteCache

	mu          sync.Mutex
	margins     map[string]domain.Margins
	netPosition map[string]map[string]*domain.BrokerNetPosition // userID -> symbol -> position
	nextOrderID int64

	updates chan domain.OrderUpdate

	startingCash float64
	fillDelay    time.Duration
}

// Option configures a Broker at construction.
type Option func(*Broker)

// WithFillDelay simulates a brief broker round-trip before an order's
// postback fires, instead of an instantaneous fill — useful for
// exercising the Order Manager's pending-order bookkeeping in tests.
func WithFillDelay(d time.Duration) Option {
	return func(b *Broker) { b.fillDelay = d }
}

// New builds a paper Broker backed by cache for fill pricing. Every
// account starts with startingCash of simulated margin.
func New(log zerolog.Logger, cache *feed.QuoteCache, startingCash float64, opts ...Option) *Broker {
	b := &Broker{
		log:          log.With().Str("component", "paper_broker").Logger(),
		quotes:       cache,
		margins:      make(map[string]domain.Margins),
		netPosition:  make(map[string]map[string]*domain.BrokerNetPosition),
		updates:      make(chan domain.OrderUpdate, 256),
		startingCash: startingCash,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) marginsFor(userID string) domain.Margins {
	m, ok := b.margins[userID]
	if !ok {
		m = domain.Margins{Equity: b.startingCash, AvailableCash: b.startingCash, AvailableMargin: b.startingCash}
		b.margins[userID] = m
	}
	return m
}

// GetMargins reports the simulated margin of an unspecified "default"
// account — the interface carries no user parameter (spec §6). It reports
// the first account the margins map yields, or the starting cash if none
// has traded yet; once more than one account has traded, which account is
// reported is not defined.
func (b *Broker) GetMargins(ctx context.Context) (domain.Margins, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.margins {
		return m, nil
	}
	return domain.Margins{Equity: b.startingCash, AvailableCash: b.startingCash, AvailableMargin: b.startingCash}, nil
}

// GetPositions aggregates simulated net positions across every simulated
// account, matching the shape a real broker's combined net-position feed
// would have.
func (b *Broker) GetPositions(ctx context.Context) (domain.BrokerPositions, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bySymbol := make(map[string]*domain.BrokerNetPosition)
	for _, positions := range b.netPosition {
		for symbol, p := range positions {
			agg, ok := bySymbol[symbol]
			if !ok {
				clone := *p
				bySymbol[symbol] = &clone
				continue
			}
			agg.Quantity += p.Quantity
		}
	}
	out := make([]domain.BrokerNetPosition, 0, len(bySymbol))
	for _, p := range bySymbol {
		out = append(out, *p)
	}
	return domain.BrokerPositions{Net: out}, nil
}

// GetQuote passes straight through to the Quote Cache — paper mode's
// prices are the same live prices the rest of the system sees.
func (b *Broker) GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := b.quotes.Get(s); ok {
			out[s] = q
		}
	}
	return out, nil
}

// GetHistoricalData is not simulated: paper mode relies on the same
// upstream historical source as live trading for indicator inputs, so
// this is intentionally unimplemented here — callers needing historical
// candles in paper mode should be wired against internal/broker/kite's
// GetHistoricalData directly, never against this adapter.
func (b *Broker) GetHistoricalData(ctx context.Context, symbol, interval string, from, to time.Time) ([]domain.Candle, error) {
	return nil, fmt.Errorf("paper: historical data is not simulated, wire the live broker's GetHistoricalData for indicator inputs")
}

// PlaceOrder simulates an immediate fill at the cached LTP and emits a
// COMPLETE postback (after fillDelay, if configured). Rejects when the
// Quote Cache has no price for the symbol, mirroring a real broker's
// behaviour on a halted/unknown instrument.
func (b *Broker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	quote, ok := b.quotes.Get(req.Symbol)
	if !ok {
		return "", fmt.Errorf("paper: no cached quote for %s, cannot simulate a fill", req.Symbol)
	}

	b.mu.Lock()
	b.nextOrderID++
	orderID := fmt.Sprintf("PAPER-%d", b.nextOrderID)
	b.applyFill(req, quote.LTP)
	b.applyMarginImpact(req, quote.LTP)
	b.mu.Unlock()

	go b.emitFill(ctx, orderID, req, quote)
	return orderID, nil
}

func (b *Broker) applyFill(req domain.OrderRequest, fillPrice float64) {
	positions, ok := b.netPosition[req.UserID]
	if !ok {
		positions = make(map[string]*domain.BrokerNetPosition)
		b.netPosition[req.UserID] = positions
	}
	p, ok := positions[req.Symbol]
	if !ok {
		p = &domain.BrokerNetPosition{Symbol: req.Symbol}
		positions[req.Symbol] = p
	}

	delta := req.Quantity
	if req.Action == domain.Sell {
		delta = -delta
	}
	p.Quantity += delta
	p.LastPrice = fillPrice
}

// applyMarginImpact debits the simulated account's available cash by the
// order's notional value — a buy ties up cash, a sell (exit) releases it.
// This is a simplification (no leverage/span-margin modelling), adequate
// for paper mode's purpose of exercising the risk-check call path rather
// than reproducing exact broker margin math.
func (b *Broker) applyMarginImpact(req domain.OrderRequest, fillPrice float64) {
	m := b.marginsFor(req.UserID)
	notional := req.Quantity * fillPrice
	if req.Action == domain.Sell {
		notional = -notional
	}
	m.AvailableCash -= notional
	m.AvailableMargin -= notional
	m.UsedMargin += notional
	b.margins[req.UserID] = m
}

func (b *Broker) emitFill(ctx context.Context, orderID string, req domain.OrderRequest, quote domain.Quote) {
	if b.fillDelay > 0 {
		select {
		case <-time.After(b.fillDelay):
		case <-ctx.Done():
			return
		}
	}
	upd := domain.OrderUpdate{
		OrderID:      orderID,
		Symbol:       req.Symbol,
		Status:       domain.OrderStatusComplete,
		FilledQty:    req.Quantity,
		AveragePrice: quote.LTP,
		UpdatedAt:    time.Now(),
	}
	select {
	case b.updates <- upd:
	case <-ctx.Done():
	}
}

// CancelOrder is a no-op: every paper order fills synchronously in
// PlaceOrder, so there is never anything left open to cancel.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

// OrderUpdates exposes the simulated fill stream.
func (b *Broker) OrderUpdates() <-chan domain.OrderUpdate {
	return b.updates
}
