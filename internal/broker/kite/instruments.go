package kite

import (
	"fmt"
	"sync"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// instrumentRegistry resolves a trading symbol to the numeric instrument
// token Kite's historical-data endpoint requires. It is populated from the
// exchange instrument dump by ResolveInstruments and cached afterwards; a
// lookup miss returns an error and does not load the dump. The dump
// changes at most once a day (contract expiries), so a process restart is
// sufficient invalidation.
type instrumentRegistry struct {
	mu     sync.RWMutex
	tokens map[string]uint32
}

func newInstrumentRegistry() *instrumentRegistry {
	return &instrumentRegistry{tokens: make(map[string]uint32)}
}

func (r *instrumentRegistry) lookup(symbol string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[symbol]
	return token, ok
}

func (r *instrumentRegistry) load(kc *kiteconnect.Client, exchange string) error {
	instruments, err := kc.GetInstruments()
	if err != nil {
		return fmt.Errorf("kite: fetch instruments: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range instruments {
		if inst.Exchange != exchange {
			continue
		}
		r.tokens[inst.Tradingsymbol] = uint32(inst.InstrumentToken)
	}
	return nil
}

var registry = newInstrumentRegistry()

func instrumentToken(symbol string) (int, error) {
	if token, ok := registry.lookup(symbol); ok {
		return int(token), nil
	}
	return 0, fmt.Errorf("kite: no instrument token cached for %s, call ResolveInstruments first", symbol)
}

// ResolveInstruments primes the shared registry from the primary
// account's session. Call once at startup before GetHistoricalData is
// exercised for NSE/NFO symbols.
func (c *Client) ResolveInstruments() error {
	kc, err := c.primaryClient()
	if err != nil {
		return err
	}
	if err := registry.load(kc, kiteconnect.ExchangeNSE); err != nil {
		return err
	}
	return registry.load(kc, kiteconnect.ExchangeNFO)
}
