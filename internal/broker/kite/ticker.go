package kite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/feed"
)

// Ticker implements feed.Feed against Kite's binary tick WebSocket. It is
// a separate concern from the Client's REST/postback surface (see the
// package doc comment on the feed/broker split) but shares the same
// instrument-token registry so a symbol subscribed here resolves the same
// way a historical-data lookup does.
type Ticker struct {
	log      zerolog.Logger
	url      string
	symbols  []string
	registry *instrumentRegistry
}

// NewTicker builds a Ticker that subscribes to symbols over url (the
// wss://ws.kite.trade endpoint with api_key/access_token query params).
func NewTicker(log zerolog.Logger, url string, symbols []string) *Ticker {
	return &Ticker{
		log:      log.With().Str("component", "kite_ticker").Logger(),
		url:      url,
		symbols:  symbols,
		registry: registry,
	}
}

// Run implements feed.Feed.
func (t *Ticker) Run(ctx context.Context, cache *feed.QuoteCache) error {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("kite ticker: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	tokenToSymbol := make(map[uint32]string, len(t.symbols))
	tokens := make([]uint32, 0, len(t.symbols))
	for _, s := range t.symbols {
		token, ok := t.registry.lookup(s)
		if !ok {
			t.log.Warn().Str("symbol", s).Msg("no instrument token cached, skipping subscription")
			continue
		}
		tokenToSymbol[token] = s
		tokens = append(tokens, token)
	}
	if err := subscribe(ctx, conn, tokens); err != nil {
		return fmt.Errorf("kite ticker: subscribe: %w", err)
	}

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("kite ticker: read: %w", err)
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		for _, tick := range parseTicks(data) {
			symbol, ok := tokenToSymbol[tick.InstrumentToken]
			if !ok {
				continue
			}
			cache.Put(domain.Quote{
				Symbol:    symbol,
				LTP:       tick.LastPrice,
				Open:      tick.Open,
				High:      tick.High,
				Low:       tick.Low,
				PrevClose: tick.Close,
				Volume:    tick.Volume,
				Timestamp: time.Now(),
			})
		}
	}
}

type subscribeMessage struct {
	Action string   `json:"a"`
	Value  []uint32 `json:"v"`
}

type modeMessage struct {
	Action string        `json:"a"`
	Value  []interface{} `json:"v"`
}

func subscribe(ctx context.Context, conn *websocket.Conn, tokens []uint32) error {
	if len(tokens) == 0 {
		return nil
	}
	sub, err := json.Marshal(subscribeMessage{Action: "subscribe", Value: tokens})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		return err
	}
	mode, err := json.Marshal(modeMessage{Action: "mode", Value: []interface{}{"full", tokens}})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, mode)
}

// tick is one parsed market-data packet. Kite's binary protocol packs a
// 2-byte packet count, then per packet a 2-byte length prefix followed by
// a fixed-size payload whose size indicates which mode (LTP-only/quote/
// full) the packet carries. This parses the LTP and quote-mode fields;
// full-mode's market-depth levels are not needed by this control plane
// and are skipped.
type tick struct {
	InstrumentToken uint32
	LastPrice       float64
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          float64
}

const (
	modeLTPBytes   = 8
	modeQuoteBytes = 44
	modeFullBytes  = 184
	priceDivisor   = 100.0
)

func parseTicks(data []byte) []tick {
	if len(data) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	offset := 2
	out := make([]tick, 0, count)
	for i := 0; i < count && offset+2 <= len(data); i++ {
		packetLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+packetLen > len(data) {
			break
		}
		packet := data[offset : offset+packetLen]
		offset += packetLen

		if len(packet) < modeLTPBytes {
			continue
		}
		t := tick{
			InstrumentToken: binary.BigEndian.Uint32(packet[0:4]),
			LastPrice:       float64(int32(binary.BigEndian.Uint32(packet[4:8]))) / priceDivisor,
		}
		if len(packet) >= modeQuoteBytes {
			t.Volume = float64(binary.BigEndian.Uint32(packet[16:20]))
			t.Open = float64(int32(binary.BigEndian.Uint32(packet[20:24]))) / priceDivisor
			t.High = float64(int32(binary.BigEndian.Uint32(packet[24:28]))) / priceDivisor
			t.Low = float64(int32(binary.BigEndian.Uint32(packet[28:32]))) / priceDivisor
			t.Close = float64(int32(binary.BigEndian.Uint32(packet[32:36]))) / priceDivisor
		}
		out = append(out, t)
	}
	return out
}
