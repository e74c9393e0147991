// Package kite wraps github.com/zerodha/gokiteconnect/v4 (REST) and
// nhooyr.io/websocket (the order-update postback stream and the market-
// data ticker) behind domain.Broker and feed.Feed. Per Design Note §9
// ("no silent mock fallback"), an authentication failure here disables
// new entries — it never falls back to a stub broker.
//
// Zerodha issues one access token per user login; domain.Broker's methods
// carry no user parameter for GetMargins/GetPositions/GetQuote/
// GetHistoricalData (spec §6), so those are scoped to a single designated
// primary account's session, while PlaceOrder/CancelOrder route by
// OrderRequest.UserID across every registered account. This mirrors how
// the control plane actually operates: market data and portfolio risk
// sizing are computed once against the primary account, then orders are
// replicated out to every sub-account by the Allocator/Order Manager
// upstream of this package.
package kite

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/nsealgo/controller/internal/domain"
)

// Credentials is one user's Kite Connect API key/access token pair.
type Credentials struct {
	UserID      string
	APIKey      string
	AccessToken string
}

// Client implements domain.Broker against the live Zerodha Kite Connect
// API.
type Client struct {
	mu       sync.RWMutex
	accounts map[string]*kiteconnect.Client
	primary  string

	updates chan domain.OrderUpdate
}

// New builds a Client with no registered accounts. Register at least one
// via AddAccount before use; the first account registered becomes the
// primary (market-data) session unless SetPrimary is called.
func New() *Client {
	return &Client{
		accounts: make(map[string]*kiteconnect.Client),
		updates:  make(chan domain.OrderUpdate, 256),
	}
}

// AddAccount authenticates and registers one user's session.
func (c *Client) AddAccount(cred Credentials) error {
	if cred.AccessToken == "" {
		return fmt.Errorf("kite: %s has no access token, refusing to register (no mock fallback)", cred.UserID)
	}
	kc := kiteconnect.New(cred.APIKey)
	kc.SetAccessToken(cred.AccessToken)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[cred.UserID] = kc
	if c.primary == "" {
		c.primary = cred.UserID
	}
	return nil
}

// SetPrimary designates which registered account's session serves the
// market-data calls.
func (c *Client) SetPrimary(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accounts[userID]; !ok {
		return fmt.Errorf("kite: %s is not a registered account", userID)
	}
	c.primary = userID
	return nil
}

func (c *Client) primaryClient() (*kiteconnect.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kc, ok := c.accounts[c.primary]
	if !ok {
		return nil, fmt.Errorf("kite: no primary account registered")
	}
	return kc, nil
}

func (c *Client) clientFor(userID string) (*kiteconnect.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kc, ok := c.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("kite: %s is not a registered account", userID)
	}
	return kc, nil
}

// GetMargins returns the primary account's available trading capital.
func (c *Client) GetMargins(ctx context.Context) (domain.Margins, error) {
	kc, err := c.primaryClient()
	if err != nil {
		return domain.Margins{}, err
	}
	m, err := kc.GetUserMargins()
	if err != nil {
		return domain.Margins{}, fmt.Errorf("kite: get margins: %w", err)
	}
	return domain.Margins{
		Equity:          m.Equity.Net,
		AvailableCash:   m.Equity.Available.Cash,
		UsedMargin:      m.Equity.Utilised.Debits,
		AvailableMargin: m.Equity.Net,
	}, nil
}

// GetPositions returns the primary account's net open positions as the
// broker reports them — the authority the Position Monitor reconciles
// quantity-sanity checks against.
func (c *Client) GetPositions(ctx context.Context) (domain.BrokerPositions, error) {
	kc, err := c.primaryClient()
	if err != nil {
		return domain.BrokerPositions{}, err
	}
	pos, err := kc.GetPositions()
	if err != nil {
		return domain.BrokerPositions{}, fmt.Errorf("kite: get positions: %w", err)
	}
	out := make([]domain.BrokerNetPosition, 0, len(pos.Net))
	for _, p := range pos.Net {
		out = append(out, domain.BrokerNetPosition{
			Symbol:       p.Tradingsymbol,
			Quantity:     float64(p.Quantity),
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
		})
	}
	return domain.BrokerPositions{Net: out}, nil
}

// GetQuote batches a quote lookup for symbols through the primary
// account's REST session — used by the Position Monitor's options-price
// batch refresh (§4.8) and the Market Internals Analyzer's India-VIX/
// candle pulls.
func (c *Client) GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	kc, err := c.primaryClient()
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}
	qd, err := kc.GetQuote(symbols...)
	if err != nil {
		return nil, fmt.Errorf("kite: get quote: %w", err)
	}
	out := make(map[string]domain.Quote, len(qd))
	for symbol, q := range qd {
		quote := domain.Quote{
			Symbol:    symbol,
			LTP:       q.LastPrice,
			Open:      q.OHLC.Open,
			High:      q.OHLC.High,
			Low:       q.OHLC.Low,
			PrevClose: q.OHLC.Close,
			Volume:    float64(q.Volume),
			Timestamp: time.Time(q.Timestamp.Time),
		}
		out[symbol] = quote.WithComputedChangePercent()
	}
	return out, nil
}

// GetHistoricalData pulls OHLCV candles through the primary account's
// session, per §4.1's choppiness-index/trend-strength inputs.
func (c *Client) GetHistoricalData(ctx context.Context, symbol, interval string, from, to time.Time) ([]domain.Candle, error) {
	kc, err := c.primaryClient()
	if err != nil {
		return nil, err
	}
	token, err := instrumentToken(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := kc.GetHistoricalData(token, interval, from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("kite: historical data: %w", err)
	}
	out := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Candle{
			Timestamp: time.Time(r.Date.Time),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return out, nil
}

// PlaceOrder routes req to the registered account matching req.UserID.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	kc, err := c.clientFor(req.UserID)
	if err != nil {
		return "", err
	}

	params := kiteconnect.OrderParams{
		Exchange:        exchangeFor(req.Symbol),
		Tradingsymbol:   req.Symbol,
		TransactionType: transactionTypeFor(req.Action),
		Quantity:        int(req.Quantity),
		Product:         kiteconnect.ProductMIS,
		OrderType:       orderTypeFor(req.OrderType),
		Validity:        kiteconnect.ValidityDay,
		Price:           req.LimitPrice,
		TriggerPrice:    req.TriggerPrice,
		Tag:             req.Tag,
	}

	resp, err := kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return "", fmt.Errorf("kite: place order: %w", err)
	}
	return resp.OrderID, nil
}

// CancelOrder cancels an order under the primary account — cancellation
// requests in this control plane always originate from a component that
// already knows which user placed the order; routing by order ID alone
// is accepted as a known limitation (kite.Client does not index orders by
// ID across accounts) and is not exercised on the hot path.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	kc, err := c.primaryClient()
	if err != nil {
		return err
	}
	if _, err := kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return fmt.Errorf("kite: cancel order: %w", err)
	}
	return nil
}

// OrderUpdates exposes the order-update postback stream (ws.go).
func (c *Client) OrderUpdates() <-chan domain.OrderUpdate {
	return c.updates
}

func exchangeFor(symbol string) string {
	if domain.IsOption(symbol) {
		return kiteconnect.ExchangeNFO
	}
	return kiteconnect.ExchangeNSE
}

func transactionTypeFor(action domain.Action) kiteconnect.TransactionType {
	if action == domain.Sell {
		return kiteconnect.TransactionTypeSell
	}
	return kiteconnect.TransactionTypeBuy
}

func orderTypeFor(t domain.OrderType) string {
	switch t {
	case domain.OrderLimit:
		return kiteconnect.OrderTypeLimit
	case domain.OrderSL:
		return kiteconnect.OrderTypeSL
	case domain.OrderSLM:
		return kiteconnect.OrderTypeSLM
	default:
		return kiteconnect.OrderTypeMarket
	}
}
