package domain

import (
	"context"
	"time"
)

// Broker is the control plane's sole point of contact with the exchange,
// per spec §6. Both the live Zerodha adapter and the paper-trading
// adapter implement the same interface so the rest of the system never
// branches on which one is wired in.
type Broker interface {
	GetMargins(ctx context.Context) (Margins, error)
	GetPositions(ctx context.Context) (BrokerPositions, error)
	GetQuote(ctx context.Context, symbols []string) (map[string]Quote, error)
	GetHistoricalData(ctx context.Context, symbol, interval string, from, to time.Time) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderUpdates() <-chan OrderUpdate
}

// Margins is one user's available trading capital as reported by the
// broker.
type Margins struct {
	Equity          float64
	AvailableCash   float64
	UsedMargin      float64
	AvailableMargin float64
}

// BrokerPositions is the broker's own view of open positions for a user —
// the authority the Position Monitor reconciles quantity-sanity checks
// against before submitting an exit.
type BrokerPositions struct {
	Net []BrokerNetPosition
}

// BrokerNetPosition is one net open position as the broker reports it.
type BrokerNetPosition struct {
	Symbol       string
	Quantity     float64
	AveragePrice float64
	LastPrice    float64
}

// Candle is one OHLCV bar from the broker's historical-data endpoint.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderType distinguishes the handful of order styles the control plane
// ever submits.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderSL     OrderType = "SL"
	OrderSLM    OrderType = "SL-M"
)

// OrderRequest is everything the broker needs to place one order.
type OrderRequest struct {
	UserID       string
	Symbol       string
	Action       Action
	Quantity     float64
	OrderType    OrderType
	LimitPrice   float64
	TriggerPrice float64
	Tag          string
	ClosingAction bool // exempts this order from the entry-cutoff/rotation checks
}

// OrderStatus is the lifecycle state of a submitted order, mirrored from
// the broker's own vocabulary.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusComplete  OrderStatus = "COMPLETE"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderUpdate is a push notification from the broker's order-update
// stream.
type OrderUpdate struct {
	OrderID       string
	Symbol        string
	Status        OrderStatus
	FilledQty     float64
	AveragePrice  float64
	RejectReason  string
	UpdatedAt     time.Time
}
