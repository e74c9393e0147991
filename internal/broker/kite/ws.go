package kite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nsealgo/controller/internal/domain"
)

// postbackEnvelope is Kite's order-update push frame. Unlike the binary
// tick stream, order postbacks arrive as plain JSON text frames.
type postbackEnvelope struct {
	Type string          `json:"type"`
	Data postbackPayload `json:"data"`
}

type postbackPayload struct {
	OrderID           string  `json:"order_id"`
	Tradingsymbol     string  `json:"tradingsymbol"`
	Status            string  `json:"status"`
	FilledQuantity    float64 `json:"filled_quantity"`
	AveragePrice      float64 `json:"average_price"`
	StatusMessage     string  `json:"status_message"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
}

// OrderStream dials Kite's WebSocket endpoint and republishes order
// postbacks onto the owning Client's OrderUpdates() channel, reconnecting
// with backoff on a dropped socket — the control plane cannot afford to
// silently stop hearing about fills.
type OrderStream struct {
	log      zerolog.Logger
	url      string
	client   *Client
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewOrderStream builds a stream that feeds client.updates. url is the
// full wss:// postback endpoint including api_key/access_token query
// params for the account whose order events are being watched.
func NewOrderStream(log zerolog.Logger, client *Client, url string) *OrderStream {
	return &OrderStream{
		log:        log.With().Str("component", "kite_order_stream").Logger(),
		url:        url,
		client:     client,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run blocks, reconnecting until ctx is cancelled.
func (s *OrderStream) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runOnce(ctx); err != nil {
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("order stream disconnected")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}
		backoff = s.minBackoff
	}
}

func (s *OrderStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		var env postbackEnvelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if env.Type != "order" {
			continue
		}
		upd, ok := toOrderUpdate(env.Data)
		if !ok {
			continue
		}
		select {
		case s.client.updates <- upd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func toOrderUpdate(p postbackPayload) (domain.OrderUpdate, bool) {
	status, ok := mapOrderStatus(p.Status)
	if !ok {
		return domain.OrderUpdate{}, false
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.ExchangeTimestamp, time.Local)
	if err != nil {
		ts = time.Now()
	}
	return domain.OrderUpdate{
		OrderID:      p.OrderID,
		Symbol:       p.Tradingsymbol,
		Status:       status,
		FilledQty:    p.FilledQuantity,
		AveragePrice: p.AveragePrice,
		RejectReason: p.StatusMessage,
		UpdatedAt:    ts,
	}, true
}

func mapOrderStatus(raw string) (domain.OrderStatus, bool) {
	switch raw {
	case "COMPLETE":
		return domain.OrderStatusComplete, true
	case "REJECTED":
		return domain.OrderStatusRejected, true
	case "CANCELLED":
		return domain.OrderStatusCancelled, true
	case "OPEN", "TRIGGER PENDING", "MODIFY_PENDING", "OPEN_PENDING":
		return domain.OrderStatusOpen, true
	default:
		return domain.OrderStatusPending, raw != ""
	}
}
