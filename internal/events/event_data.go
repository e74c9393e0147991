package events

import (
	"encoding/json"
	"time"
)

// EventData is implemented by every typed event payload, so a subscriber
// can switch on concrete type instead of unpacking a map.
type EventData interface {
	EventType() EventType
}

// PositionOpenedData accompanies PositionOpened.
type PositionOpenedData struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	Strategy     string  `json:"strategy"`
}

func (d *PositionOpenedData) EventType() EventType { return PositionOpened }

// PositionClosedData accompanies PositionClosed.
type PositionClosedData struct {
	Symbol      string  `json:"symbol"`
	ExitPrice   float64 `json:"exit_price"`
	RealizedPnL float64 `json:"realized_pnl"`
	Reason      string  `json:"reason"`
}

func (d *PositionClosedData) EventType() EventType { return PositionClosed }

// PositionPartialExitData accompanies PositionPartialExit.
type PositionPartialExitData struct {
	Symbol        string  `json:"symbol"`
	ExitedQty     float64 `json:"exited_qty"`
	RemainingQty  float64 `json:"remaining_qty"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

func (d *PositionPartialExitData) EventType() EventType { return PositionPartialExit }

// OrderPlacedData accompanies OrderPlaced.
type OrderPlacedData struct {
	UserID   string  `json:"user_id"`
	Symbol   string  `json:"symbol"`
	Action   string  `json:"action"`
	Quantity float64 `json:"quantity"`
	OrderID  string  `json:"order_id"`
}

func (d *OrderPlacedData) EventType() EventType { return OrderPlaced }

// OrderRejectedData accompanies OrderRejected.
type OrderRejectedData struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

func (d *OrderRejectedData) EventType() EventType { return OrderRejected }

// SignalRejectedData accompanies SignalRejected.
type SignalRejectedData struct {
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

func (d *SignalRejectedData) EventType() EventType { return SignalRejected }

// BiasChangedData accompanies BiasChanged.
type BiasChangedData struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Regime     string  `json:"regime"`
}

func (d *BiasChangedData) EventType() EventType { return BiasChanged }

// RiskEmergencyStopData accompanies RiskEmergencyStop.
type RiskEmergencyStopData struct {
	Reason        string  `json:"reason"`
	DailyPnL      float64 `json:"daily_pnl"`
	Drawdown      float64 `json:"drawdown"`
}

func (d *RiskEmergencyStopData) EventType() EventType { return RiskEmergencyStop }

// RiskAlertData accompanies RiskAlert.
type RiskAlertData struct {
	Symbol      string  `json:"symbol,omitempty"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
}

func (d *RiskAlertData) EventType() EventType { return RiskAlert }

// ControlActionData accompanies ControlCloseAll / ControlOverrideLoss —
// both must be logged as CRITICAL events per spec §6.
type ControlActionData struct {
	Operator string `json:"operator,omitempty"`
	Reason   string `json:"reason"`
}

func (d *ControlActionData) EventType() EventType { return ControlCloseAll }

// ErrorEventData accompanies ErrorOccurred.
type ErrorEventData struct {
	Error   string         `json:"error"`
	Context map[string]any `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// EventWithData is the JSON-serializable form of Event used on the wire
// (control-plane SSE stream), carrying the concrete EventData so a
// dashboard client can deserialize by Type without a priori knowledge of
// every payload shape.
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(e)}

	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = b
	}
	return json.Marshal(aux)
}

func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(e)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var payload EventData
	switch aux.Type {
	case PositionOpened:
		payload = &PositionOpenedData{}
	case PositionClosed:
		payload = &PositionClosedData{}
	case PositionPartialExit:
		payload = &PositionPartialExitData{}
	case OrderPlaced:
		payload = &OrderPlacedData{}
	case OrderRejected:
		payload = &OrderRejectedData{}
	case SignalRejected:
		payload = &SignalRejectedData{}
	case BiasChanged:
		payload = &BiasChangedData{}
	case RiskEmergencyStop:
		payload = &RiskEmergencyStopData{}
	case RiskAlert:
		payload = &RiskAlertData{}
	case ControlCloseAll, ControlOverrideLoss:
		payload = &ControlActionData{}
	case ErrorOccurred:
		payload = &ErrorEventData{}
	default:
		var raw map[string]any
		if err := json.Unmarshal(aux.Data, &raw); err != nil {
			return err
		}
		e.Data = &GenericEventData{Type: aux.Type, Data: raw}
		return nil
	}

	if err := json.Unmarshal(aux.Data, payload); err != nil {
		return err
	}
	e.Data = payload
	return nil
}

// GenericEventData is a fallback for event types without a registered
// concrete payload.
type GenericEventData struct {
	Type EventType      `json:"-"`
	Data map[string]any `json:"-"`
}

func (d *GenericEventData) EventType() EventType { return d.Type }

func (d *GenericEventData) MarshalJSON() ([]byte, error) { return json.Marshal(d.Data) }

func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
