// Package events implements the control plane's upward-notification bus
// (Design Note §9: "cut the cyclic reference graph... with an event bus for
// upward notifications"). Grounded on two teacher sources: the simple
// pub/sub mechanics of trader-go/internal/events/manager.go (EventType
// consts, Emit, per-handler dispatch) and the typed-payload dispatch of
// internal/events/event_data.go (EventData interface + EventWithData's
// custom JSON marshal/unmarshal, used here by the SSE stream).
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType is the closed set of upward notifications components publish.
type EventType string

const (
	PositionOpened      EventType = "position.opened"
	PositionClosed       EventType = "position.closed"
	PositionPartialExit  EventType = "position.partial_exit"
	OrderPlaced          EventType = "order.placed"
	OrderRejected        EventType = "order.rejected"
	SignalRejected       EventType = "signal.rejected"
	BiasChanged          EventType = "bias.changed"
	RiskEmergencyStop    EventType = "risk.emergency_stop"
	RiskAlert            EventType = "risk.alert"
	ControlCloseAll      EventType = "control.close_all"
	ControlOverrideLoss  EventType = "control.override_loss_limit"
	ErrorOccurred        EventType = "error.occurred"
)

// Event is one published notification. Data carries a concrete EventData
// implementation (see event_data.go) when the publisher wants typed
// payload dispatch; generic map payloads are also accepted for ad-hoc
// diagnostics.
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Handler receives published events. Handlers must not block; the bus
// delivers synchronously on the publisher's goroutine.
type Handler func(*Event)

// Bus is the process-wide pub/sub hub. Zero value is not usable; use
// NewBus.
type Bus struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus builds an empty Bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:      log.With().Str("component", "event_bus").Logger(),
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers handler to be called for every future Emit of
// eventType. Returns no unsubscribe token; the bus is process-lifetime and
// subscriptions are not expected to churn.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit publishes an event to every subscriber of its type. A panicking
// handler is recovered and logged so one bad subscriber cannot take down
// the publisher.
func (b *Bus) Emit(eventType EventType, module string, data any) {
	evt := &Event{Type: eventType, Module: module, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, evt)
	}
}

func (b *Bus) dispatch(h Handler, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event_type", string(evt.Type)).Msg("event handler panicked")
		}
	}()
	h(evt)
}

// EmitError is a convenience wrapper matching the teacher's
// Manager.EmitError — used by components whose errors must still surface
// on the control-plane stream without propagating up the call stack
// (spec §7 Propagation).
func (b *Bus) EmitError(module string, err error, context map[string]any) {
	b.Emit(ErrorOccurred, module, &ErrorEventData{Error: err.Error(), Context: context})
}
