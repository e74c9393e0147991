package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsealgo/controller/internal/events"
)

// EventsStreamHandler streams every events.Bus publication to connected
// clients as Server-Sent Events — the error-handling design's (§7)
// user-visible failure surface, and the live feed an operator dashboard
// watches for fills, rejections, bias changes, and the two CRITICAL
// control actions.
//
// Grounded directly on aristath-sentinel's EventsStreamHandler (same SSE
// header set, same per-connection buffered channel + non-blocking-send
// drop policy, same 30s heartbeat); its log-file-tailing sub-feature is
// dropped since this control plane has no per-file log browsing surface
// in SPEC_FULL.md.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler builds a handler over bus.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{bus: bus, log: log.With().Str("component", "events_stream").Logger()}
}

// allEventTypes is every type the Bus can emit; the default subscription
// set when a client's ?types= filter is absent.
var allEventTypes = []events.EventType{
	events.PositionOpened,
	events.PositionClosed,
	events.PositionPartialExit,
	events.OrderPlaced,
	events.OrderRejected,
	events.SignalRejected,
	events.BiasChanged,
	events.RiskEmergencyStop,
	events.RiskAlert,
	events.ControlCloseAll,
	events.ControlOverrideLoss,
	events.ErrorOccurred,
}

// ServeHTTP handles GET /api/events/stream.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var subscribeTo []events.EventType
	if typesFilter := r.URL.Query().Get("types"); typesFilter != "" {
		for _, t := range strings.Split(typesFilter, ",") {
			subscribeTo = append(subscribeTo, events.EventType(strings.TrimSpace(t)))
		}
	} else {
		subscribeTo = allEventTypes
	}

	h.log.Info().Strs("types", eventTypeStrings(subscribeTo)).Msg("client connected to event stream")

	eventChan := make(chan *events.Event, 100)
	handler := func(e *events.Event) {
		select {
		case eventChan <- e:
		default:
			h.log.Warn().Str("event_type", string(e.Type)).Msg("event channel full, dropping event")
		}
	}
	for _, t := range subscribeTo {
		h.bus.Subscribe(t, handler)
	}

	fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{"type": "connected"}))
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.log.Info().Msg("client disconnected from event stream")
			return

		case e := <-eventChan:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{
				"type":      string(e.Type),
				"module":    e.Module,
				"timestamp": e.Timestamp.Format(time.RFC3339),
				"data":      e.Data,
			}))
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) encode(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}

func eventTypeStrings(types []events.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
