package domain

import "time"

// ExitKind enumerates why a position exit is being raised.
type ExitKind string

const (
	ExitTimeBased    ExitKind = "time_based"
	ExitStopLoss     ExitKind = "stop_loss"
	ExitTarget       ExitKind = "target"
	ExitTrailingStop ExitKind = "trailing_stop"
	ExitScalpTimeout ExitKind = "scalp_timeout"
	ExitRiskBased    ExitKind = "risk_based"
	ExitManual       ExitKind = "manual"
)

// Exit priority bands: 0 is emergency/market-close, 3 is target.
const (
	PriorityEmergency   = 0
	PriorityMandatory   = 1
	PriorityStopLoss    = 2
	PriorityTarget      = 3
)

// ExitCondition is an ephemeral signal, raised during one monitor
// iteration, that a position should be closed (fully or partially).
type ExitCondition struct {
	Symbol       string
	Kind         ExitKind
	Priority     int
	TriggerPrice float64
	TriggerTime  time.Time
	Reason       string
	// PartialQuantity, when > 0 and less than the position's full
	// quantity, requests a partial exit instead of a full close.
	PartialQuantity float64
}
