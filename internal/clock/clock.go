// Package clock provides the IST trading-session calendar the rest of the
// control plane times itself against: the market-open/square-off cascade,
// weekday gating, and the coarse time-phase used by the bias engine.
//
// Grounded on the teacher's market_regime.MarketStateDetector: a small
// cached state machine over "now", queried by every component that needs
// to know where we are in the session rather than parsing clock strings
// itself.
package clock

import "time"

// IST is the market's trading timezone.
var IST = mustLoadIST()

func mustLoadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// TimePhase is the coarse part of the trading day used to modulate bias
// confidence (spec §4.2).
type TimePhase string

const (
	PhasePreMarket TimePhase = "PRE_MARKET"
	PhaseOpening   TimePhase = "OPENING"
	PhaseMorning   TimePhase = "MORNING"
	PhaseAfternoon TimePhase = "AFTERNOON"
	PhaseClosing   TimePhase = "CLOSING"
	PhaseClosed    TimePhase = "CLOSED"
)

func ist(now time.Time) time.Time { return now.In(IST) }

func minutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

const (
	openMinute            = 9*60 + 15
	openingEndMinute      = 9*60 + 45
	afternoonStartMinute  = 13 * 60
	closingStartMinute    = 14*60 + 45
	squareOffWindowMinute = 15*60 + 15
	mandatoryCloseMinute  = 15*60 + 20
	emergencyCloseMinute  = 15*60 + 30
	entryCutoffMinute     = 15 * 60
)

// IsWeekday reports whether now (any timezone) falls on a trading weekday
// in IST.
func IsWeekday(now time.Time) bool {
	d := ist(now).Weekday()
	return d != time.Saturday && d != time.Sunday
}

// IsEntryWindow reports whether new entries are allowed: weekday and
// 09:15 <= now < 15:00 IST.
func IsEntryWindow(now time.Time) bool {
	if !IsWeekday(now) {
		return false
	}
	m := minutesSinceMidnight(ist(now))
	return m >= openMinute && m < entryCutoffMinute
}

// IsWithinTradingHours reports whether now is within the broad trading
// session 09:15-15:30 IST (used by the risk manager's hours check).
func IsWithinTradingHours(now time.Time) bool {
	if !IsWeekday(now) {
		return false
	}
	m := minutesSinceMidnight(ist(now))
	return m >= openMinute && m <= emergencyCloseMinute
}

// PastEntryCutoff reports now >= 15:00 IST.
func PastEntryCutoff(now time.Time) bool {
	return minutesSinceMidnight(ist(now)) >= entryCutoffMinute
}

// PastSquareOffWindow reports now >= 15:15 IST.
func PastSquareOffWindow(now time.Time) bool {
	return minutesSinceMidnight(ist(now)) >= squareOffWindowMinute
}

// PastMandatoryClose reports now >= 15:20 IST.
func PastMandatoryClose(now time.Time) bool {
	return minutesSinceMidnight(ist(now)) >= mandatoryCloseMinute
}

// PastEmergencyClose reports now >= 15:30 IST.
func PastEmergencyClose(now time.Time) bool {
	return minutesSinceMidnight(ist(now)) >= emergencyCloseMinute
}

// Phase classifies now into the coarse time-phase used by the bias engine.
func Phase(now time.Time) TimePhase {
	if !IsWeekday(now) {
		return PhaseClosed
	}
	m := minutesSinceMidnight(ist(now))
	switch {
	case m < openMinute:
		return PhasePreMarket
	case m < openingEndMinute:
		return PhaseOpening
	case m < afternoonStartMinute:
		return PhaseMorning
	case m < closingStartMinute:
		return PhaseAfternoon
	case m <= emergencyCloseMinute:
		return PhaseClosing
	default:
		return PhaseClosed
	}
}
