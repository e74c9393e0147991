// Package monitor implements the Position Monitor (spec §4.8) — the
// control plane's hard core: a 5s/30s cadence loop that refreshes prices,
// evaluates exit conditions in strict priority order, and drives exits
// through the Order Manager.
//
// Grounded on aristath-sentinel/internal/modules/trading/safety_service.go
// for the priority-ordered, first-match-wins evaluation shape, and on
// poorman-SynapseStrike/market's peak-tracking pattern (UpdatePeakPnL) for
// the trailing-stop/drawdown bookkeeping below — both repos independently
// converge on "track the best price seen, trail a fraction behind it"
// rather than recomputing trail state from scratch every tick.
package monitor

import (
	"context"
	"time"

	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/rs/zerolog"
)

const (
	activeCadence = 5 * time.Second
	idleCadence   = 30 * time.Second

	scalpProfitThresholdPct  = 0.001 // 0.1%
	trailLockStartPct       = 0.02  // 2%
	trailLockFraction       = 0.5
	trailingStopStartPct    = 0.01 // 1%
	trailingStopFraction    = 0.4
	partialBookingFraction  = 0.5
	partialBookingTightenPct = 0.3
	minQuantityForPartial   = 10
)

// TrailState tracks the best favorable price seen for one symbol since
// its trailing stop activated — mirrors poorman-SynapseStrike's
// UpdatePeakPnL accumulator, keyed per symbol instead of per whole
// portfolio.
type TrailState struct {
	BestFavorablePrice float64
	TrailingStopActive bool
}

// EvalInput bundles everything EvaluateExit needs for one position,
// decoupling evaluation (pure, testable) from the loop's I/O.
type EvalInput struct {
	Now              time.Time
	Position         domain.Position
	EmergencyStop    bool
	DailyLossBreached bool
	Trail            TrailState
}

// EvaluateExit implements spec §4.8 step 4's strict-priority cascade for
// one position. Returns (condition, newTrailState, matched).
func EvaluateExit(in EvalInput) (domain.ExitCondition, TrailState, bool) {
	p := in.Position
	p.RecalculateUnrealizedPnL() // P&L checks below follow p.CurrentPrice
	trail := in.Trail

	// a. Time-based cascade — checked first, unconditionally.
	if cond, ok := timeBasedExit(in.Now, p); ok {
		return cond, trail, true
	}

	// b. Scalp timeout.
	if cond, ok := scalpTimeoutExit(in.Now, p); ok {
		return cond, trail, true
	}

	// c. Stop-loss. RatchetStopLoss must have already been applied to p
	// (the Runner persists the locked SL to the Tracker every tick before
	// calling EvaluateExit) so the profit lock survives a later pullback
	// below the 2% trigger instead of being recomputed from scratch here.
	if stopLossBreached(p, p.StopLoss) {
		return domain.ExitCondition{
			Symbol:       p.Symbol,
			Kind:         domain.ExitStopLoss,
			Priority:     domain.PriorityStopLoss,
			TriggerPrice: p.StopLoss,
			TriggerTime:  in.Now,
			Reason:       "stop_loss",
		}, trail, true
	}

	// d. Target with partial booking.
	if cond, ok := targetExit(in.Now, p); ok {
		return cond, trail, true
	}

	// e. Trailing stop.
	if cond, newTrail, ok := trailingStopExit(in.Now, p, trail); ok {
		return cond, newTrail, true
	} else {
		trail = newTrail
	}

	// f. Risk-based.
	if in.EmergencyStop || in.DailyLossBreached {
		return domain.ExitCondition{
			Symbol:      p.Symbol,
			Kind:        domain.ExitRiskBased,
			Priority:    domain.PriorityMandatory,
			TriggerTime: in.Now,
			Reason:      "risk_manager_emergency_stop_or_daily_loss",
		}, trail, true
	}

	return domain.ExitCondition{}, trail, false
}

func timeBasedExit(now time.Time, p domain.Position) (domain.ExitCondition, bool) {
	switch {
	case clock.PastEmergencyClose(now):
		return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitTimeBased, Priority: domain.PriorityEmergency, TriggerTime: now, Reason: "market_close_emergency"}, true
	case clock.PastMandatoryClose(now):
		return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitTimeBased, Priority: domain.PriorityMandatory, TriggerTime: now, Reason: "mandatory_close"}, true
	case clock.PastSquareOffWindow(now):
		return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitTimeBased, Priority: domain.PriorityStopLoss, TriggerTime: now, Reason: "intraday_square_off_window"}, true
	}
	return domain.ExitCondition{}, false
}

func scalpTimeoutExit(now time.Time, p domain.Position) (domain.ExitCondition, bool) {
	if p.HybridModeOf() != domain.HybridScalp {
		return domain.ExitCondition{}, false
	}
	maxHold, ok := p.MaxHoldMinutesOf()
	if !ok || maxHold <= 0 {
		return domain.ExitCondition{}, false
	}
	elapsed := p.TimeInPosition(now)
	pnlPct := p.PnLPercent()

	if elapsed >= time.Duration(maxHold)*time.Minute && pnlPct >= scalpProfitThresholdPct {
		return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitScalpTimeout, Priority: domain.PriorityStopLoss, TriggerTime: now, Reason: "scalp_timeout_profitable"}, true
	}
	if elapsed >= time.Duration(maxHold*2)*time.Minute {
		return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitScalpTimeout, Priority: domain.PriorityStopLoss, TriggerTime: now, Reason: "scalp_timeout_forced"}, true
	}
	return domain.ExitCondition{}, false
}

// RatchetStopLoss implements spec §4.8's profit-lock rule: once a
// position reaches 2% favorable P&L, the stop loss moves to lock in 50%
// of the move so far, and only ever moves in the favorable direction.
// The Runner calls this every tick, before EvaluateExit, and persists a
// change to the Tracker — the lock must survive a later pullback below
// the 2% trigger, which a stateless per-tick recomputation cannot do.
func RatchetStopLoss(p domain.Position) (newSL float64, changed bool) {
	p.RecalculateUnrealizedPnL()
	if p.PnLPercent() < trailLockStartPct {
		return p.StopLoss, false
	}
	locked := lockedStopLoss(p)
	if favorableMove(p, locked, p.StopLoss) {
		return locked, true
	}
	return p.StopLoss, false
}

// lockedStopLoss computes new_sl = entry + 0.5*(current-entry) for long,
// symmetric for short.
func lockedStopLoss(p domain.Position) float64 {
	diff := p.CurrentPrice - p.AveragePrice
	if p.Side == domain.Short {
		diff = -diff
		return p.AveragePrice - trailLockFraction*diff
	}
	return p.AveragePrice + trailLockFraction*diff
}

// favorableMove reports whether candidate moves the stop loss only in the
// favorable direction relative to the current stop.
func favorableMove(p domain.Position, candidate, current float64) bool {
	if p.Side == domain.Short {
		return candidate < current
	}
	return candidate > current
}

func stopLossBreached(p domain.Position, sl float64) bool {
	if sl == 0 {
		return false
	}
	if p.Side == domain.Short {
		return p.CurrentPrice >= sl
	}
	return p.CurrentPrice <= sl
}

func targetExit(now time.Time, p domain.Position) (domain.ExitCondition, bool) {
	if p.Target == 0 {
		return domain.ExitCondition{}, false
	}
	targetTouched := (p.Side == domain.Long && p.CurrentPrice >= p.Target) ||
		(p.Side == domain.Short && p.CurrentPrice <= p.Target)
	if !targetTouched {
		return domain.ExitCondition{}, false
	}

	if p.PartialProfitBooked {
		// Re-touch after partial booking: full exit.
		return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitTarget, Priority: domain.PriorityTarget, TriggerTime: now, Reason: "target_retouched_full_exit"}, true
	}

	partialQty := p.Quantity * partialBookingFraction
	fullExit := p.IsOption() || p.Quantity <= minQuantityForPartial || partialQty < minQuantityForPartial
	if fullExit {
		return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitTarget, Priority: domain.PriorityTarget, TriggerTime: now, Reason: "target_full_exit"}, true
	}

	return domain.ExitCondition{
		Symbol:          p.Symbol,
		Kind:            domain.ExitTarget,
		Priority:        domain.PriorityTarget,
		TriggerTime:     now,
		Reason:          "target_partial_booking",
		PartialQuantity: partialQty,
	}, true
}

func trailingStopExit(now time.Time, p domain.Position, trail TrailState) (domain.ExitCondition, TrailState, bool) {
	pnlPct := p.PnLPercent()
	if pnlPct <= trailingStopStartPct && !trail.TrailingStopActive {
		return domain.ExitCondition{}, trail, false
	}

	trail.TrailingStopActive = true
	if trail.BestFavorablePrice == 0 {
		trail.BestFavorablePrice = p.CurrentPrice
	}
	if p.Side == domain.Long && p.CurrentPrice > trail.BestFavorablePrice {
		trail.BestFavorablePrice = p.CurrentPrice
	}
	if p.Side == domain.Short && (trail.BestFavorablePrice == 0 || p.CurrentPrice < trail.BestFavorablePrice) {
		trail.BestFavorablePrice = p.CurrentPrice
	}

	profitLockPrice := p.AveragePrice
	if p.Side == domain.Long {
		profitLockPrice = p.AveragePrice * (1 + trailingStopStartPct)
	} else {
		profitLockPrice = p.AveragePrice * (1 - trailingStopStartPct)
	}

	var trailStop float64
	if p.Side == domain.Long {
		trailStop = trail.BestFavorablePrice - trailingStopFraction*(trail.BestFavorablePrice-p.AveragePrice)
		if trailStop < profitLockPrice {
			trailStop = profitLockPrice
		}
		if p.CurrentPrice <= trailStop {
			return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitTrailingStop, Priority: domain.PriorityStopLoss, TriggerPrice: trailStop, TriggerTime: now, Reason: "trailing_stop"}, trail, true
		}
	} else {
		trailStop = trail.BestFavorablePrice + trailingStopFraction*(p.AveragePrice-trail.BestFavorablePrice)
		if trailStop > profitLockPrice {
			trailStop = profitLockPrice
		}
		if p.CurrentPrice >= trailStop {
			return domain.ExitCondition{Symbol: p.Symbol, Kind: domain.ExitTrailingStop, Priority: domain.PriorityStopLoss, TriggerPrice: trailStop, TriggerTime: now, Reason: "trailing_stop"}, trail, true
		}
	}

	return domain.ExitCondition{}, trail, false
}

// Cadence returns the loop's sleep interval for now per spec §4.8: 5s
// between 09:00-16:00 IST, 30s otherwise.
func Cadence(now time.Time) time.Duration {
	ist := now.In(clock.IST)
	minutes := ist.Hour()*60 + ist.Minute()
	if minutes >= 9*60 && minutes <= 16*60 {
		return activeCadence
	}
	return idleCadence
}

// Loop runs the monitor until ctx is cancelled, invoking tick on every
// iteration. Separated from EvaluateExit so the cadence/scheduling concern
// stays independent of the pure per-position evaluation logic.
func Loop(ctx context.Context, log zerolog.Logger, tick func(now time.Time)) {
	for {
		now := time.Now()
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("monitor tick panicked, continuing loop")
				}
			}()
			tick(now)
		}()

		select {
		case <-ctx.Done():
			return
		case <-time.After(Cadence(now)):
		}
	}
}
