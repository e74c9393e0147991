package monitor

import (
	"testing"
	"time"

	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func istAt(hour, minute int) time.Time {
	return time.Date(2026, 7, 27, hour, minute, 0, 0, clock.IST)
}

func longPosition() domain.Position {
	return domain.Position{
		Symbol:       "TCS",
		Side:         domain.Long,
		Quantity:     20,
		AveragePrice: 100,
		CurrentPrice: 100,
		StopLoss:     95,
		Target:       120,
		EntryTime:    istAt(9, 20),
		Strategy:     "momentum",
	}
}

func TestEvaluateExitTimeBasedTakesPriorityOverEverything(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 200 // deep in profit, would also match target/trailing

	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(15, 31), Position: p})
	require.True(t, matched)
	assert.Equal(t, domain.ExitTimeBased, cond.Kind)
	assert.Equal(t, domain.PriorityEmergency, cond.Priority)
}

func TestEvaluateExitMandatoryCloseBeforeEmergency(t *testing.T) {
	p := longPosition()
	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(15, 20), Position: p})
	require.True(t, matched)
	assert.Equal(t, domain.PriorityMandatory, cond.Priority)
	assert.Equal(t, "mandatory_close", cond.Reason)
}

func TestEvaluateExitScalpTimeoutForcedAfterDoubleHold(t *testing.T) {
	p := longPosition()
	p.HybridMode = domain.HybridScalp
	p.MaxHoldMinutes = 5
	p.EntryTime = istAt(9, 20)
	p.CurrentPrice = 99 // losing, so only the forced (2x) branch can fire

	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(9, 31), Position: p})
	require.True(t, matched)
	assert.Equal(t, domain.ExitScalpTimeout, cond.Kind)
	assert.Equal(t, "scalp_timeout_forced", cond.Reason)
}

func TestEvaluateExitScalpTimeoutHoldsInLossBeforeDoubleHold(t *testing.T) {
	p := longPosition()
	p.HybridMode = domain.HybridScalp
	p.MaxHoldMinutes = 15
	p.EntryTime = istAt(9, 20)
	p.CurrentPrice = 99.7 // -0.3%, below the profit floor

	_, _, matched := EvaluateExit(EvalInput{Now: istAt(9, 36), Position: p}) // held 16 min
	assert.False(t, matched, "single maxHold elapsed in loss should extend to the 2x forced timeout, not exit")
}

func TestEvaluateExitScalpTimeoutProfitableAtSingleHold(t *testing.T) {
	p := longPosition()
	p.HybridMode = domain.HybridScalp
	p.MaxHoldMinutes = 5
	p.EntryTime = istAt(9, 20)
	p.CurrentPrice = 101 // 1% profit clears the 0.1% floor

	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(9, 26), Position: p})
	require.True(t, matched)
	assert.Equal(t, "scalp_timeout_profitable", cond.Reason)
}

func TestEvaluateExitStopLossBreach(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 94

	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p})
	require.True(t, matched)
	assert.Equal(t, domain.ExitStopLoss, cond.Kind)
	assert.Equal(t, 95.0, cond.TriggerPrice)
}

func TestRatchetStopLossLocksInProfitAboveTwoPercent(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 103 // 3% pnl, above the 2% trail-lock start

	newSL, changed := RatchetStopLoss(p)
	require.True(t, changed)
	assert.InDelta(t, 101.5, newSL, 0.01) // 100 + 0.5*(103-100)
}

func TestRatchetStopLossNeverMovesUnfavorably(t *testing.T) {
	p := longPosition()
	p.StopLoss = 102 // already better than what a 1% move would lock in
	p.CurrentPrice = 101

	_, changed := RatchetStopLoss(p)
	assert.False(t, changed)
}

func TestEvaluateExitStopLossSurvivesPullbackAfterLock(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 103
	newSL, changed := RatchetStopLoss(p)
	require.True(t, changed)
	p.StopLoss = newSL // Runner would persist this to the Tracker

	// Price pulls back below the 2% trigger, but the locked stop (101.5)
	// must still be the one in force — not the original 95.
	p.CurrentPrice = 101
	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p})
	require.True(t, matched)
	assert.Equal(t, domain.ExitStopLoss, cond.Kind)
	assert.InDelta(t, 101.5, cond.TriggerPrice, 0.01)
}

func TestEvaluateExitTargetFullExitForOptions(t *testing.T) {
	p := longPosition()
	p.Symbol = "NIFTY25JUL24000CE"
	p.CurrentPrice = 120
	p.Quantity = 50

	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p})
	require.True(t, matched)
	assert.Equal(t, domain.ExitTarget, cond.Kind)
	assert.Equal(t, "target_full_exit", cond.Reason)
	assert.Zero(t, cond.PartialQuantity)
}

func TestEvaluateExitTargetPartialBookingForEquity(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 120
	p.Quantity = 40

	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p})
	require.True(t, matched)
	assert.Equal(t, "target_partial_booking", cond.Reason)
	assert.Equal(t, 20.0, cond.PartialQuantity)
}

func TestEvaluateExitTargetRetouchIsFullExit(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 120
	p.Quantity = 20
	p.PartialProfitBooked = true

	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p})
	require.True(t, matched)
	assert.Equal(t, "target_retouched_full_exit", cond.Reason)
}

func TestEvaluateExitTrailingStopTriggersOnPullback(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 110 // 10% pnl, trailing active
	_, trail, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p})
	require.False(t, matched) // still rising, no pullback yet
	assert.True(t, trail.TrailingStopActive)
	assert.Equal(t, 110.0, trail.BestFavorablePrice)

	// Price pulls back to breach best(110) - 0.4*(110-100) = 106.
	p.CurrentPrice = 105
	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 5), Position: p, Trail: trail})
	require.True(t, matched)
	assert.Equal(t, domain.ExitTrailingStop, cond.Kind)
}

func TestEvaluateExitRiskBasedOnEmergencyStop(t *testing.T) {
	p := longPosition()
	cond, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p, EmergencyStop: true})
	require.True(t, matched)
	assert.Equal(t, domain.ExitRiskBased, cond.Kind)
	assert.Equal(t, domain.PriorityMandatory, cond.Priority)
}

func TestEvaluateExitNoneWhenNothingTriggers(t *testing.T) {
	p := longPosition()
	p.CurrentPrice = 101
	_, _, matched := EvaluateExit(EvalInput{Now: istAt(11, 0), Position: p})
	assert.False(t, matched)
}

func TestCadenceActiveDuringTradingHours(t *testing.T) {
	assert.Equal(t, activeCadence, Cadence(istAt(10, 0)))
}

func TestCadenceIdleOutsideTradingHours(t *testing.T) {
	assert.Equal(t, idleCadence, Cadence(istAt(20, 0)))
}
