package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateTradeRiskBypassesCapForOptions(t *testing.T) {
	m := NewManager(DefaultLimits(), 1_000_000)
	dec := m.ValidateTradeRisk("NIFTY24DEC26000CE", 10_000_000, 1_000_000, nil, 50)
	assert.True(t, dec.Approved)
}

func TestValidateTradeRiskRejectsWhenEmergencyStopped(t *testing.T) {
	m := NewManager(DefaultLimits(), 1_000_000)
	m.mu.Lock()
	m.emergencyStopTriggered = true
	m.mu.Unlock()

	dec := m.ValidateTradeRisk("RELIANCE", 10_000, 1_000_000, nil, 10)
	assert.False(t, dec.Approved)
	assert.Equal(t, ReasonEmergencyStop, dec.Reason)
}

func TestValidateTradeRiskConcentrationShrink(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	existing := []PositionSnapshot{{Symbol: "RELIANCE", Value: 90_000}}
	// marginValue = positionValue*0.25; positionValue=100000 -> margin=25000
	dec := m.ValidateTradeRisk("RELIANCE", 100_000, 100_000, existing, 10)
	assert.True(t, dec.Approved)
	assert.LessOrEqual(t, dec.AdjustedQuantity, 10.0)
	assert.GreaterOrEqual(t, dec.AdjustedQuantity, 1.0)
}

func TestValidateTradeRiskConcentrationCapExhausted(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	// maxExposure = 0.95*100000 = 95000; existing already consumes all of it.
	existing := []PositionSnapshot{{Symbol: "RELIANCE", Value: 95_000}}
	dec := m.ValidateTradeRisk("RELIANCE", 10_000, 100_000, existing, 5)
	assert.False(t, dec.Approved)
	assert.Equal(t, ReasonConcentrationCap, dec.Reason)
}

func TestValidateTradeRiskRejectsSinglePositionLossCap(t *testing.T) {
	limits := DefaultLimits()
	m := NewManager(limits, 1000)
	// singlePositionCap = 0.03*34*1000 = 1020; margin = positionValue*0.25
	// set positionValue huge so margin exceeds cap
	dec := m.ValidateTradeRisk("RELIANCE", 100_000, 1000, nil, 10)
	assert.False(t, dec.Approved)
	assert.Equal(t, ReasonSinglePositionLoss, dec.Reason)
}

func TestValidateTradingHoursAllowsExitsAfterCutoff(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	loc := clockISTLoc()
	now := time.Date(2026, 7, 27, 15, 10, 0, 0, loc) // past 15:00, before 15:20

	allowed, reason := m.ValidateTradingHours(now, OrderHoursContext{IsExit: true})
	assert.True(t, allowed)
	assert.Equal(t, ReasonNone, reason)
}

func TestValidateTradingHoursRejectsNewEntryAfterCutoff(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	loc := clockISTLoc()
	now := time.Date(2026, 7, 27, 15, 10, 0, 0, loc)

	allowed, reason := m.ValidateTradingHours(now, OrderHoursContext{IsExit: false})
	assert.False(t, allowed)
	assert.Equal(t, ReasonOutsideTradingHours, reason)
}

func TestValidateTradingHoursRejectsEverythingAfterMandatoryClose(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	loc := clockISTLoc()
	now := time.Date(2026, 7, 27, 15, 25, 0, 0, loc)

	allowed, _ := m.ValidateTradingHours(now, OrderHoursContext{IsExit: false})
	assert.False(t, allowed)

	allowedExit, _ := m.ValidateTradingHours(now, OrderHoursContext{IsExit: true})
	assert.True(t, allowedExit)
}

func TestValidateTradingHoursBypassForManagementAction(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	loc := clockISTLoc()
	now := time.Date(2026, 7, 27, 20, 0, 0, 0, loc) // well outside hours

	allowed, _ := m.ValidateTradingHours(now, OrderHoursContext{ManagementAction: true})
	assert.True(t, allowed)
}

func TestHistoricalVaRIsNonNegative(t *testing.T) {
	samples := []float64{-500, -200, 100, 300, -1000, 50, -50}
	v := HistoricalVaR(samples, 0.95)
	assert.GreaterOrEqual(t, v, 0.0)
}

func TestKellySizeFallsBackOnZeroAvgLoss(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	size := m.KellySize(100_000, 0.6, 500, 0)
	assert.Equal(t, 1000.0, size)
}

func TestKellySizeComputesPositiveEdge(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	size := m.KellySize(100_000, 0.6, 500, 300)
	assert.Greater(t, size, 0.0)
}

func TestMonitorPortfolioRiskTripsEmergencyStopOnDailyLoss(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	tripped := false
	m.MonitorPortfolioRisk(100_000, -5000, 0, nil, func(reason string) { tripped = true })
	assert.True(t, tripped)
	assert.True(t, m.EmergencyStopTriggered())
}

func TestMonitorPortfolioRiskDoesNotTripWithinLimits(t *testing.T) {
	m := NewManager(DefaultLimits(), 100_000)
	tripped := false
	m.MonitorPortfolioRisk(100_000, -500, 0, nil, func(reason string) { tripped = true })
	assert.False(t, tripped)
	assert.False(t, m.EmergencyStopTriggered())
}

func clockISTLoc() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}
