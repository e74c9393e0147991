package bias

import (
	"testing"
	"time"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/internals"
	"github.com/stretchr/testify/assert"
)

func mondayAt(hour, minute int) time.Time {
	// 2026-07-27 is a Monday.
	return time.Date(2026, 7, 27, hour, minute, 0, 0, clockIST())
}

func clockIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

func TestBaseDirectionNeutralOnSmallMean(t *testing.T) {
	dir, conf := baseDirection([]float64{0.01, -0.02, 0.01})
	assert.Equal(t, domain.Neutral, dir)
	assert.Equal(t, 0.0, conf)
}

func TestBaseDirectionBullishOnConsistentPositive(t *testing.T) {
	dir, conf := baseDirection([]float64{0.3, 0.4, 0.5, 0.6, 0.5})
	assert.Equal(t, domain.Bullish, dir)
	assert.Greater(t, conf, 0.0)
}

func TestInternalsDirectionThresholds(t *testing.T) {
	dir, _ := internalsDirection(internals.Snapshot{Bullish: 60, Bearish: 40})
	assert.Equal(t, domain.Bullish, dir)

	dir2, _ := internalsDirection(internals.Snapshot{Bullish: 45, Bearish: 45})
	assert.Equal(t, domain.Neutral, dir2)
}

func TestCombineAlignedAddsConfidence(t *testing.T) {
	dir, conf := combine(domain.Bullish, 3, domain.Bullish, 2)
	assert.Equal(t, domain.Bullish, dir)
	assert.Equal(t, 5.0, conf)
}

func TestCombineConflictUsesNetConfidence(t *testing.T) {
	dir, conf := combine(domain.Bullish, 5, domain.Bearish, 2)
	assert.Equal(t, domain.Bullish, dir)
	assert.Equal(t, 3.0, conf)
}

func TestShouldAllowSignalHighConfidenceOverride(t *testing.T) {
	current := domain.MarketBias{Direction: domain.Bearish, Confidence: 8}
	assert.True(t, ShouldAllowSignal(current, domain.Buy, 9.0))
}

func TestShouldAllowSignalNeutralRequiresHigherConfidence(t *testing.T) {
	current := domain.MarketBias{Direction: domain.Neutral, Confidence: 0}
	assert.False(t, ShouldAllowSignal(current, domain.Buy, 6.0))
	assert.True(t, ShouldAllowSignal(current, domain.Buy, 6.5))
}

func TestShouldAllowSignalAlignedLowerBar(t *testing.T) {
	current := domain.MarketBias{Direction: domain.Bullish, Confidence: 6}
	assert.True(t, ShouldAllowSignal(current, domain.Buy, 5.5))
}

func TestShouldAllowSignalCounterTrendHighBar(t *testing.T) {
	current := domain.MarketBias{Direction: domain.Bullish, Confidence: 6}
	assert.False(t, ShouldAllowSignal(current, domain.Sell, 8.0))
	assert.True(t, ShouldAllowSignal(current, domain.Sell, 9.9))
}

func TestPositionSizeMultiplier(t *testing.T) {
	neutral := domain.MarketBias{Direction: domain.Neutral}
	assert.Equal(t, 1.0, PositionSizeMultiplier(neutral, domain.Buy))

	aligned := domain.MarketBias{Direction: domain.Bullish, Confidence: 10}
	assert.InDelta(t, 1.5, PositionSizeMultiplier(aligned, domain.Buy), 0.001)

	counter := domain.MarketBias{Direction: domain.Bullish, Confidence: 10}
	assert.Equal(t, 0.7, PositionSizeMultiplier(counter, domain.Sell))
}

func TestEngineUpdateHysteresisBlocksQuickFlip(t *testing.T) {
	e := NewEngine()
	now := mondayAt(10, 0)

	// First update establishes a bullish bias.
	bullishSnap := internals.Snapshot{Regime: domain.RegimeTrending, Bullish: 70, Bearish: 20}
	b1 := e.Update(now, bullishSnap, []float64{0.5, 0.6, 0.7, 0.6, 0.5}, 0)
	assert.Equal(t, domain.Bullish, b1.Direction)

	// Moments later, a weak bearish read should not flip immediately.
	bearishSnap := internals.Snapshot{Regime: domain.RegimeTrending, Bullish: 30, Bearish: 45}
	b2 := e.Update(now.Add(30*time.Second), bearishSnap, []float64{-0.2, -0.1, 0.1, -0.1, -0.2}, 0)
	assert.Equal(t, domain.Bullish, b2.Direction, "weak flip within min_bias_duration should be blocked by hysteresis")
	assert.InDelta(t, b1.Confidence*hysteresisDecay, b2.Confidence, 0.001,
		"blocked flip should decay the kept direction's own confidence, not publish the rejected candidate's")
}

// TestEngineUpdateHysteresisDecaysKeptConfidence is the spec's own worked
// example (Scenario S1): BULLISH at confidence 5.0 facing a BEARISH
// candidate at confidence 6.0 must stay BULLISH at confidence ~4.75
// (5.0 * 0.95), not be overwritten with the rejected candidate's 6.0.
func TestEngineUpdateHysteresisDecaysKeptConfidence(t *testing.T) {
	e := NewEngine()
	now := mondayAt(10, 0)

	e.current = domain.MarketBias{
		Direction:     domain.Bullish,
		Confidence:    5.0,
		Regime:        domain.RegimeTrending,
		LastChangedAt: now.Add(-2 * time.Minute),
	}
	e.snapshots = []domain.Direction{domain.Bullish, domain.Bullish, domain.Bullish}

	// A strong-internals bearish read within min_bias_duration computes a
	// BEARISH candidate of 6.0 before the trending multiplier (7.2 after
	// it), which the hysteresis gate's stability check must block.
	bearishSnap := internals.Snapshot{Regime: domain.RegimeTrending, Bullish: 20, Bearish: 80}
	b := e.Update(now, bearishSnap, nil, 0)

	assert.Equal(t, domain.Bullish, b.Direction)
	assert.InDelta(t, 4.75, b.Confidence, 0.01)
}

func TestEngineCurrentReturnsCopy(t *testing.T) {
	e := NewEngine()
	initial := e.Current()
	assert.Equal(t, domain.Neutral, initial.Direction)
}
