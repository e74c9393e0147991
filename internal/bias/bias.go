// Package bias implements the Directional Bias Engine (spec §4.2): turns
// market internals plus NIFTY momentum into a stable, hysteresis-gated
// MarketBias, and exposes the should_allow_signal / position_size_multiplier
// gates every downstream decision consults.
//
// Grounded on aristath-sentinel/internal/market_regime/market_state.go for
// the stateful-detector shape: a mutex-protected struct holding the last N
// snapshots, recomputed on each tick and exposing query methods rather than
// recomputing from scratch at every call site.
package bias

import (
	"math"
	"sync"
	"time"

	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/internals"
)

const (
	minConfidenceFloor = 3.0
	snapshotHistory    = 5

	// hysteresisDecay is applied to the kept direction's own confidence
	// each update a flip is blocked, per spec Scenario S1 (5.0 -> ~4.75).
	hysteresisDecay = 0.95
)

// Engine computes and caches the current MarketBias.
type Engine struct {
	mu        sync.RWMutex
	current   domain.MarketBias
	snapshots []domain.Direction // most recent last, capped at snapshotHistory
}

// NewEngine builds an Engine starting from NEUTRAL.
func NewEngine() *Engine {
	return &Engine{
		current: domain.MarketBias{
			Direction:     domain.Neutral,
			Regime:        domain.RegimeNormal,
			LastChangedAt: time.Time{},
		},
	}
}

// Current returns a copy of the last computed bias.
func (e *Engine) Current() domain.MarketBias {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Update runs the full algorithm (spec §4.2 steps 1-8) against fresh
// internals and the recent NIFTY change-percent samples (oldest first,
// most recent last; at least 1 sample required, 5 is the intended window)
// plus the opening gap percent and recomputes the bias, applying
// hysteresis against the previously published value.
func (e *Engine) Update(now time.Time, snap internals.Snapshot, niftyChangeSamples []float64, openingGapPercent float64) domain.MarketBias {
	phase := clock.Phase(now)

	baseDir, baseConf := baseDirection(niftyChangeSamples)
	internalsDir, internalsConf := internalsDirection(snap)

	direction, confidence := combine(baseDir, baseConf, internalsDir, internalsConf)

	if phase == clock.PhaseOpening && math.Abs(openingGapPercent) >= 0.5 {
		gapWeight := 0.35
		if snap.Regime == domain.RegimeChoppy || snap.Regime == domain.RegimeVolatileChoppy {
			gapWeight = 0.15
		}
		gapTerm := math.Abs(openingGapPercent) * gapWeight
		if gapAligned(direction, openingGapPercent) {
			confidence += gapTerm
		} else {
			confidence -= gapTerm
		}
	}

	confidence *= regimeMultiplier(snap.Regime)
	confidence *= phaseMultiplier(phase)
	confidence = clampConfidence(confidence)

	if confidence < minConfidenceFloor {
		direction = domain.Neutral
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stability := e.stabilityLocked(direction)

	candidate := domain.MarketBias{
		Direction:     direction,
		Confidence:    confidence,
		Regime:        snap.Regime,
		Stability:     stability,
		LastChangedAt: e.current.LastChangedAt,
	}

	if e.allowChangeLocked(now, candidate) {
		if candidate.Direction != e.current.Direction {
			candidate.LastChangedAt = now
		}
		e.current = candidate
	} else {
		// Hysteresis blocked the change: keep direction/LastChangedAt but
		// decay the kept direction's own confidence rather than publish
		// the rejected candidate's (computed for the opposite direction
		// and meaningless attached to this one).
		e.current.Confidence = e.current.Confidence * hysteresisDecay
		e.current.Regime = snap.Regime
		e.current.Stability = stability
	}

	e.pushSnapshotLocked(e.current.Direction)

	return e.current
}

func (e *Engine) allowChangeLocked(now time.Time, candidate domain.MarketBias) bool {
	if candidate.Direction == e.current.Direction {
		return true
	}
	if e.current.LastChangedAt.IsZero() {
		return true
	}
	elapsed := now.Sub(e.current.LastChangedAt)
	durationOK := elapsed >= domain.MinBiasDuration
	overrideOK := candidate.Confidence >= 7.0
	if !durationOK && !overrideOK {
		return false
	}
	if candidate.Confidence-e.current.Confidence < 2.0 {
		return false
	}
	stability := e.stabilityLocked(candidate.Direction)
	return stability >= 0.3
}

func (e *Engine) stabilityLocked(candidate domain.Direction) float64 {
	if len(e.snapshots) == 0 {
		return 0
	}
	window := e.snapshots
	if len(window) > snapshotHistory {
		window = window[len(window)-snapshotHistory:]
	}
	matches := 0
	for _, d := range window {
		if d == candidate {
			matches++
		}
	}
	stability := float64(matches) / float64(len(window))

	last3 := window
	if len(last3) > 3 {
		last3 = last3[len(last3)-3:]
	}
	last3Match := true
	for _, d := range last3 {
		if d != candidate {
			last3Match = false
			break
		}
	}
	if last3Match && len(last3) == 3 {
		stability += 0.2
	}
	return math.Min(stability, 1.0)
}

func (e *Engine) pushSnapshotLocked(d domain.Direction) {
	e.snapshots = append(e.snapshots, d)
	if len(e.snapshots) > snapshotHistory {
		e.snapshots = e.snapshots[len(e.snapshots)-snapshotHistory:]
	}
}

// baseDirection computes a 5-sample trend-consistency-weighted mean of
// recent NIFTY change-percents.
func baseDirection(samples []float64) (domain.Direction, float64) {
	if len(samples) == 0 {
		return domain.Neutral, 0
	}
	use := samples
	if len(use) > 5 {
		use = use[len(use)-5:]
	}

	var sum float64
	sameSign := 0
	for i, s := range use {
		sum += s
		if i > 0 && math.Signbit(s) == math.Signbit(use[i-1]) {
			sameSign++
		}
	}
	mean := sum / float64(len(use))

	consistency := 1.0
	if len(use) > 1 {
		consistency = 0.5 + 0.5*(float64(sameSign)/float64(len(use)-1))
	}

	if math.Abs(mean) < 0.1 {
		return domain.Neutral, 0
	}

	confidence := math.Min(math.Abs(mean)*consistency*10, 10)
	if mean > 0 {
		return domain.Bullish, confidence
	}
	return domain.Bearish, confidence
}

func internalsDirection(snap internals.Snapshot) (domain.Direction, float64) {
	diff := snap.Bullish - snap.Bearish
	if diff >= 10 {
		return domain.Bullish, math.Min(diff/10, 10)
	}
	if diff <= -10 {
		return domain.Bearish, math.Min(math.Abs(diff)/10, 10)
	}
	return domain.Neutral, 0
}

func combine(dirA domain.Direction, confA float64, dirB domain.Direction, confB float64) (domain.Direction, float64) {
	if dirA == domain.Neutral && dirB == domain.Neutral {
		return domain.Neutral, 0
	}
	if dirA == domain.Neutral {
		return dirB, confB
	}
	if dirB == domain.Neutral {
		return dirA, confA
	}
	if dirA == dirB {
		return dirA, confA + confB
	}
	// conflict: stronger side wins, confidence is the net.
	if confA >= confB {
		return dirA, confA - confB
	}
	return dirB, confB - confA
}

func gapAligned(direction domain.Direction, gapPercent float64) bool {
	if direction == domain.Bullish {
		return gapPercent > 0
	}
	if direction == domain.Bearish {
		return gapPercent < 0
	}
	return false
}

func regimeMultiplier(r domain.Regime) float64 {
	switch r {
	case domain.RegimeTrending, domain.RegimeVolatileTrending:
		return 1.2
	case domain.RegimeChoppy:
		return 0.5
	case domain.RegimeVolatileChoppy:
		return 0.3
	case domain.RegimeQuiet:
		return 0.4
	default:
		return 1.0
	}
}

func phaseMultiplier(p clock.TimePhase) float64 {
	switch p {
	case clock.PhaseOpening:
		return 1.2
	case clock.PhaseMorning:
		return 1.0
	case clock.PhaseAfternoon:
		return 0.9
	case clock.PhaseClosing:
		return 1.1
	default:
		return 0
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 10 {
		return 10
	}
	return c
}

// ShouldAllowSignal implements spec §4.2's gate: whether a candidate
// signal with the given action and confidence is allowed given the
// current bias.
func ShouldAllowSignal(current domain.MarketBias, action domain.Action, signalConfidence float64) bool {
	if signalConfidence >= 8.5 {
		return true
	}
	if current.Direction == domain.Neutral || current.Confidence < 3.0 {
		return signalConfidence >= 6.5
	}
	if isAligned(current.Direction, action) {
		return signalConfidence >= 5.5
	}
	threshold := math.Min(7.5+current.Confidence, 9.9)
	return signalConfidence >= threshold
}

// PositionSizeMultiplier implements spec §4.2's sizing gate.
func PositionSizeMultiplier(current domain.MarketBias, action domain.Action) float64 {
	if current.Direction == domain.Neutral {
		return 1.0
	}
	if isAligned(current.Direction, action) {
		return 1.0 + 0.5*(current.Confidence/10)
	}
	return 0.7
}

func isAligned(direction domain.Direction, action domain.Action) bool {
	switch {
	case direction == domain.Bullish && action == domain.Buy:
		return true
	case direction == domain.Bearish && action == domain.Sell:
		return true
	default:
		return false
	}
}
