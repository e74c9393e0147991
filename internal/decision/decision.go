// Package decision implements the Position-Opening Decision (spec §4.5):
// the seven-step sequential validator that turns an enhanced, deduplicated
// signal into an approved order sizing or a typed rejection.
//
// Grounded on aristath-sentinel/internal/modules/trading/safety_service.go's
// TradeSafetyService for the "first failing check wins, never keep
// evaluating" sequential-validator shape this package reuses verbatim,
// generalized from safety layers to the spec's seven named steps.
package decision

import (
	"math"
	"time"

	"github.com/nsealgo/controller/internal/bias"
	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/risk"
)

const (
	maxPositionRiskPct     = 0.02 // 2% of capital
	niftySanityCapPct      = 25.0
	finalConfidenceMinimum = 7.0
)

// PositionLookup reports the open position for symbol, if any — injected
// so this package does not import internal/positions directly.
type PositionLookup func(symbol string) (domain.Position, bool)

// CapitalLookup returns (available capital, total capital).
type CapitalLookup func() (available, total float64)

// Validator runs the seven-step sequential check.
type Validator struct {
	Bias            *bias.Engine
	Risk            *risk.Manager
	PositionExists  PositionLookup
	Capital         CapitalLookup
	ExistingPositions func() []risk.PositionSnapshot
}

// Evaluate runs the full pipeline against sig, given the current NIFTY
// intraday change percent.
func (v *Validator) Evaluate(now time.Time, sig domain.Signal, niftyChangePercent float64) domain.Decision {
	// Step 1: basic validation.
	if sig.Symbol == "" || sig.Action == "" || sig.EntryPrice <= 0 {
		return domain.Rejected(domain.ReasonConfidence, "missing required signal fields")
	}
	confidence := domain.NormalizeConfidence(sig.Confidence)
	if confidence <= 0 || confidence > 10 {
		return domain.Rejected(domain.ReasonConfidence, "confidence out of range (0,10]")
	}

	// Step 2: timing.
	if !clock.IsEntryWindow(now) {
		return domain.Rejected(domain.ReasonTiming, "outside entry window (09:15-15:00 IST weekdays)")
	}

	// Step 3: duplicate.
	if v.PositionExists != nil {
		if _, exists := v.PositionExists(sig.Symbol); exists {
			return domain.Rejected(domain.ReasonDuplicate, "position already open for symbol")
		}
	}

	// Step 4: bias alignment.
	currentBias := v.Bias.Current()
	if !bias.ShouldAllowSignal(currentBias, sig.Action, confidence) {
		return domain.Rejected(domain.ReasonBias, "signal confidence insufficient against current market bias")
	}

	// Step 5: risk/capital.
	available, total := 0.0, 0.0
	if v.Capital != nil {
		available, total = v.Capital()
	}
	quantity := sig.Quantity
	if quantity <= 0 {
		quantity = estimateQuantityFromCapitalRule(total, sig.EntryPrice)
	}
	// requiredMargin is the full notional — it's what ValidateTradeRisk
	// expects as positionValue (it applies EquityMarginFraction itself).
	// The capital-sufficiency check below needs the actual cash required,
	// which for equities is only the 25% intraday margin, not full notional.
	requiredMargin := quantity * sig.EntryPrice
	requiredCapital := requiredMargin
	if !domain.IsOption(sig.Symbol) {
		requiredCapital = requiredMargin * v.Risk.Limits().EquityMarginFraction
	}
	if requiredCapital > available {
		return domain.Rejected(domain.ReasonCapital, "available capital below required margin")
	}
	singlePositionCap := maxPositionRiskPct * total
	estimatedLoss := quantity * math.Abs(sig.EntryPrice-sig.StopLoss)
	if sig.StopLoss > 0 && estimatedLoss > singlePositionCap {
		return domain.Rejected(domain.ReasonRisk, "estimated single-position loss exceeds max_position_risk")
	}

	var existing []risk.PositionSnapshot
	if v.ExistingPositions != nil {
		existing = v.ExistingPositions()
	}
	riskDec := v.Risk.ValidateTradeRisk(sig.Symbol, requiredMargin, total, existing, quantity)
	if !riskDec.Approved {
		return domain.Rejected(domain.ReasonRisk, "risk manager rejected: "+string(riskDec.Reason))
	}
	quantity = riskDec.AdjustedQuantity

	// Step 6: market conditions sanity cap.
	if math.Abs(niftyChangePercent) > niftySanityCapPct {
		return domain.Rejected(domain.ReasonMarketConditions, "NIFTY intraday change exceeds sanity cap")
	}

	// Step 7: final confidence.
	finalConfidence := confidence
	if currentBias.Direction != domain.Neutral && currentBias.Confidence >= 7.0 {
		finalConfidence += 0.5
	}
	if math.Abs(niftyChangePercent) > 1.0 {
		finalConfidence += 0.3
	}
	finalConfidence = math.Min(finalConfidence, 10.0)
	if finalConfidence < finalConfidenceMinimum {
		return domain.Rejected(domain.ReasonConfidence, "final confidence below minimum threshold")
	}

	riskScore := estimatedLoss
	if total > 0 {
		riskScore = estimatedLoss / total
	}

	return domain.Approve(quantity, riskScore, finalConfidence,
		"approved: all seven validation steps passed")
}

// estimateQuantityFromCapitalRule implements the 2%-of-capital quantity
// estimate used when a signal does not specify its own quantity.
func estimateQuantityFromCapitalRule(totalCapital, entryPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	riskCapital := totalCapital * maxPositionRiskPct
	qty := math.Floor(riskCapital / entryPrice)
	return math.Max(qty, 1)
}
