// Package risk implements the Risk Manager (spec §4.6): per-trade
// validation, trading-hours enforcement, and the periodic portfolio-risk
// monitor that can trip an emergency stop.
//
// Grounded on aristath-sentinel/internal/modules/trading/safety_service.go
// for the HARD/SOFT fail-safe taxonomy and fail-closed-on-panic discipline,
// and on internal/modules/optimization/risk.go for portfolio-math idiom —
// gonum.org/v1/gonum/stat.Correlation for pairwise correlation and
// gonum.org/v1/gonum/stat.Quantile for historical-simulation VaR, the same
// library the teacher already depends on for its own covariance-matrix
// builder.
package risk

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Limits holds the configurable caps spec §4.6 names.
type Limits struct {
	DailyLossCapPct        float64 // default 0.02
	DrawdownCapPct         float64 // default 0.05
	ConcentrationCapPct    float64 // default 0.95
	SinglePositionLossCapPct float64 // default 0.03 (equity), multiplied by 34 per spec
	SinglePositionMultiplier float64 // default 34 (Design Note)
	CorrelationCap         float64 // default 0.7
	VaRCapPct              float64 // default 0.03
	EquityMarginFraction   float64 // default 0.25 (25% of contract notional)
	KellyFraction          float64 // default 0.25
}

// DefaultLimits returns the spec's default configuration.
func DefaultLimits() Limits {
	return Limits{
		DailyLossCapPct:          0.02,
		DrawdownCapPct:           0.05,
		ConcentrationCapPct:      0.95,
		SinglePositionLossCapPct: 0.03,
		SinglePositionMultiplier: 34,
		CorrelationCap:           0.7,
		VaRCapPct:                0.03,
		EquityMarginFraction:     0.25,
		KellyFraction:            0.25,
	}
}

// Reason enumerates why ValidateTradeRisk rejected a trade.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonEmergencyStop     Reason = "EMERGENCY_STOP"
	ReasonOutsideTradingHours Reason = "OUTSIDE_TRADING_HOURS"
	ReasonDailyLossCap      Reason = "DAILY_LOSS_CAP"
	ReasonDrawdownCap       Reason = "DRAWDOWN_CAP"
	ReasonSinglePositionLoss Reason = "SINGLE_POSITION_LOSS_CAP"
	ReasonCorrelationCap    Reason = "CORRELATION_CAP"
	ReasonVaRCap            Reason = "VAR_CAP"
	ReasonConcentrationCap  Reason = "CONCENTRATION_CAP"
	ReasonInternalError     Reason = "INTERNAL_ERROR"
)

// Decision is the result of ValidateTradeRisk.
type Decision struct {
	Approved        bool
	Reason          Reason
	AdjustedQuantity float64 // set when concentration-shrink adjusted the requested quantity
}

// Manager tracks running risk state and validates trades against it.
// Stateless in inputs (every call takes fresh data), stateful in the
// tracked fields spec §4.6 names.
type Manager struct {
	limits Limits

	mu                    sync.RWMutex
	dailyRealizedPnL      float64
	peakCapital           float64
	currentDrawdown       float64
	portfolioVaR          float64
	emergencyStopTriggered bool
	alerts                []string
	breaches              []string
}

// NewManager builds a Manager with the given limits and starting capital
// (used to seed peak_capital).
func NewManager(limits Limits, startingCapital float64) *Manager {
	return &Manager{limits: limits, peakCapital: startingCapital}
}

// Limits returns the configured limit set, so callers outside this
// package (e.g. internal/decision's capital-sufficiency check) can stay
// consistent with the same margin/cap fractions the Risk Manager itself
// enforces instead of hard-coding a second copy.
func (m *Manager) Limits() Limits {
	return m.limits
}

// EmergencyStopTriggered reports the current emergency-stop latch.
func (m *Manager) EmergencyStopTriggered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyStopTriggered
}

// ClearEmergencyStop resets the latch — operator-only action (spec §6
// override_loss_limit), logged as CRITICAL by the caller.
func (m *Manager) ClearEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStopTriggered = false
}

// CurrentDrawdown reports the most recent drawdown-from-peak fraction
// computed by MonitorPortfolioRisk, for status reporting.
func (m *Manager) CurrentDrawdown() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentDrawdown
}

// PositionSnapshot is the minimal view ValidateTradeRisk/MonitorPortfolioRisk
// need of the open book, supplied by the caller (internal/positions) so
// this package has no import-time dependency on the position tracker.
type PositionSnapshot struct {
	Symbol         string
	Value          float64 // current notional exposure
	UnrealizedPnL  float64
	DailyReturns   []float64 // recent daily returns, oldest first, for VaR/correlation
}

// ValidateTradeRisk implements spec §4.6's validate_trade_risk.
func (m *Manager) ValidateTradeRisk(symbol string, positionValue, totalCapital float64, existing []PositionSnapshot, candidateQuantity float64) (dec Decision) {
	defer func() {
		if r := recover(); r != nil {
			dec = Decision{Approved: false, Reason: ReasonInternalError}
		}
	}()

	if m.EmergencyStopTriggered() {
		return Decision{Approved: false, Reason: ReasonEmergencyStop}
	}

	if domain.IsOption(symbol) {
		// Options bypass the position-size cap entirely; only emergency
		// stop and trading hours gate them (hours checked by the caller
		// via ValidateTradingHours).
		return Decision{Approved: true, AdjustedQuantity: candidateQuantity}
	}

	marginValue := positionValue * m.limits.EquityMarginFraction

	m.mu.RLock()
	dailyPnL := m.dailyRealizedPnL
	drawdown := m.currentDrawdown
	var_ := m.portfolioVaR
	m.mu.RUnlock()

	if totalCapital > 0 && -dailyPnL/totalCapital > m.limits.DailyLossCapPct {
		return Decision{Approved: false, Reason: ReasonDailyLossCap}
	}
	if drawdown > m.limits.DrawdownCapPct {
		return Decision{Approved: false, Reason: ReasonDrawdownCap}
	}

	singlePositionCap := m.limits.SinglePositionLossCapPct * m.limits.SinglePositionMultiplier * totalCapital
	if marginValue > singlePositionCap {
		return Decision{Approved: false, Reason: ReasonSinglePositionLoss}
	}

	if maxCorr := maxCorrelation(symbol, existing); maxCorr > m.limits.CorrelationCap {
		return Decision{Approved: false, Reason: ReasonCorrelationCap}
	}

	if var_ > m.limits.VaRCapPct*totalCapital {
		return Decision{Approved: false, Reason: ReasonVaRCap}
	}

	// Concentration shrink: fit candidateQuantity to the per-symbol cap
	// instead of rejecting outright.
	existingExposure := 0.0
	for _, p := range existing {
		if p.Symbol == symbol {
			existingExposure += p.Value
		}
	}
	maxExposure := m.limits.ConcentrationCapPct * totalCapital
	if totalCapital > 0 && existingExposure+marginValue > maxExposure {
		remaining := maxExposure - existingExposure
		if remaining <= 0 {
			return Decision{Approved: false, Reason: ReasonConcentrationCap} // no room at all
		}
		perUnitMargin := marginValue / math.Max(candidateQuantity, 1)
		fitted := math.Floor(remaining / math.Max(perUnitMargin, 1e-9))
		fitted = math.Max(1, math.Min(fitted, candidateQuantity))
		return Decision{Approved: true, AdjustedQuantity: fitted}
	}

	return Decision{Approved: true, AdjustedQuantity: candidateQuantity}
}

// OrderHoursContext carries the tags ValidateTradingHours consults to
// decide whether an order bypasses the entry cutoff.
type OrderHoursContext struct {
	ManagementAction bool
	ClosingAction    bool
	Strategy         string
	IsExit           bool
}

func (c OrderHoursContext) bypassesRestrictions() bool {
	return c.ManagementAction || c.ClosingAction || c.Strategy == "position_monitor"
}

// ValidateTradingHours implements spec §4.6's validate_trading_hours.
// Fails closed (rejects) on any ambiguous state. It writes no log: the
// Manager holds no logger, so a rejection reaches the caller only as the
// returned Reason.
func (m *Manager) ValidateTradingHours(now time.Time, ctxInfo OrderHoursContext) (bool, Reason) {
	if ctxInfo.bypassesRestrictions() {
		return true, ReasonNone
	}

	if !clock.IsWithinTradingHours(now) {
		return false, ReasonOutsideTradingHours
	}

	if clock.PastMandatoryClose(now) {
		// No entries at all past 15:20, exits always allowed.
		if ctxInfo.IsExit {
			return true, ReasonNone
		}
		return false, ReasonOutsideTradingHours
	}

	if clock.PastEntryCutoff(now) {
		// Past 15:00: only exits.
		if ctxInfo.IsExit {
			return true, ReasonNone
		}
		return false, ReasonOutsideTradingHours
	}

	return true, ReasonNone
}

// maxCorrelation returns the highest pairwise return-correlation between
// the candidate symbol's own return series (if present among existing,
// used as a same-symbol proxy) and every other existing position's
// return series, using gonum's Pearson correlation. Symbols lacking
// enough return history are skipped — correlation is a soft check, not a
// blocker when data is thin.
func maxCorrelation(symbol string, existing []PositionSnapshot) float64 {
	var target []float64
	for _, p := range existing {
		if p.Symbol == symbol {
			target = p.DailyReturns
			break
		}
	}
	if len(target) < 2 {
		return 0
	}

	max := 0.0
	for _, p := range existing {
		if p.Symbol == symbol || len(p.DailyReturns) < 2 {
			continue
		}
		n := len(target)
		if len(p.DailyReturns) < n {
			n = len(p.DailyReturns)
		}
		corr := stat.Correlation(target[:n], p.DailyReturns[:n], nil)
		if math.IsNaN(corr) {
			continue
		}
		if math.Abs(corr) > max {
			max = math.Abs(corr)
		}
	}
	return max
}

// HistoricalVaR computes the portfolio Value-at-Risk via historical
// simulation: the (1-confidence) percentile loss across a rolling window
// of portfolio daily P&L samples (oldest first). Resolves Open Question
// #1, grounded on original_source/src/core/risk_manager.py's
// ValueAtRiskCalculator.calculate_portfolio_var (numpy percentile method),
// reimplemented with gonum/stat.Quantile.
func HistoricalVaR(dailyPnLSamples []float64, confidence float64) float64 {
	if len(dailyPnLSamples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), dailyPnLSamples...)
	sort.Float64s(sorted)
	percentile := 1 - confidence
	loss := -stat.Quantile(percentile, stat.Empirical, sorted, nil)
	return math.Max(loss, 0)
}

// MonitorPortfolioRisk implements spec §4.6's periodic monitor_portfolio_risk:
// recomputes drawdown and daily P&L, recomputes VaR, and on breach of the
// daily-loss or drawdown caps, latches the emergency stop. onBreach is
// called (outside the lock) when the latch newly trips, so the caller can
// publish risk.emergency_stop without this package depending on
// internal/events.
func (m *Manager) MonitorPortfolioRisk(currentCapital float64, realizedPnL float64, unrealizedPnL float64, dailyPnLSamples []float64, onBreach func(reason string)) {
	m.mu.Lock()

	m.dailyRealizedPnL = realizedPnL
	totalPnL := realizedPnL + unrealizedPnL

	if currentCapital > m.peakCapital {
		m.peakCapital = currentCapital
	}
	if m.peakCapital > 0 {
		m.currentDrawdown = math.Max(0, (m.peakCapital-currentCapital)/m.peakCapital)
	}

	m.portfolioVaR = HistoricalVaR(dailyPnLSamples, 0.95)

	breached := ""
	if m.peakCapital > 0 && -totalPnL/m.peakCapital > m.limits.DailyLossCapPct {
		breached = "daily_loss_cap"
	} else if m.currentDrawdown > m.limits.DrawdownCapPct {
		breached = "drawdown_cap"
	}

	newlyTripped := false
	if breached != "" && !m.emergencyStopTriggered {
		m.emergencyStopTriggered = true
		m.breaches = append(m.breaches, breached)
		newlyTripped = true
	}
	m.mu.Unlock()

	if newlyTripped && onBreach != nil {
		onBreach(breached)
	}
}

// KellySize implements the Kelly-criterion secondary sizing input (Design
// Note §9), grounded on original_source/src/core/risk_manager.py's
// calculate_kelly: conservative quarter-Kelly, falling back to 1% of
// capital when avg_loss is zero (undefined edge ratio).
func (m *Manager) KellySize(capital, winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 {
		return capital * 0.01
	}
	edge := avgWin / avgLoss
	kelly := winRate - (1-winRate)/edge
	kelly = math.Max(0, kelly) * m.limits.KellyFraction
	return capital * kelly
}
