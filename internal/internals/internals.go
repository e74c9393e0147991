// Package internals implements the Market Internals Analyzer (spec §4.1):
// given the full quote snapshot, compute breadth, volume, volatility,
// regime, and composite bullish/bearish/neutral scores.
//
// Grounded on the teacher's market_regime.MarketStateDetector for the
// shape of a stateful, mutex-protected analyzer queried once per tick
// batch, and on original_source/src/core/market_internals.py for the
// concrete weighting and regime-priority rules the distilled spec
// compresses into prose.
package internals

import (
	"math"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/rs/zerolog"
)

// Breadth holds advance/decline style metrics.
type Breadth struct {
	AdvanceDeclineRatio float64
	CumulativeADLine    float64
	PercentAboveVWAP    float64
	NewHighsMinusLows   int
}

// Volume holds volume-profile metrics.
type Volume struct {
	UpVolumeRatio        float64
	VolumeBreadth        float64
	InstitutionalFlow    float64
}

// Volatility holds dispersion metrics.
type Volatility struct {
	AverageIntradayRange float64
	IndiaVIX             float64
	IndiaVIXChange       float64
	RealizedVol          float64
}

// Snapshot is the full set of internals computed from one tick batch.
type Snapshot struct {
	Breadth       Breadth
	Volume        Volume
	Volatility    Volatility
	Regime        domain.Regime
	Choppiness    float64
	Bullish       float64
	Bearish       float64
	NeutralScore  float64
}

// neutralSnapshot is returned whenever a subcomputation fails — internals
// never propagate an error (spec §4.1 Failure policy).
func neutralSnapshot() Snapshot {
	return Snapshot{
		Regime:       domain.RegimeNormal,
		Bullish:      100.0 / 3,
		Bearish:      100.0 / 3,
		NeutralScore: 100.0 / 3,
	}
}

// Analyzer computes Snapshots. It is stateless in configuration but holds
// a rolling A/D-line accumulator, matching the teacher's cached-state
// style (internal mutex owned by the caller's single-writer discipline —
// Compute is intended to be called from one goroutine per tick batch).
type Analyzer struct {
	log zerolog.Logger

	cumulativeAD float64
}

// NewAnalyzer builds an Analyzer.
func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{log: log.With().Str("component", "market_internals").Logger()}
}

// Candle is one distinct historical candle for choppiness, such as a bar
// from the broker's 5-minute history endpoint. Callers pass a slice of
// them to Compute, so the analyzer never depends on internal/broker
// directly (keeps this package leaf-like and independently testable).
type Candle struct {
	High, Low, Close float64
}

// Compute derives a Snapshot from the full quote snapshot, the NIFTY
// index quote, the India VIX level/change, and up to 14 distinct 5-minute
// NIFTY candles for the choppiness index (nil/short slice triggers the
// range-based fallback — never repeated same-day OHLC, per Design Note
// §9).
func (a *Analyzer) Compute(quotes []domain.Quote, nifty domain.Quote, vix, vixChange float64, candles []Candle) (snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("internals computation panicked, using neutral defaults")
			snap = neutralSnapshot()
		}
	}()

	if len(quotes) == 0 {
		return neutralSnapshot()
	}

	breadth := computeBreadth(quotes, &a.cumulativeAD)
	volume := computeVolume(quotes)
	volatility := computeVolatility(quotes, vix, vixChange)
	choppiness := computeChoppiness(candles, nifty.ChangePercent)
	trendStrength := computeTrendStrength(breadth, volume)

	regime := classifyRegime(nifty.ChangePercent, breadth.AdvanceDeclineRatio, vix, choppiness, trendStrength, volatility.AverageIntradayRange)

	bullish, bearish, neutral := compositeScores(breadth, volume, volatility, regime, vix)

	return Snapshot{
		Breadth:      breadth,
		Volume:       volume,
		Volatility:   volatility,
		Regime:       regime,
		Choppiness:   choppiness,
		Bullish:      bullish,
		Bearish:      bearish,
		NeutralScore: neutral,
	}
}

func computeBreadth(quotes []domain.Quote, cumulativeAD *float64) Breadth {
	var advancing, declining, aboveVWAP, nearHigh, nearLow int
	for _, q := range quotes {
		if math.Abs(q.ChangePercent) <= 0.1 {
			continue
		}
		if q.ChangePercent > 0 {
			advancing++
		} else {
			declining++
		}
		if q.VWAP > 0 && q.LTP > q.VWAP {
			aboveVWAP++
		}
		// year_high/low proxy: within 2% of the day's high/low, since the
		// snapshot carries only intraday OHLC.
		if q.High > 0 && q.LTP >= q.High*0.98 {
			nearHigh++
		}
		if q.Low > 0 && q.LTP <= q.Low*1.02 {
			nearLow++
		}
	}

	ratio := 1.0
	if declining > 0 {
		ratio = float64(advancing) / float64(declining)
	} else if advancing > 0 {
		ratio = float64(advancing) // no decliners: treat as strongly positive
	}

	*cumulativeAD += float64(advancing - declining)

	pctAboveVWAP := 0.0
	if len(quotes) > 0 {
		pctAboveVWAP = float64(aboveVWAP) / float64(len(quotes)) * 100
	}

	return Breadth{
		AdvanceDeclineRatio: ratio,
		CumulativeADLine:    *cumulativeAD,
		PercentAboveVWAP:    pctAboveVWAP,
		NewHighsMinusLows:   nearHigh - nearLow,
	}
}

func computeVolume(quotes []domain.Quote) Volume {
	var upVolume, totalVolume, downVolume float64
	for _, q := range quotes {
		if q.ChangePercent > 0 {
			upVolume += q.Volume
		} else if q.ChangePercent < 0 {
			downVolume += q.Volume
		}
		totalVolume += q.Volume
	}
	upRatio := 0.5
	if totalVolume > 0 {
		upRatio = upVolume / totalVolume
	}
	return Volume{
		UpVolumeRatio:     upRatio,
		VolumeBreadth:     upVolume - downVolume,
		InstitutionalFlow: upVolume - downVolume, // proxy: no separate block-trade feed available
	}
}

func computeVolatility(quotes []domain.Quote, vix, vixChange float64) Volatility {
	var sumRange float64
	n := 0
	for _, q := range quotes {
		if q.LTP <= 0 {
			continue
		}
		sumRange += (q.High - q.Low) / q.LTP
		n++
	}
	avgRange := 0.0
	if n > 0 {
		avgRange = sumRange / float64(n) * 100
	}
	return Volatility{
		AverageIntradayRange: avgRange,
		IndiaVIX:             vix,
		IndiaVIXChange:       vixChange,
		RealizedVol:          avgRange, // breadth-series realized vol proxy
	}
}

// computeChoppiness implements 100*log10(sum(TR)/(HH-LL))/log10(N) over N
// distinct candles; falls back to a range-based heuristic derived from
// the current intraday |change| when fewer than 2 distinct candles are
// available (never repeats same-day OHLC — Design Note §9).
func computeChoppiness(candles []Candle, intradayChangePercent float64) float64 {
	const n = 14
	if len(candles) < 2 {
		// Range-based heuristic: large |change| implies trendiness (low
		// choppiness), small |change| implies range-bound (high
		// choppiness).
		absChange := math.Abs(intradayChangePercent)
		if absChange >= 1.0 {
			return 40.0
		}
		return 70.0
	}

	use := candles
	if len(use) > n {
		use = use[len(use)-n:]
	}

	var sumTR, hh, ll float64
	hh = use[0].High
	ll = use[0].Low
	prevClose := use[0].Close
	for i, c := range use {
		if c.High > hh {
			hh = c.High
		}
		if c.Low < ll {
			ll = c.Low
		}
		if i == 0 {
			continue
		}
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		sumTR += tr
		prevClose = c.Close
	}

	rangeSpan := hh - ll
	if rangeSpan <= 0 || sumTR <= 0 {
		return 70.0
	}
	count := float64(len(use))
	ci := 100 * math.Log10(sumTR/rangeSpan) / math.Log10(count)
	if math.IsNaN(ci) || math.IsInf(ci, 0) {
		return 70.0
	}
	return ci
}

func computeTrendStrength(b Breadth, v Volume) float64 {
	// Blend A/D ratio deviation from 1.0 with up-volume-ratio deviation
	// from 0.5, both scaled into a 0-100 "trend strength" score.
	adScore := math.Min(math.Abs(b.AdvanceDeclineRatio-1.0)*40, 50)
	volScore := math.Min(math.Abs(v.UpVolumeRatio-0.5)*100, 50)
	return adScore + volScore
}

// classifyRegime implements the priority-ordered regime decision tree
// (spec §4.1).
func classifyRegime(niftyChangePercent, adRatio, vix, choppiness, trendStrength, avgIntradayRange float64) domain.Regime {
	absMove := math.Abs(niftyChangePercent)

	if absMove >= 0.5 && (adRatio > 1.2 || adRatio < 0.8) {
		if vix > 25 {
			return domain.RegimeVolatileTrending
		}
		return domain.RegimeTrending
	}
	if choppiness > 61.8 && absMove < 0.5 {
		if vix > 20 {
			return domain.RegimeVolatileChoppy
		}
		return domain.RegimeChoppy
	}
	if trendStrength > 60 {
		return domain.RegimeTrending
	}
	if avgIntradayRange < 0.5 {
		return domain.RegimeQuiet
	}
	return domain.RegimeNormal
}

// compositeScores blends breadth/volume/volatility/regime/sector-rotation
// into Bullish/Bearish/Neutral scores summing to 100 (spec §4.1). Sector
// rotation is not modeled here (no sector taxonomy in the quote
// snapshot): its sub-score is fixed at 0, so its 5% weight adds nothing
// to the composite.
func compositeScores(b Breadth, v Volume, vol Volatility, regime domain.Regime, vix float64) (bullish, bearish, neutral float64) {
	// Each sub-score in [-1,1]: positive leans bullish.
	breadthScore := clamp(math.Log10(math.Max(b.AdvanceDeclineRatio, 0.01)), -1, 1)
	volumeScore := clamp((v.UpVolumeRatio-0.5)*2, -1, 1)
	volatilityScore := clamp(-vol.IndiaVIXChange/5, -1, 1) // rising VIX decays bullish
	regimeScore := regimeDirectionalLean(regime)
	sectorScore := 0.0 // no sector feed in this snapshot contract

	composite := breadthScore*0.35 + volumeScore*0.25 + volatilityScore*0.20 + regimeScore*0.15 + sectorScore*0.05

	if vix > 25 {
		composite -= 0.1 // high VIX decays bullish, spec §4.1
	}

	bullishRaw := 50 + composite*50
	bullishRaw = clamp(bullishRaw, 0, 100)
	bearishRaw := 100 - bullishRaw
	// Split the non-bullish mass between bearish and neutral based on
	// how decisively the composite leans.
	decisiveness := math.Abs(composite)
	bearishShare := bearishRaw * (0.4 + 0.3*decisiveness)
	neutralShare := bearishRaw - bearishShare

	total := bullishRaw + bearishShare + neutralShare
	if total == 0 {
		return 100.0 / 3, 100.0 / 3, 100.0 / 3
	}
	scale := 100 / total
	return bullishRaw * scale, bearishShare * scale, neutralShare * scale
}

func regimeDirectionalLean(r domain.Regime) float64 {
	switch r {
	case domain.RegimeTrending, domain.RegimeVolatileTrending:
		return 0.3
	case domain.RegimeChoppy, domain.RegimeVolatileChoppy:
		return -0.1
	case domain.RegimeQuiet:
		return 0
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
