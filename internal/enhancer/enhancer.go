// Package enhancer implements the Signal Enhancer (spec §4.3): a
// per-symbol scoring layer that either confirms an incoming signal with a
// rewritten confidence or drops it outright.
//
// Grounded on aristath-sentinel/internal/market_regime/market_state.go for
// the ring-buffer-of-recent-samples idiom, generalized here to LTP/volume
// history per symbol plus win/loss history per strategy.
package enhancer

import (
	"math"
	"sync"

	"github.com/nsealgo/controller/internal/domain"
)

const (
	ltpHistoryLen      = 50
	outcomeHistoryLen  = 100
	acceptThreshold    = 0.60
	minPerformanceFactor = 0.8
	maxPerformanceFactor = 1.15
)

type sample struct {
	ltp, volume float64
}

type symbolHistory struct {
	samples []sample
}

type strategyOutcomes struct {
	wins, losses int
	totalPnL     float64
}

// Enhancer scores and rewrites incoming signals.
type Enhancer struct {
	mu         sync.Mutex
	bySymbol   map[string]*symbolHistory
	byStrategy map[string]*strategyOutcomes
}

// New builds an empty Enhancer.
func New() *Enhancer {
	return &Enhancer{
		bySymbol:   make(map[string]*symbolHistory),
		byStrategy: make(map[string]*strategyOutcomes),
	}
}

// Observe records a fresh LTP/volume sample for symbol, feeding the
// rolling window used by Enhance. Must be called on every tick, not just
// when a signal arrives, so the window reflects real recent history.
func (e *Enhancer) Observe(symbol string, ltp, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.bySymbol[symbol]
	if h == nil {
		h = &symbolHistory{}
		e.bySymbol[symbol] = h
	}
	h.samples = append(h.samples, sample{ltp: ltp, volume: volume})
	if len(h.samples) > ltpHistoryLen {
		h.samples = h.samples[len(h.samples)-ltpHistoryLen:]
	}
}

// Seed bulk-loads warmup history (spec §4.3: up to 3 days of 5-minute
// candles for the top 50 watched symbols, pulled through the broker's
// historical-data path on startup) so scores are meaningful within
// minutes of process start rather than only after 50 live ticks.
func (e *Enhancer) Seed(symbol string, ltps, volumes []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(ltps)
	if len(volumes) < n {
		n = len(volumes)
	}
	h := &symbolHistory{}
	for i := 0; i < n; i++ {
		h.samples = append(h.samples, sample{ltp: ltps[i], volume: volumes[i]})
	}
	if len(h.samples) > ltpHistoryLen {
		h.samples = h.samples[len(h.samples)-ltpHistoryLen:]
	}
	e.bySymbol[symbol] = h
}

// RecordOutcome feeds position-close results back into the performance
// factor for the owning strategy (spec §4.3 Feedback).
func (e *Enhancer) RecordOutcome(strategy string, realizedPnL float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.byStrategy[strategy]
	if o == nil {
		o = &strategyOutcomes{}
		e.byStrategy[strategy] = o
	}
	if realizedPnL >= 0 {
		o.wins++
	} else {
		o.losses++
	}
	o.totalPnL += realizedPnL
	total := o.wins + o.losses
	if total > outcomeHistoryLen {
		// Decay the oldest implicit weight by scaling counts down,
		// approximating a rolling last-100 window without storing every
		// outcome individually.
		scale := float64(outcomeHistoryLen) / float64(total)
		o.wins = int(float64(o.wins) * scale)
		o.losses = int(float64(o.losses) * scale)
	}
}

func (e *Enhancer) performanceFactor(strategy string) float64 {
	o := e.byStrategy[strategy]
	if o == nil || o.wins+o.losses == 0 {
		return 1.0
	}
	winRate := float64(o.wins) / float64(o.wins+o.losses)
	// Map win-rate [0,1] onto performance factor [0.8, 1.15], centered so
	// a 50% win rate yields a neutral ~0.975.
	factor := minPerformanceFactor + winRate*(maxPerformanceFactor-minPerformanceFactor)
	return math.Max(minPerformanceFactor, math.Min(maxPerformanceFactor, factor))
}

// Result is the outcome of scoring one signal.
type Result struct {
	Accepted         bool
	EnhancementScore float64
	Confluence       float64
	VolumeQuality    float64
	Microstructure   float64
	TimeframeAlign   float64
	RewrittenConfidence float64
}

// Enhance scores sig against its symbol's recent history and either
// returns Accepted with a rewritten confidence or Accepted=false.
func (e *Enhancer) Enhance(sig domain.Signal, q domain.Quote) Result {
	e.mu.Lock()
	h := e.bySymbol[sig.Symbol]
	var samples []sample
	if h != nil {
		samples = append(samples, h.samples...)
	}
	perfFactor := e.performanceFactor(sig.StrategyName)
	e.mu.Unlock()

	confluence := confluenceScore(samples, sig, q)
	volumeQuality := volumeQualityScore(samples, q)
	microstructure := microstructureScore(q)
	timeframe := timeframeAlignScore(samples, sig.Action)

	score := confluence*0.30 + volumeQuality*0.25 + microstructure*0.25 + timeframe*0.20

	res := Result{
		EnhancementScore: score,
		Confluence:       confluence,
		VolumeQuality:    volumeQuality,
		Microstructure:   microstructure,
		TimeframeAlign:   timeframe,
	}

	if score < acceptThreshold {
		return res
	}

	res.Accepted = true
	res.RewrittenConfidence = math.Min(10, sig.Confidence*score*perfFactor)
	return res
}

func confluenceScore(samples []sample, sig domain.Signal, q domain.Quote) float64 {
	if len(samples) < 5 {
		// Fall back to the signal's own confidence mapped into [0.65,0.85].
		c := domain.NormalizeConfidence(sig.Confidence) / 10
		return 0.65 + c*0.20
	}

	recent := samples
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	momentumAlign := momentumAlignment(recent, sig.Action)

	volumeRatio := currentOverMeanRatio(samples, q.Volume, 20)
	volumeScore := 0.0
	if volumeRatio >= 1.5 {
		volumeScore = 1.0
	} else {
		volumeScore = math.Min(volumeRatio/1.5, 1.0)
	}

	structureScore := 0.0
	if sameSign(q.ChangePercent, signedAction(sig.Action)) {
		structureScore = 1.0
	}

	return (momentumAlign + volumeScore + structureScore) / 3
}

func momentumAlignment(recent []sample, action domain.Action) float64 {
	if len(recent) < 2 {
		return 0.5
	}
	upMoves := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].ltp > recent[i-1].ltp {
			upMoves++
		}
	}
	upFraction := float64(upMoves) / float64(len(recent)-1)
	if action == domain.Buy {
		return upFraction
	}
	return 1 - upFraction
}

func volumeQualityScore(samples []sample, q domain.Quote) float64 {
	ratio := currentOverMeanRatio(samples, q.Volume, 20)
	switch {
	case ratio >= 2.0:
		return 1.0
	case ratio >= 1.5:
		return 0.9
	case ratio >= 1.2:
		return 0.8
	case ratio >= 0.8:
		return 0.65
	default:
		return 0.5
	}
}

func microstructureScore(q domain.Quote) float64 {
	if q.LTP <= 0 {
		return 0.5
	}
	spread := (q.High - q.Low) / q.LTP
	switch {
	case spread < 0.01:
		return 1.0
	case spread < 0.02:
		return 0.85
	case spread < 0.04:
		return 0.70
	default:
		return 0.55
	}
}

func timeframeAlignScore(samples []sample, action domain.Action) float64 {
	short := windowReturn(samples, 3)
	medium := windowReturn(samples, 10)
	long := windowReturn(samples, 20)

	signs := []float64{short, medium, long}
	concordant := 0
	for _, s := range signs {
		if sameSign(s, signedAction(action)) {
			concordant++
		}
	}
	return float64(concordant) / float64(len(signs))
}

func windowReturn(samples []sample, n int) float64 {
	if len(samples) < 2 {
		return 0
	}
	use := samples
	if len(use) > n {
		use = use[len(use)-n:]
	}
	if len(use) < 2 {
		return 0
	}
	first := use[0].ltp
	last := use[len(use)-1].ltp
	if first == 0 {
		return 0
	}
	return (last - first) / first
}

func currentOverMeanRatio(samples []sample, current float64, window int) float64 {
	if len(samples) == 0 {
		return 1.0
	}
	use := samples
	if len(use) > window {
		use = use[len(use)-window:]
	}
	var sum float64
	for _, s := range use {
		sum += s.volume
	}
	mean := sum / float64(len(use))
	if mean == 0 {
		return 1.0
	}
	return current / mean
}

func signedAction(a domain.Action) float64 {
	if a == domain.Buy {
		return 1
	}
	return -1
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	return (a > 0) == (b > 0)
}
