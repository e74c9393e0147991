package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nsealgo/controller/internal/dedup"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/enhancer"
	"github.com/nsealgo/controller/internal/positions"
	"github.com/nsealgo/controller/internal/risk"
	"github.com/nsealgo/controller/internal/store"
	"github.com/rs/zerolog"
)

// QuoteFunc returns the latest traded price for symbol, or ok=false if
// unavailable this tick (the monitor skips refreshing that position rather
// than writing a stale/zero price).
type QuoteFunc func(symbol string) (price float64, ok bool)

// OptionsPriceFunc batches an options-chain price lookup for efficiency —
// grounded on spec §4.8's "refresh options prices via a batched broker
// call" rather than one RPC per open options position.
type OptionsPriceFunc func(ctx context.Context, symbols []string) map[string]float64

// ExitSubmitter places the exit order through the Order Manager. qty is
// the quantity to exit (may be a partial of the position). A returned
// error is logged; the Runner updates the Tracker (full close or partial
// reduction) after every submission, whether or not it failed.
type ExitSubmitter func(ctx context.Context, p domain.Position, qty float64, reason string) error

// Runner wires together the Position Tracker, Risk Manager, and exit
// plumbing into the §4.8 per-iteration pipeline. Every collaborator is
// injected so this package never imports the order/broker packages
// directly.
type Runner struct {
	log zerolog.Logger

	tracker *positions.Tracker
	risk    *risk.Manager

	equityQuote   QuoteFunc
	optionsPrices OptionsPriceFunc
	submitExit    ExitSubmitter

	dedup    *dedup.Deduplicator
	ledger   *store.Ledger
	enhancer *enhancer.Enhancer

	mu     sync.Mutex
	trails map[string]TrailState
}

// NewRunner builds a Runner. ledger, dedup, and enhancer may be nil in
// tests that only care about the exit-evaluation path.
func NewRunner(log zerolog.Logger, tracker *positions.Tracker, riskMgr *risk.Manager,
	equityQuote QuoteFunc, optionsPrices OptionsPriceFunc, submitExit ExitSubmitter,
	dd *dedup.Deduplicator, ledger *store.Ledger, enh *enhancer.Enhancer) *Runner {
	return &Runner{
		log:           log.With().Str("component", "position_monitor").Logger(),
		tracker:       tracker,
		risk:          riskMgr,
		equityQuote:   equityQuote,
		optionsPrices: optionsPrices,
		submitExit:    submitExit,
		dedup:         dd,
		ledger:        ledger,
		enhancer:      enh,
		trails:        make(map[string]TrailState),
	}
}

// RunOnce executes one full pipeline pass: steps a-f of spec §4.8.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) {
	snapshot := r.tracker.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	r.refreshPrices(ctx, snapshot)

	emergencyStop := false
	if r.risk != nil {
		emergencyStop = r.risk.EmergencyStopTriggered()
	}

	var matches []domain.ExitCondition
	symbolOfMatch := map[string]domain.ExitCondition{}
	for symbol := range snapshot {
		pos, ok := r.tracker.Get(symbol)
		if !ok {
			continue
		}

		if newSL, changed := RatchetStopLoss(pos); changed {
			pos, ok = r.tracker.Mutate(symbol, func(p *domain.Position) { p.StopLoss = newSL })
			if !ok {
				continue
			}
		}

		r.mu.Lock()
		trail := r.trails[symbol]
		r.mu.Unlock()

		cond, newTrail, matched := EvaluateExit(EvalInput{
			Now:           now,
			Position:      pos,
			EmergencyStop: emergencyStop,
			Trail:         trail,
		})

		r.mu.Lock()
		r.trails[symbol] = newTrail
		r.mu.Unlock()

		if matched {
			matches = append(matches, cond)
			symbolOfMatch[symbol] = cond
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Priority < matches[j].Priority })

	for _, cond := range matches {
		r.executeExit(ctx, now, cond)
	}
}

func (r *Runner) refreshPrices(ctx context.Context, snapshot map[string]domain.Position) {
	var optionSymbols []string
	for symbol, pos := range snapshot {
		if pos.IsOption() {
			optionSymbols = append(optionSymbols, symbol)
			continue
		}
		if r.equityQuote == nil {
			continue
		}
		if price, ok := r.equityQuote(symbol); ok {
			r.tracker.UpdatePrice(symbol, price)
		}
	}

	if len(optionSymbols) == 0 || r.optionsPrices == nil {
		return
	}
	prices := r.optionsPrices(ctx, optionSymbols)
	for symbol, price := range prices {
		if price > 0 {
			r.tracker.UpdatePrice(symbol, price)
		}
	}
}

// executeExit carries out one exit condition: quantity-sanity check,
// options-never-partial-exit rule, order submission, the Tracker update
// (made whether or not submission failed), and post-exit side effects.
func (r *Runner) executeExit(ctx context.Context, now time.Time, cond domain.ExitCondition) {
	pos, ok := r.tracker.Get(cond.Symbol)
	if !ok {
		return // already closed by a higher-priority condition this pass
	}

	exitQty := pos.Quantity
	isPartial := cond.PartialQuantity > 0 && cond.PartialQuantity < pos.Quantity && !pos.IsOption()
	if isPartial {
		exitQty = cond.PartialQuantity
	}
	if exitQty <= 0 || exitQty > pos.Quantity {
		r.log.Warn().Str("symbol", cond.Symbol).Float64("qty", exitQty).Msg("exit quantity failed sanity check, skipping")
		return
	}

	if err := r.submitExitOrder(ctx, pos, exitQty, cond.Reason); err != nil {
		r.log.Error().Err(err).Str("symbol", cond.Symbol).Msg("order manager exit submission failed, closing directly in tracker")
	}

	if isPartial {
		r.applyPartialExit(cond.Symbol, pos, exitQty)
		return
	}

	r.closePosition(ctx, now, cond, pos)
}

func (r *Runner) submitExitOrder(ctx context.Context, pos domain.Position, qty float64, reason string) error {
	if r.submitExit == nil {
		return nil
	}
	return r.submitExit(ctx, pos, qty, reason)
}

// applyPartialExit books 50% of the realized move and tightens the stop
// loss to entry + 30% of the favorable move, per spec §4.8's
// target-with-partial-booking condition.
func (r *Runner) applyPartialExit(symbol string, pos domain.Position, exitQty float64) {
	diff := pos.CurrentPrice - pos.AveragePrice
	if pos.Side == domain.Short {
		diff = -diff
	}
	realized := diff * exitQty

	r.tracker.Mutate(symbol, func(p *domain.Position) {
		p.Quantity -= exitQty
		p.RealizedPnL += realized
		p.PartialProfitBooked = true
		move := p.CurrentPrice - p.AveragePrice
		if p.Side == domain.Short {
			p.StopLoss = p.AveragePrice - partialBookingTightenPct*(-move)
		} else {
			p.StopLoss = p.AveragePrice + partialBookingTightenPct*move
		}
	})

	if r.enhancer != nil {
		r.enhancer.RecordOutcome(pos.Strategy, realized)
	}
}

func (r *Runner) closePosition(ctx context.Context, now time.Time, cond domain.ExitCondition, pos domain.Position) {
	final, ok := r.tracker.Close(cond.Symbol, pos.CurrentPrice, now)
	if !ok {
		return
	}

	if r.dedup != nil {
		if err := r.dedup.OnExit(ctx, now, cond.Symbol); err != nil {
			r.log.Error().Err(err).Str("symbol", cond.Symbol).Msg("failed to start post-exit cooldown")
		}
	}

	r.mu.Lock()
	delete(r.trails, cond.Symbol)
	r.mu.Unlock()

	if r.ledger != nil {
		trade := store.ClosedTrade{
			TradeID:    uuid.New().String(),
			Symbol:     final.Symbol,
			Side:       string(final.Side),
			EntryPrice: final.AveragePrice,
			ExitPrice:  final.CurrentPrice,
			Qty:        final.Quantity,
			EntryTime:  final.EntryTime,
			ExitTime:   now,
			Strategy:   final.Strategy,
			PnL:        final.RealizedPnL,
		}
		if err := r.ledger.RecordClosedTrade(ctx, trade); err != nil {
			r.log.Error().Err(err).Str("symbol", cond.Symbol).Msg("failed to record closed trade")
		}
		if err := r.ledger.RecordOutcome(ctx, final.Strategy, final.RealizedPnL); err != nil {
			r.log.Error().Err(err).Str("symbol", cond.Symbol).Msg("failed to record strategy outcome")
		}
	}

	if r.enhancer != nil {
		r.enhancer.RecordOutcome(final.Strategy, final.RealizedPnL)
	}

	r.log.Info().Str("symbol", cond.Symbol).Str("reason", cond.Reason).Float64("pnl", final.RealizedPnL).Msg("position closed")
}
