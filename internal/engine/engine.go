// Package engine is the root orchestrator: the one component that owns
// the control plane's lifecycle (start/stop/pause/resume) and drives the
// per-tick data flow spec §2 describes leaf-to-root — Quote Cache →
// Market Internals Analyzer → Directional Bias Engine → Strategy Pool →
// Signal Enhancer → Signal Deduplicator → Position-Opening Decision →
// Risk Manager → Trade Allocator → Order Manager — while the Position
// Monitor runs its own independent cadence against the same Position
// Tracker. Every collaborator package above is a leaf with no knowledge
// of its neighbors; this package is the only place that knows the full
// graph, grounded on Design Note §9's "cut the cyclic reference graph
// with one-way data snapshots passed downstream" directive.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nsealgo/controller/internal/allocator"
	"github.com/nsealgo/controller/internal/bias"
	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/decision"
	"github.com/nsealgo/controller/internal/dedup"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/enhancer"
	"github.com/nsealgo/controller/internal/events"
	"github.com/nsealgo/controller/internal/feed"
	"github.com/nsealgo/controller/internal/internals"
	"github.com/nsealgo/controller/internal/monitor"
	"github.com/nsealgo/controller/internal/orders"
	"github.com/nsealgo/controller/internal/positions"
	"github.com/nsealgo/controller/internal/risk"
	"github.com/nsealgo/controller/internal/store"
	"github.com/nsealgo/controller/internal/strategy"
)

// niftySymbol and vixSymbol are the two index quotes the Quote Cache is
// expected to carry alongside the tradable universe — the same NSE index
// identifiers the teacher's market_regime package reads.
const (
	niftySymbol = "NIFTY 50"
	vixSymbol   = "INDIA VIX"

	maxNiftySamples = 20
	maxCandles      = 14
)

// State is the engine's run state. Zero value is StateStopped.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Broker is the minimal broker surface the engine itself needs; the rest
// of domain.Broker is used by internal/orders/internal/broker directly.
type Broker interface {
	GetMargins(ctx context.Context) (domain.Margins, error)
}

// Engine wires every control-plane component together and drives the two
// independent loops (signal generation, position monitoring).
type Engine struct {
	log zerolog.Logger

	quotes    *feed.QuoteCache
	internals *internals.Analyzer
	bias      *bias.Engine
	pool      *strategy.Pool
	enhancer  *enhancer.Enhancer
	dedup     *dedup.Deduplicator
	decision  *decision.Validator
	riskMgr   *risk.Manager
	allocator *allocator.Allocator
	orders    *orders.Manager
	positions *positions.Tracker
	monitor   *monitor.Runner
	bus       *events.Bus
	broker    Broker
	ledger    *store.Ledger

	mu        sync.RWMutex
	state     State
	cancel    context.CancelFunc
	capital   domain.Margins
	niftyHist []float64
	candles   []internals.Candle
	gap       float64
	gapSet    bool
}

// New builds an Engine. Every argument is a component already wired by
// internal/di.Wire; New itself performs no construction, only the
// Position-Opening Decision Validator it owns outright (a thin struct
// with no state of its own beyond the references it closes over).
func New(log zerolog.Logger, quotes *feed.QuoteCache, an *internals.Analyzer, biasEngine *bias.Engine,
	pool *strategy.Pool, enh *enhancer.Enhancer, dd *dedup.Deduplicator, riskMgr *risk.Manager,
	alloc *allocator.Allocator, ordersMgr *orders.Manager, tracker *positions.Tracker,
	monitorRunner *monitor.Runner, bus *events.Bus, broker Broker, ledger *store.Ledger) *Engine {

	e := &Engine{
		log:       log.With().Str("component", "engine").Logger(),
		quotes:    quotes,
		internals: an,
		bias:      biasEngine,
		pool:      pool,
		enhancer:  enh,
		dedup:     dd,
		riskMgr:   riskMgr,
		allocator: alloc,
		orders:    ordersMgr,
		positions: tracker,
		monitor:   monitorRunner,
		bus:       bus,
		broker:    broker,
		ledger:    ledger,
		state:     StateStopped,
	}

	e.decision = &decision.Validator{
		Bias:           biasEngine,
		Risk:           riskMgr,
		PositionExists: tracker.Get,
		Capital:        e.capitalSnapshot,
		ExistingPositions: e.riskPositionSnapshots,
	}

	ordersMgr.SetOnFill(e.onFill)

	return e
}

// State reports the engine's current run state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Start transitions Stopped → Running and launches both loops under a
// cancelable child context. A no-op if already Running or Paused — call
// Resume instead to leave Paused.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine: cannot start from state %q", e.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = StateRunning
	e.mu.Unlock()

	e.orders.Start(runCtx)

	go monitor.Loop(runCtx, e.log, func(now time.Time) { e.tickSignals(runCtx, now) })
	go monitor.Loop(runCtx, e.log, func(now time.Time) { e.monitor.RunOnce(runCtx, now) })

	e.log.Info().Msg("engine started")
	return nil
}

// Stop transitions to Stopped and cancels both loops — neither new
// entries nor position monitoring continue. Use Pause for the
// continue-managing-existing-positions variant spec §7's Fatal-error
// policy describes.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return fmt.Errorf("engine: already stopped")
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.state = StateStopped
	e.log.Info().Msg("engine stopped")
	return nil
}

// Pause halts new-entry signal generation while leaving position
// monitoring running — the same "stop accepting new entries; existing
// positions continue to be monitored and exited" policy spec §7 assigns
// to Fatal errors, exposed here as an explicit operator action too.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return fmt.Errorf("engine: cannot pause from state %q", e.state)
	}
	e.state = StatePaused
	e.log.Warn().Msg("engine paused: no new entries will be accepted")
	return nil
}

// Resume transitions Paused → Running.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return fmt.Errorf("engine: cannot resume from state %q", e.state)
	}
	e.state = StateRunning
	e.log.Info().Msg("engine resumed")
	return nil
}

// ClosePosition submits a full exit for one symbol, regardless of run
// state — an operator-initiated manual exit always goes through, since
// spec §7 never gates the monitor's exit path behind the run state.
func (e *Engine) ClosePosition(ctx context.Context, symbol, reason string) error {
	pos, ok := e.positions.Get(symbol)
	if !ok {
		return fmt.Errorf("engine: no open position for %s", symbol)
	}
	if err := e.orders.SubmitPositionExit(ctx, pos, pos.Quantity, reason); err != nil {
		if _, ok := e.positions.Close(symbol, pos.CurrentPrice, time.Now()); !ok {
			e.log.Error().Err(err).Str("symbol", symbol).Msg("close_position: submit and fallback close both failed")
		}
		return err
	}
	return nil
}

// CloseAll submits a full exit for every open position. Per spec §6 this
// is a CRITICAL control action.
func (e *Engine) CloseAll(ctx context.Context, reason string) (closed int, err error) {
	e.bus.Emit(events.ControlCloseAll, "engine", &events.ControlActionData{Reason: reason})
	e.log.Warn().Str("reason", reason).Msg("CRITICAL: close_all invoked")

	snapshot := e.positions.Snapshot()
	var firstErr error
	for symbol := range snapshot {
		if cerr := e.ClosePosition(ctx, symbol, "close_all: "+reason); cerr != nil {
			if firstErr == nil {
				firstErr = cerr
			}
			continue
		}
		closed++
	}
	return closed, firstErr
}

// OverrideLossLimit clears the Risk Manager's emergency-stop latch. Per
// spec §6 this is a CRITICAL control action — it does not undo the
// underlying breach, only the operator's acknowledged decision to keep
// trading through it.
func (e *Engine) OverrideLossLimit(reason string) {
	e.riskMgr.ClearEmergencyStop()
	e.bus.Emit(events.ControlOverrideLoss, "engine", &events.ControlActionData{Reason: reason})
	e.log.Warn().Str("reason", reason).Msg("CRITICAL: override_loss_limit invoked")
}

// tickSignals runs one pass of the signal-generation pipeline. Skipped
// entirely while Paused — the monitor loop runs independently and is
// never affected by this check.
func (e *Engine) tickSignals(ctx context.Context, now time.Time) {
	if e.State() != StateRunning {
		return
	}

	snapshot := e.quotes.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	nifty, _ := e.quotes.Get(niftySymbol)
	vix, vixChange := 15.0, 0.0
	if vixQuote, ok := e.quotes.Get(vixSymbol); ok {
		vix = vixQuote.LTP
		vixChange = vixQuote.ChangePercent
	}

	e.trackNifty(nifty)

	snap := e.internals.Compute(snapshot, nifty, vix, vixChange, e.candles)
	currentBias := e.bias.Update(now, snap, e.niftyHist, e.openingGap(nifty))
	if currentBias.Direction != domain.Neutral {
		e.bus.Emit(events.BiasChanged, "engine", &events.BiasChangedData{
			Direction:  string(currentBias.Direction),
			Confidence: currentBias.Confidence,
			Regime:     string(snap.Regime),
		})
	}

	e.refreshCapital(ctx)

	for _, sig := range e.pool.Tick(ctx, e.quotes) {
		e.processSignal(ctx, now, sig, nifty.ChangePercent)
	}
}

func (e *Engine) processSignal(ctx context.Context, now time.Time, sig domain.Signal, niftyChangePercent float64) {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	q, ok := e.quotes.Get(sig.Symbol)
	if !ok {
		return
	}
	result := e.enhancer.Enhance(sig, q)
	if !result.Accepted {
		e.bus.Emit(events.SignalRejected, "enhancer", &events.SignalRejectedData{
			Symbol: sig.Symbol, Strategy: sig.StrategyName, Reason: "below confluence threshold",
		})
		return
	}
	enhanced := sig
	enhanced.Confidence = result.RewrittenConfidence

	reason, err := e.dedup.Check(ctx, now, enhanced)
	if err != nil {
		e.bus.EmitError("dedup", err, map[string]any{"symbol": enhanced.Symbol})
		return
	}
	if reason != dedup.ReasonNone {
		e.bus.Emit(events.SignalRejected, "dedup", &events.SignalRejectedData{
			Symbol: enhanced.Symbol, Strategy: enhanced.StrategyName, Reason: string(reason),
		})
		return
	}

	dec := e.decision.Evaluate(now, enhanced, niftyChangePercent)
	if !dec.Approved {
		e.bus.Emit(events.SignalRejected, "decision", &events.SignalRejectedData{
			Symbol: enhanced.Symbol, Strategy: enhanced.StrategyName, Reason: string(dec.Reason),
		})
		return
	}

	e.dedup.Accept(enhanced, now)

	userOrders, err := e.orders.PlaceStrategyOrder(ctx, now, enhanced, dec.PositionSize)
	if err != nil {
		e.bus.EmitError("orders", err, map[string]any{"symbol": enhanced.Symbol})
		return
	}
	for _, uo := range userOrders {
		if uo.Err != nil {
			e.bus.Emit(events.OrderRejected, "orders", &events.OrderRejectedData{
				UserID: uo.UserID, Symbol: enhanced.Symbol, Reason: uo.Err.Error(),
			})
			continue
		}
		e.bus.Emit(events.OrderPlaced, "orders", &events.OrderPlacedData{
			UserID: uo.UserID, Symbol: enhanced.Symbol, Action: string(enhanced.Action),
			Quantity: uo.Request.Quantity, OrderID: uo.OrderID,
		})
	}
}

// onFill is the orders.FillFunc: it is the sole place a filled order
// becomes (or grows) an open Position, since Position is a symbol
// aggregate with no per-user dimension (spec §3) and the Order Manager
// only ever sees one user's leg of it.
func (e *Engine) onFill(uo orders.UserOrder, upd domain.OrderUpdate) {
	side := domain.Long
	if uo.Request.Action == domain.Sell {
		side = domain.Short
	}

	if _, ok := e.positions.Get(uo.Request.Symbol); ok {
		e.positions.Mutate(uo.Request.Symbol, func(p *domain.Position) {
			totalQty := p.Quantity + upd.FilledQty
			if totalQty > 0 {
				p.AveragePrice = (p.AveragePrice*p.Quantity + upd.AveragePrice*upd.FilledQty) / totalQty
			}
			p.Quantity = totalQty
			p.CurrentPrice = upd.AveragePrice
			p.RecalculateUnrealizedPnL()
		})
		return
	}

	pos := domain.Position{
		Symbol:       uo.Request.Symbol,
		Side:         side,
		Quantity:     upd.FilledQty,
		AveragePrice: upd.AveragePrice,
		CurrentPrice: upd.AveragePrice,
		StopLoss:     uo.Sig.StopLoss,
		Target:       uo.Sig.Target,
		EntryTime:    upd.UpdatedAt,
		Strategy:     uo.Sig.StrategyName,
		HybridMode:   uo.Sig.HybridMode,
		MaxHoldMinutes: uo.Sig.MaxHoldMinutes,
		Metadata:     uo.Sig.Metadata,
	}
	pos.Normalize()
	if err := e.positions.Open(pos); err != nil {
		e.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to open position after fill")
		return
	}
	e.bus.Emit(events.PositionOpened, "engine", &events.PositionOpenedData{
		Symbol: pos.Symbol, Side: string(pos.Side), Quantity: pos.Quantity,
		AveragePrice: pos.AveragePrice, Strategy: pos.Strategy,
	})
}

func (e *Engine) capitalSnapshot() (available, total float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.capital.AvailableMargin, e.capital.Equity
}

func (e *Engine) refreshCapital(ctx context.Context) {
	m, err := e.broker.GetMargins(ctx)
	if err != nil {
		e.bus.EmitError("engine", err, map[string]any{"stage": "refresh_capital"})
		return
	}
	e.mu.Lock()
	e.capital = m
	e.mu.Unlock()

	e.monitorPortfolioRisk(ctx, m)
}

// monitorPortfolioRisk feeds the Risk Manager's rolling drawdown/VaR check
// (risk.Manager.MonitorPortfolioRisk) once per tick, reading today's
// realized P&L and the trailing daily-P&L window back out of the Ledger —
// the only place that persists them (§6 persisted state). A breach latches
// the emergency stop inside riskMgr itself; this callback only reports it.
func (e *Engine) monitorPortfolioRisk(ctx context.Context, m domain.Margins) {
	today := time.Now().In(clock.IST).Format("2006-01-02")
	realized, err := e.ledger.DailyRealizedPnL(ctx, today)
	if err != nil {
		e.bus.EmitError("engine", err, map[string]any{"stage": "daily_realized_pnl"})
		return
	}
	samples, err := e.ledger.RecentDailyPnL(ctx, 20)
	if err != nil {
		e.bus.EmitError("engine", err, map[string]any{"stage": "recent_daily_pnl"})
		return
	}

	var unrealized float64
	for _, p := range e.positions.Snapshot() {
		unrealized += p.UnrealizedPnL
	}

	e.riskMgr.MonitorPortfolioRisk(m.Equity, realized, unrealized, samples, func(reason string) {
		e.bus.Emit(events.RiskEmergencyStop, "risk", &events.RiskEmergencyStopData{
			Reason:   reason,
			DailyPnL: realized + unrealized,
			Drawdown: e.riskMgr.CurrentDrawdown(),
		})
		e.log.Warn().Str("reason", reason).Msg("emergency stop triggered")
	})
}

func (e *Engine) riskPositionSnapshots() []risk.PositionSnapshot {
	snapshot := e.positions.Snapshot()
	out := make([]risk.PositionSnapshot, 0, len(snapshot))
	for _, p := range snapshot {
		out = append(out, risk.PositionSnapshot{
			Symbol:        p.Symbol,
			Value:         p.AveragePrice * p.Quantity,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	return out
}

// trackNifty maintains the rolling NIFTY change-percent history the Bias
// Engine needs and a small rolling OHLC-from-quote candle history for the
// Internals Analyzer's choppiness index — a live-updating substitute for
// a dedicated 5-minute candle feed, which is out of this control plane's
// scope (the candle feed itself is an external collaborator per spec §1).
func (e *Engine) trackNifty(nifty domain.Quote) {
	if nifty.Symbol == "" {
		return
	}
	e.niftyHist = append(e.niftyHist, nifty.ChangePercent)
	if len(e.niftyHist) > maxNiftySamples {
		e.niftyHist = e.niftyHist[len(e.niftyHist)-maxNiftySamples:]
	}

	e.candles = append(e.candles, internals.Candle{High: nifty.High, Low: nifty.Low, Close: nifty.LTP})
	if len(e.candles) > maxCandles {
		e.candles = e.candles[len(e.candles)-maxCandles:]
	}

	if !e.gapSet && nifty.Open > 0 && nifty.PrevClose > 0 {
		e.gap = (nifty.Open - nifty.PrevClose) / nifty.PrevClose * 100
		e.gapSet = true
	}
}

func (e *Engine) openingGap(nifty domain.Quote) float64 {
	if e.gapSet {
		return e.gap
	}
	return 0
}
