// Package orders implements the Order Manager (spec §4.9): the only
// component that ever calls domain.Broker.PlaceOrder. It fans one
// approved signal across the users the Trade Allocator picked, serializes
// each user's own order stream through a per-user FIFO queue, and tracks
// every order until the broker reports a terminal state.
//
// Grounded on aristath-sentinel/internal/modules/trading/safety_service.go
// for the bypass-rule short-circuit shape (EMERGENCY tag / closing action
// / bypass_all_checks skip every other check) and on the teacher's
// per-account mutex discipline elsewhere in internal/clientdata for the
// per-user serialization below.
package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nsealgo/controller/internal/allocator"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/risk"
	"github.com/rs/zerolog"
)

// AllocateFunc fans a signal's total quantity out across user accounts —
// injected so this package depends on the allocator's exported type only,
// not on its internal caches.
type AllocateFunc func(ctx context.Context, sig domain.Signal, totalQuantity float64, now time.Time) ([]allocator.Allocation, error)

// UserOrder is one user's leg of a strategy-level order placement.
type UserOrder struct {
	UserID  string
	Sig     domain.Signal
	Request domain.OrderRequest
	OrderID string
	Status  domain.OrderStatus
	Err     error
}

// FillFunc is notified once a previously-pending order reaches
// OrderStatusComplete — the only hook through which a symbol-aggregate
// Position gets opened, since the Order Manager itself has no Position
// Tracker dependency (spec §3: Position carries no user dimension, so
// turning a fill into a Position is the caller's concern, not this
// package's).
type FillFunc func(uo UserOrder, upd domain.OrderUpdate)

type submission struct {
	ctx      context.Context
	now      time.Time
	sig      domain.Signal
	req      domain.OrderRequest
	resultCh chan UserOrder
}

type userQueue struct {
	ch   chan submission
	once sync.Once
}

// Manager is the Order Manager: per-user FIFO queues over a shared
// broker, with bypass/timing validation ahead of every submission.
//
// Position is a symbol-aggregate record with no user dimension (spec §3),
// so a monitor-driven exit of the aggregate position is placed under
// masterUserID — the designated master account (domain.UserAccount.IsMaster)
// — rather than fanned back out across the original holders, which the
// Position record does not retain. This is a deliberate simplification:
// documented in DESIGN.md rather than left implicit.
type Manager struct {
	log zerolog.Logger

	broker       domain.Broker
	allocate     AllocateFunc
	risk         *risk.Manager
	masterUserID string

	mu       sync.Mutex
	queues   map[string]*userQueue
	pending  map[string]*UserOrder

	watchOnce sync.Once
	onFill    FillFunc
}

// SetOnFill registers the callback invoked whenever a pending order
// reaches OrderStatusComplete. Not part of New's constructor signature
// since the caller that needs it (internal/engine, wiring the Position
// Tracker) is constructed after the Manager itself.
func (m *Manager) SetOnFill(fn FillFunc) {
	m.mu.Lock()
	m.onFill = fn
	m.mu.Unlock()
}

// New builds a Manager. masterUserID is used for aggregate-position exits
// raised by the Position Monitor (see Manager doc comment).
func New(log zerolog.Logger, broker domain.Broker, allocate AllocateFunc, riskMgr *risk.Manager, masterUserID string) *Manager {
	return &Manager{
		log:          log.With().Str("component", "order_manager").Logger(),
		broker:       broker,
		allocate:     allocate,
		risk:         riskMgr,
		masterUserID: masterUserID,
		queues:       make(map[string]*userQueue),
		pending:      make(map[string]*UserOrder),
	}
}

// Start launches the broker order-update watcher. Lazy via sync.Once so
// construction never depends on an already-running event loop.
func (m *Manager) Start(ctx context.Context) {
	m.watchOnce.Do(func() { go m.watchOrderUpdates(ctx) })
}

func (m *Manager) watchOrderUpdates(ctx context.Context) {
	updates := m.broker.OrderUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			m.applyUpdate(upd)
		}
	}
}

func (m *Manager) applyUpdate(upd domain.OrderUpdate) {
	m.mu.Lock()
	o, ok := m.pending[upd.OrderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	o.Status = upd.Status
	filled := *o
	onFill := m.onFill
	if isTerminal(upd.Status) {
		delete(m.pending, upd.OrderID)
	}
	m.mu.Unlock()

	if upd.Status == domain.OrderStatusComplete && onFill != nil {
		onFill(filled, upd)
	}
}

func isTerminal(s domain.OrderStatus) bool {
	return s == domain.OrderStatusComplete || s == domain.OrderStatusRejected || s == domain.OrderStatusCancelled
}

// ValidateOrder implements spec §4.9's bypass and exit-after-15:00 rules.
// Everything else (capital, confidence, duplicate-signal) has already
// been gated upstream by internal/decision; this is the Order Manager's
// own timing/bypass contract.
func (m *Manager) ValidateOrder(now time.Time, req domain.OrderRequest, sig domain.Signal) (bool, string) {
	if bypassesAllChecks(req, sig) {
		return true, ""
	}
	if m.risk == nil {
		return true, ""
	}
	allowed, reason := m.risk.ValidateTradingHours(now, risk.OrderHoursContext{
		ClosingAction:    req.ClosingAction,
		ManagementAction: isExitOrder(req, sig),
		Strategy:         sig.StrategyName,
		IsExit:           isExitOrder(req, sig),
	})
	return allowed, string(reason)
}

func bypassesAllChecks(req domain.OrderRequest, sig domain.Signal) bool {
	if sig.MetaBool("bypass_all_checks") {
		return true
	}
	if strings.Contains(req.Tag, "EMERGENCY") {
		return true
	}
	return req.ClosingAction
}

func isExitOrder(req domain.OrderRequest, sig domain.Signal) bool {
	if sig.MetaBool("is_exit") {
		return true
	}
	if st, ok := sig.MetaString("signal_type"); ok && st == "EXIT" {
		return true
	}
	if strings.Contains(req.Tag, "EXIT") || strings.Contains(req.Tag, "FULL_EXIT") {
		return true
	}
	if _, ok := sig.MetaString("exit_reason"); ok {
		return true
	}
	return req.ClosingAction
}

func (m *Manager) queueFor(userID string) *userQueue {
	m.mu.Lock()
	q, ok := m.queues[userID]
	if !ok {
		q = &userQueue{ch: make(chan submission, 64)}
		m.queues[userID] = q
	}
	m.mu.Unlock()

	q.once.Do(func() { go m.consume(q) })
	return q
}

func (m *Manager) consume(q *userQueue) {
	for s := range q.ch {
		s.resultCh <- m.doSubmit(s.ctx, s.now, s.sig, s.req)
	}
}

func (m *Manager) enqueue(ctx context.Context, now time.Time, sig domain.Signal, req domain.OrderRequest) UserOrder {
	resultCh := make(chan UserOrder, 1)
	m.queueFor(req.UserID).ch <- submission{ctx: ctx, now: now, sig: sig, req: req, resultCh: resultCh}
	select {
	case <-ctx.Done():
		return UserOrder{UserID: req.UserID, Request: req, Status: domain.OrderStatusRejected, Err: ctx.Err()}
	case uo := <-resultCh:
		return uo
	}
}

func (m *Manager) doSubmit(ctx context.Context, now time.Time, sig domain.Signal, req domain.OrderRequest) UserOrder {
	if allowed, reason := m.ValidateOrder(now, req, sig); !allowed {
		return UserOrder{UserID: req.UserID, Request: req, Status: domain.OrderStatusRejected, Err: fmt.Errorf("orders: rejected: %s", reason)}
	}

	orderID, err := m.broker.PlaceOrder(ctx, req)
	if err != nil {
		m.log.Error().Err(err).Str("user", req.UserID).Str("symbol", req.Symbol).Msg("broker rejected order")
		return UserOrder{UserID: req.UserID, Request: req, Status: domain.OrderStatusRejected, Err: err}
	}

	uo := UserOrder{UserID: req.UserID, Sig: sig, Request: req, OrderID: orderID, Status: domain.OrderStatusPending}
	m.mu.Lock()
	m.pending[orderID] = &uo
	m.mu.Unlock()
	return uo
}

// PlaceStrategyOrder implements the core contract: fan sig out across
// users via the injected Allocator and submit one order per user.
func (m *Manager) PlaceStrategyOrder(ctx context.Context, now time.Time, sig domain.Signal, totalQuantity float64) ([]UserOrder, error) {
	allocations, err := m.allocate(ctx, sig, totalQuantity, now)
	if err != nil {
		return nil, fmt.Errorf("orders: allocate: %w", err)
	}

	out := make([]UserOrder, 0, len(allocations))
	for _, alloc := range allocations {
		req := domain.OrderRequest{
			UserID:    alloc.UserID,
			Symbol:    sig.Symbol,
			Action:    sig.Action,
			Quantity:  alloc.Quantity,
			OrderType: domain.OrderMarket,
			Tag:       sig.StrategyName,
		}
		out = append(out, m.enqueue(ctx, now, sig, req))
	}
	return out, nil
}

// SubmitPositionExit places a single MARKET exit order for an aggregate
// Position under the master account (see Manager doc comment), used by
// the Position Monitor's ExitSubmitter hook.
func (m *Manager) SubmitPositionExit(ctx context.Context, p domain.Position, qty float64, reason string) error {
	action := domain.Sell
	if p.Side == domain.Short {
		action = domain.Buy
	}
	req := domain.OrderRequest{
		UserID:        m.masterUserID,
		Symbol:        p.Symbol,
		Action:        action,
		Quantity:      qty,
		OrderType:     domain.OrderMarket,
		Tag:           "EXIT",
		ClosingAction: true,
	}
	sig := domain.Signal{
		StrategyName: p.Strategy,
		Symbol:       p.Symbol,
		Metadata:     map[string]any{"is_exit": true, "exit_reason": reason},
	}
	uo := m.enqueue(ctx, time.Now(), sig, req)
	return uo.Err
}
