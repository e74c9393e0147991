// Package di is the process-scoped dependency graph (spec §5's "no
// hidden globals" requirement): every component is constructed once by
// Wire and handed to the next by parameter, never looked up through a
// package-level singleton. Grounded directly on the teacher's
// internal/di package — same staged Wire(cfg, log) (*Container, error)
// constructor shape and same cleanup-on-error discipline, regenerated
// here for the trading domain's much smaller dependency graph (one
// sqlite-backed Store instead of the teacher's eight-database
// architecture; no settings-driven service registry).
package di

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/nsealgo/controller/internal/allocator"
	"github.com/nsealgo/controller/internal/bias"
	"github.com/nsealgo/controller/internal/dedup"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/engine"
	"github.com/nsealgo/controller/internal/enhancer"
	"github.com/nsealgo/controller/internal/events"
	"github.com/nsealgo/controller/internal/feed"
	"github.com/nsealgo/controller/internal/internals"
	"github.com/nsealgo/controller/internal/monitor"
	"github.com/nsealgo/controller/internal/orders"
	"github.com/nsealgo/controller/internal/positions"
	"github.com/nsealgo/controller/internal/risk"
	"github.com/nsealgo/controller/internal/scheduler"
	"github.com/nsealgo/controller/internal/store"
	"github.com/nsealgo/controller/internal/strategy"
)

// Container holds every long-lived component the control plane needs.
// It is built once by Wire and torn down once by Close.
type Container struct {
	Log zerolog.Logger

	DB    *sql.DB
	Store store.Store
	Ledger *store.Ledger

	QuoteCache *feed.QuoteCache
	FeedGap    *feed.Gap
	Feed       feed.Feed

	Broker domain.Broker

	Internals *internals.Analyzer
	Bias      *bias.Engine
	Enhancer  *enhancer.Enhancer
	Dedup     *dedup.Deduplicator
	Risk      *risk.Manager
	Allocator *allocator.Allocator
	Orders    *orders.Manager
	Positions *positions.Tracker
	Monitor   *monitor.Runner
	Pool      *strategy.Pool
	Events    *events.Bus
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler

	// Accounts is the live user-account roster, in-memory for now (spec
	// §3's data model does not mandate a dedicated accounts table; one
	// account row lives entirely in config/runtime, not persisted state).
	Accounts []domain.UserAccount
}

// Close releases every resource Wire opened. Safe to call once; callers
// should not reuse a Container after Close.
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
