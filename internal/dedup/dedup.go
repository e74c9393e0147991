// Package dedup implements the Signal Deduplicator (spec §4.4): rejects
// repeat signals for a symbol within a short window and enforces a
// post-exit cooldown that must survive process restarts.
//
// Grounded on aristath-sentinel/internal/clientdata/repository.go for the
// date-scoped, store-persisted key pattern (post_exit_cooldown:<date>:<symbol>)
// and on the teacher's in-memory last-accepted cache for the 5-minute
// repeat window, which is short-lived enough to stay in memory rather than
// round-trip the shared store on every signal.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/store"
)

const (
	repeatWindow          = 5 * time.Minute
	defaultPostExitCooldown = 10 * time.Minute
)

type acceptedSignal struct {
	fingerprint string
	acceptedAt  time.Time
}

// PositionExistsFunc reports whether a position is already open for
// symbol, used for the "reject if a position already exists" rule without
// this package importing internal/positions directly.
type PositionExistsFunc func(symbol string) bool

// Deduplicator enforces spec §4.4's three rejection rules.
type Deduplicator struct {
	store              store.Store
	positionExists     PositionExistsFunc
	postExitCooldown   time.Duration

	mu        sync.Mutex
	lastBySymbol map[string]acceptedSignal
}

// New builds a Deduplicator. postExitCooldown <= 0 uses the spec default
// of 10 minutes.
func New(st store.Store, positionExists PositionExistsFunc, postExitCooldown time.Duration) *Deduplicator {
	if postExitCooldown <= 0 {
		postExitCooldown = defaultPostExitCooldown
	}
	return &Deduplicator{
		store:            st,
		positionExists:   positionExists,
		postExitCooldown: postExitCooldown,
		lastBySymbol:     make(map[string]acceptedSignal),
	}
}

// Reason enumerates why a signal was rejected.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonPositionExists   Reason = "POSITION_EXISTS"
	ReasonRepeatSignal     Reason = "REPEAT_SIGNAL"
	ReasonPostExitCooldown Reason = "POST_EXIT_COOLDOWN"
)

// Check evaluates sig against the three rules in spec order, returning
// ReasonNone if it passes. On pass, the caller must call Accept to record
// the fingerprint — Check alone does not mutate state, so a signal can be
// checked speculatively (e.g. during dry-run scoring) without consuming
// the dedup window.
func (d *Deduplicator) Check(ctx context.Context, now time.Time, sig domain.Signal) (Reason, error) {
	if d.positionExists != nil && d.positionExists(sig.Symbol) {
		return ReasonPositionExists, nil
	}

	d.mu.Lock()
	last, ok := d.lastBySymbol[sig.Symbol]
	d.mu.Unlock()
	if ok && now.Sub(last.acceptedAt) < repeatWindow && last.fingerprint == fingerprint(sig) {
		return ReasonRepeatSignal, nil
	}

	key := store.PostExitCooldownKey(now.Format("2006-01-02"), sig.Symbol)
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return ReasonNone, fmt.Errorf("dedup: cooldown lookup: %w", err)
	}
	if exists {
		return ReasonPostExitCooldown, nil
	}

	return ReasonNone, nil
}

// Accept records sig's fingerprint as the last accepted one for its
// symbol, starting the 5-minute repeat window.
func (d *Deduplicator) Accept(sig domain.Signal, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastBySymbol[sig.Symbol] = acceptedSignal{fingerprint: fingerprint(sig), acceptedAt: now}
}

// OnExit starts the post-exit cooldown for symbol, persisted in the
// shared store so it survives a process restart.
func (d *Deduplicator) OnExit(ctx context.Context, now time.Time, symbol string) error {
	key := store.PostExitCooldownKey(now.Format("2006-01-02"), symbol)
	if err := d.store.Set(ctx, key, "1", d.postExitCooldown); err != nil {
		return fmt.Errorf("dedup: set cooldown: %w", err)
	}
	return nil
}

// fingerprint hashes action + rounded entry price + strategy, per spec
// §4.4.
func fingerprint(sig domain.Signal) string {
	rounded := math.Round(sig.EntryPrice*100) / 100
	raw := fmt.Sprintf("%s|%.2f|%s", sig.Action, rounded, sig.StrategyName)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
