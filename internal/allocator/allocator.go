// Package allocator implements the Trade Allocator (spec §4.7): splits one
// approved signal into per-user orders proportional to
// capital_i * performance_weight_i, subject to margin, rotation, and a
// single-user fallback when the cache machinery itself fails.
//
// Grounded on aristath-sentinel/internal/modules/optimization/risk.go's
// cache-key hashing and TTL pattern (hashISINs/hashRegimeAwareCovKey,
// calculations.Cache with per-kind TTLs), adapted here from a disk/DB
// optimizer cache to the allocator's in-memory strategy/user/ranking/share
// caches, and on that same package's lazy-start idiom for a refresher
// goroutine that cannot exist before the event loop is up.
package allocator

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/rs/zerolog"
)

const (
	strategyWeightTTL = 5 * time.Minute
	userWeightTTL     = 1 * time.Hour
	rankingTTL        = 1 * time.Minute
	userShareTTL      = 5 * time.Minute
	refreshInterval   = 60 * time.Second

	minStrategyWeight    = 0.3
	candidatePoolSize    = 20
	finalAllocationCount = 10
	minTradeInterval     = 300 * time.Second
	perUserMaxCapitalPct = 0.10
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// AccountSource supplies the live user-account roster; injected so this
// package has no direct broker dependency.
type AccountSource func() []domain.UserAccount

// StrategyWeightSource returns the current weight for a strategy in
// [0,1]+.
type StrategyWeightSource func(strategy string) float64

// RecordTradeFunc is called asynchronously to feed the allocator's
// learning loop (spec §4.7 step 7) — must not block the allocation path.
type RecordTradeFunc func(userID string, sig domain.Signal, qty float64)

// Allocator splits signals across users.
type Allocator struct {
	log zerolog.Logger

	accounts      AccountSource
	strategyWeight StrategyWeightSource
	recordTrade   RecordTradeFunc

	mu          sync.Mutex
	cache       map[string]cacheEntry
	lastTradeAt map[string]time.Time

	refresherOnce sync.Once
	stopRefresher chan struct{}
}

// New builds an Allocator. The background refresher is not started until
// the first Allocate call (spec §4.7: "no event loop yet at construction
// time").
func New(log zerolog.Logger, accounts AccountSource, strategyWeight StrategyWeightSource, recordTrade RecordTradeFunc) *Allocator {
	return &Allocator{
		log:            log.With().Str("component", "allocator").Logger(),
		accounts:       accounts,
		strategyWeight: strategyWeight,
		recordTrade:    recordTrade,
		cache:          make(map[string]cacheEntry),
		lastTradeAt:    make(map[string]time.Time),
		stopRefresher:  make(chan struct{}),
	}
}

// Stop halts the background refresher, if started.
func (a *Allocator) Stop() {
	select {
	case <-a.stopRefresher:
	default:
		close(a.stopRefresher)
	}
}

func (a *Allocator) ensureRefresher(ctx context.Context) {
	a.refresherOnce.Do(func() {
		go a.refreshLoop(ctx)
	})
}

func (a *Allocator) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopRefresher:
			return
		case <-ticker.C:
			a.purgeExpired()
		}
	}
}

func (a *Allocator) purgeExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for k, v := range a.cache {
		if now.After(v.expiresAt) {
			delete(a.cache, k)
		}
	}
}

func (a *Allocator) getCached(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (a *Allocator) setCached(key string, value any, ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Allocation is one per-user order produced by Allocate.
type Allocation struct {
	UserID   string
	Quantity float64
}

// Allocate implements spec §4.7's seven-step per-signal pipeline. now is
// used for rotation (min_trade_interval) and cache freshness.
func (a *Allocator) Allocate(ctx context.Context, sig domain.Signal, totalQuantity float64, now time.Time) (allocations []Allocation, err error) {
	a.ensureRefresher(ctx)

	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("allocator pipeline panicked, falling back to single-user allocation")
			fallback, fbErr := a.fallbackSingleUser(sig, totalQuantity, now)
			allocations, err = fallback, fbErr
		}
	}()

	// Step 1: strategy weight gate.
	weight := 1.0
	if a.strategyWeight != nil {
		weight = a.strategyWeight(sig.StrategyName)
	}
	if weight < minStrategyWeight {
		return nil, nil
	}

	if a.accounts == nil {
		return a.fallbackSingleUser(sig, totalQuantity, now)
	}

	// Step 2: candidate set = top 20 by available margin.
	accounts := a.accounts()
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].AvailableMargin > accounts[j].AvailableMargin })
	if len(accounts) > candidatePoolSize {
		accounts = accounts[:candidatePoolSize]
	}

	// Step 3: filter by rotation interval and positive capital.
	a.mu.Lock()
	filtered := accounts[:0:0]
	for _, acc := range accounts {
		if !acc.Enabled || acc.Capital <= 0 {
			continue
		}
		last, seen := a.lastTradeAt[acc.UserID]
		if seen && now.Sub(last) < minTradeInterval {
			continue
		}
		filtered = append(filtered, acc)
	}
	a.mu.Unlock()

	// Step 4: batch-estimate required margin, drop users below it.
	requiredMargin := totalQuantity * sig.EntryPrice
	eligible := filtered[:0:0]
	for _, acc := range filtered {
		if acc.AvailableMargin >= requiredMargin {
			eligible = append(eligible, acc)
		}
	}

	if len(eligible) == 0 {
		return a.fallbackSingleUser(sig, totalQuantity, now)
	}

	// Step 5: limit to top 10, allocate proportionally.
	if len(eligible) > finalAllocationCount {
		eligible = eligible[:finalAllocationCount]
	}

	shares := computeShares(eligible)
	remaining := totalQuantity
	out := make([]Allocation, 0, len(eligible))
	for _, acc := range eligible {
		share := shares[acc.UserID]
		qty := math.Round(remaining * share * weight)
		maxQty := (perUserMaxCapitalPct * acc.Capital) / math.Max(sig.EntryPrice, 1e-9)
		qty = math.Min(qty, maxQty)
		if qty <= 0 {
			continue
		}
		out = append(out, Allocation{UserID: acc.UserID, Quantity: qty})
	}

	// Step 6: update last_trade_at.
	a.mu.Lock()
	for _, alloc := range out {
		a.lastTradeAt[alloc.UserID] = now
	}
	a.mu.Unlock()

	// Step 7: asynchronously record for learning — must not block.
	if a.recordTrade != nil {
		for _, alloc := range out {
			go a.recordTrade(alloc.UserID, sig, alloc.Quantity)
		}
	}

	return out, nil
}

// fallbackSingleUser implements spec §4.7's fallback path: single-user
// allocation to the highest-margin eligible user.
func (a *Allocator) fallbackSingleUser(sig domain.Signal, totalQuantity float64, now time.Time) ([]Allocation, error) {
	if a.accounts == nil {
		return nil, nil
	}
	accounts := a.accounts()
	var best *domain.UserAccount
	a.mu.Lock()
	for i := range accounts {
		acc := accounts[i]
		if !acc.Enabled || acc.Capital <= 0 {
			continue
		}
		if last, seen := a.lastTradeAt[acc.UserID]; seen && now.Sub(last) < minTradeInterval {
			continue
		}
		if best == nil || acc.AvailableMargin > best.AvailableMargin {
			best = &accounts[i]
		}
	}
	a.mu.Unlock()
	if best == nil {
		return nil, nil
	}
	a.mu.Lock()
	a.lastTradeAt[best.UserID] = now
	a.mu.Unlock()
	return []Allocation{{UserID: best.UserID, Quantity: totalQuantity}}, nil
}

// computeShares returns each account's share proportional to
// capital*performance_weight, normalized to sum to 1.
func computeShares(accounts []domain.UserAccount) map[string]float64 {
	var total float64
	for _, acc := range accounts {
		pw := acc.PerformanceWeight
		if pw <= 0 {
			pw = 1
		}
		total += acc.Capital * pw
	}
	shares := make(map[string]float64, len(accounts))
	if total <= 0 {
		equal := 1.0 / math.Max(float64(len(accounts)), 1)
		for _, acc := range accounts {
			shares[acc.UserID] = equal
		}
		return shares
	}
	for _, acc := range accounts {
		pw := acc.PerformanceWeight
		if pw <= 0 {
			pw = 1
		}
		shares[acc.UserID] = (acc.Capital * pw) / total
	}
	return shares
}
