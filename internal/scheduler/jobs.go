package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsealgo/controller/internal/clock"
	"github.com/nsealgo/controller/internal/domain"
	"github.com/nsealgo/controller/internal/store"
)

// MarginsReader is the minimal broker surface these jobs need — the same
// shape internal/engine.Broker declares, so either the paper or Kite
// adapter satisfies it with no scheduler-specific wrapper.
type MarginsReader interface {
	GetMargins(ctx context.Context) (domain.Margins, error)
}

// EODCapitalSnapshot persists the day's realized P&L and ending capital
// to the Ledger at market close — spec §6's "capital snapshots" persisted
// state. Scheduled for ~15:35 IST, after the monitor's mandatory square-off
// window (clock.PastMandatoryClose) has already flattened the book.
type EODCapitalSnapshot struct {
	Broker MarginsReader
	Ledger *store.Ledger
	UserID string
}

func (j *EODCapitalSnapshot) Name() string { return "eod_capital_snapshot" }

func (j *EODCapitalSnapshot) Run(ctx context.Context) error {
	m, err := j.Broker.GetMargins(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: eod snapshot: get margins: %w", err)
	}
	today := time.Now().In(clock.IST).Format("2006-01-02")
	realized, err := j.Ledger.DailyRealizedPnL(ctx, today)
	if err != nil {
		return fmt.Errorf("scheduler: eod snapshot: daily realized pnl: %w", err)
	}
	return j.Ledger.UpsertDailyPnL(ctx, store.DailyPnL{
		UserID:          j.UserID,
		Date:            today,
		RealizedPnL:     realized,
		StartingCapital: m.Equity - realized,
		EndingCapital:   m.Equity,
	})
}

// DailyCounterReset seeds the new trading day's daily_pnl row with the
// session's opening capital at market open. UpsertDailyPnL never touches
// starting_capital on conflict, so this is the only writer of that column
// for a normal day — the EOD snapshot later in the day only updates
// realized_pnl/ending_capital on top of the baseline this job lays down.
type DailyCounterReset struct {
	Broker MarginsReader
	Ledger *store.Ledger
	UserID string
}

func (j *DailyCounterReset) Name() string { return "daily_counter_reset" }

func (j *DailyCounterReset) Run(ctx context.Context) error {
	m, err := j.Broker.GetMargins(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: daily reset: get margins: %w", err)
	}
	today := time.Now().In(clock.IST).Format("2006-01-02")
	return j.Ledger.UpsertDailyPnL(ctx, store.DailyPnL{
		UserID:          j.UserID,
		Date:            today,
		RealizedPnL:     0,
		StartingCapital: m.Equity,
		EndingCapital:   m.Equity,
	})
}

// StaleCooldownSweep purges expired kv_cache rows. internal/dedup writes
// post-exit cooldowns with a TTL (internal/store.Store.Set) but nothing
// reads expired rows out again except by coincidental key reuse — this
// job is the proactive GC spec §1 calls for.
type StaleCooldownSweep struct {
	Store *store.SQLStore
	Log   zerolog.Logger
}

func (j *StaleCooldownSweep) Name() string { return "stale_cooldown_sweep" }

func (j *StaleCooldownSweep) Run(ctx context.Context) error {
	n, err := j.Store.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: cooldown sweep: %w", err)
	}
	if n > 0 {
		j.Log.Debug().Int64("rows_purged", n).Msg("stale cooldown sweep")
	}
	return nil
}
