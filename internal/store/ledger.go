package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DailyPnL is one user's realized-P&L row for one trading day.
type DailyPnL struct {
	UserID           string
	Date             string // YYYY-MM-DD (IST)
	RealizedPnL      float64
	StartingCapital  float64
	EndingCapital    float64
}

// ClosedTrade is one closed-position audit row.
type ClosedTrade struct {
	TradeID    string
	Symbol     string
	Side       string
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	EntryTime  time.Time
	ExitTime   time.Time
	Strategy   string
	PnL        float64
}

// StrategyStat is the running win/loss counter the signal enhancer reads
// to compute its performance factor.
type StrategyStat struct {
	Strategy string
	Wins     int
	Losses   int
	TotalPnL float64
}

// Ledger persists daily P&L, the closed-trade audit log, and per-strategy
// win-rate counters — the "Persisted state" contract of spec §6.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger { return &Ledger{db: db} }

// UpsertDailyPnL records or updates a user's daily P&L row.
func (l *Ledger) UpsertDailyPnL(ctx context.Context, row DailyPnL) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO daily_pnl (user_id, date, realized_pnl, starting_capital, ending_capital)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			realized_pnl = excluded.realized_pnl,
			ending_capital = excluded.ending_capital`,
		row.UserID, row.Date, row.RealizedPnL, row.StartingCapital, row.EndingCapital)
	if err != nil {
		return fmt.Errorf("store: upsert daily pnl: %w", err)
	}
	return nil
}

// DailyRealizedPnL returns the sum of realized P&L across all users for a
// given date — used to reconcile the risk manager's daily_realized_pnl
// counter (Testable Property 10).
func (l *Ledger) DailyRealizedPnL(ctx context.Context, date string) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `SELECT SUM(realized_pnl) FROM daily_pnl WHERE date = ?`, date).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: daily realized pnl: %w", err)
	}
	return total.Float64, nil
}

// RecentDailyPnL returns the last n trading days' aggregate realized P&L
// across all users, oldest first — the historical sample window
// risk.HistoricalVaR needs for its percentile calculation.
func (l *Ledger) RecentDailyPnL(ctx context.Context, n int) ([]float64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT SUM(realized_pnl) FROM daily_pnl GROUP BY date ORDER BY date DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent daily pnl: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var sum float64
		if err := rows.Scan(&sum); err != nil {
			return nil, fmt.Errorf("store: recent daily pnl scan: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent daily pnl rows: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecordClosedTrade appends one row to the audit log. The scalar columns
// stay queryable by SQL; payload carries the same record msgpack-encoded,
// the canonical append-only form for replay/export in the hot exit path
// where JSON's allocation overhead would show up under load.
func (l *Ledger) RecordClosedTrade(ctx context.Context, t ClosedTrade) error {
	payload, err := msgpack.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: encode closed trade: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO closed_trades (trade_id, symbol, side, entry_price, exit_price, qty, entry_time, exit_time, strategy, pnl, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, t.Side, t.EntryPrice, t.ExitPrice, t.Qty,
		t.EntryTime.Unix(), t.ExitTime.Unix(), t.Strategy, t.PnL, payload)
	if err != nil {
		return fmt.Errorf("store: record closed trade: %w", err)
	}
	return nil
}

// RecordOutcome updates a strategy's win/loss counters and cumulative P&L
// after a trade closes — feeds the Signal Enhancer's performance factor.
func (l *Ledger) RecordOutcome(ctx context.Context, strategy string, pnl float64) error {
	win, loss := 0, 0
	if pnl >= 0 {
		win = 1
	} else {
		loss = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO strategy_stats (strategy, wins, losses, total_pnl)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(strategy) DO UPDATE SET
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			total_pnl = total_pnl + excluded.total_pnl`,
		strategy, win, loss, pnl)
	if err != nil {
		return fmt.Errorf("store: record outcome: %w", err)
	}
	return nil
}

// StrategyStats returns the current win/loss/P&L counters for a strategy,
// zero-valued if it has never recorded an outcome.
func (l *Ledger) StrategyStats(ctx context.Context, strategy string) (StrategyStat, error) {
	row := StrategyStat{Strategy: strategy}
	err := l.db.QueryRowContext(ctx,
		`SELECT wins, losses, total_pnl FROM strategy_stats WHERE strategy = ?`, strategy).
		Scan(&row.Wins, &row.Losses, &row.TotalPnL)
	if err == sql.ErrNoRows {
		return row, nil
	}
	if err != nil {
		return row, fmt.Errorf("store: strategy stats: %w", err)
	}
	return row, nil
}
