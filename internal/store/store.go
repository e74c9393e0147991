// Package store implements the shared key/value store and the persisted
// trading-state tables (§6 Persisted state). Grounded on the teacher's
// clientdata.Repository TTL-table pattern (internal/clientdata/repository.go),
// generalized from a fixed three-table allowlist to a single generic
// key/value table, since the control plane's key families
// (post_exit_cooldown:<date>:<symbol>, broker_token:<user>, last_sync:<user>,
// bias:snapshot) are unbounded strings rather than per-entity tables.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is the shared key/value abstraction used for cooldowns, broker
// tokens, and cross-restart bias snapshots.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// SQLStore is the default Store, backed by a single generic kv_cache table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-opened *sql.DB. Callers are responsible for
// having applied the schema (see Migrate).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the tables this package owns if they do not exist.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_pnl (
			user_id TEXT NOT NULL,
			date TEXT NOT NULL,
			realized_pnl REAL NOT NULL,
			starting_capital REAL NOT NULL,
			ending_capital REAL NOT NULL,
			PRIMARY KEY (user_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS closed_trades (
			trade_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			qty REAL NOT NULL,
			entry_time INTEGER NOT NULL,
			exit_time INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			pnl REAL NOT NULL,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_stats (
			strategy TEXT PRIMARY KEY,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Set upserts key with expiry = now + ttl, stored in whole Unix seconds.
// ttl <= 0 means "never expires" (stored as a far-future timestamp).
func (s *SQLStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl <= 0 {
		expiresAt = time.Now().AddDate(100, 0, 0).Unix()
	} else {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	return nil
}

// Get returns the value for key if present and not expired.
func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_cache WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %q: %w", key, err)
	}
	if time.Now().Unix() > expiresAt {
		return "", false, nil
	}
	return value, true, nil
}

// Exists reports whether key is present and not expired, without
// retrieving its value.
func (s *SQLStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Delete removes key. Idempotent.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_cache WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// DeleteExpired purges expired rows, returning the number removed. Called
// periodically by internal/scheduler.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_cache WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: delete expired: %w", err)
	}
	return res.RowsAffected()
}
