// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tenderscope/tenderscope/internal/store"
)

// Compile-time interface check.
var _ store.HealthStore = (*HealthStore)(nil)

// HealthStore implements store.HealthStore backed by a SQLite database.
// Failure counter increments happen inside the upsert statement, so
// concurrent failure writes for the same identifier never lose updates.
type HealthStore struct {
	db      *sql.DB
	nowFunc func() time.Time // for testing
}

// NewHealthStore opens (or creates) a SQLite database at dbPath and
// initialises the key_health table.
func NewHealthStore(dbPath string) (*HealthStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening health db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging health db: %w", err)
	}

	if err := migrateHealth(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating health db: %w", err)
	}

	return &HealthStore{db: db, nowFunc: time.Now}, nil
}

func migrateHealth(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS key_health (
	identifier           TEXT PRIMARY KEY,
	status               TEXT NOT NULL DEFAULT 'HEALTHY',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	daily_failures       INTEGER NOT NULL DEFAULT 0,
	last_checked_at      TEXT NOT NULL,
	retry_at             TEXT,
	recent_errors        TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_key_health_status ON key_health(status);
`
	_, err := db.Exec(ddl)
	return err
}

// SetNowFunc overrides the time source (for testing).
func (s *HealthStore) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

func (s *HealthStore) Get(ctx context.Context, identifier string) (*store.KeyHealth, error) {
	const q = `SELECT identifier, status, consecutive_failures, daily_failures, last_checked_at, retry_at, recent_errors
FROM key_health WHERE identifier = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, identifier))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("key health %s: %w", identifier, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting key health %s: %w", identifier, err)
	}
	return rec, nil
}

func (s *HealthStore) GetMany(ctx context.Context, identifiers []string) (map[string]*store.KeyHealth, error) {
	out := make(map[string]*store.KeyHealth, len(identifiers))
	if len(identifiers) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(identifiers)), ",")
	q := `SELECT identifier, status, consecutive_failures, daily_failures, last_checked_at, retry_at, recent_errors
FROM key_health WHERE identifier IN (` + placeholders + `)`

	args := make([]any, len(identifiers))
	for i, id := range identifiers {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("batch reading key health: %w", err)
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning key health row: %w", err)
		}
		out[rec.Identifier] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating key health rows: %w", err)
	}
	return out, nil
}

func (s *HealthStore) RecordSuccess(ctx context.Context, identifier string) error {
	if identifier == "" {
		return fmt.Errorf("record success: %w", store.ErrInvalidInput)
	}

	// daily_failures only rolls over with the daily reset, so the
	// conflict branch leaves it untouched.
	const q = `INSERT INTO key_health (identifier, status, consecutive_failures, daily_failures, last_checked_at, recent_errors)
VALUES (?, 'HEALTHY', 0, 0, ?, '[]')
ON CONFLICT(identifier) DO UPDATE SET
	status = 'HEALTHY',
	consecutive_failures = 0,
	last_checked_at = excluded.last_checked_at`

	if _, err := s.db.ExecContext(ctx, q, identifier, formatTime(s.nowFunc())); err != nil {
		return fmt.Errorf("recording success for %s: %w", identifier, err)
	}
	return nil
}

func (s *HealthStore) RecordFailure(ctx context.Context, identifier string, sample store.ErrorSample, cooldownFor store.CooldownFunc) error {
	if identifier == "" {
		return fmt.Errorf("record failure: %w", store.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx for %s: %w", identifier, err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.nowFunc()

	// Increment inside the statement and read back the new counters;
	// the cooldown must be derived from the post-increment values.
	const upsert = `INSERT INTO key_health (identifier, status, consecutive_failures, daily_failures, last_checked_at, recent_errors)
VALUES (?, 'UNHEALTHY', 1, 1, ?, '[]')
ON CONFLICT(identifier) DO UPDATE SET
	status = 'UNHEALTHY',
	consecutive_failures = consecutive_failures + 1,
	daily_failures = daily_failures + 1,
	last_checked_at = excluded.last_checked_at
RETURNING consecutive_failures, daily_failures, recent_errors`

	var consecutive, daily int
	var errorsJSON string
	if err := tx.QueryRowContext(ctx, upsert, identifier, formatTime(now)).Scan(&consecutive, &daily, &errorsJSON); err != nil {
		return fmt.Errorf("upserting failure for %s: %w", identifier, err)
	}

	var samples []store.ErrorSample
	if err := json.Unmarshal([]byte(errorsJSON), &samples); err != nil {
		// A corrupt sample list should not block health bookkeeping.
		samples = nil
	}
	samples = append(samples, sample)
	if len(samples) > store.MaxRecentErrors {
		samples = samples[len(samples)-store.MaxRecentErrors:]
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encoding error samples for %s: %w", identifier, err)
	}

	retryAt := now.Add(cooldownFor(consecutive, daily))
	const update = `UPDATE key_health SET retry_at = ?, recent_errors = ? WHERE identifier = ?`
	if _, err := tx.ExecContext(ctx, update, formatTime(retryAt), string(data), identifier); err != nil {
		return fmt.Errorf("updating cooldown for %s: %w", identifier, err)
	}

	return tx.Commit()
}

func (s *HealthStore) ListByStatus(ctx context.Context, status store.Status) ([]*store.KeyHealth, error) {
	q := `SELECT identifier, status, consecutive_failures, daily_failures, last_checked_at, retry_at, recent_errors
FROM key_health`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY identifier ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing key health: %w", err)
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var out []*store.KeyHealth
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning key health row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating key health rows: %w", err)
	}
	return out, nil
}

func (s *HealthStore) ResetAll(ctx context.Context) (int64, error) {
	const q = `UPDATE key_health SET status = 'HEALTHY', consecutive_failures = 0, daily_failures = 0, retry_at = NULL`

	result, err := s.db.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("resetting key health: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reset rows: %w", err)
	}
	return rows, nil
}

// Close closes the underlying database connection.
func (s *HealthStore) Close() error { return s.db.Close() }

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*store.KeyHealth, error) {
	var rec store.KeyHealth
	var status, lastChecked, errorsJSON string
	var retryAt sql.NullString

	if err := row.Scan(&rec.Identifier, &status, &rec.ConsecutiveFailures, &rec.DailyFailures, &lastChecked, &retryAt, &errorsJSON); err != nil {
		return nil, err
	}

	rec.Status = store.Status(status)
	rec.LastCheckedAt = parseTime(lastChecked)
	if retryAt.Valid && retryAt.String != "" {
		t := parseTime(retryAt.String)
		rec.RetryAt = &t
	}
	if err := json.Unmarshal([]byte(errorsJSON), &rec.RecentErrors); err != nil {
		return nil, fmt.Errorf("decoding error samples for %s: %w", rec.Identifier, err)
	}
	return &rec, nil
}

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
