// Package store persists per-URL monitoring state in a local sqlite
// database so change detection survives restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flatwatch/flatwatch/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS monitored_urls (
	url             TEXT PRIMARY KEY,
	last_hash       TEXT NOT NULL DEFAULT '',
	total_checks    INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0,
	new_listings    INTEGER NOT NULL DEFAULT 0,
	last_checked_at TIMESTAMP
);`

// SQLite keeps one row per monitored URL. Safe for concurrent use; sqlite
// serializes writers itself.
type SQLite struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the database at path. Use ":memory:"
// for a throwaway store in tests.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection avoids SQLITE_BUSY under concurrent writes
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// LastHash returns the most recent content hash for url, or the empty
// string when the URL was never successfully checked.
func (s *SQLite) LastHash(ctx context.Context, url string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_hash FROM monitored_urls WHERE url = ?`, url).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last hash: %w", err)
	}
	return hash, nil
}

// RecordSuccess stores the new hash and bumps the check counters.
func (s *SQLite) RecordSuccess(ctx context.Context, url, hash string, newListing bool, at time.Time) error {
	listings := 0
	if newListing {
		listings = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_urls (url, last_hash, total_checks, new_listings, last_checked_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			last_hash       = excluded.last_hash,
			total_checks    = total_checks + 1,
			new_listings    = new_listings + excluded.new_listings,
			last_checked_at = excluded.last_checked_at`,
		url, hash, listings, at)
	if err != nil {
		return fmt.Errorf("record success for %s: %w", url, err)
	}
	return nil
}

// RecordFailure bumps the check and error counters without touching the
// stored hash.
func (s *SQLite) RecordFailure(ctx context.Context, url string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_urls (url, total_checks, error_count, last_checked_at)
		VALUES (?, 1, 1, ?)
		ON CONFLICT(url) DO UPDATE SET
			total_checks    = total_checks + 1,
			error_count     = error_count + 1,
			last_checked_at = excluded.last_checked_at`,
		url, at)
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", url, err)
	}
	return nil
}

// Stats returns the persisted counters for url. Unknown URLs yield zeroed
// stats rather than an error.
func (s *SQLite) Stats(ctx context.Context, url string) (*types.MonitoringStats, error) {
	st := &types.MonitoringStats{URL: url}
	var checkedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT last_hash, total_checks, error_count, new_listings, last_checked_at
		FROM monitored_urls WHERE url = ?`, url).
		Scan(&st.LastHash, &st.TotalChecks, &st.ErrorCount, &st.NewListings, &checkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stats for %s: %w", url, err)
	}
	if checkedAt.Valid {
		st.LastCheckedAt = checkedAt.Time
	}
	return st, nil
}

// AllStats returns the counters of every URL ever checked, ordered by URL.
func (s *SQLite) AllStats(ctx context.Context) ([]types.MonitoringStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, last_hash, total_checks, error_count, new_listings, last_checked_at
		FROM monitored_urls ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("query all stats: %w", err)
	}
	defer rows.Close()

	var all []types.MonitoringStats
	for rows.Next() {
		var st types.MonitoringStats
		var checkedAt sql.NullTime
		if err := rows.Scan(&st.URL, &st.LastHash, &st.TotalChecks, &st.ErrorCount, &st.NewListings, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		if checkedAt.Valid {
			st.LastCheckedAt = checkedAt.Time
		}
		all = append(all, st)
	}
	return all, rows.Err()
}
