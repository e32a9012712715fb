// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheGet reads a cached value. Expired rows are treated as misses and
// left for the sweeper. The second return value reports a hit.
func (db *DB) CacheGet(ctx context.Context, provider, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT cache_value, expires_at FROM cache_entries WHERE provider = ? AND cache_key = ?`,
		provider, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if time.Now().After(expiresAt) {
		return nil, false, nil
	}
	return value, true, nil
}

// CacheSet stores a value with the given TTL, replacing any previous
// entry under the same key.
func (db *DB) CacheSet(ctx context.Context, provider, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO cache_entries (provider, cache_key, cache_value, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, cache_key) DO UPDATE SET
			cache_value = excluded.cache_value,
			expires_at = excluded.expires_at`,
		provider, key, value, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// CacheDelete removes one cache entry. Deleting an absent entry is not
// an error.
func (db *DB) CacheDelete(ctx context.Context, provider, key string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE provider = ? AND cache_key = ?`, provider, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// CacheDeleteProvider removes every cache entry of one provider, used
// when a provider's settings or session change.
func (db *DB) CacheDeleteProvider(ctx context.Context, provider string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE provider = ?`, provider)
	if err != nil {
		return 0, fmt.Errorf("failed to clear provider cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// SweepExpiredCache removes rows whose TTL has elapsed and returns the
// number of rows removed. Called periodically by the cache sweeper.
func (db *DB) SweepExpiredCache(ctx context.Context) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}
