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

	"github.com/kotodama-lab/danmuhive/internal/models"
)

// Config KV keys used across the codebase. Provider session cookies use
// the "provider." prefix with the provider name appended.
const (
	ConfigKeyTmdbAPIKey   = "metadata.tmdb_api_key"
	ConfigKeyUAFilterMode = "ua_filter.mode"
)

// ProviderCookieKey returns the config KV key holding a provider's
// persisted session cookie.
func ProviderCookieKey(provider string) string {
	return "provider." + provider + ".cookie"
}

// SyncScraperSettings registers newly discovered providers. Each missing
// provider gets a row with enabled=true and a display_order after every
// existing row; rows for already known providers are left untouched, so
// operator ordering and toggles survive restarts.
func (db *DB) SyncScraperSettings(ctx context.Context, providers []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	existing := make(map[string]struct{})
	maxOrder := 0
	rows, err := tx.QueryContext(ctx, `SELECT provider_name, display_order FROM scraper_settings`)
	if err != nil {
		return fmt.Errorf("failed to read scraper settings: %w", err)
	}
	for rows.Next() {
		var name string
		var order int
		if err := rows.Scan(&name, &order); err != nil {
			closeQuietly(rows)
			return fmt.Errorf("failed to scan scraper setting: %w", err)
		}
		existing[name] = struct{}{}
		if order > maxOrder {
			maxOrder = order
		}
	}
	if err := rows.Err(); err != nil {
		closeQuietly(rows)
		return fmt.Errorf("error iterating scraper settings: %w", err)
	}
	closeQuietly(rows)

	for _, name := range providers {
		if _, known := existing[name]; known {
			continue
		}
		maxOrder++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scraper_settings (provider_name, enabled, display_order) VALUES (?, TRUE, ?)`,
			name, maxOrder); err != nil {
			return fmt.Errorf("failed to register provider %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scraper settings sync: %w", err)
	}
	return nil
}

// ListScraperSettings retrieves all provider settings in display order.
func (db *DB) ListScraperSettings(ctx context.Context) ([]models.ScraperSetting, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT provider_name, enabled, display_order
		 FROM scraper_settings ORDER BY display_order ASC, provider_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scraper settings: %w", err)
	}
	defer rows.Close()

	settings := make([]models.ScraperSetting, 0)
	for rows.Next() {
		var s models.ScraperSetting
		if err := rows.Scan(&s.ProviderName, &s.Enabled, &s.DisplayOrder); err != nil {
			return nil, fmt.Errorf("failed to scan scraper setting: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scraper settings: %w", err)
	}
	return settings, nil
}

// UpdateScraperSettings applies a batch of enabled/order changes in one
// transaction. Unknown provider names are rejected so a stale admin UI
// cannot create phantom rows.
func (db *DB) UpdateScraperSettings(ctx context.Context, settings []models.ScraperSetting) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	for _, s := range settings {
		result, err := tx.ExecContext(ctx,
			`UPDATE scraper_settings SET enabled = ?, display_order = ? WHERE provider_name = ?`,
			s.Enabled, s.DisplayOrder, s.ProviderName)
		if err != nil {
			return fmt.Errorf("failed to update scraper setting %s: %w", s.ProviderName, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: provider %s", ErrNotFound, s.ProviderName)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scraper settings: %w", err)
	}
	return nil
}

// GetConfigValue reads a runtime configuration value. Returns ErrNotFound
// when the key has never been written.
func (db *DB) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT config_value FROM config_kv WHERE config_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config value: %w", err)
	}
	return value, nil
}

// GetConfigValueDefault reads a runtime configuration value, falling back
// to def when the key is absent.
func (db *DB) GetConfigValueDefault(ctx context.Context, key, def string) (string, error) {
	value, err := db.GetConfigValue(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetConfigValue writes a runtime configuration value, replacing any
// previous value for the key.
func (db *DB) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO config_kv (config_key, config_value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (config_key) DO UPDATE SET
			config_value = excluded.config_value,
			updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}
	return nil
}

// DeleteConfigValue removes a runtime configuration key. Deleting an
// absent key is not an error.
func (db *DB) DeleteConfigValue(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM config_kv WHERE config_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete config value: %w", err)
	}
	return nil
}

// ListUARules retrieves all User-Agent filter entries.
func (db *DB) ListUARules(ctx context.Context) ([]models.UARule, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, prefix, created_at FROM ua_rules ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ua rules: %w", err)
	}
	defer rows.Close()

	rules := make([]models.UARule, 0)
	for rows.Next() {
		var r models.UARule
		if err := rows.Scan(&r.ID, &r.Prefix, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ua rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ua rules: %w", err)
	}
	return rules, nil
}

// AddUARule appends a User-Agent prefix to the filter list.
func (db *DB) AddUARule(ctx context.Context, prefix string) (*models.UARule, error) {
	if prefix == "" {
		return nil, fmt.Errorf("ua rule prefix must not be empty")
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO ua_rules (id, prefix) VALUES (nextval('ua_rules_id_seq'), ?)`, prefix)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to add ua rule: %w", err)
	}

	var r models.UARule
	err = db.conn.QueryRowContext(ctx,
		`SELECT id, prefix, created_at FROM ua_rules WHERE prefix = ?`, prefix).
		Scan(&r.ID, &r.Prefix, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back ua rule: %w", err)
	}
	return &r, nil
}

// DeleteUARule removes a User-Agent filter entry by ID.
func (db *DB) DeleteUARule(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM ua_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ua rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
