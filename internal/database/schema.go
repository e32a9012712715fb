// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
schema.go - Database Schema Management

This file manages the DuckDB schema: sequences, table creation and
index management.

Tables:
  - works: logical media entries, unique on (title, season)
  - work_metadata / work_aliases: one optional row per work, fill-if-absent
  - sources: provider bindings, globally unique on (provider_name, media_id)
  - episodes: per-source episode list, unique on (source_id, episode_index)
  - comments: danmaku pool, insert-ignore on (episode_id, cid)
  - tmdb_episode_mappings: episode-group renumbering, replaced per group
  - scraper_settings, api_tokens, scheduled_tasks, task_history,
    cache_entries, config_kv, users, ua_rules: operational state

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements; there is
no migration machinery. Text columns that back plain Go strings are
NOT NULL DEFAULT '' so scans never need sql.NullString; only columns
backed by pointer fields (fetched_at, expires_at, last_run, next_run,
finished_at) are nullable.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSequences creates the ID sequences used by integer-keyed tables.
// Works and episodes need numeric IDs because the playback compatibility
// API exposes them as numeric animeId/episodeId values.
func (db *DB) createSequences() error {
	ctx, cancel := schemaContext()
	defer cancel()

	sequences := []string{
		`CREATE SEQUENCE IF NOT EXISTS works_id_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS sources_id_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS episodes_id_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS api_tokens_id_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS users_id_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS ua_rules_id_seq START 1;`,
	}

	for _, query := range sequences {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create sequence: %s: %w", query, err)
		}
	}

	return nil
}

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := db.getTableCreationQueries()

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// getTableCreationQueries returns the table creation SQL statements.
func (db *DB) getTableCreationQueries() []string {
	return []string{
		// Works: one row per logical series or movie. Titles are
		// normalized before insert so (title, season) collisions from
		// different providers land on the same row.
		`CREATE TABLE IF NOT EXISTS works (
			id BIGINT PRIMARY KEY,
			title TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'tv_series',
			season INTEGER NOT NULL DEFAULT 1,
			poster_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (title, season)
		);`,

		// External identifiers, one optional row per work. Fields are
		// fill-if-absent: a non-empty stored value is never overwritten.
		`CREATE TABLE IF NOT EXISTS work_metadata (
			work_id BIGINT PRIMARY KEY,
			tmdb_id TEXT NOT NULL DEFAULT '',
			tmdb_episode_group_id TEXT NOT NULL DEFAULT '',
			bangumi_id TEXT NOT NULL DEFAULT '',
			tvdb_id TEXT NOT NULL DEFAULT '',
			douban_id TEXT NOT NULL DEFAULT '',
			imdb_id TEXT NOT NULL DEFAULT ''
		);`,

		// Alternate titles, one optional row per work, fill-if-absent.
		`CREATE TABLE IF NOT EXISTS work_aliases (
			work_id BIGINT PRIMARY KEY,
			name_en TEXT NOT NULL DEFAULT '',
			name_jp TEXT NOT NULL DEFAULT '',
			name_romaji TEXT NOT NULL DEFAULT '',
			alias_cn_1 TEXT NOT NULL DEFAULT '',
			alias_cn_2 TEXT NOT NULL DEFAULT '',
			alias_cn_3 TEXT NOT NULL DEFAULT ''
		);`,

		// Sources: bindings between a work and a provider media entry.
		// (provider_name, media_id) is globally unique so one upstream
		// comment pool is never imported twice under different works.
		`CREATE TABLE IF NOT EXISTS sources (
			id BIGINT PRIMARY KEY,
			work_id BIGINT NOT NULL,
			provider_name TEXT NOT NULL,
			media_id TEXT NOT NULL,
			favorited BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (provider_name, media_id)
		);`,

		// Episodes within a source, keyed by 1-based index.
		`CREATE TABLE IF NOT EXISTS episodes (
			id BIGINT PRIMARY KEY,
			source_id BIGINT NOT NULL,
			episode_index INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			provider_episode_id TEXT NOT NULL DEFAULT '',
			fetched_at TIMESTAMP,
			comment_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (source_id, episode_index)
		);`,

		// Comments: the danmaku pool. The composite key gives the
		// insert-ignore semantics refreshes rely on.
		`CREATE TABLE IF NOT EXISTS comments (
			episode_id BIGINT NOT NULL,
			cid TEXT NOT NULL,
			p TEXT NOT NULL,
			m TEXT NOT NULL,
			t DOUBLE NOT NULL DEFAULT 0,
			PRIMARY KEY (episode_id, cid)
		);`,

		// TMDB episode-group renumbering. Rows for a group are replaced
		// wholesale when the auto-map job refreshes the group.
		`CREATE TABLE IF NOT EXISTS tmdb_episode_mappings (
			tmdb_tv_id BIGINT NOT NULL,
			group_id TEXT NOT NULL,
			tmdb_episode_id BIGINT NOT NULL,
			tmdb_season_number INTEGER NOT NULL DEFAULT 0,
			tmdb_episode_number INTEGER NOT NULL DEFAULT 0,
			custom_season_number INTEGER NOT NULL DEFAULT 0,
			custom_episode_number INTEGER NOT NULL DEFAULT 0,
			absolute_episode_number INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (group_id, tmdb_episode_id)
		);`,

		// Per-provider toggles and search ordering.
		`CREATE TABLE IF NOT EXISTS scraper_settings (
			provider_name TEXT PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			display_order INTEGER NOT NULL DEFAULT 0
		);`,

		// Tokens that authorize the playback compatibility API.
		`CREATE TABLE IF NOT EXISTS api_tokens (
			id BIGINT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			label TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		// Cron-driven job definitions.
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			job_type TEXT NOT NULL,
			cron_expression TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_run TIMESTAMP,
			next_run TIMESTAMP
		);`,

		// Execution history for queued tasks, one row per submission.
		`CREATE TABLE IF NOT EXISTS task_history (
			task_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			finished_at TIMESTAMP
		);`,

		// Provider response cache with per-row TTL.
		`CREATE TABLE IF NOT EXISTS cache_entries (
			provider TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			cache_value BLOB NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, cache_key)
		);`,

		// Runtime key/value settings (provider cookies, TMDB key, UA
		// filter mode). Values here override the static config.
		`CREATE TABLE IF NOT EXISTS config_kv (
			config_key TEXT PRIMARY KEY,
			config_value TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		// Administrative accounts.
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,

		// User-Agent filter entries for the compatibility API.
		`CREATE TABLE IF NOT EXISTS ua_rules (
			id BIGINT PRIMARY KEY,
			prefix TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
	}
}

// createIndexes creates database indexes for query optimization.
// Skips index creation if cfg.SkipIndexes is true (for fast test setup).
func (db *DB) createIndexes() error {
	if db.cfg != nil && db.cfg.SkipIndexes {
		return nil
	}
	return db.doCreateIndexes()
}

// CreateIndexes creates all database indexes. Exposed for tests that
// specifically exercise index-dependent paths; most tests should use
// SkipIndexes: true for fast setup.
func (db *DB) CreateIndexes() error {
	return db.doCreateIndexes()
}

func (db *DB) doCreateIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := db.getIndexQueries()

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute index query: %s: %w", query, err)
		}
	}

	return nil
}

// getIndexQueries returns index creation SQL statements.
func (db *DB) getIndexQueries() []string {
	return []string{
		// Title search (compat search endpoints and webhook matching)
		`CREATE INDEX IF NOT EXISTS idx_works_title ON works(title);`,

		// Source lookups by owning work
		`CREATE INDEX IF NOT EXISTS idx_sources_work ON sources(work_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sources_work_favorited ON sources(work_id, favorited);`,

		// Episode lookups by source
		`CREATE INDEX IF NOT EXISTS idx_episodes_source ON episodes(source_id);`,

		// Comment pool scans by episode
		`CREATE INDEX IF NOT EXISTS idx_comments_episode ON comments(episode_id);`,

		// Episode-group mapping lookups: webhook events arrive with the
		// platform's (season, episode) numbering
		`CREATE INDEX IF NOT EXISTS idx_mappings_custom ON tmdb_episode_mappings(tmdb_tv_id, custom_season_number, custom_episode_number);`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_group ON tmdb_episode_mappings(group_id);`,

		// Task history listing (newest first) and status filtering
		`CREATE INDEX IF NOT EXISTS idx_task_history_created ON task_history(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_task_history_status ON task_history(status);`,

		// Cache sweeping
		`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);`,

		// Scheduler startup scan
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_enabled ON scheduled_tasks(enabled);`,
	}
}
