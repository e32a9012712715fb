// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package database provides the data access layer for Danmuhive.
//
// # Overview
//
// This package sits between the application and DuckDB, providing
// type-safe query execution and transaction management for the library
// (works, sources, episodes, comments) and for operational state
// (scraper settings, tasks, tokens, cache, runtime config).
//
// # Architecture
//
// The package is organized into domain-specific files:
//
// Core Database Operations:
//   - database.go: Connection lifecycle, pooling, prepared statement cache
//   - schema.go: Sequences, table creation and index management
//   - errors.go: Sentinel errors and close helpers
//
// Stores:
//   - store_works.go: Works, metadata and aliases (fill-if-absent upserts)
//   - store_sources.go: Provider bindings with exclusive favoriting
//   - store_episodes.go: Episode lists and preferred-source selection
//   - store_comments.go: Danmaku pools with insert-ignore batch writes
//   - store_mappings.go: TMDB episode-group renumbering
//   - store_settings.go: Scraper settings, config KV, UA filter rules
//   - store_tokens.go: Playback API tokens
//   - store_tasks.go: Task history and scheduled task definitions
//   - store_cache.go: TTL response cache
//   - store_users.go: Administrative accounts
//
// # Database Technology
//
// The store uses DuckDB through database/sql:
//   - Single-file embedded database, ":memory:" for tests
//   - CGO-based driver (github.com/duckdb/duckdb-go/v2)
//   - ON CONFLICT clauses give the insert-ignore and upsert semantics
//     the import pipeline depends on
//   - CHECKPOINT on close keeps startup free of WAL replay
//
// # Integrity Rules
//
// The schema encodes the invariants callers rely on:
//   - (title, season) unique on works; titles normalized before insert
//   - (provider_name, media_id) globally unique on sources
//   - at most one favorited source per work (enforced transactionally)
//   - (source_id, episode_index) unique on episodes
//   - (episode_id, cid) primary key on comments; comment_count is
//     updated in the same transaction as every pool write
//
// # Thread Safety
//
// All methods are safe for concurrent use; database/sql pools
// connections internally.
package database
