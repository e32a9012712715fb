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

	"github.com/kotodama-lab/danmuhive/internal/models"
)

// LinkSource binds a provider media entry to a work, or returns the
// existing binding. (provider_name, media_id) is globally unique: if the
// pair is already linked, the existing source is returned unchanged even
// when it belongs to a different work, so one upstream comment pool never
// gets imported twice.
func (db *DB) LinkSource(ctx context.Context, workID int64, provider, mediaID string) (*models.Source, bool, error) {
	if provider == "" || mediaID == "" {
		return nil, false, fmt.Errorf("provider and media id must not be empty")
	}

	existing, err := db.FindSource(ctx, provider, mediaID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if err == nil {
		return existing, false, nil
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO sources (id, work_id, provider_name, media_id)
		 VALUES (nextval('sources_id_seq'), ?, ?, ?)`,
		workID, provider, mediaID)
	if err != nil {
		if isUniqueConstraintError(err) {
			s, serr := db.FindSource(ctx, provider, mediaID)
			if serr != nil {
				return nil, false, serr
			}
			return s, false, nil
		}
		return nil, false, fmt.Errorf("failed to link source: %w", err)
	}

	created, err := db.FindSource(ctx, provider, mediaID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// FindSource retrieves a source by its globally unique provider binding.
func (db *DB) FindSource(ctx context.Context, provider, mediaID string) (*models.Source, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, work_id, provider_name, media_id, favorited, created_at
		 FROM sources WHERE provider_name = ? AND media_id = ?`, provider, mediaID)
	return scanSource(row)
}

// GetSource retrieves a source by ID.
func (db *DB) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, work_id, provider_name, media_id, favorited, created_at
		 FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// ListSourcesForWork retrieves all sources bound to a work, ordered by
// the provider display order so callers iterate in search priority.
func (db *DB) ListSourcesForWork(ctx context.Context, workID int64) ([]models.Source, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT s.id, s.work_id, s.provider_name, s.media_id, s.favorited, s.created_at
		 FROM sources s
		 LEFT JOIN scraper_settings ss ON ss.provider_name = s.provider_name
		 WHERE s.work_id = ?
		 ORDER BY s.favorited DESC, COALESCE(ss.display_order, 9999) ASC, s.id ASC`, workID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.Source, 0)
	for rows.Next() {
		var s models.Source
		if err := rows.Scan(&s.ID, &s.WorkID, &s.Provider, &s.MediaID, &s.Favorited, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	return sources, nil
}

// SetSourceFavorited marks or unmarks a source as the preferred danmaku
// origin for its work. Favoriting clears the flag from every sibling in
// the same transaction, so at most one source per work is ever favorited.
func (db *DB) SetSourceFavorited(ctx context.Context, sourceID int64, favorited bool) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	var workID int64
	err = tx.QueryRowContext(ctx, `SELECT work_id FROM sources WHERE id = ?`, sourceID).Scan(&workID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to resolve source: %w", err)
	}

	if favorited {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sources SET favorited = FALSE WHERE work_id = ? AND favorited`, workID); err != nil {
			return fmt.Errorf("failed to clear sibling favorites: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sources SET favorited = ? WHERE id = ?`, favorited, sourceID); err != nil {
		return fmt.Errorf("failed to update source favorite: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit favorite change: %w", err)
	}
	return nil
}

// GetFavoritedSource returns the favorited source for a work, or
// ErrNotFound when the work has none.
func (db *DB) GetFavoritedSource(ctx context.Context, workID int64) (*models.Source, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, work_id, provider_name, media_id, favorited, created_at
		 FROM sources WHERE work_id = ? AND favorited`, workID)
	return scanSource(row)
}

// ClearSourceEpisodes deletes every episode of a source together with
// its comments, keeping the source row itself. A full refresh starts
// from this so the re-import never merges stale episode lists.
func (db *DB) ClearSourceEpisodes(ctx context.Context, sourceID int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM comments WHERE episode_id IN (SELECT id FROM episodes WHERE source_id = ?)`, sourceID); err != nil {
		return fmt.Errorf("failed to delete source comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to delete source episodes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit episode clear: %w", err)
	}
	return nil
}

// DeleteSource removes a source along with its episodes and comments.
func (db *DB) DeleteSource(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM comments WHERE episode_id IN (SELECT id FROM episodes WHERE source_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete source comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete source episodes: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit source deletion: %w", err)
	}
	return nil
}

func scanSource(row *sql.Row) (*models.Source, error) {
	var s models.Source
	err := row.Scan(&s.ID, &s.WorkID, &s.Provider, &s.MediaID, &s.Favorited, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}
	return &s, nil
}
