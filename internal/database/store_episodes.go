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

// UpsertEpisode inserts an episode or refreshes the mutable fields of
// the existing row keyed by (source_id, episode_index). The episode ID
// and comment bookkeeping are preserved across refreshes so already
// imported danmaku stay attached. ep.ID is set on return.
func (db *DB) UpsertEpisode(ctx context.Context, ep *models.Episode) (bool, error) {
	if ep.SourceID == 0 {
		return false, fmt.Errorf("episode source id must be set")
	}
	if ep.Index < 1 {
		return false, fmt.Errorf("episode index must be >= 1, got %d", ep.Index)
	}

	existing, err := db.findEpisodeBySourceIndex(ctx, ep.SourceID, ep.Index)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err == nil {
		if _, err := db.conn.ExecContext(ctx,
			`UPDATE episodes SET title = ?, url = ?, provider_episode_id = ? WHERE id = ?`,
			ep.Title, ep.URL, ep.ProviderEpisodeID, existing.ID); err != nil {
			return false, fmt.Errorf("failed to update episode: %w", err)
		}
		ep.ID = existing.ID
		ep.FetchedAt = existing.FetchedAt
		ep.CommentCount = existing.CommentCount
		return false, nil
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO episodes (id, source_id, episode_index, title, url, provider_episode_id)
		 VALUES (nextval('episodes_id_seq'), ?, ?, ?, ?, ?)`,
		ep.SourceID, ep.Index, ep.Title, ep.URL, ep.ProviderEpisodeID)
	if err != nil {
		if isUniqueConstraintError(err) {
			e, serr := db.findEpisodeBySourceIndex(ctx, ep.SourceID, ep.Index)
			if serr != nil {
				return false, serr
			}
			ep.ID = e.ID
			return false, nil
		}
		return false, fmt.Errorf("failed to insert episode: %w", err)
	}

	created, err := db.findEpisodeBySourceIndex(ctx, ep.SourceID, ep.Index)
	if err != nil {
		return false, err
	}
	ep.ID = created.ID
	return true, nil
}

func (db *DB) findEpisodeBySourceIndex(ctx context.Context, sourceID int64, index int) (*models.Episode, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, source_id, episode_index, title, url, provider_episode_id, fetched_at, comment_count
		 FROM episodes WHERE source_id = ? AND episode_index = ?`, sourceID, index)
	return scanEpisode(row)
}

// GetEpisode retrieves an episode by ID.
func (db *DB) GetEpisode(ctx context.Context, id int64) (*models.Episode, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, source_id, episode_index, title, url, provider_episode_id, fetched_at, comment_count
		 FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

// GetEpisodeAndSource retrieves an episode together with its source.
// Comment retrieval and single-episode refresh both need the provider
// binding that owns the episode.
func (db *DB) GetEpisodeAndSource(ctx context.Context, episodeID int64) (*models.Episode, *models.Source, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT e.id, e.source_id, e.episode_index, e.title, e.url, e.provider_episode_id, e.fetched_at, e.comment_count,
		        s.id, s.work_id, s.provider_name, s.media_id, s.favorited, s.created_at
		 FROM episodes e
		 JOIN sources s ON e.source_id = s.id
		 WHERE e.id = ?`, episodeID)

	var e models.Episode
	var s models.Source
	var fetchedAt sql.NullTime
	err := row.Scan(&e.ID, &e.SourceID, &e.Index, &e.Title, &e.URL, &e.ProviderEpisodeID, &fetchedAt, &e.CommentCount,
		&s.ID, &s.WorkID, &s.Provider, &s.MediaID, &s.Favorited, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get episode with source: %w", err)
	}
	if fetchedAt.Valid {
		e.FetchedAt = &fetchedAt.Time
	}
	return &e, &s, nil
}

// ListEpisodesForSource retrieves all episodes of a source ordered by
// episode index.
func (db *DB) ListEpisodesForSource(ctx context.Context, sourceID int64) ([]models.Episode, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, source_id, episode_index, title, url, provider_episode_id, fetched_at, comment_count
		 FROM episodes WHERE source_id = ? ORDER BY episode_index ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	episodes := make([]models.Episode, 0)
	for rows.Next() {
		e, err := scanEpisodeRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episodes = append(episodes, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating episodes: %w", err)
	}
	return episodes, nil
}

// GetPreferredSourceID picks the source whose episode list represents a
// work: the favorited source if one exists, otherwise the source with
// episodes whose provider sorts first in display order.
func (db *DB) GetPreferredSourceID(ctx context.Context, workID int64) (int64, error) {
	var sourceID int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT s.id
		 FROM sources s
		 LEFT JOIN scraper_settings ss ON ss.provider_name = s.provider_name
		 LEFT JOIN (SELECT source_id, COUNT(*) AS n FROM episodes GROUP BY source_id) ec ON ec.source_id = s.id
		 WHERE s.work_id = ?
		 ORDER BY s.favorited DESC, (COALESCE(ec.n, 0) > 0) DESC, COALESCE(ss.display_order, 9999) ASC, s.id ASC
		 LIMIT 1`, workID).Scan(&sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to pick preferred source: %w", err)
	}
	return sourceID, nil
}

// ListPreferredEpisodes returns the episode list of the work's preferred
// source. This is what search and bangumi detail endpoints serve.
func (db *DB) ListPreferredEpisodes(ctx context.Context, workID int64) ([]models.Episode, error) {
	sourceID, err := db.GetPreferredSourceID(ctx, workID)
	if errors.Is(err, ErrNotFound) {
		return []models.Episode{}, nil
	}
	if err != nil {
		return nil, err
	}
	return db.ListEpisodesForSource(ctx, sourceID)
}

// GetPlayableEpisode finds the episode served for (work, index): the
// favorited source wins, then provider display order breaks ties.
func (db *DB) GetPlayableEpisode(ctx context.Context, workID int64, index int) (*models.Episode, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT e.id, e.source_id, e.episode_index, e.title, e.url, e.provider_episode_id, e.fetched_at, e.comment_count
		 FROM episodes e
		 JOIN sources s ON e.source_id = s.id
		 LEFT JOIN scraper_settings ss ON ss.provider_name = s.provider_name
		 WHERE s.work_id = ? AND e.episode_index = ?
		 ORDER BY s.favorited DESC, COALESCE(ss.display_order, 9999) ASC, s.id ASC
		 LIMIT 1`, workID, index)
	return scanEpisode(row)
}

// DeleteEpisode removes an episode and its comments.
func (db *DB) DeleteEpisode(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE episode_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete episode comments: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete episode: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit episode deletion: %w", err)
	}
	return nil
}

func scanEpisode(row *sql.Row) (*models.Episode, error) {
	var e models.Episode
	var fetchedAt sql.NullTime
	err := row.Scan(&e.ID, &e.SourceID, &e.Index, &e.Title, &e.URL, &e.ProviderEpisodeID, &fetchedAt, &e.CommentCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan episode: %w", err)
	}
	if fetchedAt.Valid {
		e.FetchedAt = &fetchedAt.Time
	}
	return &e, nil
}

func scanEpisodeRows(rows *sql.Rows) (*models.Episode, error) {
	var e models.Episode
	var fetchedAt sql.NullTime
	if err := rows.Scan(&e.ID, &e.SourceID, &e.Index, &e.Title, &e.URL, &e.ProviderEpisodeID, &fetchedAt, &e.CommentCount); err != nil {
		return nil, err
	}
	if fetchedAt.Valid {
		e.FetchedAt = &fetchedAt.Time
	}
	return &e, nil
}
