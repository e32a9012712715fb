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

// TmdbMappableWork is a work eligible for episode-group auto-mapping:
// a TV series with a TMDB binding. GroupID carries the currently stored
// episode group, empty when none has been selected yet.
type TmdbMappableWork struct {
	WorkID int64
	Title  string
	Season int
	TmdbID string
	// GroupID is the stored tmdb_episode_group_id, if any.
	GroupID string
}

// ListTmdbMappableWorks returns every TV-series work that has a TMDB id,
// together with its stored episode group. The auto-map job iterates this
// list.
func (db *DB) ListTmdbMappableWorks(ctx context.Context) ([]TmdbMappableWork, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT w.id, w.title, w.season, m.tmdb_id, m.tmdb_episode_group_id
		 FROM works w
		 JOIN work_metadata m ON m.work_id = w.id
		 WHERE w.kind = ? AND m.tmdb_id != ''
		 ORDER BY w.id ASC`, string(models.MediaKindTVSeries))
	if err != nil {
		return nil, fmt.Errorf("failed to list mappable works: %w", err)
	}
	defer rows.Close()

	works := make([]TmdbMappableWork, 0)
	for rows.Next() {
		var w TmdbMappableWork
		if err := rows.Scan(&w.WorkID, &w.Title, &w.Season, &w.TmdbID, &w.GroupID); err != nil {
			return nil, fmt.Errorf("failed to scan mappable work: %w", err)
		}
		works = append(works, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappable works: %w", err)
	}
	return works, nil
}

// SaveTmdbEpisodeGroupMappings replaces every stored mapping for a group
// with the given rows in one transaction. A refresh therefore never
// leaves a mix of old and new numbering behind.
func (db *DB) SaveTmdbEpisodeGroupMappings(ctx context.Context, groupID string, mappings []models.TmdbEpisodeMapping) error {
	if groupID == "" {
		return fmt.Errorf("group id must not be empty")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tmdb_episode_mappings WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to clear group mappings: %w", err)
	}

	for _, m := range mappings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tmdb_episode_mappings
				(tmdb_tv_id, group_id, tmdb_episode_id, tmdb_season_number, tmdb_episode_number,
				 custom_season_number, custom_episode_number, absolute_episode_number)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.TmdbTvID, groupID, m.TmdbEpisodeID, m.TmdbSeasonNumber, m.TmdbEpisodeNumber,
			m.CustomSeasonNumber, m.CustomEpisodeNumber, m.AbsoluteEpisodeNumber); err != nil {
			return fmt.Errorf("failed to insert group mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group mappings: %w", err)
	}
	return nil
}

// GetTmdbMappingByCustom resolves the mapping row for a TMDB show and
// the (season, episode) numbering a media server reported. Webhook
// matching uses this to translate platform numbering into the group's
// episode order.
func (db *DB) GetTmdbMappingByCustom(ctx context.Context, tmdbTvID int64, customSeason, customEpisode int) (*models.TmdbEpisodeMapping, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT tmdb_tv_id, group_id, tmdb_episode_id, tmdb_season_number, tmdb_episode_number,
		        custom_season_number, custom_episode_number, absolute_episode_number
		 FROM tmdb_episode_mappings
		 WHERE tmdb_tv_id = ? AND custom_season_number = ? AND custom_episode_number = ?`,
		tmdbTvID, customSeason, customEpisode)
	return scanTmdbMapping(row)
}

// ListTmdbMappingsForGroup retrieves all stored rows of one episode
// group ordered by the group's own numbering.
func (db *DB) ListTmdbMappingsForGroup(ctx context.Context, groupID string) ([]models.TmdbEpisodeMapping, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT tmdb_tv_id, group_id, tmdb_episode_id, tmdb_season_number, tmdb_episode_number,
		        custom_season_number, custom_episode_number, absolute_episode_number
		 FROM tmdb_episode_mappings
		 WHERE group_id = ?
		 ORDER BY custom_season_number ASC, custom_episode_number ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]models.TmdbEpisodeMapping, 0)
	for rows.Next() {
		var m models.TmdbEpisodeMapping
		if err := rows.Scan(&m.TmdbTvID, &m.GroupID, &m.TmdbEpisodeID, &m.TmdbSeasonNumber, &m.TmdbEpisodeNumber,
			&m.CustomSeasonNumber, &m.CustomEpisodeNumber, &m.AbsoluteEpisodeNumber); err != nil {
			return nil, fmt.Errorf("failed to scan group mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group mappings: %w", err)
	}
	return mappings, nil
}

func scanTmdbMapping(row *sql.Row) (*models.TmdbEpisodeMapping, error) {
	var m models.TmdbEpisodeMapping
	err := row.Scan(&m.TmdbTvID, &m.GroupID, &m.TmdbEpisodeID, &m.TmdbSeasonNumber, &m.TmdbEpisodeNumber,
		&m.CustomSeasonNumber, &m.CustomEpisodeNumber, &m.AbsoluteEpisodeNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tmdb mapping: %w", err)
	}
	return &m, nil
}
