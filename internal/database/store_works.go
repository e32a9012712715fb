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
	"strings"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

// GetOrCreateWork finds the work identified by (title, season) or creates
// it. The title is normalized first, so callers may pass raw provider
// titles. Returns the work and whether it was created by this call.
//
// When the work already exists, an empty stored poster URL is filled from
// the incoming value; kind and season are never rewritten.
func (db *DB) GetOrCreateWork(ctx context.Context, title string, kind models.MediaKind, season int, posterURL string) (*models.Work, bool, error) {
	normalized := models.NormalizeWorkTitle(title)
	if normalized == "" {
		return nil, false, fmt.Errorf("work title must not be empty")
	}
	if !kind.Valid() {
		return nil, false, fmt.Errorf("invalid media kind %q", kind)
	}
	if season < 1 {
		season = 1
	}

	existing, err := db.getWorkByTitleSeason(ctx, normalized, season)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if err == nil {
		if existing.PosterURL == "" && posterURL != "" {
			if _, err := db.conn.ExecContext(ctx,
				`UPDATE works SET poster_url = ? WHERE id = ?`, posterURL, existing.ID); err != nil {
				return nil, false, fmt.Errorf("failed to update work poster: %w", err)
			}
			existing.PosterURL = posterURL
		}
		return existing, false, nil
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO works (id, title, kind, season, poster_url)
		 VALUES (nextval('works_id_seq'), ?, ?, ?, ?)`,
		normalized, string(kind), season, posterURL)
	if err != nil {
		// A concurrent import may have created the row between our
		// lookup and insert; the unique constraint converts that race
		// into a retryable read.
		if isUniqueConstraintError(err) {
			w, serr := db.getWorkByTitleSeason(ctx, normalized, season)
			if serr != nil {
				return nil, false, serr
			}
			return w, false, nil
		}
		return nil, false, fmt.Errorf("failed to create work: %w", err)
	}

	created, err := db.getWorkByTitleSeason(ctx, normalized, season)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (db *DB) getWorkByTitleSeason(ctx context.Context, title string, season int) (*models.Work, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, title, kind, season, poster_url, created_at
		 FROM works WHERE title = ? AND season = ?`, title, season)
	return scanWork(row)
}

// FindWorkByTitleSeason looks up a work by normalized title and season
// without creating one. Returns ErrNotFound when nothing matches.
func (db *DB) FindWorkByTitleSeason(ctx context.Context, title string, season int) (*models.Work, error) {
	return db.getWorkByTitleSeason(ctx, models.NormalizeWorkTitle(title), season)
}

// GetWork retrieves a work by ID.
func (db *DB) GetWork(ctx context.Context, id int64) (*models.Work, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, title, kind, season, poster_url, created_at
		 FROM works WHERE id = ?`, id)
	return scanWork(row)
}

// ListWorks retrieves all works ordered by title then season.
func (db *DB) ListWorks(ctx context.Context) ([]models.Work, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, title, kind, season, poster_url, created_at
		 FROM works ORDER BY title ASC, season ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list works: %w", err)
	}
	defer rows.Close()

	works := make([]models.Work, 0)
	for rows.Next() {
		w, err := scanWorkRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work: %w", err)
		}
		works = append(works, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating works: %w", err)
	}
	return works, nil
}

// SearchWorksByTitle finds works whose normalized title or any stored
// alias contains the query, case-insensitively. Results are ordered by
// title for stable pagination.
func (db *DB) SearchWorksByTitle(ctx context.Context, query string) ([]models.Work, error) {
	q := strings.ToLower(models.NormalizeWorkTitle(query))
	if q == "" {
		return []models.Work{}, nil
	}
	pattern := "%" + q + "%"

	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT w.id, w.title, w.kind, w.season, w.poster_url, w.created_at
		 FROM works w
		 LEFT JOIN work_aliases a ON a.work_id = w.id
		 WHERE LOWER(w.title) LIKE ?
		    OR LOWER(a.name_en) LIKE ?
		    OR LOWER(a.name_jp) LIKE ?
		    OR LOWER(a.name_romaji) LIKE ?
		    OR LOWER(a.alias_cn_1) LIKE ?
		    OR LOWER(a.alias_cn_2) LIKE ?
		    OR LOWER(a.alias_cn_3) LIKE ?
		 ORDER BY w.title ASC, w.season ASC`,
		pattern, pattern, pattern, pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search works: %w", err)
	}
	defer rows.Close()

	works := make([]models.Work, 0)
	for rows.Next() {
		w, err := scanWorkRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work: %w", err)
		}
		works = append(works, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating works: %w", err)
	}
	return works, nil
}

// DeleteWork removes a work and everything hanging off it: comments,
// episodes, sources, metadata and aliases, all in one transaction.
func (db *DB) DeleteWork(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	statements := []string{
		`DELETE FROM comments WHERE episode_id IN (
			SELECT e.id FROM episodes e
			JOIN sources s ON e.source_id = s.id
			WHERE s.work_id = ?)`,
		`DELETE FROM episodes WHERE source_id IN (
			SELECT id FROM sources WHERE work_id = ?)`,
		`DELETE FROM sources WHERE work_id = ?`,
		`DELETE FROM work_metadata WHERE work_id = ?`,
		`DELETE FROM work_aliases WHERE work_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete work children: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM works WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete work: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit work deletion: %w", err)
	}
	return nil
}

// UpsertWorkMetadata stores external identifiers for a work with
// fill-if-absent semantics: a non-empty stored value is never replaced,
// so manual corrections survive automated refreshes.
func (db *DB) UpsertWorkMetadata(ctx context.Context, meta *models.WorkMetadata) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO work_metadata (work_id, tmdb_id, tmdb_episode_group_id, bangumi_id, tvdb_id, douban_id, imdb_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (work_id) DO UPDATE SET
			tmdb_id = CASE WHEN work_metadata.tmdb_id = '' THEN excluded.tmdb_id ELSE work_metadata.tmdb_id END,
			tmdb_episode_group_id = CASE WHEN work_metadata.tmdb_episode_group_id = '' THEN excluded.tmdb_episode_group_id ELSE work_metadata.tmdb_episode_group_id END,
			bangumi_id = CASE WHEN work_metadata.bangumi_id = '' THEN excluded.bangumi_id ELSE work_metadata.bangumi_id END,
			tvdb_id = CASE WHEN work_metadata.tvdb_id = '' THEN excluded.tvdb_id ELSE work_metadata.tvdb_id END,
			douban_id = CASE WHEN work_metadata.douban_id = '' THEN excluded.douban_id ELSE work_metadata.douban_id END,
			imdb_id = CASE WHEN work_metadata.imdb_id = '' THEN excluded.imdb_id ELSE work_metadata.imdb_id END`,
		meta.WorkID, meta.TmdbID, meta.TmdbEpisodeGroupID, meta.BangumiID, meta.TvdbID, meta.DoubanID, meta.ImdbID)
	if err != nil {
		return fmt.Errorf("failed to upsert work metadata: %w", err)
	}
	return nil
}

// GetWorkMetadata retrieves the metadata row for a work.
func (db *DB) GetWorkMetadata(ctx context.Context, workID int64) (*models.WorkMetadata, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT work_id, tmdb_id, tmdb_episode_group_id, bangumi_id, tvdb_id, douban_id, imdb_id
		 FROM work_metadata WHERE work_id = ?`, workID)

	var m models.WorkMetadata
	err := row.Scan(&m.WorkID, &m.TmdbID, &m.TmdbEpisodeGroupID, &m.BangumiID, &m.TvdbID, &m.DoubanID, &m.ImdbID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work metadata: %w", err)
	}
	return &m, nil
}

// FindWorkIDByExternalID finds the work bound to an external identifier.
// idType is one of tmdb, imdb, tvdb, douban, bangumi.
func (db *DB) FindWorkIDByExternalID(ctx context.Context, idType, idValue string) (int64, error) {
	columns := map[string]string{
		"tmdb":    "tmdb_id",
		"imdb":    "imdb_id",
		"tvdb":    "tvdb_id",
		"douban":  "douban_id",
		"bangumi": "bangumi_id",
	}
	column, ok := columns[idType]
	if !ok {
		return 0, fmt.Errorf("unknown external id type %q", idType)
	}
	if idValue == "" {
		return 0, ErrNotFound
	}

	var workID int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT work_id FROM work_metadata WHERE `+column+` = ?`, idValue).Scan(&workID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up external id: %w", err)
	}
	return workID, nil
}

// UpsertWorkAliases stores alternate titles with the same fill-if-absent
// semantics as UpsertWorkMetadata.
func (db *DB) UpsertWorkAliases(ctx context.Context, aliases *models.WorkAliases) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO work_aliases (work_id, name_en, name_jp, name_romaji, alias_cn_1, alias_cn_2, alias_cn_3)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (work_id) DO UPDATE SET
			name_en = CASE WHEN work_aliases.name_en = '' THEN excluded.name_en ELSE work_aliases.name_en END,
			name_jp = CASE WHEN work_aliases.name_jp = '' THEN excluded.name_jp ELSE work_aliases.name_jp END,
			name_romaji = CASE WHEN work_aliases.name_romaji = '' THEN excluded.name_romaji ELSE work_aliases.name_romaji END,
			alias_cn_1 = CASE WHEN work_aliases.alias_cn_1 = '' THEN excluded.alias_cn_1 ELSE work_aliases.alias_cn_1 END,
			alias_cn_2 = CASE WHEN work_aliases.alias_cn_2 = '' THEN excluded.alias_cn_2 ELSE work_aliases.alias_cn_2 END,
			alias_cn_3 = CASE WHEN work_aliases.alias_cn_3 = '' THEN excluded.alias_cn_3 ELSE work_aliases.alias_cn_3 END`,
		aliases.WorkID, aliases.NameEn, aliases.NameJp, aliases.NameRomaji,
		aliases.AliasCn1, aliases.AliasCn2, aliases.AliasCn3)
	if err != nil {
		return fmt.Errorf("failed to upsert work aliases: %w", err)
	}
	return nil
}

// GetWorkAliases retrieves the alias row for a work.
func (db *DB) GetWorkAliases(ctx context.Context, workID int64) (*models.WorkAliases, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT work_id, name_en, name_jp, name_romaji, alias_cn_1, alias_cn_2, alias_cn_3
		 FROM work_aliases WHERE work_id = ?`, workID)

	var a models.WorkAliases
	err := row.Scan(&a.WorkID, &a.NameEn, &a.NameJp, &a.NameRomaji, &a.AliasCn1, &a.AliasCn2, &a.AliasCn3)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work aliases: %w", err)
	}
	return &a, nil
}

func scanWork(row *sql.Row) (*models.Work, error) {
	var w models.Work
	var kind string
	err := row.Scan(&w.ID, &w.Title, &kind, &w.Season, &w.PosterURL, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan work: %w", err)
	}
	w.Kind = models.MediaKind(kind)
	return &w, nil
}

func scanWorkRows(rows *sql.Rows) (*models.Work, error) {
	var w models.Work
	var kind string
	if err := rows.Scan(&w.ID, &w.Title, &kind, &w.Season, &w.PosterURL, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Kind = models.MediaKind(kind)
	return &w, nil
}
