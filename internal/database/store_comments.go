// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

// commentInsertChunkSize bounds the number of rows per INSERT statement.
// DuckDB handles large statements fine but the placeholder list grows
// linearly; 500 rows keeps statements comfortably sized.
const commentInsertChunkSize = 500

// BulkInsertComments stores a batch of comments for an episode with
// insert-ignore semantics: rows whose (episode_id, cid) already exist
// are skipped silently. The episode's comment_count and fetched_at are
// updated in the same transaction, so the denormalized count can never
// drift from the pool. Returns the number of newly inserted comments.
//
// An empty batch still stamps fetched_at: a refresh that found nothing
// new is still a completed refresh.
func (db *DB) BulkInsertComments(ctx context.Context, episodeID int64, comments []models.Comment) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	// Dedupe within the batch first. Providers occasionally return the
	// same cid twice in one segment, and a multi-row insert must not
	// touch the same key twice.
	inserted := 0
	if len(comments) > 0 {
		seen := make(map[string]struct{}, len(comments))
		unique := make([]models.Comment, 0, len(comments))
		for _, c := range comments {
			if c.CID == "" {
				continue
			}
			if _, dup := seen[c.CID]; dup {
				continue
			}
			seen[c.CID] = struct{}{}
			unique = append(unique, c)
		}

		for start := 0; start < len(unique); start += commentInsertChunkSize {
			end := start + commentInsertChunkSize
			if end > len(unique) {
				end = len(unique)
			}
			chunk := unique[start:end]

			var sb strings.Builder
			sb.WriteString(`INSERT INTO comments (episode_id, cid, p, m, t) VALUES `)
			args := make([]any, 0, len(chunk)*5)
			for i, c := range chunk {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString("(?, ?, ?, ?, ?)")
				args = append(args, episodeID, c.CID, c.P, c.M, c.T)
			}
			sb.WriteString(` ON CONFLICT (episode_id, cid) DO NOTHING`)

			result, err := tx.ExecContext(ctx, sb.String(), args...)
			if err != nil {
				return 0, fmt.Errorf("failed to insert comments: %w", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return 0, fmt.Errorf("failed to get rows affected: %w", err)
			}
			inserted += int(affected)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE episodes SET
			comment_count = (SELECT COUNT(*) FROM comments WHERE episode_id = ?),
			fetched_at = ?
		 WHERE id = ?`, episodeID, time.Now(), episodeID); err != nil {
		return 0, fmt.Errorf("failed to update episode comment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit comment batch: %w", err)
	}
	return inserted, nil
}

// ListComments retrieves the comment pool for an episode ordered by
// playback time.
func (db *DB) ListComments(ctx context.Context, episodeID int64) ([]models.Comment, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT cid, p, m, t FROM comments WHERE episode_id = ? ORDER BY t ASC, cid ASC`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]models.Comment, 0)
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.CID, &c.P, &c.M, &c.T); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

// CountComments returns the pool size for an episode straight from the
// comments table (not the denormalized episode counter).
func (db *DB) CountComments(ctx context.Context, episodeID int64) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE episode_id = ?`, episodeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count comments: %w", err)
	}
	return count, nil
}

// DeleteComments clears the pool for an episode and resets the
// denormalized counter, used before a forced full re-import.
func (db *DB) DeleteComments(ctx context.Context, episodeID int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE episode_id = ?`, episodeID); err != nil {
		return fmt.Errorf("failed to delete comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE episodes SET comment_count = 0 WHERE id = ?`, episodeID); err != nil {
		return fmt.Errorf("failed to reset comment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit comment deletion: %w", err)
	}
	return nil
}
