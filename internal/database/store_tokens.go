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

// ErrTokenInvalid is returned by ValidateApiToken for unknown, disabled
// and expired tokens alike. Callers must not distinguish the cases: the
// compatibility API answers all three with the same rejection.
var ErrTokenInvalid = errors.New("api token invalid")

// CreateApiToken stores a new playback API token. expiresAt nil means
// the token never expires.
func (db *DB) CreateApiToken(ctx context.Context, token, label string, expiresAt *time.Time) (*models.ApiToken, error) {
	if token == "" {
		return nil, fmt.Errorf("token must not be empty")
	}

	var expires any
	if expiresAt != nil {
		expires = *expiresAt
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO api_tokens (id, token, label, enabled, expires_at)
		 VALUES (nextval('api_tokens_id_seq'), ?, ?, TRUE, ?)`,
		token, label, expires)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create api token: %w", err)
	}

	return db.GetApiTokenByToken(ctx, token)
}

// GetApiTokenByToken retrieves a token row by its token string.
func (db *DB) GetApiTokenByToken(ctx context.Context, token string) (*models.ApiToken, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, token, label, enabled, expires_at, created_at
		 FROM api_tokens WHERE token = ?`, token)
	return scanApiToken(row)
}

// ListApiTokens retrieves all playback API tokens, newest first.
func (db *DB) ListApiTokens(ctx context.Context) ([]models.ApiToken, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, token, label, enabled, expires_at, created_at
		 FROM api_tokens ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]models.ApiToken, 0)
	for rows.Next() {
		var t models.ApiToken
		var expiresAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Token, &t.Label, &t.Enabled, &expiresAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api token: %w", err)
		}
		if expiresAt.Valid {
			t.ExpiresAt = &expiresAt.Time
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api tokens: %w", err)
	}
	return tokens, nil
}

// SetApiTokenEnabled toggles a token without deleting its history.
func (db *DB) SetApiTokenEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE api_tokens SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update api token: %w", err)
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

// DeleteApiToken removes a token permanently.
func (db *DB) DeleteApiToken(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api token: %w", err)
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

// ValidateApiToken checks a token string for the compatibility API.
// Unknown, disabled and expired tokens all return ErrTokenInvalid.
func (db *DB) ValidateApiToken(ctx context.Context, token string) (*models.ApiToken, error) {
	t, err := db.GetApiTokenByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if !t.Enabled || t.Expired(time.Now()) {
		return nil, ErrTokenInvalid
	}
	return t, nil
}

func scanApiToken(row *sql.Row) (*models.ApiToken, error) {
	var t models.ApiToken
	var expiresAt sql.NullTime
	err := row.Scan(&t.ID, &t.Token, &t.Label, &t.Enabled, &expiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api token: %w", err)
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	return &t, nil
}
