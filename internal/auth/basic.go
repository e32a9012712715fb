// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// ErrBadCredentials is returned by CheckCredentials for an unknown user
// and a wrong password alike.
var ErrBadCredentials = errors.New("auth: invalid username or password")

// UserStore is the persistence the account layer needs. Implemented by
// database.DB.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
}

// EnsureAdminUser creates the bootstrap administrative account when it
// does not exist yet. An existing account is never touched, so a
// password changed through other means survives restarts. With no
// bootstrap password configured and no existing account, the admin
// surface stays locked and a warning is logged.
func EnsureAdminUser(ctx context.Context, store UserStore, username, password string) error {
	if username == "" {
		return fmt.Errorf("admin username must not be empty")
	}

	_, err := store.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	if password == "" {
		logging.Warn().
			Str("username", username).
			Msg("No admin password configured and no admin account exists, admin login is unavailable")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if _, err := store.CreateUser(ctx, username, string(hash)); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	logging.Info().Str("username", username).Msg("Admin account created")
	return nil
}

// CheckCredentials verifies a username/password pair against the store.
// The bcrypt comparison runs even for unknown users so response timing
// does not reveal which usernames exist.
func CheckCredentials(ctx context.Context, store UserStore, username, password string) (*models.User, error) {
	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return user, nil
}

// dummyHash is a valid bcrypt hash of an unguessable value, compared
// against when the username does not exist.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("danmuhive-timing-pad"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()
