// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package database

import (
	"context"
	"errors"
	"testing"
)

func TestCreateUserAndLookup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n, err := db.CountUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("fresh database has %d users", n)
	}

	user, err := db.CreateUser(ctx, "admin", "$2a$10$fakehashfakehashfakehash")
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if user.ID == 0 || user.Username != "admin" {
		t.Errorf("unexpected user: %+v", user)
	}

	got, err := db.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != user.ID || got.PasswordHash != user.PasswordHash {
		t.Errorf("lookup mismatch: %+v", got)
	}

	if _, err := db.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user should return ErrNotFound, got %v", err)
	}

	if _, err := db.CreateUser(ctx, "admin", "otherhash"); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate username should return ErrConflict, got %v", err)
	}

	n, err = db.CountUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d users, want 1", n)
	}
}

func TestUpdateUserPassword(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.CreateUser(ctx, "admin", "hash-v1")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateUserPassword(ctx, user.ID, "hash-v2"); err != nil {
		t.Fatalf("UpdateUserPassword() failed: %v", err)
	}

	got, err := db.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if got.PasswordHash != "hash-v2" {
		t.Errorf("password hash not rotated: %q", got.PasswordHash)
	}

	if err := db.UpdateUserPassword(ctx, user.ID+999, "hash-v3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user should return ErrNotFound, got %v", err)
	}
}
