// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package database

import (
	"errors"
	"io"
	"strings"

	"github.com/kotodama-lab/danmuhive/internal/logging"
)

// Sentinel errors shared by all stores. Callers distinguish "row does
// not exist" from infrastructure failures with errors.Is.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert violates a uniqueness rule
	// that the caller should surface rather than silently absorb.
	ErrConflict = errors.New("conflict")
)

// closeWithLog closes a resource and logs any error.
// Use this for cleanup operations where errors should be acknowledged
// but not fail the operation.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error.
// Use this in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// isUniqueConstraintError checks if an error is a unique constraint
// violation. DuckDB messages contain "UNIQUE constraint" or
// "Duplicate key" depending on the code path.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "unique constraint") || strings.Contains(errMsg, "duplicate key")
}

// rollbackQuietly rolls back a transaction, ignoring the error that
// database/sql returns when the transaction was already committed.
func rollbackQuietly(tx interface{ Rollback() error }) {
	_ = tx.Rollback()
}
