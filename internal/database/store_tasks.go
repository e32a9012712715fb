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

	"github.com/google/uuid"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

// InsertTaskHistory records a newly queued task. The ID is generated
// when the caller has not set one.
func (db *DB) InsertTaskHistory(ctx context.Context, th *models.TaskHistory) error {
	if th.TaskID == "" {
		th.TaskID = uuid.New().String()
	}
	if th.CreatedAt.IsZero() {
		th.CreatedAt = time.Now()
	}
	if th.Status == "" {
		th.Status = models.TaskStatusQueued
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO task_history (task_id, title, status, progress, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		th.TaskID, th.Title, string(th.Status), th.Progress, th.Description, th.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task history: %w", err)
	}
	return nil
}

// UpdateTaskProgress updates the live status of a running task.
func (db *DB) UpdateTaskProgress(ctx context.Context, taskID string, status models.TaskStatus, progress int, description string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE task_history SET status = ?, progress = ?, description = ? WHERE task_id = ?`,
		string(status), progress, description, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
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

// FinishTaskHistory stamps a task's terminal state and finish time.
func (db *DB) FinishTaskHistory(ctx context.Context, taskID string, status models.TaskStatus, progress int, description string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	result, err := db.conn.ExecContext(ctx,
		`UPDATE task_history SET status = ?, progress = ?, description = ?, finished_at = ? WHERE task_id = ?`,
		string(status), progress, description, time.Now(), taskID)
	if err != nil {
		return fmt.Errorf("failed to finish task history: %w", err)
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

// GetTaskHistory retrieves one task record by ID.
func (db *DB) GetTaskHistory(ctx context.Context, taskID string) (*models.TaskHistory, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT task_id, title, status, progress, description, created_at, finished_at
		 FROM task_history WHERE task_id = ?`, taskID)
	return scanTaskHistory(row)
}

// ListTaskHistory retrieves task records newest first.
func (db *DB) ListTaskHistory(ctx context.Context, limit, offset int) ([]models.TaskHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT task_id, title, status, progress, description, created_at, finished_at
		 FROM task_history ORDER BY created_at DESC, task_id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list task history: %w", err)
	}
	defer rows.Close()

	history := make([]models.TaskHistory, 0)
	for rows.Next() {
		var th models.TaskHistory
		var status string
		var finishedAt sql.NullTime
		if err := rows.Scan(&th.TaskID, &th.Title, &status, &th.Progress, &th.Description, &th.CreatedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task history: %w", err)
		}
		th.Status = models.TaskStatus(status)
		if finishedAt.Valid {
			th.FinishedAt = &finishedAt.Time
		}
		history = append(history, th)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task history: %w", err)
	}
	return history, nil
}

// MarkInterruptedTasks flips any queued or running rows to failed. Called
// once at startup: after a crash or restart, no task from the previous
// process can still be making progress.
func (db *DB) MarkInterruptedTasks(ctx context.Context, description string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE task_history SET status = ?, description = ?, finished_at = ?
		 WHERE status IN (?, ?)`,
		string(models.TaskStatusFailed), description, time.Now(),
		string(models.TaskStatusQueued), string(models.TaskStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted tasks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// UpsertScheduledTask stores a cron job definition, replacing the row
// with the same ID if present.
func (db *DB) UpsertScheduledTask(ctx context.Context, st *models.ScheduledTask) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}

	var lastRun, nextRun any
	if st.LastRun != nil {
		lastRun = *st.LastRun
	}
	if st.NextRun != nil {
		nextRun = *st.NextRun
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (id, name, job_type, cron_expression, enabled, last_run, next_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			job_type = excluded.job_type,
			cron_expression = excluded.cron_expression,
			enabled = excluded.enabled,
			last_run = excluded.last_run,
			next_run = excluded.next_run`,
		st.ID, st.Name, st.JobType, st.CronExpression, st.Enabled, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("failed to upsert scheduled task: %w", err)
	}
	return nil
}

// GetScheduledTask retrieves one cron job definition.
func (db *DB) GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, job_type, cron_expression, enabled, last_run, next_run
		 FROM scheduled_tasks WHERE id = ?`, id)
	return scanScheduledTask(row)
}

// ListScheduledTasks retrieves all cron job definitions.
func (db *DB) ListScheduledTasks(ctx context.Context) ([]models.ScheduledTask, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, job_type, cron_expression, enabled, last_run, next_run
		 FROM scheduled_tasks ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.ScheduledTask, 0)
	for rows.Next() {
		var st models.ScheduledTask
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&st.ID, &st.Name, &st.JobType, &st.CronExpression, &st.Enabled, &lastRun, &nextRun); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled task: %w", err)
		}
		if lastRun.Valid {
			st.LastRun = &lastRun.Time
		}
		if nextRun.Valid {
			st.NextRun = &nextRun.Time
		}
		tasks = append(tasks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled tasks: %w", err)
	}
	return tasks, nil
}

// UpdateScheduledTaskRuntimes records the execution times after a run.
func (db *DB) UpdateScheduledTaskRuntimes(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	var last, next any
	if lastRun != nil {
		last = *lastRun
	}
	if nextRun != nil {
		next = *nextRun
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE scheduled_tasks SET last_run = ?, next_run = ? WHERE id = ?`, last, next, id)
	if err != nil {
		return fmt.Errorf("failed to update scheduled task runtimes: %w", err)
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

// DeleteScheduledTask removes a cron job definition.
func (db *DB) DeleteScheduledTask(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled task: %w", err)
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

func scanTaskHistory(row *sql.Row) (*models.TaskHistory, error) {
	var th models.TaskHistory
	var status string
	var finishedAt sql.NullTime
	err := row.Scan(&th.TaskID, &th.Title, &status, &th.Progress, &th.Description, &th.CreatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task history: %w", err)
	}
	th.Status = models.TaskStatus(status)
	if finishedAt.Valid {
		th.FinishedAt = &finishedAt.Time
	}
	return &th, nil
}

func scanScheduledTask(row *sql.Row) (*models.ScheduledTask, error) {
	var st models.ScheduledTask
	var lastRun, nextRun sql.NullTime
	err := row.Scan(&st.ID, &st.Name, &st.JobType, &st.CronExpression, &st.Enabled, &lastRun, &nextRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan scheduled task: %w", err)
	}
	if lastRun.Valid {
		st.LastRun = &lastRun.Time
	}
	if nextRun.Valid {
		st.NextRun = &nextRun.Time
	}
	return &st, nil
}
