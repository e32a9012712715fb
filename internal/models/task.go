// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a queued background task.
// Transitions are monotonic: queued -> running -> (completed | failed).
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskHistory is the persisted record of one background task run.
// Progress is 0-100; Description carries the latest progress message or,
// for terminal states, the outcome summary.
type TaskHistory struct {
	TaskID      string     `json:"task_id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ScheduledTask is a persisted cron-driven job definition. JobType names
// a registered job factory; CronExpression is 5-field with an optional
// leading seconds field.
type ScheduledTask struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	JobType        string     `json:"job_type"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
}
