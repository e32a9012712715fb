// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

func TestTaskHistoryLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	th := &models.TaskHistory{Title: "导入: 葬送的芙莉莲"}
	if err := db.InsertTaskHistory(ctx, th); err != nil {
		t.Fatalf("InsertTaskHistory() failed: %v", err)
	}
	if th.TaskID == "" {
		t.Fatal("InsertTaskHistory() should assign a task ID")
	}
	if th.Status != models.TaskStatusQueued {
		t.Errorf("new task status = %q, want queued", th.Status)
	}

	if err := db.UpdateTaskProgress(ctx, th.TaskID, models.TaskStatusRunning, 40, "获取分集列表"); err != nil {
		t.Fatalf("UpdateTaskProgress() failed: %v", err)
	}
	got, err := db.GetTaskHistory(ctx, th.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusRunning || got.Progress != 40 {
		t.Errorf("after progress update: status=%q progress=%d", got.Status, got.Progress)
	}
	if got.FinishedAt != nil {
		t.Error("running task should have no finish time")
	}

	if err := db.FinishTaskHistory(ctx, th.TaskID, models.TaskStatusCompleted, 100, "导入完成"); err != nil {
		t.Fatalf("FinishTaskHistory() failed: %v", err)
	}
	got, err = db.GetTaskHistory(ctx, th.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusCompleted || got.Progress != 100 {
		t.Errorf("after finish: status=%q progress=%d", got.Status, got.Progress)
	}
	if got.FinishedAt == nil {
		t.Error("completed task should carry a finish time")
	}
}

func TestFinishTaskHistoryRejectsNonTerminal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	th := &models.TaskHistory{Title: "refresh"}
	if err := db.InsertTaskHistory(ctx, th); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishTaskHistory(ctx, th.TaskID, models.TaskStatusRunning, 50, "half way"); err == nil {
		t.Error("FinishTaskHistory() should reject a non-terminal status")
	}
}

func TestMarkInterruptedTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	queued := &models.TaskHistory{Title: "queued import"}
	running := &models.TaskHistory{Title: "running import"}
	done := &models.TaskHistory{Title: "finished import"}
	for _, th := range []*models.TaskHistory{queued, running, done} {
		if err := db.InsertTaskHistory(ctx, th); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpdateTaskProgress(ctx, running.TaskID, models.TaskStatusRunning, 10, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishTaskHistory(ctx, done.TaskID, models.TaskStatusCompleted, 100, "ok"); err != nil {
		t.Fatal(err)
	}

	n, err := db.MarkInterruptedTasks(ctx, "服务重启，任务中断")
	if err != nil {
		t.Fatalf("MarkInterruptedTasks() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("marked %d tasks, want 2", n)
	}

	for _, id := range []string{queued.TaskID, running.TaskID} {
		got, err := db.GetTaskHistory(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != models.TaskStatusFailed {
			t.Errorf("interrupted task %s status = %q, want failed", id, got.Status)
		}
		if got.FinishedAt == nil {
			t.Errorf("interrupted task %s should carry a finish time", id)
		}
	}
	got, err := db.GetTaskHistory(ctx, done.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("completed task must not be touched, got %q", got.Status)
	}
}

func TestListTaskHistoryNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		th := &models.TaskHistory{
			Title:     "task",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.InsertTaskHistory(ctx, th); err != nil {
			t.Fatal(err)
		}
	}

	list, err := db.ListTaskHistory(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListTaskHistory() failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d entries, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Errorf("history not newest-first at index %d", i)
		}
	}

	rest, err := db.ListTaskHistory(ctx, 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Errorf("offset page has %d entries, want 2", len(rest))
	}
}

func TestScheduledTaskUpsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	st := &models.ScheduledTask{
		Name:           "TMDB自动映射",
		JobType:        "tmdb_auto_map",
		CronExpression: "0 3 * * *",
		Enabled:        true,
	}
	if err := db.UpsertScheduledTask(ctx, st); err != nil {
		t.Fatalf("UpsertScheduledTask() failed: %v", err)
	}
	if st.ID == "" {
		t.Fatal("UpsertScheduledTask() should assign an ID")
	}

	st.CronExpression = "30 4 * * *"
	st.Enabled = false
	if err := db.UpsertScheduledTask(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetScheduledTask(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CronExpression != "30 4 * * *" || got.Enabled {
		t.Errorf("upsert did not replace fields: %+v", got)
	}

	last := time.Now().Truncate(time.Second)
	next := last.Add(24 * time.Hour)
	if err := db.UpdateScheduledTaskRuntimes(ctx, st.ID, &last, &next); err != nil {
		t.Fatalf("UpdateScheduledTaskRuntimes() failed: %v", err)
	}
	got, err = db.GetScheduledTask(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRun == nil || got.NextRun == nil {
		t.Fatal("runtimes should be set")
	}
	if !got.NextRun.After(*got.LastRun) {
		t.Error("next_run should be after last_run")
	}

	tasks, err := db.ListScheduledTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d scheduled tasks, want 1", len(tasks))
	}

	if err := db.DeleteScheduledTask(ctx, st.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetScheduledTask(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted task lookup should return ErrNotFound, got %v", err)
	}
}
