// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package task provides the background task queue.
//
// engine.go - Task Engine
//
// One worker goroutine drains a FIFO queue. Serial execution is the
// point, not a limitation: every task ends in provider HTTP traffic,
// and running imports one at a time keeps the per-site rate limits
// meaningful. There is no cancel operation; tasks run to completion or
// failure, and anything still queued or running when the process dies
// is flipped to failed on the next startup.
//
// Every state transition is persisted to task history and mirrored to
// an optional notifier for live progress (the websocket hub).
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// ProgressFunc reports task progress. Percent is clamped to 0..100.
type ProgressFunc func(percent int, description string)

// RunFunc is the body of one task. The progress callback is bound to
// the task's history row; calling it persists and broadcasts the value.
// The returned message becomes the final description of a completed
// task, so bodies can surface a result ("导入完成，新增 1234 条弹幕")
// instead of a bare status. An empty message falls back to "已完成".
type RunFunc func(ctx context.Context, progress ProgressFunc) (string, error)

// HistoryStore is the persistence the engine needs. Implemented by
// database.DB.
type HistoryStore interface {
	InsertTaskHistory(ctx context.Context, th *models.TaskHistory) error
	UpdateTaskProgress(ctx context.Context, taskID string, status models.TaskStatus, progress int, description string) error
	FinishTaskHistory(ctx context.Context, taskID string, status models.TaskStatus, progress int, description string) error
	MarkInterruptedTasks(ctx context.Context, description string) (int64, error)
}

// Notifier receives a snapshot after every persisted state change. It
// may be called from the submitting goroutine or the worker, so
// implementations must be safe for concurrent use and must not block.
type Notifier func(th models.TaskHistory)

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("task: queue is full")

// ErrNotRunning is returned by Submit before Start or after Stop.
var ErrNotRunning = errors.New("task: engine is not running")

// Config holds engine tuning.
type Config struct {
	// QueueSize caps how many tasks may wait. Default 100.
	QueueSize int
}

type queuedTask struct {
	id    string
	title string
	run   RunFunc
}

// Engine is the single-worker FIFO task queue.
type Engine struct {
	store    HistoryStore
	notifier Notifier
	queue    chan queuedTask

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine creates a task engine. The notifier may be nil.
func NewEngine(store HistoryStore, cfg Config, notifier Notifier) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		queue:    make(chan queuedTask, cfg.QueueSize),
	}
}

// Start recovers interrupted history rows and launches the worker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("task: engine already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	if n, err := e.store.MarkInterruptedTasks(ctx, "进程重启，任务中断"); err != nil {
		logging.Error().Err(err).Msg("Failed to mark interrupted tasks")
	} else if n > 0 {
		logging.Info().Int64("count", n).Msg("Marked interrupted tasks from previous run as failed")
	}

	go e.work(ctx)
	return nil
}

// Stop lets the in-flight task finish and shuts the worker down.
// Queued tasks are abandoned; startup recovery fails their rows.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	close(e.stopCh)
	<-e.doneCh

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	logging.Info().Msg("Task engine stopped")
	return nil
}

// IsRunning reports whether the worker is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// QueueDepth returns how many tasks are waiting.
func (e *Engine) QueueDepth() int {
	return len(e.queue)
}

// Submit persists a queued history row and enqueues the task. Returns
// the task ID immediately; the work happens on the worker goroutine in
// submission order.
func (e *Engine) Submit(ctx context.Context, title string, run RunFunc) (string, error) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	id := uuid.New().String()
	th := &models.TaskHistory{
		TaskID:      id,
		Title:       title,
		Status:      models.TaskStatusQueued,
		Progress:    0,
		Description: "排队中",
		CreatedAt:   time.Now(),
	}
	if err := e.store.InsertTaskHistory(ctx, th); err != nil {
		return "", fmt.Errorf("task: persist queued row: %w", err)
	}
	e.notify(*th)

	select {
	case e.queue <- queuedTask{id: id, title: title, run: run}:
		logging.Info().Str("task_id", id).Str("title", title).Int("depth", len(e.queue)).Msg("Task queued")
		return id, nil
	default:
		e.finish(context.Background(), id, title, models.TaskStatusFailed, 0, "队列已满", time.Now())
		return "", ErrQueueFull
	}
}

func (e *Engine) work(ctx context.Context) {
	defer close(e.doneCh)

	for {
		select {
		case qt := <-e.queue:
			e.execute(ctx, qt)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) execute(ctx context.Context, qt queuedTask) {
	started := time.Now()
	logging.Info().Str("task_id", qt.id).Str("title", qt.title).Msg("Task started")
	e.transition(ctx, qt.id, qt.title, models.TaskStatusRunning, 0, "开始执行")

	progress := func(percent int, description string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		e.transition(ctx, qt.id, qt.title, models.TaskStatusRunning, percent, description)
	}

	message, err := e.runGuarded(ctx, qt, progress)

	finished := time.Now()
	if err != nil {
		logging.Error().Err(err).Str("task_id", qt.id).Str("title", qt.title).Dur("duration", finished.Sub(started)).Msg("Task failed")
		e.finish(ctx, qt.id, qt.title, models.TaskStatusFailed, 0, err.Error(), finished)
	} else {
		if message == "" {
			message = "已完成"
		}
		logging.Info().Str("task_id", qt.id).Str("title", qt.title).Dur("duration", finished.Sub(started)).Msg("Task completed")
		e.finish(ctx, qt.id, qt.title, models.TaskStatusCompleted, 100, message, finished)
	}
	metrics.RecordTaskFinished(taskStatusLabel(err), finished.Sub(started))
}

// runGuarded converts a panicking task into a failed task. The worker
// goroutine must survive anything a job body does.
func (e *Engine) runGuarded(ctx context.Context, qt queuedTask, progress ProgressFunc) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return qt.run(ctx, progress)
}

func (e *Engine) transition(ctx context.Context, id, title string, status models.TaskStatus, percent int, description string) {
	if err := e.store.UpdateTaskProgress(ctx, id, status, percent, description); err != nil {
		logging.Error().Err(err).Str("task_id", id).Msg("Failed to persist task progress")
	}
	e.notify(models.TaskHistory{
		TaskID:      id,
		Title:       title,
		Status:      status,
		Progress:    percent,
		Description: description,
	})
}

func (e *Engine) finish(ctx context.Context, id, title string, status models.TaskStatus, percent int, description string, at time.Time) {
	if err := e.store.FinishTaskHistory(ctx, id, status, percent, description); err != nil {
		logging.Error().Err(err).Str("task_id", id).Msg("Failed to persist task completion")
	}
	e.notify(models.TaskHistory{
		TaskID:      id,
		Title:       title,
		Status:      status,
		Progress:    percent,
		Description: description,
		FinishedAt:  &at,
	})
}

func (e *Engine) notify(th models.TaskHistory) {
	if e.notifier != nil {
		e.notifier(th)
	}
}

func taskStatusLabel(err error) string {
	if err != nil {
		return string(models.TaskStatusFailed)
	}
	return string(models.TaskStatusCompleted)
}
