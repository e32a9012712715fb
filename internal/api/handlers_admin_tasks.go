// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/scheduler"
	"github.com/kotodama-lab/danmuhive/internal/validation"
)

const (
	defaultTaskPageLimit = 50
	maxTaskPageLimit     = 200
)

// ListTaskHistory answers GET /api/admin/tasks?limit=&offset= with the
// newest task rows first.
func (h *Handler) ListTaskHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := defaultTaskPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			rw.BadRequest("Invalid limit")
			return
		}
		if n > maxTaskPageLimit {
			n = maxTaskPageLimit
		}
		limit = n
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			rw.BadRequest("Invalid offset")
			return
		}
		offset = n
	}

	// One extra row decides has_more without a count query.
	rows, err := h.db.ListTaskHistory(r.Context(), limit+1, offset)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	rw.SuccessWithPagination(rows, &PaginationMeta{
		Count:   len(rows),
		Offset:  offset,
		Limit:   limit,
		HasMore: hasMore,
	})
}

// ListScheduledTasks answers GET /api/admin/scheduled with the live
// scheduler registry snapshot.
func (h *Handler) ListScheduledTasks(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.jobs.Jobs())
}

type scheduledTaskRequest struct {
	Name           string `json:"name" validate:"required"`
	JobType        string `json:"job_type" validate:"required"`
	CronExpression string `json:"cron_expression" validate:"required"`
	Enabled        bool   `json:"enabled"`
}

// CreateScheduledTask answers POST /api/admin/scheduled.
func (h *Handler) CreateScheduledTask(w http.ResponseWriter, r *http.Request) {
	h.upsertScheduledTask(w, r, uuid.NewString(), true)
}

// UpdateScheduledTask answers PUT /api/admin/scheduled/{id}.
func (h *Handler) UpdateScheduledTask(w http.ResponseWriter, r *http.Request) {
	h.upsertScheduledTask(w, r, chi.URLParam(r, "id"), false)
}

func (h *Handler) upsertScheduledTask(w http.ResponseWriter, r *http.Request, id string, created bool) {
	rw := NewResponseWriter(w, r)
	if id == "" {
		rw.BadRequest("Invalid task id")
		return
	}

	var req scheduledTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeValidationError(rw, err)
		return
	}

	if _, err := scheduler.ParseCron(req.CronExpression); err != nil {
		rw.BadRequest("Invalid cron expression: " + err.Error())
		return
	}

	row := models.ScheduledTask{
		ID:             id,
		Name:           req.Name,
		JobType:        req.JobType,
		CronExpression: req.CronExpression,
		Enabled:        req.Enabled,
	}
	if err := h.jobs.Upsert(r.Context(), &row); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJobType) {
			rw.BadRequest(err.Error())
			return
		}
		rw.DatabaseError(err)
		return
	}

	if created {
		rw.Created(row)
		return
	}
	rw.Success(row)
}

// DeleteScheduledTask answers DELETE /api/admin/scheduled/{id}.
func (h *Handler) DeleteScheduledTask(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	if id == "" {
		rw.BadRequest("Invalid task id")
		return
	}
	if err := h.jobs.Delete(r.Context(), id); err != nil {
		storeError(rw, err)
		return
	}
	rw.NoContent()
}

// RunScheduledTask answers POST /api/admin/scheduled/{id}/run, forcing
// the next fire time to now.
func (h *Handler) RunScheduledTask(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	if err := h.jobs.RunNow(id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			rw.NotFound("Unknown scheduled task")
		case errors.Is(err, scheduler.ErrNotRunning):
			rw.Error(http.StatusServiceUnavailable, ErrCodeInternalError, "Scheduler is not running")
		default:
			rw.InternalError("Failed to trigger task")
		}
		return
	}
	rw.Success(map[string]string{"id": id, "status": "triggered"})
}

type nextRunResponse struct {
	CronExpression string    `json:"cron_expression"`
	Timezone       string    `json:"timezone"`
	NextRun        time.Time `json:"next_run"`
}

// PreviewNextRun answers GET /api/admin/scheduled/next-run?cron=, the
// dry-run the UI shows while an admin edits a cron expression.
func (h *Handler) PreviewNextRun(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	expr := r.URL.Query().Get("cron")
	if expr == "" {
		rw.BadRequest("cron is required")
		return
	}
	timezone := r.URL.Query().Get("timezone")
	if timezone == "" {
		timezone = h.config.Scheduler.Timezone
	}

	next, err := scheduler.CalculateNextRun(expr, time.Now(), timezone)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	rw.Success(nextRunResponse{
		CronExpression: expr,
		Timezone:       timezone,
		NextRun:        next,
	})
}
