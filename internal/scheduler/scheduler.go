// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package scheduler fires recurring maintenance jobs from cron expressions
// persisted in scheduled_tasks.
//
// Job bodies run directly on scheduler goroutines rather than through the
// task engine, so a slow metadata crawl never delays user-submitted imports.
// Runtimes (last_run, next_run) are written back after every run, successful
// or not. Disabled rows stay registered so the admin surface can list,
// resume, or fire them without a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// Job types wired in cmd/server.
const (
	JobTypeTmdbAutoMap = "tmdb_auto_map"
	JobTypeCacheSweep  = "cache_sweep"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	ListScheduledTasks(ctx context.Context) ([]models.ScheduledTask, error)
	UpsertScheduledTask(ctx context.Context, st *models.ScheduledTask) error
	DeleteScheduledTask(ctx context.Context, id string) error
	UpdateScheduledTaskRuntimes(ctx context.Context, id string, lastRun, nextRun *time.Time) error
}

// JobFunc is the body of a scheduled job. The context is the scheduler's
// run context and is cancelled on process shutdown.
type JobFunc func(ctx context.Context) error

var (
	// ErrJobNotFound is returned when no registered row has the given id.
	ErrJobNotFound = errors.New("scheduler: job not found")
	// ErrUnknownJobType is returned when no handler covers a row's job type.
	ErrUnknownJobType = errors.New("scheduler: unknown job type")
	// ErrNotRunning is returned by RunNow before Start or after Stop.
	ErrNotRunning = errors.New("scheduler: not running")
)

// Config controls scheduler behavior.
type Config struct {
	// Timezone is the IANA zone cron expressions are evaluated in.
	Timezone string

	// TickInterval is how often due jobs are checked. One second keeps
	// seconds-granularity expressions honest.
	TickInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timezone:     "Asia/Shanghai",
		TickInterval: time.Second,
	}
}

// job is the in-memory registration for one scheduled_tasks row.
type job struct {
	id      string
	name    string
	jobType string
	exprSrc string
	expr    *CronExpression
	run     JobFunc

	enabled  bool
	forced   bool // one-shot fire requested via RunNow
	inFlight bool
	lastRun  *time.Time
	nextRun  *time.Time // nil while paused
}

// Scheduler owns the registered jobs and the fire loop.
type Scheduler struct {
	store Store
	cfg   Config
	loc   *time.Location

	mu       sync.Mutex
	running  bool
	handlers map[string]JobFunc
	jobs     map[string]*job
	stopCh   chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler with the given configuration. Zero-value
// fields fall back to DefaultConfig.
func NewScheduler(store Store, cfg Config) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid timezone %q: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		store:    store,
		cfg:      cfg,
		loc:      loc,
		handlers: make(map[string]JobFunc),
		jobs:     make(map[string]*job),
	}, nil
}

// RegisterHandler binds a job type to its body. Handlers must be registered
// before Start so persisted rows can be armed while loading.
func (s *Scheduler) RegisterHandler(jobType string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = fn
}

// Start loads persisted rows, arms the enabled ones and begins firing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	n, err := s.loadJobs(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	go s.run(ctx)

	logging.Info().Str("timezone", s.cfg.Timezone).Int("jobs", n).Msg("Scheduler started")
	return nil
}

// Stop halts firing and waits for in-flight job bodies to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	logging.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the fire loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow advances a job's fire time to the present. The next tick runs it
// once even when the row is disabled.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now()
	j.nextRun = &now
	j.forced = true
	return nil
}

// Upsert persists a row and re-arms it. The job type must have a handler
// and the cron expression must parse.
func (s *Scheduler) Upsert(ctx context.Context, row *models.ScheduledTask) error {
	s.mu.Lock()
	_, ok := s.handlers[row.JobType]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, row.JobType)
	}
	if _, err := ParseCron(row.CronExpression); err != nil {
		return fmt.Errorf("scheduler: parse %q: %w", row.CronExpression, err)
	}

	if err := s.store.UpsertScheduledTask(ctx, row); err != nil {
		return err
	}
	return s.arm(ctx, row, time.Now())
}

// Delete removes a row from the store and the registry.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteScheduledTask(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// Jobs returns a snapshot of the registered rows with live runtimes,
// sorted by name.
func (s *Scheduler) Jobs() []models.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ScheduledTask, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, models.ScheduledTask{
			ID:             j.id,
			Name:           j.name,
			JobType:        j.jobType,
			CronExpression: j.exprSrc,
			Enabled:        j.enabled,
			LastRun:        copyTime(j.lastRun),
			NextRun:        copyTime(j.nextRun),
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// loadJobs arms every persisted row with a known job type and valid cron
// expression. Rows that fail to arm are logged and skipped, not fatal.
func (s *Scheduler) loadJobs(ctx context.Context) (int, error) {
	rows, err := s.store.ListScheduledTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: load scheduled tasks: %w", err)
	}

	now := time.Now()
	for i := range rows {
		if err := s.arm(ctx, &rows[i], now); err != nil {
			logging.Error().Err(err).
				Str("job_id", rows[i].ID).
				Str("job_type", rows[i].JobType).
				Msg("Skipping scheduled task")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), nil
}

// arm registers one row, computing and persisting its next fire time.
// Disabled rows are kept with no fire time.
func (s *Scheduler) arm(ctx context.Context, row *models.ScheduledTask, now time.Time) error {
	s.mu.Lock()
	fn, ok := s.handlers[row.JobType]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, row.JobType)
	}

	expr, err := ParseCron(row.CronExpression)
	if err != nil {
		return fmt.Errorf("scheduler: parse %q: %w", row.CronExpression, err)
	}

	var next *time.Time
	if row.Enabled {
		n := expr.NextRun(now, s.loc)
		next = &n
	}

	s.mu.Lock()
	j, ok := s.jobs[row.ID]
	if !ok {
		// lastRun comes from the store for fresh registrations; rows
		// already in memory have the fresher value.
		j = &job{id: row.ID, lastRun: row.LastRun}
		s.jobs[row.ID] = j
	}
	j.name = row.Name
	j.jobType = row.JobType
	j.exprSrc = row.CronExpression
	j.expr = expr
	j.run = fn
	j.enabled = row.Enabled
	j.nextRun = next
	lastRun := j.lastRun
	s.mu.Unlock()

	if err := s.store.UpdateScheduledTaskRuntimes(ctx, row.ID, lastRun, next); err != nil {
		logging.Warn().Err(err).Str("job_id", row.ID).Msg("Failed to persist next run time")
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		case <-s.stopCh:
			s.wg.Wait()
			return
		case <-ctx.Done():
			s.wg.Wait()
			return
		}
	}
}

// fireDue starts every armed job whose fire time has arrived.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.nextRun == nil || now.Before(*j.nextRun) {
			continue
		}
		if !j.enabled && !j.forced {
			j.nextRun = nil
			continue
		}
		j.forced = false
		if j.inFlight {
			logging.Warn().Str("job_id", j.id).Str("name", j.name).Msg("Previous run still in flight, skipping")
			j.advanceLocked(now, s.loc)
			continue
		}

		j.inFlight = true
		fired := now
		j.lastRun = &fired
		j.advanceLocked(now, s.loc)

		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
}

// runJob executes one job body and writes the runtime trail back,
// whether the body succeeded or not.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()

	// Upsert may rewrite the registration mid-flight, so descriptive
	// fields are snapshotted under the lock.
	s.mu.Lock()
	id, name, jobType, fn := j.id, j.name, j.jobType, j.run
	s.mu.Unlock()

	logging.Info().Str("job_id", id).Str("name", name).Str("job_type", jobType).Msg("Scheduled job started")

	start := time.Now()
	err := runJobGuarded(ctx, fn)
	duration := time.Since(start)
	metrics.RecordScheduledJob(jobType, duration, err)

	if err != nil {
		logging.Error().Err(err).Str("job_id", id).Str("name", name).Dur("duration", duration).Msg("Scheduled job failed")
	} else {
		logging.Info().Str("job_id", id).Str("name", name).Dur("duration", duration).Msg("Scheduled job finished")
	}

	s.mu.Lock()
	j.inFlight = false
	lastRun, nextRun := j.lastRun, j.nextRun
	s.mu.Unlock()

	if perr := s.store.UpdateScheduledTaskRuntimes(ctx, id, lastRun, nextRun); perr != nil {
		logging.Error().Err(perr).Str("job_id", id).Msg("Failed to persist job runtimes")
	}
}

// advanceLocked computes the fire time after now. Paused rows go back to nil.
// Callers hold the scheduler mutex.
func (j *job) advanceLocked(now time.Time, loc *time.Location) {
	if !j.enabled {
		j.nextRun = nil
		return
	}
	next := j.expr.NextRun(now, loc)
	j.nextRun = &next
}

// runJobGuarded turns a panicking job body into an error.
func runJobGuarded(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
