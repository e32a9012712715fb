// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

type runtimeWrite struct {
	id      string
	lastRun *time.Time
	nextRun *time.Time
}

type fakeSchedStore struct {
	mu       sync.Mutex
	rows     map[string]models.ScheduledTask
	runtimes []runtimeWrite
	deleted  []string
}

func newFakeSchedStore(rows ...models.ScheduledTask) *fakeSchedStore {
	s := &fakeSchedStore{rows: make(map[string]models.ScheduledTask)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *fakeSchedStore) ListScheduledTasks(ctx context.Context) ([]models.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScheduledTask, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeSchedStore) UpsertScheduledTask(ctx context.Context, st *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[st.ID] = *st
	return nil
}

func (s *fakeSchedStore) DeleteScheduledTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeSchedStore) UpdateScheduledTaskRuntimes(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimes = append(s.runtimes, runtimeWrite{id: id, lastRun: lastRun, nextRun: nextRun})
	if row, ok := s.rows[id]; ok {
		row.LastRun = lastRun
		row.NextRun = nextRun
		s.rows[id] = row
	}
	return nil
}

// lastRuntime returns the most recent runtime write for the given row.
func (s *fakeSchedStore) lastRuntime(id string) (runtimeWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runtimes) - 1; i >= 0; i-- {
		if s.runtimes[i].id == id {
			return s.runtimes[i], true
		}
	}
	return runtimeWrite{}, false
}

func (s *fakeSchedStore) hasRow(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	return ok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ranWithLastRun reports whether a runtime write carrying a fire time has
// landed, which only happens after a job body returns.
func ranWithLastRun(store *fakeSchedStore, id string) bool {
	rw, ok := store.lastRuntime(id)
	return ok && rw.lastRun != nil
}

func startedScheduler(t *testing.T, store *fakeSchedStore, handlers map[string]JobFunc) *Scheduler {
	t.Helper()
	s, err := NewScheduler(store, Config{Timezone: "UTC", TickInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	for jobType, fn := range handlers {
		s.RegisterHandler(jobType, fn)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestSchedulerFiresOnSchedule(t *testing.T) {
	var fired atomic.Int32
	store := newFakeSchedStore(models.ScheduledTask{
		ID:             "job-tmdb",
		Name:           "TMDB自动映射",
		JobType:        JobTypeTmdbAutoMap,
		CronExpression: "* * * * * *",
		Enabled:        true,
	})

	startedScheduler(t, store, map[string]JobFunc{
		JobTypeTmdbAutoMap: func(ctx context.Context) error {
			fired.Add(1)
			return nil
		},
	})

	waitFor(t, "first fire", func() bool { return fired.Load() >= 1 })
	waitFor(t, "runtime trail", func() bool { return ranWithLastRun(store, "job-tmdb") })

	rw, _ := store.lastRuntime("job-tmdb")
	if rw.nextRun == nil {
		t.Fatal("next run not persisted after fire")
	}
	if !rw.nextRun.After(*rw.lastRun) {
		t.Errorf("next run %v not after last run %v", rw.nextRun, rw.lastRun)
	}
}

func TestSchedulerRunNow(t *testing.T) {
	var fired atomic.Int32
	store := newFakeSchedStore(models.ScheduledTask{
		ID:             "job-sweep",
		Name:           "缓存清理",
		JobType:        JobTypeCacheSweep,
		CronExpression: "0 3 * * *",
		Enabled:        true,
	})

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeCacheSweep: func(ctx context.Context) error {
			fired.Add(1)
			return nil
		},
	})

	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("job fired %d times before RunNow", got)
	}

	if err := s.RunNow("job-sweep"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	waitFor(t, "forced fire", func() bool { return fired.Load() == 1 })
	waitFor(t, "runtime trail", func() bool { return ranWithLastRun(store, "job-sweep") })

	rw, _ := store.lastRuntime("job-sweep")
	if rw.nextRun == nil || !rw.nextRun.After(time.Now()) {
		t.Errorf("next run after forced fire = %v, want a future time", rw.nextRun)
	}

	if err := s.RunNow("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestSchedulerRunNowBeforeStart(t *testing.T) {
	s, err := NewScheduler(newFakeSchedStore(), Config{Timezone: "UTC"})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if err := s.RunNow("anything"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("RunNow() error = %v, want ErrNotRunning", err)
	}
}

func TestSchedulerDisabledRowPausedUntilForced(t *testing.T) {
	var fired atomic.Int32
	store := newFakeSchedStore(models.ScheduledTask{
		ID:             "job-sweep",
		Name:           "缓存清理",
		JobType:        JobTypeCacheSweep,
		CronExpression: "* * * * * *",
		Enabled:        false,
	})

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeCacheSweep: func(ctx context.Context) error {
			fired.Add(1)
			return nil
		},
	})

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("Jobs() returned %d rows, want 1", len(jobs))
	}
	if jobs[0].Enabled {
		t.Error("disabled row reported as enabled")
	}
	if jobs[0].NextRun != nil {
		t.Errorf("paused row has next run %v, want none", jobs[0].NextRun)
	}

	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("paused job fired %d times", got)
	}

	if err := s.RunNow("job-sweep"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	waitFor(t, "forced fire", func() bool { return fired.Load() == 1 })
	waitFor(t, "runtime trail", func() bool { return ranWithLastRun(store, "job-sweep") })

	// A forced run does not resume the row.
	rw, _ := store.lastRuntime("job-sweep")
	if rw.nextRun != nil {
		t.Errorf("next run after forced fire = %v, want none", rw.nextRun)
	}
	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("paused job fired %d times after forced run, want 1", got)
	}
}

func TestSchedulerSkipsUnknownJobType(t *testing.T) {
	store := newFakeSchedStore(
		models.ScheduledTask{
			ID:             "job-known",
			Name:           "缓存清理",
			JobType:        JobTypeCacheSweep,
			CronExpression: "0 * * * *",
			Enabled:        true,
		},
		models.ScheduledTask{
			ID:             "job-ghost",
			Name:           "幽灵任务",
			JobType:        "ghost",
			CronExpression: "0 * * * *",
			Enabled:        true,
		},
	)

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeCacheSweep: func(ctx context.Context) error { return nil },
	})

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("Jobs() returned %d rows, want 1", len(jobs))
	}
	if jobs[0].ID != "job-known" {
		t.Errorf("registered job = %s, want job-known", jobs[0].ID)
	}
	if err := s.RunNow("job-ghost"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(ghost) error = %v, want ErrJobNotFound", err)
	}
}

func TestSchedulerJobErrorStillRecordsRuntimes(t *testing.T) {
	store := newFakeSchedStore(models.ScheduledTask{
		ID:             "job-tmdb",
		Name:           "TMDB自动映射",
		JobType:        JobTypeTmdbAutoMap,
		CronExpression: "0 3 * * *",
		Enabled:        true,
	})

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeTmdbAutoMap: func(ctx context.Context) error {
			return errors.New("tmdb unreachable")
		},
	})

	if err := s.RunNow("job-tmdb"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	waitFor(t, "runtime trail after failure", func() bool { return ranWithLastRun(store, "job-tmdb") })

	rw, _ := store.lastRuntime("job-tmdb")
	if rw.nextRun == nil {
		t.Error("failed run left no next fire time")
	}
	if !s.IsRunning() {
		t.Error("scheduler stopped after a job failure")
	}
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	var calls atomic.Int32
	store := newFakeSchedStore(models.ScheduledTask{
		ID:             "job-tmdb",
		Name:           "TMDB自动映射",
		JobType:        JobTypeTmdbAutoMap,
		CronExpression: "0 3 * * *",
		Enabled:        true,
	})

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeTmdbAutoMap: func(ctx context.Context) error {
			if calls.Add(1) == 1 {
				panic("bad payload")
			}
			return nil
		},
	})

	if err := s.RunNow("job-tmdb"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	waitFor(t, "panicking run to settle", func() bool { return ranWithLastRun(store, "job-tmdb") })

	if err := s.RunNow("job-tmdb"); err != nil {
		t.Fatalf("RunNow() after panic error = %v", err)
	}
	waitFor(t, "second run", func() bool { return calls.Load() == 2 })
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	block := make(chan struct{})
	var started atomic.Int32
	store := newFakeSchedStore(models.ScheduledTask{
		ID:             "job-tmdb",
		Name:           "TMDB自动映射",
		JobType:        JobTypeTmdbAutoMap,
		CronExpression: "0 3 * * *",
		Enabled:        true,
	})

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeTmdbAutoMap: func(ctx context.Context) error {
			started.Add(1)
			<-block
			return nil
		},
	})

	if err := s.RunNow("job-tmdb"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	waitFor(t, "first run in flight", func() bool { return started.Load() == 1 })

	if err := s.RunNow("job-tmdb"); err != nil {
		t.Fatalf("second RunNow() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Fatalf("overlapping run started, %d bodies in flight", got)
	}

	close(block)
	waitFor(t, "first run to finish", func() bool { return ranWithLastRun(store, "job-tmdb") })

	if err := s.RunNow("job-tmdb"); err != nil {
		t.Fatalf("RunNow() after finish error = %v", err)
	}
	waitFor(t, "second run", func() bool { return started.Load() == 2 })
}

func TestSchedulerStopWaitsForInFlight(t *testing.T) {
	var entered, finished atomic.Bool
	store := newFakeSchedStore(models.ScheduledTask{
		ID:             "job-sweep",
		Name:           "缓存清理",
		JobType:        JobTypeCacheSweep,
		CronExpression: "0 3 * * *",
		Enabled:        true,
	})

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeCacheSweep: func(ctx context.Context) error {
			entered.Store(true)
			time.Sleep(80 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	if err := s.RunNow("job-sweep"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	waitFor(t, "job to start", func() bool { return entered.Load() })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the in-flight job finished")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestSchedulerUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	var fired atomic.Int32
	store := newFakeSchedStore()

	s := startedScheduler(t, store, map[string]JobFunc{
		JobTypeCacheSweep: func(ctx context.Context) error {
			fired.Add(1)
			return nil
		},
	})

	row := &models.ScheduledTask{
		ID:             "job-sweep",
		Name:           "缓存清理",
		JobType:        JobTypeCacheSweep,
		CronExpression: "0 3 * * *",
		Enabled:        true,
	}
	if err := s.Upsert(ctx, row); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !store.hasRow("job-sweep") {
		t.Error("Upsert did not persist the row")
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].NextRun == nil {
		t.Fatalf("Jobs() after Upsert = %+v, want one armed row", jobs)
	}

	if err := s.Upsert(ctx, &models.ScheduledTask{
		ID: "job-bad", Name: "bad", JobType: "ghost", CronExpression: "0 * * * *",
	}); !errors.Is(err, ErrUnknownJobType) {
		t.Errorf("Upsert(unknown type) error = %v, want ErrUnknownJobType", err)
	}

	if err := s.Upsert(ctx, &models.ScheduledTask{
		ID: "job-bad", Name: "bad", JobType: JobTypeCacheSweep, CronExpression: "not a cron",
	}); err == nil {
		t.Error("Upsert(bad cron) did not fail")
	}
	if store.hasRow("job-bad") {
		t.Error("rejected row was persisted")
	}

	if err := s.RunNow("job-sweep"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	waitFor(t, "fire after Upsert", func() bool { return fired.Load() == 1 })

	if err := s.Delete(ctx, "job-sweep"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.hasRow("job-sweep") {
		t.Error("Delete left the row in the store")
	}
	if got := len(s.Jobs()); got != 0 {
		t.Errorf("Jobs() after Delete has %d rows, want 0", got)
	}
	if err := s.RunNow("job-sweep"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(deleted) error = %v, want ErrJobNotFound", err)
	}
}

func TestSchedulerConfigDefaults(t *testing.T) {
	if _, err := time.LoadLocation("Asia/Shanghai"); err != nil {
		t.Skip("Asia/Shanghai timezone not available")
	}

	s, err := NewScheduler(newFakeSchedStore(), Config{})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if s.cfg.Timezone != "Asia/Shanghai" {
		t.Errorf("default timezone = %s, want Asia/Shanghai", s.cfg.Timezone)
	}
	if s.cfg.TickInterval != time.Second {
		t.Errorf("default tick interval = %v, want 1s", s.cfg.TickInterval)
	}

	if _, err := NewScheduler(newFakeSchedStore(), Config{Timezone: "Not/AZone"}); err == nil {
		t.Error("NewScheduler accepted an invalid timezone")
	}
}
