// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockLifecycle struct {
	startErr   error
	stopErr    error
	startCount atomic.Int32
	stopCount  atomic.Int32
}

func (m *mockLifecycle) Start(ctx context.Context) error {
	m.startCount.Add(1)
	return m.startErr
}

func (m *mockLifecycle) Stop() error {
	m.stopCount.Add(1)
	return m.stopErr
}

func TestLifecycleServiceInterface(t *testing.T) {
	var _ suture.Service = (*LifecycleService)(nil)
}

func TestLifecycleServiceServe(t *testing.T) {
	t.Run("starts then stops on cancellation", func(t *testing.T) {
		manager := &mockLifecycle{}
		svc := NewLifecycleService("task-engine", manager)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Serve(ctx)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after cancellation")
		}

		if manager.startCount.Load() != 1 {
			t.Errorf("expected 1 start, got %d", manager.startCount.Load())
		}
		if manager.stopCount.Load() != 1 {
			t.Errorf("expected 1 stop, got %d", manager.stopCount.Load())
		}
	})

	t.Run("propagates start error without stopping", func(t *testing.T) {
		manager := &mockLifecycle{startErr: errors.New("already running")}
		svc := NewLifecycleService("cron-scheduler", manager)

		err := svc.Serve(context.Background())
		if err == nil || !strings.Contains(err.Error(), "cron-scheduler start failed") {
			t.Errorf("expected wrapped start error, got %v", err)
		}
		if manager.stopCount.Load() != 0 {
			t.Errorf("stop should not run after failed start, got %d calls", manager.stopCount.Load())
		}
	})

	t.Run("propagates stop error", func(t *testing.T) {
		manager := &mockLifecycle{stopErr: errors.New("worker stuck")}
		svc := NewLifecycleService("task-engine", manager)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Serve(ctx)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if err == nil || !strings.Contains(err.Error(), "task-engine stop failed") {
				t.Errorf("expected wrapped stop error, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after cancellation")
		}
	})
}

func TestLifecycleServiceString(t *testing.T) {
	svc := NewLifecycleService("cron-scheduler", &mockLifecycle{})
	if svc.String() != "cron-scheduler" {
		t.Errorf("expected %q, got %q", "cron-scheduler", svc.String())
	}
}
