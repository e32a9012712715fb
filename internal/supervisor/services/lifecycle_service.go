// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package services

import (
	"context"
	"fmt"
)

// Lifecycle matches the Start/Stop managers the worker layer runs.
// Both *task.Engine and *scheduler.Scheduler satisfy it: Start spawns
// the internal loop and returns, Stop joins it.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// LifecycleService adapts a Start/Stop manager to suture's Serve
// pattern: Start, block until the context is canceled, Stop.
//
//	tree.AddWorkerService(services.NewLifecycleService("task-engine", engine))
type LifecycleService struct {
	manager Lifecycle
	name    string
}

// NewLifecycleService wraps manager. The name identifies the service
// in suture's event logs.
func NewLifecycleService(name string, manager Lifecycle) *LifecycleService {
	return &LifecycleService{
		manager: manager,
		name:    name,
	}
}

// Serve implements suture.Service. A Start failure is returned
// immediately so suture restarts the service under its backoff policy.
// On cancellation the manager's Stop runs to completion before Serve
// returns; for the task engine that means the in-flight job finishes
// its current write before the process exits.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in event logs.
func (s *LifecycleService) String() string {
	return s.name
}
