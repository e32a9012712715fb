// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package services

import (
	"context"
	"fmt"
	"time"
)

// Sweeper matches *cache.Cache's expired-row sweep.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// SweeperService runs a sweep on a fixed interval as a supervised
// service. The first sweep happens one interval after start, so a
// restart after a failed sweep waits out both suture's backoff and the
// interval instead of hammering the store.
//
//	tree.AddStorageService(services.NewSweeperService(responseCache, cfg.Cache.SweepInterval))
type SweeperService struct {
	sweeper  Sweeper
	interval time.Duration
	name     string
}

// NewSweeperService wraps sweeper. Intervals <= 0 get one hour.
func NewSweeperService(sweeper Sweeper, interval time.Duration) *SweeperService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SweeperService{
		sweeper:  sweeper,
		interval: interval,
		name:     "cache-sweeper",
	}
}

// Serve implements suture.Service. A failed sweep is returned as an
// error so suture restarts the service; expired rows left behind are
// only dead weight until the next pass, reads never see them.
func (s *SweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweeper.Sweep(ctx); err != nil {
				return fmt.Errorf("cache sweep failed: %w", err)
			}
		}
	}
}

// String implements fmt.Stringer; suture uses it in event logs.
func (s *SweeperService) String() string {
	return s.name
}
