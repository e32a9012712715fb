// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package provider

import (
	"context"
	"errors"
	"sync"
)

// fakeKV is an in-memory config store for adapter tests.
type fakeKV struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{m: make(map[string]string)}
}

func (f *fakeKV) GetConfigValue(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	if !ok {
		return "", errors.New("config key not found")
	}
	return v, nil
}

func (f *fakeKV) SetConfigValue(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]string)
	}
	f.m[key] = value
	return nil
}

func (f *fakeKV) get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m[key]
}

// progressRecorder captures progress callback invocations.
type progressRecorder struct {
	mu       sync.Mutex
	percents []int
	messages []string
}

func (p *progressRecorder) fn(percent int, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percents = append(p.percents, percent)
	p.messages = append(p.messages, description)
}

func (p *progressRecorder) last() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.percents) == 0 {
		return -1, ""
	}
	return p.percents[len(p.percents)-1], p.messages[len(p.messages)-1]
}
