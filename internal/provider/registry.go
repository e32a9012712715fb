// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
registry.go - Adapter Registry

The registry instantiates every adapter, registers the names it found
in the settings store, and serves them back filtered and ordered by the
stored enable flags and display order. Fan-out search runs all enabled
adapters concurrently with per-adapter error isolation; sequential
search walks them in display order and stops at the first adapter with
results.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/iter"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// SettingsStore is the persistence the registry needs: the config KV
// for adapter sessions plus the per-provider settings rows. Implemented
// by database.DB.
type SettingsStore interface {
	KV
	SyncScraperSettings(ctx context.Context, providers []string) error
	ListScraperSettings(ctx context.Context) ([]models.ScraperSetting, error)
	UpdateScraperSettings(ctx context.Context, settings []models.ScraperSetting) error
}

// Registry owns the adapter instances and their enable/order settings.
type Registry struct {
	store SettingsStore
	build func(kv KV) []Adapter

	mu       sync.RWMutex
	adapters map[string]Adapter
	settings map[string]models.ScraperSetting
	order    []string
}

func defaultAdapters(kv KV) []Adapter {
	return []Adapter{
		NewBilibili(kv),
		NewTencent(),
		NewIqiyi(),
		NewYouku(kv),
		NewMgtv(),
		NewGamer(kv),
	}
}

// NewRegistry instantiates the built-in adapters, registers any of them
// the settings store has not seen before, and reads back the stored
// enable flags and ordering.
func NewRegistry(ctx context.Context, store SettingsStore) (*Registry, error) {
	return newRegistry(ctx, store, defaultAdapters)
}

func newRegistry(ctx context.Context, store SettingsStore, build func(kv KV) []Adapter) (*Registry, error) {
	r := &Registry{store: store, build: build}
	if err := r.load(ctx); err != nil {
		r.closeAll()
		return nil, err
	}
	return r, nil
}

func (r *Registry) load(ctx context.Context) error {
	adapters := make(map[string]Adapter)
	names := make([]string, 0, 8)
	for _, a := range r.build(r.store) {
		adapters[a.Name()] = a
		names = append(names, a.Name())
	}

	r.mu.Lock()
	r.adapters = adapters
	r.mu.Unlock()

	if err := r.store.SyncScraperSettings(ctx, names); err != nil {
		return err
	}
	return r.refreshSettings(ctx)
}

// refreshSettings re-reads enable flags and display order from the
// store without touching adapter instances.
func (r *Registry) refreshSettings(ctx context.Context) error {
	rows, err := r.store.ListScraperSettings(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings = make(map[string]models.ScraperSetting, len(rows))
	r.order = r.order[:0]
	for _, row := range rows {
		if _, known := r.adapters[row.ProviderName]; !known {
			continue
		}
		r.settings[row.ProviderName] = row
		r.order = append(r.order, row.ProviderName)
	}
	sort.SliceStable(r.order, func(i, j int) bool {
		return r.settings[r.order[i]].DisplayOrder < r.settings[r.order[j]].DisplayOrder
	})
	return nil
}

// Reload tears down every adapter and rebuilds the registry from
// scratch. The caller must quiesce first: no search or comment fetch
// may be in flight, or it will race the Close of its adapter. In
// practice that means draining the task queue before calling this.
func (r *Registry) Reload(ctx context.Context) error {
	r.closeAll()
	return r.load(ctx)
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = nil
	r.mu.Unlock()

	for _, a := range adapters {
		a.Close()
	}
}

// Close releases every adapter. The registry is unusable afterwards.
func (r *Registry) Close() {
	r.closeAll()
}

// Get returns the adapter by provider name whether or not it is
// enabled. Comment refresh for already imported sources keeps working
// when an operator disables a provider for new searches.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Enabled returns the enabled adapters in display order.
func (r *Registry) Enabled() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		if !r.settings[name].Enabled {
			continue
		}
		if a, ok := r.adapters[name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Names returns every instantiated provider name in display order,
// disabled ones included.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Settings returns a copy of the stored per-provider settings rows in
// display order.
func (r *Registry) Settings() []models.ScraperSetting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ScraperSetting, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.settings[name])
	}
	return out
}

// UpdateSettings persists changed enable/order rows and applies them to
// the running registry.
func (r *Registry) UpdateSettings(ctx context.Context, rows []models.ScraperSetting) error {
	if err := r.store.UpdateScraperSettings(ctx, rows); err != nil {
		return err
	}
	return r.refreshSettings(ctx)
}

// SearchAll queries every enabled adapter concurrently. Results arrive
// concatenated in display order with per-adapter failures logged and
// dropped, so one broken site never hides the others. Duplicate
// (provider, media id) pairs keep the first occurrence.
func (r *Registry) SearchAll(ctx context.Context, keyword string, hint *models.EpisodeHint) []models.ProviderSearchInfo {
	adapters := r.Enabled()
	if len(adapters) == 0 {
		return nil
	}

	type outcome struct {
		provider string
		results  []models.ProviderSearchInfo
		err      error
	}
	outcomes := iter.Map(adapters, func(a *Adapter) outcome {
		results, err := (*a).Search(ctx, keyword, hint)
		return outcome{provider: (*a).Name(), results: results, err: err}
	})

	seen := make(map[string]struct{})
	var out []models.ProviderSearchInfo
	for _, o := range outcomes {
		if o.err != nil {
			logging.Warn().Err(o.err).Str("provider", o.provider).Str("keyword", keyword).Msg("Provider search failed, dropping its results")
			continue
		}
		for _, res := range o.results {
			key := res.Provider + "\x00" + res.MediaID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, res)
		}
	}
	return out
}

// SearchSequential walks the enabled adapters in display order and
// returns the first non-empty result set. Failures are logged and the
// walk moves on.
func (r *Registry) SearchSequential(ctx context.Context, keyword string, hint *models.EpisodeHint) []models.ProviderSearchInfo {
	for _, a := range r.Enabled() {
		if ctx.Err() != nil {
			return nil
		}
		results, err := a.Search(ctx, keyword, hint)
		if err != nil {
			logging.Warn().Err(err).Str("provider", a.Name()).Str("keyword", keyword).Msg("Provider search failed, trying the next one")
			continue
		}
		if len(results) > 0 {
			return results
		}
	}
	return nil
}
