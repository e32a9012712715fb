// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package importer builds the task bodies that pull danmaku from
// providers into the library.
//
// importer.go - Import Engine
//
// Three operations share one core loop: a generic import resolves the
// work and source and then walks the provider's episode list, a source
// refresh clears the episode tree first and reruns that walk, and an
// episode refresh refetches a single comment pool. All three run inside
// the task engine, so every Queue method returns a task ID immediately
// and the body reports progress through the bound callback.
//
// A failed episode never aborts the walk. Provider segments time out,
// sessions expire mid-run, and a 200-episode import that dies on
// episode 7 would be useless; failures are logged and counted, and the
// task only fails outright on store errors or cancellation.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/provider"
	"github.com/kotodama-lab/danmuhive/internal/task"
)

// Store is the persistence the importer needs. Implemented by
// database.DB.
type Store interface {
	GetOrCreateWork(ctx context.Context, title string, kind models.MediaKind, season int, posterURL string) (*models.Work, bool, error)
	GetWork(ctx context.Context, id int64) (*models.Work, error)
	UpsertWorkMetadata(ctx context.Context, meta *models.WorkMetadata) error
	LinkSource(ctx context.Context, workID int64, provider, mediaID string) (*models.Source, bool, error)
	GetSource(ctx context.Context, id int64) (*models.Source, error)
	ClearSourceEpisodes(ctx context.Context, sourceID int64) error
	UpsertEpisode(ctx context.Context, ep *models.Episode) (bool, error)
	GetEpisodeAndSource(ctx context.Context, episodeID int64) (*models.Episode, *models.Source, error)
	BulkInsertComments(ctx context.Context, episodeID int64, comments []models.Comment) (int, error)
	DeleteComments(ctx context.Context, episodeID int64) error
}

// Adapters resolves provider names to adapters. Implemented by
// provider.Registry.
type Adapters interface {
	Get(name string) (provider.Adapter, bool)
}

// Tasks queues task bodies for execution. Implemented by task.Engine.
type Tasks interface {
	Submit(ctx context.Context, title string, run task.RunFunc) (string, error)
}

// ExternalIDs carries the platform identifiers a webhook payload or
// search result may know about a work. Blank fields are skipped; the
// store fills metadata slots only where they are currently empty.
type ExternalIDs struct {
	TmdbID    string
	ImdbID    string
	TvdbID    string
	DoubanID  string
	BangumiID string
}

func (e ExternalIDs) empty() bool {
	return e == ExternalIDs{}
}

// Request describes one generic import.
type Request struct {
	Provider string
	MediaID  string
	Title    string
	Kind     models.MediaKind
	Season   int

	// TargetEpisode narrows the import to one episode index. Zero
	// imports the full list.
	TargetEpisode int

	PosterURL string
	IDs       ExternalIDs
}

// Importer queues and runs import tasks.
type Importer struct {
	store    Store
	adapters Adapters
	tasks    Tasks
}

// New creates an importer bound to the given store, provider registry
// and task engine.
func New(store Store, adapters Adapters, tasks Tasks) *Importer {
	return &Importer{store: store, adapters: adapters, tasks: tasks}
}

// QueueImport validates the request and queues a generic import task.
// Unknown providers fail here rather than as a failed task so the
// caller can surface a client error.
func (im *Importer) QueueImport(ctx context.Context, req Request) (string, error) {
	if req.Provider == "" || req.MediaID == "" || req.Title == "" {
		return "", fmt.Errorf("importer: provider, media id and title are required")
	}
	if !req.Kind.Valid() {
		return "", fmt.Errorf("importer: invalid media kind %q", req.Kind)
	}
	if req.Season < 1 {
		req.Season = 1
	}
	if _, ok := im.adapters.Get(req.Provider); !ok {
		return "", fmt.Errorf("importer: unknown provider %q", req.Provider)
	}

	title := fmt.Sprintf("导入弹幕: %s (%s)", req.Title, req.Provider)
	if req.TargetEpisode > 0 {
		title = fmt.Sprintf("导入弹幕: %s 第%d集 (%s)", req.Title, req.TargetEpisode, req.Provider)
	}
	return im.tasks.Submit(ctx, title, func(ctx context.Context, progress task.ProgressFunc) (string, error) {
		return im.runImport(ctx, req, progress)
	})
}

// QueueSourceRefresh queues a full refresh of one source: its episode
// tree is cleared and re-imported from the provider. The work row and
// its poster are left untouched.
func (im *Importer) QueueSourceRefresh(ctx context.Context, sourceID int64) (string, error) {
	source, err := im.store.GetSource(ctx, sourceID)
	if err != nil {
		return "", err
	}
	work, err := im.store.GetWork(ctx, source.WorkID)
	if err != nil {
		return "", err
	}
	if _, ok := im.adapters.Get(source.Provider); !ok {
		return "", fmt.Errorf("importer: unknown provider %q", source.Provider)
	}

	title := fmt.Sprintf("刷新源: %s (%s)", work.Title, source.Provider)
	return im.tasks.Submit(ctx, title, func(ctx context.Context, progress task.ProgressFunc) (string, error) {
		return im.runSourceRefresh(ctx, sourceID, progress)
	})
}

// QueueEpisodeRefresh queues a refetch of one episode's comment pool.
func (im *Importer) QueueEpisodeRefresh(ctx context.Context, episodeID int64) (string, error) {
	ep, source, err := im.store.GetEpisodeAndSource(ctx, episodeID)
	if err != nil {
		return "", err
	}
	work, err := im.store.GetWork(ctx, source.WorkID)
	if err != nil {
		return "", err
	}
	if _, ok := im.adapters.Get(source.Provider); !ok {
		return "", fmt.Errorf("importer: unknown provider %q", source.Provider)
	}

	title := fmt.Sprintf("刷新分集: %s 第%d集 (%s)", work.Title, ep.Index, source.Provider)
	return im.tasks.Submit(ctx, title, func(ctx context.Context, progress task.ProgressFunc) (string, error) {
		return im.runEpisodeRefresh(ctx, episodeID, progress)
	})
}

func (im *Importer) runImport(ctx context.Context, req Request, progress task.ProgressFunc) (string, error) {
	adapter, ok := im.adapters.Get(req.Provider)
	if !ok {
		return "", fmt.Errorf("importer: unknown provider %q", req.Provider)
	}

	work, _, err := im.store.GetOrCreateWork(ctx, req.Title, req.Kind, req.Season, req.PosterURL)
	if err != nil {
		return "", fmt.Errorf("importer: resolve work: %w", err)
	}
	if !req.IDs.empty() {
		meta := &models.WorkMetadata{
			WorkID:    work.ID,
			TmdbID:    req.IDs.TmdbID,
			ImdbID:    req.IDs.ImdbID,
			TvdbID:    req.IDs.TvdbID,
			DoubanID:  req.IDs.DoubanID,
			BangumiID: req.IDs.BangumiID,
		}
		if err := im.store.UpsertWorkMetadata(ctx, meta); err != nil {
			return "", fmt.Errorf("importer: record external ids: %w", err)
		}
	}

	source, _, err := im.store.LinkSource(ctx, work.ID, req.Provider, req.MediaID)
	if err != nil {
		return "", fmt.Errorf("importer: link source: %w", err)
	}

	return im.importSource(ctx, adapter, source, req.Kind, req.TargetEpisode, progress)
}

func (im *Importer) runSourceRefresh(ctx context.Context, sourceID int64, progress task.ProgressFunc) (string, error) {
	source, err := im.store.GetSource(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("importer: load source: %w", err)
	}
	work, err := im.store.GetWork(ctx, source.WorkID)
	if err != nil {
		return "", fmt.Errorf("importer: load work: %w", err)
	}
	adapter, ok := im.adapters.Get(source.Provider)
	if !ok {
		return "", fmt.Errorf("importer: unknown provider %q", source.Provider)
	}

	progress(2, "清除旧分集")
	if err := im.store.ClearSourceEpisodes(ctx, source.ID); err != nil {
		return "", fmt.Errorf("importer: clear episodes: %w", err)
	}
	return im.importSource(ctx, adapter, source, work.Kind, 0, progress)
}

func (im *Importer) runEpisodeRefresh(ctx context.Context, episodeID int64, progress task.ProgressFunc) (string, error) {
	ep, source, err := im.store.GetEpisodeAndSource(ctx, episodeID)
	if err != nil {
		return "", fmt.Errorf("importer: load episode: %w", err)
	}
	adapter, ok := im.adapters.Get(source.Provider)
	if !ok {
		return "", fmt.Errorf("importer: unknown provider %q", source.Provider)
	}

	progress(2, "清除旧弹幕")
	if err := im.store.DeleteComments(ctx, ep.ID); err != nil {
		return "", fmt.Errorf("importer: clear comments: %w", err)
	}

	comments, err := adapter.GetComments(ctx, ep.ProviderEpisodeID, func(pct int, desc string) {
		progress(scale(pct, 5, 90), desc)
	})
	if err != nil {
		return "", fmt.Errorf("importer: fetch comments: %w", err)
	}

	// An empty result still goes through the store so fetched_at
	// records the attempt.
	n, err := im.store.BulkInsertComments(ctx, ep.ID, comments)
	if err != nil {
		return "", fmt.Errorf("importer: insert comments: %w", err)
	}
	return fmt.Sprintf("刷新完成，新增 %d 条弹幕", n), nil
}

// importSource walks the provider's episode list for one source and
// fills the comment pools. Shared by generic import and source
// refresh; the work must already be linked.
func (im *Importer) importSource(ctx context.Context, adapter provider.Adapter, source *models.Source, kind models.MediaKind, target int, progress task.ProgressFunc) (string, error) {
	progress(5, "获取分集列表")
	episodes, err := adapter.GetEpisodes(ctx, source.MediaID, target, kind)
	if err != nil {
		return "", fmt.Errorf("importer: list episodes: %w", err)
	}
	if kind == models.MediaKindMovie && len(episodes) > 1 {
		episodes = episodes[:1]
	}
	if len(episodes) == 0 {
		return "未找到可导入的分集", nil
	}

	var (
		total    = len(episodes)
		inserted = 0
		failed   = 0
		started  = time.Now()
	)
	for i, info := range episodes {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		ep := &models.Episode{
			SourceID:          source.ID,
			Index:             info.Index,
			Title:             info.Title,
			URL:               info.URL,
			ProviderEpisodeID: info.ProviderEpisodeID,
		}
		if _, err := im.store.UpsertEpisode(ctx, ep); err != nil {
			return "", fmt.Errorf("importer: upsert episode %d: %w", info.Index, err)
		}

		// Each episode owns an equal slice of the 5..95 band, and the
		// provider's own 0..100 reports are scaled into that slice.
		base := 5 + i*90/total
		next := 5 + (i+1)*90/total
		label := fmt.Sprintf("[%d/%d]", i+1, total)
		comments, err := adapter.GetComments(ctx, info.ProviderEpisodeID, func(pct int, desc string) {
			progress(base+scale(pct, 0, next-base), label+" "+desc)
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			failed++
			logging.Warn().Err(err).
				Str("provider", adapter.Name()).
				Int64("source_id", source.ID).
				Int("episode_index", info.Index).
				Msg("Episode comment fetch failed, continuing")
			metrics.RecordImportError("fetch_comments")
			continue
		}
		if len(comments) == 0 {
			// Nothing to insert; the episode row stays with a zero
			// count and no fetched_at stamp.
			continue
		}
		n, err := im.store.BulkInsertComments(ctx, ep.ID, comments)
		if err != nil {
			return "", fmt.Errorf("importer: insert comments for episode %d: %w", info.Index, err)
		}
		inserted += n
	}

	metrics.RecordImport(adapter.Name(), total, inserted, time.Since(started))
	if failed > 0 {
		return fmt.Sprintf("导入完成，新增 %d 条弹幕，%d 个分集失败", inserted, failed), nil
	}
	return fmt.Sprintf("导入完成，新增 %d 条弹幕", inserted), nil
}

// scale maps a 0..100 percentage onto [lo, lo+span].
func scale(pct, lo, span int) int {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return lo + pct*span/100
}
