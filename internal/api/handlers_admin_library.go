// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kotodama-lab/danmuhive/internal/cache"
	"github.com/kotodama-lab/danmuhive/internal/importer"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/validation"
)

// searchCacheScope is the cache scope for fan-out search results, which
// aggregate every enabled provider and so belong to none of them.
const searchCacheScope = "search"

// ProviderSearch answers GET /api/admin/search?keyword=. Results come
// from the store cache when fresh, otherwise from a provider fan-out.
func (h *Handler) ProviderSearch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		rw.BadRequest("Keyword is required")
		return
	}

	cacheKey := cache.GenerateKey("admin_search", map[string]string{"keyword": keyword})
	var cached []models.ProviderSearchInfo
	if ok, err := h.cache.Get(r.Context(), searchCacheScope, cacheKey, &cached); err == nil && ok {
		rw.Success(cached)
		return
	} else if err != nil {
		logging.CtxErr(r.Context(), err).Msg("Search cache read failed")
	}

	results := h.providers.SearchAll(r.Context(), keyword, nil)

	ttl := h.cache.EffectiveTTL(r.Context(), cache.TTLKeySearch, h.config.Cache.SearchTTL)
	if err := h.cache.SetWithTTL(r.Context(), searchCacheScope, cacheKey, results, ttl); err != nil {
		logging.CtxErr(r.Context(), err).Msg("Search cache write failed")
	}
	rw.Success(results)
}

// ListProviders answers GET /api/admin/providers with the registered
// adapter names in display order.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.providers.Names())
}

// ProviderEpisodes answers GET /api/admin/providers/{provider}/episodes
// ?media_id=&kind=, the pre-import episode preview.
func (h *Handler) ProviderEpisodes(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	name := chi.URLParam(r, "provider")
	adapter, ok := h.providers.Get(name)
	if !ok {
		rw.NotFound("Unknown provider")
		return
	}

	mediaID := strings.TrimSpace(r.URL.Query().Get("media_id"))
	if mediaID == "" {
		rw.BadRequest("media_id is required")
		return
	}
	kind := models.MediaKindTVSeries
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind = models.MediaKindFromString(raw)
	}

	cacheKey := cache.GenerateKey("episodes", map[string]string{
		"media_id": mediaID,
		"kind":     string(kind),
	})
	var cached []models.ProviderEpisodeInfo
	if ok, err := h.cache.Get(r.Context(), name, cacheKey, &cached); err == nil && ok {
		rw.Success(cached)
		return
	} else if err != nil {
		logging.CtxErr(r.Context(), err).Str("provider", name).Msg("Episode cache read failed")
	}

	episodes, err := adapter.GetEpisodes(r.Context(), mediaID, 0, kind)
	if err != nil {
		rw.ExternalServiceError(name, err)
		return
	}

	ttl := h.cache.EffectiveTTL(r.Context(), cache.TTLKeyEpisodes, h.config.Cache.EpisodesTTL)
	if err := h.cache.SetWithTTL(r.Context(), name, cacheKey, episodes, ttl); err != nil {
		logging.CtxErr(r.Context(), err).Str("provider", name).Msg("Episode cache write failed")
	}
	rw.Success(episodes)
}

type importRequest struct {
	Provider      string `json:"provider" validate:"required"`
	MediaID       string `json:"media_id" validate:"required"`
	Title         string `json:"title" validate:"required"`
	Kind          string `json:"kind"`
	Season        int    `json:"season"`
	TargetEpisode int    `json:"target_episode"`
	PosterURL     string `json:"poster_url"`
	TmdbID        string `json:"tmdb_id"`
	ImdbID        string `json:"imdb_id"`
	TvdbID        string `json:"tvdb_id"`
	DoubanID      string `json:"douban_id"`
	BangumiID     string `json:"bangumi_id"`
}

type taskQueuedResponse struct {
	TaskID string `json:"task_id"`
}

// QueueImport answers POST /api/admin/import, queueing a generic import
// task for one provider media id.
func (h *Handler) QueueImport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeValidationError(rw, err)
		return
	}

	kind := models.MediaKindTVSeries
	if req.Kind != "" {
		kind = models.MediaKindFromString(req.Kind)
	}

	taskID, err := h.imports.QueueImport(r.Context(), importer.Request{
		Provider:      req.Provider,
		MediaID:       req.MediaID,
		Title:         req.Title,
		Kind:          kind,
		Season:        req.Season,
		TargetEpisode: req.TargetEpisode,
		PosterURL:     req.PosterURL,
		IDs: importer.ExternalIDs{
			TmdbID:    req.TmdbID,
			ImdbID:    req.ImdbID,
			TvdbID:    req.TvdbID,
			DoubanID:  req.DoubanID,
			BangumiID: req.BangumiID,
		},
	})
	if err != nil {
		logging.CtxErr(r.Context(), err).Str("provider", req.Provider).Msg("Import queueing failed")
		rw.BadRequest(err.Error())
		return
	}
	rw.Success(taskQueuedResponse{TaskID: taskID})
}

// RefreshSource answers POST /api/admin/sources/{id}/refresh,
// re-importing the full episode tree of one source.
func (h *Handler) RefreshSource(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid source id")
		return
	}
	taskID, err := h.imports.QueueSourceRefresh(r.Context(), id)
	if err != nil {
		storeError(rw, err)
		return
	}
	rw.Success(taskQueuedResponse{TaskID: taskID})
}

// RefreshEpisode answers POST /api/admin/episodes/{id}/refresh,
// re-fetching the danmaku of one episode.
func (h *Handler) RefreshEpisode(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid episode id")
		return
	}
	taskID, err := h.imports.QueueEpisodeRefresh(r.Context(), id)
	if err != nil {
		storeError(rw, err)
		return
	}
	rw.Success(taskQueuedResponse{TaskID: taskID})
}

// ListWorks answers GET /api/admin/works.
func (h *Handler) ListWorks(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	works, err := h.db.ListWorks(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(works)
}

// ListWorkSources answers GET /api/admin/works/{id}/sources.
func (h *Handler) ListWorkSources(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid work id")
		return
	}
	sources, err := h.db.ListSourcesForWork(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(sources)
}

// ListSourceEpisodes answers GET /api/admin/sources/{id}/episodes.
func (h *Handler) ListSourceEpisodes(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid source id")
		return
	}
	episodes, err := h.db.ListEpisodesForSource(r.Context(), id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(episodes)
}

type favoriteRequest struct {
	Favorited bool `json:"favorited"`
}

// FavoriteSource answers PUT /api/admin/sources/{id}/favorite. The
// store keeps at most one favorited source per work.
func (h *Handler) FavoriteSource(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid source id")
		return
	}
	var req favoriteRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}

	if err := h.db.SetSourceFavorited(r.Context(), id, req.Favorited); err != nil {
		storeError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{"id": id, "favorited": req.Favorited})
}

// DeleteWork answers DELETE /api/admin/works/{id}, removing the work
// with its sources, episodes and comments.
func (h *Handler) DeleteWork(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid work id")
		return
	}
	if err := h.db.DeleteWork(r.Context(), id); err != nil {
		storeError(rw, err)
		return
	}
	logging.Ctx(r.Context()).Info().Int64("work_id", id).Msg("Work deleted")
	rw.NoContent()
}

// DeleteSource answers DELETE /api/admin/sources/{id}.
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid source id")
		return
	}
	if err := h.db.DeleteSource(r.Context(), id); err != nil {
		storeError(rw, err)
		return
	}
	rw.NoContent()
}

// DeleteEpisode answers DELETE /api/admin/episodes/{id}.
func (h *Handler) DeleteEpisode(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid episode id")
		return
	}
	if err := h.db.DeleteEpisode(r.Context(), id); err != nil {
		storeError(rw, err)
		return
	}
	rw.NoContent()
}
