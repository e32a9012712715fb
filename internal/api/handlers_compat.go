// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// SearchEpisodes answers GET /search/episodes?anime=<title>&episode=<n>.
// The episode parameter narrows each hit to a single episode index.
func (h *Handler) SearchEpisodes(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("anime"))
	if keyword == "" {
		writeDandanJSON(w, http.StatusUnprocessableEntity,
			models.DandanFailure(http.StatusUnprocessableEntity, "anime keyword is required"))
		return
	}

	episodeFilter := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("episode")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeDandanJSON(w, http.StatusUnprocessableEntity,
				models.DandanFailure(http.StatusUnprocessableEntity, "episode must be a positive integer"))
			return
		}
		episodeFilter = n
	}

	animes, err := h.searchLibrary(r.Context(), keyword, episodeFilter)
	if err != nil {
		logging.CtxErr(r.Context(), err).Str("keyword", keyword).Msg("Library search failed")
		writeDandanJSON(w, http.StatusInternalServerError,
			models.DandanFailure(http.StatusInternalServerError, "search failed"))
		return
	}

	writeDandanJSON(w, http.StatusOK, models.DandanSearchEpisodesResponse{
		DandanResponseBase: models.DandanSuccess(),
		HasMore:            false,
		Animes:             animes,
	})
}

// SearchAnime answers GET /search/anime. Some players send the keyword
// parameter, others send anime; both are accepted.
func (h *Handler) SearchAnime(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		keyword = strings.TrimSpace(r.URL.Query().Get("anime"))
	}
	if keyword == "" {
		writeDandanJSON(w, http.StatusUnprocessableEntity,
			models.DandanFailure(http.StatusUnprocessableEntity, "keyword is required"))
		return
	}

	animes, err := h.searchLibrary(r.Context(), keyword, 0)
	if err != nil {
		logging.CtxErr(r.Context(), err).Str("keyword", keyword).Msg("Library search failed")
		writeDandanJSON(w, http.StatusInternalServerError,
			models.DandanFailure(http.StatusInternalServerError, "search failed"))
		return
	}

	writeDandanJSON(w, http.StatusOK, models.DandanSearchEpisodesResponse{
		DandanResponseBase: models.DandanSuccess(),
		HasMore:            false,
		Animes:             animes,
	})
}

// searchLibrary renders matching works with their preferred-source
// episodes. A non-zero episodeFilter keeps only works that have that
// episode index and lists just that episode.
func (h *Handler) searchLibrary(ctx context.Context, keyword string, episodeFilter int) ([]models.DandanAnime, error) {
	works, err := h.db.SearchWorksByTitle(ctx, keyword)
	if err != nil {
		return nil, err
	}

	animes := make([]models.DandanAnime, 0, len(works))
	for _, work := range works {
		episodes, err := h.db.ListPreferredEpisodes(ctx, work.ID)
		if err != nil {
			return nil, err
		}
		if episodeFilter > 0 {
			var filtered []models.Episode
			for _, ep := range episodes {
				if ep.Index == episodeFilter {
					filtered = append(filtered, ep)
				}
			}
			if len(filtered) == 0 {
				continue
			}
			episodes = filtered
		}
		animes = append(animes, h.dandanAnime(ctx, work, episodes))
	}
	return animes, nil
}

// dandanAnime renders one work and its episodes on the compat wire.
func (h *Handler) dandanAnime(ctx context.Context, work models.Work, episodes []models.Episode) models.DandanAnime {
	bangumiID := ""
	if meta, err := h.db.GetWorkMetadata(ctx, work.ID); err == nil {
		bangumiID = meta.BangumiID
	} else if !errors.Is(err, database.ErrNotFound) {
		logging.CtxErr(ctx, err).Int64("work_id", work.ID).Msg("Work metadata lookup failed")
	}

	wireEpisodes := make([]models.DandanEpisode, 0, len(episodes))
	for _, ep := range episodes {
		wireEpisodes = append(wireEpisodes, models.DandanEpisode{
			EpisodeID:    ep.ID,
			EpisodeTitle: ep.Title,
		})
	}

	return models.DandanAnime{
		AnimeID:         work.ID,
		BangumiID:       bangumiID,
		AnimeTitle:      work.Title,
		Type:            work.Kind.DandanplayType(),
		TypeDescription: work.Kind.DandanplayTypeDescription(),
		ImageURL:        work.PosterURL,
		StartDate:       work.CreatedAt.Format("2006-01-02T15:04:05"),
		EpisodeCount:    len(wireEpisodes),
		Episodes:        wireEpisodes,
	}
}

// Bangumi answers GET /bangumi/{id}. Three id forms are accepted:
// "A<int>" names an internal work id, a bare integer is tried as an
// internal id first, and anything unresolved falls back to the external
// bangumi id recorded in the work metadata.
func (h *Handler) Bangumi(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		h.bangumiNotFound(w)
		return
	}

	work, err := h.resolveBangumiID(r.Context(), raw)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.bangumiNotFound(w)
			return
		}
		logging.CtxErr(r.Context(), err).Str("id", raw).Msg("Bangumi lookup failed")
		writeDandanJSON(w, http.StatusInternalServerError,
			models.DandanFailure(http.StatusInternalServerError, "lookup failed"))
		return
	}

	episodes, err := h.db.ListPreferredEpisodes(r.Context(), work.ID)
	if err != nil {
		logging.CtxErr(r.Context(), err).Int64("work_id", work.ID).Msg("Episode listing failed")
		writeDandanJSON(w, http.StatusInternalServerError,
			models.DandanFailure(http.StatusInternalServerError, "lookup failed"))
		return
	}

	favorited := false
	if _, err := h.db.GetFavoritedSource(r.Context(), work.ID); err == nil {
		favorited = true
	} else if !errors.Is(err, database.ErrNotFound) {
		logging.CtxErr(r.Context(), err).Int64("work_id", work.ID).Msg("Favorited source lookup failed")
	}

	detail := models.DandanBangumiDetail{
		DandanAnime: h.dandanAnime(r.Context(), *work, episodes),
		IsFavorited: favorited,
	}
	writeDandanJSON(w, http.StatusOK, models.DandanBangumiResponse{
		DandanResponseBase: models.DandanSuccess(),
		Bangumi:            &detail,
	})
}

func (h *Handler) resolveBangumiID(ctx context.Context, raw string) (*models.Work, error) {
	if after, ok := strings.CutPrefix(raw, "A"); ok {
		id, err := strconv.ParseInt(after, 10, 64)
		if err != nil || id <= 0 {
			return nil, database.ErrNotFound
		}
		return h.db.GetWork(ctx, id)
	}

	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		work, err := h.db.GetWork(ctx, id)
		if err == nil {
			return work, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}

	workID, err := h.db.FindWorkIDByExternalID(ctx, "bangumi", raw)
	if err != nil {
		return nil, err
	}
	return h.db.GetWork(ctx, workID)
}

func (h *Handler) bangumiNotFound(w http.ResponseWriter) {
	writeDandanJSON(w, http.StatusNotFound, models.DandanBangumiResponse{
		DandanResponseBase: models.DandanFailure(http.StatusNotFound, "anime not found"),
	})
}

// Comment answers GET /comment/{episodeId} with the stored danmaku of
// one episode. An unknown but well-formed id yields an empty list so
// players fall back gracefully.
func (h *Handler) Comment(w http.ResponseWriter, r *http.Request) {
	episodeID, err := int64Param(r, "episodeId")
	if err != nil {
		writeDandanJSON(w, http.StatusBadRequest,
			models.DandanFailure(http.StatusBadRequest, "invalid episode id"))
		return
	}

	comments, err := h.db.ListComments(r.Context(), episodeID)
	if err != nil {
		logging.CtxErr(r.Context(), err).Int64("episode_id", episodeID).Msg("Comment listing failed")
		writeDandanJSON(w, http.StatusInternalServerError,
			models.DandanFailure(http.StatusInternalServerError, "comment lookup failed"))
		return
	}

	wire := make([]models.DandanComment, 0, len(comments))
	for _, c := range comments {
		wire = append(wire, models.DandanComment{CID: c.CID, P: c.P, M: c.M})
	}
	writeDandanJSON(w, http.StatusOK, models.DandanCommentResponse{
		Count:    len(wire),
		Comments: wire,
	})
}
