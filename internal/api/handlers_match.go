// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"context"
	"net/http"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/validation"
)

// Match answers POST /match. A single library hit is returned as a
// confirmed match, several hits become unconfirmed alternatives and no
// hit yields isMatched false with an empty list.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	var req models.DandanMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDandanJSON(w, http.StatusBadRequest,
			models.DandanFailure(http.StatusBadRequest, "invalid request body"))
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeDandanJSON(w, http.StatusBadRequest,
			models.DandanFailure(http.StatusBadRequest, err.Error()))
		return
	}

	resp, err := h.matchOne(r.Context(), req.FileName)
	if err != nil {
		logging.CtxErr(r.Context(), err).Str("file_name", req.FileName).Msg("Match failed")
		writeDandanJSON(w, http.StatusInternalServerError,
			models.DandanFailure(http.StatusInternalServerError, "match failed"))
		return
	}
	writeDandanJSON(w, http.StatusOK, resp)
}

// MatchBatch answers POST /match/batch with one response per request in
// request order. More than 32 requests is rejected outright.
func (h *Handler) MatchBatch(w http.ResponseWriter, r *http.Request) {
	var req models.DandanBatchMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDandanJSON(w, http.StatusBadRequest,
			models.DandanFailure(http.StatusBadRequest, "invalid request body"))
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeDandanJSON(w, http.StatusBadRequest,
			models.DandanFailure(http.StatusBadRequest, err.Error()))
		return
	}

	responses := make(models.DandanBatchMatchResponse, 0, len(req.Requests))
	for _, item := range req.Requests {
		if item.FileName == "" {
			responses = append(responses, models.DandanMatchResponse{
				DandanResponseBase: models.DandanFailure(http.StatusBadRequest, "fileName is required"),
				Matches:            []models.DandanMatchResult{},
			})
			continue
		}
		resp, err := h.matchOne(r.Context(), item.FileName)
		if err != nil {
			logging.CtxErr(r.Context(), err).Str("file_name", item.FileName).Msg("Batch match entry failed")
			responses = append(responses, models.DandanMatchResponse{
				DandanResponseBase: models.DandanFailure(http.StatusInternalServerError, "match failed"),
				Matches:            []models.DandanMatchResult{},
			})
			continue
		}
		responses = append(responses, resp)
	}
	writeDandanJSON(w, http.StatusOK, responses)
}

func (h *Handler) matchOne(ctx context.Context, fileName string) (models.DandanMatchResponse, error) {
	_, matches, err := h.dispatcher.MatchFile(ctx, fileName)
	if err != nil {
		return models.DandanMatchResponse{}, err
	}

	resp := models.DandanMatchResponse{
		DandanResponseBase: models.DandanSuccess(),
		Matches:            make([]models.DandanMatchResult, 0, len(matches)),
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, models.DandanMatchResult{
			EpisodeID:       m.Episode.ID,
			AnimeID:         m.Work.ID,
			AnimeTitle:      m.Work.Title,
			EpisodeTitle:    m.Episode.Title,
			Type:            m.Work.Kind.DandanplayType(),
			TypeDescription: m.Work.Kind.DandanplayTypeDescription(),
		})
	}

	switch len(matches) {
	case 0:
		metrics.RecordMatch("none")
	case 1:
		resp.IsMatched = true
		metrics.RecordMatch("unique")
	default:
		metrics.RecordMatch("ambiguous")
	}
	return resp, nil
}
