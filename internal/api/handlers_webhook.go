// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// webhookDispatchTimeout bounds the background match-and-import
// dispatch kicked off by one webhook delivery.
const webhookDispatchTimeout = 2 * time.Minute

// Webhook answers POST /webhook/{type}?api_key=. Only new-item events
// for episodes and movies are dispatched; everything else is
// acknowledged and dropped. Dispatch runs detached because media
// servers time webhook deliveries out within seconds.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	configured := h.config.Webhook.APIKey
	supplied := r.URL.Query().Get("api_key")
	if configured == "" || subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) != 1 {
		rw.Forbidden("Invalid api key")
		return
	}

	hookType := chi.URLParam(r, "type")
	item, ok, err := decodeWebhookItem(hookType, r)
	if err != nil {
		if errors.Is(err, errUnknownWebhookType) {
			rw.NotFound("Unknown webhook type")
			return
		}
		rw.BadRequest("Invalid webhook payload")
		return
	}
	if !ok {
		metrics.RecordWebhookEvent(hookType, "ignored")
		rw.Success(map[string]string{"status": "ignored"})
		return
	}

	metrics.RecordWebhookEvent(hookType, "accepted")
	logging.Ctx(r.Context()).Info().
		Str("webhook", hookType).
		Str("title", item.Title).
		Int("season", item.Season).
		Int("episode", item.Episode).
		Msg("Webhook item accepted")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookDispatchTimeout)
	go func() {
		defer cancel()
		taskID, err := h.dispatcher.Dispatch(ctx, item)
		if err != nil {
			logging.CtxErr(ctx, err).Str("title", item.Title).Msg("Webhook dispatch failed")
			return
		}
		if taskID == "" {
			logging.Ctx(ctx).Info().Str("title", item.Title).Msg("Webhook item had no import candidate")
			return
		}
		logging.Ctx(ctx).Info().Str("title", item.Title).Str("task_id", taskID).Msg("Webhook import queued")
	}()

	rw.Success(map[string]string{"status": "accepted"})
}

var errUnknownWebhookType = errors.New("unknown webhook type")

// decodeWebhookItem decodes the vendor payload and normalizes it. The
// bool result is false for events or item types the server ignores.
func decodeWebhookItem(hookType string, r *http.Request) (models.WebhookItem, bool, error) {
	switch hookType {
	case "emby":
		var payload models.EmbyWebhook
		if err := decodeJSON(r, &payload); err != nil {
			return models.WebhookItem{}, false, err
		}
		if !payload.IsItemAdded() {
			return models.WebhookItem{}, false, nil
		}
		item, ok := payload.ToWebhookItem()
		return item, ok, nil
	case "jellyfin":
		var payload models.JellyfinWebhook
		if err := decodeJSON(r, &payload); err != nil {
			return models.WebhookItem{}, false, err
		}
		if !payload.IsItemAdded() {
			return models.WebhookItem{}, false, nil
		}
		item, ok := payload.ToWebhookItem()
		return item, ok, nil
	default:
		return models.WebhookItem{}, false, errUnknownWebhookType
	}
}
