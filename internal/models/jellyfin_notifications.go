// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

import (
	"strings"
)

// ============================================================================
// Jellyfin Webhook Models (requires jellyfin-plugin-webhook)
// ============================================================================
// These structures represent notifications posted by the Jellyfin webhook
// plugin to /webhook/jellyfin. Only ItemAdded events for episodes and
// movies are acted on; everything else is acknowledged and dropped.
// Plugin: https://github.com/jellyfin/jellyfin-plugin-webhook

// JellyfinWebhook is the flat payload emitted by the webhook plugin's
// default template. Field names are fixed by the plugin.
type JellyfinWebhook struct {
	// Event information
	NotificationType string `json:"NotificationType"` // "ItemAdded", "PlaybackStart", ...
	Timestamp        string `json:"Timestamp,omitempty"`

	// Server information
	ServerID   string `json:"ServerId,omitempty"`
	ServerName string `json:"ServerName,omitempty"`

	// Item information
	ItemID   string `json:"ItemId,omitempty"`
	ItemType string `json:"ItemType,omitempty"` // "Movie", "Episode", "Season", "Audio"
	Name     string `json:"Name,omitempty"`     // Episode or movie title
	Year     int    `json:"Year,omitempty"`

	// TV show specific
	SeriesName    string `json:"SeriesName,omitempty"`
	SeasonNumber  int    `json:"SeasonNumber,omitempty"`
	EpisodeNumber int    `json:"EpisodeNumber,omitempty"`

	// Provider IDs (external identifiers)
	ProviderImdb    string `json:"Provider_imdb,omitempty"`
	ProviderTmdb    string `json:"Provider_tmdb,omitempty"`
	ProviderTvdb    string `json:"Provider_tvdb,omitempty"`
	ProviderDouban  string `json:"Provider_doubanid,omitempty"`
	ProviderBangumi string `json:"Provider_bangumi,omitempty"`
}

// IsItemAdded reports whether this event is a new-item notification.
func (w *JellyfinWebhook) IsItemAdded() bool {
	return strings.EqualFold(w.NotificationType, "ItemAdded")
}

// ToWebhookItem normalizes the payload for the match dispatcher. Returns
// false when the item type is neither episode nor movie.
func (w *JellyfinWebhook) ToWebhookItem() (WebhookItem, bool) {
	item := WebhookItem{
		Year:      w.Year,
		TmdbID:    w.ProviderTmdb,
		ImdbID:    w.ProviderImdb,
		TvdbID:    w.ProviderTvdb,
		DoubanID:  w.ProviderDouban,
		BangumiID: w.ProviderBangumi,
	}
	switch strings.ToLower(w.ItemType) {
	case "episode":
		item.Title = w.SeriesName
		item.Kind = MediaKindTVSeries
		item.Season = w.SeasonNumber
		item.Episode = w.EpisodeNumber
	case "movie":
		item.Title = w.Name
		item.Kind = MediaKindMovie
		item.Season = 1
		item.Episode = 1
	default:
		return WebhookItem{}, false
	}
	if item.Season == 0 {
		item.Season = 1
	}
	if item.Title == "" {
		return WebhookItem{}, false
	}
	return item, true
}

// WebhookItem is the vendor-neutral form both webhook payloads normalize
// into before reaching the match dispatcher.
type WebhookItem struct {
	Title     string    `json:"title"`
	Kind      MediaKind `json:"kind"`
	Season    int       `json:"season"`
	Episode   int       `json:"episode"`
	Year      int       `json:"year,omitempty"`
	TmdbID    string    `json:"tmdb_id,omitempty"`
	ImdbID    string    `json:"imdb_id,omitempty"`
	TvdbID    string    `json:"tvdb_id,omitempty"`
	DoubanID  string    `json:"douban_id,omitempty"`
	BangumiID string    `json:"bangumi_id,omitempty"`
}
