// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

import (
	"strings"
)

// ============================================================================
// Emby Webhook Models
// ============================================================================
// These structures represent notifications posted by Emby's built-in
// webhook feature to /webhook/emby. Only library.new events for episodes
// and movies are acted on; everything else is acknowledged and dropped.
// Documentation: https://emby.media/support/articles/Webhooks.html

// EmbyWebhook is the envelope Emby posts for every configured event.
type EmbyWebhook struct {
	// Event information
	Title string `json:"Title,omitempty"` // Human-readable event summary
	Event string `json:"Event"`           // "library.new", "playback.start", ...

	// Payload
	Item   *EmbyWebhookItem   `json:"Item,omitempty"`
	Server *EmbyWebhookServer `json:"Server,omitempty"`
}

// EmbyWebhookItem is the library item the event refers to.
type EmbyWebhookItem struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"` // Episode or movie title
	Type           string `json:"Type"` // "Movie", "Episode", "Series", "Audio"
	ProductionYear int    `json:"ProductionYear,omitempty"`

	// TV show specific
	SeriesName        string `json:"SeriesName,omitempty"`
	SeasonName        string `json:"SeasonName,omitempty"`
	IndexNumber       int    `json:"IndexNumber,omitempty"`       // Episode number
	ParentIndexNumber int    `json:"ParentIndexNumber,omitempty"` // Season number

	// External IDs keyed "Tmdb", "Imdb", "Tvdb" plus site-specific entries
	ProviderIDs map[string]string `json:"ProviderIds,omitempty"`
}

// EmbyWebhookServer identifies the originating server.
type EmbyWebhookServer struct {
	ID      string `json:"Id,omitempty"`
	Name    string `json:"Name,omitempty"`
	Version string `json:"Version,omitempty"`
}

// IsItemAdded reports whether this event is a new-item notification.
func (w *EmbyWebhook) IsItemAdded() bool {
	return strings.EqualFold(w.Event, "library.new")
}

// providerID looks up a ProviderIds entry ignoring key case; Emby is not
// consistent about "Tmdb" vs "tmdb" across versions.
func (i *EmbyWebhookItem) providerID(name string) string {
	for k, v := range i.ProviderIDs {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ToWebhookItem normalizes the payload for the match dispatcher. Returns
// false when the event carries no item or the item type is neither
// episode nor movie.
func (w *EmbyWebhook) ToWebhookItem() (WebhookItem, bool) {
	if w.Item == nil {
		return WebhookItem{}, false
	}
	item := WebhookItem{
		Year:      w.Item.ProductionYear,
		TmdbID:    w.Item.providerID("Tmdb"),
		ImdbID:    w.Item.providerID("Imdb"),
		TvdbID:    w.Item.providerID("Tvdb"),
		DoubanID:  w.Item.providerID("DoubanID"),
		BangumiID: w.Item.providerID("Bangumi"),
	}
	switch strings.ToLower(w.Item.Type) {
	case "episode":
		item.Title = w.Item.SeriesName
		item.Kind = MediaKindTVSeries
		item.Season = w.Item.ParentIndexNumber
		item.Episode = w.Item.IndexNumber
	case "movie":
		item.Title = w.Item.Name
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
