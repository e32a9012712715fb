// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

import (
	"strings"
	"time"
)

// NormalizeWorkTitle canonicalizes a title before storage or lookup so
// the same series imported from different providers lands on one Work
// row. The half-width "colon space" separator some sites use becomes
// the full-width colon CJK titles carry, and surrounding whitespace is
// trimmed.
func NormalizeWorkTitle(title string) string {
	t := strings.TrimSpace(title)
	t = strings.ReplaceAll(t, ": ", "：")
	return t
}

// MediaKind classifies a Work. It influences episode iteration (movies
// collapse to a single episode) and webhook matching.
type MediaKind string

const (
	MediaKindTVSeries MediaKind = "tv_series"
	MediaKindMovie    MediaKind = "movie"
	MediaKindOVA      MediaKind = "ova"
	MediaKindOther    MediaKind = "other"
)

// Valid reports whether k is one of the four known media kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaKindTVSeries, MediaKindMovie, MediaKindOVA, MediaKindOther:
		return true
	}
	return false
}

// DandanplayType returns the type string the compatibility API expects
// ("tvseries", "movie", "ova", "other").
func (k MediaKind) DandanplayType() string {
	if k == MediaKindTVSeries {
		return "tvseries"
	}
	return string(k)
}

// DandanplayTypeDescription returns the human-readable type label served
// alongside DandanplayType.
func (k MediaKind) DandanplayTypeDescription() string {
	switch k {
	case MediaKindTVSeries:
		return "TV Series"
	case MediaKindMovie:
		return "Movie"
	case MediaKindOVA:
		return "OVA"
	default:
		return "Other"
	}
}

// MediaKindFromString maps loose external type strings (dandanplay
// "tvseries", Jellyfin "Episode", Emby "Movie") onto a MediaKind.
func MediaKindFromString(s string) MediaKind {
	switch s {
	case "tv_series", "tvseries", "episode", "Episode", "Series", "season":
		return MediaKindTVSeries
	case "movie", "Movie", "film":
		return MediaKindMovie
	case "ova", "OVA":
		return MediaKindOVA
	default:
		return MediaKindOther
	}
}

// Work is a show or film in the library. (Title, Season) uniquely
// identifies a Work; Title is stored normalized (half-width ':' replaced
// with full-width '：').
type Work struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Kind      MediaKind `json:"kind"`
	Season    int       `json:"season"`
	PosterURL string    `json:"poster_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkMetadata carries the external identifiers attached 1:1 to a Work.
// Every field follows fill-if-absent semantics: an update only lands when
// the stored value is empty.
type WorkMetadata struct {
	WorkID             int64  `json:"work_id"`
	TmdbID             string `json:"tmdb_id,omitempty"`
	TmdbEpisodeGroupID string `json:"tmdb_episode_group_id,omitempty"`
	BangumiID          string `json:"bangumi_id,omitempty"`
	TvdbID             string `json:"tvdb_id,omitempty"`
	DoubanID           string `json:"douban_id,omitempty"`
	ImdbID             string `json:"imdb_id,omitempty"`
}

// WorkAliases holds the seven fixed alias slots attached 1:1 to a Work.
// Slots follow fill-if-absent semantics, same as WorkMetadata.
type WorkAliases struct {
	WorkID     int64  `json:"work_id"`
	NameEn     string `json:"name_en,omitempty"`
	NameJp     string `json:"name_jp,omitempty"`
	NameRomaji string `json:"name_romaji,omitempty"`
	AliasCn1   string `json:"alias_cn_1,omitempty"`
	AliasCn2   string `json:"alias_cn_2,omitempty"`
	AliasCn3   string `json:"alias_cn_3,omitempty"`
}

// Source binds one (provider, provider media id) to a Work. The pair is
// globally unique across the library and at most one Source per Work may
// be favorited.
type Source struct {
	ID        int64     `json:"id"`
	WorkID    int64     `json:"work_id"`
	Provider  string    `json:"provider"`
	MediaID   string    `json:"media_id"`
	Favorited bool      `json:"favorited"`
	CreatedAt time.Time `json:"created_at"`
}

// Episode is a unit of playable content within a Source, identified by a
// 1-based index unique within the Source.
type Episode struct {
	ID                int64      `json:"id"`
	SourceID          int64      `json:"source_id"`
	Index             int        `json:"episode_index"`
	Title             string     `json:"title"`
	URL               string     `json:"url,omitempty"`
	ProviderEpisodeID string     `json:"provider_episode_id"`
	FetchedAt         *time.Time `json:"fetched_at,omitempty"`
	CommentCount      int        `json:"comment_count"`
}

// TmdbEpisodeMapping records how one TMDB episode is renumbered inside a
// TMDB episode group. Rows are replaced wholesale per group on refresh.
type TmdbEpisodeMapping struct {
	TmdbTvID              int64  `json:"tmdb_tv_id"`
	GroupID               string `json:"group_id"`
	TmdbEpisodeID         int64  `json:"tmdb_episode_id"`
	TmdbSeasonNumber      int    `json:"tmdb_season_number"`
	TmdbEpisodeNumber     int    `json:"tmdb_episode_number"`
	CustomSeasonNumber    int    `json:"custom_season_number"`
	CustomEpisodeNumber   int    `json:"custom_episode_number"`
	AbsoluteEpisodeNumber int    `json:"absolute_episode_number"`
}
