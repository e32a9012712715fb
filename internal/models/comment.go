// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Danmaku display modes carried in the second field of the P parameter
// string. Values match the dandanplay wire format.
const (
	CommentModeScroll      = 1
	CommentModeBottomFixed = 4
	CommentModeTopFixed    = 5
)

// Comment is a normalized danmaku record as stored and served.
//
// P is the comma-separated parameter string "time_seconds,mode,color,[provider]"
// where mode is 1 (scroll), 4 (bottom fixed) or 5 (top fixed) and color is a
// 24-bit RGB integer. T duplicates the leading time offset in seconds for
// sorting without re-parsing P.
type Comment struct {
	CID string  `json:"cid"`
	P   string  `json:"p"`
	M   string  `json:"m"`
	T   float64 `json:"t"`
}

// FormatCommentP builds the canonical P parameter string. The time offset
// is rendered with millisecond precision and the provider tag is wrapped
// in brackets, e.g. "12.345,1,16777215,[bilibili]".
func FormatCommentP(seconds float64, mode int, color uint32, provider string) string {
	return fmt.Sprintf("%.3f,%d,%d,[%s]", seconds, mode, color&0xFFFFFF, provider)
}

// ParseCommentP splits a P parameter string back into its components.
// The provider tag is returned without its surrounding brackets.
func ParseCommentP(p string) (seconds float64, mode int, color uint32, provider string, err error) {
	parts := strings.SplitN(p, ",", 4)
	if len(parts) != 4 {
		return 0, 0, 0, "", fmt.Errorf("malformed p parameter %q", p)
	}
	seconds, err = strconv.ParseFloat(parts[0], 64)
	if err != nil || seconds < 0 {
		return 0, 0, 0, "", fmt.Errorf("bad time offset in p parameter %q", p)
	}
	mode, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, "", fmt.Errorf("bad mode in p parameter %q", p)
	}
	switch mode {
	case CommentModeScroll, CommentModeBottomFixed, CommentModeTopFixed:
	default:
		return 0, 0, 0, "", fmt.Errorf("unknown mode %d in p parameter %q", mode, p)
	}
	c, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil || c > 0xFFFFFF {
		return 0, 0, 0, "", fmt.Errorf("bad color in p parameter %q", p)
	}
	provider = strings.TrimSuffix(strings.TrimPrefix(parts[3], "["), "]")
	if provider == "" {
		return 0, 0, 0, "", fmt.Errorf("missing provider tag in p parameter %q", p)
	}
	return seconds, mode, uint32(c), provider, nil
}

// ProviderSearchInfo is one search hit returned by a provider adapter.
// Titles are already cleaned and season-parsed by the adapter.
type ProviderSearchInfo struct {
	Provider            string    `json:"provider"`
	MediaID             string    `json:"media_id"`
	Title               string    `json:"title"`
	Kind                MediaKind `json:"kind"`
	Year                int       `json:"year,omitempty"`
	Season              int       `json:"season"`
	PosterURL           string    `json:"poster_url,omitempty"`
	EpisodeCount        int       `json:"episode_count,omitempty"`
	CurrentEpisodeIndex int       `json:"current_episode_index,omitempty"`
}

// ProviderEpisodeInfo is one playable episode enumerated from a provider.
// Index is 1-based and contiguous within a single enumeration.
type ProviderEpisodeInfo struct {
	Provider          string `json:"provider"`
	ProviderEpisodeID string `json:"provider_episode_id"`
	Title             string `json:"title"`
	Index             int    `json:"episode_index"`
	URL               string `json:"url,omitempty"`
}

// EpisodeHint narrows a search or enumeration to a season/episode the
// caller already knows, typically from a webhook payload or filename.
type EpisodeHint struct {
	Season  int `json:"season,omitempty"`
	Episode int `json:"episode,omitempty"`
}
