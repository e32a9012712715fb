// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestFormatCommentP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		seconds  float64
		mode     int
		color    uint32
		provider string
		want     string
	}{
		{"scroll white", 12.345, CommentModeScroll, 16777215, "bilibili", "12.345,1,16777215,[bilibili]"},
		{"top fixed", 0, CommentModeTopFixed, 255, "tencent", "0.000,5,255,[tencent]"},
		{"bottom fixed rounds to millis", 1.23456, CommentModeBottomFixed, 0, "iqiyi", "1.235,4,0,[iqiyi]"},
		{"color masked to 24 bits", 10, CommentModeScroll, 0xFF000000 | 0x00FF00, "youku", "10.000,1,65280,[youku]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatCommentP(tt.seconds, tt.mode, tt.color, tt.provider)
			if got != tt.want {
				t.Errorf("FormatCommentP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCommentP(t *testing.T) {
	t.Parallel()

	seconds, mode, color, provider, err := ParseCommentP("12.345,1,16777215,[bilibili]")
	if err != nil {
		t.Fatalf("ParseCommentP() error = %v", err)
	}
	if seconds != 12.345 {
		t.Errorf("seconds = %v, want 12.345", seconds)
	}
	if mode != CommentModeScroll {
		t.Errorf("mode = %d, want %d", mode, CommentModeScroll)
	}
	if color != 16777215 {
		t.Errorf("color = %d, want 16777215", color)
	}
	if provider != "bilibili" {
		t.Errorf("provider = %q, want bilibili", provider)
	}
}

func TestParseCommentPRejectsMalformed(t *testing.T) {
	t.Parallel()

	bad := []string{
		"",
		"12.3,1,255",             // missing provider
		"-1,1,255,[x]",           // negative time
		"1,2,255,[x]",            // unknown mode
		"1,1,16777216,[x]",       // color out of 24-bit range
		"abc,1,255,[x]",          // non-numeric time
		"1,1,255,[]",             // empty provider tag
	}
	for _, p := range bad {
		if _, _, _, _, err := ParseCommentP(p); err == nil {
			t.Errorf("ParseCommentP(%q) expected error, got nil", p)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()

	p := FormatCommentP(98.7, CommentModeBottomFixed, 0xABCDEF, "gamer")
	seconds, mode, color, provider, err := ParseCommentP(p)
	if err != nil {
		t.Fatalf("round trip parse error: %v", err)
	}
	if seconds != 98.7 || mode != CommentModeBottomFixed || color != 0xABCDEF || provider != "gamer" {
		t.Errorf("round trip mismatch: got (%v,%d,%d,%q)", seconds, mode, color, provider)
	}
}

func TestMediaKind(t *testing.T) {
	t.Parallel()

	if !MediaKindTVSeries.Valid() || !MediaKindMovie.Valid() || !MediaKindOVA.Valid() || !MediaKindOther.Valid() {
		t.Error("expected all four kinds to be valid")
	}
	if MediaKind("documentary").Valid() {
		t.Error("unknown kind should not validate")
	}
	if got := MediaKindTVSeries.DandanplayType(); got != "tvseries" {
		t.Errorf("DandanplayType() = %q, want tvseries", got)
	}
	if got := MediaKindFromString("Episode"); got != MediaKindTVSeries {
		t.Errorf("MediaKindFromString(Episode) = %q, want tv_series", got)
	}
	if got := MediaKindFromString("Movie"); got != MediaKindMovie {
		t.Errorf("MediaKindFromString(Movie) = %q, want movie", got)
	}
	if got := MediaKindFromString("weird"); got != MediaKindOther {
		t.Errorf("MediaKindFromString(weird) = %q, want other", got)
	}
}

func TestApiTokenExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (&ApiToken{}).Expired(now) {
		t.Error("token without expiry should never be expired")
	}
	if (&ApiToken{ExpiresAt: &future}).Expired(now) {
		t.Error("token expiring in the future should not be expired")
	}
	if !(&ApiToken{ExpiresAt: &past}).Expired(now) {
		t.Error("token with past expiry should be expired")
	}
}

func TestJellyfinWebhookToWebhookItem(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"NotificationType": "ItemAdded",
		"ItemType": "Episode",
		"Name": "The Seventh Episode",
		"SeriesName": "Show Name",
		"SeasonNumber": 2,
		"EpisodeNumber": 7,
		"Provider_tmdb": "123456"
	}`)
	var hook JellyfinWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !hook.IsItemAdded() {
		t.Fatal("expected ItemAdded event")
	}
	item, ok := hook.ToWebhookItem()
	if !ok {
		t.Fatal("expected a usable webhook item")
	}
	if item.Title != "Show Name" || item.Kind != MediaKindTVSeries || item.Season != 2 || item.Episode != 7 {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.TmdbID != "123456" {
		t.Errorf("TmdbID = %q, want 123456", item.TmdbID)
	}
}

func TestJellyfinWebhookIgnoresNonVideo(t *testing.T) {
	t.Parallel()

	hook := JellyfinWebhook{NotificationType: "ItemAdded", ItemType: "Audio", Name: "Song"}
	if _, ok := hook.ToWebhookItem(); ok {
		t.Error("audio items must be dropped")
	}
}

func TestEmbyWebhookToWebhookItem(t *testing.T) {
	t.Parallel()

	hook := EmbyWebhook{
		Event: "library.new",
		Item: &EmbyWebhookItem{
			Name:              "Movie Title",
			Type:              "Movie",
			ProductionYear:    2024,
			ProviderIDs:       map[string]string{"tmdb": "777", "Imdb": "tt0012"},
		},
	}
	if !hook.IsItemAdded() {
		t.Fatal("expected library.new to count as item added")
	}
	item, ok := hook.ToWebhookItem()
	if !ok {
		t.Fatal("expected a usable webhook item")
	}
	if item.Kind != MediaKindMovie || item.Season != 1 || item.Episode != 1 {
		t.Errorf("movie normalization wrong: %+v", item)
	}
	if item.TmdbID != "777" {
		t.Errorf("case-insensitive provider lookup failed, TmdbID = %q", item.TmdbID)
	}
	if item.ImdbID != "tt0012" {
		t.Errorf("ImdbID = %q, want tt0012", item.ImdbID)
	}
}

func TestEmbyWebhookMissingItem(t *testing.T) {
	t.Parallel()

	hook := EmbyWebhook{Event: "library.new"}
	if _, ok := hook.ToWebhookItem(); ok {
		t.Error("payload without Item must be dropped")
	}
}

func TestEmbyWebhookEpisodeDefaultsSeason(t *testing.T) {
	t.Parallel()

	hook := EmbyWebhook{
		Event: "library.new",
		Item: &EmbyWebhookItem{
			Name:        "Pilot",
			Type:        "Episode",
			SeriesName:  "Show",
			IndexNumber: 1,
		},
	}
	item, ok := hook.ToWebhookItem()
	if !ok {
		t.Fatal("expected a usable webhook item")
	}
	if item.Season != 1 {
		t.Errorf("season = %d, want default 1", item.Season)
	}
}
