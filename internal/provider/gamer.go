// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
gamer.go - Bahamut Anime Crazy Provider Adapter

The site is Traditional Chinese, the rest of the system Simplified, so
keywords are converted to Traditional before searching and titles back
to Simplified afterwards.

Danmaku arrive in one shot per episode with timestamps in tenths of a
second. An expired session does not fail the request: the endpoint
answers 200 with a login prompt in the body. That sentinel triggers a
token refresh, the new cookie is persisted, and the request is replayed
exactly once. A refresh that hands back no Set-Cookie is fatal.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	retry "github.com/avast/retry-go/v4"
	json "github.com/goccy/go-json"
	"github.com/siongui/gojianfan"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

const (
	gamerAPIBase = "https://api.gamer.com.tw"
	gamerAniBase = "https://ani.gamer.com.tw"
)

// Gamer implements Adapter for Bahamut Anime Crazy (ani.gamer.com.tw).
type Gamer struct {
	client  *fetchClient
	kv      KV
	apiBase string
	aniBase string
}

func NewGamer(kv KV) *Gamer {
	return &Gamer{
		client:  newFetchClient(clientConfig{name: "gamer"}),
		kv:      kv,
		apiBase: gamerAPIBase,
		aniBase: gamerAniBase,
	}
}

func (a *Gamer) Name() string { return "gamer" }

func (a *Gamer) Close() {
	a.client.http.CloseIdleConnections()
}

func gamerHeaders() map[string]string {
	return map[string]string{
		"Referer": "https://ani.gamer.com.tw/",
		"Origin":  "https://ani.gamer.com.tw",
	}
}

func (a *Gamer) Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error) {
	kw := gojianfan.S2T(keyword)
	u := a.apiBase + "/mobile_app/anime/v1/search.php?kw=" + url.QueryEscape(kw)

	var resp struct {
		Anime []struct {
			AnimeSn int64  `json:"animeSn"`
			Title   string `json:"title"`
			Info    string `json:"info"`
			Pic     string `json:"pic"`
		} `json:"anime"`
	}
	if err := a.client.getJSON(ctx, u, gamerHeaders(), &resp); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var out []models.ProviderSearchInfo
	for _, item := range resp.Anime {
		if item.AnimeSn == 0 {
			continue
		}
		if _, dup := seen[item.AnimeSn]; dup {
			continue
		}

		title := gojianfan.T2S(CleanTitle(item.Title))
		if title == "" || IsJunkTitle(title) {
			continue
		}
		seen[item.AnimeSn] = struct{}{}

		base, season := ParseSeason(title)
		kind := models.MediaKindTVSeries
		if strings.Contains(item.Title, "劇場版") || strings.Contains(item.Title, "電影") {
			kind = models.MediaKindMovie
		}
		year := 0
		if y := yearRe.FindString(item.Info); y != "" {
			year, _ = strconv.Atoi(y)
		}

		out = append(out, models.ProviderSearchInfo{
			Provider:  a.Name(),
			MediaID:   strconv.FormatInt(item.AnimeSn, 10),
			Title:     base,
			Kind:      kind,
			Year:      year,
			Season:    season,
			PosterURL: absoluteImageURL(item.Pic),
		})
	}

	metrics.RecordProviderSearch(a.Name(), len(out))
	return out, nil
}

func (a *Gamer) GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error) {
	animeSn, err := strconv.ParseInt(mediaID, 10, 64)
	if err != nil || animeSn <= 0 {
		return nil, fmt.Errorf("gamer: media id %q is not an animeSn: %w", mediaID, ErrMediaIDInvalid)
	}

	var resp struct {
		Data struct {
			Anime struct {
				Title   string `json:"title"`
				Volumes []struct {
					VideoSn int64 `json:"video_sn"`
					Volume  int   `json:"volume"`
				} `json:"volumes"`
			} `json:"anime"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/anime/v1/video.php?animeSn=%d", a.apiBase, animeSn)
	if err := a.client.getJSON(ctx, u, gamerHeaders(), &resp); err != nil {
		return nil, err
	}

	var eps []models.ProviderEpisodeInfo
	for _, v := range resp.Data.Anime.Volumes {
		if v.VideoSn == 0 {
			continue
		}
		eps = append(eps, models.ProviderEpisodeInfo{
			Provider:          a.Name(),
			ProviderEpisodeID: strconv.FormatInt(v.VideoSn, 10),
			Title:             fmt.Sprintf("第%d集", v.Volume),
			Index:             len(eps) + 1,
			URL:               fmt.Sprintf("%s/animeVideo.php?sn=%d", a.aniBase, v.VideoSn),
		})
	}

	if kind == models.MediaKindMovie && len(eps) > 1 {
		eps = eps[:1]
	}
	return selectTargetEpisode(eps, targetIndex), nil
}

type gamerDanmu struct {
	Text     string  `json:"text"`
	Time     float64 `json:"time"`
	Position int     `json:"position"`
	Color    string  `json:"color"`
	Sn       int64   `json:"sn"`
	UserID   string  `json:"userid"`
}

// GetComments pulls the whole danmaku pool in one request. A login
// prompt in a 200 body means the session died; the base retry loop
// refreshes the token and replays once.
func (a *Gamer) GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error) {
	videoSn, err := strconv.ParseInt(providerEpisodeID, 10, 64)
	if err != nil || videoSn <= 0 {
		return nil, fmt.Errorf("gamer: episode id %q is not a videoSn: %w", providerEpisodeID, ErrEpisodeIDInvalid)
	}

	if stored, kvErr := a.kv.GetConfigValue(ctx, cookieKey(a.Name())); kvErr == nil && stored != "" {
		a.client.seedCookies(a.aniBase, stored)
	}

	reportProgress(progress, 10, "获取弹幕")
	var items []gamerDanmu
	var refreshErr error
	err = retry.Do(
		func() error {
			if refreshErr != nil {
				return refreshErr
			}
			var fetchErr error
			items, fetchErr = a.fetchDanmu(ctx, videoSn)
			return fetchErr
		},
		retry.Attempts(2),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Delay(0),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrSessionExpired) }),
		retry.OnRetry(func(_ uint, err error) {
			logging.Info().Err(err).Int64("videoSn", videoSn).Msg("Gamer session rejected, refreshing token")
			refreshErr = a.refreshSession(ctx, videoSn)
			metrics.RecordSessionRefresh(a.Name(), refreshErr)
		}),
	)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(items))
	out := make([]models.Comment, 0, len(items))
	for _, d := range items {
		if d.Text == "" {
			continue
		}
		if _, dup := seen[d.Sn]; dup {
			continue
		}
		seen[d.Sn] = struct{}{}

		// Timestamps count tenths of a second.
		seconds := d.Time / 10.0
		out = append(out, models.Comment{
			CID: strconv.FormatInt(d.Sn, 10),
			P:   models.FormatCommentP(seconds, gamerMode(d.Position), gamerColor(d.Color), a.Name()),
			M:   d.Text,
			T:   seconds,
		})
	}

	reportProgress(progress, 100, fmt.Sprintf("弹幕获取完成，共 %d 条", len(out)))
	return out, nil
}

func (a *Gamer) fetchDanmu(ctx context.Context, videoSn int64) ([]gamerDanmu, error) {
	form := url.Values{}
	form.Set("videoSn", strconv.FormatInt(videoSn, 10))

	res, err := a.client.postForm(ctx, a.aniBase+"/ajax/danmuGet.php", gamerHeaders(), form)
	if err != nil {
		return nil, err
	}
	if res.Status != 200 {
		return nil, &httpStatusError{Status: res.Status, URL: a.aniBase + "/ajax/danmuGet.php"}
	}
	if strings.Contains(string(res.Body), "登入") {
		return nil, fmt.Errorf("gamer: danmu endpoint asked for login: %w", ErrSessionExpired)
	}

	var items []gamerDanmu
	if err := json.Unmarshal(res.Body, &items); err != nil {
		return nil, fmt.Errorf("gamer: decode danmu list: %w", err)
	}
	return items, nil
}

// refreshSession asks the ad token endpoint for a fresh session cookie
// and persists it. No Set-Cookie in the answer means the refresh is not
// going to converge, so that is fatal rather than retryable.
func (a *Gamer) refreshSession(ctx context.Context, videoSn int64) error {
	u := fmt.Sprintf("%s/ajax/token.php?adID=0&sn=%d", a.aniBase, videoSn)
	res, err := a.client.getBytes(ctx, u, gamerHeaders())
	if err != nil {
		return fmt.Errorf("gamer: token refresh: %w", err)
	}
	if len(res.Header.Values("Set-Cookie")) == 0 {
		return fmt.Errorf("gamer: token refresh returned no session cookie: %w", ErrSessionRefresh)
	}

	if cookie := a.client.cookieString(a.aniBase); cookie != "" {
		if err := a.kv.SetConfigValue(ctx, cookieKey(a.Name()), cookie); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist gamer session cookie")
		}
	}
	return nil
}

func gamerMode(position int) int {
	switch position {
	case 1:
		return models.CommentModeTopFixed
	case 2:
		return models.CommentModeBottomFixed
	default:
		return models.CommentModeScroll
	}
}

// gamerColor parses "#RRGGBB"; anything else falls back to white.
func gamerColor(raw string) uint32 {
	hexPart := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hexPart) != 6 {
		return 0xFFFFFF
	}
	v, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return 0xFFFFFF
	}
	return uint32(v)
}
