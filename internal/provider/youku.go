// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
youku.go - Youku Provider Adapter

Danmaku live behind the mtop gateway, which wants two signatures per
request: an inner md5 over the base64 of the sorted-key message JSON
plus a fixed secret, and an outer md5 over the _m_h5_tk cookie prefix,
the millisecond timestamp, the app key and the form payload. The
session needs two cookies first: "cna" from the mmstat tracker and
"_m_h5_tk" from a warm-up call. A token rejection refreshes the token
and retries the request exactly once.

Responses come JSONP-wrapped, and the useful part is a JSON string
nested inside the JSON. Segments cover one minute each; the count is
derived from the video duration reported by the openapi service.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	json "github.com/goccy/go-json"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

const (
	youkuSearchBase = "https://search.youku.com"
	youkuOpenBase   = "https://openapi.youku.com"
	youkuAcsBase    = "https://acs.youku.com"
	youkuMmstatBase = "https://log.mmstat.com"

	youkuAppKey   = "24679788"
	youkuSecret   = "MkmC9SoIw6xCkSKHhJ7b5D2r51kBiREr"
	youkuClientID = "53e6cc67237fc59a"

	youkuEpisodePageSize = 100
)

var (
	youkuJSONPRe = regexp.MustCompile(`(?s)utility\d+\s*\((.*)\)`)
	yearRe       = regexp.MustCompile(`(19|20)\d{2}`)
)

// Youku implements Adapter for Youku (youku.com).
type Youku struct {
	client     *fetchClient
	kv         KV
	searchBase string
	openBase   string
	acsBase    string
	mmstatBase string
}

func NewYouku(kv KV) *Youku {
	return &Youku{
		client:     newFetchClient(clientConfig{name: "youku"}),
		kv:         kv,
		searchBase: youkuSearchBase,
		openBase:   youkuOpenBase,
		acsBase:    youkuAcsBase,
		mmstatBase: youkuMmstatBase,
	}
}

func (a *Youku) Name() string { return "youku" }

func (a *Youku) Close() {
	a.client.http.CloseIdleConnections()
}

func (a *Youku) Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error) {
	u := a.searchBase + "/api/search?keyword=" + url.QueryEscape(keyword)

	var resp struct {
		PageComponentList []struct {
			CommonData *struct {
				ShowID       string `json:"showId"`
				EpisodeTotal int    `json:"episodeTotal"`
				Feature      string `json:"feature"`
				IsYouku      int    `json:"isYouku"`
				HasYouku     int    `json:"hasYouku"`
				TitleDTO     struct {
					DisplayName string `json:"displayName"`
				} `json:"titleDTO"`
				PosterDTO struct {
					VThumbURL string `json:"vThumbUrl"`
				} `json:"posterDTO"`
			} `json:"commonData"`
		} `json:"pageComponentList"`
	}
	if err := a.client.getJSON(ctx, u, map[string]string{"Referer": "https://www.youku.com/"}, &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []models.ProviderSearchInfo
	for _, component := range resp.PageComponentList {
		data := component.CommonData
		if data == nil || data.ShowID == "" {
			continue
		}
		if data.IsYouku == 0 && data.HasYouku == 0 {
			continue
		}
		title := CleanTitle(data.TitleDTO.DisplayName)
		if title == "" || IsJunkTitle(title) {
			continue
		}
		if _, dup := seen[data.ShowID]; dup {
			continue
		}
		seen[data.ShowID] = struct{}{}

		base, season := ParseSeason(title)
		kind := models.MediaKindTVSeries
		if strings.Contains(data.Feature, "电影") {
			kind = models.MediaKindMovie
		}
		year := 0
		if m := yearRe.FindString(data.Feature); m != "" {
			year, _ = strconv.Atoi(m)
		}

		out = append(out, models.ProviderSearchInfo{
			Provider:     a.Name(),
			MediaID:      data.ShowID,
			Title:        base,
			Kind:         kind,
			Year:         year,
			Season:       season,
			PosterURL:    absoluteImageURL(data.PosterDTO.VThumbURL),
			EpisodeCount: data.EpisodeTotal,
		})
	}

	metrics.RecordProviderSearch(a.Name(), len(out))
	return out, nil
}

// GetEpisodes pages through the openapi show listing.
func (a *Youku) GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error) {
	if mediaID == "" {
		return nil, fmt.Errorf("youku: empty media id: %w", ErrMediaIDInvalid)
	}

	var eps []models.ProviderEpisodeInfo
	for page := 1; ; page++ {
		var resp struct {
			Total  int `json:"total"`
			Videos []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
				Link  string `json:"link"`
			} `json:"videos"`
		}
		u := fmt.Sprintf("%s/v2/shows/videos.json?client_id=%s&show_id=%s&page=%d&count=%d",
			a.openBase, youkuClientID, url.QueryEscape(mediaID), page, youkuEpisodePageSize)
		if err := a.client.getJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}
		if len(resp.Videos) == 0 {
			break
		}

		for _, v := range resp.Videos {
			if v.ID == "" || IsJunkTitle(v.Title) {
				continue
			}
			eps = append(eps, models.ProviderEpisodeInfo{
				Provider:          a.Name(),
				ProviderEpisodeID: v.ID,
				Title:             v.Title,
				Index:             len(eps) + 1,
				URL:               v.Link,
			})
		}

		if len(resp.Videos) < youkuEpisodePageSize || len(eps) >= resp.Total {
			break
		}
	}

	if kind == models.MediaKindMovie && len(eps) > 1 {
		eps = eps[:1]
	}
	return selectTargetEpisode(eps, targetIndex), nil
}

// youkuMsg is the inner danmaku request message. Field order is the
// sorted key order the inner signature is computed over.
type youkuMsg struct {
	Ctime  int64  `json:"ctime"`
	Ctype  int    `json:"ctype"`
	Cver   string `json:"cver"`
	GUID   string `json:"guid"`
	Mat    int    `json:"mat"`
	Mcount int    `json:"mcount"`
	Pid    int    `json:"pid"`
	Sver   string `json:"sver"`
	Type   int    `json:"type"`
	Vid    string `json:"vid"`
}

type youkuSignedMsg struct {
	youkuMsg
	Msg  string `json:"msg"`
	Sign string `json:"sign"`
}

type youkuDanmaku struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	PlayAt    int64  `json:"playat"`
	Propertis string `json:"propertis"`
	UID       int64  `json:"uid"`
}

// GetComments derives the segment count from the video duration and
// fetches the per-minute pages sequentially. A token rejection inside
// the loop refreshes the session once and replays the failed page.
func (a *Youku) GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error) {
	if providerEpisodeID == "" {
		return nil, fmt.Errorf("youku: empty episode id: %w", ErrEpisodeIDInvalid)
	}
	if err := a.ensureSession(ctx, false); err != nil {
		return nil, err
	}

	reportProgress(progress, 5, "获取视频时长")
	duration, err := a.videoDuration(ctx, providerEpisodeID)
	if err != nil {
		return nil, err
	}
	total := int(duration/60) + 1

	var out []models.Comment
	for mat := 0; mat < total; mat++ {
		var page []youkuDanmaku
		var refreshErr error
		err := retry.Do(
			func() error {
				if refreshErr != nil {
					return refreshErr
				}
				var fetchErr error
				page, fetchErr = a.fetchDanmakuPage(ctx, providerEpisodeID, mat)
				return fetchErr
			},
			retry.Attempts(2),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.Delay(0),
			retry.RetryIf(func(err error) bool { return errors.Is(err, ErrSessionExpired) }),
			retry.OnRetry(func(_ uint, err error) {
				logging.Info().Err(err).Msg("Youku token rejected, refreshing session")
				refreshErr = a.ensureSession(ctx, true)
				metrics.RecordSessionRefresh(a.Name(), refreshErr)
			}),
		)
		if err != nil {
			return nil, err
		}

		for _, d := range page {
			if d.Content == "" {
				continue
			}
			mode, color := youkuStyle(d.Propertis)
			seconds := float64(d.PlayAt) / 1000.0
			out = append(out, models.Comment{
				CID: strconv.FormatInt(d.ID, 10),
				P:   models.FormatCommentP(seconds, mode, color, a.Name()),
				M:   d.Content,
				T:   seconds,
			})
		}
		reportProgress(progress, 5+int(float64(mat+1)/float64(total)*90), fmt.Sprintf("获取弹幕分段 %d/%d", mat+1, total))
	}

	reportProgress(progress, 100, fmt.Sprintf("弹幕获取完成，共 %d 条", len(out)))
	return out, nil
}

func (a *Youku) videoDuration(ctx context.Context, vid string) (float64, error) {
	var resp struct {
		Duration string `json:"duration"`
	}
	u := fmt.Sprintf("%s/v2/videos/show.json?client_id=%s&video_id=%s", a.openBase, youkuClientID, url.QueryEscape(vid))
	if err := a.client.getJSON(ctx, u, nil, &resp); err != nil {
		return 0, err
	}
	duration, err := strconv.ParseFloat(resp.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("youku: video %s reports no usable duration %q", vid, resp.Duration)
	}
	return duration, nil
}

// ensureSession acquires the cna device cookie and the _m_h5_tk token.
// cna survives restarts through the config KV; the token is short-lived
// and always re-acquired on demand.
func (a *Youku) ensureSession(ctx context.Context, force bool) error {
	if !force {
		if stored, err := a.kv.GetConfigValue(ctx, cookieKey(a.Name())); err == nil && stored != "" {
			a.client.seedCookies(a.mmstatBase, stored)
		}
	}

	if force || a.client.cookieValue(a.mmstatBase, "cna") == "" {
		if _, err := a.client.getBytes(ctx, a.mmstatBase+"/eg.js", nil); err != nil {
			return fmt.Errorf("youku: acquire cna: %w", err)
		}
		if cna := a.client.cookieValue(a.mmstatBase, "cna"); cna != "" {
			if err := a.kv.SetConfigValue(ctx, cookieKey(a.Name()), "cna="+cna); err != nil {
				logging.Warn().Err(err).Msg("Failed to persist youku cna cookie")
			}
		}
	}
	if a.client.cookieValue(a.mmstatBase, "cna") == "" {
		return fmt.Errorf("youku: mmstat tracker returned no cna cookie: %w", ErrSessionRefresh)
	}

	if force || a.client.cookieValue(a.acsBase, "_m_h5_tk") == "" {
		u := a.acsBase + "/h5/mtop.com.youku.aplatform.weakget/1.0/?jsv=2.5.1&appKey=" + youkuAppKey
		if _, err := a.client.getBytes(ctx, u, nil); err != nil {
			return fmt.Errorf("youku: warm up token: %w", err)
		}
	}
	if a.client.cookieValue(a.acsBase, "_m_h5_tk") == "" {
		return fmt.Errorf("youku: warm-up returned no _m_h5_tk cookie: %w", ErrSessionRefresh)
	}
	return nil
}

func (a *Youku) fetchDanmakuPage(ctx context.Context, vid string, mat int) ([]youkuDanmaku, error) {
	token := a.client.cookieValue(a.acsBase, "_m_h5_tk")
	prefix, _, _ := strings.Cut(token, "_")
	if prefix == "" {
		return nil, fmt.Errorf("youku: missing _m_h5_tk token: %w", ErrSessionExpired)
	}

	now := time.Now()
	msg := youkuMsg{
		Ctime:  now.UnixMilli(),
		Ctype:  10004,
		Cver:   "v1.0",
		GUID:   a.client.cookieValue(a.mmstatBase, "cna"),
		Mat:    mat,
		Mcount: 1,
		Pid:    0,
		Sver:   "3.1.0",
		Type:   1,
		Vid:    vid,
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("youku: encode message: %w", err)
	}
	msgEnc := base64.StdEncoding.EncodeToString(msgJSON)

	signed := youkuSignedMsg{
		youkuMsg: msg,
		Msg:      msgEnc,
		Sign:     md5Hex(msgEnc + youkuSecret),
	}
	data, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("youku: encode signed message: %w", err)
	}

	t := strconv.FormatInt(now.UnixMilli(), 10)
	outerSign := md5Hex(prefix + "&" + t + "&" + youkuAppKey + "&" + string(data))

	query := url.Values{}
	query.Set("jsv", "2.5.6")
	query.Set("appKey", youkuAppKey)
	query.Set("t", t)
	query.Set("sign", outerSign)
	query.Set("api", "mopen.youku.danmu.list")
	query.Set("v", "1.0")
	query.Set("type", "originaljson")
	query.Set("dataType", "jsonp")
	query.Set("timeout", "20000")
	query.Set("jsonpIncPrefix", "utility")

	form := url.Values{}
	form.Set("data", string(data))

	headers := map[string]string{"Referer": "https://v.youku.com/"}
	res, err := a.client.postForm(ctx, a.acsBase+"/h5/mopen.youku.danmu.list/1.0/?"+query.Encode(), headers, form)
	if err != nil {
		return nil, err
	}

	body := unwrapJSONP(res.Body)
	var outer struct {
		Ret  []string `json:"ret"`
		Data struct {
			Result string `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("youku: decode danmaku envelope: %w", err)
	}
	if len(outer.Ret) > 0 && !strings.Contains(outer.Ret[0], "SUCCESS") {
		if strings.Contains(outer.Ret[0], "TOKEN") || strings.Contains(outer.Ret[0], "SID") {
			return nil, fmt.Errorf("youku: gateway rejected token (%s): %w", outer.Ret[0], ErrSessionExpired)
		}
		return nil, fmt.Errorf("youku: danmaku request failed: %s", outer.Ret[0])
	}
	if outer.Data.Result == "" {
		return nil, nil
	}

	var inner struct {
		Data struct {
			Result []youkuDanmaku `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(outer.Data.Result), &inner); err != nil {
		return nil, fmt.Errorf("youku: decode danmaku result: %w", err)
	}
	return inner.Data.Result, nil
}

// unwrapJSONP strips the utilityN(...) callback when present; some
// gateway variants answer with bare JSON.
func unwrapJSONP(body []byte) []byte {
	if m := youkuJSONPRe.FindSubmatch(body); m != nil {
		return m[1]
	}
	return body
}

// youkuStyle decodes the "propertis" JSON string. pos 1 pins to the
// top, 2 to the bottom.
func youkuStyle(raw string) (mode int, color uint32) {
	mode = models.CommentModeScroll
	color = 0xFFFFFF
	if raw == "" {
		return mode, color
	}

	var props struct {
		Color uint32 `json:"color"`
		Pos   int    `json:"pos"`
	}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return mode, color
	}
	switch props.Pos {
	case 1:
		mode = models.CommentModeTopFixed
	case 2:
		mode = models.CommentModeBottomFixed
	}
	if props.Color > 0 && props.Color <= 0xFFFFFF {
		color = props.Color
	}
	return mode, color
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
