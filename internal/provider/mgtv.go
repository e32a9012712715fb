// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
mgtv.go - Mango TV Provider Adapter

Search rows are heterogeneous: the mobile search endpoint mixes media
cards, program lists and ad blobs in one contents array, so each row is
decoded tolerantly and non-media rows are dropped. Only rows sourced
"imgo" (Mango's own player) carry usable collection ids.

Danmaku have two transports. The control endpoint names a CDN host and
a snapshot version; when both are present every minute of the video is
a static {version}/{minute}.json file. When the snapshot version is
missing the adapter falls back to the live opbarrage endpoint and walks
its millisecond cursor until the feed reports no next offset.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

const (
	mgtvSearchBase = "https://mobileso.bz.mgtv.com"
	mgtvAPIBase    = "https://pcweb.api.mgtv.com"
	mgtvGalaxyBase = "https://galaxy.bz.mgtv.com"

	mgtvEpisodeMaxPages = 50
)

var (
	mgtvPlayURLRe = regexp.MustCompile(`/b/(\d+)/(\d+)\.html`)
	mgtvDigitsRe  = regexp.MustCompile(`^\d+$`)
)

// Mgtv implements Adapter for Mango TV (mgtv.com).
type Mgtv struct {
	client     *fetchClient
	searchBase string
	apiBase    string
	galaxyBase string
}

func NewMgtv() *Mgtv {
	return &Mgtv{
		client:     newFetchClient(clientConfig{name: "mgtv"}),
		searchBase: mgtvSearchBase,
		apiBase:    mgtvAPIBase,
		galaxyBase: mgtvGalaxyBase,
	}
}

func (a *Mgtv) Name() string { return "mgtv" }

func (a *Mgtv) Close() {
	a.client.http.CloseIdleConnections()
}

func mgtvHeaders() map[string]string {
	return map[string]string{
		"Referer": "https://www.mgtv.com/",
	}
}

type mgtvMediaCard struct {
	Title  string   `json:"title"`
	URL    string   `json:"url"`
	Source string   `json:"source"`
	Img    string   `json:"img"`
	Desc   []string `json:"desc"`
}

func (a *Mgtv) Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error) {
	u := a.searchBase + "/msite/search/v2?q=" + url.QueryEscape(keyword) + "&pc=40&pn=1"

	var resp struct {
		Data struct {
			Contents []struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			} `json:"contents"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, u, mgtvHeaders(), &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []models.ProviderSearchInfo
	for _, row := range resp.Data.Contents {
		if row.Type != "media" {
			continue
		}
		// Rows share the "media" type but not a schema; skip the ones
		// that do not decode as a card.
		var card mgtvMediaCard
		if err := json.Unmarshal(row.Data, &card); err != nil {
			continue
		}
		if card.Source != "imgo" {
			continue
		}
		m := mgtvPlayURLRe.FindStringSubmatch(card.URL)
		if m == nil {
			continue
		}
		cid := m[1]
		if _, dup := seen[cid]; dup {
			continue
		}

		title := CleanTitle(card.Title)
		if title == "" || IsJunkTitle(title) {
			continue
		}
		seen[cid] = struct{}{}

		base, season := ParseSeason(title)
		desc := strings.Join(card.Desc, " ")
		kind := models.MediaKindTVSeries
		if strings.Contains(desc, "电影") {
			kind = models.MediaKindMovie
		}
		year := 0
		if y := yearRe.FindString(desc); y != "" {
			year, _ = strconv.Atoi(y)
		}

		out = append(out, models.ProviderSearchInfo{
			Provider:  a.Name(),
			MediaID:   cid,
			Title:     base,
			Kind:      kind,
			Year:      year,
			Season:    season,
			PosterURL: absoluteImageURL(card.Img),
		})
	}

	metrics.RecordProviderSearch(a.Name(), len(out))
	return out, nil
}

// GetEpisodes walks the collection show list page by page. Episode ids
// pair the collection and video ids because every downstream endpoint
// wants both.
func (a *Mgtv) GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error) {
	if !mgtvDigitsRe.MatchString(mediaID) {
		return nil, fmt.Errorf("mgtv: media id %q is not a collection id: %w", mediaID, ErrMediaIDInvalid)
	}

	seen := make(map[int64]struct{})
	var eps []models.ProviderEpisodeInfo
	for page := 1; page <= mgtvEpisodeMaxPages; page++ {
		var resp struct {
			Data struct {
				List []struct {
					VideoID int64  `json:"video_id"`
					T1      string `json:"t1"`
					T2      string `json:"t2"`
					T4      string `json:"t4"`
					URL     string `json:"url"`
				} `json:"list"`
			} `json:"data"`
		}
		u := fmt.Sprintf("%s/variety/showlist?allowedRC=1&collection_id=%s&page=%d&_support=10000000", a.apiBase, mediaID, page)
		if err := a.client.getJSON(ctx, u, mgtvHeaders(), &resp); err != nil {
			return nil, err
		}
		if len(resp.Data.List) == 0 {
			break
		}

		added := 0
		for _, item := range resp.Data.List {
			if item.VideoID == 0 {
				continue
			}
			if _, dup := seen[item.VideoID]; dup {
				continue
			}
			seen[item.VideoID] = struct{}{}
			added++

			title := item.T2
			if title == "" {
				title = item.T1
			}
			if IsJunkTitle(title) {
				continue
			}
			eps = append(eps, models.ProviderEpisodeInfo{
				Provider:          a.Name(),
				ProviderEpisodeID: fmt.Sprintf("%s,%d", mediaID, item.VideoID),
				Title:             title,
				Index:             len(eps) + 1,
				URL:               "https://www.mgtv.com" + item.URL,
			})
		}
		// A page of nothing but known ids means the listing wrapped.
		if added == 0 {
			break
		}
	}

	if kind == models.MediaKindMovie && len(eps) > 1 {
		eps = eps[:1]
	}
	return selectTargetEpisode(eps, targetIndex), nil
}

type mgtvBarrageItem struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Time    int64  `json:"time"`
	Type    int    `json:"type"`
	V2Color *struct {
		ColorLeft struct {
			R int `json:"r"`
			G int `json:"g"`
			B int `json:"b"`
		} `json:"color_left"`
	} `json:"v2_color"`
}

type mgtvBarrageData struct {
	Next  int64             `json:"next"`
	Items []mgtvBarrageItem `json:"items"`
}

// GetComments prefers the static CDN snapshot and falls back to the
// live barrage feed when the control endpoint reports no snapshot
// version for the video.
func (a *Mgtv) GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error) {
	cid, vid, ok := strings.Cut(providerEpisodeID, ",")
	if !ok || !mgtvDigitsRe.MatchString(cid) || !mgtvDigitsRe.MatchString(vid) {
		return nil, fmt.Errorf("mgtv: episode id %q is not a cid,vid pair: %w", providerEpisodeID, ErrEpisodeIDInvalid)
	}

	reportProgress(progress, 5, "获取视频信息")
	minutes, err := a.videoMinutes(ctx, cid, vid)
	if err != nil {
		return nil, err
	}

	var ctl struct {
		Data struct {
			CdnHost    string `json:"cdn_host"`
			CdnVersion string `json:"cdn_version"`
		} `json:"data"`
	}
	ctlURL := fmt.Sprintf("%s/getctlbarrage?version=3.0.0&abroad=0&platform=0&vid=%s&pid=&cid=%s&ticket=", a.galaxyBase, vid, cid)
	if err := a.client.getJSON(ctx, ctlURL, mgtvHeaders(), &ctl); err != nil {
		logging.Warn().Err(err).Str("vid", vid).Msg("Mgtv barrage control lookup failed, using live feed")
		ctl.Data.CdnVersion = ""
	}

	var items []mgtvBarrageItem
	if ctl.Data.CdnHost != "" && ctl.Data.CdnVersion != "" {
		items, err = a.cdnBarrage(ctx, ctl.Data.CdnHost, ctl.Data.CdnVersion, minutes, progress)
	} else {
		items, err = a.liveBarrage(ctx, cid, vid, progress)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(items))
	out := make([]models.Comment, 0, len(items))
	for _, item := range items {
		if item.Content == "" {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}

		seconds := float64(item.Time) / 1000.0
		mode, color := mgtvStyle(item)
		out = append(out, models.Comment{
			CID: strconv.FormatInt(item.ID, 10),
			P:   models.FormatCommentP(seconds, mode, color, a.Name()),
			M:   item.Content,
			T:   seconds,
		})
	}

	reportProgress(progress, 100, fmt.Sprintf("弹幕获取完成，共 %d 条", len(out)))
	return out, nil
}

// videoMinutes reads the video duration, reported as a clock string
// such as "01:45:30", and widens it to whole minutes.
func (a *Mgtv) videoMinutes(ctx context.Context, cid, vid string) (int, error) {
	var resp struct {
		Data struct {
			Info struct {
				Title string `json:"title"`
				Time  string `json:"time"`
			} `json:"info"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/video/info?allowedRC=1&cid=%s&vid=%s&change=3&datatype=1&type=1&_support=10000000", a.apiBase, cid, vid)
	if err := a.client.getJSON(ctx, u, mgtvHeaders(), &resp); err != nil {
		return 0, err
	}

	seconds, err := parseClockSeconds(resp.Data.Info.Time)
	if err != nil {
		return 0, fmt.Errorf("mgtv: video %s: %w", vid, err)
	}
	return seconds/60 + 1, nil
}

func (a *Mgtv) cdnBarrage(ctx context.Context, host, version string, minutes int, progress ProgressFunc) ([]mgtvBarrageItem, error) {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	var items []mgtvBarrageItem
	for minute := 0; minute < minutes; minute++ {
		res, err := a.client.getBytes(ctx, fmt.Sprintf("%s/%s/%d.json", host, version, minute), mgtvHeaders())
		if err != nil {
			return nil, err
		}
		// Minutes without danmaku have no snapshot file.
		if res.Status == http.StatusNotFound || len(res.Body) == 0 {
			reportProgress(progress, 5+int(float64(minute+1)/float64(minutes)*90), fmt.Sprintf("获取弹幕分段 %d/%d", minute+1, minutes))
			continue
		}
		if res.Status != http.StatusOK {
			return nil, &httpStatusError{Status: res.Status, URL: fmt.Sprintf("%s/%s/%d.json", host, version, minute)}
		}

		var seg struct {
			Data mgtvBarrageData `json:"data"`
		}
		if err := json.Unmarshal(res.Body, &seg); err != nil {
			return nil, fmt.Errorf("mgtv: decode cdn segment %d: %w", minute, err)
		}
		items = append(items, seg.Data.Items...)
		reportProgress(progress, 5+int(float64(minute+1)/float64(minutes)*90), fmt.Sprintf("获取弹幕分段 %d/%d", minute+1, minutes))
	}
	return items, nil
}

func (a *Mgtv) liveBarrage(ctx context.Context, cid, vid string, progress ProgressFunc) ([]mgtvBarrageItem, error) {
	var items []mgtvBarrageItem
	cursor := int64(0)
	for step := 1; ; step++ {
		var resp struct {
			Data mgtvBarrageData `json:"data"`
		}
		u := fmt.Sprintf("%s/cdn/opbarrage?vid=%s&pid=&cid=%s&ticket=&time=%d&mac=&platform=0", a.galaxyBase, vid, cid, cursor)
		if err := a.client.getJSON(ctx, u, mgtvHeaders(), &resp); err != nil {
			return nil, err
		}
		if len(resp.Data.Items) == 0 {
			break
		}
		items = append(items, resp.Data.Items...)
		reportProgress(progress, 5+min(step*5, 90), fmt.Sprintf("获取弹幕分段 %d", step))
		if resp.Data.Next <= 0 {
			break
		}
		cursor = resp.Data.Next
	}
	return items, nil
}

// mgtvStyle maps barrage type 1 to the top, 2 to the bottom, and folds
// the left gradient color when one is present.
func mgtvStyle(item mgtvBarrageItem) (mode int, color uint32) {
	mode = models.CommentModeScroll
	switch item.Type {
	case 1:
		mode = models.CommentModeTopFixed
	case 2:
		mode = models.CommentModeBottomFixed
	}

	color = 0xFFFFFF
	if item.V2Color != nil {
		left := item.V2Color.ColorLeft
		if left.R >= 0 && left.R <= 255 && left.G >= 0 && left.G <= 255 && left.B >= 0 && left.B <= 255 {
			color = uint32(left.R)<<16 | uint32(left.G)<<8 | uint32(left.B)
		}
	}
	return mode, color
}

// parseClockSeconds accepts "HH:MM:SS" and "MM:SS".
func parseClockSeconds(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("unrecognized duration %q", clock)
	}

	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unrecognized duration %q", clock)
		}
		total = total*60 + n
	}
	return total, nil
}
