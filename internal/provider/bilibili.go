// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
bilibili.go - Bilibili Provider Adapter

Talks to the Bilibili web API. Search goes through the WBI-signed typed
search endpoint twice (bangumi and film categories) in parallel.
Episodes come from the PGC season list for "ss" media ids and from
video pages for "bv" ids; an episode is addressed as "aid,cid".
Comments are fetched per danmaku pool as protobuf seg.so segments and
decoded off the fetch goroutine (see bilibili_dm.go).

Sessions need the buvid3 device cookie and hourly-rotated WBI keys,
both managed in bilibili_wbi.go.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

const (
	biliAPIBase = "https://api.bilibili.com"
	biliWWWBase = "https://www.bilibili.com"
)

// Bilibili implements Adapter for the Bilibili web API.
type Bilibili struct {
	client  *fetchClient
	kv      KV
	apiBase string
	wwwBase string

	mu       sync.Mutex
	mixinKey string
	mixinAt  time.Time
}

func NewBilibili(kv KV) *Bilibili {
	return &Bilibili{
		client:  newFetchClient(clientConfig{name: "bilibili"}),
		kv:      kv,
		apiBase: biliAPIBase,
		wwwBase: biliWWWBase,
	}
}

func (a *Bilibili) Name() string { return "bilibili" }

func (a *Bilibili) Close() {
	a.client.http.CloseIdleConnections()
}

func (a *Bilibili) refererHeaders() map[string]string {
	return map[string]string{"Referer": a.wwwBase + "/"}
}

// Search queries the bangumi and film categories in parallel and merges
// the results, first category first, deduplicated by media id.
func (a *Bilibili) Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error) {
	if err := a.ensureBuvid(ctx, false); err != nil {
		return nil, err
	}
	mixin, err := a.ensureMixinKey(ctx)
	if err != nil {
		return nil, err
	}

	var bangumi, film []models.ProviderSearchInfo
	var bangumiErr, filmErr error

	var wg conc.WaitGroup
	wg.Go(func() { bangumi, bangumiErr = a.searchTyped(ctx, "media_bangumi", keyword, mixin) })
	wg.Go(func() { film, filmErr = a.searchTyped(ctx, "media_ft", keyword, mixin) })
	wg.Wait()

	if bangumiErr != nil && filmErr != nil {
		return nil, bangumiErr
	}
	if bangumiErr != nil {
		logging.Warn().Err(bangumiErr).Str("keyword", keyword).Msg("Bilibili bangumi search failed, using film results only")
	}
	if filmErr != nil {
		logging.Warn().Err(filmErr).Str("keyword", keyword).Msg("Bilibili film search failed, using bangumi results only")
	}

	seen := make(map[string]struct{})
	out := make([]models.ProviderSearchInfo, 0, len(bangumi)+len(film))
	for _, info := range append(bangumi, film...) {
		if _, dup := seen[info.MediaID]; dup {
			continue
		}
		seen[info.MediaID] = struct{}{}
		out = append(out, info)
	}

	metrics.RecordProviderSearch(a.Name(), len(out))
	return out, nil
}

func (a *Bilibili) searchTyped(ctx context.Context, searchType, keyword, mixin string) ([]models.ProviderSearchInfo, error) {
	params := url.Values{}
	params.Set("search_type", searchType)
	params.Set("keyword", keyword)
	signed := signWBI(params, mixin, time.Now())

	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Result []struct {
				MediaID        int64  `json:"media_id"`
				SeasonID       int64  `json:"season_id"`
				Title          string `json:"title"`
				Cover          string `json:"cover"`
				MediaType      int    `json:"media_type"`
				SeasonTypeName string `json:"season_type_name"`
				EpSize         int    `json:"ep_size"`
				Pubtime        int64  `json:"pubtime"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, a.apiBase+"/x/web-interface/wbi/search/type?"+signed, a.refererHeaders(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("bilibili: search %s failed: code %d %s", searchType, resp.Code, resp.Message)
	}

	var out []models.ProviderSearchInfo
	for _, item := range resp.Data.Result {
		if item.SeasonID == 0 {
			continue
		}
		title := CleanTitle(item.Title)
		if title == "" || IsJunkTitle(title) {
			continue
		}
		base, season := ParseSeason(title)

		kind := models.MediaKindTVSeries
		if item.MediaType == 2 || item.SeasonTypeName == "电影" {
			kind = models.MediaKindMovie
		}
		year := 0
		if item.Pubtime > 0 {
			year = time.Unix(item.Pubtime, 0).Year()
		}

		out = append(out, models.ProviderSearchInfo{
			Provider:     a.Name(),
			MediaID:      "ss" + strconv.FormatInt(item.SeasonID, 10),
			Title:        base,
			Kind:         kind,
			Year:         year,
			Season:       season,
			PosterURL:    absoluteImageURL(item.Cover),
			EpisodeCount: item.EpSize,
		})
	}
	return out, nil
}

// GetEpisodes enumerates episodes for "ss<season_id>" season ids or
// "bv…" video ids. Indices are assigned 1-based after junk filtering,
// so a target index always refers to the same episode the full listing
// would produce.
func (a *Bilibili) GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error) {
	var (
		eps []models.ProviderEpisodeInfo
		err error
	)
	switch {
	case strings.HasPrefix(mediaID, "ss"):
		eps, err = a.seasonEpisodes(ctx, strings.TrimPrefix(mediaID, "ss"))
	case strings.HasPrefix(strings.ToLower(mediaID), "bv"):
		eps, err = a.videoPages(ctx, mediaID)
	default:
		return nil, fmt.Errorf("bilibili: media id %q: %w", mediaID, ErrMediaIDInvalid)
	}
	if err != nil {
		return nil, err
	}

	if kind == models.MediaKindMovie && len(eps) > 1 {
		eps = eps[:1]
	}
	return selectTargetEpisode(eps, targetIndex), nil
}

func (a *Bilibili) seasonEpisodes(ctx context.Context, rawSeason string) ([]models.ProviderEpisodeInfo, error) {
	seasonID, err := strconv.ParseInt(rawSeason, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bilibili: media id ss%s: %w", rawSeason, ErrMediaIDInvalid)
	}

	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Result  struct {
			Episodes []struct {
				ID        int64  `json:"id"`
				Aid       int64  `json:"aid"`
				Cid       int64  `json:"cid"`
				Title     string `json:"title"`
				LongTitle string `json:"long_title"`
				Badge     string `json:"badge"`
			} `json:"episodes"`
		} `json:"result"`
	}
	u := fmt.Sprintf("%s/pgc/view/web/season?season_id=%d", a.apiBase, seasonID)
	if err := a.client.getJSON(ctx, u, a.refererHeaders(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("bilibili: season %d lookup failed: code %d %s", seasonID, resp.Code, resp.Message)
	}

	eps := make([]models.ProviderEpisodeInfo, 0, len(resp.Result.Episodes))
	for _, ep := range resp.Result.Episodes {
		title := ep.LongTitle
		if title == "" {
			title = ep.Title
		}
		if ep.Badge == "预告" || IsJunkTitle(title) {
			continue
		}
		eps = append(eps, models.ProviderEpisodeInfo{
			Provider:          a.Name(),
			ProviderEpisodeID: fmt.Sprintf("%d,%d", ep.Aid, ep.Cid),
			Title:             title,
			Index:             len(eps) + 1,
			URL:               fmt.Sprintf("%s/bangumi/play/ep%d", a.wwwBase, ep.ID),
		})
	}
	return eps, nil
}

func (a *Bilibili) videoPages(ctx context.Context, bvid string) ([]models.ProviderEpisodeInfo, error) {
	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Aid   int64  `json:"aid"`
			Bvid  string `json:"bvid"`
			Pages []struct {
				Cid  int64  `json:"cid"`
				Page int    `json:"page"`
				Part string `json:"part"`
			} `json:"pages"`
		} `json:"data"`
	}
	u := a.apiBase + "/x/web-interface/view?bvid=" + url.QueryEscape(bvid)
	if err := a.client.getJSON(ctx, u, a.refererHeaders(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("bilibili: video %s lookup failed: code %d %s", bvid, resp.Code, resp.Message)
	}

	eps := make([]models.ProviderEpisodeInfo, 0, len(resp.Data.Pages))
	for _, page := range resp.Data.Pages {
		if IsJunkTitle(page.Part) {
			continue
		}
		eps = append(eps, models.ProviderEpisodeInfo{
			Provider:          a.Name(),
			ProviderEpisodeID: fmt.Sprintf("%d,%d", resp.Data.Aid, page.Cid),
			Title:             page.Part,
			Index:             len(eps) + 1,
			URL:               fmt.Sprintf("%s/video/%s?p=%d", a.wwwBase, resp.Data.Bvid, page.Page),
		})
	}
	return eps, nil
}

// GetComments fetches every danmaku pool of an "aid,cid" episode. For
// each pool, seg.so segments are pulled sequentially until an empty
// body, a 404 or a 304; decoding runs on a bounded worker pool so the
// rate-limited fetch loop never waits on CPU work.
func (a *Bilibili) GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error) {
	rawAid, rawCid, ok := strings.Cut(providerEpisodeID, ",")
	if !ok {
		return nil, fmt.Errorf("bilibili: episode id %q: %w", providerEpisodeID, ErrEpisodeIDInvalid)
	}
	aid, errA := strconv.ParseInt(rawAid, 10, 64)
	cid, errC := strconv.ParseInt(rawCid, 10, 64)
	if errA != nil || errC != nil || aid <= 0 || cid <= 0 {
		return nil, fmt.Errorf("bilibili: episode id %q: %w", providerEpisodeID, ErrEpisodeIDInvalid)
	}

	reportProgress(progress, 5, "获取弹幕池")
	pools := a.discoverPools(ctx, aid, cid)

	decoder := pool.NewWithResults[[]dmElem]().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	segments := 0
	for _, oid := range pools {
		for seg := 1; ; seg++ {
			u := fmt.Sprintf("%s/x/v2/dm/web/seg.so?type=1&oid=%d&pid=%d&segment_index=%d", a.apiBase, oid, aid, seg)
			res, err := a.client.getBytes(ctx, u, a.refererHeaders())
			if err != nil {
				return nil, err
			}
			if res.Status == http.StatusNotFound || res.Status == http.StatusNotModified {
				break
			}
			if res.Status != http.StatusOK {
				return nil, &httpStatusError{Status: res.Status, URL: u, Snippet: bodySnippet(res.Body)}
			}
			if len(res.Body) == 0 {
				break
			}

			data := res.Body
			decoder.Go(func() []dmElem {
				elems, err := decodeDMSegment(data)
				if err != nil {
					logging.Warn().Err(err).Int64("oid", oid).Int("segment", seg).Msg("Bilibili segment decode failed, skipping")
					return nil
				}
				return elems
			})
			segments++
			reportProgress(progress, 5+min(segments*3, 85), fmt.Sprintf("获取弹幕分段 %d", segments))
		}
	}

	var all []dmElem
	for _, elems := range decoder.Wait() {
		for _, e := range elems {
			if e.Mode >= 7 || e.Content == "" {
				continue
			}
			all = append(all, e)
		}
	}

	collapsed := dedupeAndCollapse(all)
	out := make([]models.Comment, 0, len(collapsed))
	for _, e := range collapsed {
		out = append(out, biliComment(e))
	}
	reportProgress(progress, 100, fmt.Sprintf("弹幕获取完成，共 %d 条", len(out)))
	return out, nil
}

// discoverPools returns the main pool plus any subtitle-track pools
// from the player/v2 endpoint. Player lookup failures degrade to the
// main pool alone.
func (a *Bilibili) discoverPools(ctx context.Context, aid, cid int64) []int64 {
	pools := []int64{cid}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			Subtitle struct {
				Subtitles []struct {
					ID int64 `json:"id"`
				} `json:"subtitles"`
			} `json:"subtitle"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/x/player/v2?aid=%d&cid=%d", a.apiBase, aid, cid)
	if err := a.client.getJSON(ctx, u, a.refererHeaders(), &resp); err != nil || resp.Code != 0 {
		logging.Debug().Err(err).Int64("aid", aid).Int64("cid", cid).Msg("Bilibili player lookup failed, using main pool only")
		return pools
	}

	seen := map[int64]struct{}{cid: {}}
	for _, sub := range resp.Data.Subtitle.Subtitles {
		if sub.ID == 0 {
			continue
		}
		if _, dup := seen[sub.ID]; dup {
			continue
		}
		seen[sub.ID] = struct{}{}
		pools = append(pools, sub.ID)
	}
	return pools
}

// absoluteImageURL resolves protocol-relative cover URLs.
func absoluteImageURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// selectTargetEpisode narrows a full listing to one index. Indices were
// assigned against the filtered full list, so the same episode is
// returned whether or not the listing was narrowed.
func selectTargetEpisode(eps []models.ProviderEpisodeInfo, targetIndex int) []models.ProviderEpisodeInfo {
	if targetIndex <= 0 {
		return eps
	}
	for _, ep := range eps {
		if ep.Index == targetIndex {
			return []models.ProviderEpisodeInfo{ep}
		}
	}
	return nil
}
