// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
tencent.go - Tencent Video Provider Adapter

Search goes through the mobile search RPC, which answers in camelCase
JSON. Episode listings come from the page-server RPC, which answers in
snake_case; the two services sit behind different gateways and really
do disagree on casing. Episode pages are pulled with an opaque page
context until the page runs short, comes back empty, or repeats the
previous page's last vid.

Danmaku are served as a segment index keyed by start offset, each
segment fetched individually. Style metadata (color, fixed position)
arrives as a JSON string inside the JSON payload.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

const (
	tencentAPIBase = "https://pbaccess.video.qq.com"
	tencentDMBase  = "https://dm.video.qq.com"

	tencentSearchPath   = "/trpc.videosearch.mobile_search.MbSearchHttp/MbSearch?vplatform=2"
	tencentEpisodesPath = "/trpc.universal_backend_service.page_server_rpc.PageServer/GetPageData?video_appid=3000010&vplatform=2"

	tencentPageSize = 100
)

// Tencent implements Adapter for Tencent Video (v.qq.com).
type Tencent struct {
	client  *fetchClient
	apiBase string
	dmBase  string
}

func NewTencent() *Tencent {
	return &Tencent{
		client:  newFetchClient(clientConfig{name: "tencent"}),
		apiBase: tencentAPIBase,
		dmBase:  tencentDMBase,
	}
}

func (a *Tencent) Name() string { return "tencent" }

func (a *Tencent) Close() {
	a.client.http.CloseIdleConnections()
}

func tencentHeaders() map[string]string {
	return map[string]string{
		"Referer": "https://v.qq.com/",
		"Origin":  "https://v.qq.com",
	}
}

func (a *Tencent) Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error) {
	payload := map[string]any{
		"version":     "",
		"clientType":  1,
		"filterValue": "firstTabid=150",
		"retry":       0,
		"query":       keyword,
		"pagenum":     0,
		"pagesize":    30,
		"queryFrom":   4,
		"isneedQc":    true,
		"sceneId":     21,
		"platform":    "23",
	}

	var resp struct {
		Data struct {
			NormalList struct {
				ItemList []struct {
					Doc struct {
						ID string `json:"id"`
					} `json:"doc"`
					VideoInfo struct {
						Title    string `json:"title"`
						Year     int    `json:"year"`
						TypeName string `json:"typeName"`
						ImgURL   string `json:"imgUrl"`
					} `json:"videoInfo"`
				} `json:"itemList"`
			} `json:"normalList"`
		} `json:"data"`
	}
	if err := a.client.postJSON(ctx, a.apiBase+tencentSearchPath, tencentHeaders(), payload, &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []models.ProviderSearchInfo
	for _, item := range resp.Data.NormalList.ItemList {
		if item.Doc.ID == "" {
			continue
		}
		title := CleanTitle(item.VideoInfo.Title)
		if title == "" || IsJunkTitle(title) {
			continue
		}
		if _, dup := seen[item.Doc.ID]; dup {
			continue
		}
		seen[item.Doc.ID] = struct{}{}

		base, season := ParseSeason(title)
		kind := models.MediaKindTVSeries
		if item.VideoInfo.TypeName == "电影" {
			kind = models.MediaKindMovie
		}
		out = append(out, models.ProviderSearchInfo{
			Provider:  a.Name(),
			MediaID:   item.Doc.ID,
			Title:     base,
			Kind:      kind,
			Year:      item.VideoInfo.Year,
			Season:    season,
			PosterURL: absoluteImageURL(item.VideoInfo.ImgURL),
		})
	}

	metrics.RecordProviderSearch(a.Name(), len(out))
	return out, nil
}

type tencentEpisodeItem struct {
	vid   string
	title string
}

// GetEpisodes pages through the episode list module. The page context
// is opaque to the caller but rebuilt locally as begin/end/step bounds,
// matching what the web player sends.
func (a *Tencent) GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error) {
	if mediaID == "" {
		return nil, fmt.Errorf("tencent: empty media id: %w", ErrMediaIDInvalid)
	}

	var collected []tencentEpisodeItem
	pageContext := ""
	lastVid := ""
	for page := 0; ; page++ {
		items, err := a.fetchEpisodePage(ctx, mediaID, pageContext)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		if items[len(items)-1].vid == lastVid {
			// The page server repeats the final page forever once the
			// context walks past the end.
			break
		}
		lastVid = items[len(items)-1].vid
		collected = append(collected, items...)

		if len(items) < tencentPageSize {
			break
		}
		begin := (page+1)*tencentPageSize + 1
		end := (page + 2) * tencentPageSize
		pageContext = fmt.Sprintf("episode_begin=%d&episode_end=%d&episode_step=%d", begin, end, tencentPageSize)
	}

	eps := make([]models.ProviderEpisodeInfo, 0, len(collected))
	for _, item := range collected {
		eps = append(eps, models.ProviderEpisodeInfo{
			Provider:          a.Name(),
			ProviderEpisodeID: item.vid,
			Title:             item.title,
			Index:             len(eps) + 1,
			URL:               fmt.Sprintf("https://v.qq.com/x/cover/%s/%s.html", mediaID, item.vid),
		})
	}

	if kind == models.MediaKindMovie && len(eps) > 1 {
		eps = eps[:1]
	}
	return selectTargetEpisode(eps, targetIndex), nil
}

// fetchEpisodePage posts one page request and walks the module tree for
// the first non-empty item list, applying the trailer and junk filters.
func (a *Tencent) fetchEpisodePage(ctx context.Context, cid, pageContext string) ([]tencentEpisodeItem, error) {
	payload := map[string]any{
		"page_params": map[string]string{
			"cid":          cid,
			"vid":          "",
			"lid":          "",
			"video_appid":  "3000010",
			"vplatform":    "2",
			"page_type":    "detail_operation",
			"page_id":      "vsite_episode_list",
			"id_type":      "1",
			"page_size":    strconv.Itoa(tencentPageSize),
			"page_context": pageContext,
		},
	}

	var resp struct {
		Data struct {
			ModuleListDatas []struct {
				ModuleDatas []struct {
					ItemDataLists struct {
						ItemDatas []struct {
							ItemParams struct {
								Vid        string `json:"vid"`
								Title      string `json:"title"`
								UnionTitle string `json:"union_title"`
								IsTrailer  string `json:"is_trailer"`
							} `json:"item_params"`
						} `json:"item_datas"`
					} `json:"item_data_lists"`
				} `json:"module_datas"`
			} `json:"module_list_datas"`
		} `json:"data"`
	}
	if err := a.client.postJSON(ctx, a.apiBase+tencentEpisodesPath, tencentHeaders(), payload, &resp); err != nil {
		return nil, err
	}

	for _, moduleList := range resp.Data.ModuleListDatas {
		for _, module := range moduleList.ModuleDatas {
			itemDatas := module.ItemDataLists.ItemDatas
			if len(itemDatas) == 0 {
				continue
			}
			var items []tencentEpisodeItem
			for _, item := range itemDatas {
				params := item.ItemParams
				if params.Vid == "" || params.IsTrailer == "1" {
					continue
				}
				title := params.UnionTitle
				if title == "" {
					title = params.Title
				}
				if IsJunkTitle(title) {
					continue
				}
				items = append(items, tencentEpisodeItem{vid: params.Vid, title: title})
			}
			return items, nil
		}
	}
	return nil, nil
}

// GetComments walks the segment index in ascending start order and
// collects every segment's barrage list.
func (a *Tencent) GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error) {
	if providerEpisodeID == "" {
		return nil, fmt.Errorf("tencent: empty episode id: %w", ErrEpisodeIDInvalid)
	}

	reportProgress(progress, 5, "获取弹幕分段索引")

	var index struct {
		SegmentIndex map[string]struct {
			SegmentName  string `json:"segment_name"`
			SegmentStart string `json:"segment_start"`
		} `json:"segment_index"`
	}
	if err := a.client.getJSON(ctx, a.dmBase+"/barrage/base/"+providerEpisodeID, tencentHeaders(), &index); err != nil {
		return nil, err
	}
	if len(index.SegmentIndex) == 0 {
		reportProgress(progress, 100, "该视频没有弹幕")
		return nil, nil
	}

	starts := make([]int64, 0, len(index.SegmentIndex))
	byStart := make(map[int64]string, len(index.SegmentIndex))
	for key, seg := range index.SegmentIndex {
		start, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logging.Warn().Str("vid", providerEpisodeID).Str("key", key).Msg("Tencent segment index key is not numeric, skipping")
			continue
		}
		starts = append(starts, start)
		byStart[start] = seg.SegmentName
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	seen := make(map[string]struct{})
	var out []models.Comment
	for i, start := range starts {
		var segment struct {
			BarrageList []struct {
				ID           string `json:"id"`
				Content      string `json:"content"`
				TimeOffset   string `json:"time_offset"`
				ContentStyle string `json:"content_style"`
			} `json:"barrage_list"`
		}
		segURL := fmt.Sprintf("%s/barrage/segment/%s/%s", a.dmBase, providerEpisodeID, byStart[start])
		if err := a.client.getJSON(ctx, segURL, tencentHeaders(), &segment); err != nil {
			return nil, err
		}

		for _, b := range segment.BarrageList {
			if b.Content == "" {
				continue
			}
			if _, dup := seen[b.ID]; b.ID != "" && dup {
				continue
			}
			if b.ID != "" {
				seen[b.ID] = struct{}{}
			}

			offsetMS, _ := strconv.ParseInt(b.TimeOffset, 10, 64)
			seconds := float64(offsetMS) / 1000.0
			mode, color := tencentStyle(b.ContentStyle)

			out = append(out, models.Comment{
				CID: b.ID,
				P:   models.FormatCommentP(seconds, mode, color, a.Name()),
				M:   b.Content,
				T:   seconds,
			})
		}
		reportProgress(progress, 5+int(float64(i+1)/float64(len(starts))*90), fmt.Sprintf("获取弹幕分段 %d/%d", i+1, len(starts)))
	}

	reportProgress(progress, 100, fmt.Sprintf("弹幕获取完成，共 %d 条", len(out)))
	return out, nil
}

// tencentStyle decodes the content_style JSON string. Position 2 pins
// to the top, 3 to the bottom; anything else scrolls. Colors arrive as
// bare RGB hex.
func tencentStyle(raw string) (mode int, color uint32) {
	mode = models.CommentModeScroll
	color = 0xFFFFFF
	if raw == "" {
		return mode, color
	}

	var style struct {
		Color    string `json:"color"`
		Position int    `json:"position"`
	}
	if err := json.Unmarshal([]byte(raw), &style); err != nil {
		return mode, color
	}

	switch style.Position {
	case 2:
		mode = models.CommentModeTopFixed
	case 3:
		mode = models.CommentModeBottomFixed
	}
	if c, err := strconv.ParseUint(strings.TrimPrefix(style.Color, "#"), 16, 32); err == nil && c <= 0xFFFFFF {
		color = uint32(c)
	}
	return mode, color
}
