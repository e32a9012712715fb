// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
iqiyi.go - iQiyi Provider Adapter

Search uses the open HTML5 search endpoint. A result's media id is the
link id from its album URL ("v_<id>.html"). Base info for an id comes
from the mobile page HTML, which embeds "videoInfo" and "albumInfo"
JSON blobs; album episode listings come from the avlistinfo API, whose
response really does spell its payload "epsodelist".

Danmaku are five-minute zlib-compressed XML segments fetched until a
404, an empty payload, or a parse failure ends the stream. Earlier
segments are kept when a later one fails.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/xml"
	"fmt"
	"io"
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
	iqiyiSearchBase = "http://search.video.iqiyi.com"
	iqiyiMobileBase = "https://m.iqiyi.com"
	iqiyiAPIBase    = "https://pcw-api.iqiyi.com"
	iqiyiCmtsBase   = "http://cmts.iqiyi.com"

	iqiyiEpisodePageSize = 200
)

var (
	iqiyiLinkIDRe    = regexp.MustCompile(`v_([0-9a-z]+)\.html`)
	iqiyiMediaIDRe   = regexp.MustCompile(`^[0-9a-z]+$`)
	iqiyiVideoInfoRe = regexp.MustCompile(`(?s)"videoInfo":\s*(\{.*?\}),\s*"`)
	iqiyiAlbumInfoRe = regexp.MustCompile(`(?s)"albumInfo":\s*(\{.*?\}),\s*"`)
)

// Iqiyi implements Adapter for iQiyi (iqiyi.com).
type Iqiyi struct {
	client     *fetchClient
	searchBase string
	mobileBase string
	apiBase    string
	cmtsBase   string
}

func NewIqiyi() *Iqiyi {
	return &Iqiyi{
		client:     newFetchClient(clientConfig{name: "iqiyi"}),
		searchBase: iqiyiSearchBase,
		mobileBase: iqiyiMobileBase,
		apiBase:    iqiyiAPIBase,
		cmtsBase:   iqiyiCmtsBase,
	}
}

func (a *Iqiyi) Name() string { return "iqiyi" }

func (a *Iqiyi) Close() {
	a.client.http.CloseIdleConnections()
}

func (a *Iqiyi) Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error) {
	u := fmt.Sprintf("%s/o?if=html5&key=%s&pageNum=1&pageSize=20", a.searchBase, url.QueryEscape(keyword))

	var resp struct {
		Data struct {
			DocInfos []struct {
				AlbumDocInfo struct {
					AlbumTitle   string `json:"albumTitle"`
					AlbumLink    string `json:"albumLink"`
					AlbumImg     string `json:"albumImg"`
					SiteID       string `json:"siteId"`
					Channel      string `json:"channel"`
					VideoDocType int    `json:"videoDocType"`
					ReleaseDate  string `json:"releaseDate"`
					ItemTotal    int    `json:"itemTotalNumber"`
				} `json:"albumDocInfo"`
			} `json:"docinfos"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, u, nil, &resp); err != nil {
		return nil, err
	}

	var out []models.ProviderSearchInfo
	for _, doc := range resp.Data.DocInfos {
		info := doc.AlbumDocInfo
		if info.SiteID != "iqiyi" || info.VideoDocType != 1 {
			continue
		}
		if strings.Contains(info.Channel, "原创") || strings.Contains(info.Channel, "教育") {
			continue
		}

		m := iqiyiLinkIDRe.FindStringSubmatch(info.AlbumLink)
		if m == nil {
			continue
		}
		title := CleanTitle(info.AlbumTitle)
		if title == "" || IsJunkTitle(title) {
			continue
		}
		base, season := ParseSeason(title)

		kind := models.MediaKindTVSeries
		if strings.Contains(info.Channel, "电影") {
			kind = models.MediaKindMovie
		}
		year := 0
		if len(info.ReleaseDate) >= 4 {
			year, _ = strconv.Atoi(info.ReleaseDate[:4])
		}

		out = append(out, models.ProviderSearchInfo{
			Provider:     a.Name(),
			MediaID:      m[1],
			Title:        base,
			Kind:         kind,
			Year:         year,
			Season:       season,
			PosterURL:    absoluteImageURL(info.AlbumImg),
			EpisodeCount: info.ItemTotal,
		})
	}

	metrics.RecordProviderSearch(a.Name(), len(out))
	return out, nil
}

type iqiyiVideoInfo struct {
	TvID      int64  `json:"tvId"`
	AlbumID   int64  `json:"albumId"`
	VideoName string `json:"videoName"`
	TvName    string `json:"tvName"`
	Duration  int    `json:"duration"`
}

// pageInfo loads the mobile page for a link id and extracts the
// embedded videoInfo blob.
func (a *Iqiyi) pageInfo(ctx context.Context, linkID string) (*iqiyiVideoInfo, error) {
	res, err := a.client.getBytes(ctx, a.mobileBase+"/v_"+linkID+".html", nil)
	if err != nil {
		return nil, err
	}
	if res.Status != http.StatusOK {
		return nil, &httpStatusError{Status: res.Status, URL: a.mobileBase + "/v_" + linkID + ".html"}
	}

	m := iqiyiVideoInfoRe.FindSubmatch(res.Body)
	if m == nil {
		return nil, fmt.Errorf("iqiyi: page v_%s.html has no videoInfo blob", linkID)
	}
	var info iqiyiVideoInfo
	if err := json.Unmarshal(m[1], &info); err != nil {
		return nil, fmt.Errorf("iqiyi: decode videoInfo for v_%s: %w", linkID, err)
	}
	if info.TvID == 0 {
		return nil, fmt.Errorf("iqiyi: videoInfo for v_%s carries no tvId", linkID)
	}

	// Single-video pages often omit albumId from videoInfo but still
	// embed an albumInfo blob next to it.
	if info.AlbumID == 0 {
		if m := iqiyiAlbumInfoRe.FindSubmatch(res.Body); m != nil {
			var album struct {
				AlbumID int64 `json:"albumId"`
			}
			if err := json.Unmarshal(m[1], &album); err == nil {
				info.AlbumID = album.AlbumID
			}
		}
	}
	return &info, nil
}

// GetEpisodes resolves a link id to its album and enumerates the album
// episode list. Link ids without an album (typically films) yield the
// single video itself.
func (a *Iqiyi) GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error) {
	if mediaID == "" || !iqiyiMediaIDRe.MatchString(mediaID) {
		return nil, fmt.Errorf("iqiyi: media id %q: %w", mediaID, ErrMediaIDInvalid)
	}

	info, err := a.pageInfo(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	var eps []models.ProviderEpisodeInfo
	if info.AlbumID > 0 && kind != models.MediaKindMovie {
		eps, err = a.albumEpisodes(ctx, info.AlbumID)
		if err != nil {
			return nil, err
		}
	}
	if len(eps) == 0 {
		title := info.VideoName
		if title == "" {
			title = info.TvName
		}
		eps = []models.ProviderEpisodeInfo{{
			Provider:          a.Name(),
			ProviderEpisodeID: strconv.FormatInt(info.TvID, 10),
			Title:             title,
			Index:             1,
			URL:               a.mobileBase + "/v_" + mediaID + ".html",
		}}
	}

	if kind == models.MediaKindMovie && len(eps) > 1 {
		eps = eps[:1]
	}
	return selectTargetEpisode(eps, targetIndex), nil
}

func (a *Iqiyi) albumEpisodes(ctx context.Context, albumID int64) ([]models.ProviderEpisodeInfo, error) {
	var eps []models.ProviderEpisodeInfo
	for page := 1; ; page++ {
		var resp struct {
			Code string `json:"code"`
			Data struct {
				Total int `json:"total"`
				// Upstream's own spelling.
				Epsodelist []struct {
					TvID    int64  `json:"tvId"`
					Name    string `json:"name"`
					Order   int    `json:"order"`
					PlayURL string `json:"playUrl"`
				} `json:"epsodelist"`
			} `json:"data"`
		}
		u := fmt.Sprintf("%s/albums/album/avlistinfo?aid=%d&page=%d&size=%d", a.apiBase, albumID, page, iqiyiEpisodePageSize)
		if err := a.client.getJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data.Epsodelist) == 0 {
			break
		}

		for _, ep := range resp.Data.Epsodelist {
			if IsJunkTitle(ep.Name) {
				continue
			}
			eps = append(eps, models.ProviderEpisodeInfo{
				Provider:          a.Name(),
				ProviderEpisodeID: strconv.FormatInt(ep.TvID, 10),
				Title:             ep.Name,
				Index:             len(eps) + 1,
				URL:               ep.PlayURL,
			})
		}

		if len(resp.Data.Epsodelist) < iqiyiEpisodePageSize {
			break
		}
	}
	return eps, nil
}

// GetComments pulls numbered bullet segments until the stream ends.
// Segment URLs shard by the last four digits of the tvid.
func (a *Iqiyi) GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error) {
	tvid := providerEpisodeID
	if len(tvid) < 4 {
		return nil, fmt.Errorf("iqiyi: episode id %q: %w", tvid, ErrEpisodeIDInvalid)
	}
	if _, err := strconv.ParseInt(tvid, 10, 64); err != nil {
		return nil, fmt.Errorf("iqiyi: episode id %q: %w", tvid, ErrEpisodeIDInvalid)
	}
	shard1 := tvid[len(tvid)-4 : len(tvid)-2]
	shard2 := tvid[len(tvid)-2:]

	var out []models.Comment
	for mat := 1; ; mat++ {
		u := fmt.Sprintf("%s/bullet/%s/%s/%s_300_%d.z", a.cmtsBase, shard1, shard2, tvid, mat)
		res, err := a.client.getBytes(ctx, u, nil)
		if err != nil {
			return nil, err
		}
		if res.Status == http.StatusNotFound {
			break
		}
		if res.Status != http.StatusOK {
			return nil, &httpStatusError{Status: res.Status, URL: u, Snippet: bodySnippet(res.Body)}
		}
		if len(res.Body) == 0 {
			break
		}

		comments, err := a.decodeBulletSegment(res.Body)
		if err != nil {
			// A malformed segment ends the stream; everything gathered
			// so far is still good.
			logging.Warn().Err(err).Str("tvid", tvid).Int("mat", mat).Msg("iQiyi bullet segment parse failed, stopping")
			break
		}
		if len(comments) == 0 {
			break
		}
		out = append(out, comments...)
		reportProgress(progress, 5+min(mat*5, 90), fmt.Sprintf("获取弹幕分段 %d", mat))
	}

	reportProgress(progress, 100, fmt.Sprintf("弹幕获取完成，共 %d 条", len(out)))
	return out, nil
}

func (a *Iqiyi) decodeBulletSegment(compressed []byte) ([]models.Comment, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("iqiyi: open bullet segment: %w", err)
	}
	defer func() { _ = zr.Close() }()

	raw, err := io.ReadAll(io.LimitReader(zr, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("iqiyi: decompress bullet segment: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var doc struct {
		Entries []struct {
			Lists []struct {
				Items []struct {
					ContentID string  `xml:"contentId"`
					Content   string  `xml:"content"`
					ShowTime  float64 `xml:"showTime"`
					Color     string  `xml:"color"`
					UserInfo  struct {
						UID string `xml:"uid"`
					} `xml:"userInfo"`
				} `xml:"bulletInfo"`
			} `xml:"list"`
		} `xml:"data>entry"`
	}
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("iqiyi: parse bullet xml: %w", err)
	}

	var out []models.Comment
	for _, entry := range doc.Entries {
		for _, list := range entry.Lists {
			for _, item := range list.Items {
				if item.Content == "" {
					continue
				}
				color := uint32(0xFFFFFF)
				if c, err := strconv.ParseUint(strings.TrimPrefix(item.Color, "#"), 16, 32); err == nil && c <= 0xFFFFFF {
					color = uint32(c)
				}
				out = append(out, models.Comment{
					CID: item.ContentID,
					P:   models.FormatCommentP(item.ShowTime, models.CommentModeScroll, color, a.Name()),
					M:   item.Content,
					T:   item.ShowTime,
				})
			}
		}
	}
	return out, nil
}
