// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package provider

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

func newTestIqiyi(srvURL string) *Iqiyi {
	return &Iqiyi{
		client:     newFetchClient(clientConfig{name: "iqiyi-test", minInterval: time.Millisecond}),
		searchBase: srvURL,
		mobileBase: srvURL,
		apiBase:    srvURL,
		cmtsBase:   srvURL,
	}
}

func TestIqiyiSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/o" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("if") != "html5" {
			t.Errorf("missing if=html5, query %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"data":{"docinfos":[
			{"albumDocInfo":{"albumTitle":"迷宫饭","albumLink":"https://www.iqiyi.com/v_19rrk8vj8k.html","albumImg":"//pic0.iqiyipic.com/a.jpg","siteId":"iqiyi","channel":"动漫,6","videoDocType":1,"releaseDate":"2024-01-04","itemTotalNumber":24}},
			{"albumDocInfo":{"albumTitle":"迷宫饭","albumLink":"https://www.mgtv.com/h/1.html","siteId":"imgo","channel":"动漫","videoDocType":1}},
			{"albumDocInfo":{"albumTitle":"迷宫饭 短视频","albumLink":"https://www.iqiyi.com/v_abcdef.html","siteId":"iqiyi","channel":"原创,27","videoDocType":1}},
			{"albumDocInfo":{"albumTitle":"迷宫饭 相关","albumLink":"https://www.iqiyi.com/v_zzz111.html","siteId":"iqiyi","channel":"动漫","videoDocType":0}},
			{"albumDocInfo":{"albumTitle":"热辣滚烫","albumLink":"https://www.iqiyi.com/v_2f1x7w8zq0c.html","siteId":"iqiyi","channel":"电影,1","videoDocType":1,"releaseDate":"2024-02-10"}}
		]}}`)
	}))
	defer srv.Close()

	a := newTestIqiyi(srv.URL)
	results, err := a.Search(context.Background(), "迷宫饭", nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results %+v, want 2 after site/doc-type/channel filtering", len(results), results)
	}
	if results[0].MediaID != "19rrk8vj8k" || results[0].Title != "迷宫饭" {
		t.Errorf("first = %+v", results[0])
	}
	if results[0].Year != 2024 || results[0].EpisodeCount != 24 {
		t.Errorf("first year/count = %d/%d, want 2024/24", results[0].Year, results[0].EpisodeCount)
	}
	if results[1].MediaID != "2f1x7w8zq0c" || results[1].Kind != models.MediaKindMovie {
		t.Errorf("second = %+v, want the film entry", results[1])
	}
}

func iqiyiPageHTML(tvid, albumID int64) string {
	return fmt.Sprintf(`<html><script>window.__INITIAL_STATE__={"video":{"videoInfo":{"tvId":%d,"albumId":%d,"videoName":"第1集","duration":1440},"albumInfo":{"albumId":%d,"videoCount":12},"other":1}};</script></html>`, tvid, albumID, albumID)
}

func TestIqiyiEpisodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v_19rrk8vj8k.html":
			fmt.Fprint(w, iqiyiPageHTML(2079786500, 5462310200))
		case r.URL.Path == "/albums/album/avlistinfo":
			if r.URL.Query().Get("aid") != "5462310200" {
				t.Errorf("aid = %q, want 5462310200", r.URL.Query().Get("aid"))
			}
			fmt.Fprint(w, `{"code":"A00000","data":{"total":3,"epsodelist":[
				{"tvId":2079786500,"name":"温泉旅行","order":1,"playUrl":"https://www.iqiyi.com/v_1.html"},
				{"tvId":2079786600,"name":"第2集预告","order":2,"playUrl":"https://www.iqiyi.com/v_2.html"},
				{"tvId":2079786700,"name":"红龙讨伐","order":3,"playUrl":"https://www.iqiyi.com/v_3.html"}
			]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestIqiyi(srv.URL)
	eps, err := a.GetEpisodes(context.Background(), "19rrk8vj8k", 0, models.MediaKindTVSeries)
	if err != nil {
		t.Fatalf("GetEpisodes: %v", err)
	}

	if len(eps) != 2 {
		t.Fatalf("got %d episodes %+v, want 2 with the trailer filtered", len(eps), eps)
	}
	if eps[0].ProviderEpisodeID != "2079786500" || eps[0].Index != 1 {
		t.Errorf("first = %+v", eps[0])
	}
	if eps[1].ProviderEpisodeID != "2079786700" || eps[1].Index != 2 {
		t.Errorf("second = %+v, want contiguous index after filtering", eps[1])
	}
}

func TestIqiyiEpisodesMovieSkipsAlbum(t *testing.T) {
	var albumRequests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v_2f1x7w8zq0c.html":
			fmt.Fprint(w, iqiyiPageHTML(4811234500, 0))
		case r.URL.Path == "/albums/album/avlistinfo":
			albumRequests++
			fmt.Fprint(w, `{"data":{"epsodelist":[]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestIqiyi(srv.URL)
	eps, err := a.GetEpisodes(context.Background(), "2f1x7w8zq0c", 0, models.MediaKindMovie)
	if err != nil {
		t.Fatalf("GetEpisodes: %v", err)
	}
	if len(eps) != 1 || eps[0].ProviderEpisodeID != "4811234500" || eps[0].Index != 1 {
		t.Errorf("movie episodes = %+v, want the single feature", eps)
	}
	if albumRequests != 0 {
		t.Errorf("album list fetched %d times for a movie, want 0", albumRequests)
	}
}

func TestIqiyiEpisodesBadMediaID(t *testing.T) {
	a := newTestIqiyi("http://127.0.0.1:0")
	for _, id := range []string{"", "UPPER", "v_123.html", "id with space"} {
		if _, err := a.GetEpisodes(context.Background(), id, 0, models.MediaKindTVSeries); err == nil {
			t.Errorf("GetEpisodes(%q) succeeded, want invalid media id", id)
		}
	}
}

func zlibCompress(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(data)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close compressor: %v", err)
	}
	return buf.Bytes()
}

const iqiyiSegmentXML = `<?xml version="1.0" encoding="UTF-8"?>
<danmu><data><entry><list>
<bulletInfo><contentId>c1</contentId><content>前方高能</content><showTime>12.5</showTime><color>ffffff</color><userInfo><uid>u1</uid></userInfo></bulletInfo>
<bulletInfo><contentId>c2</contentId><content>泪目</content><showTime>200</showTime><color>ff0000</color><userInfo><uid>u2</uid></userInfo></bulletInfo>
</list></entry></data></danmu>`

func TestIqiyiGetComments(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/bullet/65/00/2079786500_300_1.z":
			_, _ = w.Write(zlibCompress(t, iqiyiSegmentXML))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestIqiyi(srv.URL)
	rec := &progressRecorder{}
	comments, err := a.GetComments(context.Background(), "2079786500", rec.fn)
	if err != nil {
		t.Fatalf("GetComments: %v", err)
	}

	if len(comments) != 2 {
		t.Fatalf("got %d comments %+v, want 2", len(comments), comments)
	}
	if comments[0].CID != "c1" || comments[0].P != "12.500,1,16777215,[iqiyi]" || comments[0].M != "前方高能" {
		t.Errorf("first comment = %+v", comments[0])
	}
	if comments[1].P != "200.000,1,16711680,[iqiyi]" {
		t.Errorf("second comment P = %q, want red at 200s", comments[1].P)
	}

	if len(paths) != 2 || !strings.HasSuffix(paths[1], "_300_2.z") {
		t.Errorf("fetched %v, want segment 1 then the 404 on segment 2", paths)
	}
	if percent, _ := rec.last(); percent != 100 {
		t.Errorf("final progress = %d, want 100", percent)
	}
}

func TestIqiyiGetCommentsStopsOnParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bullet/65/00/2079786500_300_1.z":
			_, _ = w.Write(zlibCompress(t, iqiyiSegmentXML))
		case "/bullet/65/00/2079786500_300_2.z":
			_, _ = w.Write([]byte("this is not zlib data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestIqiyi(srv.URL)
	comments, err := a.GetComments(context.Background(), "2079786500", nil)
	if err != nil {
		t.Fatalf("GetComments: %v", err)
	}
	if len(comments) != 2 {
		t.Errorf("got %d comments, want the 2 from the intact segment before the bad one", len(comments))
	}
}

func TestIqiyiGetCommentsBadEpisodeID(t *testing.T) {
	a := newTestIqiyi("http://127.0.0.1:0")
	for _, id := range []string{"", "12", "abcd"} {
		if _, err := a.GetComments(context.Background(), id, nil); err == nil {
			t.Errorf("GetComments(%q) succeeded, want invalid episode id", id)
		}
	}
}
