// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

func newTestClient(name string, interval time.Duration) *fetchClient {
	return newFetchClient(clientConfig{name: name, minInterval: interval})
}

// TestFetchClientSpacing verifies that concurrent requests through one
// client are serialized at least minInterval apart.
func TestFetchClientSpacing(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient("spacing", 100*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.getBytes(context.Background(), srv.URL, nil); err != nil {
				t.Errorf("getBytes: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(arrivals) != 3 {
		t.Fatalf("got %d requests, want 3", len(arrivals))
	}
	sort.Slice(arrivals, func(i, j int) bool { return arrivals[i].Before(arrivals[j]) })

	span := arrivals[2].Sub(arrivals[0])
	if span < 180*time.Millisecond {
		t.Errorf("three requests spanned %v, want at least 180ms of rate-limit spacing", span)
	}
	for i := 1; i < len(arrivals); i++ {
		if gap := arrivals[i].Sub(arrivals[i-1]); gap < 80*time.Millisecond {
			t.Errorf("gap between request %d and %d was %v, want >= 80ms", i-1, i, gap)
		}
	}
}

// TestFetchClientsRunInParallel verifies that separate clients do not
// share a rate limit.
func TestFetchClientsRunInParallel(t *testing.T) {
	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered.Done()
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := newTestClient("parallel-a", time.Second)
	b := newTestClient("parallel-b", time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, c := range []*fetchClient{a, b} {
			wg.Add(1)
			go func(c *fetchClient) {
				defer wg.Done()
				_, _ = c.getBytes(context.Background(), srv.URL, nil)
			}(c)
		}
		wg.Wait()
	}()

	// Both clients must reach the server while the handler blocks. If
	// they shared a limiter, the second would queue behind the first.
	waited := make(chan struct{})
	go func() {
		entered.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("second client queued behind the first, limiters are shared")
	}
	close(release)
	<-done
}

func TestFetchClientStatusPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "segment not found", http.StatusNotFound)
		case "/unchanged":
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := newTestClient("status", time.Millisecond)

	res, err := client.getBytes(context.Background(), srv.URL+"/missing", nil)
	if err != nil {
		t.Fatalf("404 should pass through, got error: %v", err)
	}
	if res.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", res.Status)
	}

	res, err = client.getBytes(context.Background(), srv.URL+"/unchanged", nil)
	if err != nil {
		t.Fatalf("304 should pass through, got error: %v", err)
	}
	if res.Status != http.StatusNotModified {
		t.Errorf("Status = %d, want 304", res.Status)
	}
}

func TestFetchClientServerErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient("fivexx", time.Millisecond)

	_, err := client.getBytes(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error type = %T, want *httpStatusError", err)
	}
	if statusErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", statusErr.Status)
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, `{"code":-404}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"message":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient("json", time.Millisecond)

	var out struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := client.getJSON(context.Background(), srv.URL, nil, &out); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if out.Code != 0 || out.Message != "ok" {
		t.Errorf("decoded %+v, want code=0 message=ok", out)
	}

	if err := client.getJSON(context.Background(), srv.URL+"/bad", nil, &out); err == nil {
		t.Error("expected error for non-2xx JSON response")
	}
}

func TestPostFormEncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostFormValue("videoSn"); got != "34595" {
			t.Errorf("videoSn = %q, want 34595", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient("form", time.Millisecond)

	form := map[string][]string{"videoSn": {"34595"}}
	if _, err := client.postForm(context.Background(), srv.URL, nil, form); err != nil {
		t.Fatalf("postForm: %v", err)
	}
}

func TestCookieJarRoundTrip(t *testing.T) {
	var sawCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123", Path: "/"})
		} else if ck, err := r.Cookie("session"); err == nil {
			sawCookie = ck.Value
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient("cookies", time.Millisecond)
	ctx := context.Background()

	if _, err := client.getBytes(ctx, srv.URL+"/set", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := client.getBytes(ctx, srv.URL+"/check", nil); err != nil {
		t.Fatalf("check: %v", err)
	}
	if sawCookie != "abc123" {
		t.Errorf("server saw cookie %q, want abc123", sawCookie)
	}

	exported := client.cookieString(srv.URL)
	if exported != "session=abc123" {
		t.Errorf("cookieString = %q, want session=abc123", exported)
	}

	fresh := newTestClient("cookies-2", time.Millisecond)
	fresh.seedCookies(srv.URL, exported)
	if got := fresh.cookieValue(srv.URL, "session"); got != "abc123" {
		t.Errorf("seeded cookie = %q, want abc123", got)
	}
}

func TestThrottleRetryHonorsRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient("throttle", time.Millisecond)

	start := time.Now()
	res, err := client.getBytes(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("getBytes: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200 after retry", res.Status)
	}
	if calls != 2 {
		t.Errorf("upstream called %d times, want 2", calls)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("retry happened after %v, want Retry-After of ~1s honored", elapsed)
	}
}
