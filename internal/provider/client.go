// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
client.go - Shared Provider HTTP Client

Every adapter talks to its upstream through a fetchClient, which layers
the concerns common to all danmaku sources:

  - Rate limiting: a token bucket with burst 1 spaces consecutive
    requests at least minInterval apart, so bursts from concurrent
    episode imports never hammer one provider. Different adapters hold
    different clients and proceed in parallel.
  - Circuit breaker: transport errors and 5xx responses count as
    failures; the breaker opens at a 60% failure rate over at least 10
    requests and rejects calls until the upstream recovers. Statuses
    below 500 pass through untouched because adapters use 404/304 and
    empty bodies as normal end-of-data signals.
  - 429 handling: throttled requests back off exponentially and honor
    Retry-After, up to three attempts.
  - Cookie jar: session cookies set by upstream responses persist for
    the life of the adapter and can be exported/seeded as strings for
    storage across restarts.

Response bodies are buffered (capped at 32 MiB) so results can flow
through the generic breaker and be handed to decoder goroutines.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
)

const (
	defaultMinInterval = 500 * time.Millisecond
	defaultTimeout     = 15 * time.Second
	maxResponseBytes   = 32 << 20
	errorSnippetBytes  = 512
	maxThrottleRetries = 3

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// fetchResult is a buffered upstream response. Status is preserved for
// all non-5xx responses so adapters can react to 404/304 end markers.
type fetchResult struct {
	Status int
	Body   []byte
	Header http.Header
}

// httpStatusError reports an upstream response that cannot be used.
type httpStatusError struct {
	Status  int
	URL     string
	Snippet string
}

func (e *httpStatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("upstream returned status %d for %s", e.Status, e.URL)
	}
	return fmt.Sprintf("upstream returned status %d for %s: %s", e.Status, e.URL, e.Snippet)
}

type clientConfig struct {
	name        string
	minInterval time.Duration
	timeout     time.Duration
	userAgent   string
}

// fetchClient is the HTTP front for one provider adapter.
type fetchClient struct {
	name    string
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*fetchResult]
	ua      string
}

func newFetchClient(cfg clientConfig) *fetchClient {
	if cfg.minInterval <= 0 {
		cfg.minInterval = defaultMinInterval
	}
	if cfg.timeout <= 0 {
		cfg.timeout = defaultTimeout
	}
	if cfg.userAgent == "" {
		cfg.userAgent = defaultUserAgent
	}

	jar, _ := cookiejar.New(nil)
	cbName := "provider-" + cfg.name

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*fetchResult](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		// Opens when failure rate >= 60% with minimum 10 requests.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Str("provider", cfg.name).Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &fetchClient{
		name:    cfg.name,
		http:    &http.Client{Timeout: cfg.timeout, Jar: jar},
		limiter: rate.NewLimiter(rate.Every(cfg.minInterval), 1),
		cb:      cb,
		ua:      cfg.userAgent,
	}
}

// do performs one rate-limited, breaker-protected request. Responses
// below 500 are returned as results; transport failures and 5xx become
// errors and count against the breaker. 429 responses are retried with
// exponential backoff, honoring Retry-After when present.
func (c *fetchClient) do(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*fetchResult, error) {
	start := time.Now()

	var res *fetchResult
	var err error
	for attempt := 0; attempt < maxThrottleRetries; attempt++ {
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			return nil, waitErr
		}

		res, err = c.execute(ctx, method, rawURL, headers, body)
		if err != nil || res.Status != http.StatusTooManyRequests {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if ra := res.Header.Get("Retry-After"); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
				backoff = time.Duration(secs) * time.Second
			}
		}
		logging.Warn().Str("provider", c.name).Str("url", rawURL).Dur("backoff", backoff).Msg("Upstream throttled request, backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	metrics.RecordProviderRequest(c.name, time.Since(start), err)
	return res, err
}

func (c *fetchClient) execute(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*fetchResult, error) {
	return c.cb.Execute(func() (*fetchResult, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("provider %s: build request: %w", c.name, err)
		}

		req.Header.Set("User-Agent", c.ua)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("provider %s: request failed: %w", c.name, err)
		}
		defer func() { _ = resp.Body.Close() }()

		buf, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("provider %s: read response: %w", c.name, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &httpStatusError{Status: resp.StatusCode, URL: rawURL, Snippet: bodySnippet(buf)}
		}

		return &fetchResult{Status: resp.StatusCode, Body: buf, Header: resp.Header}, nil
	})
}

// getBytes fetches a raw resource. The result is returned for any
// status below 500; callers inspect Status to detect end-of-data.
func (c *fetchClient) getBytes(ctx context.Context, rawURL string, headers map[string]string) (*fetchResult, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers, nil)
}

// getJSON fetches a resource and decodes its JSON body. Any non-2xx
// status is an error here, unlike getBytes.
func (c *fetchClient) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	res, err := c.do(ctx, http.MethodGet, rawURL, headers, nil)
	if err != nil {
		return err
	}
	if res.Status < 200 || res.Status > 299 {
		return &httpStatusError{Status: res.Status, URL: rawURL, Snippet: bodySnippet(res.Body)}
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("provider %s: decode response from %s: %w", c.name, rawURL, err)
	}
	return nil
}

// postJSON sends a JSON payload and decodes the JSON response.
func (c *fetchClient) postJSON(ctx context.Context, rawURL string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("provider %s: encode request: %w", c.name, err)
	}

	merged := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		merged[k] = v
	}

	res, err := c.do(ctx, http.MethodPost, rawURL, merged, body)
	if err != nil {
		return err
	}
	if res.Status < 200 || res.Status > 299 {
		return &httpStatusError{Status: res.Status, URL: rawURL, Snippet: bodySnippet(res.Body)}
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("provider %s: decode response from %s: %w", c.name, rawURL, err)
	}
	return nil
}

// postForm sends a URL-encoded form and returns the raw result so
// callers can unwrap JSONP or sentinel bodies before decoding.
func (c *fetchClient) postForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*fetchResult, error) {
	merged := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	for k, v := range headers {
		merged[k] = v
	}
	return c.do(ctx, http.MethodPost, rawURL, merged, []byte(form.Encode()))
}

// seedCookies loads a stored "k=v; k2=v2" cookie string into the jar
// for the given site, restoring a persisted session after restart.
func (c *fetchClient) seedCookies(site string, raw string) {
	u, err := url.Parse(site)
	if err != nil || raw == "" {
		return
	}
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	if len(cookies) > 0 {
		c.http.Jar.SetCookies(u, cookies)
	}
}

// cookieString exports the jar contents for a site as a "k=v; k2=v2"
// string suitable for persistence.
func (c *fetchClient) cookieString(site string) string {
	u, err := url.Parse(site)
	if err != nil {
		return ""
	}
	var parts []string
	for _, ck := range c.http.Jar.Cookies(u) {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// cookieValue returns one cookie for a site, or "" when absent.
func (c *fetchClient) cookieValue(site, name string) string {
	u, err := url.Parse(site)
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorSnippetBytes {
		return s[:errorSnippetBytes] + "... (truncated)"
	}
	return s
}

// isBreakerOpen reports whether an error came from the breaker itself
// rather than the upstream.
func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
