// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

const (
	tmdbAPIBase = "https://api.themoviedb.org/3"

	// Scheduled jobs get a longer HTTP budget than the interactive
	// 20 s the danmaku adapters use.
	defaultTimeout = 30 * time.Second

	maxErrorBody = 4 * 1024
)

// Client is a minimal TMDB v3 API client covering the endpoints the
// auto-map job needs. The API key is passed per call because it is
// runtime-tunable through the config KV.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a TMDB client. A non-positive timeout selects the
// 30 s default.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: tmdbAPIBase,
	}
}

// EpisodeGroup is one entry of /tv/{id}/episode_groups.
type EpisodeGroup struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         int    `json:"type"`
	GroupCount   int    `json:"group_count"`
	EpisodeCount int    `json:"episode_count"`
}

// GroupEpisode is one episode inside a custom season of an episode
// group. Order is the 0-based position TMDB assigns within the group.
type GroupEpisode struct {
	ID            int64 `json:"id"`
	SeasonNumber  int   `json:"season_number"`
	EpisodeNumber int   `json:"episode_number"`
	Order         int   `json:"order"`
}

// GroupSeason is one custom season of an episode group. Order is the
// season number the group defines.
type GroupSeason struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Order    int            `json:"order"`
	Episodes []GroupEpisode `json:"episodes"`
}

// EpisodeGroupDetails is the full layout of one episode group.
type EpisodeGroupDetails struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Groups []GroupSeason `json:"groups"`
}

// AlternativeTitle is one regional title of a show.
type AlternativeTitle struct {
	Country string `json:"iso_3166_1"`
	Title   string `json:"title"`
	Type    string `json:"type"`
}

// ShowDetails is the subset of /tv/{id} the job reads, with
// alternative titles appended to the same response.
type ShowDetails struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	OriginalName      string `json:"original_name"`
	AlternativeTitles struct {
		Results []AlternativeTitle `json:"results"`
	} `json:"alternative_titles"`
}

// EpisodeGroups lists the episode groups defined for a show.
func (c *Client) EpisodeGroups(ctx context.Context, apiKey, tvID string) ([]EpisodeGroup, error) {
	var resp struct {
		Results []EpisodeGroup `json:"results"`
	}
	if err := c.getJSON(ctx, apiKey, "/tv/"+url.PathEscape(tvID)+"/episode_groups", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// EpisodeGroupDetails fetches the ordered seasons and episodes of one
// episode group.
func (c *Client) EpisodeGroupDetails(ctx context.Context, apiKey, groupID string) (*EpisodeGroupDetails, error) {
	var details EpisodeGroupDetails
	if err := c.getJSON(ctx, apiKey, "/tv/episode_group/"+url.PathEscape(groupID), nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// ShowDetails fetches a show together with its alternative titles in
// one round trip.
func (c *Client) ShowDetails(ctx context.Context, apiKey, tvID string) (*ShowDetails, error) {
	var show ShowDetails
	params := url.Values{"append_to_response": {"alternative_titles"}}
	if err := c.getJSON(ctx, apiKey, "/tv/"+url.PathEscape(tvID), params, &show); err != nil {
		return nil, err
	}
	return &show, nil
}

// getJSON performs an authenticated GET and decodes the JSON body.
// Errors carry the path but never the full URL, keeping the API key
// out of logs.
func (c *Client) getJSON(ctx context.Context, apiKey, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build tmdb request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("tmdb returned status %d for %s: %s", resp.StatusCode, path, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode tmdb response: %w", err)
	}
	return nil
}
