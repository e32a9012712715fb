// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

import (
	"time"
)

// ScraperSetting is the per-provider enable/order row. Rows are created
// automatically when the registry discovers an adapter and are only ever
// updated by an administrator afterwards.
type ScraperSetting struct {
	ProviderName string `json:"provider_name"`
	Enabled      bool   `json:"enabled"`
	DisplayOrder int    `json:"display_order"`
}

// ApiToken authorizes the compatibility playback API. The token string is
// the path segment players embed in their danmaku server URL.
type ApiToken struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	Label     string     `json:"label"`
	Enabled   bool       `json:"enabled"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the token has an expiry in the past.
func (t *ApiToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// CacheEntry is one TTL-bound key/value row backing the search and
// episode-list caches. Value holds raw JSON.
type CacheEntry struct {
	Provider  string    `json:"provider"`
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UAFilterMode selects how the User-Agent rule list is applied to the
// compatibility API.
type UAFilterMode string

const (
	UAFilterOff   UAFilterMode = "off"
	UAFilterAllow UAFilterMode = "allow"
	UAFilterDeny  UAFilterMode = "deny"
)

// UARule is one User-Agent prefix entry in the allow/deny list.
type UARule struct {
	ID        int64     `json:"id"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an administrative account. Only the bootstrap admin exists in a
// default deployment.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
