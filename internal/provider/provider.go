// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package provider

import (
	"context"
	"errors"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

// ProgressFunc reports fetch progress to the enclosing task. Percent is
// clamped to 0..100 by the receiver; the description is free-form and
// shown to operators as-is. Safe to call from any goroutine, and safe
// to leave nil at call sites that have no task context.
type ProgressFunc func(percent int, description string)

// KV persists provider credentials and other small runtime values across
// restarts. Implemented by the database layer's config KV store.
type KV interface {
	GetConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// Adapter is one streaming-site integration. Implementations own all
// protocol details for their site: request signing, pagination,
// segmentation, decompression, binary decoding, and per-site
// deduplication. Callers receive normalized records only.
//
// Rate limiting contract: each adapter serializes its own outbound HTTP
// with a minimum inter-request interval, so concurrent callers are safe
// but slow. Parallelism happens across adapters, never within one.
//
// Session contract: adapters that need a session cookie acquire it
// lazily on first use, detect expiry from site-specific signals, refresh
// once, and retry the failed request exactly once.
type Adapter interface {
	// Name returns the stable provider key, e.g. "bilibili".
	Name() string

	// Search looks up works by keyword. The hint, when non-nil, narrows
	// season/episode matching for providers that expose that filter.
	// Returned titles are cleaned and season-parsed.
	Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error)

	// GetEpisodes enumerates playable episodes for a media ID with
	// 1-based contiguous indices. A targetIndex > 0 narrows the result
	// to that one episode; indices stay consistent with the full list.
	// A movie kind truncates the result to the first episode.
	GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error)

	// GetComments fetches and normalizes all danmaku for one provider
	// episode ID. Per-segment failures are logged and skipped; the
	// method fails only when nothing could be fetched at all.
	GetComments(ctx context.Context, providerEpisodeID string, progress ProgressFunc) ([]models.Comment, error)

	// Close releases pooled HTTP state. The adapter must not be used
	// after Close returns.
	Close()
}

// Sentinel errors shared by all adapters.
var (
	// ErrEpisodeIDInvalid marks a provider episode ID whose format does
	// not belong to the adapter it was handed to.
	ErrEpisodeIDInvalid = errors.New("provider: invalid episode id")

	// ErrMediaIDInvalid marks a media or episode ID whose format does
	// not belong to the adapter. Surfaces to API callers as a 400.
	ErrMediaIDInvalid = errors.New("provider: invalid media id")

	// ErrSessionExpired marks a request rejected by a site-specific
	// login signal. The base retry loop refreshes once on this error.
	ErrSessionExpired = errors.New("provider: session expired")

	// ErrSessionRefresh marks a failed session refresh. Fatal for the
	// current request; the next request starts a fresh acquire cycle.
	ErrSessionRefresh = errors.New("provider: session refresh failed")
)

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// reportProgress guards nil callbacks and clamps the percentage so
// adapter code can report unconditionally.
func reportProgress(progress ProgressFunc, percent int, description string) {
	if progress == nil {
		return
	}
	progress(clampPercent(percent), description)
}

// cookieKey is the config KV slot holding a provider's persisted
// session cookie string.
func cookieKey(provider string) string {
	return "provider." + provider + ".cookie"
}
