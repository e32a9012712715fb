// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
Package models defines data structures for the Danmuhive application.

This package contains all data models used throughout the application:
library entities, normalized danmaku records, provider adapter exchange
types, dandanplay-compatible API shapes, webhook payloads and background
task records. It is the single source of truth for data structure
definitions and has no dependencies on other internal packages.

Model Categories:

1. Library Entities (work.go):
  - Work: a show or film, uniquely identified by (title, season)
  - WorkMetadata: external IDs (TMDB, Bangumi, TVDB, Douban, IMDb), fill-if-absent
  - WorkAliases: seven fixed alias slots, fill-if-absent
  - Source: (provider, media id) binding, at most one favorited per Work
  - Episode: 1-based index within a Source, carries comment_count
  - TmdbEpisodeMapping: per-group episode renumbering, replaced wholesale

2. Danmaku Records (comment.go):
  - Comment: {cid, p, m, t} with the "time,mode,color,[provider]" P string
  - ProviderSearchInfo / ProviderEpisodeInfo: adapter exchange types

3. Compatibility API (dandanplay.go):
  - Search, match, bangumi and comment response shapes fixed by the
    dandanplay protocol (camelCase field names)

4. Webhook Payloads (emby_notifications.go, jellyfin_notifications.go):
  - Vendor payload structs plus the normalized WebhookItem both map into

5. Background Tasks (task.go):
  - TaskHistory with monotonic queued/running/completed/failed states
  - ScheduledTask cron job definitions

6. Settings (settings.go):
  - ScraperSetting, ApiToken, CacheEntry, UARule, User

Thread Safety:

All models are plain data structures with no internal synchronization;
they are safe for concurrent reads and must not be mutated while shared.

See Also:

  - internal/database: store operations using these models
  - internal/provider: adapters producing the exchange types
  - internal/api: handlers serving the compat and admin shapes
*/
package models
