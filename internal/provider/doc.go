// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package provider integrates the upstream streaming sites.
//
// # Overview
//
// Each site is an Adapter: search works by keyword, enumerate playable
// episodes, and fetch the full danmaku pool for one episode. Adapters
// own every site-specific detail (request signing, sessions,
// pagination, segmenting, binary decoding) and emit only normalized
// records, so the rest of the system never sees a site quirk.
//
// # Architecture
//
//   - provider.go: Adapter interface, session contract, sentinel errors
//   - client.go: shared HTTP client with rate limiting, circuit
//     breaker, cookie jar and throttle backoff
//   - titles.go: HTML stripping, title cleanup, junk filtering and
//     season parsing shared by all adapters
//   - registry.go: adapter discovery, settings-backed ordering and
//     the concurrent search fan-out
//
// Site adapters:
//   - bilibili.go: WBI-signed search, protobuf segment pools
//   - tencent.go: paged episode contexts, indexed danmaku segments
//   - iqiyi.go: page-embedded metadata, zlib XML bullet shards
//   - youku.go: double-MD5 mtop signing, JSONP envelopes
//   - mgtv.go: CDN minute snapshots with a live-feed fallback
//   - gamer.go: Traditional/Simplified conversion, login-sentinel
//     session refresh
//
// # Rate Limiting
//
// Every adapter serializes its outbound HTTP behind a token bucket
// with a minimum inter-request interval. Concurrency happens across
// adapters (the registry fan-out), never within one. Breakers open per
// provider, so a dead site fails fast without touching the others.
//
// # Sessions
//
// Adapters that need cookies acquire them lazily on first use, persist
// them through the config KV, detect expiry from site-specific signals
// while requests still return 200, refresh once, and replay the failed
// request exactly once. A refresh that cannot produce a usable
// credential fails the request instead of looping.
package provider
