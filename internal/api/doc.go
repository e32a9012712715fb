// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package api exposes the three HTTP surfaces of the server.
//
// The compatibility surface speaks the dandanplay wire protocol under
// /api/{token}, where the token segment must resolve to an enabled,
// non-expired ApiToken. Players configured with that base URL append
// either the bare endpoint paths or the /api/v2 prefixed ones, so the
// endpoint set is mounted at both sub-roots. Responses on this surface
// use the fixed dandanplay shapes, not the admin envelope.
//
// The webhook surface accepts media-server notifications at
// /webhook/{type} guarded by an api_key query parameter and feeds the
// match dispatcher.
//
// The admin surface under /api/admin carries a JSON envelope with
// request IDs, is guarded by bearer tokens issued at /api/admin/login,
// and drives imports, the provider registry, scheduled tasks and the
// library.
package api
