// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
Package services adapts danmuhive's long-running components to the
suture.Service interface so the supervisor tree can run them.

Each wrapper translates one lifecycle pattern to Serve(ctx):

  - HTTPServerService: http.Server's blocking ListenAndServe plus
    Shutdown on cancel.
  - LifecycleService: the Start/Stop pattern shared by the task engine
    and the cron scheduler.
  - SweeperService: a fixed-interval tick driving the cache's expired
    row sweep.
  - HubService: the websocket hub, whose RunWithContext already follows
    the Serve contract.

The wrappers depend on small local interfaces rather than the concrete
packages, so they carry no imports beyond the standard library and
stay cycle-free.
*/
package services
