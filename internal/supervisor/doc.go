// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
Package supervisor provides process supervision for danmuhive using suture v4.

All long-running parts of the process run under one hierarchical
supervisor tree with Erlang/OTP-style restart semantics: a crashed
service is restarted with exponential backoff while its siblings keep
running.

# Tree layout

Services are grouped into three layers, one per failure domain:

	root ("danmuhive")
	├── storage ("storage-layer")
	│   └── cache sweeper
	├── workers ("worker-layer")
	│   ├── task engine
	│   └── cron scheduler
	└── api ("api-layer")
	    ├── HTTP server
	    └── websocket hub

The grouping keeps an import job crash-looping in the worker layer from
counting against the API layer: danmaku players keep polling comments
while the scrape retries.

# Shutdown

Canceling the context passed to Serve shuts the whole tree down. Each
service gets TreeConfig.ShutdownTimeout to return; services still
running after that are listed by UnstoppedServiceReport, which main
logs before exiting.

# Logging

Suture lifecycle events (service started, failed, backoff entered) are
emitted through sutureslog into an slog.Logger. main passes
logging.NewSlogLogger() so they land in the same zerolog stream as the
rest of the process.

# Usage

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddStorageService(services.NewSweeperService(responseCache, cfg.Cache.SweepInterval))
	tree.AddWorkerService(services.NewLifecycleService("task-engine", engine))
	tree.AddWorkerService(services.NewLifecycleService("cron-scheduler", sched))
	tree.AddAPIService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

The service wrappers live in the services subpackage.
*/
package supervisor
