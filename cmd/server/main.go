// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package main is the entry point for the danmuhive server.
//
// Danmuhive aggregates danmaku (timed video comments) from Chinese and
// Taiwanese streaming sites into a local library and serves them over a
// dandanplay-compatible API, so any player that speaks that protocol
// can overlay comments on local media.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config file and
//     environment (koanf v2)
//  2. Database: DuckDB library store (works, sources, episodes,
//     comments, cache, settings)
//  3. Admin bootstrap: first admin account and JWT manager
//  4. Provider registry: one adapter per supported site, with
//     persisted enable flags and search order
//  5. Task engine: single-worker FIFO queue for imports and refreshes
//  6. Cron scheduler: TMDB auto-map and cache sweep jobs
//  7. Supervisor tree: every long-running component supervised with
//     restart-on-failure (suture v4)
//
// # Configuration
//
// Configuration is loaded via koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults.
//
// Required for production:
//   - JWT_SECRET: 32+ character secret for admin session tokens
//   - ADMIN_USERNAME / ADMIN_PASSWORD: admin bootstrap credentials
//
// Common settings:
//   - HTTP_PORT: listen port (default 7768)
//   - DB_PATH: DuckDB file path (default danmuhive.db)
//   - WEBHOOK_API_KEY: shared secret for Emby/Jellyfin webhooks
//   - SCHEDULER_TZ: cron timezone (default Asia/Shanghai)
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM:
//   - The HTTP server stops accepting connections and drains in-flight
//     requests (10s timeout)
//   - The task engine lets the running task finish its current write,
//     then stops; queued tasks are failed by recovery on next start
//   - The scheduler and cache sweeper stop at their next tick
//   - Websocket clients are closed and the database is flushed
//
// # Example Usage
//
// Development:
//
//	export JWT_SECRET=$(openssl rand -hex 32)
//	export ADMIN_USERNAME=admin
//	export ADMIN_PASSWORD=secure-password
//	./danmuhive
//
// Docker:
//
//	docker run -d \
//	  -e JWT_SECRET=... \
//	  -e ADMIN_USERNAME=admin \
//	  -e ADMIN_PASSWORD=secure-password \
//	  -v danmuhive-data:/data \
//	  -p 7768:7768 \
//	  ghcr.io/kotodama-lab/danmuhive
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/api"
	"github.com/kotodama-lab/danmuhive/internal/auth"
	"github.com/kotodama-lab/danmuhive/internal/cache"
	"github.com/kotodama-lab/danmuhive/internal/config"
	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/importer"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/matcher"
	"github.com/kotodama-lab/danmuhive/internal/metadata"
	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/provider"
	"github.com/kotodama-lab/danmuhive/internal/scheduler"
	"github.com/kotodama-lab/danmuhive/internal/supervisor"
	"github.com/kotodama-lab/danmuhive/internal/supervisor/services"
	"github.com/kotodama-lab/danmuhive/internal/task"
	ws "github.com/kotodama-lab/danmuhive/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Config not yet available, use the default logger
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("environment", cfg.Server.Environment).
		Msg("Starting danmuhive")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// Context for graceful shutdown; canceling it stops the tree
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := auth.EnsureAdminUser(ctx, db, cfg.Security.AdminUsername, cfg.Security.AdminPassword); err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap admin user")
	}

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true); only use this for tests")
	}

	registry, err := provider.NewRegistry(ctx, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize provider registry")
	}
	defer registry.Close()
	logging.Info().Strs("providers", registry.Names()).Msg("Provider registry initialized")

	// Hub before the engine: task state changes broadcast through it
	hub := ws.NewHub()

	engine := task.NewEngine(db, task.Config{}, hub.BroadcastTaskUpdate)
	imports := importer.New(db, registry, engine)
	dispatcher := matcher.New(db, registry, imports)
	responseCache := cache.New(db, cfg.Cache.SearchTTL)

	sched, err := scheduler.NewScheduler(db, scheduler.Config{Timezone: cfg.Scheduler.Timezone})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}

	tmdb := metadata.NewClient(cfg.Metadata.RequestTimeout)
	autoMap := metadata.NewAutoMap(db, tmdb, cfg.Metadata.TmdbAPIKey)
	sched.RegisterHandler(scheduler.JobTypeTmdbAutoMap, autoMap.Run)
	sched.RegisterHandler(scheduler.JobTypeCacheSweep, responseCache.Sweep)

	if err := seedScheduledTasks(ctx, db, sched); err != nil {
		logging.Warn().Err(err).Msg("Failed to seed built-in scheduled tasks")
	}

	handler := api.NewHandler(db, cfg, jwtManager, hub, responseCache, registry, imports, dispatcher, sched)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddStorageService(services.NewSweeperService(responseCache, cfg.Cache.SweepInterval))
	tree.AddWorkerService(services.NewLifecycleService("task-engine", engine))
	if cfg.Scheduler.Enabled {
		tree.AddWorkerService(services.NewLifecycleService("cron-scheduler", sched))
	} else {
		logging.Info().Msg("Cron scheduler disabled (SCHEDULER_ENABLED=false)")
	}
	tree.AddAPIService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("danmuhive stopped gracefully")
}

// seedScheduledTasks inserts the built-in cron rows on first boot.
// Presence is checked by job type, so operator edits (cron expression,
// enabled flag, rename) survive restarts without being overwritten.
func seedScheduledTasks(ctx context.Context, db *database.DB, sched *scheduler.Scheduler) error {
	builtins := []models.ScheduledTask{
		{
			ID:             "builtin-tmdb-auto-map",
			Name:           "TMDB 自动映射",
			JobType:        scheduler.JobTypeTmdbAutoMap,
			CronExpression: "0 3 * * *",
			Enabled:        true,
		},
		{
			ID:             "builtin-cache-sweep",
			Name:           "缓存清理",
			JobType:        scheduler.JobTypeCacheSweep,
			CronExpression: "0 * * * *",
			Enabled:        true,
		},
	}

	existing, err := db.ListScheduledTasks(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, row := range existing {
		present[row.JobType] = true
	}

	for i := range builtins {
		if present[builtins[i].JobType] {
			continue
		}
		if err := sched.Upsert(ctx, &builtins[i]); err != nil {
			return err
		}
		logging.Info().
			Str("name", builtins[i].Name).
			Str("cron", builtins[i].CronExpression).
			Msg("Seeded built-in scheduled task")
	}
	return nil
}
