// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kotodama-lab/danmuhive/internal/middleware"
	ws "github.com/kotodama-lab/danmuhive/internal/websocket"
)

// Router builds the HTTP handler tree.
type Router struct {
	handler  *Handler
	chimw    *ChiMiddleware
	uaFilter *UAFilter
}

// NewRouter creates a router around the handler set.
func NewRouter(handler *Handler) *Router {
	return &Router{
		handler:  handler,
		chimw:    NewChiMiddleware(&handler.config.Security),
		uaFilter: NewUAFilter(handler.db),
	}
}

// Setup wires every route and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(chiMiddleware(middleware.RequestID))
	// RealIP trusts X-Forwarded-For blindly, so it is gated on a
	// declared proxy tier.
	if len(router.handler.config.Security.TrustedProxies) > 0 {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chimw.CORS())

	// ========================
	// Compatibility Surface
	// ========================
	// Players append either the bare endpoint paths or /api/v2 ones to
	// their configured base URL, so the set is mounted at both.
	r.Route("/api/{token}", func(r chi.Router) {
		r.Use(router.chimw.RateLimit())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(router.handler.CompatTokenAuth))
		r.Use(chiMiddleware(router.uaFilter.Middleware))
		r.Use(chiMiddleware(middleware.Compression))

		router.compatRoutes(r)
		r.Route("/api/v2", router.compatRoutes)
	})

	// ========================
	// Webhook Ingress
	// ========================
	r.Route("/webhook", func(r chi.Router) {
		r.Use(router.chimw.RateLimit())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Post("/{type}", router.handler.Webhook)
	})

	// ========================
	// Admin Surface
	// ========================
	r.Route("/api/admin", func(r chi.Router) {
		r.With(
			router.chimw.RateLimitLogin(),
			chiMiddleware(middleware.PrometheusMetrics),
		).Post("/login", router.handler.Login)

		// The websocket route skips the writer-wrapping middlewares so
		// the upgrade can hijack the connection.
		r.With(router.handler.jwt.RequireAdmin).Get("/ws", router.handler.TaskSocket)

		r.Group(func(r chi.Router) {
			r.Use(router.chimw.RateLimit())
			r.Use(chiMiddleware(middleware.PrometheusMetrics))
			r.Use(chiMiddleware(middleware.Compression))
			r.Use(router.handler.jwt.RequireAdmin)

			r.Get("/search", router.handler.ProviderSearch)
			r.Get("/providers", router.handler.ListProviders)
			r.Get("/providers/{provider}/episodes", router.handler.ProviderEpisodes)

			r.Post("/import", router.handler.QueueImport)
			r.Post("/sources/{id}/refresh", router.handler.RefreshSource)
			r.Post("/episodes/{id}/refresh", router.handler.RefreshEpisode)

			r.Get("/works", router.handler.ListWorks)
			r.Get("/works/{id}/sources", router.handler.ListWorkSources)
			r.Delete("/works/{id}", router.handler.DeleteWork)
			r.Get("/sources/{id}/episodes", router.handler.ListSourceEpisodes)
			r.Put("/sources/{id}/favorite", router.handler.FavoriteSource)
			r.Delete("/sources/{id}", router.handler.DeleteSource)
			r.Delete("/episodes/{id}", router.handler.DeleteEpisode)

			r.Get("/tasks", router.handler.ListTaskHistory)
			r.Get("/scheduled", router.handler.ListScheduledTasks)
			r.Get("/scheduled/next-run", router.handler.PreviewNextRun)
			r.Post("/scheduled", router.handler.CreateScheduledTask)
			r.Put("/scheduled/{id}", router.handler.UpdateScheduledTask)
			r.Delete("/scheduled/{id}", router.handler.DeleteScheduledTask)
			r.Post("/scheduled/{id}/run", router.handler.RunScheduledTask)

			r.Get("/scrapers", router.handler.ListScrapers)
			r.Put("/scrapers", router.handler.UpdateScrapers)

			r.Get("/tokens", router.handler.ListTokens)
			r.Post("/tokens", router.handler.CreateToken)
			r.Put("/tokens/{id}", router.handler.ToggleToken)
			r.Delete("/tokens/{id}", router.handler.DeleteToken)

			r.Get("/ua", router.handler.UAFilterState)
			r.Post("/ua", router.handler.AddUARule)
			r.Put("/ua/mode", router.handler.SetUAFilterMode)
			r.Delete("/ua/{id}", router.handler.DeleteUARule)

			r.Get("/config/{key}", router.handler.GetConfigValue)
			r.Put("/config/{key}", router.handler.SetConfigValue)
			r.Delete("/config/{key}", router.handler.DeleteConfigValue)

			r.Get("/cache/stats", router.handler.CacheStats)
			r.Delete("/cache/{provider}", router.handler.FlushCacheProvider)
		})
	})

	// ========================
	// Observability
	// ========================
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// compatRoutes registers the dandanplay endpoint set on one sub-root.
func (router *Router) compatRoutes(r chi.Router) {
	r.Get("/search/episodes", router.handler.SearchEpisodes)
	r.Get("/search/anime", router.handler.SearchAnime)
	r.Post("/match", router.handler.Match)
	r.Post("/match/batch", router.handler.MatchBatch)
	r.Get("/bangumi/{id}", router.handler.Bangumi)
	r.Get("/comment/{episodeId}", router.handler.Comment)
}

// TaskSocket upgrades GET /api/admin/ws to the task progress stream.
func (h *Handler) TaskSocket(w http.ResponseWriter, r *http.Request) {
	ws.Serve(h.hub, w, r)
}
