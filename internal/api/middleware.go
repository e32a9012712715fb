// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/kotodama-lab/danmuhive/internal/config"
	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// chiMiddleware adapts http.HandlerFunc middleware to chi's
// func(http.Handler) http.Handler so r.Use accepts it.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// ChiMiddleware builds the CORS and rate-limit middlewares from the
// security configuration.
type ChiMiddleware struct {
	cors              func(http.Handler) http.Handler
	rateLimitRequests int
	rateLimitWindow   time.Duration
	rateLimitDisabled bool
}

// Login attempts get their own strict limiter regardless of the
// configured API rate.
const (
	loginRateLimitRequests = 5
	loginRateLimitWindow   = 5 * time.Minute
)

// NewChiMiddleware creates the middleware factory. CORS origins default
// to none; deployments must list them explicitly.
func NewChiMiddleware(sec *config.SecurityConfig) *ChiMiddleware {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   sec.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	})

	return &ChiMiddleware{
		cors:              corsHandler,
		rateLimitRequests: sec.RateLimitReqs,
		rateLimitWindow:   sec.RateLimitWindow,
		rateLimitDisabled: sec.RateLimitDisabled,
	}
}

// CORS returns the chi-compatible CORS middleware.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit returns the default per-IP limiter from the security
// configuration.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	return m.limiter(m.rateLimitRequests, m.rateLimitWindow)
}

// RateLimitLogin returns the strict limiter for credential endpoints.
func (m *ChiMiddleware) RateLimitLogin() func(http.Handler) http.Handler {
	return m.limiter(loginRateLimitRequests, loginRateLimitWindow)
}

func (m *ChiMiddleware) limiter(requests int, window time.Duration) func(http.Handler) http.Handler {
	if m.rateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).TooManyRequests("Rate limit exceeded")
		}),
	)
}

// CompatTokenAuth validates the {token} path segment against the
// ApiToken table. Unknown, disabled and expired tokens all fail the
// same way so probes learn nothing about which tokens exist.
func (h *Handler) CompatTokenAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if _, err := h.db.ValidateApiToken(r.Context(), token); err != nil {
			metrics.RecordTokenValidation(false)
			if errors.Is(err, database.ErrTokenInvalid) {
				writeDandanJSON(w, http.StatusForbidden,
					models.DandanFailure(http.StatusForbidden, "invalid api token"))
				return
			}
			logging.CtxErr(r.Context(), err).Msg("Api token validation failed")
			writeDandanJSON(w, http.StatusInternalServerError,
				models.DandanFailure(http.StatusInternalServerError, "token validation failed"))
			return
		}
		metrics.RecordTokenValidation(true)
		next(w, r)
	}
}

// uaFilterRefreshInterval bounds how stale the in-memory UA snapshot
// may get. The rule list in the store stays authoritative.
const uaFilterRefreshInterval = 30 * time.Second

type uaRuleStore interface {
	ListUARules(ctx context.Context) ([]models.UARule, error)
	GetConfigValueDefault(ctx context.Context, key, def string) (string, error)
}

// UAFilter applies the User-Agent prefix rules to the compat surface.
type UAFilter struct {
	store uaRuleStore

	mu       sync.Mutex
	mode     models.UAFilterMode
	prefixes []string
	fetched  time.Time
}

// NewUAFilter creates a filter reading rules and mode from the store.
func NewUAFilter(store uaRuleStore) *UAFilter {
	return &UAFilter{store: store, mode: models.UAFilterOff}
}

// snapshot returns the current mode and prefix list, refreshing from
// the store when the cached copy is older than the refresh interval.
// Store failures keep the previous snapshot.
func (f *UAFilter) snapshot(ctx context.Context) (models.UAFilterMode, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.fetched) < uaFilterRefreshInterval {
		return f.mode, f.prefixes
	}

	mode, err := f.store.GetConfigValueDefault(ctx, database.ConfigKeyUAFilterMode, string(models.UAFilterOff))
	if err != nil {
		logging.CtxErr(ctx, err).Msg("UA filter mode read failed, keeping previous snapshot")
		return f.mode, f.prefixes
	}
	rules, err := f.store.ListUARules(ctx)
	if err != nil {
		logging.CtxErr(ctx, err).Msg("UA rule list read failed, keeping previous snapshot")
		return f.mode, f.prefixes
	}

	prefixes := make([]string, 0, len(rules))
	for _, rule := range rules {
		prefixes = append(prefixes, rule.Prefix)
	}

	switch models.UAFilterMode(mode) {
	case models.UAFilterAllow, models.UAFilterDeny, models.UAFilterOff:
		f.mode = models.UAFilterMode(mode)
	default:
		f.mode = models.UAFilterOff
	}
	f.prefixes = prefixes
	f.fetched = time.Now()
	return f.mode, f.prefixes
}

// Middleware rejects requests per the configured mode: in allow mode
// the User-Agent must match a rule prefix, in deny mode it must not.
func (f *UAFilter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, prefixes := f.snapshot(r.Context())
		if mode == models.UAFilterOff {
			next(w, r)
			return
		}

		ua := r.Header.Get("User-Agent")
		matched := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(ua, prefix) {
				matched = true
				break
			}
		}

		if (mode == models.UAFilterAllow && !matched) || (mode == models.UAFilterDeny && matched) {
			logging.Ctx(r.Context()).Debug().
				Str("user_agent", ua).
				Str("mode", string(mode)).
				Msg("Rejected client by UA rule")
			writeDandanJSON(w, http.StatusForbidden,
				models.DandanFailure(http.StatusForbidden, "client not allowed"))
			return
		}
		next(w, r)
	}
}
