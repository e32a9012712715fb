// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kotodama-lab/danmuhive/internal/auth"
	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/validation"
)

// writeValidationError renders a validation failure on the admin
// envelope with per-field details when available.
func writeValidationError(rw *ResponseWriter, err error) {
	var reqErr *validation.RequestValidationError
	if errors.As(err, &reqErr) {
		rw.ValidationError("Request validation failed", reqErr.Errors)
		return
	}
	rw.BadRequest("Invalid request")
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login answers POST /api/admin/login with a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeValidationError(rw, err)
		return
	}

	user, err := auth.CheckCredentials(r.Context(), h.db, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			logging.Ctx(r.Context()).Warn().Str("username", req.Username).Msg("Failed admin login")
			rw.Unauthorized("Invalid username or password")
			return
		}
		rw.DatabaseError(err)
		return
	}

	token, err := h.jwt.GenerateToken(user.Username)
	if err != nil {
		logging.CtxErr(r.Context(), err).Msg("Token generation failed")
		rw.InternalError("Failed to issue session token")
		return
	}

	logging.Ctx(r.Context()).Info().Str("username", user.Username).Msg("Admin login")
	rw.Success(loginResponse{
		Token:     token,
		Username:  user.Username,
		ExpiresAt: time.Now().Add(h.jwt.Timeout()),
	})
}

// ListScrapers answers GET /api/admin/scrapers with the provider
// enable/order rows.
func (h *Handler) ListScrapers(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.providers.Settings())
}

// UpdateScrapers answers PUT /api/admin/scrapers. The body is the full
// settings row list; provider caches are dropped so disabled adapters
// stop serving stale results.
func (h *Handler) UpdateScrapers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var rows []models.ScraperSetting
	if err := decodeJSON(r, &rows); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if len(rows) == 0 {
		rw.BadRequest("Settings list must not be empty")
		return
	}

	if err := h.providers.UpdateSettings(r.Context(), rows); err != nil {
		logging.CtxErr(r.Context(), err).Msg("Scraper settings update failed")
		rw.InternalError("Failed to update scraper settings")
		return
	}

	for _, row := range rows {
		if err := h.cache.DeleteProvider(r.Context(), row.ProviderName); err != nil {
			logging.CtxErr(r.Context(), err).Str("provider", row.ProviderName).Msg("Provider cache drop failed")
		}
	}
	if err := h.cache.DeleteProvider(r.Context(), searchCacheScope); err != nil {
		logging.CtxErr(r.Context(), err).Msg("Search cache drop failed")
	}

	rw.Success(h.providers.Settings())
}

type createTokenRequest struct {
	Label     string     `json:"label" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type toggleTokenRequest struct {
	Enabled bool `json:"enabled"`
}

// ListTokens answers GET /api/admin/tokens.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tokens, err := h.db.ListApiTokens(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(tokens)
}

// CreateToken answers POST /api/admin/tokens with a freshly generated
// playback token.
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req createTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeValidationError(rw, err)
		return
	}

	token := strings.ReplaceAll(uuid.New().String(), "-", "")
	created, err := h.db.CreateApiToken(r.Context(), token, req.Label, req.ExpiresAt)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("label", created.Label).Msg("Api token created")
	rw.Created(created)
}

// ToggleToken answers PUT /api/admin/tokens/{id} flipping the enabled
// flag to the requested state.
func (h *Handler) ToggleToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid token id")
		return
	}
	var req toggleTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}

	if err := h.db.SetApiTokenEnabled(r.Context(), id, req.Enabled); err != nil {
		storeError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{"id": id, "enabled": req.Enabled})
}

// DeleteToken answers DELETE /api/admin/tokens/{id}.
func (h *Handler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid token id")
		return
	}
	if err := h.db.DeleteApiToken(r.Context(), id); err != nil {
		storeError(rw, err)
		return
	}
	rw.NoContent()
}

type uaRuleRequest struct {
	Prefix string `json:"prefix" validate:"required"`
}

type uaModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=off allow deny"`
}

type uaFilterStateResponse struct {
	Mode  string          `json:"mode"`
	Rules []models.UARule `json:"rules"`
}

// UAFilterState answers GET /api/admin/ua with the mode and rule list.
func (h *Handler) UAFilterState(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	mode, err := h.db.GetConfigValueDefault(r.Context(), database.ConfigKeyUAFilterMode, string(models.UAFilterOff))
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rules, err := h.db.ListUARules(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(uaFilterStateResponse{Mode: mode, Rules: rules})
}

// AddUARule answers POST /api/admin/ua.
func (h *Handler) AddUARule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req uaRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeValidationError(rw, err)
		return
	}

	rule, err := h.db.AddUARule(r.Context(), req.Prefix)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Created(rule)
}

// DeleteUARule answers DELETE /api/admin/ua/{id}.
func (h *Handler) DeleteUARule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := int64Param(r, "id")
	if err != nil {
		rw.BadRequest("Invalid rule id")
		return
	}
	if err := h.db.DeleteUARule(r.Context(), id); err != nil {
		storeError(rw, err)
		return
	}
	rw.NoContent()
}

// SetUAFilterMode answers PUT /api/admin/ua/mode.
func (h *Handler) SetUAFilterMode(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req uaModeRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeValidationError(rw, err)
		return
	}

	if err := h.db.SetConfigValue(r.Context(), database.ConfigKeyUAFilterMode, req.Mode); err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(map[string]string{"mode": req.Mode})
}

type configValueRequest struct {
	Value string `json:"value"`
}

type configValueResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetConfigValue answers GET /api/admin/config/{key} from the runtime
// config KV.
func (h *Handler) GetConfigValue(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	key := chi.URLParam(r, "key")
	value, err := h.db.GetConfigValue(r.Context(), key)
	if err != nil {
		storeError(rw, err)
		return
	}
	rw.Success(configValueResponse{Key: key, Value: value})
}

// SetConfigValue answers PUT /api/admin/config/{key}. Runtime tunables
// such as the TMDB key and provider cookies live here.
func (h *Handler) SetConfigValue(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	key := chi.URLParam(r, "key")
	var req configValueRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}

	if err := h.db.SetConfigValue(r.Context(), key, req.Value); err != nil {
		rw.DatabaseError(err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("key", key).Msg("Config value updated")
	rw.Success(configValueResponse{Key: key, Value: req.Value})
}

// DeleteConfigValue answers DELETE /api/admin/config/{key}.
func (h *Handler) DeleteConfigValue(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.db.DeleteConfigValue(r.Context(), chi.URLParam(r, "key")); err != nil {
		storeError(rw, err)
		return
	}
	rw.NoContent()
}

type cacheStatsResponse struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CacheStats answers GET /api/admin/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	NewResponseWriter(w, r).Success(cacheStatsResponse{
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		HitRate: h.cache.HitRate(),
	})
}

// FlushCacheProvider answers DELETE /api/admin/cache/{provider},
// dropping every cached response in that scope.
func (h *Handler) FlushCacheProvider(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	provider := chi.URLParam(r, "provider")
	if provider == "" {
		rw.BadRequest("Provider is required")
		return
	}
	if err := h.cache.DeleteProvider(r.Context(), provider); err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.NoContent()
}
