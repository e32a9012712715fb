// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/kotodama-lab/danmuhive/internal/auth"
	"github.com/kotodama-lab/danmuhive/internal/cache"
	"github.com/kotodama-lab/danmuhive/internal/config"
	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/importer"
	"github.com/kotodama-lab/danmuhive/internal/matcher"
	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/provider"
	ws "github.com/kotodama-lab/danmuhive/internal/websocket"
)

// maxRequestBody caps decoded request bodies. Batch match requests are
// the largest legitimate payload and stay far below this.
const maxRequestBody = 1 << 20

// Providers is the slice of the adapter registry the handlers use.
type Providers interface {
	SearchAll(ctx context.Context, keyword string, hint *models.EpisodeHint) []models.ProviderSearchInfo
	Get(name string) (provider.Adapter, bool)
	Names() []string
	Settings() []models.ScraperSetting
	UpdateSettings(ctx context.Context, rows []models.ScraperSetting) error
}

// Imports queues background import and refresh tasks.
type Imports interface {
	QueueImport(ctx context.Context, req importer.Request) (string, error)
	QueueSourceRefresh(ctx context.Context, sourceID int64) (string, error)
	QueueEpisodeRefresh(ctx context.Context, episodeID int64) (string, error)
}

// Dispatcher resolves webhook items and file names against the library.
type Dispatcher interface {
	Dispatch(ctx context.Context, item models.WebhookItem) (string, error)
	MatchFile(ctx context.Context, fileName string) (matcher.ParsedFile, []matcher.FileMatch, error)
}

// Jobs is the scheduled-task surface of the scheduler.
type Jobs interface {
	Jobs() []models.ScheduledTask
	Upsert(ctx context.Context, row *models.ScheduledTask) error
	Delete(ctx context.Context, id string) error
	RunNow(id string) error
}

// Handler holds the dependencies of every HTTP handler.
type Handler struct {
	db     *database.DB
	config *config.Config
	jwt    *auth.JWTManager
	hub    *ws.Hub
	cache  *cache.Cache

	providers  Providers
	imports    Imports
	dispatcher Dispatcher
	jobs       Jobs
}

// NewHandler wires the handler dependencies.
func NewHandler(
	db *database.DB,
	cfg *config.Config,
	jwt *auth.JWTManager,
	hub *ws.Hub,
	responseCache *cache.Cache,
	providers Providers,
	imports Imports,
	dispatcher Dispatcher,
	jobs Jobs,
) *Handler {
	return &Handler{
		db:         db,
		config:     cfg,
		jwt:        jwt,
		hub:        hub,
		cache:      responseCache,
		providers:  providers,
		imports:    imports,
		dispatcher: dispatcher,
		jobs:       jobs,
	}
}

// decodeJSON decodes a request body into dst with a size cap.
func decodeJSON(r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBody)
	defer io.Copy(io.Discard, body) //nolint:errcheck // drain for keep-alive

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return err
	}
	return nil
}

// int64Param parses a chi URL parameter as a decimal int64.
func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// storeError maps store failures onto the admin envelope.
func storeError(rw *ResponseWriter, err error) {
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("Resource not found")
		return
	}
	rw.DatabaseError(err)
}
