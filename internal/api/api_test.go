// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

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

// DuckDB open spawns CGO threads; serializing setup keeps CI stable.
var testDBSemaphore = make(chan struct{}, 1)

const (
	testCompatToken   = "f3a9c2e14b7d48d6a0e5b19c83f2d7a4"
	testAdminUser     = "admin"
	testAdminPassword = "test-password-123"
	testWebhookKey    = "hook-secret"
)

// testEnv is one fully wired API stack over an in-memory store. The
// dispatcher defaults to a real matcher so match and webhook requests
// flow through genuine library resolution.
type testEnv struct {
	db        *database.DB
	cfg       *config.Config
	jwt       *auth.JWTManager
	mux       http.Handler
	token     string
	providers *fakeProviders
	imports   *fakeImports
	jobs      *fakeJobs
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvDispatch(t, nil)
}

func newTestEnvDispatch(t *testing.T, dispatch Dispatcher) *testEnv {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	db, err := database.New(&config.DatabaseConfig{
		Path:        ":memory:",
		MaxMemory:   "512MB",
		SkipIndexes: true,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	ctx := context.Background()
	if err := auth.EnsureAdminUser(ctx, db, testAdminUser, testAdminPassword); err != nil {
		t.Fatalf("Failed to seed admin user: %v", err)
	}
	if _, err := db.CreateApiToken(ctx, testCompatToken, "test player", nil); err != nil {
		t.Fatalf("Failed to seed api token: %v", err)
	}

	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:         "0123456789abcdef0123456789abcdef",
			SessionTimeout:    time.Hour,
			AdminUsername:     testAdminUser,
			AdminPassword:     testAdminPassword,
			RateLimitDisabled: true,
		},
		Webhook: config.WebhookConfig{APIKey: testWebhookKey},
		Cache: config.CacheConfig{
			SearchTTL:   time.Hour,
			EpisodesTTL: time.Hour,
			BaseInfoTTL: time.Hour,
		},
		Scheduler: config.SchedulerConfig{Timezone: "Asia/Shanghai"},
	}

	jwtMgr, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		t.Fatalf("Failed to create jwt manager: %v", err)
	}

	fp := &fakeProviders{names: []string{"bilibili", "tencent"}}
	fp.settings = []models.ScraperSetting{
		{ProviderName: "bilibili", Enabled: true, DisplayOrder: 1},
		{ProviderName: "tencent", Enabled: true, DisplayOrder: 2},
	}
	fi := &fakeImports{}
	fj := &fakeJobs{}
	if dispatch == nil {
		dispatch = matcher.New(db, fp, fi)
	}

	handler := NewHandler(db, cfg, jwtMgr, ws.NewHub(), cache.New(db, time.Hour), fp, fi, dispatch, fj)

	return &testEnv{
		db:        db,
		cfg:       cfg,
		jwt:       jwtMgr,
		mux:       NewRouter(handler).Setup(),
		token:     testCompatToken,
		providers: fp,
		imports:   fi,
		jobs:      fj,
	}
}

// request runs one request through the full router.
func (env *testEnv) request(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

// adminRequest runs one request with a freshly issued admin bearer.
func (env *testEnv) adminRequest(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := env.jwt.GenerateToken(testAdminUser)
	if err != nil {
		t.Fatalf("Failed to generate admin token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	return bytes.NewReader(data)
}

// decodeBody unmarshals a raw compat-surface response.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// adminEnvelope mirrors APIResponse with the data left raw so each test
// can decode it into the shape it expects.
type adminEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

// decodeAdmin unmarshals an admin envelope, decoding data into out when
// out is non-nil.
func decodeAdmin(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) adminEnvelope {
	t.Helper()
	var envelope adminEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("Failed to decode envelope %q: %v", rec.Body.String(), err)
	}
	if out != nil {
		if envelope.Data == nil {
			t.Fatalf("Envelope has no data: %q", rec.Body.String())
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("Failed to decode envelope data %q: %v", string(envelope.Data), err)
		}
	}
	return envelope
}

// seedLibrary creates a work with one source and a run of episodes.
func seedLibrary(t *testing.T, db *database.DB, title string, season, episodes int) (*models.Work, *models.Source, []models.Episode) {
	t.Helper()
	ctx := context.Background()

	work, _, err := db.GetOrCreateWork(ctx, title, models.MediaKindTVSeries, season, "")
	if err != nil {
		t.Fatalf("Failed to create work: %v", err)
	}
	src, _, err := db.LinkSource(ctx, work.ID, "bilibili", "ss"+strconv.FormatInt(work.ID, 10))
	if err != nil {
		t.Fatalf("Failed to link source: %v", err)
	}

	eps := make([]models.Episode, 0, episodes)
	for i := 1; i <= episodes; i++ {
		ep := &models.Episode{
			SourceID:          src.ID,
			Index:             i,
			Title:             fmt.Sprintf("第%d话", i),
			ProviderEpisodeID: fmt.Sprintf("ep%d-%d", src.ID, i),
		}
		if _, err := db.UpsertEpisode(ctx, ep); err != nil {
			t.Fatalf("Failed to upsert episode %d: %v", i, err)
		}
		eps = append(eps, *ep)
	}
	return work, src, eps
}

// seedComments attaches n danmaku to an episode.
func seedComments(t *testing.T, db *database.DB, episodeID int64, n int) {
	t.Helper()
	comments := make([]models.Comment, 0, n)
	for i := 0; i < n; i++ {
		comments = append(comments, models.Comment{
			CID: fmt.Sprintf("c%d-%d", episodeID, i),
			P:   fmt.Sprintf("%.2f,1,25,16777215,[bilibili]u%d", float64(i)*3.5, i),
			M:   fmt.Sprintf("弹幕 %d", i),
			T:   float64(i) * 3.5,
		})
	}
	if _, err := db.BulkInsertComments(context.Background(), episodeID, comments); err != nil {
		t.Fatalf("Failed to insert comments: %v", err)
	}
}

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

type fakeProviders struct {
	mu          sync.Mutex
	names       []string
	settings    []models.ScraperSetting
	searchHits  []models.ProviderSearchInfo
	searchCalls int
	episodes    []models.ProviderEpisodeInfo
	episodesErr error
	updated     [][]models.ScraperSetting
}

func (f *fakeProviders) SearchAll(ctx context.Context, keyword string, hint *models.EpisodeHint) []models.ProviderSearchInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	return f.searchHits
}

func (f *fakeProviders) Get(name string) (provider.Adapter, bool) {
	for _, n := range f.names {
		if n == name {
			return &fakeAdapter{name: name, parent: f}, true
		}
	}
	return nil, false
}

func (f *fakeProviders) Names() []string {
	return f.names
}

func (f *fakeProviders) Settings() []models.ScraperSetting {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeProviders) UpdateSettings(ctx context.Context, rows []models.ScraperSetting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, rows)
	return nil
}

func (f *fakeProviders) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

type fakeAdapter struct {
	name   string
	parent *fakeProviders
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Search(ctx context.Context, keyword string, hint *models.EpisodeHint) ([]models.ProviderSearchInfo, error) {
	return a.parent.searchHits, nil
}

func (a *fakeAdapter) GetEpisodes(ctx context.Context, mediaID string, targetIndex int, kind models.MediaKind) ([]models.ProviderEpisodeInfo, error) {
	a.parent.mu.Lock()
	defer a.parent.mu.Unlock()
	if a.parent.episodesErr != nil {
		return nil, a.parent.episodesErr
	}
	return a.parent.episodes, nil
}

func (a *fakeAdapter) GetComments(ctx context.Context, providerEpisodeID string, progress provider.ProgressFunc) ([]models.Comment, error) {
	return nil, nil
}

func (a *fakeAdapter) Close() {}

type fakeImports struct {
	mu               sync.Mutex
	err              error
	requests         []importer.Request
	sourceRefreshes  []int64
	episodeRefreshes []int64
}

func (f *fakeImports) QueueImport(ctx context.Context, req importer.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "task-import-1", nil
}

func (f *fakeImports) QueueSourceRefresh(ctx context.Context, sourceID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sourceRefreshes = append(f.sourceRefreshes, sourceID)
	return "task-refresh-source", nil
}

func (f *fakeImports) QueueEpisodeRefresh(ctx context.Context, episodeID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.episodeRefreshes = append(f.episodeRefreshes, episodeID)
	return "task-refresh-episode", nil
}

func (f *fakeImports) lastRequest(t *testing.T) importer.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("No import request was queued")
	}
	return f.requests[len(f.requests)-1]
}

type fakeJobs struct {
	mu        sync.Mutex
	rows      []models.ScheduledTask
	upserts   []models.ScheduledTask
	deleted   []string
	ran       []string
	upsertErr error
	deleteErr error
	runErr    error
}

func (f *fakeJobs) Jobs() []models.ScheduledTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows
}

func (f *fakeJobs) Upsert(ctx context.Context, row *models.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, *row)
	return nil
}

func (f *fakeJobs) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeJobs) RunNow(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	f.ran = append(f.ran, id)
	return nil
}

func (f *fakeJobs) lastUpsert(t *testing.T) models.ScheduledTask {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.upserts) == 0 {
		t.Fatal("No scheduled task was upserted")
	}
	return f.upserts[len(f.upserts)-1]
}

type fakeDispatcher struct {
	dispatched chan models.WebhookItem
	taskID     string
	err        error
	matches    []matcher.FileMatch
	matchErr   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, item models.WebhookItem) (string, error) {
	if f.dispatched != nil {
		f.dispatched <- item
	}
	return f.taskID, f.err
}

func (f *fakeDispatcher) MatchFile(ctx context.Context, fileName string) (matcher.ParsedFile, []matcher.FileMatch, error) {
	return matcher.ParsedFile{}, f.matches, f.matchErr
}
