// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package config

import (
	"time"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML config file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any setting
//
// Values that operators change at runtime through the admin surface
// (TMDB key, provider cookies, cache TTL overrides, UA filter mode) are
// TTL-free rows in the config KV table and take precedence over the
// static values here; this struct only seeds them.
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   LoggingConfig   `koanf:"logging"`
	Security  SecurityConfig  `koanf:"security"`
	Providers ProvidersConfig `koanf:"providers"`
	Metadata  MetadataConfig  `koanf:"metadata"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Cache     CacheConfig     `koanf:"cache"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_PORT: Listen port (default: 7768)
//   - HTTP_TIMEOUT: Read/write timeout (default: 60s)
//   - ENVIRONMENT: "development" or "production"
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings. The store is a single file; Path
// ":memory:" is supported for tests.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"` // 0 = runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`

	// SkipIndexes skips index creation. Test-only: trims setup time for
	// the many short-lived in-memory databases the test suite creates.
	SkipIndexes bool `koanf:"-"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig holds authentication and HTTP hardening settings.
//
// The admin bootstrap credentials create the first (and usually only)
// administrative account on startup. JWTSecret signs admin session
// tokens; it must be at least 32 bytes in production.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	AdminUsername     string        `koanf:"admin_username"`
	AdminPassword     string        `koanf:"admin_password"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
}

// ProviderConfig holds the per-site adapter settings shared by every
// provider: an enable flag, an optional static cookie seed and an
// optional rate-limit override. MinInterval 0 means the adapter default
// (500ms between outbound requests).
type ProviderConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Cookie      string        `koanf:"cookie"`
	MinInterval time.Duration `koanf:"min_interval"`
}

// ProvidersConfig holds adapter settings for every supported site plus
// the shared outbound HTTP timeout.
//
// Cookies configured here seed the config KV on first start; adapters
// afterwards persist refreshed cookies to the KV, which wins.
type ProvidersConfig struct {
	RequestTimeout time.Duration  `koanf:"request_timeout"`
	Bilibili       ProviderConfig `koanf:"bilibili"`
	Tencent        ProviderConfig `koanf:"tencent"`
	Iqiyi          ProviderConfig `koanf:"iqiyi"`
	Youku          ProviderConfig `koanf:"youku"`
	Mgtv           ProviderConfig `koanf:"mgtv"`
	Gamer          ProviderConfig `koanf:"gamer"`
	Douban         ProviderConfig `koanf:"douban"`
}

// MetadataConfig holds settings for the TMDB enrichment client used by
// the scheduled auto-map job. The API key may also live in the config KV
// (which wins over this value).
type MetadataConfig struct {
	TmdbAPIKey     string        `koanf:"tmdb_api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// SchedulerConfig holds cron scheduler settings. Timezone applies to all
// cron expressions; it defaults to Asia/Shanghai because the scraped
// sites and their schedules live there.
type SchedulerConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Timezone string `koanf:"timezone"`
}

// WebhookConfig holds webhook ingress settings. APIKey is the shared
// secret media servers append as ?api_key= when posting events.
type WebhookConfig struct {
	APIKey string `koanf:"api_key"`
}

// CacheConfig holds TTLs for the store-backed response caches.
type CacheConfig struct {
	SearchTTL     time.Duration `koanf:"search_ttl"`
	EpisodesTTL   time.Duration `koanf:"episodes_ttl"`
	BaseInfoTTL   time.Duration `koanf:"base_info_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// Load loads the configuration from defaults, config file and
// environment. It is the single entry point main() uses.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
