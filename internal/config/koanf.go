// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are the locations searched for a config file, in
// order. The CONFIG_PATH environment variable overrides the search.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/danmuhive/config.yaml",
	"/etc/danmuhive/config.yml",
}

// defaultConfig returns the built-in defaults. Every optional setting
// has a value here so a bare environment still boots.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        7768,
			Timeout:     60 * time.Second,
			Environment: "production",
		},
		Database: DatabaseConfig{
			Path:                   "data/danmuhive.db",
			MaxMemory:              "512MB",
			Threads:                0,
			PreserveInsertionOrder: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			SessionTimeout:  24 * time.Hour,
			AdminUsername:   "admin",
			AdminPassword:   "",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{},
			TrustedProxies:  []string{},
		},
		Providers: ProvidersConfig{
			RequestTimeout: 20 * time.Second,
			Bilibili:       ProviderConfig{Enabled: true},
			Tencent:        ProviderConfig{Enabled: true},
			Iqiyi:          ProviderConfig{Enabled: true},
			Youku:          ProviderConfig{Enabled: true},
			Mgtv:           ProviderConfig{Enabled: true},
			Gamer:          ProviderConfig{Enabled: true},
			Douban:         ProviderConfig{Enabled: false},
		},
		Metadata: MetadataConfig{
			TmdbAPIKey:     "",
			RequestTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Timezone: "Asia/Shanghai",
		},
		Webhook: WebhookConfig{
			APIKey: "",
		},
		Cache: CacheConfig{
			SearchTTL:     30 * time.Minute,
			EpisodesTTL:   30 * time.Minute,
			BaseInfoTTL:   60 * time.Minute,
			SweepInterval: 10 * time.Minute,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with proper
// locale-independent key transformation.
//
// Loading order (later layers override earlier ones):
//  1. Struct defaults
//  2. YAML config file (optional)
//  3. Environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from the struct literal.
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional YAML file.
	if configFile := findConfigFile(); configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
		}
	}

	// Layer 3: environment variables.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	processSliceFields(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransformFunc maps environment variable names to koanf paths using
// an explicit table. Unmapped variables return "" and are ignored, so
// unrelated environment noise cannot reach the config tree.
//
// The mapping is explicit rather than mechanical (no strings.Replace of
// underscores) because config keys themselves contain underscores:
// JWT_SECRET must become security.jwt_secret, not security.jwt.secret.
func envTransformFunc(s string) string {
	key := strings.ToLower(s)

	mappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Database
		"duckdb_path":                     "database.path",
		"duckdb_max_memory":               "database.max_memory",
		"duckdb_threads":                  "database.threads",
		"duckdb_preserve_insertion_order": "database.preserve_insertion_order",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Security
		"jwt_secret":          "security.jwt_secret",
		"session_timeout":     "security.session_timeout",
		"admin_username":      "security.admin_username",
		"admin_password":      "security.admin_password",
		"rate_limit_reqs":     "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"rate_limit_disabled": "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",
		"trusted_proxies":     "security.trusted_proxies",

		// Providers
		"provider_request_timeout": "providers.request_timeout",
		"bilibili_enabled":         "providers.bilibili.enabled",
		"bilibili_cookie":          "providers.bilibili.cookie",
		"tencent_enabled":          "providers.tencent.enabled",
		"tencent_cookie":           "providers.tencent.cookie",
		"iqiyi_enabled":            "providers.iqiyi.enabled",
		"youku_enabled":            "providers.youku.enabled",
		"mgtv_enabled":             "providers.mgtv.enabled",
		"gamer_enabled":            "providers.gamer.enabled",
		"gamer_cookie":             "providers.gamer.cookie",
		"douban_enabled":           "providers.douban.enabled",
		"douban_cookie":            "providers.douban.cookie",

		// Metadata
		"tmdb_api_key":             "metadata.tmdb_api_key",
		"metadata_request_timeout": "metadata.request_timeout",

		// Scheduler
		"scheduler_enabled":  "scheduler.enabled",
		"scheduler_timezone": "scheduler.timezone",

		// Webhook
		"webhook_api_key": "webhook.api_key",

		// Cache
		"cache_search_ttl":     "cache.search_ttl",
		"cache_episodes_ttl":   "cache.episodes_ttl",
		"cache_base_info_ttl":  "cache.base_info_ttl",
		"cache_sweep_interval": "cache.sweep_interval",
	}

	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}

// processSliceFields converts comma-separated string values into string
// slices for fields declared as []string. Environment variables arrive
// as plain strings; YAML may already provide real lists, which pass
// through untouched.
func processSliceFields(k *koanf.Koanf) {
	sliceFields := []string{
		"security.cors_origins",
		"security.trusted_proxies",
	}

	for _, field := range sliceFields {
		if !k.Exists(field) {
			continue
		}
		raw := k.Get(field)
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		_ = k.Set(field, parts)
	}
}

// findConfigFile returns the first config file that exists, or "" when
// none is present (defaults plus environment are sufficient to run).
func findConfigFile() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
