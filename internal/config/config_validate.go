// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package config

import (
	"fmt"
	"time"
)

// Validate checks the configuration for invalid or dangerous values.
// It is called by Load after all layers are merged, so every field has
// its final value.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
// Development mode relaxes the JWT secret and admin password checks so
// a local instance can boot with no configuration at all.
func (c *Config) IsProduction() bool {
	return c.Server.Environment != "development"
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("server.environment must be development or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads must be non-negative, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, fatal; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.IsProduction() {
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 characters in production (set JWT_SECRET)")
		}
		if c.Security.AdminPassword != "" {
			policy := DefaultPasswordPolicy()
			if err := policy.ValidateWithError(c.Security.AdminPassword, c.Security.AdminUsername); err != nil {
				return fmt.Errorf("security.admin_password: %w", err)
			}
		}
	}
	if c.Security.SessionTimeout <= 0 {
		return fmt.Errorf("security.session_timeout must be positive, got %s", c.Security.SessionTimeout)
	}
	if c.Security.AdminUsername == "" {
		return fmt.Errorf("security.admin_username must not be empty")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("security.rate_limit_reqs must be at least 1, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %s", c.Security.RateLimitWindow)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	if c.Providers.RequestTimeout <= 0 {
		return fmt.Errorf("providers.request_timeout must be positive, got %s", c.Providers.RequestTimeout)
	}
	for name, p := range map[string]ProviderConfig{
		"bilibili": c.Providers.Bilibili,
		"tencent":  c.Providers.Tencent,
		"iqiyi":    c.Providers.Iqiyi,
		"youku":    c.Providers.Youku,
		"mgtv":     c.Providers.Mgtv,
		"gamer":    c.Providers.Gamer,
		"douban":   c.Providers.Douban,
	} {
		if p.MinInterval < 0 {
			return fmt.Errorf("providers.%s.min_interval must be non-negative, got %s", name, p.MinInterval)
		}
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Timezone == "" {
		return fmt.Errorf("scheduler.timezone must not be empty")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q is not a valid IANA timezone: %w", c.Scheduler.Timezone, err)
	}
	return nil
}

func (c *Config) validateCache() error {
	for name, ttl := range map[string]time.Duration{
		"cache.search_ttl":     c.Cache.SearchTTL,
		"cache.episodes_ttl":   c.Cache.EpisodesTTL,
		"cache.base_info_ttl":  c.Cache.BaseInfoTTL,
		"cache.sweep_interval": c.Cache.SweepInterval,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, ttl)
		}
	}
	return nil
}
