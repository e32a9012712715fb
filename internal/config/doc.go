// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package config provides application configuration management.
//
// Configuration is loaded through Koanf v2 in three layers, each
// overriding the previous one:
//
//  1. Built-in defaults (defaultConfig)
//  2. An optional YAML config file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables (explicit mapping, see envTransformFunc)
//
// The resulting Config is validated once and then treated as immutable.
// Settings that operators may change while the server runs (provider
// cookies, the TMDB key, UA filter rules) are seeded from this package
// but live in the database config KV afterwards; the KV value wins.
//
// Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
