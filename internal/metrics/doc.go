// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package instruments the danmaku pipeline end to end using the Prometheus
client library. Collectors are package-level and registered via promauto at
init time; callers record through the typed Record* helpers rather than
touching collectors directly.

# Overview

The package provides metrics for:
  - Provider HTTP traffic, search result counts, and session refreshes
  - Comment and episode import throughput
  - Task engine queue depth and terminal statuses
  - Scheduled job runs and durations
  - Database query performance (DuckDB)
  - API endpoint latency, token validation, and UA-filter rejections
  - Cache hit/miss rates and WebSocket connections
  - Circuit breaker state per provider

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:7768/metrics

# Usage

	start := time.Now()
	resp, err := client.Do(req)
	metrics.RecordProviderRequest("bilibili", time.Since(start), err)

Helpers never return errors and are safe for concurrent use.
*/
package metrics
